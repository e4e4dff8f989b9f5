// Package directory is the typed façade over AWS IAM Identity Center (C3):
// accounts, permission sets, users, groups, memberships, and account
// assignments, plus the creation/deletion status polls. Polling runs at a
// fixed interval for a bounded number of attempts; the interval does not
// grow between attempts.
//
// Grounded on the sibling JIT-access reference's internal/identity package:
// same retry/poll shape, same idempotent-delete-on-not-found semantics.
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/identitystore"
	iddoc "github.com/aws/aws-sdk-go-v2/service/identitystore/document"
	idtypes "github.com/aws/aws-sdk-go-v2/service/identitystore/types"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"
)

// Client wraps the SSO Admin and Identity Store APIs for a single SSO
// instance.
type Client struct {
	ssoAdmin        *ssoadmin.Client
	identityStore   *identitystore.Client
	organizations   *organizations.Client
	instanceARN     string
	identityStoreID string

	// pollInterval/maxPollAttempts bound the creation/deletion polling
	// loops (§5 "Every external call carries a deadline").
	pollInterval    time.Duration
	maxPollAttempts int
}

// New constructs a Client for the given SSO instance.
func New(ssoAdmin *ssoadmin.Client, identityStore *identitystore.Client, orgs *organizations.Client, instanceARN, identityStoreID string) *Client {
	return &Client{
		ssoAdmin:        ssoAdmin,
		identityStore:   identityStore,
		organizations:   orgs,
		instanceARN:     instanceARN,
		identityStoreID: identityStoreID,
		pollInterval:    2 * time.Second,
		maxPollAttempts: 30,
	}
}

// ListAccounts returns every ACTIVE account in the organization,
// materialized (§4.3); accounts in any other status are skipped. Accounts
// not attached to this SSO instance are still returned; callers filter
// against the configuration.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var out []Account
	paginator := organizations.NewListAccountsPaginator(c.organizations, &organizations.ListAccountsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListAccounts: %w", err)
		}
		for _, a := range page.Accounts {
			if a.Status != orgtypes.AccountStatusActive {
				continue
			}
			out = append(out, Account{ID: aws.ToString(a.Id), Name: aws.ToString(a.Name)})
		}
	}
	return out, nil
}

// Account is a materialized AWS Organizations account known to the SSO
// instance.
type Account struct {
	ID   string
	Name string
}

// PermissionSet is a materialized SSO permission set.
type PermissionSet struct {
	Arn  string
	Name string
}

// User is a materialized Identity Store user. Attributes is populated by
// ListUsersWithAttributes (C9's ABAC source) from the fields Identity
// Store exposes per user via DescribeUser; it is empty from plain
// ListUsers.
type User struct {
	ID         string
	Email      string
	Attributes map[string]string
}

// ResolvedUser is the result of email resolution (§4.3), including whether
// a secondary fallback domain had to be used.
type ResolvedUser struct {
	User
	SecondaryDomainWasUsed bool
}

// Group is a materialized Identity Store group.
type Group struct {
	ID   string
	Name string
}

// Membership is a materialized group membership.
type Membership struct {
	MembershipID string
	GroupID      string
	UserID       string
}

// Assignment is a materialized account assignment.
type Assignment struct {
	PrincipalID      string
	PrincipalType    string // "USER" or "GROUP"
	AccountID        string
	PermissionSetArn string
}

// ListPermissionSets returns every permission set for the instance,
// materialized (not streamed) because downstream consumers filter and
// diff the full result (§4.3).
func (c *Client) ListPermissionSets(ctx context.Context) ([]PermissionSet, error) {
	var out []PermissionSet
	paginator := ssoadmin.NewListPermissionSetsPaginator(c.ssoAdmin, &ssoadmin.ListPermissionSetsInput{
		InstanceArn: &c.instanceARN,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListPermissionSets: %w", err)
		}
		for _, arn := range page.PermissionSets {
			desc, err := c.ssoAdmin.DescribePermissionSet(ctx, &ssoadmin.DescribePermissionSetInput{
				InstanceArn:      &c.instanceARN,
				PermissionSetArn: &arn,
			})
			if err != nil {
				return nil, fmt.Errorf("DescribePermissionSet(%s): %w", arn, err)
			}
			out = append(out, PermissionSet{Arn: arn, Name: aws.ToString(desc.PermissionSet.Name)})
		}
	}
	return out, nil
}

// ListAccountAssignments enumerates every assignment for the given account
// and permission set.
func (c *Client) ListAccountAssignments(ctx context.Context, accountID, permissionSetArn string) ([]Assignment, error) {
	var out []Assignment
	paginator := ssoadmin.NewListAccountAssignmentsPaginator(c.ssoAdmin, &ssoadmin.ListAccountAssignmentsInput{
		InstanceArn:      &c.instanceARN,
		AccountId:        &accountID,
		PermissionSetArn: &permissionSetArn,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListAccountAssignments: %w", err)
		}
		for _, a := range page.AccountAssignments {
			out = append(out, Assignment{
				PrincipalID:      aws.ToString(a.PrincipalId),
				PrincipalType:    string(a.PrincipalType),
				AccountID:        accountID,
				PermissionSetArn: permissionSetArn,
			})
		}
	}
	return out, nil
}

// ListGroups returns every group in the identity store.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var out []Group
	paginator := identitystore.NewListGroupsPaginator(c.identityStore, &identitystore.ListGroupsInput{
		IdentityStoreId: &c.identityStoreID,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListGroups: %w", err)
		}
		for _, g := range page.Groups {
			out = append(out, Group{ID: aws.ToString(g.GroupId), Name: aws.ToString(g.DisplayName)})
		}
	}
	return out, nil
}

// DescribeGroupByName resolves a group name to its id.
func (c *Client) DescribeGroupByName(ctx context.Context, name string) (Group, error) {
	out, err := c.identityStore.GetGroupId(ctx, &identitystore.GetGroupIdInput{
		IdentityStoreId: &c.identityStoreID,
		AlternateIdentifier: &idtypes.AlternateIdentifierMemberUniqueAttribute{
			Value: idtypes.UniqueAttribute{
				AttributePath:  aws.String("DisplayName"),
				AttributeValue: iddoc.NewLazyDocument(name),
			},
		},
	})
	if err != nil {
		return Group{}, fmt.Errorf("GetGroupId(%s): %w", name, err)
	}
	return Group{ID: aws.ToString(out.GroupId), Name: name}, nil
}

// ListUsers returns every user in the identity store with their email
// attribute, for the attribute syncer (C9).
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	paginator := identitystore.NewListUsersPaginator(c.identityStore, &identitystore.ListUsersInput{
		IdentityStoreId: &c.identityStoreID,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListUsers: %w", err)
		}
		for _, u := range page.Users {
			email := ""
			for _, e := range u.Emails {
				email = aws.ToString(e.Value)
				break
			}
			out = append(out, User{ID: aws.ToString(u.UserId), Email: email})
		}
	}
	return out, nil
}

// ListUsersWithAttributes lists every user and augments each with the
// attribute set DescribeUser exposes, for the attribute syncer (C9) to
// match against AttributeMappingRule. A per-user DescribeUser failure is
// logged into the returned error slice and does not drop the user — it
// is returned with an empty Attributes map, so it simply matches no rule.
func (c *Client) ListUsersWithAttributes(ctx context.Context) ([]User, []error) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		return nil, []error{fmt.Errorf("ListUsers: %w", err)}
	}
	var errs []error
	for i := range users {
		attrs, err := c.DescribeUserAttributes(ctx, users[i].ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("DescribeUser(%s): %w", users[i].ID, err))
			continue
		}
		users[i].Attributes = attrs
	}
	return users, errs
}

// DescribeUserAttributes fetches the handful of fields Identity Store
// exposes per user and flattens them into a string map keyed by the
// names an AttributeMappingRule's conditions reference.
func (c *Client) DescribeUserAttributes(ctx context.Context, userID string) (map[string]string, error) {
	out, err := c.identityStore.DescribeUser(ctx, &identitystore.DescribeUserInput{
		IdentityStoreId: &c.identityStoreID,
		UserId:          &userID,
	})
	if err != nil {
		return nil, fmt.Errorf("DescribeUser: %w", err)
	}
	attrs := map[string]string{
		"UserName":    aws.ToString(out.UserName),
		"DisplayName": aws.ToString(out.DisplayName),
		"Title":       aws.ToString(out.Title),
		"UserType":    aws.ToString(out.UserType),
		"Locale":      aws.ToString(out.Locale),
		"Timezone":    aws.ToString(out.Timezone),
	}
	for k, v := range attrs {
		if v == "" {
			delete(attrs, k)
		}
	}
	return attrs, nil
}

// ListGroupMemberships enumerates every member of the given group.
func (c *Client) ListGroupMemberships(ctx context.Context, groupID string) ([]Membership, error) {
	var out []Membership
	paginator := identitystore.NewListGroupMembershipsPaginator(c.identityStore, &identitystore.ListGroupMembershipsInput{
		IdentityStoreId: &c.identityStoreID,
		GroupId:         &groupID,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListGroupMemberships(%s): %w", groupID, err)
		}
		for _, m := range page.GroupMemberships {
			var userID string
			if mid, ok := m.MemberId.(*idtypes.MemberIdMemberUserId); ok {
				userID = mid.Value
			}
			out = append(out, Membership{
				MembershipID: aws.ToString(m.MembershipId),
				GroupID:      groupID,
				UserID:       userID,
			})
		}
	}
	return out, nil
}

// LookupUserByEmail resolves a requester's email to an Identity Store user,
// first by UserName, then (if secondaryFallbackDomains is non-empty) by
// substituting each alternate domain in turn (§4.3).
func (c *Client) LookupUserByEmail(ctx context.Context, email string, secondaryFallbackDomains []string) (ResolvedUser, error) {
	if u, err := c.lookupUserNameExact(ctx, email); err == nil {
		return ResolvedUser{User: u}, nil
	}

	for _, domain := range secondaryFallbackDomains {
		alt := substituteDomain(email, domain)
		if alt == email {
			continue
		}
		if u, err := c.lookupUserNameExact(ctx, alt); err == nil {
			return ResolvedUser{User: u, SecondaryDomainWasUsed: true}, nil
		}
	}

	return ResolvedUser{}, fmt.Errorf("no Identity Store user found for email %s (tried primary and %d fallback domains)", email, len(secondaryFallbackDomains))
}

func (c *Client) lookupUserNameExact(ctx context.Context, userName string) (User, error) {
	out, err := c.identityStore.ListUsers(ctx, &identitystore.ListUsersInput{
		IdentityStoreId: &c.identityStoreID,
		Filters: []idtypes.Filter{
			{AttributePath: aws.String("UserName"), AttributeValue: aws.String(userName)},
		},
	})
	if err != nil {
		return User{}, fmt.Errorf("ListUsers(%s): %w", userName, err)
	}
	if len(out.Users) == 0 {
		return User{}, fmt.Errorf("no user named %s", userName)
	}
	return User{ID: aws.ToString(out.Users[0].UserId), Email: userName}, nil
}

func substituteDomain(email, domain string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + domain
}

// CreateAccountAssignment creates a (principal, account, permission set)
// assignment and polls until terminal state (§4.3, §4.5 step 1-2).
func (c *Client) CreateAccountAssignment(ctx context.Context, principalID, principalType, accountID, permissionSetArn string) error {
	out, err := c.ssoAdmin.CreateAccountAssignment(ctx, &ssoadmin.CreateAccountAssignmentInput{
		InstanceArn:      &c.instanceARN,
		PermissionSetArn: &permissionSetArn,
		PrincipalId:      &principalID,
		PrincipalType:    ssotypes.PrincipalType(principalType),
		TargetId:         &accountID,
		TargetType:       ssotypes.TargetTypeAwsAccount,
	})
	if err != nil {
		return fmt.Errorf("CreateAccountAssignment: %w", err)
	}
	if out.AccountAssignmentCreationStatus == nil {
		return fmt.Errorf("CreateAccountAssignment returned nil status")
	}
	requestID := aws.ToString(out.AccountAssignmentCreationStatus.RequestId)
	return c.pollCreationStatus(ctx, requestID)
}

func (c *Client) pollCreationStatus(ctx context.Context, requestID string) error {
	for i := 0; i < c.maxPollAttempts; i++ {
		out, err := c.ssoAdmin.DescribeAccountAssignmentCreationStatus(ctx, &ssoadmin.DescribeAccountAssignmentCreationStatusInput{
			InstanceArn:                        &c.instanceARN,
			AccountAssignmentCreationRequestId: &requestID,
		})
		if err != nil {
			return fmt.Errorf("DescribeAccountAssignmentCreationStatus: %w", err)
		}
		switch out.AccountAssignmentCreationStatus.Status {
		case ssotypes.StatusValuesSucceeded:
			return nil
		case ssotypes.StatusValuesFailed:
			return fmt.Errorf("account assignment creation failed: %s", aws.ToString(out.AccountAssignmentCreationStatus.FailureReason))
		}
		if err := sleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("account assignment creation timed out for request %s", requestID)
}

// DeleteAccountAssignment deletes the assignment. Per §4.5/§4.9, "not
// found" on deletion is success (idempotent revoke).
func (c *Client) DeleteAccountAssignment(ctx context.Context, principalID, principalType, accountID, permissionSetArn string) error {
	out, err := c.ssoAdmin.DeleteAccountAssignment(ctx, &ssoadmin.DeleteAccountAssignmentInput{
		InstanceArn:      &c.instanceARN,
		PermissionSetArn: &permissionSetArn,
		PrincipalId:      &principalID,
		PrincipalType:    ssotypes.PrincipalType(principalType),
		TargetId:         &accountID,
		TargetType:       ssotypes.TargetTypeAwsAccount,
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("DeleteAccountAssignment: %w", err)
	}
	if out.AccountAssignmentDeletionStatus == nil {
		return fmt.Errorf("DeleteAccountAssignment returned nil status")
	}
	requestID := aws.ToString(out.AccountAssignmentDeletionStatus.RequestId)
	return c.pollDeletionStatus(ctx, requestID)
}

func (c *Client) pollDeletionStatus(ctx context.Context, requestID string) error {
	for i := 0; i < c.maxPollAttempts; i++ {
		out, err := c.ssoAdmin.DescribeAccountAssignmentDeletionStatus(ctx, &ssoadmin.DescribeAccountAssignmentDeletionStatusInput{
			InstanceArn:                        &c.instanceARN,
			AccountAssignmentDeletionRequestId: &requestID,
		})
		if err != nil {
			return fmt.Errorf("DescribeAccountAssignmentDeletionStatus: %w", err)
		}
		switch out.AccountAssignmentDeletionStatus.Status {
		case ssotypes.StatusValuesSucceeded:
			return nil
		case ssotypes.StatusValuesFailed:
			return fmt.Errorf("account assignment deletion failed: %s", aws.ToString(out.AccountAssignmentDeletionStatus.FailureReason))
		}
		if err := sleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("account assignment deletion timed out for request %s", requestID)
}

// CreateGroupMembership adds a user to a group.
func (c *Client) CreateGroupMembership(ctx context.Context, groupID, userID string) (string, error) {
	out, err := c.identityStore.CreateGroupMembership(ctx, &identitystore.CreateGroupMembershipInput{
		IdentityStoreId: &c.identityStoreID,
		GroupId:         &groupID,
		MemberId:        &idtypes.MemberIdMemberUserId{Value: userID},
	})
	if err != nil {
		if isConflict(err) {
			existing, lookupErr := c.findMembership(ctx, groupID, userID)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return "", fmt.Errorf("CreateGroupMembership: %w", err)
	}
	return aws.ToString(out.MembershipId), nil
}

func (c *Client) findMembership(ctx context.Context, groupID, userID string) (string, error) {
	memberships, err := c.ListGroupMemberships(ctx, groupID)
	if err != nil {
		return "", err
	}
	for _, m := range memberships {
		if m.UserID == userID {
			return m.MembershipID, nil
		}
	}
	return "", fmt.Errorf("membership not found")
}

// DeleteGroupMembership removes a membership. Not-found is success.
func (c *Client) DeleteGroupMembership(ctx context.Context, membershipID string) error {
	_, err := c.identityStore.DeleteGroupMembership(ctx, &identitystore.DeleteGroupMembershipInput{
		IdentityStoreId: &c.identityStoreID,
		MembershipId:    &membershipID,
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("DeleteGroupMembership: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "ResourceNotFoundException") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "ConflictException")
}

func isConflict(err error) bool {
	return strings.Contains(err.Error(), "ConflictException") || strings.Contains(err.Error(), "UniquenessConstraintViolation")
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
