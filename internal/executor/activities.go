// Package executor implements C5: grant/revoke execution as Temporal
// workflows, each step a retried activity. Idempotent per §4.5 — repeated
// grants/revokes of the same identity converge to the same end state.
//
// Grounded on the teacher's agents/manager/internal/beam package: the
// Activities struct wrapping the real clients, activity name constants,
// and workflow.ExecuteActivity with an explicit ActivityOptions/RetryPolicy
// per step.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/fivexl/sso-elevator/internal/audit"
	"github.com/fivexl/sso-elevator/internal/directory"
	"github.com/fivexl/sso-elevator/internal/model"
	"github.com/fivexl/sso-elevator/internal/notify"
	"github.com/fivexl/sso-elevator/internal/scheduler"
)

// Activity name constants, registered with the Temporal worker and
// referenced by name from the workflow (matches the teacher's pattern of
// decoupling workflow replay history from Go symbol names).
const (
	ActivityCreateAccountAssignment = "CreateAccountAssignment"
	ActivityDeleteAccountAssignment = "DeleteAccountAssignment"
	ActivityCreateGroupMembership   = "CreateGroupMembership"
	ActivityDeleteGroupMembership   = "DeleteGroupMembership"
	ActivityWriteAudit              = "WriteAudit"
	ActivityScheduleRevocation      = "ScheduleRevocation"
	ActivityScheduleGroupRevocation = "ScheduleGroupRevocation"
	ActivityCancelSchedule          = "CancelSchedule"
	ActivityCancelGroupSchedule     = "CancelGroupSchedule"
	ActivityNotifyGrant             = "NotifyGrant"
	ActivityNotifyRevoke            = "NotifyRevoke"
	ActivityNotifyGroupGrant        = "NotifyGroupGrant"
	ActivityNotifyGroupRevoke       = "NotifyGroupRevoke"
)

// TaskQueue is the Temporal task queue grant/revoke workflows run on.
const TaskQueue = "sso-elevator-executor"

// Activities bundles the real clients each activity method needs. A
// Temporal worker registers every exported method as an activity.
type Activities struct {
	Directory  *directory.Client
	Scheduler  *scheduler.Client
	Audit      *audit.Writer
	Notifier   *notify.Notifier
	PostUpdateOnRevoke bool
}

// GrantAccountInput is the argument to CreateAccountAssignment and the
// audit/schedule/notify steps that follow it in GrantAccountWorkflow.
type GrantAccountInput struct {
	RequestID              string
	RequesterEmail         string
	ApproverEmail          string
	PrincipalID            string
	AccountID              string
	PermissionSetArn       string
	RoleName               string
	Reason                 string
	Duration               time.Duration
	SecondaryDomainWasUsed bool
	RequesterChatID        int64
}

func (a *Activities) CreateAccountAssignment(ctx context.Context, in GrantAccountInput) error {
	return a.Directory.CreateAccountAssignment(ctx, in.PrincipalID, "USER", in.AccountID, in.PermissionSetArn)
}

func (a *Activities) WriteAudit(ctx context.Context, record model.AuditRecord) error {
	return a.Audit.Append(ctx, record)
}

func (a *Activities) ScheduleRevocation(ctx context.Context, in GrantAccountInput) error {
	key := scheduler.AssignmentKey(model.AssignmentIdentity{
		PrincipalID: in.PrincipalID, AccountID: in.AccountID, PermissionSetArn: in.PermissionSetArn,
	})
	name := scheduler.Name(key, in.RequestID)
	return a.Scheduler.CreateOneShot(ctx, name, time.Now().Add(in.Duration), scheduler.RevocationPayload{
		Assignment: &model.AssignmentIdentity{
			PrincipalID: in.PrincipalID, AccountID: in.AccountID, PermissionSetArn: in.PermissionSetArn,
		},
		RequestID:      in.RequestID,
		RequesterEmail: in.RequesterEmail,
		ApproverEmail:  in.ApproverEmail,
		Reason:         "scheduled expiry",
	})
}

func (a *Activities) NotifyGrant(ctx context.Context, in GrantAccountInput, grantErr string) error {
	var err error
	if grantErr != "" {
		err = fmt.Errorf("%s", grantErr)
	}
	a.Notifier.GrantResult(in.RequesterEmail, in.AccountID, in.SecondaryDomainWasUsed, err, in.RequesterChatID)
	return nil
}

// RevokeAccountInput is the argument to the revoke side of the workflow.
type RevokeAccountInput struct {
	RequestID       string
	RequesterEmail  string
	PrincipalID     string
	AccountID       string
	PermissionSetArn string
	Manual          bool
	Reason          string
}

func (a *Activities) DeleteAccountAssignment(ctx context.Context, in RevokeAccountInput) error {
	return a.Directory.DeleteAccountAssignment(ctx, in.PrincipalID, "USER", in.AccountID, in.PermissionSetArn)
}

func (a *Activities) CancelSchedule(ctx context.Context, in RevokeAccountInput) error {
	key := scheduler.AssignmentKey(model.AssignmentIdentity{
		PrincipalID: in.PrincipalID, AccountID: in.AccountID, PermissionSetArn: in.PermissionSetArn,
	})
	return a.Scheduler.Delete(ctx, scheduler.Name(key, in.RequestID))
}

func (a *Activities) NotifyRevoke(ctx context.Context, in RevokeAccountInput, revokeErr string) error {
	var err error
	if revokeErr != "" {
		err = fmt.Errorf("%s", revokeErr)
	}
	a.Notifier.RevokeResult(in.RequesterEmail, in.AccountID, in.Manual, a.PostUpdateOnRevoke, err)
	return nil
}

// GrantGroupInput/RevokeGroupInput mirror the account forms for group
// membership grants (§3 "group form").
type GrantGroupInput struct {
	RequestID              string
	RequesterEmail         string
	ApproverEmail          string
	PrincipalID            string
	GroupID                string
	GroupName              string
	Reason                 string
	Duration               time.Duration
	SecondaryDomainWasUsed bool
	RequesterChatID        int64
}

func (a *Activities) CreateGroupMembership(ctx context.Context, in GrantGroupInput) error {
	_, err := a.Directory.CreateGroupMembership(ctx, in.GroupID, in.PrincipalID)
	return err
}

func (a *Activities) ScheduleGroupRevocation(ctx context.Context, in GrantGroupInput) error {
	key := scheduler.MembershipKey(model.MembershipIdentity{GroupID: in.GroupID, PrincipalID: in.PrincipalID})
	name := scheduler.Name(key, in.RequestID)
	return a.Scheduler.CreateOneShot(ctx, name, time.Now().Add(in.Duration), scheduler.RevocationPayload{
		Membership: &model.MembershipIdentity{
			GroupID: in.GroupID, PrincipalID: in.PrincipalID,
		},
		RequestID:      in.RequestID,
		RequesterEmail: in.RequesterEmail,
		ApproverEmail:  in.ApproverEmail,
		Reason:         "scheduled expiry",
	})
}

type RevokeGroupInput struct {
	RequestID      string
	RequesterEmail string
	PrincipalID    string
	GroupID        string
	GroupName      string
	MembershipID   string
	Manual         bool
	Reason         string
}

func (a *Activities) DeleteGroupMembership(ctx context.Context, in RevokeGroupInput) error {
	return a.Directory.DeleteGroupMembership(ctx, in.MembershipID)
}

func (a *Activities) CancelGroupSchedule(ctx context.Context, in RevokeGroupInput) error {
	key := scheduler.MembershipKey(model.MembershipIdentity{GroupID: in.GroupID, PrincipalID: in.PrincipalID})
	return a.Scheduler.Delete(ctx, scheduler.Name(key, in.RequestID))
}

func (a *Activities) NotifyGroupGrant(ctx context.Context, in GrantGroupInput, grantErr string) error {
	var err error
	if grantErr != "" {
		err = fmt.Errorf("%s", grantErr)
	}
	a.Notifier.GrantResult(in.RequesterEmail, in.GroupName, in.SecondaryDomainWasUsed, err, in.RequesterChatID)
	return nil
}

func (a *Activities) NotifyGroupRevoke(ctx context.Context, in RevokeGroupInput, revokeErr string) error {
	var err error
	if revokeErr != "" {
		err = fmt.Errorf("%s", revokeErr)
	}
	a.Notifier.RevokeResult(in.RequesterEmail, in.GroupName, in.Manual, a.PostUpdateOnRevoke, err)
	return nil
}
