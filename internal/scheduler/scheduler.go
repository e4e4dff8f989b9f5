// Package scheduler wraps AWS EventBridge Scheduler to implement C6: named
// one-shot jobs with a future ISO-8601 fire-time and a JSON payload,
// targeting the revoker entrypoint.
//
// The external interface matches §6 literally ("Create/list/get/delete
// one-shot jobs with ISO-8601 fire-time and JSON payload"). The sibling
// JIT-access reference uses Step Functions for the analogous wait-then-
// revoke step; EventBridge Scheduler is the more direct fit for a job that
// fires exactly once and disappears.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"

	"github.com/fivexl/sso-elevator/internal/model"
)

// Client wraps the EventBridge Scheduler API for a single schedule group.
type Client struct {
	api         *scheduler.Client
	groupName   string
	targetArn   string
	roleArn     string
}

// New constructs a Client. targetArn/roleArn identify the revoker
// entrypoint (a Lambda, typically) that EventBridge Scheduler invokes.
func New(api *scheduler.Client, groupName, targetArn, roleArn string) *Client {
	return &Client{api: api, groupName: groupName, targetArn: targetArn, roleArn: roleArn}
}

// RevocationPayload is the JSON body carried by a scheduled revocation
// (§3 ScheduledRevocation).
type RevocationPayload struct {
	Assignment     *model.AssignmentIdentity `json:"assignment,omitempty"`
	Membership     *model.MembershipIdentity `json:"membership,omitempty"`
	RequestID      string                    `json:"request_id"`
	RequesterEmail string                    `json:"requester_email"`
	ApproverEmail  string                    `json:"approver_email,omitempty"`
	Reason         string                    `json:"reason"`
}

// Name computes the deterministic schedule name of §9: a hash of the
// assignment/membership identity and the request id, truncated to
// EventBridge Scheduler's 64-character name limit.
func Name(identityKey, requestID string) string {
	sum := sha256.Sum256([]byte(identityKey + "|" + requestID))
	full := "ssoe-" + hex.EncodeToString(sum[:])
	if len(full) > 64 {
		full = full[:64]
	}
	return full
}

// AssignmentKey builds the identity key for an account assignment.
func AssignmentKey(a model.AssignmentIdentity) string {
	return strings.Join([]string{"account", a.PrincipalID, a.AccountID, a.PermissionSetArn}, "/")
}

// MembershipKey builds the identity key for a group membership.
func MembershipKey(m model.MembershipIdentity) string {
	return strings.Join([]string{"group", m.GroupID, m.PrincipalID}, "/")
}

// CreateOneShot creates a one-shot schedule firing at fireAt, carrying
// payload. Per §5 ("duplicate create == success"), an already-existing
// schedule of the same name is treated as success rather than an error.
func (c *Client) CreateOneShot(ctx context.Context, name string, fireAt time.Time, payload RevocationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal schedule payload: %w", err)
	}

	expression := fmt.Sprintf("at(%s)", fireAt.UTC().Format("2006-01-02T15:04:05"))
	input := &scheduler.CreateScheduleInput{
		Name:               &name,
		GroupName:          &c.groupName,
		ScheduleExpression: &expression,
		FlexibleTimeWindow: &types.FlexibleTimeWindow{Mode: types.FlexibleTimeWindowModeOff},
		Target: &types.Target{
			Arn:     &c.targetArn,
			RoleArn: &c.roleArn,
			Input:   aws.String(string(body)),
		},
		ActionAfterCompletion: types.ActionAfterCompletionDelete,
	}

	_, err = c.api.CreateSchedule(ctx, input)
	if err != nil {
		if isConflict(err) {
			return nil
		}
		return fmt.Errorf("CreateSchedule(%s): %w", name, err)
	}
	return nil
}

// Get fetches a schedule by name. Returns (false, nil, nil) if it does not
// exist (used by the reconciler's Coverage check, §8.6).
func (c *Client) Get(ctx context.Context, name string) (bool, *RevocationPayload, error) {
	out, err := c.api.GetSchedule(ctx, &scheduler.GetScheduleInput{Name: &name, GroupName: &c.groupName})
	if err != nil {
		if isNotFound(err) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("GetSchedule(%s): %w", name, err)
	}
	if out.Target == nil || out.Target.Input == nil {
		return true, nil, nil
	}
	var payload RevocationPayload
	if err := json.Unmarshal([]byte(*out.Target.Input), &payload); err != nil {
		return true, nil, fmt.Errorf("unmarshal schedule payload for %s: %w", name, err)
	}
	return true, &payload, nil
}

// List enumerates every schedule in the group, materialized (§4.3 contract
// extended to the scheduler: downstream reconciliation filters/diffs the
// full set).
func (c *Client) List(ctx context.Context) ([]string, error) {
	var names []string
	var nextToken *string
	for {
		out, err := c.api.ListSchedules(ctx, &scheduler.ListSchedulesInput{
			GroupName: &c.groupName,
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("ListSchedules: %w", err)
		}
		for _, s := range out.Schedules {
			names = append(names, aws.ToString(s.Name))
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return names, nil
}

// Delete cancels a schedule before it fires. Not-found is success (§4.5
// "best-effort delete the matching ScheduledRevocation by name").
func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.api.DeleteSchedule(ctx, &scheduler.DeleteScheduleInput{Name: &name, GroupName: &c.groupName})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("DeleteSchedule(%s): %w", name, err)
	}
	return nil
}

// RenotifyPayload is the JSON body carried by a scheduled approver
// reminder (§4.7's renotification cadence). It targets a distinct Lambda
// (the renotifier entrypoint) from the revocation schedule, and carries
// enough of the original request to compose and re-send the reminder
// without a request database, mirroring chatinbound.DecisionEvent.
type RenotifyPayload struct {
	RequestID              string   `json:"request_id"`
	RequesterEmail         string   `json:"requester_email"`
	Resource               string   `json:"resource"`
	Approvers              []string `json:"approvers"`
	SubmittedAtUnix        int64    `json:"submitted_at_unix"`
	RenotifyIndex          int      `json:"renotify_index"`
	SecondaryDomainWasUsed bool     `json:"secondary_domain_was_used"`
}

// RenotifyName computes the deterministic name of the one active
// renotification schedule for a request (§4.7: cancel-then-recreate, not
// an accumulating chain of schedules).
func RenotifyName(requestID string) string {
	sum := sha256.Sum256([]byte("renotify|" + requestID))
	full := "ssoe-renotify-" + hex.EncodeToString(sum[:])
	if len(full) > 64 {
		full = full[:64]
	}
	return full
}

// CreateRenotifyOneShot schedules the next approver reminder, targeting
// targetArn/roleArn (the renotifier entrypoint). An existing schedule of
// the same name is replaced, since only one reminder should ever be
// in-flight per request.
func (c *Client) CreateRenotifyOneShot(ctx context.Context, name string, fireAt time.Time, targetArn, roleArn string, payload RenotifyPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal renotify payload: %w", err)
	}
	expression := fmt.Sprintf("at(%s)", fireAt.UTC().Format("2006-01-02T15:04:05"))
	input := &scheduler.CreateScheduleInput{
		Name:               &name,
		GroupName:          &c.groupName,
		ScheduleExpression: &expression,
		FlexibleTimeWindow: &types.FlexibleTimeWindow{Mode: types.FlexibleTimeWindowModeOff},
		Target: &types.Target{
			Arn:     &targetArn,
			RoleArn: &roleArn,
			Input:   aws.String(string(body)),
		},
		ActionAfterCompletion: types.ActionAfterCompletionDelete,
	}

	_, err = c.api.CreateSchedule(ctx, input)
	if err != nil {
		if !isConflict(err) {
			return fmt.Errorf("CreateRenotifyOneShot(%s): %w", name, err)
		}
		if delErr := c.Delete(ctx, name); delErr != nil {
			return fmt.Errorf("CreateRenotifyOneShot(%s): replace: %w", name, delErr)
		}
		if _, err = c.api.CreateSchedule(ctx, input); err != nil {
			return fmt.Errorf("CreateRenotifyOneShot(%s): %w", name, err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "ResourceNotFoundException")
}

func isConflict(err error) bool {
	return strings.Contains(err.Error(), "ConflictException")
}
