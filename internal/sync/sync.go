// Package sync implements C9: the attribute-based group membership syncer.
// Managed groups are kept in sync with AttributeMappingRule matches;
// manual out-of-band memberships in a managed group are warned about or
// removed depending on policy.
//
// Grounded on the teacher's agents/critic reconciliation-pass shape (scan
// desired vs. current, compute add/remove sets, execute with per-item
// failure isolation), generalized from container state to group
// membership.
package sync

import (
	"context"
	"fmt"

	"github.com/fivexl/sso-elevator/internal/model"
)

// Policy is the disposition for a manually-added membership the rules no
// longer justify (§4.9).
type Policy string

const (
	PolicyWarn   Policy = "warn"
	PolicyRemove Policy = "remove"
)

// DirectoryUser is the subset of a directory user the syncer needs.
type DirectoryUser struct {
	ID         string
	Email      string
	Attributes map[string]string
}

// Plan is the computed set of actions for one managed group (§4.9 steps
// 3a-3c), before execution.
type Plan struct {
	GroupID   string
	GroupName string
	Add       []DirectoryUser
	WarnOrRemove []DirectoryUser
}

// ComputePlans implements §4.9 steps 1-3: for each managed group, the
// users to add and the users whose current membership no rule justifies.
// managedGroupIDs maps group name -> id (already resolved, per step 1);
// currentMembers maps group id -> set of member user ids.
func ComputePlans(users []DirectoryUser, rules []model.AttributeMappingRule, managedGroupIDs map[string]string, currentMembers map[string]map[string]bool) []Plan {
	// desired[userID] = set of group ids the user's attributes currently
	// justify membership in.
	desired := make(map[string]map[string]bool, len(users))
	for _, u := range users {
		set := make(map[string]bool)
		for _, rule := range rules {
			if rule.Matches(u.Attributes) {
				set[rule.GroupID] = true
			}
		}
		desired[u.ID] = set
	}

	var plans []Plan
	for name, groupID := range managedGroupIDs {
		plan := Plan{GroupID: groupID, GroupName: name}
		current := currentMembers[groupID]

		for _, u := range users {
			memberNow := current[u.ID]
			shouldBeMember := desired[u.ID][groupID]
			switch {
			case shouldBeMember && !memberNow:
				plan.Add = append(plan.Add, u)
			case memberNow && !shouldBeMember:
				plan.WarnOrRemove = append(plan.WarnOrRemove, u)
			}
		}
		plans = append(plans, plan)
	}
	return plans
}

// AddMembership adds a user to a group (the "adds" branch of §4.9 step 4).
type AddMembership func(ctx context.Context, groupID, userID string) error

// RemoveMembership removes a user from a group (the "remove" branch).
type RemoveMembership func(ctx context.Context, groupID, userID string) error

// WriteAudit records a sync event.
type WriteAudit func(ctx context.Context, record model.AuditRecord) error

// Notify reports a single sync action (add/remove/warn) to C11. The
// closing summary is not passed through it; Execute returns it.
type Notify func(action model.SyncAction)

// Summary tallies the counts reported at the end of a run (§4.9 "Failure
// policy ... summary notification reports counts and first-N errors").
type Summary struct {
	Added, Removed, Warned int
	Errors                 []string
}

const maxSummaryErrors = 10

// Execute runs §4.9 step 4 over every plan: adds always perform; warn-or-
// remove follows policy. Per-user failures are collected into the
// Summary's Errors and do not abort the run.
func Execute(ctx context.Context, plans []Plan, policy Policy, add AddMembership, remove RemoveMembership, writeAudit WriteAudit, notify Notify) Summary {
	var s Summary
	recordError := func(format string, args ...any) {
		if len(s.Errors) < maxSummaryErrors {
			s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
		}
	}

	for _, plan := range plans {
		for _, u := range plan.Add {
			if err := add(ctx, plan.GroupID, u.ID); err != nil {
				recordError("add %s to %s: %v", u.Email, plan.GroupName, err)
				continue
			}
			s.Added++
			_ = writeAudit(ctx, model.AuditRecord{
				AuditEntryType: model.AuditEntrySyncAdd,
				OperationType:  model.OperationGrant,
				GroupID:        plan.GroupID,
				GroupName:      plan.GroupName,
				SSOUserEmail:   u.Email,
			})
			notify(model.SyncAction{Kind: model.SyncAdd, UserID: u.ID, UserEmail: u.Email, GroupID: plan.GroupID, GroupName: plan.GroupName, MatchedAttributes: u.Attributes})
		}

		for _, u := range plan.WarnOrRemove {
			if policy == PolicyWarn {
				s.Warned++
				_ = writeAudit(ctx, model.AuditRecord{
					AuditEntryType: model.AuditEntryManualDetected,
					OperationType:  model.OperationDetect,
					GroupID:        plan.GroupID,
					GroupName:      plan.GroupName,
					SSOUserEmail:   u.Email,
				})
				notify(model.SyncAction{Kind: model.SyncWarn, UserID: u.ID, UserEmail: u.Email, GroupID: plan.GroupID, GroupName: plan.GroupName})
				continue
			}
			if err := remove(ctx, plan.GroupID, u.ID); err != nil {
				recordError("remove %s from %s: %v", u.Email, plan.GroupName, err)
				continue
			}
			s.Removed++
			_ = writeAudit(ctx, model.AuditRecord{
				AuditEntryType: model.AuditEntrySyncRemove,
				OperationType:  model.OperationRevoke,
				GroupID:        plan.GroupID,
				GroupName:      plan.GroupName,
				SSOUserEmail:   u.Email,
			})
			notify(model.SyncAction{Kind: model.SyncRemove, UserID: u.ID, UserEmail: u.Email, GroupID: plan.GroupID, GroupName: plan.GroupName})
		}
	}
	return s
}
