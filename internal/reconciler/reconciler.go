// Package reconciler implements C8: the warn/revoke sweep that catches
// user-level account assignments no live ScheduledRevocation governs
// (operational outages, missed fires, manual console changes).
//
// Grounded on the teacher's agents/critic package shape — a periodic pass
// over live state that reports or corrects drift — generalized here from
// container/dyad health to AWS account assignments.
package reconciler

import (
	"context"
	"fmt"

	"github.com/fivexl/sso-elevator/internal/config"
	"github.com/fivexl/sso-elevator/internal/directory"
	"github.com/fivexl/sso-elevator/internal/executor"
	"github.com/fivexl/sso-elevator/internal/model"
	"github.com/fivexl/sso-elevator/internal/scheduler"
)

// Directory is the subset of internal/directory.Client the reconciler
// needs, so tests can substitute a fake.
type Directory interface {
	ListAccounts(ctx context.Context) ([]directory.Account, error)
	ListAccountAssignments(ctx context.Context, accountID, permissionSetArn string) ([]directory.Assignment, error)
}

// Scheduler is the subset of internal/scheduler.Client the reconciler
// needs.
type Scheduler interface {
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) (bool, *scheduler.RevocationPayload, error)
}

// Revoker executes an account revoke, e.g. via internal/executor's
// RevokeAccountWorkflow started against a Temporal client.
type Revoker func(ctx context.Context, in executor.RevokeAccountInput) error

// Orphan is a user-level assignment with no governing schedule.
type Orphan struct {
	AccountID        string
	PermissionSetArn string
	PrincipalID      string
}

func (o Orphan) String() string {
	return fmt.Sprintf("account=%s permission_set=%s principal=%s", o.AccountID, o.PermissionSetArn, o.PrincipalID)
}

// InScope reports whether an account is within the configuration's scope
// (§4.8 "Accounts not referenced by any statement with resource_type=Account
// are still swept only if some statement covers them via ANY").
func InScope(cfg *config.Configuration, accountID string) bool {
	for _, st := range cfg.Statements {
		if st.ResourceType != "" && st.ResourceType != "Account" {
			continue
		}
		for _, r := range st.Resource {
			if r == config.Any || r == accountID {
				return true
			}
		}
	}
	return false
}

// FindOrphans implements the common algorithm of §4.8: enumerate
// user-level assignments across in-scope accounts, enumerate live
// schedules, and return the assignments no schedule governs. Per-account
// listing failures are returned in errs rather than aborting the sweep
// (§4.8 "Failures on individual assignments are logged and do not abort
// the sweep").
func FindOrphans(ctx context.Context, dir Directory, sched Scheduler, permissionSets []directory.PermissionSet, cfg *config.Configuration) (orphans []Orphan, errs []error) {
	accounts, err := dir.ListAccounts(ctx)
	if err != nil {
		return nil, []error{fmt.Errorf("list accounts: %w", err)}
	}

	scheduleNames, err := sched.List(ctx)
	if err != nil {
		return nil, []error{fmt.Errorf("list schedules: %w", err)}
	}
	governed := make(map[string]bool, len(scheduleNames))
	for _, name := range scheduleNames {
		_, payload, err := sched.Get(ctx, name)
		if err != nil || payload == nil || payload.Assignment == nil {
			continue
		}
		key := scheduler.AssignmentKey(*payload.Assignment)
		governed[key] = true
	}

	for _, acct := range accounts {
		if !InScope(cfg, acct.ID) {
			continue
		}
		for _, ps := range permissionSets {
			assignments, err := dir.ListAccountAssignments(ctx, acct.ID, ps.Arn)
			if err != nil {
				errs = append(errs, fmt.Errorf("list assignments for account %s permission set %s: %w", acct.ID, ps.Arn, err))
				continue
			}
			for _, a := range assignments {
				if a.PrincipalType != "USER" {
					continue // group-level assignments are never touched by C8
				}
				key := scheduler.AssignmentKey(model.AssignmentIdentity{
					PrincipalID: a.PrincipalID, AccountID: a.AccountID, PermissionSetArn: a.PermissionSetArn,
				})
				if !governed[key] {
					orphans = append(orphans, Orphan{AccountID: a.AccountID, PermissionSetArn: a.PermissionSetArn, PrincipalID: a.PrincipalID})
				}
			}
		}
	}
	return orphans, errs
}

// RevokeSweep invokes revoke for every orphan, logging and continuing past
// individual failures (§4.8 "Failures on individual assignments are
// logged and do not abort the sweep").
func RevokeSweep(ctx context.Context, orphans []Orphan, revoke Revoker, onError func(Orphan, error)) {
	for _, o := range orphans {
		err := revoke(ctx, executor.RevokeAccountInput{
			PrincipalID:      o.PrincipalID,
			AccountID:        o.AccountID,
			PermissionSetArn: o.PermissionSetArn,
			Manual:           false,
			Reason:           "reconciler",
		})
		if err != nil && onError != nil {
			onError(o, err)
		}
	}
}
