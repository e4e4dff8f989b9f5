package reconciler

import (
	"context"
	"errors"
	"testing"

	"github.com/fivexl/sso-elevator/internal/config"
	"github.com/fivexl/sso-elevator/internal/directory"
	"github.com/fivexl/sso-elevator/internal/executor"
	"github.com/fivexl/sso-elevator/internal/model"
	"github.com/fivexl/sso-elevator/internal/scheduler"
)

func assignmentIdentity(principal, account, permSet string) model.AssignmentIdentity {
	return model.AssignmentIdentity{PrincipalID: principal, AccountID: account, PermissionSetArn: permSet}
}

func assignmentIdentityPtr(principal, account, permSet string) *model.AssignmentIdentity {
	id := assignmentIdentity(principal, account, permSet)
	return &id
}

type fakeDirectory struct {
	accounts    []directory.Account
	assignments map[string][]directory.Assignment // keyed by accountID+permSet
	listErr     map[string]error
}

func (f *fakeDirectory) ListAccounts(context.Context) ([]directory.Account, error) {
	return f.accounts, nil
}

func (f *fakeDirectory) ListAccountAssignments(_ context.Context, accountID, permissionSetArn string) ([]directory.Assignment, error) {
	key := accountID + "|" + permissionSetArn
	if err, ok := f.listErr[key]; ok {
		return nil, err
	}
	return f.assignments[key], nil
}

type fakeScheduler struct {
	names    []string
	payloads map[string]*scheduler.RevocationPayload
}

func (f *fakeScheduler) List(context.Context) ([]string, error) { return f.names, nil }

func (f *fakeScheduler) Get(_ context.Context, name string) (bool, *scheduler.RevocationPayload, error) {
	p, ok := f.payloads[name]
	return ok, p, nil
}

func cfgWithAccountAny() *config.Configuration {
	return &config.Configuration{Statements: []config.Statement{{ResourceType: "Account", Resource: []string{config.Any}}}}
}

func TestFindOrphans_UngovernedAssignmentIsOrphan(t *testing.T) {
	dir := &fakeDirectory{
		accounts: []directory.Account{{ID: "111111111111", Name: "prod"}},
		assignments: map[string][]directory.Assignment{
			"111111111111|arn:ps1": {{PrincipalID: "u-1", PrincipalType: "USER", AccountID: "111111111111", PermissionSetArn: "arn:ps1"}},
		},
	}
	sched := &fakeScheduler{}

	orphans, errs := FindOrphans(context.Background(), dir, sched, []directory.PermissionSet{{Arn: "arn:ps1"}}, cfgWithAccountAny())
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(orphans) != 1 || orphans[0].PrincipalID != "u-1" {
		t.Fatalf("orphans = %+v", orphans)
	}
}

func TestFindOrphans_GovernedAssignmentIsNotOrphan(t *testing.T) {
	dir := &fakeDirectory{
		accounts: []directory.Account{{ID: "111111111111", Name: "prod"}},
		assignments: map[string][]directory.Assignment{
			"111111111111|arn:ps1": {{PrincipalID: "u-1", PrincipalType: "USER", AccountID: "111111111111", PermissionSetArn: "arn:ps1"}},
		},
	}
	ident := scheduler.AssignmentKey(assignmentIdentity("u-1", "111111111111", "arn:ps1"))
	name := scheduler.Name(ident, "req-1")
	sched := &fakeScheduler{
		names: []string{name},
		payloads: map[string]*scheduler.RevocationPayload{
			name: {Assignment: assignmentIdentityPtr("u-1", "111111111111", "arn:ps1"), RequestID: "req-1"},
		},
	}

	orphans, _ := FindOrphans(context.Background(), dir, sched, []directory.PermissionSet{{Arn: "arn:ps1"}}, cfgWithAccountAny())
	if len(orphans) != 0 {
		t.Fatalf("orphans = %+v, want none (assignment is governed)", orphans)
	}
}

func TestFindOrphans_GroupAssignmentsNeverTouched(t *testing.T) {
	dir := &fakeDirectory{
		accounts: []directory.Account{{ID: "111111111111", Name: "prod"}},
		assignments: map[string][]directory.Assignment{
			"111111111111|arn:ps1": {{PrincipalID: "g-1", PrincipalType: "GROUP", AccountID: "111111111111", PermissionSetArn: "arn:ps1"}},
		},
	}
	orphans, _ := FindOrphans(context.Background(), dir, &fakeScheduler{}, []directory.PermissionSet{{Arn: "arn:ps1"}}, cfgWithAccountAny())
	if len(orphans) != 0 {
		t.Fatalf("orphans = %+v, want group-level assignments skipped", orphans)
	}
}

func TestFindOrphans_OutOfScopeAccountSkipped(t *testing.T) {
	dir := &fakeDirectory{
		accounts: []directory.Account{{ID: "222222222222", Name: "sandbox"}},
		assignments: map[string][]directory.Assignment{
			"222222222222|arn:ps1": {{PrincipalID: "u-1", PrincipalType: "USER", AccountID: "222222222222", PermissionSetArn: "arn:ps1"}},
		},
	}
	cfg := &config.Configuration{Statements: []config.Statement{{ResourceType: "Account", Resource: []string{"111111111111"}}}}
	orphans, _ := FindOrphans(context.Background(), dir, &fakeScheduler{}, []directory.PermissionSet{{Arn: "arn:ps1"}}, cfg)
	if len(orphans) != 0 {
		t.Fatalf("orphans = %+v, want out-of-scope account skipped", orphans)
	}
}

func TestFindOrphans_PerAccountFailureDoesNotAbortSweep(t *testing.T) {
	dir := &fakeDirectory{
		accounts: []directory.Account{{ID: "111111111111"}, {ID: "222222222222"}},
		assignments: map[string][]directory.Assignment{
			"222222222222|arn:ps1": {{PrincipalID: "u-2", PrincipalType: "USER", AccountID: "222222222222", PermissionSetArn: "arn:ps1"}},
		},
		listErr: map[string]error{"111111111111|arn:ps1": errors.New("throttled")},
	}
	orphans, errs := FindOrphans(context.Background(), dir, &fakeScheduler{}, []directory.PermissionSet{{Arn: "arn:ps1"}}, cfgWithAccountAny())
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want 1", errs)
	}
	if len(orphans) != 1 || orphans[0].PrincipalID != "u-2" {
		t.Fatalf("orphans = %+v, want the second account's orphan still found", orphans)
	}
}

func TestRevokeSweep_ContinuesPastFailures(t *testing.T) {
	orphans := []Orphan{{AccountID: "1", PrincipalID: "u-1", PermissionSetArn: "ps"}, {AccountID: "2", PrincipalID: "u-2", PermissionSetArn: "ps"}}
	var revoked []string
	var failed []Orphan
	revoke := func(_ context.Context, in executor.RevokeAccountInput) error {
		if in.AccountID == "1" {
			return errors.New("boom")
		}
		revoked = append(revoked, in.AccountID)
		return nil
	}
	RevokeSweep(context.Background(), orphans, revoke, func(o Orphan, err error) { failed = append(failed, o) })
	if len(revoked) != 1 || revoked[0] != "2" {
		t.Fatalf("revoked = %v", revoked)
	}
	if len(failed) != 1 || failed[0].AccountID != "1" {
		t.Fatalf("failed = %v", failed)
	}
}
