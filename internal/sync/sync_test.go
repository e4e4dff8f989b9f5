package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/fivexl/sso-elevator/internal/model"
)

func rule(groupID, attr, val string) model.AttributeMappingRule {
	return model.AttributeMappingRule{GroupID: groupID, Conditions: []model.AttributeCondition{{AttributeName: attr, ExpectedValue: val}}}
}

func TestComputePlans_AddWhenMatchedAndAbsent(t *testing.T) {
	users := []DirectoryUser{{ID: "u1", Email: "a@x.com", Attributes: map[string]string{"team": "sre"}}}
	plans := ComputePlans(users, []model.AttributeMappingRule{rule("g1", "team", "sre")}, map[string]string{"sre-group": "g1"}, map[string]map[string]bool{})
	if len(plans) != 1 || len(plans[0].Add) != 1 || plans[0].Add[0].ID != "u1" {
		t.Fatalf("plans = %+v", plans)
	}
}

func TestComputePlans_WarnOrRemoveWhenCurrentButNoLongerMatched(t *testing.T) {
	users := []DirectoryUser{{ID: "u1", Email: "a@x.com", Attributes: map[string]string{"team": "other"}}}
	current := map[string]map[string]bool{"g1": {"u1": true}}
	plans := ComputePlans(users, []model.AttributeMappingRule{rule("g1", "team", "sre")}, map[string]string{"sre-group": "g1"}, current)
	if len(plans[0].WarnOrRemove) != 1 {
		t.Fatalf("plans = %+v", plans)
	}
}

func TestComputePlans_NoActionWhenMatchedAndAlreadyMember(t *testing.T) {
	users := []DirectoryUser{{ID: "u1", Attributes: map[string]string{"team": "sre"}}}
	current := map[string]map[string]bool{"g1": {"u1": true}}
	plans := ComputePlans(users, []model.AttributeMappingRule{rule("g1", "team", "sre")}, map[string]string{"sre-group": "g1"}, current)
	if len(plans[0].Add) != 0 || len(plans[0].WarnOrRemove) != 0 {
		t.Fatalf("plans = %+v", plans)
	}
}

func TestComputePlans_GroupWithNoMatchingRuleStillSweepsManualMembers(t *testing.T) {
	users := []DirectoryUser{{ID: "u1", Attributes: map[string]string{}}}
	current := map[string]map[string]bool{"g1": {"u1": true}}
	plans := ComputePlans(users, nil, map[string]string{"sre-group": "g1"}, current)
	if len(plans[0].WarnOrRemove) != 1 {
		t.Fatalf("expected manual membership with no rule to be swept: %+v", plans)
	}
}

func TestExecute_WarnPolicyNeverRemoves(t *testing.T) {
	plans := []Plan{{GroupID: "g1", GroupName: "sre-group", WarnOrRemove: []DirectoryUser{{ID: "u1", Email: "a@x.com"}}}}
	removeCalled := false
	summary := Execute(context.Background(), plans, PolicyWarn,
		func(context.Context, string, string) error { return nil },
		func(context.Context, string, string) error { removeCalled = true; return nil },
		func(context.Context, model.AuditRecord) error { return nil },
		func(model.SyncAction) {},
	)
	if removeCalled {
		t.Fatalf("warn policy must never call remove")
	}
	if summary.Warned != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestExecute_RemovePolicyRemoves(t *testing.T) {
	plans := []Plan{{GroupID: "g1", GroupName: "sre-group", WarnOrRemove: []DirectoryUser{{ID: "u1", Email: "a@x.com"}}}}
	summary := Execute(context.Background(), plans, PolicyRemove,
		func(context.Context, string, string) error { return nil },
		func(context.Context, string, string) error { return nil },
		func(context.Context, model.AuditRecord) error { return nil },
		func(model.SyncAction) {},
	)
	if summary.Removed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestExecute_AddsAlwaysPerformRegardlessOfPolicy(t *testing.T) {
	plans := []Plan{{GroupID: "g1", GroupName: "sre-group", Add: []DirectoryUser{{ID: "u1", Email: "a@x.com"}}}}
	addCalled := 0
	summary := Execute(context.Background(), plans, PolicyWarn,
		func(context.Context, string, string) error { addCalled++; return nil },
		func(context.Context, string, string) error { return nil },
		func(context.Context, model.AuditRecord) error { return nil },
		func(model.SyncAction) {},
	)
	if addCalled != 1 || summary.Added != 1 {
		t.Fatalf("addCalled=%d summary=%+v", addCalled, summary)
	}
}

func TestExecute_PerUserFailureDoesNotAbortRun(t *testing.T) {
	plans := []Plan{{GroupID: "g1", GroupName: "sre-group", Add: []DirectoryUser{{ID: "u1", Email: "fail@x.com"}, {ID: "u2", Email: "ok@x.com"}}}}
	summary := Execute(context.Background(), plans, PolicyRemove,
		func(_ context.Context, _ string, userID string) error {
			if userID == "u1" {
				return errors.New("api error")
			}
			return nil
		},
		func(context.Context, string, string) error { return nil },
		func(context.Context, model.AuditRecord) error { return nil },
		func(model.SyncAction) {},
	)
	if summary.Added != 1 || len(summary.Errors) != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}
