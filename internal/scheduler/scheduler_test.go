package scheduler

import (
	"strings"
	"testing"

	"github.com/fivexl/sso-elevator/internal/model"
)

func TestName_DeterministicAndBounded(t *testing.T) {
	key := AssignmentKey(model.AssignmentIdentity{PrincipalID: "u-1", AccountID: "111111111111", PermissionSetArn: "arn:aws:sso:::permissionSet/ssoins-1/ps-1"})
	a := Name(key, "req-1")
	b := Name(key, "req-1")
	if a != b {
		t.Fatalf("Name is not deterministic: %s != %s", a, b)
	}
	if len(a) > 64 {
		t.Fatalf("Name exceeds scheduler's 64-char limit: %d", len(a))
	}
	if !strings.HasPrefix(a, "ssoe-") {
		t.Fatalf("Name missing expected prefix: %s", a)
	}
}

func TestName_DiffersByRequest(t *testing.T) {
	key := AssignmentKey(model.AssignmentIdentity{PrincipalID: "u-1", AccountID: "111111111111", PermissionSetArn: "arn:x"})
	if Name(key, "req-1") == Name(key, "req-2") {
		t.Fatalf("different requests must not collide on the same identity")
	}
}

func TestAssignmentKey_MembershipKey_Distinct(t *testing.T) {
	ak := AssignmentKey(model.AssignmentIdentity{PrincipalID: "p", AccountID: "a", PermissionSetArn: "ps"})
	mk := MembershipKey(model.MembershipIdentity{GroupID: "a", PrincipalID: "p"})
	if ak == mk {
		t.Fatalf("assignment and membership keys must not collide: %s", ak)
	}
}

func TestIsNotFound_IsConflict(t *testing.T) {
	if !isNotFound(errAs("operation error Scheduler: GetSchedule, ResourceNotFoundException: schedule not found")) {
		t.Fatalf("expected ResourceNotFoundException to be not-found")
	}
	if !isConflict(errAs("operation error Scheduler: CreateSchedule, ConflictException: schedule already exists")) {
		t.Fatalf("expected ConflictException to be conflict")
	}
}

func TestRenotifyName_DeterministicAndDistinctFromRevocationName(t *testing.T) {
	a := RenotifyName("req-1")
	b := RenotifyName("req-1")
	if a != b {
		t.Fatalf("RenotifyName is not deterministic: %s != %s", a, b)
	}
	if len(a) > 64 {
		t.Fatalf("RenotifyName exceeds scheduler's 64-char limit: %d", len(a))
	}
	if RenotifyName("req-1") == RenotifyName("req-2") {
		t.Fatalf("different requests must not collide")
	}
	key := AssignmentKey(model.AssignmentIdentity{PrincipalID: "u-1", AccountID: "111111111111", PermissionSetArn: "arn:x"})
	if RenotifyName("req-1") == Name(key, "req-1") {
		t.Fatalf("renotify and revocation schedules for the same request must not collide")
	}
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func errAs(s string) error { return stringErr(s) }
