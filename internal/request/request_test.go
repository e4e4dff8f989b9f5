package request

import (
	"errors"
	"testing"
	"time"

	"github.com/fivexl/sso-elevator/internal/model"
)

func baseRequest() model.AccessRequest {
	return model.AccessRequest{RequestID: "req-1", State: model.StatePending, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestSubmit_AutoApproveSkipsPending(t *testing.T) {
	req := Submit(baseRequest(), true)
	if req.State != model.StateApproved {
		t.Fatalf("state = %s, want Approved", req.State)
	}
}

func TestSubmit_ManualStartsPending(t *testing.T) {
	req := Submit(baseRequest(), false)
	if req.State != model.StatePending {
		t.Fatalf("state = %s, want Pending", req.State)
	}
}

func TestApprove_FromPending(t *testing.T) {
	req, err := Approve(baseRequest(), "approver@example.com")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if req.State != model.StateApproved || req.ApproverEmail != "approver@example.com" {
		t.Fatalf("req = %+v", req)
	}
}

func TestApprove_NoOpFromNonPending(t *testing.T) {
	req := baseRequest()
	req.State = model.StateDenied
	_, err := Approve(req, "x@example.com")
	if !errors.Is(err, ErrNoOp) {
		t.Fatalf("err = %v, want ErrNoOp", err)
	}
}

func TestDeny_FromPending(t *testing.T) {
	req, err := Deny(baseRequest(), "approver@example.com")
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if req.State != model.StateDenied {
		t.Fatalf("state = %s", req.State)
	}
}

func TestExpire_OnlyFromPending(t *testing.T) {
	if _, err := Expire(baseRequest()); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	granted := baseRequest()
	granted.State = model.StateGranted
	if _, err := Expire(granted); !errors.Is(err, ErrNoOp) {
		t.Fatalf("err = %v, want ErrNoOp", err)
	}
}

func TestIsExpired(t *testing.T) {
	req := baseRequest()
	now := req.CreatedAt.Add(2 * time.Hour)
	if IsExpired(req, 3, now) {
		t.Fatalf("should not be expired yet")
	}
	if !IsExpired(req, 1, now) {
		t.Fatalf("should be expired")
	}
}

func TestIsExpired_OnlyAppliesToPending(t *testing.T) {
	req := baseRequest()
	req.State = model.StateGranted
	if IsExpired(req, 0, req.CreatedAt.Add(time.Hour)) {
		t.Fatalf("non-Pending requests never expire via this path")
	}
}

func TestGrant_SuccessAndFailure(t *testing.T) {
	req := baseRequest()
	req.State = model.StateApproved

	ok, err := Grant(req, nil)
	if err != nil || ok.State != model.StateGranted {
		t.Fatalf("Grant success path: ok=%+v err=%v", ok, err)
	}

	failed, err := Grant(req, errors.New("api down"))
	if err != nil || failed.State != model.StateFailed {
		t.Fatalf("Grant failure path: failed=%+v err=%v", failed, err)
	}
}

func TestGrant_NoOpFromNonApproved(t *testing.T) {
	_, err := Grant(baseRequest(), nil)
	if !errors.Is(err, ErrNoOp) {
		t.Fatalf("err = %v, want ErrNoOp", err)
	}
}

func TestRevokeFire_FromGranted(t *testing.T) {
	req := baseRequest()
	req.State = model.StateGranted
	out, err := RevokeFire(req)
	if err != nil || out.State != model.StateRevoked {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestDueRenotifications_BackoffSeries(t *testing.T) {
	submitted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := submitted.Add(3*time.Hour + 30*time.Minute)
	due := DueRenotifications(submitted, now, time.Hour, 2.0, 0)
	// k=0 at +1h, k=1 at +2h, k=2 at +4h (after now) -> due = [0, 1]
	if len(due) != 2 || due[0] != 0 || due[1] != 1 {
		t.Fatalf("due = %v", due)
	}
}

func TestDueRenotifications_ResumesFromAlreadySent(t *testing.T) {
	submitted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := submitted.Add(10 * time.Hour)
	due := DueRenotifications(submitted, now, time.Hour, 2.0, 2)
	if len(due) == 0 || due[0] != 2 {
		t.Fatalf("due = %v, want to resume at k=2", due)
	}
}
