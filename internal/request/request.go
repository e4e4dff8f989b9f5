// Package request implements C7: the access-request state machine. It
// holds no storage of its own — authoritative state lives in the chat
// thread and the audit log (§4.7 "there is no separate request database
// beyond audit") — so this package is pure transition logic plus the
// renotification-interval calculation.
//
// Grounded on the teacher's agents/manager/internal/state package for the
// shape of a small, explicit state machine with allowed-transition checks,
// adapted from that package's task statuses to the Pending/Approved/
// Denied/Expired/Granted/Revoked/Failed states of §3.
package request

import (
	"fmt"
	"math"
	"time"

	"github.com/fivexl/sso-elevator/internal/model"
)

// ErrNoOp signals a caller attempted a transition that is not valid from
// the request's current state. Per §4.7 ("Any other event is a no-op"),
// callers are expected to treat this as a no-op, not an error to surface.
var ErrNoOp = fmt.Errorf("request: transition is a no-op from the current state")

// Submit creates a new request in Pending, or immediately in Approved if
// autoApprove is true (the policy evaluator found an auto-approve path).
func Submit(req model.AccessRequest, autoApprove bool) model.AccessRequest {
	req.State = model.StatePending
	if autoApprove {
		req.State = model.StateApproved
	}
	return req
}

// Approve transitions Pending -> Approved, recording the approver. Returns
// ErrNoOp if req is not Pending.
func Approve(req model.AccessRequest, approverEmail string) (model.AccessRequest, error) {
	if req.State != model.StatePending {
		return req, ErrNoOp
	}
	req.State = model.StateApproved
	req.ApproverEmail = approverEmail
	return req, nil
}

// Deny transitions Pending -> Denied.
func Deny(req model.AccessRequest, approverEmail string) (model.AccessRequest, error) {
	if req.State != model.StatePending {
		return req, ErrNoOp
	}
	req.State = model.StateDenied
	req.ApproverEmail = approverEmail
	return req, nil
}

// Expire transitions Pending -> Expired. Callers decide when to invoke
// this based on wall-clock comparison against request_expiration_hours
// (see IsExpired). No entrypoint calls Expire or IsExpired, and the
// reconciler does not touch pending requests.
func Expire(req model.AccessRequest) (model.AccessRequest, error) {
	if req.State != model.StatePending {
		return req, ErrNoOp
	}
	req.State = model.StateExpired
	return req, nil
}

// IsExpired reports whether a Pending request has outlived its
// expiration window as of now.
func IsExpired(req model.AccessRequest, expirationHours int, now time.Time) bool {
	if req.State != model.StatePending {
		return false
	}
	deadline := req.CreatedAt.Add(time.Duration(expirationHours) * time.Hour)
	return !now.Before(deadline)
}

// Grant transitions Approved -> Granted on success, or Approved -> Failed
// on failure (§4.7 "approve(approver): ... run C5 grant; on success ->
// Granted; on failure -> Failed").
func Grant(req model.AccessRequest, grantErr error) (model.AccessRequest, error) {
	if req.State != model.StateApproved {
		return req, ErrNoOp
	}
	if grantErr != nil {
		req.State = model.StateFailed
		return req, nil
	}
	req.State = model.StateGranted
	return req, nil
}

// RevokeFire transitions Granted -> Revoked.
func RevokeFire(req model.AccessRequest) (model.AccessRequest, error) {
	if req.State != model.StateGranted {
		return req, ErrNoOp
	}
	req.State = model.StateRevoked
	return req, nil
}

// NextRenotifyAt computes the k-th renotification time using the backoff
// series initialWait * multiplier^k (§4.7).
func NextRenotifyAt(submittedAt time.Time, initialWait time.Duration, multiplier float64, k int) time.Time {
	factor := math.Pow(multiplier, float64(k))
	return submittedAt.Add(time.Duration(float64(initialWait) * factor))
}

// DueRenotifications returns every renotification index k (0-based) whose
// scheduled time has passed by now, for a request still Pending. Callers
// use the count already sent to know which indices remain.
func DueRenotifications(submittedAt, now time.Time, initialWait time.Duration, multiplier float64, alreadySent int) []int {
	var due []int
	for k := alreadySent; ; k++ {
		at := NextRenotifyAt(submittedAt, initialWait, multiplier, k)
		if at.After(now) {
			break
		}
		due = append(due, k)
		if k > 10000 {
			// Pathological multiplier <= 1 would otherwise loop forever;
			// no real configuration gets anywhere near this many reminders.
			break
		}
	}
	return due
}
