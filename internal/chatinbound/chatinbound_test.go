package chatinbound

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/fivexl/sso-elevator/internal/model"
)

func sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_ValidPasses(t *testing.T) {
	body := []byte(`{"a":1}`)
	secret := []byte("topsecret")
	if err := VerifySignature(sign(body, secret), body, secret); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifySignature_TamperedBodyFails(t *testing.T) {
	secret := []byte("topsecret")
	sig := sign([]byte(`{"a":1}`), secret)
	if err := VerifySignature(sig, []byte(`{"a":2}`), secret); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
}

func TestVerifySignature_MissingHeaderFails(t *testing.T) {
	if err := VerifySignature("", []byte("body"), []byte("secret")); err == nil {
		t.Fatalf("expected missing header to fail")
	}
}

func TestParseSubmission_RejectsBadSignatureBeforeDecoding(t *testing.T) {
	body, _ := json.Marshal(SubmissionEvent{RequesterEmail: "a@example.com"})
	_, err := ParseSubmission(body, []byte("sha256=deadbeef"), []byte("secret"))
	if err == nil {
		t.Fatalf("expected signature verification to reject before decode")
	}
}

func TestParseSubmission_ValidRoundTrips(t *testing.T) {
	ev := SubmissionEvent{RequesterEmail: "a@example.com", Resource: "111111111111", DurationHours: 2}
	body, _ := json.Marshal(ev)
	secret := []byte("secret")
	got, err := ParseSubmission(body, []byte(sign(body, secret)), secret)
	if err != nil {
		t.Fatalf("ParseSubmission: %v", err)
	}
	if got.RequesterEmail != ev.RequesterEmail || got.DurationHours != 2 {
		t.Fatalf("got = %+v", got)
	}
}

func TestParseDecision_ValidRoundTrips(t *testing.T) {
	ev := DecisionEvent{
		RequestID:              "req-1",
		Decision:               "approve",
		ApproverEmail:          "b@example.com",
		RequesterEmail:         "a@example.com",
		Resource:               "111111111111",
		ResourceKind:           model.ResourceAccount,
		PermissionSetName:      "ReadOnly",
		Reason:                 "investigate incident",
		DurationHours:          2,
		CreatedAtUnix:          1700000000,
		SecondaryDomainWasUsed: true,
		RequesterChatID:        42,
	}
	body, _ := json.Marshal(ev)
	secret := []byte("secret")
	got, err := ParseDecision(body, []byte(sign(body, secret)), secret)
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if got.Decision != "approve" || got.Resource != ev.Resource || got.PermissionSetName != ev.PermissionSetName {
		t.Fatalf("got = %+v", got)
	}
	if got.RequesterChatID != 42 || !got.SecondaryDomainWasUsed {
		t.Fatalf("got = %+v", got)
	}
}

func TestDecisionEvent_ToAccessRequestRebuildsFullContext(t *testing.T) {
	ev := DecisionEvent{
		RequestID:         "req-1",
		RequesterEmail:    "a@example.com",
		Resource:          "111111111111",
		ResourceKind:      model.ResourceAccount,
		PermissionSetName: "ReadOnly",
		Reason:            "investigate incident",
		DurationHours:     2,
		CreatedAtUnix:     1700000000,
	}
	req := ev.ToAccessRequest()
	if req.RequestID != ev.RequestID || req.RequesterEmail != ev.RequesterEmail {
		t.Fatalf("req = %+v", req)
	}
	if req.Duration != 2*time.Hour {
		t.Fatalf("Duration = %v, want 2h", req.Duration)
	}
	if req.State != model.StatePending {
		t.Fatalf("State = %v, want Pending", req.State)
	}
	if req.CreatedAt.Unix() != ev.CreatedAtUnix {
		t.Fatalf("CreatedAt = %v", req.CreatedAt)
	}
}
