// Package chatinbound handles the two inbound chat events of §6: a form
// submission requesting access, and a button callback deciding a pending
// request. Every inbound event must carry a valid HMAC signature;
// verification happens before any state transition (§6 "All inbound
// events are signed; signature verification is mandatory before any state
// transition").
//
// Grounded on the teacher's apps/ReleaseParty/backend/internal/githubapp
// webhook verifier: the same sha256= header-prefixed HMAC scheme, adapted
// from a GitHub webhook header to this system's own signature header.
package chatinbound

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fivexl/sso-elevator/internal/model"
)

// SignatureHeader is the inbound header name carrying "sha256=<hex>".
const SignatureHeader = "X-SSO-Elevator-Signature-256"

// VerifySignature checks body against the sha256= HMAC header using
// secret, per §6's mandatory-signature-verification requirement.
func VerifySignature(header string, body, secret []byte) error {
	header = strings.TrimSpace(header)
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("missing or malformed signature header")
	}
	wantHex := strings.TrimPrefix(header, prefix)

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	gotHex := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(wantHex), []byte(gotHex)) {
		return fmt.Errorf("invalid inbound signature")
	}
	return nil
}

// SubmissionEvent is the "request account access" / "request group
// access" form submission (§6).
type SubmissionEvent struct {
	RequesterEmail    string             `json:"requester_email"`
	Resource          string             `json:"resource"`
	ResourceKind      model.ResourceKind `json:"resource_kind"`
	PermissionSetName string             `json:"permission_set_name,omitempty"`
	Reason            string             `json:"reason"`
	DurationHours     int                `json:"duration_hours"`
	RequesterChatID   int64              `json:"requester_chat_id,omitempty"`
}

// DecisionEvent is a button callback on a request message (§6). Since
// there is no request database beyond the chat thread and audit log
// (§9), the relay that turns a Telegram callback_query into this event
// carries the original request's fields back out of the message it is
// replying to rather than this service looking them up by RequestID.
type DecisionEvent struct {
	RequestID              string             `json:"request_id"`
	Decision               string             `json:"decision"` // "approve" or "deny"
	ApproverEmail          string             `json:"approver_email"`
	RequesterEmail         string             `json:"requester_email"`
	Resource               string             `json:"resource"`
	ResourceKind           model.ResourceKind `json:"resource_kind"`
	PermissionSetName      string             `json:"permission_set_name,omitempty"`
	Reason                 string             `json:"reason"`
	DurationHours          int                `json:"duration_hours"`
	CreatedAtUnix          int64              `json:"created_at_unix"`
	SecondaryDomainWasUsed bool               `json:"secondary_domain_was_used"`
	RequesterChatID        int64              `json:"requester_chat_id,omitempty"`
}

// ToAccessRequest rebuilds the in-flight AccessRequest this decision
// applies to, from the fields the relay carried back out of the chat
// message (§6).
func (ev DecisionEvent) ToAccessRequest() model.AccessRequest {
	return model.AccessRequest{
		RequestID:         ev.RequestID,
		RequesterEmail:    ev.RequesterEmail,
		Resource:          ev.Resource,
		ResourceKind:      ev.ResourceKind,
		PermissionSetName: ev.PermissionSetName,
		Reason:            ev.Reason,
		Duration:          time.Duration(ev.DurationHours) * time.Hour,
		CreatedAt:         time.Unix(ev.CreatedAtUnix, 0).UTC(),
		State:             model.StatePending,
	}
}

// ParseSubmission verifies the signature and decodes a SubmissionEvent.
func ParseSubmission(body, signatureHeader []byte, secret []byte) (SubmissionEvent, error) {
	var ev SubmissionEvent
	if err := VerifySignature(string(signatureHeader), body, secret); err != nil {
		return ev, fmt.Errorf("submission event: %w", err)
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("decode submission event: %w", err)
	}
	return ev, nil
}

// ParseDecision verifies the signature and decodes a DecisionEvent.
func ParseDecision(body, signatureHeader []byte, secret []byte) (DecisionEvent, error) {
	var ev DecisionEvent
	if err := VerifySignature(string(signatureHeader), body, secret); err != nil {
		return ev, fmt.Errorf("decision event: %w", err)
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("decode decision event: %w", err)
	}
	return ev, nil
}

// ToAccessRequest materializes a new in-memory AccessRequest from a
// verified submission, ready for Submit.
func (ev SubmissionEvent) ToAccessRequest(requestID string, now time.Time) model.AccessRequest {
	return model.AccessRequest{
		RequestID:         requestID,
		RequesterEmail:    ev.RequesterEmail,
		Resource:          ev.Resource,
		ResourceKind:      ev.ResourceKind,
		PermissionSetName: ev.PermissionSetName,
		Reason:            ev.Reason,
		Duration:          time.Duration(ev.DurationHours) * time.Hour,
		CreatedAt:         now,
	}
}
