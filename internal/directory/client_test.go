package directory

import (
	"errors"
	"testing"
)

func TestSubstituteDomain(t *testing.T) {
	cases := []struct {
		email, domain, want string
	}{
		{"a@corp.example", "contractors.example", "a@contractors.example"},
		{"a@corp.example", "corp.example", "a@corp.example"},
		{"not-an-email", "contractors.example", "not-an-email"},
	}
	for _, c := range cases {
		if got := substituteDomain(c.email, c.domain); got != c.want {
			t.Errorf("substituteDomain(%q, %q) = %q, want %q", c.email, c.domain, got, c.want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(errors.New("operation error SSOAdmin: DeleteAccountAssignment, https response error StatusCode: 400, ResourceNotFoundException: assignment does not exist")) {
		t.Fatalf("expected ResourceNotFoundException to be treated as not-found")
	}
	if isNotFound(errors.New("operation error SSOAdmin: DeleteAccountAssignment, AccessDeniedException")) {
		t.Fatalf("AccessDeniedException must not be treated as not-found")
	}
}

func TestIsConflict(t *testing.T) {
	if !isConflict(errors.New("ConflictException: membership already exists")) {
		t.Fatalf("expected ConflictException to be treated as conflict")
	}
	if isConflict(errors.New("ThrottlingException")) {
		t.Fatalf("ThrottlingException must not be treated as conflict")
	}
}
