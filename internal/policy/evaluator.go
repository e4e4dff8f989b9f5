// Package policy implements the pure decision function (C2): given a
// request, a configuration, and a read-only resolver, it computes whether
// access is automatically permitted, needs approval, or is denied.
//
// Evaluate never performs I/O and never suspends — the resolver is a
// plain in-memory snapshot, consistent with spec §5 ("C2 and policy
// evaluation never suspend").
package policy

import (
	"github.com/fivexl/sso-elevator/internal/config"
	"github.com/fivexl/sso-elevator/internal/model"
)

// ResourceKind distinguishes account requests from group requests.
type ResourceKind = model.ResourceKind

const (
	ResourceAccount = model.ResourceAccount
	ResourceGroup   = model.ResourceGroup
)

// Request is the subset of an AccessRequest the evaluator needs.
type Request struct {
	RequesterEmail    string
	Resource          string // account id or group id
	ResourceKind      ResourceKind
	PermissionSetName string // only set when ResourceKind == ResourceAccount
}

// Permit is the outcome of a Decision.
type Permit string

const (
	PermitAuto         Permit = "auto"
	PermitNeedsApproval Permit = "needs_approval"
	PermitDeny         Permit = "deny"
)

// Decision is the pure output of Evaluate (§3).
type Decision struct {
	Permit              Permit
	Approvers           []string
	AllowSelfApproval   bool
	ApprovalNotRequired bool
	// Unsatisfiable is set when Permit == PermitNeedsApproval but the
	// decision can never be satisfied: a single approver equal to the
	// requester with self-approval disallowed (§4.2 tie-break).
	Unsatisfiable bool
	// Reason carries a short, non-retryable explanation for PermitDeny.
	Reason string
}

// Resolver supplies read-only directory snapshots for wildcard expansion.
// It never suspends: callers must pass an already-fetched snapshot.
type Resolver interface {
	AccountExists(accountID string) bool
	PermissionSetExists(name string) bool
}

// Evaluate implements the Decision Law of §3 and the ordered rules of §4.2.
func Evaluate(req Request, cfg *config.Configuration, resolver Resolver) Decision {
	if cfg == nil {
		return Decision{Permit: PermitDeny, Reason: "configuration unavailable"}
	}

	approvers := map[string]bool{}
	var selfApprovalTrue, selfApprovalFalseSeen bool
	var notRequiredTrue, notRequiredFalseSeen bool
	matched := false

	switch req.ResourceKind {
	case ResourceAccount:
		for _, st := range cfg.Statements {
			if st.ResourceType != "" && st.ResourceType != "Account" {
				continue
			}
			if !matchesAccount(st, req, resolver) {
				continue
			}
			matched = true
			accumulate(st.Approvers, st.AllowSelfApproval, st.ApprovalNotRequired,
				approvers, &selfApprovalTrue, &selfApprovalFalseSeen,
				&notRequiredTrue, &notRequiredFalseSeen)
		}
	case ResourceGroup:
		for _, gs := range cfg.GroupStatements {
			if !containsExact(gs.Resource, req.Resource) {
				continue
			}
			matched = true
			accumulate(gs.Approvers, gs.AllowSelfApproval, gs.ApprovalNotRequired,
				approvers, &selfApprovalTrue, &selfApprovalFalseSeen,
				&notRequiredTrue, &notRequiredFalseSeen)
		}
	default:
		return Decision{Permit: PermitDeny, Reason: "unknown resource kind"}
	}

	if !matched {
		return Decision{Permit: PermitDeny, Reason: "no matching statement"}
	}

	allowSelfApproval := selfApprovalTrue && !selfApprovalFalseSeen
	approvalNotRequired := notRequiredTrue && !notRequiredFalseSeen

	approverList := sortedKeys(approvers)

	// Rule 1: explicit false on approval_not_required, and no other permit
	// path exists — fall through to the remaining rules; they decide.
	// Rule 2: aggregate approval_not_required true => auto.
	if approvalNotRequired {
		return Decision{
			Permit:              PermitAuto,
			Approvers:           approverList,
			AllowSelfApproval:   allowSelfApproval,
			ApprovalNotRequired: true,
		}
	}

	// Rule 3: self-approval allowed and requester is an approver => auto.
	if allowSelfApproval && approvers[req.RequesterEmail] {
		return Decision{
			Permit:              PermitAuto,
			Approvers:           approverList,
			AllowSelfApproval:   true,
			ApprovalNotRequired: approvalNotRequired,
		}
	}

	// Rule 4: approvers non-empty => needs_approval.
	if len(approverList) > 0 {
		unsatisfiable := len(approverList) == 1 && approverList[0] == req.RequesterEmail && !allowSelfApproval
		return Decision{
			Permit:              PermitNeedsApproval,
			Approvers:           approverList,
			AllowSelfApproval:   allowSelfApproval,
			ApprovalNotRequired: approvalNotRequired,
			Unsatisfiable:       unsatisfiable,
		}
	}

	// Rule 5: no approvers => deny.
	return Decision{Permit: PermitDeny, Reason: "no approvers configured for this resource"}
}

func accumulate(stApprovers []string, allowSelf, notRequired *bool,
	approvers map[string]bool, selfTrue, selfFalseSeen, notReqTrue, notReqFalseSeen *bool) {
	for _, a := range stApprovers {
		approvers[a] = true
	}
	if allowSelf != nil {
		if *allowSelf {
			*selfTrue = true
		} else {
			*selfFalseSeen = true
		}
	}
	if notRequired != nil {
		if *notRequired {
			*notReqTrue = true
		} else {
			*notReqFalseSeen = true
		}
	}
}

func matchesAccount(st config.Statement, req Request, resolver Resolver) bool {
	if !matchesWildcardSet(st.Resource, req.Resource, resolver, (Resolver).AccountExists) {
		return false
	}
	if !matchesWildcardSet(st.PermissionSet, req.PermissionSetName, resolver, (Resolver).PermissionSetExists) {
		return false
	}
	return true
}

func matchesWildcardSet(set []string, value string, resolver Resolver, exists func(Resolver, string) bool) bool {
	for _, v := range set {
		if v == config.Any {
			if resolver == nil {
				return true
			}
			if exists(resolver, value) {
				return true
			}
			continue
		}
		if v == value {
			return true
		}
	}
	return false
}

func containsExact(set []string, value string) bool {
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// simple insertion sort: approver sets are small and this keeps the
	// package free of a sort import for a single call site.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
