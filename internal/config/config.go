// Package config loads and validates the approval configuration and the
// environment-provided runtime knobs for the elevator engine.
package config

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fivexl/sso-elevator/internal/model"
)

// Any is the wildcard that matches every valid account / permission set.
const Any = "*"

// Statement governs Account+PermissionSet requests.
type Statement struct {
	ResourceType        string   `json:"resource_type"`
	Resource             []string `json:"-"`
	PermissionSet        []string `json:"-"`
	Approvers            []string `json:"-"`
	AllowSelfApproval    *bool    `json:"allow_self_approval,omitempty"`
	ApprovalNotRequired  *bool    `json:"approval_not_required,omitempty"`
}

// GroupStatement governs group-membership requests.
type GroupStatement struct {
	Resource            []string `json:"-"`
	Approvers           []string `json:"-"`
	AllowSelfApproval   *bool    `json:"allow_self_approval,omitempty"`
	ApprovalNotRequired *bool    `json:"approval_not_required,omitempty"`
}

// rawDocument mirrors the JSON document as it actually arrives: Resource,
// PermissionSet and Approvers may each be a single string or a list.
type rawDocument struct {
	Statements      []rawStatement    `json:"statements"`
	GroupStatements []rawStatement    `json:"group_statements"`
	AttributeSync   *rawAttributeSync `json:"attribute_sync,omitempty"`
}

// rawAttributeSync mirrors the attribute syncer's (C9) configuration
// section: an explicit managed-groups set, its mapping rules, and the
// warn/remove policy for manual assignments (§4.9).
type rawAttributeSync struct {
	ManagedGroups []string           `json:"managed_groups"`
	Policy        string             `json:"policy"`
	Rules         []rawAttributeRule `json:"rules"`
}

type rawAttributeRule struct {
	GroupRef   string            `json:"group_ref"`
	Conditions []rawCondition    `json:"conditions"`
}

type rawCondition struct {
	AttributeName string `json:"attribute_name"`
	ExpectedValue string `json:"expected_value"`
}

// AttributeSync is the loaded, validated form of rawAttributeSync.
type AttributeSync struct {
	ManagedGroups []string
	Policy        string
	Rules         []model.AttributeMappingRule
}

type rawStatement struct {
	ResourceType        string          `json:"resource_type"`
	Resource            json.RawMessage `json:"resource"`
	PermissionSet       json.RawMessage `json:"permission_set"`
	Approvers           json.RawMessage `json:"approvers"`
	AllowSelfApproval   *bool           `json:"allow_self_approval"`
	ApprovalNotRequired *bool           `json:"approval_not_required"`
}

// Configuration is the immutable, already-validated result of loading the
// approval document plus the process-wide runtime knobs (§9: threaded
// through components, never re-read from the environment at runtime).
type Configuration struct {
	Statements      []Statement
	GroupStatements []GroupStatement
	AttributeSync   AttributeSync
	Runtime         Runtime
}

// Runtime holds the environment knobs enumerated in spec §6.
type Runtime struct {
	MaxPermissionsDurationHours          int
	RequestExpirationHours               int
	ApproverRenotificationInitialWait    time.Duration
	ApproverRenotificationBackoffFactor  float64
	SecondaryFallbackEmailDomains        []string
	SendDMIfUserNotInChannel             bool
	PostUpdateOnRevoke                   bool
	CacheEnabled                         bool
	ScheduleGroupName                    string
	AuditPrefix                          string
}

// Warning is a non-fatal problem found while loading the configuration: the
// offending entry is skipped, loading continues (§4.1: "never a hard abort").
type Warning struct {
	Message string
}

func (w Warning) Error() string { return w.Message }

// Load parses the JSON approval document and the environment, normalizing
// wildcards/lists and validating well-formedness. Malformed entries return a
// descriptive error (hard failure); unresolvable references against know*
// are reported as warnings and the affected entry is skipped.
func Load(doc []byte, known Known, getenv func(string) string) (*Configuration, []Warning, error) {
	var raw rawDocument
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse approval config: %w", err)
	}

	var warnings []Warning
	cfg := &Configuration{}

	for i, rs := range raw.Statements {
		st, err := normalizeStatement(rs)
		if err != nil {
			return nil, nil, fmt.Errorf("statement %d: %w", i, err)
		}
		if w := validateAccountStatement(st, known); w != nil {
			warnings = append(warnings, *w)
			continue
		}
		cfg.Statements = append(cfg.Statements, st)
	}

	for i, rs := range raw.GroupStatements {
		gs, err := normalizeGroupStatement(rs)
		if err != nil {
			return nil, nil, fmt.Errorf("group_statement %d: %w", i, err)
		}
		if w := validateGroupStatement(gs, known); w != nil {
			warnings = append(warnings, *w)
			continue
		}
		cfg.GroupStatements = append(cfg.GroupStatements, gs)
	}

	if raw.AttributeSync != nil {
		as, asWarnings := normalizeAttributeSync(*raw.AttributeSync, known)
		cfg.AttributeSync = as
		warnings = append(warnings, asWarnings...)
	}

	rt, err := loadRuntime(getenv)
	if err != nil {
		return nil, nil, err
	}
	cfg.Runtime = rt

	return cfg, warnings, nil
}

func normalizeAttributeSync(raw rawAttributeSync, known Known) (AttributeSync, []Warning) {
	policy := raw.Policy
	if policy == "" {
		policy = "warn"
	}
	as := AttributeSync{ManagedGroups: raw.ManagedGroups, Policy: policy}

	var warnings []Warning
	for _, rr := range raw.Rules {
		groupID := rr.GroupRef
		if known.GroupIDsByName != nil {
			id, ok := known.GroupIDsByName[rr.GroupRef]
			if !ok {
				warnings = append(warnings, Warning{Message: fmt.Sprintf("attribute_sync rule references unresolvable group %q, skipping", rr.GroupRef)})
				continue
			}
			groupID = id
		}
		conditions := make([]model.AttributeCondition, 0, len(rr.Conditions))
		for _, c := range rr.Conditions {
			conditions = append(conditions, model.AttributeCondition{AttributeName: c.AttributeName, ExpectedValue: c.ExpectedValue})
		}
		as.Rules = append(as.Rules, model.AttributeMappingRule{GroupRef: rr.GroupRef, GroupID: groupID, Conditions: conditions})
	}
	return as, warnings
}

// Known supplies the live directory state needed to resolve wildcards and
// validate references at load time.
type Known struct {
	AccountIDs       map[string]bool
	PermissionSets   map[string]bool
	GroupIDsByName   map[string]string
}

func normalizeStatement(rs rawStatement) (Statement, error) {
	resources, err := stringList(rs.Resource)
	if err != nil {
		return Statement{}, fmt.Errorf("resource: %w", err)
	}
	permSets, err := stringList(rs.PermissionSet)
	if err != nil {
		return Statement{}, fmt.Errorf("permission_set: %w", err)
	}
	approvers, err := stringList(rs.Approvers)
	if err != nil {
		return Statement{}, fmt.Errorf("approvers: %w", err)
	}
	for _, a := range approvers {
		if _, err := mail.ParseAddress(a); err != nil {
			return Statement{}, fmt.Errorf("approver %q is not a valid email: %w", a, err)
		}
	}
	resourceType := rs.ResourceType
	if resourceType == "" {
		resourceType = "Account"
	}
	return Statement{
		ResourceType:        resourceType,
		Resource:            resources,
		PermissionSet:       permSets,
		Approvers:           approvers,
		AllowSelfApproval:   rs.AllowSelfApproval,
		ApprovalNotRequired: rs.ApprovalNotRequired,
	}, nil
}

func normalizeGroupStatement(rs rawStatement) (GroupStatement, error) {
	resources, err := stringList(rs.Resource)
	if err != nil {
		return GroupStatement{}, fmt.Errorf("resource: %w", err)
	}
	for _, r := range resources {
		if r == Any {
			return GroupStatement{}, fmt.Errorf("group_statement resource may not be %q (no wildcard; explicit only)", Any)
		}
	}
	approvers, err := stringList(rs.Approvers)
	if err != nil {
		return GroupStatement{}, fmt.Errorf("approvers: %w", err)
	}
	for _, a := range approvers {
		if _, err := mail.ParseAddress(a); err != nil {
			return GroupStatement{}, fmt.Errorf("approver %q is not a valid email: %w", a, err)
		}
	}
	return GroupStatement{
		Resource:            resources,
		Approvers:            approvers,
		AllowSelfApproval:    rs.AllowSelfApproval,
		ApprovalNotRequired:  rs.ApprovalNotRequired,
	}, nil
}

func validateAccountStatement(st Statement, known Known) *Warning {
	if known.AccountIDs == nil && known.PermissionSets == nil {
		return nil // resolver not supplied (e.g. unit tests) — skip liveness checks
	}
	for _, r := range st.Resource {
		if r == Any {
			continue
		}
		if !known.AccountIDs[r] {
			return &Warning{Message: fmt.Sprintf("statement references unknown account %q, skipping", r)}
		}
	}
	for _, p := range st.PermissionSet {
		if p == Any {
			continue
		}
		if !known.PermissionSets[p] {
			return &Warning{Message: fmt.Sprintf("statement references unknown permission set %q, skipping", p)}
		}
	}
	return nil
}

func validateGroupStatement(gs GroupStatement, known Known) *Warning {
	if known.GroupIDsByName == nil {
		return nil
	}
	for _, r := range gs.Resource {
		if _, ok := known.GroupIDsByName[r]; !ok {
			return &Warning{Message: fmt.Sprintf("group_statement references unresolvable group %q, skipping", r)}
		}
	}
	return nil
}

// stringList accepts either a JSON string or a JSON array of strings, per
// §4.1's normalization rule.
func stringList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("expected string or []string: %w", err)
	}
	return list, nil
}

func loadRuntime(getenv func(string) string) (Runtime, error) {
	maxDuration, err := intEnv(getenv, "MAX_PERMISSIONS_DURATION_HOURS", 24)
	if err != nil {
		return Runtime{}, err
	}
	if maxDuration <= 0 {
		return Runtime{}, fmt.Errorf("MAX_PERMISSIONS_DURATION_HOURS must be positive")
	}
	expiration, err := intEnv(getenv, "REQUEST_EXPIRATION_HOURS", 24)
	if err != nil {
		return Runtime{}, err
	}
	if expiration <= 0 {
		return Runtime{}, fmt.Errorf("REQUEST_EXPIRATION_HOURS must be positive")
	}
	initialWaitMin, err := intEnv(getenv, "APPROVER_RENOTIFICATION_INITIAL_WAIT_MINUTES", 60)
	if err != nil {
		return Runtime{}, err
	}
	if initialWaitMin <= 0 {
		return Runtime{}, fmt.Errorf("APPROVER_RENOTIFICATION_INITIAL_WAIT_MINUTES must be positive")
	}
	backoff, err := floatEnv(getenv, "APPROVER_RENOTIFICATION_BACKOFF_MULTIPLIER", 2.0)
	if err != nil {
		return Runtime{}, err
	}
	if backoff <= 0 {
		return Runtime{}, fmt.Errorf("APPROVER_RENOTIFICATION_BACKOFF_MULTIPLIER must be positive")
	}

	var fallbackDomains []string
	if v := getenv("SECONDARY_FALLBACK_EMAIL_DOMAINS"); v != "" {
		for _, d := range strings.Split(v, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				fallbackDomains = append(fallbackDomains, d)
			}
		}
	}

	return Runtime{
		MaxPermissionsDurationHours:         maxDuration,
		RequestExpirationHours:              expiration,
		ApproverRenotificationInitialWait:   time.Duration(initialWaitMin) * time.Minute,
		ApproverRenotificationBackoffFactor: backoff,
		SecondaryFallbackEmailDomains:       fallbackDomains,
		SendDMIfUserNotInChannel:            boolEnv(getenv, "SEND_DM_IF_USER_NOT_IN_CHANNEL", false),
		PostUpdateOnRevoke:                  boolEnv(getenv, "POST_UPDATE_ON_REVOKE", true),
		CacheEnabled:                        boolEnv(getenv, "CACHE_ENABLED", true),
		ScheduleGroupName:                   getenvDefault(getenv, "SCHEDULE_GROUP_NAME", "sso-elevator"),
		AuditPrefix:                         getenvDefault(getenv, "AUDIT_PREFIX", "audit"),
	}, nil
}

func getenvDefault(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func boolEnv(getenv func(string) string, key string, def bool) bool {
	v := getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func intEnv(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func floatEnv(getenv func(string) string, key string, def float64) (float64, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// Getenv is a convenience wrapper for production callers that read from the
// real process environment. The entrypoints pass it to Load each time they
// load the approval configuration, so the environment is read again on
// every handler invocation.
func Getenv(key string) string { return os.Getenv(key) }
