package config

import "testing"

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_NormalizesSingleStringToList(t *testing.T) {
	doc := []byte(`{"statements":[{"resource_type":"Account","resource":"111111111111","permission_set":"ReadOnly","approvers":"a@x.com","approval_not_required":true}]}`)
	cfg, warnings, err := Load(doc, Known{}, envMap(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	if len(cfg.Statements) != 1 {
		t.Fatalf("statements = %d, want 1", len(cfg.Statements))
	}
	st := cfg.Statements[0]
	if len(st.Resource) != 1 || st.Resource[0] != "111111111111" {
		t.Fatalf("resource = %v", st.Resource)
	}
	if len(st.Approvers) != 1 || st.Approvers[0] != "a@x.com" {
		t.Fatalf("approvers = %v", st.Approvers)
	}
}

func TestLoad_UnresolvableAccountWarnsAndSkips(t *testing.T) {
	doc := []byte(`{"statements":[{"resource_type":"Account","resource":"999999999999","permission_set":"*","approvers":"a@x.com"}]}`)
	known := Known{AccountIDs: map[string]bool{"111111111111": true}, PermissionSets: map[string]bool{}}
	cfg, warnings, err := Load(doc, known, envMap(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Statements) != 0 {
		t.Fatalf("expected statement to be skipped, got %d", len(cfg.Statements))
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", warnings)
	}
}

func TestLoad_GroupStatementRejectsWildcard(t *testing.T) {
	doc := []byte(`{"group_statements":[{"resource":"*","approvers":"a@x.com"}]}`)
	_, _, err := Load(doc, Known{}, envMap(nil))
	if err == nil {
		t.Fatalf("expected error for wildcard group resource")
	}
}

func TestLoad_MalformedApproverFailsHard(t *testing.T) {
	doc := []byte(`{"statements":[{"resource_type":"Account","resource":"*","permission_set":"*","approvers":"not-an-email"}]}`)
	_, _, err := Load(doc, Known{}, envMap(nil))
	if err == nil {
		t.Fatalf("expected error for malformed approver email")
	}
}

func TestLoad_RuntimeKnobsFromEnv(t *testing.T) {
	doc := []byte(`{}`)
	env := envMap(map[string]string{
		"MAX_PERMISSIONS_DURATION_HOURS":                "8",
		"REQUEST_EXPIRATION_HOURS":                      "12",
		"SECONDARY_FALLBACK_EMAIL_DOMAINS":              "corp.example, contractors.example",
		"CACHE_ENABLED":                                 "false",
	})
	cfg, _, err := Load(doc, Known{}, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.MaxPermissionsDurationHours != 8 {
		t.Fatalf("MaxPermissionsDurationHours = %d", cfg.Runtime.MaxPermissionsDurationHours)
	}
	if cfg.Runtime.CacheEnabled {
		t.Fatalf("CacheEnabled = true, want false")
	}
	if len(cfg.Runtime.SecondaryFallbackEmailDomains) != 2 {
		t.Fatalf("fallback domains = %v", cfg.Runtime.SecondaryFallbackEmailDomains)
	}
}

func TestLoad_NonPositiveDurationFails(t *testing.T) {
	doc := []byte(`{}`)
	env := envMap(map[string]string{"MAX_PERMISSIONS_DURATION_HOURS": "0"})
	_, _, err := Load(doc, Known{}, env)
	if err == nil {
		t.Fatalf("expected error for non-positive duration")
	}
}

func TestLoad_AttributeSyncDefaultsToWarnPolicy(t *testing.T) {
	doc := []byte(`{"attribute_sync":{"managed_groups":["sre"],"rules":[{"group_ref":"sre","conditions":[{"attribute_name":"Title","expected_value":"SRE"}]}]}}`)
	known := Known{GroupIDsByName: map[string]string{"sre": "g-123"}}
	cfg, warnings, err := Load(doc, known, envMap(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	if cfg.AttributeSync.Policy != "warn" {
		t.Fatalf("Policy = %q, want warn", cfg.AttributeSync.Policy)
	}
	if len(cfg.AttributeSync.Rules) != 1 || cfg.AttributeSync.Rules[0].GroupID != "g-123" {
		t.Fatalf("rules = %+v", cfg.AttributeSync.Rules)
	}
	if len(cfg.AttributeSync.Rules[0].Conditions) != 1 || cfg.AttributeSync.Rules[0].Conditions[0].AttributeName != "Title" {
		t.Fatalf("conditions = %+v", cfg.AttributeSync.Rules[0].Conditions)
	}
}

func TestLoad_AttributeSyncRuleUnresolvableGroupWarnsAndSkips(t *testing.T) {
	doc := []byte(`{"attribute_sync":{"managed_groups":["sre"],"policy":"remove","rules":[{"group_ref":"ghost","conditions":[{"attribute_name":"Title","expected_value":"SRE"}]}]}}`)
	known := Known{GroupIDsByName: map[string]string{"sre": "g-123"}}
	cfg, warnings, err := Load(doc, known, envMap(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", warnings)
	}
	if len(cfg.AttributeSync.Rules) != 0 {
		t.Fatalf("rules = %+v, want none", cfg.AttributeSync.Rules)
	}
	if cfg.AttributeSync.Policy != "remove" {
		t.Fatalf("Policy = %q, want remove", cfg.AttributeSync.Policy)
	}
}
