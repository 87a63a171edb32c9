// Package policy holds per-tenant auto-approval rules and the decision
// function applied to candidate mutations.
package policy

import (
	"sort"
	"time"

	pkgerrors "designgraph/pkg/errors"
)

// DefaultRiskThreshold is the confidence required for auto-approval when a
// tenant has no policy of its own.
const DefaultRiskThreshold = 0.9

// Result is the outcome of a decision
type Result string

const (
	Allow Result = "allow"
	Deny  Result = "deny"
)

// Reason explains which rule produced a decision
type Reason string

const (
	ReasonWhitelist                Reason = "whitelist"
	ReasonBlacklist                Reason = "blacklist"
	ReasonThreshold                Reason = "threshold"
	ReasonBelowThresholdOrDisabled Reason = "below_threshold_or_disabled"
)

// Document is a tenant's auto-approval policy
type Document struct {
	TenantID             string          `json:"tenant_id" yaml:"tenant_id" dynamodbav:"TenantID"`
	AutoApproveEnabled   bool            `json:"auto_approve_enabled" yaml:"auto_approve_enabled" dynamodbav:"AutoApproveEnabled"`
	RiskThresholdDefault float64         `json:"risk_threshold_default" yaml:"risk_threshold_default" dynamodbav:"RiskThresholdDefault"`
	ActionWhitelist      []string        `json:"action_whitelist" yaml:"action_whitelist" dynamodbav:"ActionWhitelist"`
	ActionBlacklist      []string        `json:"action_blacklist" yaml:"action_blacklist" dynamodbav:"ActionBlacklist"`
	EnabledDomains       []string        `json:"enabled_domains" yaml:"enabled_domains" dynamodbav:"EnabledDomains"`
	FeatureFlags         map[string]bool `json:"feature_flags" yaml:"feature_flags" dynamodbav:"FeatureFlags"`
	Version              int             `json:"version" yaml:"version" dynamodbav:"Version"`
	UpdatedAt            time.Time       `json:"updated_at" yaml:"updated_at,omitempty" dynamodbav:"UpdatedAt"`
}

// Defaults returns the conservative policy used for unknown tenants and
// whenever the durable source cannot be reached.
func Defaults(tenantID string) Document {
	return Document{
		TenantID:             tenantID,
		AutoApproveEnabled:   false,
		RiskThresholdDefault: DefaultRiskThreshold,
		ActionWhitelist:      []string{},
		ActionBlacklist:      []string{},
		EnabledDomains:       []string{},
		FeatureFlags:         map[string]bool{},
		Version:              0,
	}
}

// Validate checks document invariants
func (d Document) Validate() error {
	if d.TenantID == "" {
		return pkgerrors.NewValidationError("tenant_id is required")
	}
	if d.RiskThresholdDefault < 0 || d.RiskThresholdDefault > 1 {
		return pkgerrors.NewValidationErrorf("risk_threshold_default must be within [0,1], got %v", d.RiskThresholdDefault)
	}
	if d.Version < 0 {
		return pkgerrors.NewValidationError("version must not be negative")
	}
	return nil
}

// Normalize returns a copy with sorted, de-duplicated lists and non-nil
// collections.
func (d Document) Normalize() Document {
	out := d
	out.ActionWhitelist = normalizeList(d.ActionWhitelist)
	out.ActionBlacklist = normalizeList(d.ActionBlacklist)
	out.EnabledDomains = normalizeList(d.EnabledDomains)
	out.FeatureFlags = make(map[string]bool, len(d.FeatureFlags))
	for k, v := range d.FeatureFlags {
		out.FeatureFlags[k] = v
	}
	return out
}

// Clone returns a deep copy
func (d Document) Clone() Document {
	out := d
	out.ActionWhitelist = cloneList(d.ActionWhitelist)
	out.ActionBlacklist = cloneList(d.ActionBlacklist)
	out.EnabledDomains = cloneList(d.EnabledDomains)
	if d.FeatureFlags != nil {
		out.FeatureFlags = make(map[string]bool, len(d.FeatureFlags))
		for k, v := range d.FeatureFlags {
			out.FeatureFlags[k] = v
		}
	}
	return out
}

// Whitelisted reports whether the action is always auto-approved
func (d Document) Whitelisted(actionType string) bool {
	return contains(d.ActionWhitelist, actionType)
}

// Blacklisted reports whether the action always needs review
func (d Document) Blacklisted(actionType string) bool {
	return contains(d.ActionBlacklist, actionType)
}

// DomainEnabled reports whether the domain is enabled for the tenant
func (d Document) DomainEnabled(domain string) bool {
	return contains(d.EnabledDomains, domain)
}

// FeatureEnabled reports whether a feature flag is on
func (d Document) FeatureEnabled(flag string) bool {
	return d.FeatureFlags[flag]
}

// Decision is the result of Decide
type Decision struct {
	Result Result `json:"result"`
	Reason Reason `json:"reason"`
}

// Allowed reports whether the mutation may be applied directly
func (d Decision) Allowed() bool {
	return d.Result == Allow
}

// Decide classifies an action. Whitelist wins over everything, then
// blacklist, then the confidence threshold when auto-approval is enabled.
func Decide(doc Document, actionType string, confidence float64) Decision {
	switch {
	case doc.Whitelisted(actionType):
		return Decision{Result: Allow, Reason: ReasonWhitelist}
	case doc.Blacklisted(actionType):
		return Decision{Result: Deny, Reason: ReasonBlacklist}
	case doc.AutoApproveEnabled && confidence >= doc.RiskThresholdDefault:
		return Decision{Result: Allow, Reason: ReasonThreshold}
	default:
		return Decision{Result: Deny, Reason: ReasonBelowThresholdOrDisabled}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func cloneList(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func normalizeList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
