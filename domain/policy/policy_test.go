package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	doc := Document{
		TenantID:             "t1",
		AutoApproveEnabled:   true,
		RiskThresholdDefault: 0.8,
		ActionWhitelist:      []string{"rename", "both"},
		ActionBlacklist:      []string{"risky_action", "both"},
	}
	disabled := doc.Clone()
	disabled.AutoApproveEnabled = false

	tests := []struct {
		name       string
		doc        Document
		action     string
		confidence float64
		want       Decision
	}{
		{"whitelist low confidence", doc, "rename", 0.0, Decision{Allow, ReasonWhitelist}},
		{"whitelist beats blacklist", doc, "both", 0.0, Decision{Allow, ReasonWhitelist}},
		{"whitelist when disabled", disabled, "rename", 0.1, Decision{Allow, ReasonWhitelist}},
		{"blacklist high confidence", doc, "risky_action", 0.99, Decision{Deny, ReasonBlacklist}},
		{"threshold met", doc, "add_panel", 0.8, Decision{Allow, ReasonThreshold}},
		{"threshold missed", doc, "add_panel", 0.79, Decision{Deny, ReasonBelowThresholdOrDisabled}},
		{"disabled", disabled, "add_panel", 1.0, Decision{Deny, ReasonBelowThresholdOrDisabled}},
		{"nan confidence", doc, "add_panel", math.NaN(), Decision{Deny, ReasonBelowThresholdOrDisabled}},
		{"defaults deny", Defaults("t2"), "add_panel", 0.95, Decision{Deny, ReasonBelowThresholdOrDisabled}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.doc, tt.action, tt.confidence)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Result == Allow, got.Allowed())
		})
	}
}

func TestDecide_PrecedenceHoldsForAllConfidences(t *testing.T) {
	doc := Document{
		AutoApproveEnabled:   true,
		RiskThresholdDefault: 0.5,
		ActionWhitelist:      []string{"w", "wb"},
		ActionBlacklist:      []string{"b", "wb"},
	}

	for c := 0.0; c <= 1.0; c += 0.05 {
		assert.Equal(t, Allow, Decide(doc, "w", c).Result)
		assert.Equal(t, Allow, Decide(doc, "wb", c).Result)
		assert.Equal(t, Deny, Decide(doc, "b", c).Result)
	}
}

func TestDefaults(t *testing.T) {
	d := Defaults("t1")
	assert.Equal(t, "t1", d.TenantID)
	assert.False(t, d.AutoApproveEnabled)
	assert.Equal(t, 0.9, d.RiskThresholdDefault)
	assert.Empty(t, d.ActionWhitelist)
	assert.Empty(t, d.ActionBlacklist)
	assert.Equal(t, 0, d.Version)
	assert.NoError(t, d.Validate())
}

func TestDocument_Validate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr bool
	}{
		{"valid", Document{TenantID: "t", RiskThresholdDefault: 0.5}, false},
		{"missing tenant", Document{RiskThresholdDefault: 0.5}, true},
		{"threshold above one", Document{TenantID: "t", RiskThresholdDefault: 1.5}, true},
		{"threshold below zero", Document{TenantID: "t", RiskThresholdDefault: -0.1}, true},
		{"negative version", Document{TenantID: "t", Version: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDocument_Normalize(t *testing.T) {
	d := Document{ActionWhitelist: []string{"b", "a", "b", ""}}.Normalize()
	assert.Equal(t, []string{"a", "b"}, d.ActionWhitelist)
	assert.NotNil(t, d.ActionBlacklist)
	assert.NotNil(t, d.FeatureFlags)
}

func TestDocument_CloneIsIndependent(t *testing.T) {
	d := Document{ActionBlacklist: []string{"x"}, FeatureFlags: map[string]bool{"f": true}}
	c := d.Clone()
	c.ActionBlacklist[0] = "y"
	c.FeatureFlags["f"] = false

	assert.Equal(t, "x", d.ActionBlacklist[0])
	assert.True(t, d.FeatureEnabled("f"))
}
