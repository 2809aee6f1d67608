package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenproj/warden/internal/canon"
	"github.com/wardenproj/warden/internal/policy"
)

var testEffectiveFrom = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

const validRubric = `
rubric: {
	rules: [
		{
			name:      "error_rate_warn"
			signal:    "error_rate"
			operator:  ">"
			threshold: 0.01
			severity:  "warn"
		},
		{
			name:      "error_rate_block"
			signal:    "error_rate"
			operator:  ">"
			threshold: 0.05
			severity:  "soft_block"
			weight:    2
		},
		{
			name:      "open_incidents"
			signal:    "open_incidents"
			operator:  ">="
			threshold: 3
			severity:  "hard_block"
			weight:    5
		},
	]
}
`

func TestCompileValidRubric(t *testing.T) {
	rules, err := CompileRubricSource(validRubric, "rubric.cue")
	require.NoError(t, err)
	require.Len(t, rules, 3)

	// Source order is decision order.
	assert.Equal(t, "error_rate_warn", rules[0].Name)
	assert.Equal(t, "error_rate_block", rules[1].Name)
	assert.Equal(t, "open_incidents", rules[2].Name)

	assert.Equal(t, policy.OpGT, rules[0].Operator)
	assert.Equal(t, canon.Decimal("0.01"), rules[0].Threshold)
	assert.Equal(t, policy.SeverityWarn, rules[0].Severity)
	assert.Equal(t, int64(1), rules[0].Weight) // weight defaults to 1

	assert.Equal(t, int64(2), rules[1].Weight)

	// Integer thresholds keep their integer literal form.
	assert.Equal(t, canon.Decimal("3"), rules[2].Threshold)
	assert.Equal(t, policy.OpGE, rules[2].Operator)

	// Compiled rules must pass the policy layer's own validation.
	for _, r := range rules {
		assert.NoError(t, r.Validate())
	}
}

func TestCompileRejectsInvalidRubrics(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "missing rubric struct",
			src:     `other: {}`,
			wantErr: "rubric",
		},
		{
			name:    "missing rules",
			src:     `rubric: {}`,
			wantErr: "rules is required",
		},
		{
			name:    "empty rules",
			src:     `rubric: {rules: []}`,
			wantErr: "at least one rule",
		},
		{
			name: "missing name",
			src: `rubric: {rules: [{
				signal: "x", operator: ">", threshold: 1, severity: "warn"
			}]}`,
			wantErr: "name is required",
		},
		{
			name: "unknown operator",
			src: `rubric: {rules: [{
				name: "r", signal: "x", operator: "~=", threshold: 1, severity: "warn"
			}]}`,
			wantErr: "unknown operator",
		},
		{
			name: "unknown severity",
			src: `rubric: {rules: [{
				name: "r", signal: "x", operator: ">", threshold: 1, severity: "panic"
			}]}`,
			wantErr: "unknown severity",
		},
		{
			name: "missing threshold",
			src: `rubric: {rules: [{
				name: "r", signal: "x", operator: ">", severity: "warn"
			}]}`,
			wantErr: "threshold is required",
		},
		{
			name: "zero weight",
			src: `rubric: {rules: [{
				name: "r", signal: "x", operator: ">", threshold: 1, severity: "warn", weight: 0
			}]}`,
			wantErr: "weight must be positive",
		},
		{
			name: "duplicate rule names",
			src: `rubric: {rules: [
				{name: "r", signal: "x", operator: ">", threshold: 1, severity: "warn"},
				{name: "r", signal: "y", operator: "<", threshold: 2, severity: "warn"},
			]}`,
			wantErr: "duplicate rule name",
		},
		{
			name:    "malformed cue",
			src:     `rubric: {rules: [`,
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileRubricSource(tt.src, "test.cue")
			require.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCompileErrorCarriesPosition(t *testing.T) {
	src := `rubric: {
	rules: [
		{name: "r", signal: "x", operator: "bogus", threshold: 1, severity: "warn"},
	]
}`
	_, err := CompileRubricSource(src, "gate.cue")
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "operator", cerr.Field)
	assert.Contains(t, cerr.Error(), "gate.cue")
}

func TestCompiledRulesFeedSnapshots(t *testing.T) {
	rules, err := CompileRubricSource(validRubric, "rubric.cue")
	require.NoError(t, err)

	snap, err := policy.NewDraft("snap-1", "release-gate", 1, testEffectiveFrom, rules)
	require.NoError(t, err)
	assert.Equal(t, policy.StatusDraft, snap.Status)
	assert.Len(t, snap.Rules, 3)
}
