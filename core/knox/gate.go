package knox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/DanielWarg/fortknox/core/mask"
)

// GateResult is the outcome of one gate pass: the enumerated reasons, empty
// when the gate passed. Reasons are machine-readable codes, per item where
// that helps the caller fix the input.
type GateResult struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// GateResults bundles both gate outcomes for persistence on the report.
type GateResults struct {
	Input  GateResult `json:"input"`
	Output GateResult `json:"output"`
}

// InputGate validates a pack against the policy before any remote call.
// Checks run in fixed order and all reasons are collected, so the caller
// sees everything that must change, not just the first failure.
func InputGate(p *Pack, policy *Policy) GateResult {
	var reasons []string

	if len(p.Documents)+len(p.Notes) == 0 {
		return GateResult{Reasons: []string{"empty_input_set"}}
	}

	for _, item := range p.items {
		if !item.level.AtLeast(policy.SanitizeMinLevel) {
			reasons = append(reasons, fmt.Sprintf("%s_%s_sanitize_level_too_low", item.kind, item.id))
		}
		if !item.aiAllowed {
			reasons = append(reasons, fmt.Sprintf("%s_%s_ai_not_allowed", item.kind, item.id))
		}
	}

	var all strings.Builder
	for _, item := range p.items {
		all.WriteString(item.text)
		all.WriteByte('\n')
	}
	if leaks := mask.CheckLeaks(all.String()); len(leaks) > 0 {
		reasons = append(reasons, "pii_gate_failed")
	}

	if p.payloadBytes > policy.MaxBytes {
		reasons = append(reasons, "size_exceeded")
	}

	return GateResult{Passed: len(reasons) == 0, Reasons: reasons}
}

// reExactDate matches ISO dates and Swedish written months with a day
// number in rendered output.
var reExactDate = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b` +
	`|\b\d{1,2} (?i:januari|februari|mars|april|maj|juni|juli|augusti|september|oktober|november|december)\b`)

// OutputGate validates the remote response before persistence: schema,
// PII sweep of the rendered markdown, the Re-ID n-gram guard, and (under
// date-strict policies) an exact-date sweep.
func OutputGate(resp *Response, rendered string, p *Pack, policy *Policy) GateResult {
	var reasons []string

	if err := resp.Validate(); err != nil {
		reasons = append(reasons, "schema_invalid")
	}

	if leaks := mask.CheckLeaks(rendered); len(leaks) > 0 {
		reasons = append(reasons, "pii_gate_failed")
	}

	inputs := make([]string, 0, len(p.items))
	for _, item := range p.items {
		inputs = append(inputs, item.text)
	}
	if quoteDetected(inputs, rendered, policy.QuoteLimitWords) {
		reasons = append(reasons, "quote_detected")
	}

	if policy.DateStrictness && reExactDate.MatchString(rendered) {
		reasons = append(reasons, "exact_date_detected")
	}

	return GateResult{Passed: len(reasons) == 0, Reasons: reasons}
}
