package mask

import "regexp"

// The PII-gate runs after masking and must find nothing. Its patterns are a
// superset of the masker's protected classes: slightly broader shapes, so a
// near-miss that slipped past a masking rule still fails the gate and forces
// escalation instead of leaking.
var leakChecks = []struct {
	class   string
	pattern *regexp.Regexp
}{
	// Any mailbox-like token, TLD not required.
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)*`)},
	// 10-12 digit identity numbers with optional separator.
	{"personnummer", regexp.MustCompile(rePersonnummer)},
	// Phone shapes, also allowing dot separators.
	{"phone", regexp.MustCompile(`(?:\+\d{1,3}[ .-]?\d{1,3}|\b0\d{1,3})(?:[ .-]?\d{2,4}){2,4}\b`)},
}

// CheckLeaks sweeps masked text for residual protected patterns and returns
// the classes that still match, in fixed order. An empty result means the
// gate passes.
func CheckLeaks(text string) []string {
	var classes []string
	for _, c := range leakChecks {
		if c.pattern.MatchString(text) {
			classes = append(classes, c.class)
		}
	}
	return classes
}
