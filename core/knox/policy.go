// Package knox implements the deterministic compile cycle against the
// remote Fort Knox engine: pack building, input/output gates, the Re-ID
// guard, report rendering, and idempotent orchestration.
package knox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/DanielWarg/fortknox/core/mask"
)

// Policy fixes the safety parameters of a compile. Policies are code-fixed:
// the set is closed and versioned, so a report's ruleset_hash pins exactly
// which rules produced it.
type Policy struct {
	ID               string
	Version          string
	SanitizeMinLevel mask.Level
	MaxBytes         int
	QuoteLimitWords  int
	DateStrictness   bool
}

// The closed policy set.
var policies = map[string]*Policy{
	"internal": {
		ID:               "internal",
		Version:          "1",
		SanitizeMinLevel: mask.LevelNormal,
		MaxBytes:         512 << 10,
		QuoteLimitWords:  8,
		DateStrictness:   false,
	},
	"external": {
		ID:               "external",
		Version:          "1",
		SanitizeMinLevel: mask.LevelStrict,
		MaxBytes:         256 << 10,
		QuoteLimitWords:  8,
		DateStrictness:   true,
	},
}

// PolicyByID resolves a policy from the closed set.
func PolicyByID(id string) (*Policy, error) {
	p, ok := policies[id]
	if !ok {
		return nil, fmt.Errorf("knox: unknown policy %q", id)
	}
	return p, nil
}

// RulesetHash fingerprints the policy parameters. Stored on every report so
// a change in any parameter is visible in the audit trail.
func (p *Policy) RulesetHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d\x00%t",
		p.ID, p.Version, p.SanitizeMinLevel, p.MaxBytes, p.QuoteLimitWords, p.DateStrictness)
	return hex.EncodeToString(h.Sum(nil))
}
