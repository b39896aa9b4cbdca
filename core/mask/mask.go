// Package mask implements the deterministic three-level masking engine used
// for every piece of text that becomes externally readable. Masking is a pure
// function: the same (level, input) pair always produces byte-identical
// output, and masking already-masked text is a fixed point.
package mask

import (
	"fmt"
	"sort"
	"strings"
)

// Level is the sanitization level applied to a text. Levels form a strict
// lattice: every pattern masked at a level is also masked at all stricter
// levels.
type Level string

// Sanitization levels ordered from least to most strict.
const (
	LevelNormal   Level = "normal"
	LevelStrict   Level = "strict"
	LevelParanoid Level = "paranoid"
)

// levelRank maps levels to numeric ranks for comparison. Higher = stricter.
var levelRank = map[Level]int{
	LevelNormal:   0,
	LevelStrict:   1,
	LevelParanoid: 2,
}

// ParseLevel validates a level string and returns the typed Level.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; !ok {
		return "", fmt.Errorf("unknown sanitize level %q", s)
	}
	return l, nil
}

// AtLeast reports whether l is at or above the given minimum level.
func (l Level) AtLeast(minimum Level) bool {
	lr, ok1 := levelRank[l]
	mr, ok2 := levelRank[minimum]
	if !ok1 || !ok2 {
		return false
	}
	return lr >= mr
}

// Valid reports whether l is one of the three defined levels.
func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Usage captures what a masked text may be used for. The restrictions are
// derived from the level: paranoid text never leaves the system.
type Usage struct {
	AIAllowed     bool `json:"ai_allowed"`
	ExportAllowed bool `json:"export_allowed"`
}

// Restrictions returns the usage restrictions implied by a level.
func Restrictions(level Level) Usage {
	if level == LevelParanoid {
		return Usage{AIAllowed: false, ExportAllowed: false}
	}
	return Usage{AIAllowed: true, ExportAllowed: true}
}

// Stats summarizes what a Mask call did. Replacements maps pattern class
// names (e.g. "email") to the number of spans replaced.
type Stats struct {
	Replacements map[string]int
	Passes       int
}

// Total returns the total number of replaced spans across all classes.
func (s Stats) Total() int {
	n := 0
	for _, c := range s.Replacements {
		n += c
	}
	return n
}

// maxPasses bounds the multi-pass loop that catches replacements uncovering
// new matches. The loop terminates early when a pass changes nothing.
const maxPasses = 3

// Options configures a Masker. The zero value is the default configuration.
type Options struct {
	// DateStrictness masks dates already at the strict level. Dates are
	// always masked at paranoid regardless of this setting.
	DateStrictness bool
}

// Masker applies the fixed pattern table at a given level. It is immutable
// and safe for concurrent use.
type Masker struct {
	rules []compiledRule
}

// New compiles the pattern table for the given options.
func New(opts Options) *Masker {
	return &Masker{rules: compileRules(opts)}
}

// Mask replaces every recognized pattern in text according to the level and
// returns the masked text along with replacement statistics. Input line
// endings are normalized to \n before matching so output is byte-stable
// regardless of source platform.
func (m *Masker) Mask(level Level, text string) (string, Stats) {
	stats := Stats{Replacements: make(map[string]int)}
	out := normalizeLineEndings(text)

	for pass := 0; pass < maxPasses; pass++ {
		next, changed := m.maskPass(level, out, &stats)
		stats.Passes = pass + 1
		out = next
		if !changed {
			break
		}
	}
	return out, stats
}

// span is a locked region of the input. Once locked, no later rule may touch
// any part of it.
type span struct {
	start, end int
	token      string // empty for preserved spans
	class      string
}

// maskPass runs a single pass over text: rules are applied in fixed priority
// order, each locking the spans it claims (leftmost-longest within a rule,
// earlier rules win across rules). Preserving rules lock spans without
// rewriting them, which is how amounts and dates survive the numeric rules
// at the lower levels.
func (m *Masker) maskPass(level Level, text string, stats *Stats) (string, bool) {
	var locked []span

	overlaps := func(start, end int) bool {
		for _, s := range locked {
			if start < s.end && end > s.start {
				return true
			}
		}
		return false
	}

	for _, rule := range m.rules {
		action := rule.actions[level]
		if action == actionOff {
			continue
		}
		for _, loc := range rule.pattern.FindAllStringIndex(text, -1) {
			if overlaps(loc[0], loc[1]) {
				continue
			}
			sp := span{start: loc[0], end: loc[1], class: rule.class}
			if action == actionReplace {
				sp.token = rule.token
			}
			locked = append(locked, sp)
		}
	}

	// Rebuild the string left to right. Spans never overlap, so a plain
	// ascending sort gives a unique order.
	sort.Slice(locked, func(i, j int) bool { return locked[i].start < locked[j].start })

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	changed := false
	for _, sp := range locked {
		if sp.token == "" {
			continue // preserved span, copied as-is below
		}
		b.WriteString(text[prev:sp.start])
		b.WriteString(sp.token)
		prev = sp.end
		stats.Replacements[sp.class]++
		changed = true
	}
	b.WriteString(text[prev:])
	return b.String(), changed
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Registry holds the process-wide immutable maskers, one per date-strictness
// mode. It is built once at startup and passed as a dependency.
type Registry struct {
	standard    *Masker
	strictDates *Masker
}

// NewRegistry compiles both masker variants.
func NewRegistry() *Registry {
	return &Registry{
		standard:    New(Options{}),
		strictDates: New(Options{DateStrictness: true}),
	}
}

// For returns the masker matching the active policy's date strictness.
func (r *Registry) For(dateStrictness bool) *Masker {
	if dateStrictness {
		return r.strictDates
	}
	return r.standard
}
