// Package guard enforces the metadata-only event policy. Every metadata map
// that reaches a log line or the audit trail passes through the guard first;
// the guard strips (or rejects) forbidden keys without ever inspecting
// values. The Entity Store accepts only guard-produced Records for events,
// so no code path can write raw content into the audit trail.
package guard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// forbiddenContentKeys is the closed set of keys that may carry document or
// note content. Matching is case-insensitive on the normalized key.
var forbiddenContentKeys = []string{
	"text", "body", "content", "transcript", "note_body", "file_content",
	"payload", "query_params", "query", "segment_text", "transcript_text",
	"file_data", "raw_content", "original_text", "headers", "authorization",
	"cookie",
}

// forbiddenSourceKeys is the closed set of keys that could identify a
// source. Active when source safety mode is on.
var forbiddenSourceKeys = []string{
	"ip", "ip_address", "client_ip", "remote_addr", "x-forwarded-for",
	"x-real-ip", "user_agent", "referer", "referrer", "origin", "url", "uri",
	"filename", "filepath", "file_path", "original_filename", "querystring",
	"query_string", "cookies", "host", "hostname",
}

// Mode selects how the guard reacts to a forbidden key.
type Mode string

const (
	// ModeStrict raises a ContentLeakError on any forbidden key. Used in
	// development so leaks fail loudly.
	ModeStrict Mode = "strict"
	// ModePermissive silently drops forbidden keys and counts the drop.
	// Used in production so a leak never takes the service down.
	ModePermissive Mode = "permissive"
)

// ContentLeakError reports that a metadata map carried a forbidden key.
// The error names the key and context only, never the value.
type ContentLeakError struct {
	Key     string
	Context string
}

func (e *ContentLeakError) Error() string {
	return fmt.Sprintf("forbidden metadata key %q in %s", e.Key, e.Context)
}

// Guard validates metadata maps against the forbidden key sets. Safe for
// concurrent use.
type Guard struct {
	mode             Mode
	sourceSafetyMode bool
	forbidden        map[string]struct{}

	mu    sync.Mutex
	drops map[string]int // context -> dropped key count
}

// Options configures a Guard. SourceSafetyMode defaults to true: the
// source-identifier keys are only allowed through when it is explicitly
// disabled.
type Options struct {
	Mode              Mode
	DisableSourceSafe bool
}

// New builds a Guard for the given options.
func New(opts Options) *Guard {
	mode := opts.Mode
	if mode == "" {
		mode = ModePermissive
	}
	g := &Guard{
		mode:             mode,
		sourceSafetyMode: !opts.DisableSourceSafe,
		forbidden:        make(map[string]struct{}, len(forbiddenContentKeys)+len(forbiddenSourceKeys)),
		drops:            make(map[string]int),
	}
	for _, k := range forbiddenContentKeys {
		g.forbidden[k] = struct{}{}
	}
	if g.sourceSafetyMode {
		for _, k := range forbiddenSourceKeys {
			g.forbidden[k] = struct{}{}
		}
	}
	return g
}

// Mode returns the guard's active mode.
func (g *Guard) Mode() Mode { return g.mode }

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func (g *Guard) isForbidden(key string) bool {
	_, ok := g.forbidden[normalizeKey(key)]
	return ok
}

// SanitizeForLogging returns a copy of metadata with every forbidden key
// removed. Values are never read. One drop counter is incremented per
// removed key.
func (g *Guard) SanitizeForLogging(metadata map[string]string, context string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if g.isForbidden(k) {
			g.countDrop(context)
			continue
		}
		out[k] = v
	}
	return out
}

// AssertNoContent verifies that metadata carries no forbidden key. In strict
// mode the first forbidden key (in sorted order, for determinism) produces a
// ContentLeakError. In permissive mode forbidden keys are dropped from the
// map copy and counted. The returned map is always safe to record.
func (g *Guard) AssertNoContent(metadata map[string]string, context string) (map[string]string, error) {
	if g.mode == ModeStrict {
		keys := make([]string, 0, len(metadata))
		for k := range metadata {
			if g.isForbidden(k) {
				keys = append(keys, normalizeKey(k))
			}
		}
		if len(keys) > 0 {
			sort.Strings(keys)
			return nil, &ContentLeakError{Key: keys[0], Context: context}
		}
		out := make(map[string]string, len(metadata))
		for k, v := range metadata {
			out[k] = v
		}
		return out, nil
	}
	return g.SanitizeForLogging(metadata, context), nil
}

func (g *Guard) countDrop(context string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drops[context]++
}

// DropCounts returns a copy of the per-context drop counters.
func (g *Guard) DropCounts() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.drops))
	for k, v := range g.drops {
		out[k] = v
	}
	return out
}

// Record is an audit event whose metadata has passed the guard. It can only
// be built through Guard.NewRecord, which is what lets the store require a
// guard-produced value at its append site.
type Record struct {
	ProjectID string
	Actor     string
	EventType string
	At        time.Time
	metadata  map[string]string
}

// NewRecord validates metadata through AssertNoContent and wraps it in a
// Record. The context for error reporting is the event type.
func (g *Guard) NewRecord(projectID, actor, eventType string, metadata map[string]string) (Record, error) {
	clean, err := g.AssertNoContent(metadata, eventType)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ProjectID: projectID,
		Actor:     actor,
		EventType: eventType,
		At:        time.Now().UTC(),
		metadata:  clean,
	}, nil
}

// Metadata returns a copy of the record's cleaned metadata.
func (r Record) Metadata() map[string]string {
	out := make(map[string]string, len(r.metadata))
	for k, v := range r.metadata {
		out[k] = v
	}
	return out
}
