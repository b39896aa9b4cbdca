package knox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/DanielWarg/fortknox/core/store"
)

// ManifestEntry describes one pack item without any content: identity,
// content hash, and level only.
type ManifestEntry struct {
	Kind          string `json:"kind"`
	ID            string `json:"id"`
	SHA256        string `json:"sha256,omitempty"`
	URLHash       string `json:"url_hash,omitempty"`
	SanitizeLevel string `json:"sanitize_level,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

// PayloadItem is one masked text shipped to the remote.
type PayloadItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// SourceItem is the only form a source takes in the payload: type and
// title, never the URL.
type SourceItem struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// Selection optionally narrows the compile to specific documents/notes.
// Exclude wins over Include; an empty Include means "everything eligible".
type Selection struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

func (s *Selection) allows(id string) bool {
	if s == nil {
		return true
	}
	for _, ex := range s.Exclude {
		if ex == id {
			return false
		}
	}
	if len(s.Include) == 0 {
		return true
	}
	for _, in := range s.Include {
		if in == id {
			return true
		}
	}
	return false
}

// packItem carries the per-item facts the gates need.
type packItem struct {
	kind          string // "document" or "note"
	id            string
	level         mask.Level
	aiAllowed     bool
	exportAllowed bool
	text          string
}

// Pack is the deterministic bundle handed to the orchestrator: the
// metadata-only manifest with its fingerprint, and the masked payload.
type Pack struct {
	ProjectID   string
	Manifest    []ManifestEntry
	Fingerprint string
	Documents   []PayloadItem
	Notes       []PayloadItem
	Sources     []SourceItem

	items        []packItem
	payloadBytes int
}

// PayloadBytes is the total size of all masked payload texts.
func (p *Pack) PayloadBytes() int { return p.payloadBytes }

// Builder assembles packs from the store.
type Builder struct {
	store *store.Store
}

// NewBuilder returns a pack builder over the store.
func NewBuilder(st *store.Store) *Builder {
	return &Builder{store: st}
}

// Build loads the eligible documents, notes, and sources in their fixed
// sort orders, derives the manifest, and fingerprints it. Journalist notes
// are never loaded. The fingerprint depends only on identity, content
// hashes, levels, and timestamps, so an unchanged project always yields the
// same fingerprint.
func (b *Builder) Build(ctx context.Context, projectID string, sel *Selection) (*Pack, error) {
	if _, err := b.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	docs, err := b.store.ListDocumentsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	notes, err := b.store.ListProjectNotesByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	sources, err := b.store.ListSourcesByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	p := &Pack{ProjectID: projectID}
	for _, d := range docs {
		if d.ExcludedFromCompile || d.MaskedText == "" || !sel.allows(d.ID) {
			continue
		}
		p.Manifest = append(p.Manifest, ManifestEntry{
			Kind:          "document",
			ID:            d.ID,
			SHA256:        d.SHA256,
			SanitizeLevel: string(d.SanitizeLevel),
			UpdatedAt:     manifestTime(d.UpdatedAt),
		})
		p.Documents = append(p.Documents, PayloadItem{ID: d.ID, Text: d.MaskedText})
		p.items = append(p.items, packItem{
			kind: "document", id: d.ID, level: d.SanitizeLevel,
			aiAllowed: d.Usage.AIAllowed, exportAllowed: d.Usage.ExportAllowed,
			text: d.MaskedText,
		})
		p.payloadBytes += len(d.MaskedText)
	}
	for _, n := range notes {
		if n.ExcludedFromCompile || !sel.allows(n.ID) {
			continue
		}
		p.Manifest = append(p.Manifest, ManifestEntry{
			Kind:          "note",
			ID:            n.ID,
			SHA256:        n.SHA256,
			SanitizeLevel: string(n.SanitizeLevel),
			UpdatedAt:     manifestTime(n.UpdatedAt),
		})
		p.Notes = append(p.Notes, PayloadItem{ID: n.ID, Text: n.MaskedBody})
		usage := mask.Restrictions(n.SanitizeLevel)
		p.items = append(p.items, packItem{
			kind: "note", id: n.ID, level: n.SanitizeLevel,
			aiAllowed: usage.AIAllowed, exportAllowed: usage.ExportAllowed,
			text: n.MaskedBody,
		})
		p.payloadBytes += len(n.MaskedBody)
	}
	for _, src := range sources {
		p.Manifest = append(p.Manifest, ManifestEntry{
			Kind:      "source",
			ID:        src.ID,
			URLHash:   hashHex(src.URL),
			UpdatedAt: manifestTime(src.CreatedAt),
		})
		p.Sources = append(p.Sources, SourceItem{Type: string(src.Type), Title: src.Title})
	}

	canon, err := CanonicalJSON(p.Manifest)
	if err != nil {
		return nil, fmt.Errorf("knox: fingerprinting manifest: %w", err)
	}
	p.Fingerprint = hashHex(string(canon))
	return p, nil
}

func manifestTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
