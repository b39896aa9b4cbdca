package knox

import "strings"

// Snapshot is the masked export view of a project: manifest, counts, and a
// concatenated markdown export of everything whose usage allows export.
type Snapshot struct {
	InputManifest  []ManifestEntry `json:"input_manifest"`
	Counts         SnapshotCounts  `json:"counts"`
	ExportMarkdown string          `json:"export_markdown"`
}

// SnapshotCounts summarizes the pack contents.
type SnapshotCounts struct {
	Documents int `json:"documents"`
	Notes     int `json:"notes"`
	Sources   int `json:"sources"`
	Withheld  int `json:"withheld"`
}

func newSnapshot(p *Pack) *Snapshot {
	s := &Snapshot{
		InputManifest: p.Manifest,
		Counts: SnapshotCounts{
			Documents: len(p.Documents),
			Notes:     len(p.Notes),
			Sources:   len(p.Sources),
		},
	}

	var b strings.Builder
	for _, item := range p.items {
		if !item.exportAllowed {
			s.Counts.Withheld++
			continue
		}
		b.WriteString(item.text)
		b.WriteString("\n\n---\n\n")
	}
	s.ExportMarkdown = strings.TrimSuffix(b.String(), "\n\n---\n\n")
	return s
}
