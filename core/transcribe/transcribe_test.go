package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DanielWarg/fortknox/core/guard"
	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/DanielWarg/fortknox/core/sanitize"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/vault"
)

const testTable = `version: 3
rules:
  - find: "eh"
    replace: ""
  - find: "liksom"
    replace: ""
  - find: "anna b"
    replace: "Anna Bergström"
`

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refine_rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRefiner_Apply(t *testing.T) {
	r, err := NewRefiner(writeTable(t, testTable), zap.NewNop())
	if err != nil {
		t.Fatalf("new refiner: %v", err)
	}
	if r.Version() != 3 {
		t.Fatalf("version = %d, want 3", r.Version())
	}

	got := r.Apply("Eh alltså anna b sa liksom att det stämmer")
	if strings.Contains(got, "liksom") || strings.Contains(strings.ToLower(got), "eh ") {
		t.Fatalf("fillers not removed: %q", got)
	}
	if !strings.Contains(got, "Anna Bergström") {
		t.Fatalf("name not corrected: %q", got)
	}

	// Same table, same input, same output.
	if again := r.Apply("Eh alltså anna b sa liksom att det stämmer"); again != got {
		t.Fatalf("refinement not deterministic: %q vs %q", again, got)
	}
}

func TestRefiner_MissingFileIsEmpty(t *testing.T) {
	r, err := NewRefiner(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())
	if err != nil {
		t.Fatalf("new refiner: %v", err)
	}
	if r.Version() != 0 {
		t.Fatalf("version = %d, want 0", r.Version())
	}
	if got := r.Apply("oförändrad text"); got != "oförändrad text" {
		t.Fatalf("empty refiner changed text: %q", got)
	}
}

func TestRefiner_RejectsUnversionedTable(t *testing.T) {
	path := writeTable(t, "rules:\n  - find: x\n    replace: y\n")
	if _, err := NewRefiner(path, zap.NewNop()); err == nil {
		t.Fatal("expected error for table without version")
	}
}

func TestRefiner_HotReload(t *testing.T) {
	path := writeTable(t, testTable)
	r, err := NewRefiner(path, zap.NewNop())
	if err != nil {
		t.Fatalf("new refiner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Watch(ctx)
	}()

	if err := os.WriteFile(path, []byte("version: 4\nrules: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.Version() != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("table not reloaded, version still %d", r.Version())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestRender_Deterministic(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 4, Text: "Välkomna till mötet."},
		{Start: 4, End: 9, Text: "Vi går igenom granskningen."},
		{Start: 9, End: 140, Text: "Budgeten diskuterades länge."},
	}
	md := Render(segs)

	for _, header := range []string{headerSummary, headerKeyPoints, headerTranscript} {
		if !strings.Contains(md, header) {
			t.Fatalf("missing header %q in %q", header, md)
		}
	}
	if !strings.Contains(md, "[00:09] Budgeten diskuterades länge.") {
		t.Fatalf("timestamped line missing: %q", md)
	}
	if again := Render(segs); again != md {
		t.Fatal("render not deterministic")
	}
}

func TestSampleIndexes(t *testing.T) {
	if got := sampleIndexes(3, 5); len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("small n: %v", got)
	}
	got := sampleIndexes(100, 5)
	if len(got) != 5 || got[0] != 0 {
		t.Fatalf("large n: %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("indexes not increasing: %v", got)
		}
	}
}

func TestTranscribeStored(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	v, err := vault.New(filepath.Join(t.TempDir(), "vault"))
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	g := guard.New(guard.Options{Mode: guard.ModeStrict})
	san := sanitize.NewService(mask.NewRegistry(), st, v, g, zap.NewNop())
	refiner, err := NewRefiner(writeTable(t, testTable), zap.NewNop())
	if err != nil {
		t.Fatalf("new refiner: %v", err)
	}

	engine := &StaticEngine{Transcript: Transcript{
		Language: "sv",
		Segments: []Segment{
			{Start: 0, End: 5, Text: "Eh alltså anna b ringde från 070-123 45 67."},
			{Start: 5, End: 12, Text: "Hon bekräftade uppgifterna liksom."},
		},
	}}
	svc := NewService(engine, refiner, san, st, v, g, zap.NewNop())

	ctx := context.Background()
	p, err := st.CreateProject(ctx, "Granskningen", store.ClassSensitive, nil, "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	ref, err := svc.StoreAudio(p.ID, []byte("fake-audio-bytes"))
	if err != nil {
		t.Fatalf("store audio: %v", err)
	}

	doc, err := svc.TranscribeStored(ctx, StoredInput{
		ProjectID: p.ID,
		Actor:     "redaktör",
		Filename:  "intervju.wav",
		Mime:      "audio/wav",
		BlobRef:   string(ref),
		KeepAudio: true,
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}

	if doc.FileType != store.FileTypeAudio {
		t.Fatalf("file type = %s", doc.FileType)
	}
	if !strings.Contains(doc.MaskedText, headerTranscript) {
		t.Fatalf("transcript structure missing: %q", doc.MaskedText)
	}
	if !strings.Contains(doc.MaskedText, "[PHONE]") {
		t.Fatalf("phone in speech not masked: %q", doc.MaskedText)
	}
	if !strings.Contains(doc.MaskedText, "Anna Bergström") {
		t.Fatalf("refinement not applied: %q", doc.MaskedText)
	}
	if strings.Contains(doc.MaskedText, "liksom") {
		t.Fatalf("filler not removed: %q", doc.MaskedText)
	}
	if !v.Exists(vault.Ref(doc.OriginalBlobRef)) {
		t.Fatal("audio blob should be kept")
	}

	events, err := st.ListEventsByProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "recording_transcribed" {
		t.Fatalf("unexpected events: %+v", events)
	}
	md := events[0].Metadata
	if md["refine_version"] != "3" || md["mime"] != "audio/wav" {
		t.Fatalf("metadata incomplete: %v", md)
	}
	for _, v := range md {
		if strings.Contains(v, "bekräftade") {
			t.Fatal("transcript text leaked into event metadata")
		}
	}
}

// brokenEngine always fails, standing in for a crashed speech model.
type brokenEngine struct{}

func (brokenEngine) ID() string { return "broken" }

func (brokenEngine) Transcribe(context.Context, []byte) (*Transcript, error) {
	return nil, errors.New("model unavailable")
}

func TestTranscribeStored_DiscardsAudioOnFailure(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	v, err := vault.New(filepath.Join(t.TempDir(), "vault"))
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	g := guard.New(guard.Options{Mode: guard.ModeStrict})
	san := sanitize.NewService(mask.NewRegistry(), st, v, g, zap.NewNop())
	refiner, err := NewRefiner(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())
	if err != nil {
		t.Fatalf("new refiner: %v", err)
	}
	svc := NewService(brokenEngine{}, refiner, san, st, v, g, zap.NewNop())

	ctx := context.Background()
	p, err := st.CreateProject(ctx, "P", store.ClassSensitive, nil, "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	ref, err := svc.StoreAudio(p.ID, []byte("audio"))
	if err != nil {
		t.Fatalf("store audio: %v", err)
	}

	if _, err := svc.TranscribeStored(ctx, StoredInput{
		ProjectID: p.ID, Actor: "redaktör", Filename: "a.wav",
		BlobRef: string(ref), KeepAudio: true,
	}); err == nil {
		t.Fatal("expected engine failure")
	}

	// No document row ever references the blob after a failure, so keeping
	// it would strand raw audio that a project delete has to find by
	// walking the vault. Discard it immediately instead.
	if v.Exists(ref) {
		t.Fatal("audio blob should be discarded after a failed transcription")
	}
	orphans, err := v.ListOrphans(p.ID)
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("orphans remain: %v", orphans)
	}
}

func TestTranscribeStored_DropsAudioByDefault(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	v, err := vault.New(filepath.Join(t.TempDir(), "vault"))
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	g := guard.New(guard.Options{Mode: guard.ModeStrict})
	san := sanitize.NewService(mask.NewRegistry(), st, v, g, zap.NewNop())
	refiner, err := NewRefiner(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())
	if err != nil {
		t.Fatalf("new refiner: %v", err)
	}
	engine := &StaticEngine{Transcript: Transcript{
		Language: "sv",
		Segments: []Segment{{Start: 0, End: 3, Text: "Kort möte utan känsligt innehåll."}},
	}}
	svc := NewService(engine, refiner, san, st, v, g, zap.NewNop())

	ctx := context.Background()
	p, err := st.CreateProject(ctx, "P", store.ClassSensitive, nil, "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	ref, err := svc.StoreAudio(p.ID, []byte("audio"))
	if err != nil {
		t.Fatalf("store audio: %v", err)
	}

	doc, err := svc.TranscribeStored(ctx, StoredInput{
		ProjectID: p.ID, Actor: "redaktör", Filename: "a.wav", BlobRef: string(ref),
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if doc.OriginalBlobRef != "" {
		t.Fatal("audio ref should be cleared")
	}
	if v.Exists(ref) {
		t.Fatal("audio blob should be deleted")
	}
}
