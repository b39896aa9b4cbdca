package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/guard"
	"github.com/DanielWarg/fortknox/core/knox"
	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/DanielWarg/fortknox/core/sanitize"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/transcribe"
	"github.com/DanielWarg/fortknox/core/vault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	store  *store.Store
	vault  *vault.Vault
	runner *Runner
	engine *knox.FixtureEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
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
	log := zap.NewNop()

	engine := knox.NewFixtureEngine()
	orc := knox.NewOrchestrator(st, engine, "gpt-oss:20b", g, log)

	san := sanitize.NewService(mask.NewRegistry(), st, v, g, log)
	refiner, err := transcribe.NewRefiner(filepath.Join(t.TempDir(), "no_table.yaml"), log)
	if err != nil {
		t.Fatalf("refiner: %v", err)
	}
	stt := &transcribe.StaticEngine{Transcript: transcribe.Transcript{Segments: []transcribe.Segment{
		{Start: 0, End: 4.5, Text: "Vi går igenom läget i granskningen."},
		{Start: 4.5, End: 9, Text: "Nästa möte bokas efter intervjun."},
	}}}
	ts := transcribe.NewService(stt, refiner, san, st, v, g, log)

	r := NewRunner(st, 5*time.Second, log)
	r.interval = 10 * time.Millisecond
	r.Register(store.JobKnoxCompile, NewCompileHandler(orc))
	r.Register(store.JobTranscribe, NewTranscribeHandler(ts))
	return &fixture{store: st, vault: v, runner: r, engine: engine}
}

// start runs the pool and returns a stop func that blocks until all
// workers have exited.
func (f *fixture) start(t *testing.T, workers int) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx, workers) }()
	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("runner: %v", err)
		}
	}
}

func waitTerminal(t *testing.T, st *store.Store, jobID string) *store.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := st.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if j.Status == store.JobSucceeded || j.Status == store.JobFailed {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func newProject(t *testing.T, st *store.Store) *store.Project {
	t.Helper()
	p, err := st.CreateProject(context.Background(), "Granskningen", store.ClassSensitive, nil, "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func compileFixture() *knox.Response {
	return &knox.Response{
		TemplateID:       "veckorapport",
		Language:         "sv",
		Title:            "Veckorapport",
		ExecutiveSummary: "Arbetet fortskrider enligt plan utan nya hinder.",
		Themes:           []knox.Theme{{Name: "Upphandling", Bullets: []string{"Avvikelser kvarstår"}}},
		Risks:            []knox.Risk{{Risk: "Källan tvekar", Mitigation: "Säkra dokumentation"}},
		NextSteps:        []string{"Begär ut handlingar"},
		Confidence:       "medium",
	}
}

func TestRunner_CompileJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := newProject(t, f.store)

	doc := &store.Document{
		ProjectID:      p.ID,
		Filename:       "underlag.txt",
		FileType:       store.FileTypeTXT,
		MaskedText:     "Underlaget beskriver tre avvikelser i upphandlingen.",
		SanitizeLevel:  mask.LevelStrict,
		Classification: store.ClassSensitive,
		Usage:          mask.Restrictions(mask.LevelStrict),
		SHA256:         "abc",
	}
	if err := f.store.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("insert document: %v", err)
	}
	f.engine.Register("external", "veckorapport", compileFixture())

	job, err := f.runner.EnqueueCompile(ctx, CompileInput{
		ProjectID: p.ID, PolicyID: "external", TemplateID: "veckorapport",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stop := f.start(t, 2)
	defer stop()

	got := waitTerminal(t, f.store, job.ID)
	if got.Status != store.JobSucceeded {
		t.Fatalf("status = %s (%s: %s)", got.Status, got.ErrorCode, got.ErrorDetail)
	}
	report, err := f.store.GetReport(ctx, got.ResultRef)
	if err != nil {
		t.Fatalf("result report: %v", err)
	}
	if report.ProjectID != p.ID || report.PolicyID != "external" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRunner_TranscribeJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := newProject(t, f.store)

	ref, err := f.vault.Put(p.ID, vault.KindAudio, []byte("audio-bytes"))
	if err != nil {
		t.Fatalf("put audio: %v", err)
	}
	job, err := f.runner.EnqueueTranscribe(ctx, transcribe.StoredInput{
		ProjectID: p.ID,
		Actor:     "redaktör",
		Filename:  "intervju.m4a",
		Mime:      "audio/mp4",
		BlobRef:   string(ref),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stop := f.start(t, 1)
	defer stop()

	got := waitTerminal(t, f.store, job.ID)
	if got.Status != store.JobSucceeded {
		t.Fatalf("status = %s (%s: %s)", got.Status, got.ErrorCode, got.ErrorDetail)
	}
	doc, err := f.store.GetDocument(ctx, got.ResultRef)
	if err != nil {
		t.Fatalf("result document: %v", err)
	}
	if doc.FileType != store.FileTypeAudio {
		t.Fatalf("file type = %s", doc.FileType)
	}
}

func TestRunner_FailedJobCarriesErrorCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := newProject(t, f.store) // no documents, no notes

	job, err := f.runner.EnqueueCompile(ctx, CompileInput{
		ProjectID: p.ID, PolicyID: "internal", TemplateID: "veckorapport",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stop := f.start(t, 1)
	defer stop()

	got := waitTerminal(t, f.store, job.ID)
	if got.Status != store.JobFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorCode != string(core.CodeEmptyInputSet) {
		t.Fatalf("error code = %q", got.ErrorCode)
	}
	if got.ResultRef != "" {
		t.Fatalf("failed job has result ref %q", got.ResultRef)
	}
}

func TestRunner_MalformedPayloadFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.store.CreateJob(ctx, store.JobKnoxCompile, "{not json")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	stop := f.start(t, 1)
	defer stop()

	got := waitTerminal(t, f.store, job.ID)
	if got.Status != store.JobFailed || got.ErrorCode != string(core.CodeValidationError) {
		t.Fatalf("job = %s/%s", got.Status, got.ErrorCode)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	code, _ := errorCode(core.NewError(core.CodeFortKnoxOffline, "no remote"))
	if code != string(core.CodeFortKnoxOffline) {
		t.Fatalf("coded error mapped to %q", code)
	}
	code, detail := errorCode(context.DeadlineExceeded)
	if code != string(core.CodeTimeout) || detail == "" {
		t.Fatalf("deadline mapped to %q/%q", code, detail)
	}
	code, detail = errorCode(context.Canceled)
	if code != "" || detail == "" {
		t.Fatalf("plain error mapped to %q/%q", code, detail)
	}
}
