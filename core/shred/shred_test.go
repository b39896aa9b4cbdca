package shred

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/DanielWarg/fortknox/core/guard"
	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/vault"
)

func newFixture(t *testing.T) (*Service, *store.Store, *vault.Vault) {
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
	return NewService(st, v, g, zap.NewNop()), st, v
}

func seedProject(t *testing.T, st *store.Store, v *vault.Vault) *store.Project {
	t.Helper()
	ctx := context.Background()
	p, err := st.CreateProject(ctx, "Raderas", store.ClassSourceSensitive, nil, "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	ref, err := v.Put(p.ID, vault.KindOriginal, []byte("originalinnehåll"))
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}
	doc := &store.Document{
		ProjectID:       p.ID,
		Filename:        "underlag.txt",
		FileType:        store.FileTypeTXT,
		OriginalBlobRef: string(ref),
		MaskedText:      "maskerad text",
		SanitizeLevel:   mask.LevelStrict,
		Classification:  store.ClassSourceSensitive,
		Usage:           mask.Restrictions(mask.LevelStrict),
		SHA256:          "abc",
	}
	if err := st.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("insert doc: %v", err)
	}
	jn := &store.JournalistNote{ProjectID: p.ID, Body: "privat", Category: store.CategoryRaw}
	if err := st.InsertJournalistNote(ctx, jn); err != nil {
		t.Fatalf("insert note: %v", err)
	}
	return p
}

func TestDeleteProject(t *testing.T) {
	svc, st, v := newFixture(t)
	p := seedProject(t, st, v)
	ctx := context.Background()

	res, err := svc.DeleteProject(ctx, p.ID, "redaktör")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.AlreadyDeleted {
		t.Fatal("should not report already deleted")
	}
	if res.BlobsDeleted != 1 {
		t.Fatalf("blobs deleted = %d, want 1", res.BlobsDeleted)
	}
	if res.Rows.Documents != 1 || res.Rows.JournalistNotes != 1 {
		t.Fatalf("row counts = %+v", res.Rows)
	}

	if _, err := st.GetProject(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("project should be gone, got %v", err)
	}
	orphans, err := v.ListOrphans(p.ID)
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("orphans remain: %v", orphans)
	}

	// Only the final project_deleted event survives.
	events, err := st.ListEventsByProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "project_deleted" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Metadata["blobs_deleted"] != "1" {
		t.Fatalf("metadata = %v", events[0].Metadata)
	}
}

func TestDeleteProject_Idempotent(t *testing.T) {
	svc, st, v := newFixture(t)
	p := seedProject(t, st, v)
	ctx := context.Background()

	if _, err := svc.DeleteProject(ctx, p.ID, "redaktör"); err != nil {
		t.Fatalf("delete 1: %v", err)
	}
	res, err := svc.DeleteProject(ctx, p.ID, "redaktör")
	if err != nil {
		t.Fatalf("delete 2: %v", err)
	}
	if !res.AlreadyDeleted {
		t.Fatal("second delete should be a no-op")
	}

	// The audit record from the first delete is untouched.
	events, err := st.ListEventsByProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
}

func TestDeleteProject_ToleratesMissingBlob(t *testing.T) {
	svc, st, v := newFixture(t)
	p := seedProject(t, st, v)
	ctx := context.Background()

	refs, err := v.ListOrphans(p.ID)
	if err != nil || len(refs) != 1 {
		t.Fatalf("refs: %v %v", refs, err)
	}
	if err := v.Delete(refs[0]); err != nil {
		t.Fatalf("pre-delete blob: %v", err)
	}

	res, err := svc.DeleteProject(ctx, p.ID, "redaktör")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.BlobsDeleted != 0 {
		t.Fatalf("blobs deleted = %d, want 0", res.BlobsDeleted)
	}
}

func TestDeleteProject_RemovesUnreferencedAudio(t *testing.T) {
	svc, st, v := newFixture(t)
	p := seedProject(t, st, v)
	ctx := context.Background()

	// Audio uploaded for transcription whose job never produced a document:
	// no row references the blob, but the delete must still shred it.
	audioRef, err := v.Put(p.ID, vault.KindAudio, []byte("raw-audio-bytes"))
	if err != nil {
		t.Fatalf("put audio: %v", err)
	}

	res, err := svc.DeleteProject(ctx, p.ID, "redaktör")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.BlobsDeleted != 2 {
		t.Fatalf("blobs deleted = %d, want 2", res.BlobsDeleted)
	}
	if v.Exists(audioRef) {
		t.Fatal("unreferenced audio blob survived the delete")
	}
	if _, err := st.GetProject(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("project should be gone, got %v", err)
	}
	orphans, err := v.ListOrphans(p.ID)
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("orphans remain: %v", orphans)
	}
}
