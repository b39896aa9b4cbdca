package sanitize

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/guard"
	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/vault"
)

func newTestService(t *testing.T) (*Service, *store.Store, *vault.Vault) {
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
	svc := NewService(mask.NewRegistry(), st, v, g, zap.NewNop())
	return svc, st, v
}

func newProject(t *testing.T, st *store.Store) *store.Project {
	t.Helper()
	p, err := st.CreateProject(context.Background(), "Granskningen", store.ClassSensitive, nil, "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func TestNormalize(t *testing.T) {
	in := "Hej\u200b   du\r\nRad  två\t \r"
	got := Normalize(in)
	if got != "Hej du\nRad två" {
		t.Fatalf("normalize: %q", got)
	}
}

// buildPDF writes a minimal one-page PDF whose content stream is
// Flate-compressed, the way real exporters write them.
func buildPDF(t *testing.T, content string) []byte {
	t.Helper()

	var stream bytes.Buffer
	zw := zlib.NewWriter(&stream)
	if _, err := zw.Write([]byte("BT /F1 12 Tf 72 720 Td (" + content + ") Tj ET")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	offsets := make([]int, 6)
	buf.WriteString("%PDF-1.4\n")
	writeObj := func(n int, body string) {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, body)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>")
	offsets[4] = buf.Len()
	fmt.Fprintf(&buf, "4 0 obj\n<< /Length %d /Filter /FlateDecode >>\nstream\n", stream.Len())
	buf.Write(stream.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	writeObj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	xref := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for n := 1; n <= 5; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

func TestExtractPDF(t *testing.T) {
	raw := buildPDF(t, "Hemligt mote pa redaktionen")
	text, err := Extract(store.FileTypePDF, raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(text, "Hemligt mote") {
		t.Fatalf("unexpected text: %q", text)
	}

	if _, err := Extract(store.FileTypePDF, []byte("not a pdf")); err == nil {
		t.Fatal("expected error for non-PDF bytes")
	}
	if _, err := Extract(store.FileTypePDF, []byte("%PDF-1.4\nno text layer")); err == nil {
		t.Fatal("expected error for PDF without a parseable structure")
	}
}

func TestExtractPlain_RejectsBinary(t *testing.T) {
	if _, err := Extract(store.FileTypeTXT, []byte{0xff, 0xfe, 0x00}); err == nil {
		t.Fatal("expected error for invalid UTF-8")
	}
}

func TestIngestDocument_MasksAndRecords(t *testing.T) {
	svc, st, v := newTestService(t)
	p := newProject(t, st)
	ctx := context.Background()

	doc, err := svc.IngestDocument(ctx, IngestInput{
		ProjectID:    p.ID,
		Actor:        "redaktör",
		Filename:     "tips.txt",
		FileType:     store.FileTypeTXT,
		Raw:          []byte("Tipsaren anna.b@example.com ringde 070-123 45 67 den 2025-06-01."),
		KeepOriginal: true,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if doc.SanitizeLevel != mask.LevelNormal {
		t.Fatalf("expected normal level, got %s", doc.SanitizeLevel)
	}
	if !strings.Contains(doc.MaskedText, "[EMAIL]") || !strings.Contains(doc.MaskedText, "[PHONE]") {
		t.Fatalf("pii not masked: %q", doc.MaskedText)
	}
	if !strings.Contains(doc.MaskedText, "2025-06-01") {
		t.Fatalf("date should survive at normal: %q", doc.MaskedText)
	}
	if !v.Exists(vault.Ref(doc.OriginalBlobRef)) {
		t.Fatal("original blob not stored")
	}

	events, err := st.ListEventsByProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "document_uploaded" {
		t.Fatalf("unexpected events: %+v", events)
	}
	for _, v := range events[0].Metadata {
		if strings.Contains(v, "anna.b@example.com") {
			t.Fatal("event metadata carries content")
		}
	}
}

func TestIngestDocument_EscalatesToParanoid(t *testing.T) {
	svc, st, _ := newTestService(t)
	p := newProject(t, st)

	// Dot-separated phone numbers slip past the masking rules but trip the
	// broader leak gate, forcing escalation until nothing matches.
	doc, err := svc.IngestDocument(context.Background(), IngestInput{
		ProjectID: p.ID,
		Actor:     "redaktör",
		Filename:  "källa.txt",
		FileType:  store.FileTypeTXT,
		Raw:       []byte("Nå honom på 070.123.45.67 efter klockan fem."),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if doc.SanitizeLevel != mask.LevelParanoid {
		t.Fatalf("expected paranoid escalation, got %s", doc.SanitizeLevel)
	}
	if doc.Usage.AIAllowed || doc.Usage.ExportAllowed {
		t.Fatalf("paranoid text must be restricted: %+v", doc.Usage)
	}
	if leaks := mask.CheckLeaks(doc.MaskedText); len(leaks) > 0 {
		t.Fatalf("stored text still leaks: %v", leaks)
	}
}

func TestIngestDocument_Unmaskable(t *testing.T) {
	svc, st, _ := newTestService(t)
	p := newProject(t, st)

	// A TLD-less mailbox matches the leak gate's broader email shape but
	// never the masking rule, so no level can clean it.
	_, err := svc.IngestDocument(context.Background(), IngestInput{
		ProjectID: p.ID,
		Actor:     "redaktör",
		Filename:  "x.txt",
		FileType:  store.FileTypeTXT,
		Raw:       []byte("Kontakta agent@internal direkt."),
	})
	var coded *core.CodedError
	if !errors.As(err, &coded) || coded.Code != core.CodeUnmaskable {
		t.Fatalf("expected UNMASKABLE, got %v", err)
	}
}

func TestIngestDocument_Validation(t *testing.T) {
	svc, st, _ := newTestService(t)
	p := newProject(t, st)

	_, err := svc.IngestDocument(context.Background(), IngestInput{
		ProjectID: p.ID, FileType: store.FileTypeTXT,
	})
	var coded *core.CodedError
	if !errors.As(err, &coded) || coded.Code != core.CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestBumpDocumentLevel(t *testing.T) {
	svc, st, _ := newTestService(t)
	p := newProject(t, st)
	ctx := context.Background()

	doc, err := svc.IngestDocument(ctx, IngestInput{
		ProjectID:    p.ID,
		Actor:        "redaktör",
		Filename:     "ekonomi.txt",
		FileType:     store.FileTypeTXT,
		Raw:          []byte("Fakturan på 123456 kr betalades, referens 9876543."),
		KeepOriginal: true,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !strings.Contains(doc.MaskedText, "9876543") {
		t.Fatalf("long number should survive at normal: %q", doc.MaskedText)
	}

	bumped, err := svc.BumpDocumentLevel(ctx, doc.ID, "redaktör", mask.LevelStrict)
	if err != nil {
		t.Fatalf("bump: %v", err)
	}
	if bumped.SanitizeLevel != mask.LevelStrict {
		t.Fatalf("expected strict, got %s", bumped.SanitizeLevel)
	}
	if !strings.Contains(bumped.MaskedText, "123456 kr") {
		t.Fatalf("amount should stay readable at strict: %q", bumped.MaskedText)
	}
	if strings.Contains(bumped.MaskedText, "9876543") {
		t.Fatalf("long number should be masked at strict: %q", bumped.MaskedText)
	}

	// Bumping to the current level is a no-op; a lower target is rejected.
	again, err := svc.BumpDocumentLevel(ctx, doc.ID, "redaktör", mask.LevelStrict)
	if err != nil {
		t.Fatalf("noop bump: %v", err)
	}
	if again.SanitizeLevel != mask.LevelStrict {
		t.Fatalf("noop bump changed level: %s", again.SanitizeLevel)
	}
	_, err = svc.BumpDocumentLevel(ctx, doc.ID, "redaktör", mask.LevelNormal)
	var coded *core.CodedError
	if !errors.As(err, &coded) || coded.Code != core.CodeValidationError {
		t.Fatalf("lower target should be rejected, got %v", err)
	}
}

func TestBumpNoteLevel_RejectsLowerTarget(t *testing.T) {
	svc, st, _ := newTestService(t)
	p := newProject(t, st)
	ctx := context.Background()

	note, err := svc.CreateProjectNote(ctx, p.ID, "redaktör", "Läge", "Inget känsligt här.")
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	if _, err := svc.BumpNoteLevel(ctx, note.ID, "redaktör", mask.LevelParanoid); err != nil {
		t.Fatalf("bump note: %v", err)
	}

	_, err = svc.BumpNoteLevel(ctx, note.ID, "redaktör", mask.LevelStrict)
	var coded *core.CodedError
	if !errors.As(err, &coded) || coded.Code != core.CodeValidationError {
		t.Fatalf("lower target should be rejected, got %v", err)
	}
}

func TestBumpDocument_SourceSensitiveMasksDates(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	ingest := func(p *store.Project) *store.Document {
		t.Helper()
		doc, err := svc.IngestDocument(ctx, IngestInput{
			ProjectID:    p.ID,
			Actor:        "redaktör",
			Filename:     "möte.txt",
			FileType:     store.FileTypeTXT,
			Raw:          []byte("Mötet med källan hölls den 2025-06-01."),
			KeepOriginal: true,
		})
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		return doc
	}

	ss, err := st.CreateProject(ctx, "Källkänsligt", store.ClassSourceSensitive, nil, "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	doc := ingest(ss)
	if !strings.Contains(doc.MaskedText, "2025-06-01") || doc.DatetimeMasked {
		t.Fatalf("date should survive at normal: %q", doc.MaskedText)
	}

	bumped, err := svc.BumpDocumentLevel(ctx, doc.ID, "redaktör", mask.LevelStrict)
	if err != nil {
		t.Fatalf("bump: %v", err)
	}
	if strings.Contains(bumped.MaskedText, "2025-06-01") || !strings.Contains(bumped.MaskedText, "[DATE]") {
		t.Fatalf("exact date must be masked at strict for source-sensitive material: %q", bumped.MaskedText)
	}
	if !bumped.DatetimeMasked {
		t.Fatal("datetime_masked should be set")
	}

	// A merely sensitive project keeps dates readable at strict.
	doc2 := ingest(newProject(t, st))
	bumped2, err := svc.BumpDocumentLevel(ctx, doc2.ID, "redaktör", mask.LevelStrict)
	if err != nil {
		t.Fatalf("bump: %v", err)
	}
	if !strings.Contains(bumped2.MaskedText, "2025-06-01") || bumped2.DatetimeMasked {
		t.Fatalf("date should stay readable at strict for sensitive material: %q", bumped2.MaskedText)
	}
}

func TestBumpDocumentLevel_OriginalMissing(t *testing.T) {
	svc, st, v := newTestService(t)
	p := newProject(t, st)
	ctx := context.Background()

	doc, err := svc.IngestDocument(ctx, IngestInput{
		ProjectID:    p.ID,
		Actor:        "redaktör",
		Filename:     "underlag.txt",
		FileType:     store.FileTypeTXT,
		Raw:          []byte("Helt vanlig text utan känsligt innehåll."),
		KeepOriginal: true,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := v.Delete(vault.Ref(doc.OriginalBlobRef)); err != nil {
		t.Fatalf("delete blob: %v", err)
	}

	_, err = svc.BumpDocumentLevel(ctx, doc.ID, "redaktör", mask.LevelStrict)
	var coded *core.CodedError
	if !errors.As(err, &coded) || coded.Code != core.CodeOriginalMissing {
		t.Fatalf("expected ORIGINAL_MISSING, got %v", err)
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.OriginalMissing {
		t.Fatal("document should be flagged original_missing")
	}
}

func TestEditDocumentMasked_RemasksPastedPII(t *testing.T) {
	svc, st, _ := newTestService(t)
	p := newProject(t, st)
	ctx := context.Background()

	doc, err := svc.IngestDocument(ctx, IngestInput{
		ProjectID: p.ID,
		Actor:     "redaktör",
		Filename:  "utkast.txt",
		FileType:  store.FileTypeTXT,
		Raw:       []byte("Första versionen."),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	edited, err := svc.EditDocumentMasked(ctx, doc.ID, "redaktör",
		"Uppdaterad version, ring 070-123 45 67.")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !strings.Contains(edited.MaskedText, "[PHONE]") {
		t.Fatalf("pasted phone not masked: %q", edited.MaskedText)
	}
}

func TestProjectNote_CreateBumpEdit(t *testing.T) {
	svc, st, _ := newTestService(t)
	p := newProject(t, st)
	ctx := context.Background()

	note, err := svc.CreateProjectNote(ctx, p.ID, "redaktör", "Möte",
		"Träffade källan, mejl anna.b@example.com.")
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	if !strings.Contains(note.MaskedBody, "[EMAIL]") {
		t.Fatalf("note body not masked: %q", note.MaskedBody)
	}

	bumped, err := svc.BumpNoteLevel(ctx, note.ID, "redaktör", mask.LevelStrict)
	if err != nil {
		t.Fatalf("bump note: %v", err)
	}
	if bumped.SanitizeLevel != mask.LevelStrict {
		t.Fatalf("expected strict, got %s", bumped.SanitizeLevel)
	}

	edited, err := svc.EditNoteMasked(ctx, note.ID, "redaktör", "Ny text med 19850315-1234 i.")
	if err != nil {
		t.Fatalf("edit note: %v", err)
	}
	if !strings.Contains(edited.MaskedBody, "[PERSONNUMMER]") {
		t.Fatalf("pnr not masked on edit: %q", edited.MaskedBody)
	}
	if edited.SanitizeLevel != mask.LevelStrict {
		t.Fatalf("edit must keep the bumped level, got %s", edited.SanitizeLevel)
	}
}
