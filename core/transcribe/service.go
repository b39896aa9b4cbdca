package transcribe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/guard"
	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/DanielWarg/fortknox/core/sanitize"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/vault"
)

// Transcript markdown section headers. Fixed strings: the renderer is part
// of the deterministic pipeline.
const (
	headerSummary    = "## Sammanfattning"
	headerKeyPoints  = "## Nyckelpunkter"
	headerTranscript = "## Fullständigt transkript"
)

const maxKeyPoints = 5

// Service runs the audio path: vault blob in, sanitized transcript
// document out.
type Service struct {
	engine    Engine
	refiner   *Refiner
	sanitizer *sanitize.Service
	store     *store.Store
	vault     *vault.Vault
	guard     *guard.Guard
	log       *zap.Logger
}

// NewService wires a transcription service.
func NewService(engine Engine, refiner *Refiner, san *sanitize.Service, st *store.Store, v *vault.Vault, g *guard.Guard, log *zap.Logger) *Service {
	return &Service{engine: engine, refiner: refiner, sanitizer: san, store: st, vault: v, guard: g, log: log}
}

// StoreAudio puts uploaded audio into the vault and returns its ref. The
// upload handler calls this before enqueueing the transcription job, so the
// raw audio never rides inside the job row.
func (s *Service) StoreAudio(projectID string, audio []byte) (vault.Ref, error) {
	if len(audio) == 0 {
		return "", core.NewError(core.CodeValidationError, "empty audio upload")
	}
	return s.vault.Put(projectID, vault.KindAudio, audio)
}

// StoredInput identifies an audio blob waiting to be transcribed.
type StoredInput struct {
	ProjectID string `json:"project_id"`
	Actor     string `json:"actor"`
	Filename  string `json:"filename"`
	Mime      string `json:"mime"`
	BlobRef   string `json:"blob_ref"`
	KeepAudio bool   `json:"keep_audio"`
}

// TranscribeStored fetches the audio blob, transcribes it, refines the
// segments, renders the transcript markdown, and ingests it through the
// sanitization pipeline as an audio document.
func (s *Service) TranscribeStored(ctx context.Context, in StoredInput) (*store.Document, error) {
	project, err := s.store.GetProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	audio, err := s.vault.Get(vault.Ref(in.BlobRef))
	if err != nil {
		return nil, core.NewError(core.CodeOriginalMissing, "audio blob not found")
	}

	// A failed transcription leaves no row or retryable job referencing the
	// blob, so discard it instead of stranding raw audio in the vault.
	discard := func(err error) error {
		if derr := s.vault.Delete(vault.Ref(in.BlobRef)); derr != nil && derr != vault.ErrMissing {
			s.log.Warn("discarding audio blob failed", zap.Error(derr))
		}
		return err
	}

	transcript, err := s.engine.Transcribe(ctx, audio)
	if err != nil {
		return nil, discard(fmt.Errorf("transcribe: %w", err))
	}

	refined := make([]Segment, len(transcript.Segments))
	for i, seg := range transcript.Segments {
		seg.Text = strings.TrimSpace(s.refiner.Apply(seg.Text))
		refined[i] = seg
	}

	markdown := Render(refined)
	res, err := s.sanitizer.Apply(mask.LevelNormal,
		project.Classification == store.ClassSourceSensitive, markdown)
	if err != nil {
		return nil, discard(err)
	}

	blobRef := in.BlobRef
	if !in.KeepAudio {
		if err := s.vault.Delete(vault.Ref(in.BlobRef)); err != nil && err != vault.ErrMissing {
			return nil, err
		}
		blobRef = ""
	}

	doc := &store.Document{
		ProjectID:       in.ProjectID,
		Filename:        in.Filename,
		FileType:        store.FileTypeAudio,
		OriginalBlobRef: blobRef,
		MaskedText:      res.Text,
		SanitizeLevel:   res.Level,
		Classification:  project.Classification,
		Usage:           mask.Restrictions(res.Level),
		SHA256:          res.SHA256,
		DatetimeMasked:  res.DatesMasked,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, discard(err)
	}

	duration := 0.0
	if n := len(refined); n > 0 {
		duration = refined[n-1].End
	}
	s.appendEvent(ctx, in.ProjectID, in.Actor, "recording_transcribed", map[string]string{
		"document_id":    doc.ID,
		"mime":           in.Mime,
		"size":           strconv.Itoa(len(audio)),
		"duration":       strconv.FormatFloat(duration, 'f', 1, 64),
		"engine":         s.engine.ID(),
		"refine_version": strconv.Itoa(s.refiner.Version()),
	})
	s.log.Info("audio transcribed",
		zap.String("project_id", in.ProjectID),
		zap.String("document_id", doc.ID),
		zap.String("engine", s.engine.ID()),
		zap.Int("segments", len(refined)))
	return doc, nil
}

// Render produces the transcript markdown: a short summary, evenly sampled
// key points, and the full timestamped transcript. Purely a function of the
// refined segments.
func Render(segments []Segment) string {
	var b strings.Builder

	b.WriteString(headerSummary)
	b.WriteString("\n\n")
	for i, seg := range segments {
		if i >= 2 {
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(seg.Text)
	}
	b.WriteString("\n\n")

	b.WriteString(headerKeyPoints)
	b.WriteString("\n\n")
	for _, idx := range sampleIndexes(len(segments), maxKeyPoints) {
		b.WriteString("- ")
		b.WriteString(segments[idx].Text)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	b.WriteString(headerTranscript)
	b.WriteString("\n\n")
	for _, seg := range segments {
		b.WriteString(formatTimestamp(seg.Start))
		b.WriteByte(' ')
		b.WriteString(seg.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// sampleIndexes picks up to max evenly spaced indexes from n items,
// always including the first.
func sampleIndexes(n, max int) []int {
	if n <= max {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, max)
	for i := 0; i < max; i++ {
		out[i] = i * n / max
	}
	return out
}

func formatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("[%02d:%02d]", total/60, total%60)
}

func (s *Service) appendEvent(ctx context.Context, projectID, actor, eventType string, metadata map[string]string) {
	rec, err := s.guard.NewRecord(projectID, actor, eventType, metadata)
	if err != nil {
		s.log.Error("audit event rejected by guard", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := s.store.AppendEvent(ctx, rec); err != nil {
		s.log.Error("audit event append failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
