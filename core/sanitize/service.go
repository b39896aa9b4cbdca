package sanitize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/guard"
	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/vault"
)

// ladder is the escalation order of the pipeline.
var ladder = []mask.Level{mask.LevelNormal, mask.LevelStrict, mask.LevelParanoid}

// Result is the outcome of one pipeline run: masked text, the level that
// finally passed the leak gate, the replacement stats, and whether exact
// dates were masked away.
type Result struct {
	Text        string
	Level       mask.Level
	SHA256      string
	Stats       mask.Stats
	DatesMasked bool
}

// Service drives the sanitization pipeline. All persisted writes go through
// the store; all blobs through the vault; all audit records through the
// guard.
type Service struct {
	masks *mask.Registry
	store *store.Store
	vault *vault.Vault
	guard *guard.Guard
	log   *zap.Logger
}

// NewService wires a sanitization service.
func NewService(masks *mask.Registry, st *store.Store, v *vault.Vault, g *guard.Guard, log *zap.Logger) *Service {
	return &Service{masks: masks, store: st, vault: v, guard: g, log: log}
}

// Apply runs the pipeline on raw text: normalize, mask at the floor level,
// check for leaks, and escalate one level at a time. Source-sensitive
// content passes strictDates, which pulls exact dates into the strict
// level instead of waiting for paranoid. If paranoid output still leaks,
// the text is unmaskable and the pipeline fails terminally.
func (s *Service) Apply(floor mask.Level, strictDates bool, text string) (Result, error) {
	clean := Normalize(text)
	masker := s.masks.For(strictDates)

	for _, level := range ladder {
		if !level.AtLeast(floor) {
			continue
		}
		masked, stats := masker.Mask(level, clean)
		if leaks := mask.CheckLeaks(masked); len(leaks) > 0 {
			s.log.Debug("leak gate escalating",
				zap.String("from_level", string(level)),
				zap.Strings("leak_classes", leaks))
			continue
		}
		return Result{
			Text:        masked,
			Level:       level,
			SHA256:      hashText(masked),
			Stats:       stats,
			DatesMasked: level == mask.LevelParanoid || (strictDates && level.AtLeast(mask.LevelStrict)),
		}, nil
	}
	return Result{}, core.NewError(core.CodeUnmaskable, "text still leaks after paranoid masking")
}

// strictDatesFor reports whether a classification masks exact dates from
// the strict level up. Source-sensitive material treats dates as
// identifying: a precise meeting date can expose a source.
func strictDatesFor(class store.Classification) bool {
	return class == store.ClassSourceSensitive
}

// IngestInput describes one upload entering the pipeline.
type IngestInput struct {
	ProjectID    string
	Actor        string
	Filename     string
	FileType     store.FileType
	Raw          []byte
	KeepOriginal bool
}

// IngestDocument extracts, sanitizes, and persists an uploaded document.
// The original bytes are stored in the vault only when requested; the
// masked text is the only payload that ever becomes readable.
func (s *Service) IngestDocument(ctx context.Context, in IngestInput) (*store.Document, error) {
	if in.ProjectID == "" || len(in.Raw) == 0 {
		return nil, core.NewError(core.CodeValidationError, "project id and file content are required")
	}
	project, err := s.store.GetProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	raw, err := Extract(in.FileType, in.Raw)
	if err != nil {
		return nil, core.NewError(core.CodeValidationError, err.Error())
	}

	res, err := s.Apply(mask.LevelNormal, strictDatesFor(project.Classification), raw)
	if err != nil {
		return nil, err
	}

	var blobRef string
	if in.KeepOriginal {
		ref, err := s.vault.Put(in.ProjectID, vault.KindOriginal, in.Raw)
		if err != nil {
			return nil, fmt.Errorf("sanitize: storing original: %w", err)
		}
		blobRef = string(ref)
	}

	doc := &store.Document{
		ProjectID:       in.ProjectID,
		Filename:        in.Filename,
		FileType:        in.FileType,
		OriginalBlobRef: blobRef,
		MaskedText:      res.Text,
		SanitizeLevel:   res.Level,
		Classification:  project.Classification,
		Usage:           mask.Restrictions(res.Level),
		SHA256:          res.SHA256,
		DatetimeMasked:  res.DatesMasked,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, in.ProjectID, in.Actor, "document_uploaded", map[string]string{
		"document_id":    doc.ID,
		"file_type":      string(doc.FileType),
		"sanitize_level": string(doc.SanitizeLevel),
		"replacements":   strconv.Itoa(res.Stats.Total()),
	})
	s.log.Info("document ingested",
		zap.String("project_id", in.ProjectID),
		zap.String("document_id", doc.ID),
		zap.String("sanitize_level", string(doc.SanitizeLevel)),
		zap.Int("replacements", res.Stats.Total()))
	return doc, nil
}

// CreateProjectNote sanitizes and persists a project note. Notes are born
// masked; the raw body is discarded after this call.
func (s *Service) CreateProjectNote(ctx context.Context, projectID, actor, title, body string) (*store.ProjectNote, error) {
	if projectID == "" || body == "" {
		return nil, core.NewError(core.CodeValidationError, "project id and note body are required")
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	res, err := s.Apply(mask.LevelNormal, strictDatesFor(project.Classification), body)
	if err != nil {
		return nil, err
	}

	note := &store.ProjectNote{
		ProjectID:     projectID,
		Title:         title,
		MaskedBody:    res.Text,
		SanitizeLevel: res.Level,
		SHA256:        res.SHA256,
	}
	if err := s.store.InsertProjectNote(ctx, note); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, projectID, actor, "note_created", map[string]string{
		"note_id":        note.ID,
		"sanitize_level": string(note.SanitizeLevel),
	})
	return note, nil
}

// BumpDocumentLevel re-runs the pipeline at a stricter level. The source is
// the stored original when one exists; a document whose original blob has
// gone missing cannot be re-sanitized from scratch and fails with
// ORIGINAL_MISSING. Text-born documents re-mask their masked text, which is
// safe because masking is monotone. Bumping to the current level is a
// no-op; a lower target is rejected, levels only ever go up.
func (s *Service) BumpDocumentLevel(ctx context.Context, id, actor string, target mask.Level) (*store.Document, error) {
	if !target.Valid() {
		return nil, core.NewError(core.CodeValidationError, "unknown sanitize level")
	}
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == doc.SanitizeLevel {
		return doc, nil
	}
	if doc.SanitizeLevel.AtLeast(target) {
		return nil, core.NewError(core.CodeValidationError, "sanitize level can only be raised")
	}

	source := doc.MaskedText
	if doc.OriginalBlobRef != "" {
		data, err := s.vault.Get(vault.Ref(doc.OriginalBlobRef))
		if errors.Is(err, vault.ErrMissing) {
			if markErr := s.store.MarkDocumentOriginalMissing(ctx, id); markErr != nil {
				return nil, markErr
			}
			return nil, core.NewError(core.CodeOriginalMissing, "original blob no longer on disk")
		}
		if err != nil {
			return nil, err
		}
		raw, err := Extract(doc.FileType, data)
		if err != nil {
			return nil, core.NewError(core.CodeValidationError, err.Error())
		}
		source = raw
	}

	res, err := s.Apply(target, strictDatesFor(doc.Classification), source)
	if err != nil {
		return nil, err
	}
	err = s.store.UpdateDocumentMasked(ctx, id, res.Text, res.Level,
		mask.Restrictions(res.Level), res.SHA256, res.DatesMasked)
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, doc.ProjectID, actor, "sanitize_level_bumped", map[string]string{
		"document_id": id,
		"from_level":  string(doc.SanitizeLevel),
		"to_level":    string(res.Level),
	})
	return s.store.GetDocument(ctx, id)
}

// BumpNoteLevel escalates a project note. Notes never have an original, so
// the masked body is always the source. Same level rules as documents:
// equal target is a no-op, a lower one is rejected.
func (s *Service) BumpNoteLevel(ctx context.Context, id, actor string, target mask.Level) (*store.ProjectNote, error) {
	if !target.Valid() {
		return nil, core.NewError(core.CodeValidationError, "unknown sanitize level")
	}
	note, err := s.store.GetProjectNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == note.SanitizeLevel {
		return note, nil
	}
	if note.SanitizeLevel.AtLeast(target) {
		return nil, core.NewError(core.CodeValidationError, "sanitize level can only be raised")
	}
	project, err := s.store.GetProject(ctx, note.ProjectID)
	if err != nil {
		return nil, err
	}

	res, err := s.Apply(target, strictDatesFor(project.Classification), note.MaskedBody)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateProjectNoteMasked(ctx, id, res.Text, res.Level, res.SHA256); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, note.ProjectID, actor, "sanitize_level_bumped", map[string]string{
		"note_id":    id,
		"from_level": string(note.SanitizeLevel),
		"to_level":   string(res.Level),
	})
	return s.store.GetProjectNote(ctx, id)
}

// EditDocumentMasked replaces a document's masked text with an edited
// version. The edit re-enters the pipeline at the document's current level,
// so pasted-in sensitive text is masked (and may escalate the level) before
// anything is stored.
func (s *Service) EditDocumentMasked(ctx context.Context, id, actor, newText string) (*store.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := s.Apply(doc.SanitizeLevel, strictDatesFor(doc.Classification), newText)
	if err != nil {
		return nil, err
	}
	err = s.store.UpdateDocumentMasked(ctx, id, res.Text, res.Level,
		mask.Restrictions(res.Level), res.SHA256, res.DatesMasked)
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, doc.ProjectID, actor, "document_edited", map[string]string{
		"document_id":    id,
		"sanitize_level": string(res.Level),
	})
	return s.store.GetDocument(ctx, id)
}

// EditNoteMasked replaces a note's masked body through the same pipeline.
func (s *Service) EditNoteMasked(ctx context.Context, id, actor, newBody string) (*store.ProjectNote, error) {
	note, err := s.store.GetProjectNote(ctx, id)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, note.ProjectID)
	if err != nil {
		return nil, err
	}

	res, err := s.Apply(note.SanitizeLevel, strictDatesFor(project.Classification), newBody)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateProjectNoteMasked(ctx, id, res.Text, res.Level, res.SHA256); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, note.ProjectID, actor, "note_edited", map[string]string{
		"note_id":        id,
		"sanitize_level": string(res.Level),
	})
	return s.store.GetProjectNote(ctx, id)
}

// appendEvent records an audit event through the guard. A guard rejection
// (strict mode) is a programming error in the metadata map; it is logged
// and the event dropped rather than failing the user operation.
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

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
