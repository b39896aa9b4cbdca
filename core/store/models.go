package store

import (
	"time"

	"github.com/DanielWarg/fortknox/core/mask"
)

// Classification grades how sensitive a project is. It never downgrades
// silently: UpdateProjectClassification rejects any move toward public.
type Classification string

// Project classifications ordered from least to most sensitive.
const (
	ClassPublic          Classification = "public"
	ClassSensitive       Classification = "sensitive"
	ClassSourceSensitive Classification = "source-sensitive"
)

var classRank = map[Classification]int{
	ClassPublic:          0,
	ClassSensitive:       1,
	ClassSourceSensitive: 2,
}

// Valid reports whether c is a known classification.
func (c Classification) Valid() bool {
	_, ok := classRank[c]
	return ok
}

// AtLeast reports whether c is at or above other in sensitivity.
func (c Classification) AtLeast(other Classification) bool {
	return classRank[c] >= classRank[other]
}

// ProjectStatus is the editorial workflow state of a project.
type ProjectStatus string

// Project statuses.
const (
	StatusResearch   ProjectStatus = "research"
	StatusProcessing ProjectStatus = "processing"
	StatusFactCheck  ProjectStatus = "fact_check"
	StatusReady      ProjectStatus = "ready"
	StatusArchived   ProjectStatus = "archived"
)

var validStatus = map[ProjectStatus]struct{}{
	StatusResearch: {}, StatusProcessing: {}, StatusFactCheck: {},
	StatusReady: {}, StatusArchived: {},
}

// Valid reports whether s is a known status.
func (s ProjectStatus) Valid() bool {
	_, ok := validStatus[s]
	return ok
}

// MaxProjectTags caps the tag list per project.
const MaxProjectTags = 10

// Project is the root entity that owns everything else.
type Project struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Classification Classification `json:"classification"`
	Status         ProjectStatus  `json:"status"`
	DueDate        string         `json:"due_date,omitempty"`
	Tags           []string       `json:"tags"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// FileType classifies a document's origin.
type FileType string

// Document file types.
const (
	FileTypePDF           FileType = "pdf"
	FileTypeTXT           FileType = "txt"
	FileTypeAudio         FileType = "audio"
	FileTypeNoteDerived   FileType = "note-derived"
	FileTypeReportDerived FileType = "report-derived"
)

// Document holds masked text, the only externally readable payload. The
// original bytes (when present) live in the File Vault behind
// OriginalBlobRef.
type Document struct {
	ID                  string         `json:"id"`
	ProjectID           string         `json:"project_id"`
	Filename            string         `json:"filename"`
	FileType            FileType       `json:"file_type"`
	OriginalBlobRef     string         `json:"-"`
	MaskedText          string         `json:"masked_text,omitempty"`
	SanitizeLevel       mask.Level     `json:"sanitize_level"`
	Classification      Classification `json:"classification"`
	Usage               mask.Usage     `json:"usage_restrictions"`
	SHA256              string         `json:"sha256"`
	ExcludedFromCompile bool           `json:"excluded_from_compile"`
	DatetimeMasked      bool           `json:"datetime_masked"`
	OriginalMissing     bool           `json:"original_missing"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// ProjectNote is born masked: it never holds an original blob.
type ProjectNote struct {
	ID                  string     `json:"id"`
	ProjectID           string     `json:"project_id"`
	Title               string     `json:"title,omitempty"`
	MaskedBody          string     `json:"masked_body"`
	SanitizeLevel       mask.Level `json:"sanitize_level"`
	ExcludedFromCompile bool       `json:"excluded_from_compile"`
	SHA256              string     `json:"sha256"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NoteCategory classifies a journalist's private note.
type NoteCategory string

// Journalist note categories.
const (
	CategoryRaw        NoteCategory = "raw"
	CategoryWork       NoteCategory = "work"
	CategoryReflection NoteCategory = "reflection"
	CategoryQuestion   NoteCategory = "question"
	CategorySource     NoteCategory = "source"
	CategoryOther      NoteCategory = "other"
)

var validCategory = map[NoteCategory]struct{}{
	CategoryRaw: {}, CategoryWork: {}, CategoryReflection: {},
	CategoryQuestion: {}, CategorySource: {}, CategoryOther: {},
}

// Valid reports whether c is a known category.
func (c NoteCategory) Valid() bool {
	_, ok := validCategory[c]
	return ok
}

// JournalistNote is private, user-owned raw text. It never passes the
// masker and is never eligible for compile.
type JournalistNote struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"project_id"`
	Body      string       `json:"body"`
	Category  NoteCategory `json:"category"`
	ImageRefs []string     `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// SourceType classifies a source record.
type SourceType string

// Source types.
const (
	SourceLink     SourceType = "link"
	SourcePerson   SourceType = "person"
	SourceDocument SourceType = "document"
	SourceOther    SourceType = "other"
)

var validSourceType = map[SourceType]struct{}{
	SourceLink: {}, SourcePerson: {}, SourceDocument: {}, SourceOther: {},
}

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	_, ok := validSourceType[t]
	return ok
}

// Source carries metadata only; it never holds body text.
type Source struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Title     string     `json:"title"`
	Type      SourceType `json:"type"`
	URL       string     `json:"-"`
	Comment   string     `json:"comment,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Event is a guard-approved append-only audit record.
type Event struct {
	ID        int64             `json:"id"`
	ProjectID string            `json:"project_id"`
	Actor     string            `json:"actor"`
	EventType string            `json:"event_type"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// JobKind identifies what a background job does.
type JobKind string

// Job kinds.
const (
	JobTranscribe  JobKind = "transcribe"
	JobKnoxCompile JobKind = "knox_compile"
)

// JobStatus is the lifecycle state of a job. Terminal states are immutable.
type JobStatus string

// Job statuses.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a single-attempt unit of background work.
type Job struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Status      JobStatus  `json:"status"`
	InputRef    string     `json:"input_ref,omitempty"`
	ResultRef   string     `json:"result_ref,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Report is a persisted knox compile result, unique per
// (project, policy, template, fingerprint).
type Report struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	PolicyID         string    `json:"policy_id"`
	PolicyVersion    string    `json:"policy_version"`
	RulesetHash      string    `json:"ruleset_hash"`
	TemplateID       string    `json:"template_id"`
	EngineID         string    `json:"engine_id"`
	InputFingerprint string    `json:"input_fingerprint"`
	InputManifest    string    `json:"input_manifest"`
	GateResults      string    `json:"gate_results"`
	RenderedMarkdown string    `json:"rendered_markdown"`
	LatencyMS        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}
