package knox

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Theme groups bullets under a named heading in the compiled report.
type Theme struct {
	Name    string   `json:"name"`
	Bullets []string `json:"bullets"`
}

// Risk pairs a risk with its mitigation.
type Risk struct {
	Risk       string `json:"risk"`
	Mitigation string `json:"mitigation"`
}

// Response is the closed schema the remote must produce. Unknown fields are
// rejected at decode time; Validate enforces the value constraints.
type Response struct {
	TemplateID        string   `json:"template_id"`
	Language          string   `json:"language"`
	Title             string   `json:"title"`
	ExecutiveSummary  string   `json:"executive_summary"`
	Themes            []Theme  `json:"themes"`
	TimelineHighLevel []string `json:"timeline_high_level"`
	Risks             []Risk   `json:"risks"`
	OpenQuestions     []string `json:"open_questions"`
	NextSteps         []string `json:"next_steps"`
	Confidence        string   `json:"confidence"`
}

var validConfidence = map[string]struct{}{
	"low": {}, "medium": {}, "high": {},
}

// ParseResponse decodes remote output against the closed schema.
func ParseResponse(data []byte) (*Response, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var r Response
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("knox: response does not match schema: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the value constraints the decoder cannot express.
func (r *Response) Validate() error {
	if r.Language != "sv" {
		return fmt.Errorf("knox: response language must be sv, got %q", r.Language)
	}
	if r.Title == "" {
		return fmt.Errorf("knox: response missing title")
	}
	if r.TemplateID == "" {
		return fmt.Errorf("knox: response missing template_id")
	}
	if _, ok := validConfidence[r.Confidence]; !ok {
		return fmt.Errorf("knox: invalid confidence %q", r.Confidence)
	}
	return nil
}
