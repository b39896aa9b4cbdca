// Package transcribe turns uploaded audio into sanitized transcript
// documents: a speech-to-text engine produces segments, a versioned
// refinement table cleans them up, and the result is rendered to markdown
// and pushed through the sanitization pipeline like any other text.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Segment is one timed chunk of recognized speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the raw engine output before refinement.
type Transcript struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Engine is a pluggable speech-to-text backend.
type Engine interface {
	ID() string
	Transcribe(ctx context.Context, audio []byte) (*Transcript, error)
}

// httpEngine speaks to a local whisper-style server:
// POST {base}/transcribe with raw audio, JSON transcript back.
type httpEngine struct {
	id      string
	baseURL string
	client  *http.Client
}

// NewHTTPEngine builds an engine client for a whisper-style HTTP server.
func NewHTTPEngine(id, baseURL string) Engine {
	return &httpEngine{
		id:      id,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (e *httpEngine) ID() string { return e.id }

func (e *httpEngine) Transcribe(ctx context.Context, audio []byte) (*Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/transcribe", bytes.NewReader(audio))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: engine request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcribe: engine returned %d", resp.StatusCode)
	}

	var t Transcript
	dec := json.NewDecoder(resp.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("transcribe: decoding engine response: %w", err)
	}
	if len(t.Segments) == 0 {
		return nil, fmt.Errorf("transcribe: engine returned no segments")
	}
	return &t, nil
}

// StaticEngine returns a fixed transcript regardless of input. Used in test
// mode so the full audio path can run without a speech model.
type StaticEngine struct {
	Transcript Transcript
}

// ID implements Engine.
func (e *StaticEngine) ID() string { return "static" }

// Transcribe implements Engine.
func (e *StaticEngine) Transcribe(_ context.Context, _ []byte) (*Transcript, error) {
	t := e.Transcript
	return &t, nil
}
