package knox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/DanielWarg/fortknox/core"
)

// Engine compiles a pack into a structured response. The HTTP client and
// the test-mode fixture engine both implement it.
type Engine interface {
	ID() string
	Compile(ctx context.Context, req *CompileRequest) (*Response, error)
}

// CompileRequest is the wire payload for the remote compile endpoint.
// Sources carry type and title only.
type CompileRequest struct {
	Policy           PolicyMeta    `json:"policy"`
	TemplateID       string        `json:"template_id"`
	InputFingerprint string        `json:"input_fingerprint"`
	Documents        []PayloadItem `json:"documents"`
	Notes            []PayloadItem `json:"notes"`
	Sources          []SourceItem  `json:"sources"`
}

// PolicyMeta is the policy metadata the remote sees.
type PolicyMeta struct {
	ID              string `json:"id"`
	Version         string `json:"version"`
	QuoteLimitWords int    `json:"quote_limit_words"`
	DateStrictness  bool   `json:"date_strictness"`
	Model           string `json:"model"`
}

// NewCompileRequest assembles the wire payload from a pack and policy.
func NewCompileRequest(p *Pack, policy *Policy, templateID, model string) *CompileRequest {
	return &CompileRequest{
		Policy: PolicyMeta{
			ID:              policy.ID,
			Version:         policy.Version,
			QuoteLimitWords: policy.QuoteLimitWords,
			DateStrictness:  policy.DateStrictness,
			Model:           model,
		},
		TemplateID:       templateID,
		InputFingerprint: p.Fingerprint,
		Documents:        p.Documents,
		Notes:            p.Notes,
		Sources:          p.Sources,
	}
}

// Client calls the remote Fort Knox engine over HTTP. Requests are rate
// limited to one in flight per second so a burst of compile jobs cannot
// overwhelm a local model server.
type Client struct {
	id      string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient builds a remote engine client with the given per-request
// timeout.
func NewClient(id, baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		id:      id,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// ID implements Engine.
func (c *Client) ID() string { return c.id }

// Compile POSTs the request and decodes the response against the closed
// schema. Deadline overruns map to TIMEOUT, transport failures to
// NETWORK_ERROR; neither is retried here.
func (c *Client) Compile(ctx context.Context, req *CompileRequest) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, core.NewError(core.CodeTimeout, "compile deadline exceeded while rate limited")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/compile", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, core.NewError(core.CodeTimeout, "remote compile timed out")
		}
		return nil, core.NewError(core.CodeNetworkError, "remote compile unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.NewError(core.CodeNetworkError,
			fmt.Sprintf("remote compile returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, core.NewError(core.CodeNetworkError, "reading remote response failed")
	}
	return ParseResponse(data)
}

func isTimeout(err error) bool {
	var to interface{ Timeout() bool }
	if errors.As(err, &to) {
		return to.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
