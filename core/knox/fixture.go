package knox

import (
	"context"
	"fmt"
	"sync"
)

// FixtureEngine serves canned responses keyed by (policy_id, template_id).
// Active in test mode so the full compile cycle, gates included, runs
// deterministically without a remote. It counts calls so idempotence tests
// can assert zero remote invocations on a cache hit.
type FixtureEngine struct {
	mu       sync.Mutex
	fixtures map[string]*Response
	calls    int
}

// NewFixtureEngine returns an empty fixture engine.
func NewFixtureEngine() *FixtureEngine {
	return &FixtureEngine{fixtures: make(map[string]*Response)}
}

func fixtureKey(policyID, templateID string) string {
	return policyID + "/" + templateID
}

// Register installs the response served for a policy/template pair.
func (e *FixtureEngine) Register(policyID, templateID string, resp *Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fixtures[fixtureKey(policyID, templateID)] = resp
}

// Calls returns how many compile calls reached the engine.
func (e *FixtureEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// ID implements Engine.
func (e *FixtureEngine) ID() string { return "fixture" }

// Compile implements Engine.
func (e *FixtureEngine) Compile(_ context.Context, req *CompileRequest) (*Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	resp, ok := e.fixtures[fixtureKey(req.Policy.ID, req.TemplateID)]
	if !ok {
		return nil, fmt.Errorf("knox: no fixture for policy %q template %q", req.Policy.ID, req.TemplateID)
	}
	r := *resp
	return &r, nil
}
