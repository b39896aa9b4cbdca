package knox

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/guard"
	"github.com/DanielWarg/fortknox/core/store"
)

// Orchestrator runs the compile cycle end to end. A nil engine means the
// system is offline: cached reports are still served, fresh compiles fail
// with FORTKNOX_OFFLINE.
type Orchestrator struct {
	store   *store.Store
	builder *Builder
	engine  Engine
	model   string
	guard   *guard.Guard
	log     *zap.Logger
}

// NewOrchestrator wires a compile orchestrator.
func NewOrchestrator(st *store.Store, engine Engine, model string, g *guard.Guard, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:   st,
		builder: NewBuilder(st),
		engine:  engine,
		model:   model,
		guard:   g,
		log:     log,
	}
}

// Compile executes the ordered algorithm: build pack, input gate,
// idempotency lookup, remote call, output gate, render, idempotent save,
// event. The idempotency lookup runs before the offline check so a cached
// report is served even without a remote. Cancellation is cooperative:
// the deadline is checked between stages, never mid-request.
func (o *Orchestrator) Compile(ctx context.Context, projectID, policyID, templateID string, sel *Selection) (*store.Report, error) {
	policy, err := PolicyByID(policyID)
	if err != nil {
		return nil, core.NewError(core.CodeValidationError, err.Error())
	}
	if templateID == "" {
		return nil, core.NewError(core.CodeValidationError, "template_id is required")
	}

	pack, err := o.builder.Build(ctx, projectID, sel)
	if err != nil {
		return nil, err
	}

	in := InputGate(pack, policy)
	if !in.Passed {
		if len(in.Reasons) == 1 && in.Reasons[0] == "empty_input_set" {
			return nil, core.NewGateError(core.CodeEmptyInputSet, in.Reasons)
		}
		return nil, core.NewGateError(core.CodeInputGateFailed, in.Reasons)
	}

	existing, err := o.store.FindReport(ctx, projectID, policyID, templateID, pack.Fingerprint)
	if err == nil {
		o.log.Info("compile served from cache",
			zap.String("policy_id", policyID),
			zap.String("template_id", templateID),
			zap.String("input_fingerprint", pack.Fingerprint))
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, core.NewError(core.CodeTimeout, "compile deadline exceeded")
	}
	if o.engine == nil {
		return nil, core.NewError(core.CodeFortKnoxOffline, "no remote engine configured")
	}

	req := NewCompileRequest(pack, policy, templateID, o.model)
	start := time.Now()
	resp, err := o.engine.Compile(ctx, req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		var coded *core.CodedError
		if errors.As(err, &coded) {
			return nil, coded
		}
		return nil, core.NewError(core.CodeNetworkError, err.Error())
	}

	rendered := Render(resp)
	out := OutputGate(resp, rendered, pack, policy)
	if !out.Passed {
		o.log.Warn("output gate rejected remote response",
			zap.String("policy_id", policyID),
			zap.String("template_id", templateID),
			zap.Strings("reasons", out.Reasons))
		return nil, core.NewGateError(core.CodeOutputGateFailed, out.Reasons)
	}

	manifestJSON, err := CanonicalJSON(pack.Manifest)
	if err != nil {
		return nil, err
	}
	gatesJSON, err := json.Marshal(GateResults{Input: in, Output: out})
	if err != nil {
		return nil, err
	}

	report := &store.Report{
		ProjectID:        projectID,
		PolicyID:         policyID,
		PolicyVersion:    policy.Version,
		RulesetHash:      policy.RulesetHash(),
		TemplateID:       templateID,
		EngineID:         o.engine.ID(),
		InputFingerprint: pack.Fingerprint,
		InputManifest:    string(manifestJSON),
		GateResults:      string(gatesJSON),
		RenderedMarkdown: rendered,
		LatencyMS:        latency,
	}
	winner, inserted, err := o.store.SaveReportIfAbsent(ctx, report)
	if err != nil {
		return nil, err
	}

	if inserted {
		o.appendEvent(ctx, projectID, "system", "knox_report_created", map[string]string{
			"report_id":         winner.ID,
			"policy_id":         policyID,
			"template_id":       templateID,
			"input_fingerprint": pack.Fingerprint,
			"latency_ms":        strconv.FormatInt(latency, 10),
		})
	}
	o.log.Info("compile finished",
		zap.String("policy_id", policyID),
		zap.String("template_id", templateID),
		zap.String("input_fingerprint", pack.Fingerprint),
		zap.Int64("latency_ms", latency),
		zap.Bool("from_race_winner", !inserted))
	return winner, nil
}

// ExportSnapshot returns the masked view of a project: the manifest, item
// counts, and a concatenated masked markdown export. Items whose usage
// forbids export are listed in the manifest but their text is withheld.
func (o *Orchestrator) ExportSnapshot(ctx context.Context, projectID string) (*Snapshot, error) {
	pack, err := o.builder.Build(ctx, projectID, nil)
	if err != nil {
		return nil, err
	}
	return newSnapshot(pack), nil
}

func (o *Orchestrator) appendEvent(ctx context.Context, projectID, actor, eventType string, metadata map[string]string) {
	rec, err := o.guard.NewRecord(projectID, actor, eventType, metadata)
	if err != nil {
		o.log.Error("audit event rejected by guard", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := o.store.AppendEvent(ctx, rec); err != nil {
		o.log.Error("audit event append failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
