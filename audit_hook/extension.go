package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/volley"
	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/target"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Extension)(nil)
	_ ext.TargetChanged    = (*Extension)(nil)
	_ ext.ModeChanged      = (*Extension)(nil)
	_ ext.PlanChanged      = (*Extension)(nil)
	_ ext.NodeCancelled    = (*Extension)(nil)
	_ ext.DispatchLaunched = (*Extension)(nil)
	_ ext.DispatchRejected = (*Extension)(nil)
	_ ext.Shutdown         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audited scheduler decision.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder returns a Recorder that writes every event to logger, at
// Warn for warning or critical severity and Info otherwise.
func LogRecorder(logger *slog.Logger) Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		if evt.Severity != SeverityInfo {
			level = slog.LevelWarn
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("category", evt.Category),
			slog.String("resource", evt.Resource),
			slog.String("outcome", evt.Outcome),
		}
		if evt.ResourceID != "" {
			attrs = append(attrs, slog.String("resource_id", evt.ResourceID))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges controller decisions to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Tick hooks ──────────────────────────────────────

// OnTargetChanged implements ext.TargetChanged.
func (e *Extension) OnTargetChanged(ctx context.Context, from, to target.ID) error {
	return e.record(ctx, ActionTargetChanged, SeverityInfo, OutcomeSuccess,
		ResourceTarget, to.String(), CategoryTarget, "",
		"from", from.String(),
	)
}

// OnModeChanged implements ext.ModeChanged.
func (e *Extension) OnModeChanged(ctx context.Context, from, to volley.Mode) error {
	return e.record(ctx, ActionModeChanged, SeverityInfo, OutcomeSuccess,
		ResourceScheduler, "", CategoryScheduler, "",
		"from", from.String(),
		"to", to.String(),
	)
}

// ── Node hooks ──────────────────────────────────────

// OnPlanChanged implements ext.PlanChanged.
func (e *Extension) OnPlanChanged(ctx context.Context, node fleet.NodeID, from, to report.Committed) error {
	return e.record(ctx, ActionPlanChanged, SeverityInfo, OutcomeSuccess,
		ResourceNode, node.String(), CategoryNode, "",
		"from_target", from.Target.String(),
		"from_mode", from.Mode.String(),
		"from_plan", from.PlanKey,
		"to_target", to.Target.String(),
		"to_mode", to.Mode.String(),
		"to_plan", to.PlanKey,
	)
}

// OnNodeCancelled implements ext.NodeCancelled. A cancel that failed
// leaves dispatches running, so the event is raised to a warning.
func (e *Extension) OnNodeCancelled(ctx context.Context, node fleet.NodeID, cancels []report.Cancel) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	var reason string
	kinds := make([]string, 0, len(cancels))
	failed := 0
	for _, c := range cancels {
		kinds = append(kinds, c.Kind.String())
		if c.Error != "" {
			failed++
			if reason == "" {
				reason = fmt.Sprintf("%s: %s", c.Kind, c.Error)
			}
		}
	}
	if failed > 0 {
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, ActionNodeCancelled, severity, outcome,
		ResourceNode, node.String(), CategoryNode, reason,
		"kinds", kinds,
		"failed", failed,
	)
}

// OnDispatchLaunched implements ext.DispatchLaunched.
func (e *Extension) OnDispatchLaunched(ctx context.Context, l report.Launch) error {
	return e.record(ctx, ActionDispatchLaunched, SeverityInfo, OutcomeSuccess,
		ResourceDispatch, string(l.Handle), CategoryDispatch, "",
		"node", l.Node.String(),
		"target", l.Key.Target.String(),
		"kind", l.Key.Kind.String(),
		"threads", l.Threads,
		"delay_ms", l.Key.Delay.Milliseconds(),
		"mode", l.Key.Mode.String(),
	)
}

// OnDispatchRejected implements ext.DispatchRejected.
func (e *Extension) OnDispatchRejected(ctx context.Context, r report.Rejection) error {
	return e.record(ctx, ActionDispatchRejected, SeverityWarning, OutcomeFailure,
		ResourceDispatch, "", CategoryDispatch, r.Error,
		"node", r.Node.String(),
		"target", r.Key.Target.String(),
		"kind", r.Key.Kind.String(),
		"threads", r.Threads,
	)
}

// ── Other hooks ─────────────────────────────────────

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionShutdown, SeverityInfo, OutcomeSuccess,
		ResourceScheduler, "", CategoryScheduler, "",
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
