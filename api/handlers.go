package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/volley"
	"github.com/xraph/volley/controller"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/telemetry"
)

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Last     *report.Report    `json:"last,omitempty"`
	Memory   controller.Memory `json:"memory"`
	Tunables ConfigResponse    `json:"tunables"`
}

// NodeResponse is one entry of GET /v1/nodes.
type NodeResponse struct {
	ID        fleet.NodeID      `json:"id"`
	Total     float64           `json:"total"`
	Used      float64           `json:"used"`
	Free      float64           `json:"free"`
	Committed *report.Committed `json:"committed,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// TelemetryResponse is the body of GET /v1/telemetry.
type TelemetryResponse struct {
	Current *telemetry.Window `json:"current,omitempty"`
	Last    *telemetry.Window `json:"last,omitempty"`
	Closed  int               `json:"closed"`
}

// ConfigResponse renders the tunables with human-readable durations.
type ConfigResponse struct {
	Tick        string            `json:"tick"`
	Spacer      string            `json:"spacer"`
	DelayBucket string            `json:"delay_bucket"`
	Thresholds  volley.Thresholds `json:"thresholds"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// ConfigRequest is the body of PUT /v1/config. Omitted fields keep their
// current value.
type ConfigRequest struct {
	Tick        string             `json:"tick,omitempty"`
	Spacer      string             `json:"spacer,omitempty"`
	DelayBucket string             `json:"delay_bucket,omitempty"`
	Thresholds  *volley.Thresholds `json:"thresholds,omitempty"`
}

func configResponse(t controller.Tunables) ConfigResponse {
	return ConfigResponse{
		Tick:        t.Tick.String(),
		Spacer:      t.Spacer.String(),
		DelayBucket: t.DelayBucket.String(),
		Thresholds:  t.Thresholds,
		Warnings:    t.Warnings(),
	}
}

// apply overlays the request onto t.
func (req ConfigRequest) apply(t controller.Tunables) (controller.Tunables, error) {
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"tick", req.Tick, &t.Tick},
		{"spacer", req.Spacer, &t.Spacer},
		{"delay_bucket", req.DelayBucket, &t.DelayBucket},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return t, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = d
	}
	if req.Thresholds != nil {
		t.Thresholds = *req.Thresholds
	}
	return t, nil
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Last:     a.sched.Last(),
		Memory:   a.sched.Memory(),
		Tunables: configResponse(a.sched.Tunables()),
	})
}

func (a *API) nodes(w http.ResponseWriter, r *http.Request) {
	if a.capacity == nil {
		writeError(w, http.StatusNotImplemented, "no capacity source configured")
		return
	}
	ctx := r.Context()

	ids, err := a.capacity.Nodes(ctx)
	if err != nil {
		a.logger.Warn("api: list nodes failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "list nodes: "+err.Error())
		return
	}

	mem := a.sched.Memory()
	out := make([]NodeResponse, 0, len(ids))
	for _, nid := range ids {
		resp := NodeResponse{ID: nid}
		if c, ok := mem.Get(nid); ok {
			resp.Committed = &c
		}
		n, usageErr := a.capacity.Usage(ctx, nid)
		if usageErr != nil {
			resp.Error = usageErr.Error()
		} else {
			resp.Total, resp.Used, resp.Free = n.Total, n.Used, n.Free()
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) telemetryWindows(w http.ResponseWriter, _ *http.Request) {
	if a.telemetry == nil {
		writeError(w, http.StatusNotImplemented, "telemetry is not enabled")
		return
	}
	resp := TelemetryResponse{Closed: a.telemetry.Closed()}
	if cur, ok := a.telemetry.Current(); ok {
		resp.Current = &cur
	}
	if last, ok := a.telemetry.Last(); ok {
		resp.Last = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) config(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse(a.sched.Tunables()))
}

func (a *API) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	next, err := req.apply(a.sched.Tunables())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sched.SetTunables(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.logger.Info("api: tunables updated",
		slog.Duration("tick", next.Tick),
		slog.Duration("spacer", next.Spacer),
		slog.Duration("delay_bucket", next.DelayBucket),
	)
	writeJSON(w, http.StatusOK, configResponse(a.sched.Tunables()))
}
