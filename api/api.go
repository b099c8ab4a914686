package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/volley/controller"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/stream"
	"github.com/xraph/volley/telemetry"
)

// Scheduler is the part of the controller the API reads and tunes.
type Scheduler interface {
	Last() *report.Report
	Memory() controller.Memory
	Tunables() controller.Tunables
	SetTunables(t controller.Tunables) error
}

// Telemetry is the read side of the telemetry aggregator.
type Telemetry interface {
	Current() (telemetry.Window, bool)
	Last() (telemetry.Window, bool)
	Closed() int
}

var (
	_ Scheduler = (*controller.Controller)(nil)
	_ Telemetry = (*telemetry.Aggregator)(nil)
)

// API serves the HTTP surface of a running scheduler.
type API struct {
	sched     Scheduler
	capacity  fleet.Capacity
	telemetry Telemetry
	broker    *stream.Broker
	logger    *slog.Logger
	secret    []byte
	timeout   time.Duration
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithCapacity enables /v1/nodes.
func WithCapacity(c fleet.Capacity) Option {
	return func(a *API) { a.capacity = c }
}

// WithTelemetry enables /v1/telemetry.
func WithTelemetry(t Telemetry) Option {
	return func(a *API) { a.telemetry = t }
}

// WithBroker enables /v1/stream.
func WithBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithJWTSecret requires an HS256 bearer token signed with secret on every
// route. An empty secret leaves the API open.
func WithJWTSecret(secret string) Option {
	return func(a *API) { a.secret = []byte(secret) }
}

// WithRequestTimeout bounds the plain request routes. The stream route is
// never bounded.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *API) { a.timeout = d }
}

// New creates an API around a scheduler.
func New(sched Scheduler, opts ...Option) *API {
	a := &API{
		sched:   sched,
		logger:  slog.Default(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "use a versioned path like /v1/status")
	})

	r.Route("/v1", func(v1 chi.Router) {
		if len(a.secret) > 0 {
			v1.Use(a.authenticate)
		}

		v1.Group(func(g chi.Router) {
			if a.timeout > 0 {
				g.Use(middleware.Timeout(a.timeout))
			}
			g.Get("/status", a.status)
			g.Get("/nodes", a.nodes)
			g.Get("/telemetry", a.telemetryWindows)
			g.Get("/config", a.config)
			g.Put("/config", a.updateConfig)
		})

		v1.Get("/stream", a.stream)
	})
	return r
}

// ──────────────────────────────────────────────────
// Response helpers
// ──────────────────────────────────────────────────

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
