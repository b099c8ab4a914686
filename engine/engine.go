package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/xraph/volley"
	"github.com/xraph/volley/api"
	audithook "github.com/xraph/volley/audit_hook"
	"github.com/xraph/volley/backoff"
	"github.com/xraph/volley/clock"
	"github.com/xraph/volley/controller"
	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/fleet"
	fleetk8s "github.com/xraph/volley/fleet/k8s"
	"github.com/xraph/volley/fleet/memory"
	fleetredis "github.com/xraph/volley/fleet/redis"
	mw "github.com/xraph/volley/middleware"
	"github.com/xraph/volley/observability"
	"github.com/xraph/volley/sim"
	"github.com/xraph/volley/stream"
	"github.com/xraph/volley/target"
	"github.com/xraph/volley/telemetry"
)

const instrumentationName = "github.com/xraph/volley"

// Engine owns every subsystem of a running scheduler.
type Engine struct {
	logger *slog.Logger
	clock  clock.Clock

	mu   sync.Mutex
	file volley.File

	executor fleet.Executor
	capacity fleet.Capacity
	source   target.Source

	// Set by the "sim" backend.
	simFleet *memory.Fleet
	world    *sim.World
	driver   *sim.Driver

	// Set by the "redis" backend.
	ledger      *fleetredis.Ledger
	redisClient goredis.UniversalClient
	closeRedis  bool

	k8sClient kubernetes.Interface

	extensions *ext.Registry
	broker     *stream.Broker
	telemetry  *telemetry.Aggregator
	ctrl       *controller.Controller
	api        *api.API

	extra        []ext.Extension
	mws          []mw.Middleware
	settlePolls  int
	settleStrat  backoff.Strategy
	stopOnce     sync.Once
	shutdownDone chan struct{}

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the clock driving the controller, the simulated fleet and
// the stream broker.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithExtension registers an extension after the built-in ones.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.extra = append(e.extra, x) }
}

// WithMiddleware appends a middleware to the tick chain, inside the
// built-in ones.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithExecutor replaces the configured execution backend.
func WithExecutor(x fleet.Executor) Option {
	return func(e *Engine) { e.executor = x }
}

// WithCapacity replaces the configured capacity source.
func WithCapacity(c fleet.Capacity) Option {
	return func(e *Engine) { e.capacity = c }
}

// WithTargetSource replaces the simulated world as the target source.
func WithTargetSource(s target.Source) Option {
	return func(e *Engine) { e.source = s }
}

// WithRedisClient supplies the client for the "redis" backend instead of
// dialing fleet.redis.addr. The engine does not close a supplied client.
func WithRedisClient(c goredis.UniversalClient) Option {
	return func(e *Engine) { e.redisClient = c }
}

// WithKubernetesClient supplies the client for the "k8s" capacity source
// instead of loading fleet.k8s.kubeconfig.
func WithKubernetesClient(c kubernetes.Interface) Option {
	return func(e *Engine) { e.k8sClient = c }
}

// WithCancelSettle makes the controller poll until cancelled dispatches
// are gone before re-reading capacity. Use it with executors whose Cancel
// returns before the dispatches stop.
func WithCancelSettle(polls int, s backoff.Strategy) Option {
	return func(e *Engine) { e.settlePolls, e.settleStrat = polls, s }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tick
// tracing middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// Build creates an Engine from a configuration file.
func Build(f volley.File, opts ...Option) (*Engine, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		logger:       slog.Default(),
		clock:        clock.Real{},
		file:         f,
		shutdownDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.buildFleet(); err != nil {
		return nil, err
	}
	if err := e.buildCapacity(); err != nil {
		return nil, err
	}

	cfg := f.Scheduler
	var err error
	e.telemetry, err = telemetry.New(
		telemetry.WithLogger(e.logger),
		telemetry.WithThresholds(cfg.Thresholds),
		telemetry.WithSchedule(cfg.TelemetrySchedule),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: telemetry: %w", err)
	}
	e.broker = stream.NewBroker(e.logger, stream.WithClock(e.clock))

	var obsExt *observability.MetricsExtension
	if e.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(e.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}

	e.extensions = ext.NewRegistry(e.logger)
	if e.driver != nil {
		e.extensions.Register(e.driver)
	}
	e.extensions.Register(e.telemetry)
	e.extensions.Register(obsExt)
	e.extensions.Register(e.broker)
	if f.Log.Audit {
		e.extensions.Register(audithook.New(audithook.LogRecorder(e.logger), audithook.WithLogger(e.logger)))
	}
	for _, x := range e.extra {
		e.extensions.Register(x)
	}

	selOpts := []target.Option{
		target.WithDefault(target.ID(cfg.DefaultTarget)),
		target.WithClock(e.clock),
		target.WithLogger(e.logger),
	}
	if cfg.PinnedTarget != "" {
		selOpts = append(selOpts, target.WithPinned(target.ID(cfg.PinnedTarget)))
	}
	selector := target.NewSelector(e.source, selOpts...)

	ctrlOpts := []controller.Option{
		controller.WithLogger(e.logger),
		controller.WithClock(e.clock),
		controller.WithTunables(controller.TunablesFrom(cfg)),
		controller.WithExtensions(e.extensions),
		controller.WithMiddleware(e.middleware(cfg)...),
	}
	if e.settlePolls > 0 {
		ctrlOpts = append(ctrlOpts, controller.WithCancelSettle(e.settlePolls, e.settleStrat))
	}
	e.ctrl, err = controller.New(e.executor, e.capacity, selector, ctrlOpts...)
	if err != nil {
		return nil, fmt.Errorf("engine: controller: %w", err)
	}

	e.api = api.New(e.ctrl,
		api.WithLogger(e.logger),
		api.WithCapacity(e.capacity),
		api.WithTelemetry(e.telemetry),
		api.WithBroker(e.broker),
		api.WithJWTSecret(f.API.JWTSecret),
	)
	if f.API.JWTSecret == "" {
		e.logger.Warn("api: no jwt secret configured, every route including PUT /v1/config is unauthenticated",
			slog.String("addr", f.API.Addr),
		)
	}
	return e, nil
}

// buildFleet resolves the execution backend and, for "sim", the world.
func (e *Engine) buildFleet() error {
	fc := e.file.Fleet
	switch fc.Backend {
	case "", "sim":
		e.simFleet = memory.New(fc.Costs, memory.WithClock(e.clock))
		for _, n := range fc.Sim.Nodes {
			e.simFleet.AddNode(fleet.NodeID(n.ID), n.Capacity)
		}
		e.world = sim.NewWorld(fc.Sim.AccessLevel, sim.DefaultSpecs()...)
		if e.executor == nil {
			e.executor = e.simFleet
			e.driver = sim.NewDriver(e.simFleet, e.world, sim.WithLogger(e.logger))
		}
		if e.capacity == nil {
			e.capacity = e.simFleet
		}
	case "redis":
		if e.redisClient == nil {
			e.redisClient = goredis.NewClient(&goredis.Options{
				Addr: fc.Redis.Addr,
				DB:   fc.Redis.DB,
			})
			e.closeRedis = true
		}
		ledgerOpts := []fleetredis.Option{
			fleetredis.WithLogger(e.logger),
			fleetredis.WithCosts(fc.Costs),
			fleetredis.WithClock(e.clock),
		}
		if fc.Redis.Prefix != "" {
			ledgerOpts = append(ledgerOpts, fleetredis.WithPrefix(fc.Redis.Prefix))
		}
		e.ledger = fleetredis.New(e.redisClient, ledgerOpts...)
		if e.executor == nil {
			e.executor = e.ledger
		}
		if e.capacity == nil {
			e.capacity = e.ledger
		}
		e.world = sim.NewWorld(fc.Sim.AccessLevel, sim.DefaultSpecs()...)
	default:
		return fmt.Errorf("%w: %q", volley.ErrUnknownBackend, fc.Backend)
	}

	if e.source == nil {
		e.source = e.world
	}
	return nil
}

// buildCapacity applies the fleet.capacity override.
func (e *Engine) buildCapacity() error {
	fc := e.file.Fleet
	switch fc.Capacity {
	case "":
		return nil
	case "k8s":
		client := e.k8sClient
		if client == nil {
			restCfg, err := clientcmd.BuildConfigFromFlags("", fc.K8s.Kubeconfig)
			if err != nil {
				return fmt.Errorf("engine: kubeconfig: %w", err)
			}
			client, err = kubernetes.NewForConfig(restCfg)
			if err != nil {
				return fmt.Errorf("engine: kubernetes client: %w", err)
			}
		}
		opts := []fleetk8s.Option{fleetk8s.WithLogger(e.logger)}
		if fc.K8s.LabelSelector != "" {
			opts = append(opts, fleetk8s.WithLabelSelector(fc.K8s.LabelSelector))
		}
		e.capacity = fleetk8s.New(client, opts...)
		return nil
	}
	return fmt.Errorf("%w: unknown capacity source %q", volley.ErrUnknownBackend, fc.Capacity)
}

// middleware assembles the tick chain, outermost first.
func (e *Engine) middleware(cfg volley.Config) []mw.Middleware {
	var tracingMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	all := []mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
	}
	if cfg.TickTimeout > 0 {
		all = append(all, mw.Timeout(cfg.TickTimeout))
	}
	return append(all, e.mws...)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start logs configuration warnings, prepares the backends and launches
// the controller loop.
func (e *Engine) Start(ctx context.Context) error {
	e.logWarnings(e.File().Scheduler)

	if e.ledger != nil {
		if err := e.ledger.Ping(ctx); err != nil {
			return fmt.Errorf("engine: redis: %w", err)
		}
		if err := e.ledger.SetCosts(ctx, e.File().Fleet.Costs); err != nil {
			return fmt.Errorf("engine: seed costs: %w", err)
		}
	}

	if err := e.ctrl.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("engine started",
		slog.String("backend", backendName(e.File().Fleet.Backend)),
		slog.Int("extensions", len(e.extensions.Extensions())),
	)
	return nil
}

// Stop stops the controller, notifies extensions and releases owned
// clients. It is safe to call more than once.
func (e *Engine) Stop(ctx context.Context) error {
	var err error
	e.stopOnce.Do(func() {
		if stopErr := e.ctrl.Stop(ctx); stopErr != nil {
			e.logger.Error("controller stop error", slog.String("error", stopErr.Error()))
			err = stopErr
		}
		e.extensions.EmitShutdown(ctx)

		if e.closeRedis {
			if closeErr := e.redisClient.Close(); closeErr != nil {
				e.logger.Warn("redis close error", slog.String("error", closeErr.Error()))
			}
		}
		close(e.shutdownDone)
		e.logger.Info("engine stopped")
	})
	return err
}

// Run starts the engine, blocks until ctx is cancelled and stops it within
// the configured shutdown timeout.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	timeout := e.File().Scheduler.ShutdownTimeout
	if timeout <= 0 {
		timeout = volley.DefaultConfig().ShutdownTimeout
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return e.Stop(stopCtx)
}

// Done is closed once Stop has finished.
func (e *Engine) Done() <-chan struct{} { return e.shutdownDone }

// Reload applies the tunables and telemetry settings of f to the running
// engine. Backend and API settings take effect only on restart.
func (e *Engine) Reload(f volley.File) error {
	cfg := f.Scheduler
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.telemetry.Reconfigure(cfg.TelemetrySchedule, cfg.Thresholds); err != nil {
		return fmt.Errorf("engine: reload telemetry: %w", err)
	}
	if err := e.ctrl.SetTunables(controller.TunablesFrom(cfg)); err != nil {
		return fmt.Errorf("engine: reload tunables: %w", err)
	}

	e.mu.Lock()
	prev := e.file
	e.file.Scheduler = cfg
	e.mu.Unlock()

	if prev.Scheduler.PinnedTarget != cfg.PinnedTarget || prev.Scheduler.DefaultTarget != cfg.DefaultTarget {
		e.logger.Warn("target selection changes take effect on restart",
			slog.String("pinned_target", cfg.PinnedTarget),
			slog.String("default_target", cfg.DefaultTarget),
		)
	}
	e.logger.Info("configuration reloaded",
		slog.Duration("tick", cfg.Tick),
		slog.Duration("spacer", cfg.Spacer),
		slog.Duration("delay_bucket", cfg.DelayBucket),
		slog.String("telemetry_schedule", cfg.TelemetrySchedule),
	)
	e.logWarnings(cfg)
	return nil
}

func (e *Engine) logWarnings(cfg volley.Config) {
	for _, w := range cfg.Warnings() {
		e.logger.Warn("configuration warning", slog.String("warning", w))
	}
}

func backendName(b string) string {
	if b == "" {
		return "sim"
	}
	return b
}

// ──────────────────────────────────────────────────
// HTTP
// ──────────────────────────────────────────────────

// Handler returns the HTTP API handler.
func (e *Engine) Handler() http.Handler { return e.api.Handler() }

// Serve runs the HTTP API on the configured address until ctx is
// cancelled, then shuts the server down gracefully.
func (e *Engine) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              e.File().API.Addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("api listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("engine: api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("engine: api shutdown: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// File returns the active configuration.
func (e *Engine) File() volley.File {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file
}

// Controller returns the dispatch controller.
func (e *Engine) Controller() *controller.Controller { return e.ctrl }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Broker returns the stream broker.
func (e *Engine) Broker() *stream.Broker { return e.broker }

// Telemetry returns the telemetry aggregator.
func (e *Engine) Telemetry() *telemetry.Aggregator { return e.telemetry }

// Executor returns the execution backend.
func (e *Engine) Executor() fleet.Executor { return e.executor }

// Capacity returns the capacity source.
func (e *Engine) Capacity() fleet.Capacity { return e.capacity }

// SimFleet returns the in-memory fleet of the "sim" backend, or nil.
func (e *Engine) SimFleet() *memory.Fleet { return e.simFleet }

// World returns the simulated world.
func (e *Engine) World() *sim.World { return e.world }

// Driver returns the simulation driver, or nil outside the "sim" backend.
func (e *Engine) Driver() *sim.Driver { return e.driver }
