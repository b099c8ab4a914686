package engine_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/xraph/volley"
	"github.com/xraph/volley/clock"
	"github.com/xraph/volley/engine"
	fleetk8s "github.com/xraph/volley/fleet/k8s"
	fleetredis "github.com/xraph/volley/fleet/redis"
	mw "github.com/xraph/volley/middleware"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/stream"
)

var t0 = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func build(t *testing.T, f volley.File, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{engine.WithLogger(quietLogger())}, opts...)
	eng, err := engine.Build(f, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng
}

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

type tickCounter struct {
	ticks    atomic.Int64
	shutdown atomic.Bool
}

func (c *tickCounter) Name() string { return "tick-counter" }

func (c *tickCounter) OnTickCompleted(context.Context, *report.Report) error {
	c.ticks.Add(1)
	return nil
}

func (c *tickCounter) OnShutdown(context.Context) error {
	c.shutdown.Store(true)
	return nil
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_SimDefaults(t *testing.T) {
	eng := build(t, volley.DefaultFile(), engine.WithClock(clock.NewFake(t0)))

	if eng.SimFleet() == nil || eng.World() == nil || eng.Driver() == nil {
		t.Fatal("sim backend must provide a fleet, a world and a driver")
	}
	nodes, err := eng.Capacity().Nodes(context.Background())
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if len(nodes) != 3 {
		t.Errorf("nodes = %v, want 3", nodes)
	}

	names := map[string]bool{}
	for _, x := range eng.Extensions().Extensions() {
		names[x.Name()] = true
	}
	for _, want := range []string{"sim-driver", "telemetry", "observability-metrics", "stream-broker"} {
		if !names[want] {
			t.Errorf("extension %q not registered", want)
		}
	}
}

func TestBuild_AuditLog(t *testing.T) {
	f := volley.DefaultFile()
	if hasExtension(build(t, f), "audit-hook") {
		t.Error("audit hook registered without log.audit")
	}
	f.Log.Audit = true
	if !hasExtension(build(t, f), "audit-hook") {
		t.Error("audit hook not registered with log.audit")
	}
}

func hasExtension(eng *engine.Engine, name string) bool {
	for _, x := range eng.Extensions().Extensions() {
		if x.Name() == name {
			return true
		}
	}
	return false
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*volley.File)
		want   error
	}{
		{"invalid scheduler", func(f *volley.File) { f.Scheduler.Tick = 0 }, volley.ErrInvalidConfig},
		{"zero cost", func(f *volley.File) { f.Fleet.Costs.Stabilize = 0 }, volley.ErrInvalidConfig},
		{"unknown backend", func(f *volley.File) { f.Fleet.Backend = "zookeeper" }, volley.ErrUnknownBackend},
		{"unknown capacity", func(f *volley.File) { f.Fleet.Capacity = "mesos" }, volley.ErrUnknownBackend},
		{"bad telemetry schedule", func(f *volley.File) { f.Scheduler.TelemetrySchedule = "whenever" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := volley.DefaultFile()
			tt.mutate(&f)
			_, err := engine.Build(f, engine.WithLogger(quietLogger()))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuild_RedisBackend(t *testing.T) {
	f := volley.DefaultFile()
	f.Fleet.Backend = "redis"
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	eng := build(t, f, engine.WithRedisClient(client))
	if _, ok := eng.Executor().(*fleetredis.Ledger); !ok {
		t.Fatalf("executor = %T, want *redis.Ledger", eng.Executor())
	}
	if eng.Driver() != nil {
		t.Error("redis backend must not drive the simulation")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err == nil {
		t.Fatal("Start must fail when redis is unreachable")
	}
}

func TestBuild_KubernetesCapacity(t *testing.T) {
	ctx := context.Background()
	cs := fake.NewClientset()
	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "worker-1", Labels: map[string]string{"pool": "batch"}},
		Status: corev1.NodeStatus{Allocatable: corev1.ResourceList{
			corev1.ResourceMemory: resource.MustParse("16Gi"),
		}},
	}
	if _, err := cs.CoreV1().Nodes().Create(ctx, node, metav1.CreateOptions{}); err != nil {
		t.Fatalf("create node: %v", err)
	}

	f := volley.DefaultFile()
	f.Fleet.Capacity = "k8s"
	f.Fleet.K8s.LabelSelector = "pool=batch"
	eng := build(t, f, engine.WithKubernetesClient(cs))

	if _, ok := eng.Capacity().(*fleetk8s.Capacity); !ok {
		t.Fatalf("capacity = %T, want *k8s.Capacity", eng.Capacity())
	}
	nodes, err := eng.Capacity().Nodes(ctx)
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0] != "worker-1" {
		t.Errorf("nodes = %v, want [worker-1]", nodes)
	}
}

// ──────────────────────────────────────────────────
// Ticking
// ──────────────────────────────────────────────────

func TestEngine_TickFeedsEverySubsystem(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	eng := build(t, volley.DefaultFile(),
		engine.WithClock(clock.NewFake(t0)),
		engine.WithMeterProvider(mp),
	)
	sub := eng.Broker().Subscribe("test", stream.TopicTicks)
	ctx := context.Background()

	rep, err := eng.Controller().Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(rep.Launches) == 0 {
		t.Fatal("first tick must launch dispatches on the sim fleet")
	}
	if got := len(eng.SimFleet().All()); got != len(rep.Launches) {
		t.Errorf("sim fleet holds %d dispatches, report launched %d", got, len(rep.Launches))
	}

	w, ok := eng.Telemetry().Current()
	if !ok || w.Ticks != 1 {
		t.Errorf("telemetry window = %+v, %v", w, ok)
	}

	select {
	case evt := <-sub.C():
		if evt.Type != stream.EventTickCompleted {
			t.Errorf("event = %s", evt.Type)
		}
	default:
		t.Error("no tick event published")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "volley.ticks" {
				found = true
			}
		}
	}
	if !found {
		t.Error("volley.ticks not recorded")
	}
}

func TestEngine_StartStop(t *testing.T) {
	f := volley.DefaultFile()
	f.Scheduler.Tick = 20 * time.Millisecond
	f.Scheduler.Spacer = 20 * time.Millisecond
	f.Scheduler.DelayBucket = 10 * time.Millisecond

	counter := &tickCounter{}
	var wrapped atomic.Int64
	eng := build(t, f,
		engine.WithExtension(counter),
		engine.WithMiddleware(func(ctx context.Context, _ *mw.Tick, next mw.Handler) error {
			wrapped.Add(1)
			return next(ctx)
		}),
	)

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Start(ctx); !errors.Is(err, volley.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for counter.ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if counter.ticks.Load() < 3 {
		t.Fatalf("ticks = %d, want at least 3", counter.ticks.Load())
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := eng.Stop(stopCtx); err != nil {
		t.Errorf("second Stop: %v", err)
	}

	select {
	case <-eng.Done():
	default:
		t.Error("Done not closed after Stop")
	}
	if !counter.shutdown.Load() {
		t.Error("extensions not notified of shutdown")
	}
	if wrapped.Load() < 3 {
		t.Errorf("middleware saw %d ticks", wrapped.Load())
	}
	if eng.Controller().Last() == nil {
		t.Error("no report recorded")
	}
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	f := volley.DefaultFile()
	f.Scheduler.Tick = 20 * time.Millisecond
	eng := build(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ──────────────────────────────────────────────────
// Reload
// ──────────────────────────────────────────────────

func TestEngine_Reload(t *testing.T) {
	eng := build(t, volley.DefaultFile(), engine.WithClock(clock.NewFake(t0)))

	next := volley.DefaultFile()
	next.Scheduler.Tick = 500 * time.Millisecond
	next.Scheduler.Spacer = 600 * time.Millisecond
	if err := eng.Reload(next); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := eng.Controller().Tunables().Tick; got != 500*time.Millisecond {
		t.Errorf("tick = %s, want 500ms", got)
	}
	if got := eng.File().Scheduler.Spacer; got != 600*time.Millisecond {
		t.Errorf("file spacer = %s, want 600ms", got)
	}

	bad := next
	bad.Scheduler.Tick = 0
	if err := eng.Reload(bad); !errors.Is(err, volley.ErrInvalidConfig) {
		t.Errorf("Reload(invalid) = %v, want ErrInvalidConfig", err)
	}

	badSchedule := next
	badSchedule.Scheduler.TelemetrySchedule = "sometimes"
	if err := eng.Reload(badSchedule); err == nil {
		t.Error("Reload with a bad telemetry schedule must fail")
	}
	if got := eng.Controller().Tunables().Tick; got != 500*time.Millisecond {
		t.Errorf("tick after rejected reloads = %s, want 500ms", got)
	}
}

func TestEngine_WatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volley.yaml")
	if err := os.WriteFile(path, []byte("scheduler:\n  tick: 300ms\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := volley.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	eng := build(t, f, engine.WithClock(clock.NewFake(t0)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.WatchConfig(ctx, path) }()

	// Rewrite until the watcher has picked a write up.
	deadline := time.Now().Add(5 * time.Second)
	for eng.Controller().Tunables().Tick != 400*time.Millisecond && time.Now().Before(deadline) {
		if err := os.WriteFile(path, []byte("scheduler:\n  tick: 400ms\n  spacer: 400ms\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if got := eng.Controller().Tunables().Tick; got != 400*time.Millisecond {
		t.Fatalf("tick = %s, want 400ms after reload", got)
	}

	// An invalid file is ignored.
	if err := os.WriteFile(path, []byte("scheduler:\n  tick: 0s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := eng.Controller().Tunables().Tick; got != 400*time.Millisecond {
		t.Errorf("tick = %s, invalid file must not be applied", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WatchConfig: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WatchConfig did not return after cancel")
	}
}

// ──────────────────────────────────────────────────
// HTTP
// ──────────────────────────────────────────────────

func TestEngine_Handler(t *testing.T) {
	eng := build(t, volley.DefaultFile(), engine.WithClock(clock.NewFake(t0)))
	if _, err := eng.Controller().Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	srv := httptest.NewServer(eng.Handler())
	defer srv.Close()

	for _, path := range []string{"/v1/status", "/v1/nodes", "/v1/telemetry", "/v1/config"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

func TestBuild_WarnsWithoutJWTSecret(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	f := volley.DefaultFile()
	if _, err := engine.Build(f, engine.WithLogger(logger)); err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "level=WARN") || !strings.Contains(out, "no jwt secret") {
		t.Errorf("expected an unauthenticated API warning, got %q", out)
	}

	buf.Reset()
	f.API.JWTSecret = "hunter2"
	if _, err := engine.Build(f, engine.WithLogger(logger)); err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if strings.Contains(buf.String(), "no jwt secret") {
		t.Errorf("unexpected warning with a secret configured: %q", buf.String())
	}
}

func TestEngine_HandlerRequiresTokenWhenConfigured(t *testing.T) {
	f := volley.DefaultFile()
	f.API.JWTSecret = "hunter2"
	eng := build(t, f, engine.WithClock(clock.NewFake(t0)))

	rec := httptest.NewRecorder()
	eng.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
