package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/volley"
	"github.com/xraph/volley/clock"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/id"
)

// Compile-time interface checks.
var (
	_ fleet.Executor = (*Ledger)(nil)
	_ fleet.Capacity = (*Ledger)(nil)
)

// Option configures the Ledger.
type Option func(*Ledger)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Ledger) { s.logger = l }
}

// WithPrefix sets the key prefix. Default: "volley:".
func WithPrefix(p string) Option {
	return func(s *Ledger) { s.prefix = p }
}

// WithCosts sets the unit costs reported when none are stored in Redis.
func WithCosts(c volley.Costs) Option {
	return func(s *Ledger) { s.costs = c }
}

// WithClock sets the clock used to stamp dispatch start times.
func WithClock(c clock.Clock) Option {
	return func(s *Ledger) { s.clock = c }
}

// Ledger is a fleet.Executor and fleet.Capacity backed by Redis.
type Ledger struct {
	client redis.Cmdable
	prefix string
	costs  volley.Costs
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Redis-backed ledger. The caller owns the client lifecycle.
func New(client redis.Cmdable, opts ...Option) *Ledger {
	s := &Ledger{
		client: client,
		prefix: "volley:",
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Ledger) Client() redis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Ledger) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ──────────────────────────────────────────────────
// Node registration
// ──────────────────────────────────────────────────

// RegisterNode adds a node, or updates the total of an existing one.
func (s *Ledger) RegisterNode(ctx context.Context, node fleet.NodeID, total float64) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.nodesKey(), string(node))
	pipe.HSet(ctx, s.nodeKey(node), "total", total)
	pipe.HSetNX(ctx, s.nodeKey(node), "used", 0)
	pipe.HSetNX(ctx, s.nodeKey(node), "base", 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: register node %s: %w", node, err)
	}
	return nil
}

// SetBaseUsage records capacity used on a node outside volley.
func (s *Ledger) SetBaseUsage(ctx context.Context, node fleet.NodeID, used float64) error {
	ok, err := s.client.SIsMember(ctx, s.nodesKey(), string(node)).Result()
	if err != nil {
		return fmt.Errorf("redis: base usage %s: %w", node, err)
	}
	if !ok {
		return fmt.Errorf("redis: %s: %w", node, volley.ErrNodeNotFound)
	}
	if err := s.client.HSet(ctx, s.nodeKey(node), "base", used).Err(); err != nil {
		return fmt.Errorf("redis: base usage %s: %w", node, err)
	}
	return nil
}

// SetCosts stores the unit costs shared by every reader of the ledger.
func (s *Ledger) SetCosts(ctx context.Context, c volley.Costs) error {
	err := s.client.HSet(ctx, s.costsKey(),
		string(volley.Extract), c.Extract,
		string(volley.Replenish), c.Replenish,
		string(volley.Stabilize), c.Stabilize,
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set costs: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Capacity
// ──────────────────────────────────────────────────

// Nodes implements fleet.Capacity. Nodes are returned sorted by ID.
func (s *Ledger) Nodes(ctx context.Context) ([]fleet.NodeID, error) {
	members, err := s.client.SMembers(ctx, s.nodesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list nodes: %w", err)
	}
	sort.Strings(members)
	out := make([]fleet.NodeID, len(members))
	for i, m := range members {
		out[i] = fleet.NodeID(m)
	}
	return out, nil
}

// Usage implements fleet.Capacity.
func (s *Ledger) Usage(ctx context.Context, node fleet.NodeID) (fleet.Node, error) {
	vals, err := s.client.HMGet(ctx, s.nodeKey(node), "total", "base", "used").Result()
	if err != nil {
		return fleet.Node{}, fmt.Errorf("redis: usage %s: %w", node, err)
	}
	if vals[0] == nil {
		return fleet.Node{}, fmt.Errorf("redis: %s: %w", node, volley.ErrNodeNotFound)
	}
	total, err := parseFloat(vals[0])
	if err != nil {
		return fleet.Node{}, fmt.Errorf("redis: usage %s total: %w", node, err)
	}
	base, err := parseFloat(vals[1])
	if err != nil {
		return fleet.Node{}, fmt.Errorf("redis: usage %s base: %w", node, err)
	}
	used, err := parseFloat(vals[2])
	if err != nil {
		return fleet.Node{}, fmt.Errorf("redis: usage %s used: %w", node, err)
	}
	return fleet.Node{ID: node, Total: total, Used: base + used}, nil
}

// ──────────────────────────────────────────────────
// Executor
// ──────────────────────────────────────────────────

// Costs implements fleet.Executor. Costs stored in Redis take precedence
// over the ones given with WithCosts.
func (s *Ledger) Costs(ctx context.Context) (volley.Costs, error) {
	vals, err := s.client.HGetAll(ctx, s.costsKey()).Result()
	if err != nil {
		return volley.Costs{}, fmt.Errorf("redis: costs: %w", err)
	}
	if len(vals) == 0 {
		return s.costs, nil
	}
	c := s.costs
	for k, v := range vals {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return volley.Costs{}, fmt.Errorf("redis: costs %s: %w", k, perr)
		}
		switch volley.Kind(k) {
		case volley.Extract:
			c.Extract = f
		case volley.Replenish:
			c.Replenish = f
		case volley.Stabilize:
			c.Stabilize = f
		}
	}
	return c, nil
}

// Dispatches implements fleet.Executor.
func (s *Ledger) Dispatches(ctx context.Context, node fleet.NodeID) ([]fleet.Dispatch, error) {
	handles, err := s.client.SMembers(ctx, s.nodeDispatchesKey(node)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list dispatches %s: %w", node, err)
	}
	if len(handles) == 0 {
		return nil, nil
	}
	keys := make([]string, len(handles))
	for i, h := range handles {
		keys[i] = s.recordKey(fleet.Handle(h))
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load dispatches %s: %w", node, err)
	}

	out := make([]fleet.Dispatch, 0, len(raws))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// Released between SMEMBERS and MGET.
			continue
		}
		d, derr := decodeDispatch([]byte(str))
		if derr != nil {
			s.logger.Warn("skipping undecodable dispatch record",
				slog.String("handle", handles[i]),
				slog.String("error", derr.Error()),
			)
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.Before(out[j].Started)
		}
		return out[i].Handle < out[j].Handle
	})
	return out, nil
}

// Launch implements fleet.Executor.
func (s *Ledger) Launch(ctx context.Context, node fleet.NodeID, key fleet.DispatchKey, threads int) (fleet.Handle, error) {
	if threads <= 0 {
		return "", volley.ErrInvalidThreads
	}
	if !key.Kind.Valid() {
		return "", fmt.Errorf("redis: launch: unknown kind %q", key.Kind)
	}
	costs, err := s.Costs(ctx)
	if err != nil {
		return "", err
	}

	h := fleet.Handle(id.NewDispatchID().String())
	d := fleet.Dispatch{
		Handle:  h,
		Node:    node,
		Key:     key,
		Threads: threads,
		Started: s.clock.Now().UTC(),
	}
	rec, err := encodeDispatch(d)
	if err != nil {
		return "", fmt.Errorf("redis: encode dispatch: %w", err)
	}
	need := float64(threads) * costs.Get(key.Kind)

	res, err := launchScript.Run(ctx, s.client,
		[]string{
			s.nodeKey(node),
			s.nodeDispatchesKey(node),
			s.nodeKindKey(node, key.Kind),
			s.nodeHeldKey(node),
			s.recordKey(h),
		},
		need, string(h), rec,
	).Int()
	if err != nil {
		return "", fmt.Errorf("redis: launch on %s: %w", node, err)
	}
	switch res {
	case -1:
		return "", fmt.Errorf("redis: %s: %w", node, volley.ErrNodeNotFound)
	case 0:
		return "", fmt.Errorf("redis: launch %d %s threads on %s needs %.2f: %w",
			threads, key.Kind, node, need, volley.ErrInsufficientCapacity)
	}
	return h, nil
}

// Cancel implements fleet.Executor.
func (s *Ledger) Cancel(ctx context.Context, node fleet.NodeID, kind volley.Kind) error {
	n, err := cancelScript.Run(ctx, s.client,
		[]string{
			s.nodeKey(node),
			s.nodeDispatchesKey(node),
			s.nodeKindKey(node, kind),
			s.nodeHeldKey(node),
		},
		s.recordPrefix(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: cancel %s on %s: %w", kind, node, err)
	}
	if n > 0 {
		s.logger.Debug("cancelled dispatches",
			slog.String("node", string(node)),
			slog.String("kind", string(kind)),
			slog.Int("count", n),
		)
	}
	return nil
}

// Complete releases a finished dispatch. Workers call it when their
// operation ends.
func (s *Ledger) Complete(ctx context.Context, h fleet.Handle) error {
	d, err := s.Get(ctx, h)
	if err != nil {
		return err
	}
	_, err = releaseScript.Run(ctx, s.client,
		[]string{
			s.nodeKey(d.Node),
			s.nodeDispatchesKey(d.Node),
			s.nodeKindKey(d.Node, d.Key.Kind),
			s.nodeHeldKey(d.Node),
			s.recordKey(h),
		},
		string(h),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: complete %s: %w", h, err)
	}
	return nil
}

// Get loads one dispatch record.
func (s *Ledger) Get(ctx context.Context, h fleet.Handle) (fleet.Dispatch, error) {
	raw, err := s.client.Get(ctx, s.recordKey(h)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fleet.Dispatch{}, fmt.Errorf("redis: %s: %w", h, volley.ErrDispatchNotFound)
	}
	if err != nil {
		return fleet.Dispatch{}, fmt.Errorf("redis: get %s: %w", h, err)
	}
	d, err := decodeDispatch(raw)
	if err != nil {
		return fleet.Dispatch{}, fmt.Errorf("redis: decode %s: %w", h, err)
	}
	return d, nil
}

// ──────────────────────────────────────────────────
// Encoding
// ──────────────────────────────────────────────────

func encodeDispatch(d fleet.Dispatch) ([]byte, error) {
	return msgpack.Marshal(&d)
}

func decodeDispatch(b []byte) (fleet.Dispatch, error) {
	var d fleet.Dispatch
	err := msgpack.Unmarshal(b, &d)
	return d, err
}

func parseFloat(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
