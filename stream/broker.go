package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xraph/volley"
	"github.com/xraph/volley/clock"
	"github.com/xraph/volley/ext"
	"github.com/xraph/volley/fleet"
	"github.com/xraph/volley/id"
	"github.com/xraph/volley/report"
	"github.com/xraph/volley/target"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Broker)(nil)
	_ ext.TickCompleted    = (*Broker)(nil)
	_ ext.ModeChanged      = (*Broker)(nil)
	_ ext.TargetChanged    = (*Broker)(nil)
	_ ext.PlanChanged      = (*Broker)(nil)
	_ ext.NodeCancelled    = (*Broker)(nil)
	_ ext.DispatchLaunched = (*Broker)(nil)
	_ ext.DispatchRejected = (*Broker)(nil)
	_ ext.Shutdown         = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It receives controller events as
// an extension and fans them out to subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	clock  clock.Clock

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// WithClock sets the clock used to stamp events.
func WithClock(c clock.Clock) BrokerOption {
	return func(b *Broker) { b.clock = c }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		clock:          clock.Real{},
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber on the given topics. An empty
// subscriberID gets a generated one.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	if subscriberID == "" {
		subscriberID = id.NewSubscriberID().String()
	}
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:forcetypeassert // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:forcetypeassert // sync.Map always stores *Subscriber
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// Publish broadcasts an event to every topic it resolves to.
func (b *Broker) Publish(evt *Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.clock.Now().UTC()
	}
	delivered, dropped := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
	b.totalDropped.Add(int64(dropped))
}

func dispatchData(node fleet.NodeID, key fleet.DispatchKey, threads int) DispatchEventData {
	return DispatchEventData{
		Node:    string(node),
		Target:  string(key.Target),
		Kind:    string(key.Kind),
		DelayMs: key.Delay.Milliseconds(),
		Mode:    string(key.Mode),
		PlanKey: key.PlanKey,
		Threads: threads,
	}
}

// ── Tick hooks ──────────────────────────────────────

// OnTickCompleted implements ext.TickCompleted.
func (b *Broker) OnTickCompleted(_ context.Context, r *report.Report) error {
	b.Publish(&Event{
		Type:      EventTickCompleted,
		Timestamp: r.At.UTC(),
		Data: TickEventData{
			Seq:           r.Seq,
			Target:        string(r.Snapshot.ID),
			Mode:          string(r.Mode),
			PlanKey:       r.PlanKey,
			YieldRatio:    r.Snapshot.YieldRatio(),
			SecurityDelta: r.Snapshot.SecurityDelta(),
			Launches:      len(r.Launches),
			Cancels:       len(r.Cancels),
			Rejections:    len(r.Rejections),
			ElapsedMs:     r.Elapsed.Milliseconds(),
		},
	})
	return nil
}

// OnModeChanged implements ext.ModeChanged.
func (b *Broker) OnModeChanged(_ context.Context, from, to volley.Mode) error {
	b.Publish(&Event{
		Type: EventModeChanged,
		Data: ChangeEventData{From: string(from), To: string(to)},
	})
	return nil
}

// OnTargetChanged implements ext.TargetChanged.
func (b *Broker) OnTargetChanged(_ context.Context, from, to target.ID) error {
	b.Publish(&Event{
		Type: EventTargetChanged,
		Data: ChangeEventData{From: string(from), To: string(to)},
	})
	return nil
}

// ── Node hooks ──────────────────────────────────────

// OnPlanChanged implements ext.PlanChanged.
func (b *Broker) OnPlanChanged(_ context.Context, node fleet.NodeID, from, to report.Committed) error {
	b.Publish(&Event{
		Type:  EventPlanChanged,
		Topic: NodeTopic(string(node)),
		Data:  NodeEventData{Node: string(node), From: from.PlanKey, To: to.PlanKey},
	})
	return nil
}

// OnNodeCancelled implements ext.NodeCancelled.
func (b *Broker) OnNodeCancelled(_ context.Context, node fleet.NodeID, cancels []report.Cancel) error {
	data := NodeEventData{Node: string(node)}
	for _, c := range cancels {
		data.Kinds = append(data.Kinds, string(c.Kind))
		if c.Error != "" {
			data.Failures++
		}
	}
	b.Publish(&Event{
		Type:  EventNodeCancelled,
		Topic: NodeTopic(string(node)),
		Data:  data,
	})
	return nil
}

// ── Dispatch hooks ──────────────────────────────────

// OnDispatchLaunched implements ext.DispatchLaunched.
func (b *Broker) OnDispatchLaunched(_ context.Context, l report.Launch) error {
	data := dispatchData(l.Node, l.Key, l.Threads)
	data.Handle = string(l.Handle)
	b.Publish(&Event{
		Type:  EventDispatchLaunched,
		Topic: NodeTopic(string(l.Node)),
		Data:  data,
	})
	return nil
}

// OnDispatchRejected implements ext.DispatchRejected.
func (b *Broker) OnDispatchRejected(_ context.Context, r report.Rejection) error {
	data := dispatchData(r.Node, r.Key, r.Threads)
	data.Error = r.Error
	b.Publish(&Event{
		Type:  EventDispatchRejected,
		Topic: NodeTopic(string(r.Node)),
		Data:  data,
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

// OnShutdown implements ext.Shutdown. Every subscriber is closed.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:forcetypeassert // keys are always strings
		value.(*Subscriber).Close()           //nolint:forcetypeassert // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
