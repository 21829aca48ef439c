// Package eventbus fans domain events out to local handlers, to a
// cross-process channel and to connected real-time clients.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

// Handler reacts to a dispatched event. Returned errors and panics are
// logged and never reach the publisher.
type Handler func(ctx context.Context, ev domain.Event) error

// Forwarder pushes an event onto the cross-process channel.
type Forwarder interface {
	Forward(ctx context.Context, ev domain.Event) error
}

type registration struct {
	id        uint64
	eventType domain.EventType
	all       bool
	handler   Handler
}

// Bus is safe for concurrent use. The registration list is an immutable
// snapshot replaced on every subscribe/unsubscribe, so dispatch never holds a
// lock while handlers run.
type Bus struct {
	writeMu sync.Mutex
	regs    atomic.Pointer[[]registration]
	nextID  atomic.Uint64

	origin         string
	forwarder      Forwarder
	transport      domain.RealtimeTransport
	history        *History
	forwardTimeout time.Duration
	now            func() time.Time

	inflight sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithForwarder attaches the cross-process channel.
func WithForwarder(f Forwarder) Option {
	return func(b *Bus) { b.forwarder = f }
}

// WithTransport attaches the real-time transport.
func WithTransport(t domain.RealtimeTransport) Option {
	return func(b *Bus) { b.transport = t }
}

// WithHistory keeps the last n events for introspection.
func WithHistory(n int) Option {
	return func(b *Bus) { b.history = NewHistory(n) }
}

// WithOrigin overrides the process identity stamped on published events.
func WithOrigin(origin string) Option {
	return func(b *Bus) { b.origin = origin }
}

// WithForwardTimeout bounds each cross-process forward.
func WithForwardTimeout(d time.Duration) Option {
	return func(b *Bus) { b.forwardTimeout = d }
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		origin:         uuid.NewString(),
		forwardTimeout: 5 * time.Second,
		now:            time.Now,
	}
	empty := []registration{}
	b.regs.Store(&empty)

	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Origin identifies this process on the cross-process channel.
func (b *Bus) Origin() string {
	return b.origin
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType domain.EventType, h Handler) (unsubscribe func()) {
	return b.add(registration{eventType: eventType, handler: h})
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	return b.add(registration{all: true, handler: h})
}

func (b *Bus) add(r registration) func() {
	r.id = b.nextID.Add(1)

	b.writeMu.Lock()
	cur := *b.regs.Load()
	next := make([]registration, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, r)
	b.regs.Store(&next)
	b.writeMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(r.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	cur := *b.regs.Load()
	next := make([]registration, 0, len(cur))
	for _, r := range cur {
		if r.id != id {
			next = append(next, r)
		}
	}
	b.regs.Store(&next)
}

// NewEvent stamps a new immutable event with id, version, time and origin.
func (b *Bus) NewEvent(t domain.EventType, source string, sessionID domain.SessionID, payload map[string]any) domain.Event {
	return domain.Event{
		Type:      t,
		ID:        uuid.NewString(),
		Version:   domain.EventSchemaVersion,
		Timestamp: b.now().UTC(),
		Source:    source,
		SessionID: sessionID,
		Origin:    b.origin,
		Payload:   payload,
	}
}

// Publish runs local handlers in registration order, then forwards the event
// to the cross-process channel asynchronously, then pushes it to real-time
// clients of the event's session.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	ev = b.stamp(ev)
	b.record(ev)

	b.dispatchLocal(ctx, ev)
	observability.EventsPublishedTotal.WithLabelValues(string(ev.Type), "local").Inc()

	if b.forwarder != nil {
		b.inflight.Add(1)
		go b.forward(context.WithoutCancel(ctx), ev)
	}

	b.pushRealtime(ctx, ev)
}

// Dispatch delivers an event received from another process: local handlers
// and real-time clients only, never back onto the channel.
func (b *Bus) Dispatch(ctx context.Context, ev domain.Event) {
	b.record(ev)
	b.dispatchLocal(ctx, ev)
	observability.EventsPublishedTotal.WithLabelValues(string(ev.Type), "relay").Inc()
	b.pushRealtime(ctx, ev)
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Bus) Recent(n int) []domain.Event {
	if b.history == nil {
		return nil
	}
	return b.history.Last(n)
}

// Flush waits for in-flight cross-process forwards.
func (b *Bus) Flush() {
	b.inflight.Wait()
}

func (b *Bus) stamp(ev domain.Event) domain.Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}
	if ev.Version == 0 {
		ev.Version = domain.EventSchemaVersion
	}
	if ev.Origin == "" {
		ev.Origin = b.origin
	}
	return ev
}

func (b *Bus) record(ev domain.Event) {
	if b.history != nil {
		b.history.Add(ev)
	}
}

func (b *Bus) dispatchLocal(ctx context.Context, ev domain.Event) {
	snapshot := *b.regs.Load()
	for _, r := range snapshot {
		if !r.all && r.eventType != ev.Type {
			continue
		}
		b.safeInvoke(ctx, r.handler, ev)
	}
}

func (b *Bus) safeInvoke(ctx context.Context, h Handler, ev domain.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.EventHandlerFailuresTotal.WithLabelValues(string(ev.Type)).Inc()
			observability.LoggerFromContext(ctx).Error("event handler panicked",
				"event_type", ev.Type,
				"event_id", ev.ID,
				"panic", fmt.Sprint(rec))
		}
	}()

	if err := h(ctx, ev); err != nil {
		observability.EventHandlerFailuresTotal.WithLabelValues(string(ev.Type)).Inc()
		observability.LoggerFromContext(ctx).Warn("event handler failed",
			"event_type", ev.Type,
			"event_id", ev.ID,
			"error", err)
	}
}

func (b *Bus) forward(ctx context.Context, ev domain.Event) {
	defer b.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, b.forwardTimeout)
	defer cancel()

	if err := b.forwarder.Forward(ctx, ev); err != nil {
		observability.LoggerFromContext(ctx).Warn("cross-process forward failed",
			"event_type", ev.Type,
			"event_id", ev.ID,
			"error", err)
		return
	}
	observability.EventsPublishedTotal.WithLabelValues(string(ev.Type), "forward").Inc()
}

func (b *Bus) pushRealtime(ctx context.Context, ev domain.Event) {
	if b.transport == nil || ev.SessionID == "" {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("event not serialisable",
			"event_type", ev.Type,
			"error", err)
		return
	}
	b.transport.SendToSession(ev.SessionID, payload)
}
