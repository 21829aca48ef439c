package eventbus

import (
	"context"
	"sync"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

// Subscriber is the receiving side of the cross-process channel. The returned
// channel is closed when ctx ends or the subscription drops.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}

// Listener re-dispatches events received from other processes into the
// local bus, so a worker can reach this process's real-time clients.
type Listener struct {
	bus *Bus
	sub Subscriber
}

func NewListener(bus *Bus, sub Subscriber) *Listener {
	return &Listener{bus: bus, sub: sub}
}

// Run blocks until ctx is done or the subscription closes.
func (l *Listener) Run(ctx context.Context) error {
	ch, err := l.sub.Subscribe(ctx)
	if err != nil {
		return err
	}

	log := observability.LoggerFromContext(ctx).With("component", "event_listener")
	log.Info("event listener started", "origin", l.bus.Origin())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				log.Info("event subscription closed")
				return nil
			}
			// Our own publications come back on the shared channel.
			if ev.Origin == l.bus.Origin() {
				continue
			}
			l.bus.Dispatch(ctx, ev)
		}
	}
}

// MemoryChannel is an in-process Forwarder/Subscriber pair used in local mode
// and tests. Slow subscribers drop events instead of blocking publishers.
type MemoryChannel struct {
	mu     sync.Mutex
	subs   map[chan domain.Event]struct{}
	buffer int
}

func NewMemoryChannel(buffer int) *MemoryChannel {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryChannel{subs: make(map[chan domain.Event]struct{}), buffer: buffer}
}

func (m *MemoryChannel) Forward(ctx context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (m *MemoryChannel) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	ch := make(chan domain.Event, m.buffer)

	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}
