// Package tasks runs long-latency operations off the request path: a client
// submits named operations onto lanes, workers execute them under a retry
// policy and results stay addressable by task id.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// Broker is the queue plus result backend the fabric runs on.
type Broker interface {
	// Push stores rec and appends it to the tail of rec.Queue.
	Push(ctx context.Context, rec *domain.TaskRecord) error
	// Pop waits up to wait for the next record on queue. It returns nil, nil
	// when nothing arrived in time.
	Pop(ctx context.Context, queue string, wait time.Duration) (*domain.TaskRecord, error)
	// Save overwrites the stored record. Finished records expire after the
	// broker's result TTL.
	Save(ctx context.Context, rec *domain.TaskRecord) error
	// Load returns domain.ErrTaskNotFound for unknown or expired ids.
	Load(ctx context.Context, id domain.TaskID) (*domain.TaskRecord, error)
	Close() error
}

type memoryEntry struct {
	rec     *domain.TaskRecord
	expires time.Time
}

// MemoryBroker keeps queues as buffered channels, one per lane. It backs the
// single-process mode and tests.
type MemoryBroker struct {
	mu      sync.Mutex
	records map[domain.TaskID]memoryEntry
	queues  map[string]chan domain.TaskID
	ttl     time.Duration
	depth   int
	now     func() time.Time
}

func NewMemoryBroker(resultTTL time.Duration) *MemoryBroker {
	return &MemoryBroker{
		records: make(map[domain.TaskID]memoryEntry),
		queues:  make(map[string]chan domain.TaskID),
		ttl:     resultTTL,
		depth:   1024,
		now:     time.Now,
	}
}

func (b *MemoryBroker) queue(name string) chan domain.TaskID {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = make(chan domain.TaskID, b.depth)
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) Push(ctx context.Context, rec *domain.TaskRecord) error {
	if err := b.Save(ctx, rec); err != nil {
		return err
	}
	select {
	case b.queue(rec.Queue) <- rec.ID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Pop(ctx context.Context, queue string, wait time.Duration) (*domain.TaskRecord, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	q := b.queue(queue)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case id := <-q:
			rec, err := b.Load(ctx, id)
			if err != nil {
				// expired while queued
				continue
			}
			return rec, nil
		}
	}
}

func (b *MemoryBroker) Save(_ context.Context, rec *domain.TaskRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := memoryEntry{rec: rec.Clone()}
	if rec.State.Done() && b.ttl > 0 {
		e.expires = b.now().Add(b.ttl)
	}
	b.records[rec.ID] = e
	return nil
}

func (b *MemoryBroker) Load(_ context.Context, id domain.TaskID) (*domain.TaskRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.records[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	if !e.expires.IsZero() && b.now().After(e.expires) {
		delete(b.records, id)
		return nil, domain.ErrTaskNotFound
	}
	return e.rec.Clone(), nil
}

func (b *MemoryBroker) Close() error {
	return nil
}
