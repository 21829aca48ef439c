// Package queue backs the task fabric with Redis lists so API and worker
// processes share queues and results.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

const (
	defaultPrefix     = "mockinterview:tasks"
	defaultVisibility = 20 * time.Minute
)

// RedisBroker implements tasks.Broker. Each lane is a list of task ids; each
// record lives under its own key and expires resultTTL after it finishes.
//
// Pop moves an id onto the lane's processing list instead of deleting it.
// The id leaves that list when the record is finished or pushed again, so an
// id held by a crashed worker goes back to its lane once the record has not
// been touched for the visibility timeout.
type RedisBroker struct {
	client     *redis.Client
	prefix     string
	resultTTL  time.Duration
	visibility time.Duration
	now        func() time.Time

	mu         sync.Mutex
	lastSweeps map[string]time.Time
}

type Option func(*RedisBroker)

func WithPrefix(prefix string) Option {
	return func(b *RedisBroker) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithVisibility sets how long a popped task may go without a record update
// before it is handed to another worker. Keep it above the longest hard limit.
func WithVisibility(d time.Duration) Option {
	return func(b *RedisBroker) {
		if d > 0 {
			b.visibility = d
		}
	}
}

func NewRedisBroker(client *redis.Client, resultTTL time.Duration, opts ...Option) *RedisBroker {
	b := &RedisBroker{
		client:     client,
		prefix:     defaultPrefix,
		resultTTL:  resultTTL,
		visibility: defaultVisibility,
		now:        time.Now,
		lastSweeps: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBroker) recordKey(id domain.TaskID) string {
	return b.prefix + ":record:" + string(id)
}

func (b *RedisBroker) queueKey(queue string) string {
	return b.prefix + ":queue:" + queue
}

func (b *RedisBroker) processingKey(queue string) string {
	return b.prefix + ":processing:" + queue
}

func (b *RedisBroker) encode(rec *domain.TaskRecord) ([]byte, time.Duration, error) {
	val, err := json.Marshal(rec)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal task: %w", err)
	}
	var ttl time.Duration
	if rec.State.Done() {
		ttl = b.resultTTL
	}
	return val, ttl, nil
}

// Push stores the record and enqueues its id in one transaction.
func (b *RedisBroker) Push(ctx context.Context, rec *domain.TaskRecord) error {
	val, ttl, err := b.encode(rec)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.recordKey(rec.ID), val, ttl)
	pipe.LRem(ctx, b.processingKey(rec.Queue), 0, string(rec.ID))
	pipe.RPush(ctx, b.queueKey(rec.Queue), string(rec.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push failed: %w", err)
	}
	return nil
}

// Pop blocks on the lane list and parks the id on the processing list. Ids
// whose record already expired are dropped.
func (b *RedisBroker) Pop(ctx context.Context, queue string, wait time.Duration) (*domain.TaskRecord, error) {
	if b.sweepDue(queue) {
		if _, err := b.Recover(ctx, queue); err != nil && ctx.Err() == nil {
			return nil, err
		}
	}

	deadline := time.Now().Add(wait)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, nil
		}

		id, err := b.client.BLMove(ctx, b.queueKey(queue), b.processingKey(queue), "LEFT", "RIGHT", left).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis blmove failed: %w", err)
		}

		rec, err := b.Load(ctx, domain.TaskID(id))
		if errors.Is(err, domain.ErrTaskNotFound) {
			b.client.LRem(ctx, b.processingKey(queue), 0, id)
			continue
		}
		return rec, err
	}
}

// Recover returns ids stuck on the lane's processing list to the lane. An id
// is stuck when its record is unfinished and has not been updated within the
// visibility timeout. Finished or expired ids are dropped from the list.
func (b *RedisBroker) Recover(ctx context.Context, queue string) (int, error) {
	ids, err := b.client.LRange(ctx, b.processingKey(queue), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis lrange failed: %w", err)
	}

	now := b.now()
	requeued := 0
	for _, id := range ids {
		rec, err := b.Load(ctx, domain.TaskID(id))
		switch {
		case errors.Is(err, domain.ErrTaskNotFound):
			b.client.LRem(ctx, b.processingKey(queue), 0, id)
			continue
		case err != nil:
			return requeued, err
		case rec.State.Done():
			b.client.LRem(ctx, b.processingKey(queue), 0, id)
			continue
		case now.Sub(rec.UpdatedAt) < b.visibility:
			continue
		}

		pipe := b.client.TxPipeline()
		removed := pipe.LRem(ctx, b.processingKey(queue), 1, id)
		pipe.RPush(ctx, b.queueKey(queue), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return requeued, fmt.Errorf("redis requeue failed: %w", err)
		}
		if removed.Val() == 0 {
			// Another worker recovered it first; undo the extra push.
			b.client.LRem(ctx, b.queueKey(queue), -1, id)
			continue
		}
		requeued++
	}
	return requeued, nil
}

func (b *RedisBroker) sweepDue(queue string) bool {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if last, ok := b.lastSweeps[queue]; ok && now.Sub(last) < b.visibility/2 {
		return false
	}
	b.lastSweeps[queue] = now
	return true
}

func (b *RedisBroker) Save(ctx context.Context, rec *domain.TaskRecord) error {
	val, ttl, err := b.encode(rec)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.recordKey(rec.ID), val, ttl)
	if rec.State.Done() {
		pipe.LRem(ctx, b.processingKey(rec.Queue), 0, string(rec.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (b *RedisBroker) Load(ctx context.Context, id domain.TaskID) (*domain.TaskRecord, error) {
	data, err := b.client.Get(ctx, b.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec domain.TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &rec, nil
}

// Depth reports how many ids wait on a lane.
func (b *RedisBroker) Depth(ctx context.Context, queue string) (int64, error) {
	return b.client.LLen(ctx, b.queueKey(queue)).Result()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
