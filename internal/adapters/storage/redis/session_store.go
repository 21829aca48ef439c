// Package redis stores sessions and emotion timelines in Redis so that every
// API replica and worker sees the same state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

const (
	defaultPrefix = "mockinterview"
	defaultTTL    = 24 * time.Hour
)

type Option func(*options)

type options struct {
	prefix string
	ttl    time.Duration
}

// WithTTL sets how long an untouched key lives. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{prefix: defaultPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SessionStore implements domain.SessionStore with optimistic locking via
// WATCH/MULTI/EXEC. A set indexes live session ids for List.
type SessionStore struct {
	client *redis.Client
	opts   options
}

func NewSessionStore(client *redis.Client, opts ...Option) *SessionStore {
	return &SessionStore{client: client, opts: buildOptions(opts)}
}

func (s *SessionStore) key(id domain.SessionID) string {
	return s.opts.prefix + ":session:" + string(id)
}

func (s *SessionStore) indexKey() string {
	return s.opts.prefix + ":sessions"
}

// Create stores a new session with Version 1.
func (s *SessionStore) Create(ctx context.Context, session *domain.Session) error {
	stored := session.Clone()
	stored.Version = 1
	val, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(session.ID), val, s.opts.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return domain.ErrSessionExists
	}
	if err := s.client.SAdd(ctx, s.indexKey(), string(session.ID)).Err(); err != nil {
		return fmt.Errorf("redis index failed: %w", err)
	}

	session.Version = 1
	return nil
}

// Get refreshes the TTL on every read.
func (s *SessionStore) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	key := s.key(id)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if s.opts.ttl > 0 {
		// best effort; the next write sets it again
		_ = s.client.Expire(ctx, key, s.opts.ttl).Err()
	}
	return &sess, nil
}

// Update verifies the stored Version matches, increments it and persists.
func (s *SessionStore) Update(ctx context.Context, session *domain.Session) error {
	key := s.key(session.ID)
	next := session.Clone()
	next.Version = session.Version + 1

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var stored struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		if stored.Version != int64(session.Version) {
			return domain.ErrVersionConflict
		}

		val, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, s.opts.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// another writer touched the key between WATCH and EXEC
		return domain.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	session.Version = next.Version
	return nil
}

// List returns the ids of live sessions, sorted. Ids whose key expired are
// pruned from the index on the way.
func (s *SessionStore) List(ctx context.Context) ([]domain.SessionID, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	if len(members) == 0 {
		return []domain.SessionID{}, nil
	}

	pipe := s.client.Pipeline()
	exists := make([]*redis.IntCmd, len(members))
	for i, m := range members {
		exists[i] = pipe.Exists(ctx, s.key(domain.SessionID(m)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	ids := make([]domain.SessionID, 0, len(members))
	var stale []any
	for i, m := range members {
		if exists[i].Val() == 0 {
			stale = append(stale, m)
			continue
		}
		ids = append(ids, domain.SessionID(m))
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, s.indexKey(), stale...).Err()
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *SessionStore) Close() error {
	return s.client.Close()
}
