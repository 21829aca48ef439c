package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// EmotionTimeline appends signals to one Redis stream per session. The stream
// is trimmed to maxLen entries and expires with the session TTL.
type EmotionTimeline struct {
	client *redis.Client
	opts   options
	maxLen int64
}

func NewEmotionTimeline(client *redis.Client, maxLen int, opts ...Option) *EmotionTimeline {
	return &EmotionTimeline{client: client, opts: buildOptions(opts), maxLen: int64(maxLen)}
}

func (t *EmotionTimeline) key(id domain.SessionID) string {
	return t.opts.prefix + ":emotions:" + string(id)
}

func (t *EmotionTimeline) Append(ctx context.Context, id domain.SessionID, sig domain.EmotionSignal) error {
	val, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	key := t.key(id)
	pipe := t.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: t.maxLen,
		Approx: false,
		Values: map[string]any{"signal": val},
	})
	if t.opts.ttl > 0 {
		pipe.Expire(ctx, key, t.opts.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis xadd failed: %w", err)
	}
	return nil
}

// Range returns the newest `limit` signals in arrival order.
func (t *EmotionTimeline) Range(ctx context.Context, id domain.SessionID, limit int) ([]domain.EmotionSignal, error) {
	key := t.key(id)

	var msgs []redis.XMessage
	var err error
	if limit > 0 {
		msgs, err = t.client.XRevRangeN(ctx, key, "+", "-", int64(limit)).Result()
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	} else {
		msgs, err = t.client.XRange(ctx, key, "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis xrange failed: %w", err)
	}

	out := make([]domain.EmotionSignal, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["signal"].(string)
		if !ok {
			continue
		}
		var sig domain.EmotionSignal
		if err := json.Unmarshal([]byte(raw), &sig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signal %s: %w", m.ID, err)
		}
		out = append(out, sig)
	}
	return out, nil
}
