package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSessionStore_OptimisticVersioning(t *testing.T) {
	ctx := context.Background()
	_, client := newClient(t)
	store := NewSessionStore(client)

	s := &domain.Session{ID: "s1", CandidateID: "c1", Phase: domain.PhaseIdle}
	require.NoError(t, store.Create(ctx, s))
	assert.Equal(t, int64(1), s.Version)
	assert.ErrorIs(t, store.Create(ctx, s), domain.ErrSessionExists)

	a, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	b, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateID("c1"), a.CandidateID)

	a.Phase = domain.PhaseWaitAnswer
	require.NoError(t, store.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Phase = domain.PhaseError
	assert.ErrorIs(t, store.Update(ctx, b), domain.ErrVersionConflict)
	assert.Equal(t, int64(1), b.Version, "a rejected update leaves the caller's version alone")

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseWaitAnswer, got.Phase)
	assert.Equal(t, int64(2), got.Version)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, store.Update(ctx, &domain.Session{ID: "missing", Version: 1}), domain.ErrSessionNotFound)
}

func TestSessionStore_ConcurrentUpdatesOneWins(t *testing.T) {
	ctx := context.Background()
	_, client := newClient(t)
	store := NewSessionStore(client)
	require.NoError(t, store.Create(ctx, &domain.Session{ID: "s1"}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int
	for i := 0; i < 6; i++ {
		s, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		wg.Add(1)
		go func(s *domain.Session) {
			defer wg.Done()
			if store.Update(ctx, s) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSessionStore_TTLAndList(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	store := NewSessionStore(client, WithTTL(time.Minute), WithPrefix("test"))

	require.NoError(t, store.Create(ctx, &domain.Session{ID: "b"}))
	require.NoError(t, store.Create(ctx, &domain.Session{ID: "a"}))
	assert.True(t, mr.Exists("test:session:a"))
	assert.Equal(t, time.Minute, mr.TTL("test:session:a"))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{"a", "b"}, ids)

	mr.FastForward(2 * time.Minute)
	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	members, err := mr.Members("test:sessions")
	if err == nil {
		assert.Empty(t, members, "expired ids are pruned from the index")
	}
}

func TestSessionStore_GetRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	store := NewSessionStore(client, WithTTL(time.Minute))
	require.NoError(t, store.Create(ctx, &domain.Session{ID: "s1"}))

	mr.FastForward(50 * time.Second)
	_, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	mr.FastForward(50 * time.Second)

	_, err = store.Get(ctx, "s1")
	assert.NoError(t, err)
}

func TestEmotionTimeline_AppendRange(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)
	tl := NewEmotionTimeline(client, 3)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, e := range []domain.Emotion{domain.EmotionHappy, domain.EmotionSad, domain.EmotionFear, domain.EmotionNeutral} {
		require.NoError(t, tl.Append(ctx, "s1", domain.EmotionSignal{
			Scores:   map[domain.Emotion]float64{e: 1},
			Dominant: e,
			At:       base.Add(time.Duration(i) * time.Second),
		}))
	}
	assert.True(t, mr.Exists("mockinterview:emotions:s1"))

	all, err := tl.Range(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3, "stream is capped")
	assert.Equal(t, domain.EmotionSad, all[0].Dominant)
	assert.Equal(t, domain.EmotionNeutral, all[2].Dominant)
	assert.True(t, all[0].At.Equal(base.Add(time.Second)))

	last, err := tl.Range(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, domain.EmotionFear, last[0].Dominant)
	assert.Equal(t, domain.EmotionNeutral, last[1].Dominant)

	none, err := tl.Range(ctx, "other", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}
