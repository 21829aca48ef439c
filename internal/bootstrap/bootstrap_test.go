package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/mockinterview/internal/adapters/emotion"
	"github.com/PabloGalante/mockinterview/internal/adapters/llm"
	"github.com/PabloGalante/mockinterview/internal/adapters/pubsub"
	"github.com/PabloGalante/mockinterview/internal/adapters/queue"
	memstore "github.com/PabloGalante/mockinterview/internal/adapters/storage/memory"
	redisstore "github.com/PabloGalante/mockinterview/internal/adapters/storage/redis"
	"github.com/PabloGalante/mockinterview/internal/app/eventbus"
	"github.com/PabloGalante/mockinterview/internal/app/tasks"
	"github.com/PabloGalante/mockinterview/internal/config"
)

func TestNew_DefaultsToMemory(t *testing.T) {
	in, err := New(context.Background(), config.Default())
	require.NoError(t, err)
	defer in.Close()

	assert.IsType(t, &memstore.SessionStore{}, in.Store)
	assert.IsType(t, &memstore.Archive{}, in.Archive)
	assert.IsType(t, &tasks.MemoryBroker{}, in.Broker)
	assert.IsType(t, &eventbus.MemoryChannel{}, in.Channel)
	assert.IsType(t, &llm.MockLLM{}, in.LLM)
	assert.IsType(t, &emotion.KeywordSampler{}, in.Sampler)
	assert.Nil(t, in.Retriever)
}

func TestNew_RedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.StorageBackend = "redis"
	cfg.Tasks.Broker = "redis"
	cfg.RedisAddr = mr.Addr()

	in, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.IsType(t, &redisstore.SessionStore{}, in.Store)
	assert.IsType(t, &redisstore.EmotionTimeline{}, in.Timeline)
	assert.IsType(t, &queue.RedisBroker{}, in.Broker)
	assert.IsType(t, &pubsub.RedisChannel{}, in.Channel)

	require.NoError(t, in.Close())
	assert.NoError(t, in.Close(), "closing twice is a no-op")
}

func TestNew_UnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Tasks.Broker = "redis"
	cfg.RedisAddr = addr

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
