// Package bootstrap turns a config.Config into the adapters both binaries
// share: stores, task broker, event channel and the AI services.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PabloGalante/mockinterview/internal/adapters/emotion"
	"github.com/PabloGalante/mockinterview/internal/adapters/llm"
	"github.com/PabloGalante/mockinterview/internal/adapters/pubsub"
	"github.com/PabloGalante/mockinterview/internal/adapters/queue"
	"github.com/PabloGalante/mockinterview/internal/adapters/retrieval"
	firestorestore "github.com/PabloGalante/mockinterview/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/mockinterview/internal/adapters/storage/memory"
	redisstore "github.com/PabloGalante/mockinterview/internal/adapters/storage/redis"
	"github.com/PabloGalante/mockinterview/internal/app/eventbus"
	"github.com/PabloGalante/mockinterview/internal/app/tasks"
	"github.com/PabloGalante/mockinterview/internal/config"
	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

const (
	timelineMaxLen   = 512
	retrievalMinHits = 0.25
)

// LLM is everything the Gemini client and its mock provide.
type LLM interface {
	domain.UtteranceGenerator
	domain.AnswerScorer
	domain.Embedder
}

// Channel is the cross-process event channel.
type Channel interface {
	eventbus.Forwarder
	eventbus.Subscriber
}

// Infra holds the shared adapters. Close releases them in reverse order.
type Infra struct {
	Config *config.Config

	Store     domain.SessionStore
	Timeline  domain.EmotionTimeline
	Archive   domain.SessionArchive
	Broker    tasks.Broker
	Channel   Channel
	LLM       LLM
	Sampler   domain.EmotionSampler
	Retriever domain.ContextRetriever

	closers []io.Closer
}

// New builds the infrastructure described by cfg. Memory backends are used
// unless cfg selects redis or firestore.
func New(ctx context.Context, cfg *config.Config) (*Infra, error) {
	log := observability.LoggerFromContext(ctx)
	in := &Infra{Config: cfg}

	var rdb *goredis.Client
	if usesRedis(cfg) {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		in.closers = append(in.closers, rdb)
		log.Info("redis connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	}

	switch strings.ToLower(cfg.StorageBackend) {
	case "redis":
		log.Info("using redis session store", "ttl", cfg.SessionTTL)
		in.Store = redisstore.NewSessionStore(rdb, redisstore.WithTTL(cfg.SessionTTL))
		in.Timeline = redisstore.NewEmotionTimeline(rdb, timelineMaxLen, redisstore.WithTTL(cfg.SessionTTL))
		in.Channel = pubsub.NewRedisChannel(rdb, cfg.Events.Channel)
	default:
		log.Info("using in-memory session store")
		in.Store = memstore.NewSessionStore()
		in.Timeline = memstore.NewEmotionTimeline(timelineMaxLen)
		in.Channel = eventbus.NewMemoryChannel(0)
	}

	switch strings.ToLower(cfg.Tasks.Broker) {
	case "redis":
		log.Info("using redis task broker", "result_ttl", cfg.Tasks.ResultTTL)
		in.Broker = queue.NewRedisBroker(rdb, cfg.Tasks.ResultTTL)
	default:
		log.Info("using in-memory task broker")
		in.Broker = tasks.NewMemoryBroker(cfg.Tasks.ResultTTL)
	}

	switch strings.ToLower(cfg.ArchiveBackend) {
	case "firestore":
		log.Info("using firestore archive", "project", cfg.GCPProjectID)
		archive, err := firestorestore.NewArchive(ctx, cfg.GCPProjectID)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.Archive = archive
		in.closers = append(in.closers, archive)
	default:
		in.Archive = memstore.NewArchive()
	}

	model, err := newLLM(ctx, cfg)
	if err != nil {
		in.Close()
		return nil, err
	}
	in.LLM = model

	if cfg.EmotionServiceURL != "" {
		log.Info("using emotion service", "url", cfg.EmotionServiceURL)
		in.Sampler = emotion.NewHTTPSampler(cfg.EmotionServiceURL, cfg.EmotionAPIKey, cfg.EmotionTimeout)
	} else {
		log.Info("using keyword emotion sampler")
		in.Sampler = emotion.NewKeywordSampler()
	}

	if cfg.QdrantURL != "" {
		searcher, err := retrieval.NewQdrantSearcher(retrieval.QdrantConfig{
			URL:        cfg.QdrantURL,
			Collection: cfg.QdrantCollection,
			APIKey:     cfg.QdrantAPIKey,
		})
		if err != nil {
			in.Close()
			return nil, err
		}
		in.closers = append(in.closers, searcher)
		in.Retriever = retrieval.NewRetriever(model, searcher, retrievalMinHits)
		log.Info("resume retrieval enabled", "collection", cfg.QdrantCollection)
	}

	return in, nil
}

func usesRedis(cfg *config.Config) bool {
	return strings.EqualFold(cfg.StorageBackend, "redis") || strings.EqualFold(cfg.Tasks.Broker, "redis")
}

func newLLM(ctx context.Context, cfg *config.Config) (LLM, error) {
	log := observability.LoggerFromContext(ctx)
	if cfg.UseMockLLM {
		log.Info("using mock LLM client")
		return llm.NewMockLLM(), nil
	}

	opts := llm.Options{
		APIKey:         cfg.GeminiAPIKey,
		ChatModel:      cfg.ModelName,
		ScoringModel:   cfg.ScoringModel,
		EmbeddingModel: cfg.EmbeddingModel,
	}
	if cfg.Mode == config.ModeGCP {
		opts.Project = cfg.GCPProjectID
		opts.Location = cfg.GCPLocation
	}
	log.Info("using Gemini LLM client", "model", cfg.ModelName, "vertex", opts.Project != "")
	client, err := llm.NewGeminiClient(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing Gemini client: %w", err)
	}
	return client, nil
}

// Close releases every connection New opened.
func (in *Infra) Close() error {
	var errs []error
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	in.closers = nil
	return errors.Join(errs...)
}
