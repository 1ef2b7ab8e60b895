package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/remedylabs/remedy/internal/config"
	"github.com/remedylabs/remedy/internal/embedding"
	"github.com/remedylabs/remedy/internal/index"
	"github.com/remedylabs/remedy/internal/logging"
	"github.com/remedylabs/remedy/internal/metadata"
	"github.com/remedylabs/remedy/internal/search"
	"github.com/remedylabs/remedy/internal/session"
)

// app bundles the shared components the commands wire together.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	embedder embedding.Embedder
	indices  index.Store
	meta     metadata.Store
	engine   *search.Engine
}

// newApp opens the stores and builds the retrieval stack from the config.
// Everything is opened once and stays resident for the process lifetime.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(debug)

	embedder, err := embedding.NewOpenAIEmbedder(embedding.Config{
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	indices, err := openIndexStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	meta, err := metadata.OpenSQLite(cfg.Metadata.Path)
	if err != nil {
		indices.Close()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	engine, err := search.NewEngine(embedder, indices, meta, logger)
	if err != nil {
		indices.Close()
		meta.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		embedder: embedder,
		indices:  indices,
		meta:     meta,
		engine:   engine,
	}, nil
}

func (a *app) close() {
	if err := a.meta.Close(); err != nil {
		a.logger.Warn("failed to close metadata store", zap.Error(err))
	}
	if err := a.indices.Close(); err != nil {
		a.logger.Warn("failed to close index store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func openIndexStore(ctx context.Context, cfg *config.Config) (index.Store, error) {
	switch cfg.Index.Backend {
	case "", "flat":
		return index.OpenFlat(cfg.Index.Dir, cfg.Embedding.Dimension)
	case "milvus":
		mc := cfg.Index.Milvus
		if mc == nil {
			mc = &config.MilvusConfig{Address: "localhost:19530", Collection: "remedy_records"}
		}
		return index.NewMilvusStore(ctx, index.MilvusConfig{
			Address:    mc.Address,
			Collection: mc.Collection,
			Dimension:  cfg.Embedding.Dimension,
		})
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

func openSessionStore(cfg *config.Config) (session.Store, error) {
	ttl := time.Duration(cfg.Session.TTLMins) * time.Minute
	switch cfg.Session.Backend {
	case "", "memory":
		return session.NewMemoryStore(ttl), nil
	case "redis":
		rc := cfg.Session.Redis
		if rc == nil {
			rc = &config.RedisConfig{Address: "localhost:6379"}
		}
		client := redis.NewClient(&redis.Options{Addr: rc.Address, DB: rc.DB})
		return session.NewRedisStore(client, ttl), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}
