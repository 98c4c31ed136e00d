package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratalloc/internal/archive"
	"github.com/ajitpratap0/stratalloc/internal/cache"
	"github.com/ajitpratap0/stratalloc/internal/config"
	"github.com/ajitpratap0/stratalloc/internal/db"
	"github.com/ajitpratap0/stratalloc/internal/notify"
	"github.com/ajitpratap0/stratalloc/internal/pipeline"
	"github.com/ajitpratap0/stratalloc/internal/publish"
)

// services holds the optional integrations enabled in the configuration.
type services struct {
	database    *db.DB
	runs        *db.RunRepository
	allocations *db.AllocationRepository
	redis       *redis.Client
	cache       *cache.WindowCache
	notifier    *notify.Notifier
	archive     *archive.Store
	publisher   *publish.Publisher
}

// connectServices opens every enabled integration. On error the ones
// already opened are closed.
func connectServices(ctx context.Context, cfg *config.Config) (_ *services, err error) {
	s := &services{}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	if cfg.Database.Enabled {
		s.database, err = db.New(ctx, cfg.Database.GetDSN(), cfg.Database.PoolSize)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.runs = db.NewRunRepository(s.database)
		s.allocations = db.NewAllocationRepository(s.database)
	}

	if cfg.Redis.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.cache = cache.NewWindowCache(s.redis, cfg.Redis.GetTTL())
		if err = s.cache.Health(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("Window cache enabled")
	}

	if cfg.NATS.Enabled {
		s.notifier, err = notify.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Archive.Enabled {
		s.archive, err = archive.Connect(ctx, cfg.Archive.URI, cfg.Archive.Database, cfg.Archive.Collection)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Publish.Enabled {
		s.publisher, err = publish.New(ctx, publish.Options{
			Bucket:          cfg.Publish.Bucket,
			Prefix:          cfg.Publish.Prefix,
			Region:          cfg.Publish.Region,
			Endpoint:        cfg.Publish.Endpoint,
			AccessKeyID:     cfg.Publish.AccessKeyID,
			SecretAccessKey: cfg.Publish.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// pipelineOptions passes the enabled integrations to a runner.
func (s *services) pipelineOptions() []pipeline.Option {
	var opts []pipeline.Option
	if s.cache != nil {
		opts = append(opts, pipeline.WithCache(s.cache))
	}
	if s.runs != nil {
		opts = append(opts, pipeline.WithRunStore(s.runs), pipeline.WithAllocationStore(s.allocations))
	}
	if s.notifier != nil {
		opts = append(opts, pipeline.WithNotifier(s.notifier))
	}
	if s.archive != nil {
		opts = append(opts, pipeline.WithArchive(s.archive))
	}
	if s.publisher != nil {
		opts = append(opts, pipeline.WithPublisher(s.publisher))
	}
	return opts
}

func (s *services) close(ctx context.Context) {
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.archive != nil {
		if err := s.archive.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to close archive")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if s.database != nil {
		s.database.Close()
	}
}
