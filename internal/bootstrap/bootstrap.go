// Package bootstrap provides dependency initialization for the generation
// service.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imnoob59/grokpi/internal/config"
	"github.com/imnoob59/grokpi/internal/credential"
	"github.com/imnoob59/grokpi/internal/generation"
	"github.com/imnoob59/grokpi/internal/storage"
	"github.com/imnoob59/grokpi/internal/transport"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	// Orchestrator is the generation entry point; callers must close it.
	Orchestrator *generation.Orchestrator
	// MediaDir is the local media directory to serve, or "" with S3.
	MediaDir string
}

// NewDependencies creates and initializes all dependencies for the
// application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	session, err := transport.NewSessionBuilder(
		transport.WithProxy(cfg.ProxyURL),
		transport.WithCFClearance(cfg.CFClearance),
	)
	if err != nil {
		return nil, fmt.Errorf("create session builder: %w", err)
	}

	pool, err := initPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store, mediaDir, err := initStorage(cfg, session, logger)
	if err != nil {
		return nil, err
	}

	opts := generation.DefaultOptions()
	opts.MaxRetries = cfg.MaxRetries
	opts.VideoMaxRetries = cfg.VideoMaxRetries
	opts.MaxBlockedRetries = cfg.MaxBlockedRetries
	opts.WebsocketURL = cfg.WebsocketURL
	opts.AgeVerification = cfg.CFClearance != ""
	opts.Thresholds = generation.Thresholds{
		MediumSize:     cfg.MediumSizeThreshold,
		FinalSize:      cfg.FinalSizeThreshold,
		StallGrace:     time.Duration(cfg.StallGraceSec) * time.Second,
		StallReadGrace: time.Duration(cfg.StallReadGraceSec) * time.Second,
		IdleComplete:   time.Duration(cfg.IdleCompleteSec) * time.Second,
		ReadTimeout:    5 * time.Second,
		Attempt:        cfg.GenerationTimeout(),
	}

	orch := generation.NewOrchestrator(pool, session, store, opts, logger)

	return &Dependencies{
		Orchestrator: orch,
		MediaDir:     mediaDir,
	}, nil
}

// initPool creates the credential pool: Redis-backed when enabled so
// rotation state survives restarts and is shared across replicas, else
// in-memory.
func initPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (credential.Pool, error) {
	if cfg.RedisEnabled {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse Redis URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to Redis: %w", err)
		}

		pool, err := credential.NewRedisPool(ctx, rdb, cfg.SSOTokens, cfg.SSODailyLimit)
		if err != nil {
			return nil, fmt.Errorf("create Redis credential pool: %w", err)
		}
		logger.Info("Redis credential pool configured",
			slog.Int("seeded_tokens", len(cfg.SSOTokens)),
			slog.Int("daily_limit", cfg.SSODailyLimit),
		)
		return pool, nil
	}

	pool := credential.NewMemoryPool(cfg.SSOTokens)
	logger.Info("in-memory credential pool configured",
		slog.Int("tokens", len(cfg.SSOTokens)),
	)
	return pool, nil
}

// initStorage creates the appropriate media store based on configuration.
// The second return value is the local directory to serve, empty for S3.
func initStorage(cfg *config.Config, session *transport.SessionBuilder, logger *slog.Logger) (generation.MediaStore, string, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Store(s3Cfg, session, logger)
		if err != nil {
			return nil, "", fmt.Errorf("create S3 store: %w", err)
		}
		logger.Info("S3 media store configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, "", nil
	}

	localStore, err := storage.NewLocalStore(cfg.DataDir, cfg.PublicBaseURL, session, logger)
	if err != nil {
		return nil, "", fmt.Errorf("create local store: %w", err)
	}
	logger.Info("local media store configured",
		slog.String("data_dir", localStore.Dir()),
	)
	return localStore, localStore.Dir(), nil
}
