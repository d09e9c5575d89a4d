package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/storage"
	"github.com/erp/ingest/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects and pings Redis
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Factory picks backends for the ledger and the job status store
type Factory struct {
	client *redis.Client
	logger *zap.Logger
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithRedisClient supplies the shared Redis client. Without it only memory
// backends can be built.
func WithRedisClient(client *redis.Client) FactoryOption {
	return func(f *Factory) {
		f.client = client
	}
}

// NewFactory creates a new factory
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ConcurrencyLedger builds the ledger for cfg.LedgerBackend
func (f *Factory) ConcurrencyLedger(cfg config.UploadConfig) (storage.ConcurrencyLedger, error) {
	switch cfg.LedgerBackend {
	case config.BackendRedis:
		if f.client == nil {
			return nil, fmt.Errorf("redis ledger requires a redis client")
		}
		f.logger.Info("using Redis concurrency ledger")
		return NewRedisConcurrencyLedger(f.client, "", cfg.LedgerKeyTTL), nil
	case config.BackendMemory, "":
		// Counters are per process; multiple instances would each enforce the limit
		f.logger.Info("using in-memory concurrency ledger")
		return NewInMemoryConcurrencyLedger(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

// JobStatusStore builds the status store for cfg.StatusBackend. The returned
// close func releases background resources.
func (f *Factory) JobStatusStore(cfg config.BulkConfig) (bulk.JobStatusStore, func() error, error) {
	switch cfg.StatusBackend {
	case config.BackendRedis:
		if f.client == nil {
			return nil, nil, fmt.Errorf("redis job status store requires a redis client")
		}
		f.logger.Info("using Redis job status store")
		return NewRedisJobStatusStore(f.client, "", cfg.StatusTTL), func() error { return nil }, nil
	case config.BackendMemory, "":
		f.logger.Info("using in-memory job status store")
		s := NewInMemoryJobStatusStore(cfg.StatusTTL)
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown job status backend %q", cfg.StatusBackend)
	}
}
