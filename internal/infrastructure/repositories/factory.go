package repositories

import (
	"context"

	"callscope/internal/core/ports"
	"callscope/internal/infrastructure/repositories/memory"
	redisrepo "callscope/internal/infrastructure/repositories/redis"
	"callscope/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory picks the Redis archive when it is enabled and reachable
// and falls back to memory otherwise.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory archive",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
		}
	}

	if factory.useRedis {
		logger.Info("using Redis call record archive")
	} else {
		logger.Info("using memory call record archive")
	}
	return factory
}

func (f *RepositoryFactory) CreateCallRecordRepository() ports.CallRecordRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisCallRecordRepository(f.redisClient, f.cfg.Redis.RecordTTL)
	}
	return memory.NewMemoryCallRecordRepository()
}

// RedisClient is nil when the memory archive is in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
