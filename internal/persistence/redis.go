package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-ops/internal/config"
)

const defaultKeyPrefix = "helpdesk"

// Redis holds the shared go-redis client and the key namespace every
// helpdesk key (execution locks, event channel) lives under.
type Redis struct {
	Client redis.UniversalClient
	prefix string
}

// NewRedis connects to Redis. An unreachable server is logged, not fatal:
// execution locking fails closed until it comes back.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	client := redis.NewClient(opts)
	r := NewRedisWithClient(client, cfg.KeyPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout(cfg.DialTimeout))
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		logger.Warn("unable to reach redis", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.String("prefix", r.prefix))
	}
	return r
}

// NewRedisWithClient wraps an existing client. An empty prefix means
// "helpdesk".
func NewRedisWithClient(client redis.UniversalClient, prefix string) *Redis {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{Client: client, prefix: prefix}
}

// Key joins parts under the configured namespace, e.g. Key("lock") is
// "helpdesk:lock".
func (r *Redis) Key(parts ...string) string {
	prefix := defaultKeyPrefix
	if r != nil && r.prefix != "" {
		prefix = r.prefix
	}
	return strings.Join(append([]string{prefix}, parts...), ":")
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

func pingTimeout(dial time.Duration) time.Duration {
	if dial <= 0 {
		return 5 * time.Second
	}
	return 2 * dial
}
