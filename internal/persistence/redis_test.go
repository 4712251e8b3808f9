package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-ops/internal/config"
)

func TestRedisKeyNamespace(t *testing.T) {
	assert.Equal(t, "helpdesk:lock", NewRedisWithClient(nil, "").Key("lock"))
	assert.Equal(t, "ops-eu:lock:task-exec", NewRedisWithClient(nil, "ops-eu:").Key("lock", "task-exec"))

	var r *Redis
	assert.Equal(t, "helpdesk:lock", r.Key("lock"))
}

func TestRedisWithoutClientFailsPing(t *testing.T) {
	var r *Redis
	assert.Error(t, r.Ping(context.Background()))
	assert.Error(t, NewRedisWithClient(nil, "").Ping(context.Background()))
}

func TestNewRedisToleratesUnreachableServer(t *testing.T) {
	r := NewRedis(config.RedisConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		KeyPrefix:   "ops-test",
	}, zap.NewNop())
	defer r.Close()

	require.NotNil(t, r.Client)
	assert.Error(t, r.Ping(context.Background()))
	assert.Equal(t, "ops-test:lock", r.Key("lock"))
}

func TestLockerUsesRedisNamespace(t *testing.T) {
	r := NewRedisWithClient(nil, "ops-test")
	assert.Equal(t, "ops-test:lock:", NewLocker(r).prefix)
}
