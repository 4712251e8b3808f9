package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerWithoutClientFailsClosed(t *testing.T) {
	locker := NewLocker(nil)
	unlock, ok, err := locker.TryLock(context.Background(), "task-exec:t1", time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, unlock)
}

func TestLockerSurfacesRedisErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	locker := NewLockerWithClient(client, "helpdesk:lock:")
	_, ok, err := locker.TryLock(context.Background(), "task-exec:t1", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}
