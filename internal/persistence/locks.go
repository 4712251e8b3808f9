package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out short-lived exclusive locks backed by Redis SET NX PX.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker builds a Locker whose keys live under the "lock" namespace of r,
// e.g. "helpdesk:lock:task-exec:<id>".
func NewLocker(r *Redis) *Locker {
	var client redis.UniversalClient
	if r != nil && r.Client != nil {
		client = r.Client
	}
	return &Locker{client: client, prefix: r.Key("lock") + ":"}
}

// NewLockerWithClient builds a Locker over any go-redis client.
func NewLockerWithClient(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryLock attempts to take key for ttl. ok is false when another holder owns
// it. The returned unlock releases the lock if it is still ours.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, errors.New("redis client not configured")
	}
	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{full}, token).Err()
	}
	return unlock, true, nil
}
