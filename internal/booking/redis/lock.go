package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-booking/internal/models"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds the owner's value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a per-resource admission lock shared by every service instance.
type Redis struct {
	Client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedis builds a lock whose keys expire after ttl. Acquire polls for up
// to wait before giving up.
func NewRedis(client *redis.Client, ttl, wait time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Redis{Client: client, ttl: ttl, wait: wait, retry: defaultLockRetry}
}

func lockKey(kind models.ResourceKind, resourceID string) string {
	return fmt.Sprintf("admission_lock:%s:%s", kind, resourceID)
}

// TryLock makes a single SETNX attempt.
func (r *Redis) TryLock(ctx context.Context, kind models.ResourceKind, resourceID, owner string) (bool, error) {
	return r.Client.SetNX(ctx, lockKey(kind, resourceID), owner, r.ttl).Result()
}

// Acquire retries TryLock until it succeeds, wait elapses or ctx ends.
func (r *Redis) Acquire(ctx context.Context, kind models.ResourceKind, resourceID, owner string) (bool, error) {
	deadline := time.Now().Add(r.wait)
	for {
		ok, err := r.TryLock(ctx, kind, resourceID, owner)
		if err != nil || ok {
			return ok, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(r.retry):
		}
	}
}

// Release is a no-op when the lock expired or belongs to someone else.
func (r *Redis) Release(ctx context.Context, kind models.ResourceKind, resourceID, owner string) error {
	err := releaseScript.Run(ctx, r.Client, []string{lockKey(kind, resourceID)}, owner).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

func (r *Redis) IsLocked(ctx context.Context, kind models.ResourceKind, resourceID string) (bool, error) {
	n, err := r.Client.Exists(ctx, lockKey(kind, resourceID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
