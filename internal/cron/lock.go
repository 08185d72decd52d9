package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// distributedLock is a Redis-backed mutual-exclusion lock used to ensure a
// named task fires on only one scheduler instance at a time.
type distributedLock struct {
	client *redis.Client
	key    string
	token  string
}

// acquireLock attempts to take the lock, returning nil (no error) if
// another instance already holds it.
func acquireLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*distributedLock, error) {
	token := uuid.New().String()
	acquired, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, nil
	}
	return &distributedLock{client: client, key: key, token: token}, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// release deletes the lock only if this instance still owns it.
func (l *distributedLock) release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	return err
}
