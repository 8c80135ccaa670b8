// Package lock provides the per-requester creation mutex. Mutual exclusion
// holds across the whole deployment, not just one process.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/clipbrief/clipbrief/internal/config"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when every acquisition attempt failed. It is a
// transient infrastructure error: callers retry the whole request, and must
// never read it as an admission decision.
var ErrNotAcquired = errors.New("lock_not_acquired")

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type Locker struct {
	client *redis.Client
	script *redis.Script
	cfg    config.LockConfig
}

func NewLocker(client *redis.Client, cfg config.Config) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		cfg:    cfg.Lock,
	}
}

// TryLock attempts a single acquisition. The returned token fences the
// release so an expired holder cannot delete a successor's lock.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// WithLock runs fn while holding key, retrying acquisition up to the
// configured bound. The lock is released on every path. On exhausted
// retries it returns ErrNotAcquired without running fn.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	attempts := l.cfg.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var token string
	acquired := false
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.cfg.RetryDelay):
			}
		}
		var ok bool
		var err error
		token, ok, err = l.TryLock(ctx, key, l.cfg.TTL)
		if err != nil {
			return err
		}
		if ok {
			acquired = true
			break
		}
	}
	if !acquired {
		return ErrNotAcquired
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.Release(releaseCtx, key, token)
	}()

	return fn(ctx)
}
