package events

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/config"
)

// releaseScript deletes a lock only when the caller still owns it, so an
// expired lock reacquired by another worker is never released by the old
// holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// LockManager provides named mutual exclusion for background tasks that must
// not duplicate work across process replicas. It is best-effort dedup, not a
// correctness mechanism: when Redis is unreachable, acquisition fails open
// and the work runs anyway. Correctness is assured by idempotent writes to
// the metadata store.
type LockManager struct {
	client *redis.Client
	ttl    time.Duration
	log    *common.ContextLogger
}

// NewLockManager connects to Redis. Connection failures are not fatal here;
// they surface as fail-open acquisitions later.
func NewLockManager(cfg config.RedisConfig) (*LockManager, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.DialTimeout = cfg.ConnectTimeout
	opts.ReadTimeout = cfg.ConnectTimeout
	opts.WriteTimeout = cfg.ConnectTimeout

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &LockManager{
		client: redis.NewClient(opts),
		ttl:    ttl,
		log:    common.NewContextLogger(nil, map[string]interface{}{"component": "lock-manager"}),
	}, nil
}

// NewLockManagerWithClient wraps an existing client (tests use miniredis).
func NewLockManagerWithClient(client *redis.Client, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LockManager{
		client: client,
		ttl:    ttl,
		log:    common.NewContextLogger(nil, map[string]interface{}{"component": "lock-manager"}),
	}
}

// Close releases the Redis connection.
func (lm *LockManager) Close() error {
	return lm.client.Close()
}

// LockKey derives a bounded-length lock key from a callback name and a
// component index.
func LockKey(callbackName, componentIndex string) string {
	sum := md5.Sum([]byte(callbackName + ":" + componentIndex))
	return fmt.Sprintf("depictio:callback_lock:%s:%s", callbackName, hex.EncodeToString(sum[:])[:12])
}

// NewWorkerID returns a unique holder identity for one acquisition.
func NewWorkerID(callbackName string) string {
	return callbackName + ":" + uuid.NewString()
}

// Acquire attempts an atomic set-if-not-exists with expiry. True means the
// caller holds the lock until TTL or release. An unreachable store also
// returns true (fail-open).
func (lm *LockManager) Acquire(ctx context.Context, key, workerID string) bool {
	acquired, err := lm.client.SetNX(ctx, key, workerID, lm.ttl).Result()
	if err != nil {
		lm.log.Warnf("⚠️ Redis unavailable for lock %s: %v (allowing execution)", key, err)
		return true
	}
	if acquired {
		lm.log.Debugf("🔒 Lock acquired: %s by %s", key, workerID)
	} else {
		owner, _ := lm.client.Get(ctx, key).Result()
		lm.log.Infof("⏭️ Lock already held: %s by %s (skipping duplicate execution)", key, owner)
	}
	return acquired
}

// Release deletes the lock when still owned by workerID. Returns false when
// the lock expired or is held by someone else.
func (lm *LockManager) Release(ctx context.Context, key, workerID string) bool {
	released, err := lm.client.Eval(ctx, releaseScript, []string{key}, workerID).Int()
	if err != nil {
		lm.log.Warnf("⚠️ Redis error releasing lock %s: %v", key, err)
		return false
	}
	if released == 1 {
		lm.log.Debugf("🔓 Lock released: %s by %s", key, workerID)
		return true
	}
	lm.log.Debugf("⏭️ Lock expired or not owned: %s", key)
	return false
}

// WithLock runs fn while holding the named lock, releasing it on every exit
// path including cancellation. When the lock is already held the function is
// skipped and false returned.
func (lm *LockManager) WithLock(ctx context.Context, callbackName, componentIndex string, fn func(context.Context) error) (bool, error) {
	key := LockKey(callbackName, componentIndex)
	workerID := NewWorkerID(callbackName)

	if !lm.Acquire(ctx, key, workerID) {
		return false, nil
	}
	defer func() {
		// Release with a fresh context so a cancelled task still frees its
		// lock.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		lm.Release(releaseCtx, key, workerID)
	}()

	return true, fn(ctx)
}
