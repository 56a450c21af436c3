// Package locks provides cross-instance mutual exclusion on top of
// go-redsync/redsync/v4. The broker uses it so that only one instance runs
// each reaper sweep when several share a Redis-backed pending store.
package locks

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"token-broker/internal/common/errors"
	"token-broker/internal/redis"
)

const (
	keyPrefix = "tokenbroker:lock:"

	minExtendEvery = time.Second
	redisOpTimeout = 5 * time.Second
)

// Lock is a held distributed lock.
type Lock interface {
	Key() string
	// Release stops renewal and removes the lock from Redis.
	Release(ctx context.Context) error
	IsHeld() bool
}

// RedsyncManager hands out Redlock mutexes and extends them while held.
type RedsyncManager struct {
	rs *redsync.Redsync

	mu   sync.Mutex
	held map[string]*RedsyncLock
}

// RedsyncLock is a redsync.Mutex kept alive in the background.
type RedsyncLock struct {
	key     string
	ttl     time.Duration
	mutex   *redsync.Mutex
	owner   *RedsyncManager
	stop    context.CancelFunc
	stopped <-chan struct{}
	release sync.Once
}

// NewRedsyncManager creates a lock manager over a connected Redis client.
func NewRedsyncManager(redisClient *redis.Client) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	return &RedsyncManager{
		rs:   redsync.New(goredis.NewPool(redisClient.GetGoRedisClient())),
		held: make(map[string]*RedsyncLock),
	}, nil
}

// TryAcquire makes a single attempt at key. A lock held elsewhere yields
// (nil, nil); only Redis failures are errors.
func (m *RedsyncManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	mutex := m.rs.NewMutex(keyPrefix+key, redsync.WithExpiry(ttl), redsync.WithTries(1))

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if stderrors.As(err, &taken) || stderrors.Is(err, redsync.ErrFailed) {
			return nil, nil
		}
		return nil, errors.InternalError(fmt.Sprintf("failed to acquire lock %s", key), err)
	}

	keepCtx, stop := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		key:     key,
		ttl:     ttl,
		mutex:   mutex,
		owner:   m,
		stop:    stop,
		stopped: keepCtx.Done(),
	}

	m.mu.Lock()
	m.held[key] = lock
	m.mu.Unlock()

	go lock.keepAlive()
	return lock, nil
}

// Close releases every lock still held through this manager.
func (m *RedsyncManager) Close() error {
	m.mu.Lock()
	pending := make([]*RedsyncLock, 0, len(m.held))
	for _, lock := range m.held {
		pending = append(pending, lock)
	}
	m.mu.Unlock()

	var firstErr error
	for _, lock := range pending {
		if err := lock.Release(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *RedsyncManager) forget(key string) {
	m.mu.Lock()
	delete(m.held, key)
	m.mu.Unlock()
}

// keepAlive extends the mutex every third of its TTL. A failed extension
// means the lock is gone, so it is released locally.
func (l *RedsyncLock) keepAlive() {
	every := l.ttl / 3
	if every < minExtendEvery {
		every = minExtendEvery
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopped:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
			extended, err := l.mutex.ExtendContext(ctx)
			cancel()
			if err != nil || !extended {
				l.Release(context.Background())
				return
			}
		}
	}
}

func (l *RedsyncLock) Key() string { return l.key }

func (l *RedsyncLock) IsHeld() bool {
	select {
	case <-l.stopped:
		return false
	default:
		return true
	}
}

// Release is safe to call more than once; only the first call talks to Redis.
func (l *RedsyncLock) Release(ctx context.Context) error {
	var err error
	l.release.Do(func() {
		l.stop()
		l.owner.forget(l.key)

		ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()
		if _, unlockErr := l.mutex.UnlockContext(ctx); unlockErr != nil {
			err = errors.InternalError(fmt.Sprintf("failed to release lock %s", l.key), unlockErr)
		}
	})
	return err
}
