package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultKeyPrefix = "lock:booking:"

var (
	ErrLockNotAcquired = errors.New("booking lock not acquired")
	// ErrLockLost means the lock expired or was taken over before release.
	ErrLockLost = errors.New("booking lock lost before release")
)

// Locker serializes booking writers on a slot key. A held key is retried
// until the wait budget runs out, then ErrLockNotAcquired is returned.
type Locker interface {
	WithSlotLock(ctx context.Context, slotKey string, fn func(ctx context.Context) error) error
}

type LockerOption func(*redisSlotLocker)

func WithKeyPrefix(prefix string) LockerOption {
	return func(l *redisSlotLocker) { l.prefix = prefix }
}

// WithWait bounds how long acquisition keeps retrying a held key. Zero
// means a single attempt.
func WithWait(d time.Duration) LockerOption {
	return func(l *redisSlotLocker) { l.wait = d }
}

// WithLogger logs locks that expired while the critical section ran.
func WithLogger(logger zerolog.Logger) LockerOption {
	return func(l *redisSlotLocker) { l.logger = logger }
}

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	prefix string
	logger zerolog.Logger
}

func NewRedisSlotLocker(client *redis.Client, ttl time.Duration, opts ...LockerOption) Locker {
	l := &redisSlotLocker{
		client: client,
		ttl:    ttl,
		wait:   ttl,
		prefix: DefaultKeyPrefix,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *redisSlotLocker) WithSlotLock(ctx context.Context, slotKey string, fn func(ctx context.Context) error) error {
	key := l.prefix + slotKey
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	started := time.Now()
	defer func() {
		// Release must run even when the caller's context is already done.
		err := l.release(context.WithoutCancel(ctx), key, token)
		if errors.Is(err, ErrLockLost) {
			l.logger.Warn().Str("lock_key", key).Dur("held", time.Since(started)).Dur("ttl", l.ttl).Msg("booking lock expired before release")
		} else if err != nil {
			l.logger.Error().Err(err).Str("lock_key", key).Msg("booking lock release failed")
		}
	}()

	// The critical section may not outlive the lock.
	lockedCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockedCtx)
}

// retryDelays is the backoff between acquisition attempts; the last entry repeats.
var retryDelays = []time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

func (l *redisSlotLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)

	for attempt := 0; ; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire booking lock: %w", err)
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrLockNotAcquired
		}
		delay := retryDelays[min(attempt, len(retryDelays)-1)]
		if delay > remaining {
			delay = remaining
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrLockNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release booking lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
