package availability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/clinic-availability/internal/metrics"
)

// DefaultCacheTTL bounds how stale a cached week may get.
const DefaultCacheTTL = 2 * time.Minute

const keyPrefix = "availability"

// Key identifies one cached week. WeekStart must be a Sunday.
type Key struct {
	ClinicID       uuid.UUID
	ProfessionalID *uuid.UUID
	WeekStart      time.Time
}

func (k Key) String() string {
	return weekPrefix(k.ClinicID, k.WeekStart) + professionalLabel(k.ProfessionalID)
}

// weekPrefix matches every professional's entry for one clinic week.
func weekPrefix(clinicID uuid.UUID, weekStart time.Time) string {
	return fmt.Sprintf("%s:%s:%s:", keyPrefix, clinicID, weekStart.Format(DateLayout))
}

func professionalLabel(id *uuid.UUID) string {
	if id == nil {
		return "any"
	}
	return id.String()
}

// Store holds computed weeks. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]AvailabilityDay, bool, error)
	Set(ctx context.Context, key string, days []AvailabilityDay, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type ComputeFunc func(ctx context.Context) ([]AvailabilityDay, error)

// Cache memoizes computed weeks for a TTL. Concurrent misses on one key run
// compute once. Results computed across an invalidation are returned to their
// callers but never stored.
type Cache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	epoch  atomic.Uint64
	logger zerolog.Logger
}

func NewCache(store Store, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		logger: logger.With().Str("component", "availability_cache").Logger(),
	}
}

// Get returns the cached week for key or computes it. The returned slice is
// shared and must not be modified.
func (c *Cache) Get(ctx context.Context, key Key, compute ComputeFunc) ([]AvailabilityDay, error) {
	k := key.String()

	days, ok, err := c.store.Get(ctx, k)
	if err != nil {
		// a broken store only costs a recomputation
		c.logger.Warn().Err(err).Str("key", k).Msg("cache read failed")
	}
	if ok {
		metrics.IncCacheRequest("hit")
		return days, nil
	}

	epoch := c.epoch.Load()
	leader := false

	ch := c.group.DoChan(fmt.Sprintf("%s#%d", k, epoch), func() (any, error) {
		leader = true
		metrics.IncCacheRequest("miss")

		// the computation outlives any single caller that gives up waiting
		computeCtx := context.WithoutCancel(ctx)

		days, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		if c.epoch.Load() != epoch {
			return days, nil
		}
		if err := c.store.Set(computeCtx, k, days, c.ttl); err != nil {
			c.logger.Warn().Err(err).Str("key", k).Msg("cache write failed")
			return days, nil
		}
		// An invalidation between the check above and Set may have deleted
		// before the write landed.
		if c.epoch.Load() != epoch {
			if err := c.store.Delete(computeCtx, k); err != nil {
				c.logger.Warn().Err(err).Str("key", k).Msg("cache rollback failed")
			}
		}
		return days, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if !leader {
			metrics.IncCacheRequest("shared")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]AvailabilityDay), nil
	}
}

// Invalidate drops one cached week so the next Get recomputes it.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	c.epoch.Add(1)
	if err := c.store.Delete(ctx, key.String()); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// InvalidateWeek drops the cached week of every professional of a clinic.
func (c *Cache) InvalidateWeek(ctx context.Context, clinicID uuid.UUID, weekStart time.Time) error {
	c.epoch.Add(1)
	prefix := weekPrefix(clinicID, weekStart)
	if err := c.store.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("invalidate %s*: %w", prefix, err)
	}
	return nil
}
