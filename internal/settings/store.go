// Package settings loads the clinic's working-hours configuration from the
// backend and caches it in Redis. The backend remains the authority; the
// cache only shortens the hot path for every slot validation.
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/curohealth/clinic-scheduler/internal/workinghours"
	"github.com/curohealth/clinic-scheduler/pkg/logging"
)

const defaultTTL = 5 * time.Minute

// Fetcher is the slice of the backend client the store needs.
type Fetcher interface {
	FetchSettings(ctx context.Context) ([]byte, error)
}

// Store caches the validated working-hours week per clinic.
type Store struct {
	fetcher  Fetcher
	redis    *redis.Client
	clinicID string
	ttl      time.Duration
	logger   *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the cache entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewStore creates a settings store. redisClient may be nil; the store then
// fetches directly on every call.
func NewStore(fetcher Fetcher, redisClient *redis.Client, clinicID string, logger *logging.Logger, opts ...Option) *Store {
	if fetcher == nil {
		panic("settings: fetcher required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		fetcher:  fetcher,
		redis:    redisClient,
		clinicID: clinicID,
		ttl:      defaultTTL,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key() string {
	return fmt.Sprintf("clinic:settings:%s", s.clinicID)
}

// WorkingHours returns the validated weekly schedule, from cache when
// fresh. Cache misses, stale or undecodable entries, and Redis outages all
// fall through to the backend.
func (s *Store) WorkingHours(ctx context.Context) (workinghours.Week, error) {
	if s.redis != nil {
		raw, err := s.redis.Get(ctx, s.key()).Bytes()
		switch {
		case err == redis.Nil:
			// miss
		case err != nil:
			s.logger.Warn("settings cache unavailable, fetching directly", "error", err)
		default:
			if week, perr := workinghours.ParseSettings(raw); perr == nil {
				return week, nil
			}
			s.logger.Warn("cached settings payload invalid, refetching")
		}
	}

	raw, err := s.fetcher.FetchSettings(ctx)
	if err != nil {
		return workinghours.Week{}, fmt.Errorf("settings: fetch: %w", err)
	}
	week, err := workinghours.ParseSettings(raw)
	if err != nil {
		return workinghours.Week{}, err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, s.key(), raw, s.ttl).Err(); err != nil {
			s.logger.Warn("settings cache write failed", "error", err)
		}
	}
	return week, nil
}

// Invalidate drops the cached payload, forcing the next read to hit the
// backend.
func (s *Store) Invalidate(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	if err := s.redis.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("settings: invalidate: %w", err)
	}
	return nil
}
