package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/comitanigiacomo/gameless-engine/internal/adapters/cache"
	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
)

var _ domain.UserStateRepository = (*CachedStateRepository)(nil)

const stateCacheTTL = 30 * time.Minute

// CachedStateRepository fronts a durable repository with Redis.
// Saves write through to the cache. If the cache can neither be refreshed nor
// cleared, it is bypassed until a later delete succeeds, so a stale copy is
// never served.
type CachedStateRepository struct {
	next  domain.UserStateRepository
	cache *redis.Client

	stale atomic.Bool
}

func NewCachedStateRepository(next domain.UserStateRepository, cache *redis.Client) *CachedStateRepository {
	return &CachedStateRepository{
		next:  next,
		cache: cache,
	}
}

func (r *CachedStateRepository) cacheKey() string {
	return cache.Key("state", domain.StateKey)
}

// invalidate drops the cached copy and reports whether the cache is now safe to read.
func (r *CachedStateRepository) invalidate(ctx context.Context) bool {
	if err := r.cache.Del(ctx, r.cacheKey()).Err(); err != nil {
		log.Printf("[CACHE] Failed to invalidate state, bypassing cache: %v", err)
		r.stale.Store(true)
		return false
	}
	r.stale.Store(false)
	return true
}

func (r *CachedStateRepository) Load(ctx context.Context) (*domain.UserState, error) {
	if r.stale.Load() && !r.invalidate(ctx) {
		return r.next.Load(ctx)
	}

	key := r.cacheKey()

	val, err := r.cache.Get(ctx, key).Bytes()
	if err == nil {
		state, decodeErr := decodeState(val)
		if decodeErr == nil {
			return state, nil
		}

		log.Printf("[CACHE] Corrupted state in cache, cleaning up key %s", key)
		r.cache.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("[CACHE] Redis read error: %v", err)
	}

	state, err := r.next.Load(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := encodeState(state); err == nil {
		if setErr := r.cache.Set(ctx, key, data, stateCacheTTL).Err(); setErr != nil {
			log.Printf("[CACHE] Redis set error: %v", setErr)
		}
	}

	return state, nil
}

func (r *CachedStateRepository) Save(ctx context.Context, state *domain.UserState) error {
	if err := r.next.Save(ctx, state); err != nil {
		return err
	}

	data, err := encodeState(state)
	if err == nil {
		err = r.cache.Set(ctx, r.cacheKey(), data, stateCacheTTL).Err()
	}
	if err == nil {
		r.stale.Store(false)
		return nil
	}

	log.Printf("[CACHE] Failed to refresh state: %v", err)
	r.invalidate(ctx)
	return nil
}
