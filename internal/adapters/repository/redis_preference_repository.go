package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/comitanigiacomo/gameless-engine/internal/adapters/cache"
	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
)

var _ domain.PreferenceRepository = (*RedisPreferenceRepository)(nil)

// RedisPreferenceRepository stores each preference under its own key without expiry.
type RedisPreferenceRepository struct {
	rdb *redis.Client
}

func NewRedisPreferenceRepository(rdb *redis.Client) *RedisPreferenceRepository {
	return &RedisPreferenceRepository{rdb: rdb}
}

func (r *RedisPreferenceRepository) GamingLimit(ctx context.Context) (float64, bool, error) {
	limit, err := r.rdb.Get(ctx, cache.Key("pref", domain.GamingLimitKey)).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("repository: read %s: %w", domain.GamingLimitKey, err)
	}
	return limit, true, nil
}

func (r *RedisPreferenceRepository) SetGamingLimit(ctx context.Context, limit float64) error {
	if err := r.rdb.Set(ctx, cache.Key("pref", domain.GamingLimitKey), limit, 0).Err(); err != nil {
		return fmt.Errorf("repository: write %s: %w", domain.GamingLimitKey, err)
	}
	return nil
}

func (r *RedisPreferenceRepository) SelectedGoal(ctx context.Context) (string, bool, error) {
	goal, err := r.rdb.Get(ctx, cache.Key("pref", domain.SelectedGoalKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("repository: read %s: %w", domain.SelectedGoalKey, err)
	}
	return goal, true, nil
}

func (r *RedisPreferenceRepository) SetSelectedGoal(ctx context.Context, goal string) error {
	if err := r.rdb.Set(ctx, cache.Key("pref", domain.SelectedGoalKey), goal, 0).Err(); err != nil {
		return fmt.Errorf("repository: write %s: %w", domain.SelectedGoalKey, err)
	}
	return nil
}
