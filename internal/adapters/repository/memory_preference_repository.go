package repository

import (
	"context"
	"sync"

	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
)

var _ domain.PreferenceRepository = (*InMemoryPreferenceRepository)(nil)

type InMemoryPreferenceRepository struct {
	limit *float64
	goal  *string

	mu sync.RWMutex
}

func NewInMemoryPreferenceRepository() *InMemoryPreferenceRepository {
	return &InMemoryPreferenceRepository{}
}

func (r *InMemoryPreferenceRepository) GamingLimit(ctx context.Context) (float64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.limit == nil {
		return 0, false, nil
	}
	return *r.limit, true, nil
}

func (r *InMemoryPreferenceRepository) SetGamingLimit(ctx context.Context, limit float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.limit = &limit
	return nil
}

func (r *InMemoryPreferenceRepository) SelectedGoal(ctx context.Context) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.goal == nil {
		return "", false, nil
	}
	return *r.goal, true, nil
}

func (r *InMemoryPreferenceRepository) SetSelectedGoal(ctx context.Context, goal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.goal = &goal
	return nil
}
