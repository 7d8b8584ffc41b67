package repository

import (
	"context"
	"sync"

	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
)

var _ domain.UserStateRepository = (*InMemoryStateRepository)(nil)

// InMemoryStateRepository keeps the encoded record in memory, so loads go
// through the same decoding path as the durable stores.
type InMemoryStateRepository struct {
	data []byte

	mu sync.RWMutex
}

func NewInMemoryStateRepository() *InMemoryStateRepository {
	return &InMemoryStateRepository{}
}

func (r *InMemoryStateRepository) Load(ctx context.Context) (*domain.UserState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.data == nil {
		return nil, domain.ErrStateNotFound
	}
	return decodeState(r.data)
}

func (r *InMemoryStateRepository) Save(ctx context.Context, state *domain.UserState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data = data
	return nil
}
