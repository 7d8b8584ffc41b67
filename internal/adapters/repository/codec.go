package repository

import (
	"encoding/json"
	"fmt"

	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
)

func encodeState(state *domain.UserState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("repository: encode state: %w", err)
	}
	return data, nil
}

// decodeState never returns a partial record: anything undecodable or without an id is corrupt.
func decodeState(data []byte) (*domain.UserState, error) {
	var state domain.UserState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStateCorrupt, err)
	}
	if state.ID == "" {
		return nil, fmt.Errorf("%w: missing id", domain.ErrStateCorrupt)
	}
	return &state, nil
}
