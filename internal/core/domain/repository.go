package domain

import (
	"context"
)

type UserStateRepository interface {
	// Load returns the stored state.
	// It returns ErrStateNotFound when nothing was saved yet, ErrStateCorrupt
	// when the stored record cannot be decoded and ErrStateUnavailable when the
	// storage itself fails.
	Load(ctx context.Context) (*UserState, error)

	// Save replaces the stored state in a single write.
	Save(ctx context.Context, state *UserState) error
}

// PreferenceRepository exposes the two onboarding preferences stored under their own keys.
// The ok result is false when the key was never written.
type PreferenceRepository interface {
	GamingLimit(ctx context.Context) (limit float64, ok bool, err error)
	SetGamingLimit(ctx context.Context, limit float64) error

	SelectedGoal(ctx context.Context) (goal string, ok bool, err error)
	SetSelectedGoal(ctx context.Context, goal string) error
}
