package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
)

var _ domain.PreferenceRepository = (*SQLPreferenceRepository)(nil)

// SQLPreferenceRepository keeps each preference as its own row of app_state.
type SQLPreferenceRepository struct {
	db *sqlx.DB
}

func NewSQLPreferenceRepository(db *sqlx.DB) *SQLPreferenceRepository {
	return &SQLPreferenceRepository{db: db}
}

func (r *SQLPreferenceRepository) GamingLimit(ctx context.Context) (float64, bool, error) {
	payload, err := loadPayload(ctx, r.db, domain.GamingLimitKey)
	if err != nil || payload == nil {
		return 0, false, err
	}

	limit, err := strconv.ParseFloat(string(payload), 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s=%q", domain.ErrStateCorrupt, domain.GamingLimitKey, payload)
	}
	return limit, true, nil
}

func (r *SQLPreferenceRepository) SetGamingLimit(ctx context.Context, limit float64) error {
	payload := strconv.FormatFloat(limit, 'g', -1, 64)
	return savePayload(ctx, r.db, domain.GamingLimitKey, []byte(payload))
}

func (r *SQLPreferenceRepository) SelectedGoal(ctx context.Context) (string, bool, error) {
	payload, err := loadPayload(ctx, r.db, domain.SelectedGoalKey)
	if err != nil || payload == nil {
		return "", false, err
	}
	return string(payload), true, nil
}

func (r *SQLPreferenceRepository) SetSelectedGoal(ctx context.Context, goal string) error {
	return savePayload(ctx, r.db, domain.SelectedGoalKey, []byte(goal))
}
