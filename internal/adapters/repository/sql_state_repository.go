package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
)

var _ domain.UserStateRepository = (*SQLStateRepository)(nil)

const (
	selectPayloadQuery = `SELECT payload FROM app_state WHERE state_key = ?`

	upsertPayloadQuery = `
		INSERT INTO app_state (state_key, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (state_key) DO UPDATE
		SET payload = excluded.payload, updated_at = excluded.updated_at
	`

	queryTimeout = 3 * time.Second
)

// SQLStateRepository stores the record as one JSON payload under domain.StateKey.
// The same queries run on Postgres and SQLite; sqlx rebinds the placeholders.
type SQLStateRepository struct {
	db *sqlx.DB
}

func NewSQLStateRepository(db *sqlx.DB) *SQLStateRepository {
	return &SQLStateRepository{db: db}
}

func (r *SQLStateRepository) Load(ctx context.Context) (*domain.UserState, error) {
	payload, err := loadPayload(ctx, r.db, domain.StateKey)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, domain.ErrStateNotFound
	}
	return decodeState(payload)
}

func (r *SQLStateRepository) Save(ctx context.Context, state *domain.UserState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	return savePayload(ctx, r.db, domain.StateKey, data)
}

// loadPayload returns nil without error when the key does not exist.
func loadPayload(ctx context.Context, db *sqlx.DB, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var payload string
	err := db.GetContext(ctx, &payload, db.Rebind(selectPayloadQuery), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: repository: load %s: %v", domain.ErrStateUnavailable, key, err)
	}
	return []byte(payload), nil
}

func savePayload(ctx context.Context, db *sqlx.DB, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := db.ExecContext(ctx, db.Rebind(upsertPayloadQuery), key, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: save %s failed: %w", key, err)
	}
	return nil
}
