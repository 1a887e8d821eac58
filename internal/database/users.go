package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dorofeevb1/sodrugestvobot/internal/models"
)

// UserRepository handles user persistence
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, telegram_id, username, created_at, last_active, is_active`

// Upsert creates the user on first contact and touches last_active afterwards.
// An empty username never overwrites a known one.
func (r *UserRepository) Upsert(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	query := `
		INSERT INTO users (telegram_id, username)
		VALUES ($1, $2)
		ON CONFLICT (telegram_id) DO UPDATE SET
			username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username),
			last_active = NOW(),
			is_active = TRUE
		RETURNING ` + userColumns

	u, err := scanUser(r.db.pool.QueryRow(ctx, query, telegramID, username))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`

	u, err := scanUser(r.db.pool.QueryRow(ctx, query, telegramID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.CreatedAt, &u.LastActive, &u.Active)
	if err != nil {
		return nil, err
	}
	return u, nil
}
