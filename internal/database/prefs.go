package database

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// GetPref reads a per-user preference value; missing keys return "".
func (db *DB) GetPref(ctx context.Context, userID int64, name string) (string, error) {
	var value string
	err := db.Pool.QueryRow(ctx,
		`SELECT value FROM user_prefs WHERE user_id = $1 AND name = $2`,
		userID, name,
	).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetPref upserts a per-user preference value.
func (db *DB) SetPref(ctx context.Context, userID int64, name, value string) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO user_prefs (user_id, name, value) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, name) DO UPDATE SET value = EXCLUDED.value`,
		userID, name, value,
	)
	return err
}
