package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tvlink/server/internal/model"
)

type pairingRepo struct {
	db *sql.DB
}

// NewPairingRepo creates a new PairingRepo instance
func NewPairingRepo(db *sql.DB) PairingRepo {
	return &pairingRepo{db: db}
}

// Put stores the code, replacing any live code with the same value.
func (r *pairingRepo) Put(ctx context.Context, code model.PairingCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pairing_codes (code, device_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE
		SET device_id = EXCLUDED.device_id, expires_at = EXCLUDED.expires_at
	`, code.Code, code.DeviceID, code.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put pairing code: %w", err)
	}
	return nil
}

// Redeem consumes the code and links userID to the code's device in one transaction.
// DELETE ... RETURNING takes the row lock, so of two concurrent redemptions only one
// sees the row. Expired codes are deleted and reported as ErrNotFound.
func (r *pairingRepo) Redeem(ctx context.Context, code, userID string, now time.Time) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var deviceID string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `
		DELETE FROM pairing_codes
		WHERE code = $1
		RETURNING device_id, expires_at
	`, code).Scan(&deviceID, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("pairing code: %w", ErrNotFound)
		}
		return "", fmt.Errorf("consume pairing code: %w", err)
	}

	if !expiresAt.After(now) {
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("commit: %w", err)
		}
		return "", fmt.Errorf("pairing code: %w", ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, userID); err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO device_user_links (device_id, user_id) VALUES ($1, $2)
		ON CONFLICT (device_id, user_id) DO NOTHING
	`, deviceID, userID); err != nil {
		return "", fmt.Errorf("link user to device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return deviceID, nil
}

// DeleteExpired removes codes whose expiry has passed; returns the number removed.
func (r *pairingRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_codes WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired codes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired codes: %w", err)
	}
	return n, nil
}
