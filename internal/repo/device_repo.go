package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tvlink/server/internal/model"
)

type deviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo creates a new DeviceRepo instance
func NewDeviceRepo(db *sql.DB) DeviceRepo {
	return &deviceRepo{db: db}
}

// Create inserts a freshly registered device
func (r *deviceRepo) Create(ctx context.Context, device model.Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, secret, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4)
	`, device.ID, device.Secret, device.CreatedAt, device.LastSeenAt)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// GetByID retrieves a device by ID
func (r *deviceRepo) GetByID(ctx context.Context, id string) (model.Device, error) {
	var d model.Device
	var pushAddress sql.NullString
	var pushUpdatedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, secret, push_address, push_address_updated_at, created_at, last_seen_at
		FROM devices
		WHERE id = $1
	`, id).Scan(
		&d.ID,
		&d.Secret,
		&pushAddress,
		&pushUpdatedAt,
		&d.CreatedAt,
		&d.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Device{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		return model.Device{}, fmt.Errorf("failed to query device: %w", err)
	}
	if pushAddress.Valid {
		d.PushAddress = &pushAddress.String
	}
	if pushUpdatedAt.Valid {
		d.PushAddressUpdatedAt = &pushUpdatedAt.Time
	}
	return d, nil
}

// Touch updates last_seen_at
func (r *deviceRepo) Touch(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_seen_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return requireAffected(result, "device "+id)
}

// SetPushAddress overwrites the delivery target and its update timestamp
func (r *deviceRepo) SetPushAddress(ctx context.Context, id, address string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET push_address = $2, push_address_updated_at = $3, last_seen_at = $3
		WHERE id = $1
	`, id, address, at)
	if err != nil {
		return fmt.Errorf("set push address: %w", err)
	}
	return requireAffected(result, "device "+id)
}

// Delete removes the device; its codes and links go with it (ON DELETE CASCADE).
func (r *deviceRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	return requireAffected(result, "device "+id)
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
