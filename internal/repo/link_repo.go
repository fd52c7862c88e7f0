package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tvlink/server/internal/model"
)

type linkRepo struct {
	db *sql.DB
}

// NewLinkRepo creates a new LinkRepo instance
func NewLinkRepo(db *sql.DB) LinkRepo {
	return &linkRepo{db: db}
}

// Exists reports whether userID is linked to deviceID
func (r *linkRepo) Exists(ctx context.Context, userID, deviceID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM device_user_links
			WHERE device_id = $1 AND user_id = $2
		)
	`, deviceID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check link: %w", err)
	}
	return exists, nil
}

// ListUsers returns all links of a device, oldest first
func (r *linkRepo) ListUsers(ctx context.Context, deviceID string) ([]model.DeviceUserLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, user_id, created_at
		FROM device_user_links
		WHERE device_id = $1
		ORDER BY created_at, user_id
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	links := make([]model.DeviceUserLink, 0)
	for rows.Next() {
		var l model.DeviceUserLink
		if err := rows.Scan(&l.DeviceID, &l.UserID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

// Delete removes the link; returns false when there was nothing to remove
func (r *linkRepo) Delete(ctx context.Context, userID, deviceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM device_user_links WHERE device_id = $1 AND user_id = $2
	`, deviceID, userID)
	if err != nil {
		return false, fmt.Errorf("delete link: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
