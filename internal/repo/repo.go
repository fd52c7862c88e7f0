package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tvlink/server/internal/model"
)

// ErrNotFound is returned when the requested row does not exist. Expired pairing
// codes are reported with the same error.
var ErrNotFound = errors.New("not found")

// DeviceRepo defines the interface for device repository operations
type DeviceRepo interface {
	Create(ctx context.Context, device model.Device) error
	GetByID(ctx context.Context, id string) (model.Device, error)
	Touch(ctx context.Context, id string, at time.Time) error
	SetPushAddress(ctx context.Context, id, address string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// PairingRepo defines the interface for pairing code operations. Users are
// created by Redeem, in the same transaction that links them.
type PairingRepo interface {
	Put(ctx context.Context, code model.PairingCode) error
	Redeem(ctx context.Context, code, userID string, now time.Time) (deviceID string, err error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// LinkRepo defines the interface for device/user link operations
type LinkRepo interface {
	Exists(ctx context.Context, userID, deviceID string) (bool, error)
	ListUsers(ctx context.Context, deviceID string) ([]model.DeviceUserLink, error)
	Delete(ctx context.Context, userID, deviceID string) (bool, error)
}

// Store bundles the durable repositories.
type Store struct {
	Devices DeviceRepo
	Pairing PairingRepo
	Links   LinkRepo
}

// NewPostgresStore wires all repositories to the same connection pool.
func NewPostgresStore(db *sql.DB) Store {
	return Store{
		Devices: NewDeviceRepo(db),
		Pairing: NewPairingRepo(db),
		Links:   NewLinkRepo(db),
	}
}
