package model

import (
	"time"
)

// Device is a paired screen (TV, set-top box) that receives commands.
type Device struct {
	ID                   string
	Secret               string
	PushAddress          *string
	PushAddressUpdatedAt *time.Time
	CreatedAt            time.Time
	LastSeenAt           time.Time
}

// HasPushAddress reports whether the device has a delivery target on file.
func (d Device) HasPushAddress() bool {
	return d.PushAddress != nil && *d.PushAddress != ""
}

// User is an identity issued by the external anonymous-auth authority.
type User struct {
	ID        string
	CreatedAt time.Time
}

// PairingCode binds a short human-enterable value to a device until ExpiresAt.
type PairingCode struct {
	Code      string
	DeviceID  string
	ExpiresAt time.Time
}

// DeviceUserLink grants UserID the right to command DeviceID.
type DeviceUserLink struct {
	DeviceID  string
	UserID    string
	CreatedAt time.Time
}
