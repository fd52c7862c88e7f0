package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tvlink/server/internal/logging"
	"github.com/tvlink/server/internal/metrics"
	"github.com/tvlink/server/internal/model"
	"github.com/tvlink/server/internal/repo"
)

const maxPushAddressLen = 4096

var (
	// ErrUnauthenticated covers unknown devices and wrong secrets alike.
	ErrUnauthenticated = errors.New("device authentication failed")
	// ErrMissingAddress is returned for an empty push address.
	ErrMissingAddress = errors.New("push address is required")
	// ErrAddressTooLong is returned for a push address over maxPushAddressLen.
	ErrAddressTooLong = errors.New("push address is too long")
)

// CodeIssuer hands out pairing codes bound to a device.
type CodeIssuer interface {
	IssueCode(ctx context.Context, deviceID string) (model.PairingCode, error)
	TTL() time.Duration
}

// Registration is what a device receives on register and on code refresh.
type Registration struct {
	DeviceID     string
	DeviceSecret string
	PairingCode  string
	ExpiresIn    time.Duration
}

// DeviceService issues device identities and validates device credentials
type DeviceService struct {
	devices repo.DeviceRepo
	codes   CodeIssuer
	logger  *zap.Logger
	now     func() time.Time
}

// NewDeviceService creates a new device identity service
func NewDeviceService(devices repo.DeviceRepo, codes CodeIssuer, logger *zap.Logger) *DeviceService {
	return &DeviceService{
		devices: devices,
		codes:   codes,
		logger:  logger,
		now:     time.Now,
	}
}

// Register creates a device with a fresh id and secret and issues its first pairing code.
func (s *DeviceService) Register(ctx context.Context) (*Registration, error) {
	secret, err := GenerateDeviceSecret()
	if err != nil {
		return nil, fmt.Errorf("generate device secret: %w", err)
	}

	now := s.now()
	device := model.Device{
		ID:         NewDeviceID(),
		Secret:     secret,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.devices.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}

	code, err := s.codes.IssueCode(ctx, device.ID)
	if err != nil {
		// A device without a code is unusable; drop it rather than leave an orphan row.
		if delErr := s.devices.Delete(context.WithoutCancel(ctx), device.ID); delErr != nil {
			s.logger.Error("failed to remove half-registered device", zap.String("device_id", device.ID), zap.Error(delErr))
		}
		return nil, fmt.Errorf("issue first pairing code: %w", err)
	}

	metrics.DevicesRegistered.Inc()
	s.logger.Info("device registered", zap.String("device_id", device.ID))

	return &Registration{
		DeviceID:     device.ID,
		DeviceSecret: secret,
		PairingCode:  code.Code,
		ExpiresIn:    s.codes.TTL(),
	}, nil
}

// Authenticate loads the device and compares the presented secret in constant time.
func (s *DeviceService) Authenticate(ctx context.Context, deviceID, secret string) (model.Device, error) {
	if deviceID == "" || secret == "" {
		return model.Device{}, ErrUnauthenticated
	}

	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Device{}, ErrUnauthenticated
		}
		return model.Device{}, fmt.Errorf("load device: %w", err)
	}

	if !constantTimeCompare(device.Secret, secret) {
		s.logger.Warn("device secret mismatch", zap.String("device_id", logging.MaskID(deviceID)))
		return model.Device{}, ErrUnauthenticated
	}
	return device, nil
}

// RefreshPairingCode touches last-seen and issues a new code. The secret is not rotated
// and existing links are untouched.
func (s *DeviceService) RefreshPairingCode(ctx context.Context, deviceID, secret string) (*Registration, error) {
	device, err := s.Authenticate(ctx, deviceID, secret)
	if err != nil {
		return nil, err
	}
	return s.RefreshPairingCodeFor(ctx, device)
}

// RefreshPairingCodeFor is RefreshPairingCode for a device the caller has already authenticated.
func (s *DeviceService) RefreshPairingCodeFor(ctx context.Context, device model.Device) (*Registration, error) {
	if err := s.devices.Touch(ctx, device.ID, s.now()); err != nil {
		return nil, fmt.Errorf("touch device: %w", err)
	}

	code, err := s.codes.IssueCode(ctx, device.ID)
	if err != nil {
		return nil, fmt.Errorf("issue pairing code: %w", err)
	}

	return &Registration{
		DeviceID:     device.ID,
		DeviceSecret: device.Secret,
		PairingCode:  code.Code,
		ExpiresIn:    s.codes.TTL(),
	}, nil
}

// ReportPushAddress overwrites the device's delivery target. Returns the stored length.
func (s *DeviceService) ReportPushAddress(ctx context.Context, deviceID, secret, address string) (int, error) {
	device, err := s.Authenticate(ctx, deviceID, secret)
	if err != nil {
		return 0, err
	}
	return s.ReportPushAddressFor(ctx, device, address)
}

// ReportPushAddressFor is ReportPushAddress for a device the caller has already authenticated.
func (s *DeviceService) ReportPushAddressFor(ctx context.Context, device model.Device, address string) (int, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return 0, ErrMissingAddress
	}
	if len(address) > maxPushAddressLen {
		return 0, ErrAddressTooLong
	}

	if err := s.devices.SetPushAddress(ctx, device.ID, address, s.now()); err != nil {
		return 0, fmt.Errorf("save push address: %w", err)
	}

	s.logger.Info("push address updated", zap.String("device_id", device.ID), zap.Int("len", len(address)))
	return len(address), nil
}
