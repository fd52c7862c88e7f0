package access

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tvlink/server/internal/model"
	"github.com/tvlink/server/internal/repo"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrNotLinked      = errors.New("device is not linked to this user")
)

// Service answers who may command which device.
type Service struct {
	devices repo.DeviceRepo
	links   repo.LinkRepo
	logger  *zap.Logger
}

func NewService(devices repo.DeviceRepo, links repo.LinkRepo, logger *zap.Logger) *Service {
	return &Service{devices: devices, links: links, logger: logger}
}

// HasAccess reports whether a link (userID, deviceID) exists. Read-only.
func (s *Service) HasAccess(ctx context.Context, userID, deviceID string) (bool, error) {
	ok, err := s.links.Exists(ctx, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("check access: %w", err)
	}
	return ok, nil
}

// ListLinkedUsers returns the users linked to deviceID. Callers authenticate the device.
func (s *Service) ListLinkedUsers(ctx context.Context, deviceID string) ([]model.DeviceUserLink, error) {
	links, err := s.links.ListUsers(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list linked users: %w", err)
	}
	return links, nil
}

// Unlink removes the link; false means there was none.
func (s *Service) Unlink(ctx context.Context, userID, deviceID string) (bool, error) {
	removed, err := s.links.Delete(ctx, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("unlink: %w", err)
	}
	if removed {
		s.logger.Info("user unlinked", zap.String("device_id", deviceID), zap.String("user_id", userID))
	}
	return removed, nil
}

// Status loads a device on behalf of a user, failing with ErrDeviceNotFound or ErrNotLinked.
func (s *Service) Status(ctx context.Context, userID, deviceID string) (model.Device, error) {
	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Device{}, ErrDeviceNotFound
		}
		return model.Device{}, fmt.Errorf("load device: %w", err)
	}

	ok, err := s.HasAccess(ctx, userID, deviceID)
	if err != nil {
		return model.Device{}, err
	}
	if !ok {
		return model.Device{}, ErrNotLinked
	}
	return device, nil
}
