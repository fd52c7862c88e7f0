package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tvlink/server/internal/model"
)

// memoryStore keeps all four tables behind one lock so Redeem is atomic.
type memoryStore struct {
	mu      sync.RWMutex
	devices map[string]model.Device
	users   map[string]model.User
	codes   map[string]model.PairingCode
	links   map[string]map[string]time.Time // device -> user -> linked at
}

type (
	memDevices struct{ s *memoryStore }
	memPairing struct{ s *memoryStore }
	memLinks   struct{ s *memoryStore }
)

// NewMemoryStore returns a non-durable Store for development and tests.
func NewMemoryStore() Store {
	s := &memoryStore{
		devices: make(map[string]model.Device),
		users:   make(map[string]model.User),
		codes:   make(map[string]model.PairingCode),
		links:   make(map[string]map[string]time.Time),
	}
	return Store{
		Devices: memDevices{s},
		Pairing: memPairing{s},
		Links:   memLinks{s},
	}
}

func (m memDevices) Create(_ context.Context, device model.Device) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.devices[device.ID]; ok {
		return fmt.Errorf("device %s already exists", device.ID)
	}
	m.s.devices[device.ID] = device
	return nil
}

func (m memDevices) GetByID(_ context.Context, id string) (model.Device, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	d, ok := m.s.devices[id]
	if !ok {
		return model.Device{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (m memDevices) Touch(_ context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	d, ok := m.s.devices[id]
	if !ok {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	d.LastSeenAt = at
	m.s.devices[id] = d
	return nil
}

func (m memDevices) SetPushAddress(_ context.Context, id, address string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	d, ok := m.s.devices[id]
	if !ok {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	d.PushAddress = &address
	d.PushAddressUpdatedAt = &at
	d.LastSeenAt = at
	m.s.devices[id] = d
	return nil
}

// ensureUser must be called with mu held.
func (s *memoryStore) ensureUser(id string, now time.Time) model.User {
	u, ok := s.users[id]
	if !ok {
		u = model.User{ID: id, CreatedAt: now}
		s.users[id] = u
	}
	return u
}

// Delete removes the device with its codes and links.
func (m memDevices) Delete(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.devices[id]; !ok {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	delete(m.s.devices, id)
	delete(m.s.links, id)
	for code, pc := range m.s.codes {
		if pc.DeviceID == id {
			delete(m.s.codes, code)
		}
	}
	return nil
}

func (m memPairing) Put(_ context.Context, code model.PairingCode) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	m.s.codes[code.Code] = code
	return nil
}

func (m memPairing) Redeem(_ context.Context, code, userID string, now time.Time) (string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	pc, ok := m.s.codes[code]
	if !ok {
		return "", fmt.Errorf("pairing code: %w", ErrNotFound)
	}
	delete(m.s.codes, code)
	if !pc.ExpiresAt.After(now) {
		return "", fmt.Errorf("pairing code: %w", ErrNotFound)
	}

	m.s.ensureUser(userID, now)
	users, ok := m.s.links[pc.DeviceID]
	if !ok {
		users = make(map[string]time.Time)
		m.s.links[pc.DeviceID] = users
	}
	if _, linked := users[userID]; !linked {
		users[userID] = now
	}
	return pc.DeviceID, nil
}

func (m memPairing) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var n int64
	for code, pc := range m.s.codes {
		if !pc.ExpiresAt.After(now) {
			delete(m.s.codes, code)
			n++
		}
	}
	return n, nil
}

func (m memLinks) Exists(_ context.Context, userID, deviceID string) (bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	_, ok := m.s.links[deviceID][userID]
	return ok, nil
}

func (m memLinks) ListUsers(_ context.Context, deviceID string) ([]model.DeviceUserLink, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	links := make([]model.DeviceUserLink, 0, len(m.s.links[deviceID]))
	for userID, at := range m.s.links[deviceID] {
		links = append(links, model.DeviceUserLink{DeviceID: deviceID, UserID: userID, CreatedAt: at})
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].UserID < links[j].UserID
		}
		return links[i].CreatedAt.Before(links[j].CreatedAt)
	})
	return links, nil
}

func (m memLinks) Delete(_ context.Context, userID, deviceID string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	users, ok := m.s.links[deviceID]
	if !ok {
		return false, nil
	}
	if _, ok := users[userID]; !ok {
		return false, nil
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(m.s.links, deviceID)
	}
	return true, nil
}
