package dispatch

import (
	"context"
	"sync"
	"time"
)

// PendingTable tracks commands awaiting acknowledgment. Every method is
// indivisible with respect to the others.
type PendingTable interface {
	// Insert registers commandID for deviceID with acked=false.
	Insert(ctx context.Context, commandID, deviceID string) error
	// MarkAcked sets acked=true if the record exists and targets deviceID.
	MarkAcked(ctx context.Context, commandID, deviceID string) (bool, error)
	// TakeIfAcked removes the record and returns true only if it was acked.
	TakeIfAcked(ctx context.Context, commandID string) (bool, error)
	// Remove drops the record regardless of state.
	Remove(ctx context.Context, commandID string) error
}

// PendingCommand is one in-flight command.
type PendingCommand struct {
	DeviceID  string
	Acked     bool
	CreatedAt time.Time
}

// MemoryTable is a process-local PendingTable. Records older than the horizon
// are dropped on the next Insert and are invisible to the other methods.
type MemoryTable struct {
	mu      sync.Mutex
	entries map[string]*PendingCommand
	horizon time.Duration
	now     func() time.Time
}

func NewMemoryTable(horizon time.Duration) *MemoryTable {
	return &MemoryTable{
		entries: make(map[string]*PendingCommand),
		horizon: horizon,
		now:     time.Now,
	}
}

func (t *MemoryTable) Insert(_ context.Context, commandID, deviceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweep(now)
	t.entries[commandID] = &PendingCommand{DeviceID: deviceID, CreatedAt: now}
	return nil
}

func (t *MemoryTable) MarkAcked(_ context.Context, commandID, deviceID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.live(commandID)
	if p == nil || p.DeviceID != deviceID {
		return false, nil
	}
	p.Acked = true
	return true, nil
}

func (t *MemoryTable) TakeIfAcked(_ context.Context, commandID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.live(commandID)
	if p == nil || !p.Acked {
		return false, nil
	}
	delete(t.entries, commandID)
	return true, nil
}

func (t *MemoryTable) Remove(_ context.Context, commandID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, commandID)
	return nil
}

// Len returns the number of records currently held, expired ones included.
func (t *MemoryTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// live must be called with mu held.
func (t *MemoryTable) live(commandID string) *PendingCommand {
	p, ok := t.entries[commandID]
	if !ok {
		return nil
	}
	if t.now().Sub(p.CreatedAt) > t.horizon {
		delete(t.entries, commandID)
		return nil
	}
	return p
}

// sweep must be called with mu held.
func (t *MemoryTable) sweep(now time.Time) {
	for id, p := range t.entries {
		if now.Sub(p.CreatedAt) > t.horizon {
			delete(t.entries, id)
		}
	}
}
