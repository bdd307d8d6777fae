// Package cooldown tracks the quiet period that must elapse between two
// stack restarts, so a flapping accelerator cannot bounce the service group
// in a tight loop.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// Status describes the current restart cooldown window.
type Status struct {
	Active    bool
	Host      string
	StartedAt time.Time
	ExpiresAt time.Time
	Remaining time.Duration
}

// Manager coordinates observation and activation of restart cooldown windows.
type Manager interface {
	// Status returns the current cooldown information. If no cooldown is
	// active the returned Status will have Active set to false.
	Status(ctx context.Context) (Status, error)
	// Start activates a new cooldown window lasting the provided duration.
	// Implementations replace any existing window; a non-positive duration
	// clears the window instead.
	Start(ctx context.Context, duration time.Duration) error
	// Close releases underlying resources. It must be safe to call multiple
	// times.
	Close() error
}

// MemoryManager keeps the cooldown window in process memory. It backs tests
// and --dry-run invocations where nothing should touch disk or etcd.
type MemoryManager struct {
	mu        sync.Mutex
	host      string
	startedAt time.Time
	expiresAt time.Time
	now       func() time.Time
}

// NewMemoryManager constructs an in-memory cooldown manager attributed to host.
func NewMemoryManager(host string) *MemoryManager {
	return &MemoryManager{host: host, now: time.Now}
}

// WithClock overrides the manager's time source.
func (m *MemoryManager) WithClock(clock func() time.Time) *MemoryManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// Status implements Manager.
func (m *MemoryManager) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiresAt.IsZero() || !m.now().Before(m.expiresAt) {
		return Status{}, nil
	}
	return Status{
		Active:    true,
		Host:      m.host,
		StartedAt: m.startedAt,
		ExpiresAt: m.expiresAt,
		Remaining: m.expiresAt.Sub(m.now()),
	}, nil
}

// Start implements Manager.
func (m *MemoryManager) Start(ctx context.Context, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if duration <= 0 {
		m.startedAt = time.Time{}
		m.expiresAt = time.Time{}
		return nil
	}
	m.startedAt = m.now()
	m.expiresAt = m.startedAt.Add(duration)
	return nil
}

// Close implements Manager.
func (m *MemoryManager) Close() error { return nil }

var _ Manager = (*MemoryManager)(nil)
