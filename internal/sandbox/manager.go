package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vantagesec/vantage/internal/observability"
)

// Factory creates new sandbox handles. *Client satisfies this; tests
// substitute fakes.
type Factory interface {
	Create(ctx context.Context) (Handle, error)
}

type entry struct {
	handle   Handle
	lastUsed time.Time
}

// Manager hands out one sandbox per user, creating it on first use and
// reusing it afterwards. A cron sweep closes handles idle past the
// configured timeout so a user's next request gets a fresh sandbox.
type Manager struct {
	factory Factory
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]*entry
	cron    *cron.Cron
	now     func() time.Time
}

// NewManager creates a sandbox manager. Call StartReaper to begin the idle
// sweep.
func NewManager(factory Factory, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		factory: factory,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Acquire returns the user's sandbox, creating one if none is live. The
// handle's idle clock resets on every acquire.
func (m *Manager) Acquire(ctx context.Context, userID string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[userID]; ok {
		e.lastUsed = m.now()
		return e.handle, nil
	}

	handle, err := m.factory.Create(ctx)
	if err != nil {
		return nil, err
	}
	m.entries[userID] = &entry{handle: handle, lastUsed: m.now()}
	if m.metrics != nil {
		m.metrics.ActiveSandboxes.Set(float64(len(m.entries)))
	}
	m.logger.Info(ctx, "sandbox acquired", "user_id", userID, "sandbox_id", handle.ID())
	return handle, nil
}

// Release drops the user's handle without closing the remote sandbox, used
// when the handle turned out to be dead mid-turn.
func (m *Manager) Release(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	if m.metrics != nil {
		m.metrics.ActiveSandboxes.Set(float64(len(m.entries)))
	}
}

// StartReaper schedules the idle sweep once a minute.
func (m *Manager) StartReaper() error {
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", m.sweep); err != nil {
		return err
	}
	c.Start()
	m.cron = c
	return nil
}

// Close stops the reaper and closes every live handle.
func (m *Manager) Close(ctx context.Context) {
	if m.cron != nil {
		m.cron.Stop()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, e := range m.entries {
		if err := e.handle.Close(ctx); err != nil {
			m.logger.Warn(ctx, "sandbox close failed", "user_id", userID, "error", err)
		}
		delete(m.entries, userID)
	}
	if m.metrics != nil {
		m.metrics.ActiveSandboxes.Set(0)
	}
}

func (m *Manager) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.timeout)
	for userID, e := range m.entries {
		if e.lastUsed.After(cutoff) {
			continue
		}
		if err := e.handle.Close(ctx); err != nil {
			m.logger.Warn(ctx, "idle sandbox close failed", "user_id", userID, "error", err)
		}
		delete(m.entries, userID)
		m.logger.Info(ctx, "idle sandbox reaped", "user_id", userID, "sandbox_id", e.handle.ID())
	}
	if m.metrics != nil {
		m.metrics.ActiveSandboxes.Set(float64(len(m.entries)))
	}
}
