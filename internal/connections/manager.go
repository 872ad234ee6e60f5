package connections

import (
	"sync"
	"time"
)

// TimeoutConfig holds the various timeout settings for WebSocket connections
type TimeoutConfig struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
	// StallCheck is how often open views re-evaluate the stalled indicator
	StallCheck time.Duration
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	PongWait:   30 * time.Second,
	PingPeriod: 27 * time.Second, // (PongWait * 9) / 10
	WriteWait:  10 * time.Second,
	StallCheck: time.Second,
}

// View is one connected viewer with its own query session
type View interface {
	ID() string
	Close()
}

// Manager tracks the open views
type Manager struct {
	views    sync.Map
	mu       sync.RWMutex
	timeouts TimeoutConfig
}

// NewManager creates a new view manager with the specified timeouts
func NewManager(timeouts TimeoutConfig) *Manager {
	return &Manager{
		timeouts: timeouts,
	}
}

// AddView registers a view under its id
func (m *Manager) AddView(view View) {
	m.views.Store(view.ID(), view)
}

// RemoveView forgets a view without closing it
func (m *Manager) RemoveView(id string) {
	m.views.Delete(id)
}

func (m *Manager) GetView(id string) (View, bool) {
	v, ok := m.views.Load(id)
	if !ok {
		return nil, false
	}
	return v.(View), true
}

// GetViewCount returns the current number of open views
func (m *Manager) GetViewCount() int {
	count := 0
	m.views.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// CloseAll closes and forgets every view, for shutdown
func (m *Manager) CloseAll() {
	m.views.Range(func(key, value interface{}) bool {
		m.views.Delete(key)
		value.(View).Close()
		return true
	})
}

// GetTimeouts returns the current timeout configuration
func (m *Manager) GetTimeouts() TimeoutConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeouts
}

// SetTimeouts updates the timeout configuration
func (m *Manager) SetTimeouts(timeouts TimeoutConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts = timeouts
}
