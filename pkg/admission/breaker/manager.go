package breaker

import (
	"context"
	"log/slog"
	"sync"

	"mercator-hq/ganymede/pkg/clock"
)

// Manager holds one breaker per call target, created lazily on first
// use. Breakers are never deleted, only reset.
type Manager struct {
	cfg    Config
	clk    clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates a breaker manager. All breakers share cfg.
func NewManager(cfg Config, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.System
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		clk:      clk,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the target, creating it if needed.
func (m *Manager) Get(target string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[target]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[target]; ok {
		return b
	}
	b = New(target, m.cfg, m.clk, m.logger)
	m.breakers[target] = b
	return b
}

// Execute runs fn under the target's breaker.
func (m *Manager) Execute(ctx context.Context, target string, fn func(context.Context) error) error {
	return m.Get(target).Execute(ctx, fn)
}

// States returns the current state of every known breaker.
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]State, len(m.breakers))
	for target, b := range m.breakers {
		states[target] = b.State()
	}
	return states
}

// StateCounts returns how many breakers sit in each state, for the
// observability surface.
func (m *Manager) StateCounts() map[State]int {
	counts := map[State]int{
		StateClosed:   0,
		StateOpen:     0,
		StateHalfOpen: 0,
	}
	for _, s := range m.States() {
		counts[s]++
	}
	return counts
}

// Reset forces the named breaker closed. Unknown targets are a no-op.
func (m *Manager) Reset(target string) {
	m.mu.RLock()
	b, ok := m.breakers[target]
	m.mu.RUnlock()
	if ok {
		b.Reset()
	}
}

// ResetAll forces every breaker closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}
