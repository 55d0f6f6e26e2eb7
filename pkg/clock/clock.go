package clock

import (
	"sync"
	"time"
)

// Clock abstracts time for components with time-dependent behavior
// (bucket refill, quota boundaries, breaker cooldowns). Production code
// uses System; tests inject a Fake to simulate elapsed time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// System is the wall-clock implementation backed by time.Now.
var System Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Fake is a manually-advanced clock for deterministic tests.
// All methods are safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock pinned at the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the clock at t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
