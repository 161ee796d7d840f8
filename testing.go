package ninedoor

import (
	"sync"
	"time"

	"github.com/cohesix/ninedoor/internal/dispatcher"
)

// FakeClock is a controllable time source for tests, implementing
// internal/dispatcher.Clock: a small in-package test double rather than
// a mocking framework.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock constructs a clock fixed at the given instant.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now implements internal/dispatcher.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, the test equivalent of
// budget.State observing TTL elapse without a real sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to an exact instant.
func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

var _ dispatcher.Clock = (*FakeClock)(nil)

// RecordingMetrics counts the same events as Metrics but without
// atomics, since tests drive it from a single goroutine and want plain
// integer assertions rather than atomic loads.
type RecordingMetrics struct {
	OpsCount            int
	BackpressureCount   int
	RevocationsCount    int
	TelemetryBytesCount int
}

func (m *RecordingMetrics) IncOps()                 { m.OpsCount++ }
func (m *RecordingMetrics) IncBackpressure()        { m.BackpressureCount++ }
func (m *RecordingMetrics) IncRevocations()         { m.RevocationsCount++ }
func (m *RecordingMetrics) AddTelemetryBytes(n int) { m.TelemetryBytesCount += n }

var _ dispatcher.Metrics = (*RecordingMetrics)(nil)
