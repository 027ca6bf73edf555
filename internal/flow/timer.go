// This file provides the timer used for simulated typing latency.
package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SimpleTimer schedules one-shot functions using Go's standard time package.
type SimpleTimer struct {
	timers map[string]*time.Timer
	mu     sync.Mutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{timers: make(map[string]*time.Timer)}
}

// ScheduleAfter schedules a function to run after a delay and returns a
// cancellable timer id.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) string {
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	t.mu.Unlock()

	timer := time.AfterFunc(delay, func() {
		fn()
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.timers[id] = timer
	t.mu.Unlock()

	slog.Debug("SimpleTimer ScheduleAfter", "id", id, "delay", delay)
	return id
}

// Cancel stops a scheduled function by id. Cancelling an unknown or already
// fired timer is a no-op.
func (t *SimpleTimer) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, exists := t.timers[id]; exists {
		timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id)
	}
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	slog.Debug("SimpleTimer stopped all timers")
}
