package inference

import (
	"context"
	"sync"
)

// Maintenance is a process-wide flag raised while model files are being
// verified. Session construction waits until every holder has called End.
type Maintenance struct {
	mu      sync.Mutex
	holders int
	done    chan struct{}

	// Read-held by Guard callbacks; Begin write-locks it to drain them
	work sync.RWMutex
}

// NewMaintenance returns an inactive maintenance flag
func NewMaintenance() *Maintenance {
	return &Maintenance{}
}

// Begin raises the flag and returns once every running Guard callback has
// finished. Calls nest; each Begin needs a matching End.
func (m *Maintenance) Begin() {
	m.mu.Lock()
	if m.holders == 0 {
		m.done = make(chan struct{})
	}
	m.holders++
	m.mu.Unlock()

	m.work.Lock()
	m.work.Unlock()
}

// End lowers the flag once all holders are done and wakes every waiter
func (m *Maintenance) End() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holders == 0 {
		return
	}
	m.holders--
	if m.holders == 0 {
		close(m.done)
	}
}

// Active reports whether maintenance is in progress
func (m *Maintenance) Active() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holders > 0
}

// Wait blocks until maintenance is over or ctx is done
func (m *Maintenance) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}
	for {
		m.mu.Lock()
		if m.holders == 0 {
			m.mu.Unlock()
			return nil
		}
		done := m.done
		m.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Guard waits for maintenance to end, then runs fn. A Begin issued while fn
// runs blocks until fn returns.
func (m *Maintenance) Guard(ctx context.Context, fn func() error) error {
	if m == nil {
		return fn()
	}
	for {
		if err := m.Wait(ctx); err != nil {
			return err
		}
		m.work.RLock()
		if !m.Active() {
			break
		}
		m.work.RUnlock()
	}
	defer m.work.RUnlock()
	return fn()
}
