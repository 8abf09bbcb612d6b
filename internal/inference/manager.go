package inference

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dudu/faceswap/internal/execution"
	"github.com/dudu/faceswap/internal/logging"
)

// Handle is a constructed inference resource
type Handle interface {
	InputNames() []string
	Run(inputs map[string]Tensor) ([]Tensor, error)
	Destroy() error
}

// Runner is the view of a model that inference callers depend on
type Runner interface {
	InputNames(ctx context.Context) ([]string, error)
	Run(ctx context.Context, inputs map[string]Tensor) ([]Tensor, error)
}

// Factory builds a handle for the model at path
type Factory func(path string) (Handle, error)

// ManagerOptions configures a Manager
type ManagerOptions struct {
	Session SessionOptions
	// MaxConcurrentRuns bounds parallel Run calls on accelerated backends.
	// Zero means runtime.NumCPU(). CPU-only backends always use 1.
	MaxConcurrentRuns int
	// Factory overrides session construction (tests)
	Factory Factory
}

// Manager lazily constructs one inference handle for a model and shares it
// between workers. Construction is serialized and waits for maintenance;
// Run calls are bounded by a semaphore sized for the execution backend.
type Manager struct {
	name    string
	path    string
	factory Factory
	gate    *Maintenance
	logger  *zap.Logger

	mu     sync.Mutex
	handle Handle

	sem      *semaphore.Weighted
	capacity int64
}

// NewManager creates a manager for the model at path. gate may be nil.
func NewManager(name, path string, opts ManagerOptions, gate *Maintenance, logger *zap.Logger) *Manager {
	factory := opts.Factory
	if factory == nil {
		sessionOpts := opts.Session
		factory = func(path string) (Handle, error) {
			return NewSession(path, sessionOpts)
		}
	}

	capacity := int64(1)
	if !execution.Serialized(opts.Session.Providers) {
		capacity = int64(opts.MaxConcurrentRuns)
		if capacity <= 0 {
			capacity = int64(runtime.NumCPU())
		}
	}

	return &Manager{
		name:     name,
		path:     path,
		factory:  factory,
		gate:     gate,
		logger:   logging.OrNop(logger).With(zap.String("model", name)),
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Name returns the model name
func (m *Manager) Name() string {
	return m.name
}

// Path returns the model weights location
func (m *Manager) Path() string {
	return m.path
}

// Capacity returns how many Run calls may execute at once
func (m *Manager) Capacity() int64 {
	return m.capacity
}

// Acquire returns the shared handle, constructing it on first use
func (m *Manager) Acquire(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil {
		return m.handle, nil
	}

	if m.gate.Active() {
		m.logger.Debug("waiting for model verification")
	}
	var handle Handle
	err := m.gate.Guard(ctx, func() error {
		h, err := m.factory(m.path)
		if err != nil {
			return fmt.Errorf("failed to create %s session: %w", m.name, err)
		}
		handle = h
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("interrupted while waiting for model verification: %w", err)
		}
		return nil, err
	}
	m.logger.Info("inference session created", zap.String("path", m.path))

	m.handle = handle
	return handle, nil
}

// Run executes the model, acquiring the handle if needed. The run slot is
// taken before the handle so Release cannot destroy it mid-run.
func (m *Manager) Run(ctx context.Context, inputs map[string]Tensor) ([]Tensor, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	handle, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return handle.Run(inputs)
}

// InputNames returns the model's input names, acquiring the handle if needed
func (m *Manager) InputNames(ctx context.Context) ([]string, error) {
	handle, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return handle.InputNames(), nil
}

// Release destroys the cached handle once in-flight runs have finished.
// The next Acquire rebuilds it.
func (m *Manager) Release() error {
	// Slots before the mutex, in the same order as Run
	if err := m.sem.Acquire(context.Background(), m.capacity); err != nil {
		return err
	}
	defer m.sem.Release(m.capacity)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil {
		return nil
	}

	err := m.handle.Destroy()
	m.handle = nil
	m.logger.Info("inference session released")
	if err != nil {
		return fmt.Errorf("failed to destroy %s session: %w", m.name, err)
	}
	return nil
}
