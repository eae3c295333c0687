// Package model owns the lifecycle of the inference model: when it is
// constructed, who may construct it, and what happened last time.
package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/book-expert/indextts-service/internal/core"
	"github.com/book-expert/logger"
)

// State is the load state of the model.
type State int

// Model states. Loaded is terminal; Error may be retried.
const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrModelNotFound is returned when the model directory or its
	// configuration file is missing. No load is attempted.
	ErrModelNotFound = errors.New("model files not found")
	// ErrModelBusy is returned while another caller is loading the model.
	ErrModelBusy = errors.New("model is loading, try again later")
	// ErrModelLoadFailed is returned when construction failed.
	ErrModelLoadFailed = errors.New("model load failed")
	// errLoadPanicked marks a construction that panicked.
	errLoadPanicked = errors.New("engine panicked during load")
)

// Observer is notified about lifecycle transitions.
type Observer interface {
	ObserveModelState(state State)
	ObserveModelLoad(elapsed time.Duration, err error)
}

// Status is a point-in-time view of the manager.
type Status struct {
	State     string `json:"state"`
	Loaded    bool   `json:"loaded"`
	Loading   bool   `json:"loading"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type loadOutcome struct {
	model core.Model
	err   error
}

// Manager guards the single model handle of the process. Callers share one
// Manager; it is passed to whoever needs the model.
type Manager struct {
	engine   core.Engine
	cfg      core.LoadConfig
	log      *logger.Logger
	observer Observer

	mu      sync.Mutex
	state   State
	model   core.Model
	lastErr string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithObserver attaches a lifecycle observer.
func WithObserver(observer Observer) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// NewManager creates a manager that builds models with engine.
func NewManager(engine core.Engine, cfg core.LoadConfig, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		engine: engine,
		cfg:    cfg,
		log:    log,
		state:  StateUnloaded,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// EnsureLoaded returns the loaded model, constructing it on first use.
//
// A loaded model is returned immediately. While another caller is loading,
// ErrModelBusy is returned without waiting. Missing model files yield
// ErrModelNotFound without entering the loading state. Construction runs on
// its own goroutine and always completes; ctx only bounds how long this
// caller waits for it, and giving up early also yields ErrModelBusy. After a
// failed load the next call tries again.
func (m *Manager) EnsureLoaded(ctx context.Context) (core.Model, error) {
	m.mu.Lock()

	switch m.state {
	case StateLoaded:
		model := m.model
		m.mu.Unlock()

		return model, nil
	case StateLoading:
		m.mu.Unlock()

		return nil, ErrModelBusy
	case StateUnloaded, StateError:
	}

	if !m.filesPresent() {
		m.mu.Unlock()

		return nil, fmt.Errorf("%w: expected model in '%s' with config '%s'", ErrModelNotFound, m.cfg.ModelDir, m.cfg.ConfigPath)
	}

	m.state = StateLoading
	m.lastErr = ""
	m.mu.Unlock()

	m.notifyState(StateLoading)

	done := make(chan loadOutcome, 1)

	go m.load(context.WithoutCancel(ctx), done)

	select {
	case outcome := <-done:
		return outcome.model, outcome.err
	case <-ctx.Done():
		// The load is still in flight, so the caller sees busy.
		return nil, fmt.Errorf("%w: stopped waiting for model load: %w", ErrModelBusy, ctx.Err())
	}
}

// load constructs the model and records the outcome. The loading state is
// always left, even when the engine panics.
func (m *Manager) load(ctx context.Context, done chan<- loadOutcome) {
	start := time.Now()

	var (
		model core.Model
		err   error
	)

	defer func() {
		if recovered := recover(); recovered != nil {
			model = nil
			err = fmt.Errorf("%w: %v", errLoadPanicked, recovered)
		}

		done <- m.finish(model, err, time.Since(start))
	}()

	m.log.Info("Loading model from '%s' (config '%s')", m.cfg.ModelDir, m.cfg.ConfigPath)

	model, err = m.engine.Load(ctx, m.cfg)
	if err == nil && model == nil {
		err = errors.New("engine returned no model")
	}
}

func (m *Manager) finish(model core.Model, err error, elapsed time.Duration) loadOutcome {
	m.mu.Lock()

	var outcome loadOutcome

	if err != nil {
		m.state = StateError
		m.lastErr = err.Error()
		outcome = loadOutcome{model: nil, err: fmt.Errorf("%w: %w", ErrModelLoadFailed, err)}
	} else {
		m.state = StateLoaded
		m.model = model
		outcome = loadOutcome{model: model, err: nil}
	}

	state := m.state
	m.mu.Unlock()

	if err != nil {
		m.log.Error("Model load failed after %s: %v", elapsed.Round(time.Millisecond), err)
	} else {
		m.log.Info("Model loaded in %s", elapsed.Round(time.Millisecond))
	}

	m.notifyState(state)

	if m.observer != nil {
		m.observer.ObserveModelLoad(elapsed, err)
	}

	return outcome
}

func (m *Manager) notifyState(state State) {
	if m.observer != nil {
		m.observer.ObserveModelState(state)
	}
}

// filesPresent reports whether the model directory and config file exist.
func (m *Manager) filesPresent() bool {
	dirInfo, err := os.Stat(m.cfg.ModelDir)
	if err != nil || !dirInfo.IsDir() {
		return false
	}

	cfgInfo, err := os.Stat(m.cfg.ConfigPath)

	return err == nil && !cfgInfo.IsDir()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// IsLoaded reports whether the model is loaded.
func (m *Manager) IsLoaded() bool {
	return m.State() == StateLoaded
}

// IsAvailable reports whether the model files are present, regardless of
// the load state.
func (m *Manager) IsAvailable() bool {
	return m.filesPresent()
}

// LastError returns the message of the most recent failed load, or "" if
// the last attempt has not failed.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastErr
}

// Status returns a snapshot for status queries.
func (m *Manager) Status() Status {
	m.mu.Lock()
	state := m.state
	lastErr := m.lastErr
	m.mu.Unlock()

	return Status{
		State:     state.String(),
		Loaded:    state == StateLoaded,
		Loading:   state == StateLoading,
		Available: m.filesPresent(),
		Error:     lastErr,
	}
}

// Preload loads the model without handing it out. It returns nil when the
// model is loaded and ErrModelBusy while another caller is still loading it.
func (m *Manager) Preload(ctx context.Context) error {
	_, err := m.EnsureLoaded(ctx)

	return err
}

// Close releases the model handle if the engine exposes one to release.
func (m *Manager) Close() error {
	m.mu.Lock()
	model := m.model
	m.mu.Unlock()

	closer, ok := model.(io.Closer)
	if !ok {
		return nil
	}

	return closer.Close()
}
