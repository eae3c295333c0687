package model_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/indextts-service/internal/core"
	"github.com/book-expert/indextts-service/internal/model"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConstruct = errors.New("CUDA out of memory")

type fakeModel struct {
	id int
}

func (*fakeModel) Infer(_ context.Context, _ core.InferParams) error {
	return nil
}

// gatedEngine blocks in Load until release is closed and counts calls.
type gatedEngine struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	fail    atomic.Bool
	panics  atomic.Bool
	once    sync.Once
}

func newGatedEngine() *gatedEngine {
	return &gatedEngine{started: make(chan struct{}), release: make(chan struct{})}
}

func (e *gatedEngine) Load(_ context.Context, _ core.LoadConfig) (core.Model, error) {
	n := e.calls.Add(1)
	e.once.Do(func() { close(e.started) })
	<-e.release

	if e.panics.Load() {
		panic("driver crashed")
	}

	if e.fail.Load() {
		return nil, errConstruct
	}

	return &fakeModel{id: int(n)}, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	states []model.State
	loads  []error
}

func (o *recordingObserver) ObserveModelState(state model.State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.states = append(o.states, state)
}

func (o *recordingObserver) ObserveModelLoad(_ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.loads = append(o.loads, err)
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "model-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

// modelFiles creates a model directory with a config file.
func modelFiles(t *testing.T) core.LoadConfig {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "checkpoints")
	require.NoError(t, os.MkdirAll(dir, 0o750))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("model: indextts2\n"), 0o600))

	return core.LoadConfig{ModelDir: dir, ConfigPath: cfgPath, UseFP16: true}
}

func TestEnsureLoaded_LoadsOnceAndCaches(t *testing.T) {
	t.Parallel()

	engine := newGatedEngine()
	close(engine.release)

	manager := model.NewManager(engine, modelFiles(t), newLogger(t))
	assert.Equal(t, model.StateUnloaded, manager.State())
	assert.False(t, manager.IsLoaded())

	first, err := manager.EnsureLoaded(context.Background())
	require.NoError(t, err)

	second, err := manager.EnsureLoaded(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), engine.calls.Load())
	assert.True(t, manager.IsLoaded())
	assert.Empty(t, manager.LastError())
}

func TestEnsureLoaded_ConcurrentCallerIsBusy(t *testing.T) {
	t.Parallel()

	engine := newGatedEngine()
	manager := model.NewManager(engine, modelFiles(t), newLogger(t))

	type result struct {
		model core.Model
		err   error
	}

	firstDone := make(chan result, 1)

	go func() {
		m, err := manager.EnsureLoaded(context.Background())
		firstDone <- result{model: m, err: err}
	}()

	<-engine.started
	assert.Equal(t, model.StateLoading, manager.State())
	assert.True(t, manager.Status().Loading)

	_, err := manager.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, model.ErrModelBusy)

	close(engine.release)

	first := <-firstDone
	require.NoError(t, first.err)

	again, err := manager.EnsureLoaded(context.Background())
	require.NoError(t, err)

	other, err := manager.EnsureLoaded(context.Background())
	require.NoError(t, err)

	assert.Same(t, first.model, again)
	assert.Same(t, again, other)
	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestEnsureLoaded_MissingFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T) core.LoadConfig
	}{
		{
			name: "missing directory",
			setup: func(t *testing.T) core.LoadConfig {
				t.Helper()

				dir := filepath.Join(t.TempDir(), "absent")

				return core.LoadConfig{ModelDir: dir, ConfigPath: filepath.Join(dir, "config.yaml")}
			},
		},
		{
			name: "missing config file",
			setup: func(t *testing.T) core.LoadConfig {
				t.Helper()

				dir := t.TempDir()

				return core.LoadConfig{ModelDir: dir, ConfigPath: filepath.Join(dir, "config.yaml")}
			},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			engine := newGatedEngine()
			close(engine.release)

			manager := model.NewManager(engine, testCase.setup(t), newLogger(t))

			_, err := manager.EnsureLoaded(context.Background())
			require.ErrorIs(t, err, model.ErrModelNotFound)
			assert.Equal(t, model.StateUnloaded, manager.State())
			assert.False(t, manager.IsAvailable())
			assert.Zero(t, engine.calls.Load())
		})
	}
}

func TestEnsureLoaded_FailureIsRetryable(t *testing.T) {
	t.Parallel()

	engine := newGatedEngine()
	engine.fail.Store(true)
	close(engine.release)

	cfg := modelFiles(t)
	manager := model.NewManager(engine, cfg, newLogger(t))

	_, err := manager.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, model.ErrModelLoadFailed)
	require.ErrorIs(t, err, errConstruct)
	assert.Equal(t, model.StateError, manager.State())
	assert.Contains(t, manager.LastError(), "CUDA out of memory")

	status := manager.Status()
	assert.Equal(t, "error", status.State)
	assert.False(t, status.Loading)
	assert.True(t, status.Available)

	// The precondition is checked again on retry.
	require.NoError(t, os.Remove(cfg.ConfigPath))

	_, err = manager.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, model.ErrModelNotFound)
	assert.Equal(t, int32(1), engine.calls.Load())

	require.NoError(t, os.WriteFile(cfg.ConfigPath, []byte("model: indextts2\n"), 0o600))
	engine.fail.Store(false)

	loaded, err := manager.EnsureLoaded(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, model.StateLoaded, manager.State())
	assert.Empty(t, manager.LastError())
	assert.Equal(t, int32(2), engine.calls.Load())
}

func TestEnsureLoaded_PanicLeavesLoadingState(t *testing.T) {
	t.Parallel()

	engine := newGatedEngine()
	engine.panics.Store(true)
	close(engine.release)

	manager := model.NewManager(engine, modelFiles(t), newLogger(t))

	_, err := manager.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, model.ErrModelLoadFailed)
	assert.Equal(t, model.StateError, manager.State())
	assert.Contains(t, manager.LastError(), "driver crashed")
}

func TestEnsureLoaded_CallerStopsWaiting(t *testing.T) {
	t.Parallel()

	engine := newGatedEngine()
	manager := model.NewManager(engine, modelFiles(t), newLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		_, err := manager.EnsureLoaded(ctx)
		errCh <- err
	}()

	<-engine.started
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, model.ErrModelBusy)
	assert.NotErrorIs(t, err, model.ErrModelLoadFailed)
	assert.Equal(t, model.StateLoading, manager.State(), "construction keeps running")
	assert.Empty(t, manager.LastError())

	close(engine.release)

	require.Eventually(t, manager.IsLoaded, 2*time.Second, 10*time.Millisecond)
}

func TestEnsureLoaded_NotifiesObserver(t *testing.T) {
	t.Parallel()

	engine := newGatedEngine()
	close(engine.release)

	observer := &recordingObserver{}
	manager := model.NewManager(engine, modelFiles(t), newLogger(t), model.WithObserver(observer))

	_, err := manager.EnsureLoaded(context.Background())
	require.NoError(t, err)

	observer.mu.Lock()
	defer observer.mu.Unlock()

	assert.Equal(t, []model.State{model.StateLoading, model.StateLoaded}, observer.states)
	require.Len(t, observer.loads, 1)
	assert.NoError(t, observer.loads[0])
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unloaded", model.StateUnloaded.String())
	assert.Equal(t, "loading", model.StateLoading.String())
	assert.Equal(t, "loaded", model.StateLoaded.String())
	assert.Equal(t, "error", model.StateError.String())
}

type closingModel struct {
	closed atomic.Bool
}

func (*closingModel) Infer(_ context.Context, _ core.InferParams) error {
	return nil
}

func (c *closingModel) Close() error {
	c.closed.Store(true)

	return nil
}

type staticEngine struct {
	model core.Model
}

func (e staticEngine) Load(_ context.Context, _ core.LoadConfig) (core.Model, error) {
	return e.model, nil
}

func TestPreload(t *testing.T) {
	t.Parallel()

	engine := newGatedEngine()
	manager := model.NewManager(engine, modelFiles(t), newLogger(t))

	errCh := make(chan error, 1)

	go func() { errCh <- manager.Preload(context.Background()) }()

	<-engine.started
	require.ErrorIs(t, manager.Preload(context.Background()), model.ErrModelBusy)
	assert.True(t, manager.Status().Loading)

	close(engine.release)
	require.NoError(t, <-errCh)
	require.NoError(t, manager.Preload(context.Background()))
	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestClose_ReleasesModel(t *testing.T) {
	t.Parallel()

	handle := &closingModel{}
	manager := model.NewManager(staticEngine{model: handle}, modelFiles(t), newLogger(t))

	require.NoError(t, manager.Close(), "nothing loaded yet")

	_, err := manager.EnsureLoaded(context.Background())
	require.NoError(t, err)
	require.NoError(t, manager.Close())
	assert.True(t, handle.closed.Load())
}
