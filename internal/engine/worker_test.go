package engine_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/book-expert/indextts-service/internal/audio"
	"github.com/book-expert/indextts-service/internal/core"
	"github.com/book-expert/indextts-service/internal/engine"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helperEnv     = "INDEXTTS_WANT_HELPER_PROCESS"
	helperModeEnv = "INDEXTTS_HELPER_MODE"
)

// TestHelperProcess is not a real test. It is re-executed by the worker
// engine tests and plays the part of the inference worker.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process only")
	}

	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]

			break
		}
	}

	out := json.NewEncoder(os.Stdout)

	switch os.Getenv(helperModeEnv) {
	case "crash":
		fmt.Fprintln(os.Stderr, "ImportError: no module named indextts")
		os.Exit(3)
	case "not-ready":
		_ = out.Encode(map[string]any{"ready": false, "error": "CUDA unavailable"})
		os.Exit(1)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}

	if !slices.Contains(args, "--cfg") || !slices.Contains(args, "--fp16") {
		_ = out.Encode(map[string]any{"ready": false, "error": fmt.Sprintf("bad args %v", args)})
		os.Exit(1)
	}

	_ = out.Encode(map[string]any{"ready": true})

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req struct {
			ID     string           `json:"id"`
			Params core.InferParams `json:"params"`
		}

		err := json.Unmarshal(scanner.Bytes(), &req)
		if err != nil {
			os.Exit(2)
		}

		if req.Params.Text == "fail" {
			_ = out.Encode(map[string]any{"id": req.ID, "ok": false, "error": "inference exploded"})

			continue
		}

		writeErr := audio.WriteSilence(req.Params.OutputPath, 44100, 0.5)
		if writeErr != nil {
			_ = out.Encode(map[string]any{"id": req.ID, "ok": false, "error": writeErr.Error()})

			continue
		}

		_ = out.Encode(map[string]any{"id": req.ID, "ok": true})
	}

	os.Exit(0)
}

func helperWorker(mode string, startup time.Duration) engine.WorkerConfig {
	return engine.WorkerConfig{
		Program:        os.Args[0],
		Args:           []string{"-test.run=^TestHelperProcess$", "--"},
		Env:            []string{helperEnv + "=1", helperModeEnv + "=" + mode},
		StartupTimeout: startup,
	}
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "engine-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func loadConfig(t *testing.T) core.LoadConfig {
	t.Helper()

	dir := t.TempDir()

	return core.LoadConfig{ModelDir: dir, ConfigPath: filepath.Join(dir, "config.yaml"), UseFP16: true}
}

type closer interface {
	Close() error
}

func TestWorkerEngine_LoadAndInfer(t *testing.T) {
	t.Parallel()

	eng := engine.NewWorkerEngine(helperWorker("ok", 10*time.Second), newLogger(t))

	model, err := eng.Load(context.Background(), loadConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = model.(closer).Close() })

	output := filepath.Join(t.TempDir(), "out.wav")
	err = model.Infer(context.Background(), core.InferParams{
		SpeakerAudioPath: "/voices/female_sweet.wav",
		Text:             "hello",
		OutputPath:       output,
		EmotionVector:    []float64{1, 0, 0, 0, 0, 0, 0, 0},
	})
	require.NoError(t, err)

	info, err := audio.InspectWAV(output)
	require.NoError(t, err)
	assert.Equal(t, 44100, info.SampleRate)

	err = model.Infer(context.Background(), core.InferParams{Text: "fail", OutputPath: output})
	require.ErrorIs(t, err, engine.ErrInferFailed)
	assert.Contains(t, err.Error(), "inference exploded")

	// The worker stays usable after a failed invocation.
	err = model.Infer(context.Background(), core.InferParams{Text: "again", OutputPath: output})
	require.NoError(t, err)
}

func TestWorkerEngine_InferAfterClose(t *testing.T) {
	t.Parallel()

	eng := engine.NewWorkerEngine(helperWorker("ok", 10*time.Second), newLogger(t))

	model, err := eng.Load(context.Background(), loadConfig(t))
	require.NoError(t, err)
	require.NoError(t, model.(closer).Close())
	require.NoError(t, model.(closer).Close())

	err = model.Infer(context.Background(), core.InferParams{Text: "hello"})
	require.ErrorIs(t, err, engine.ErrWorkerClosed)
}

func TestWorkerEngine_LoadFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mode     string
		startup  time.Duration
		contains string
	}{
		{name: "process exits", mode: "crash", startup: 10 * time.Second, contains: "ImportError"},
		{name: "reports not ready", mode: "not-ready", startup: 10 * time.Second, contains: "CUDA unavailable"},
		{name: "startup timeout", mode: "hang", startup: 200 * time.Millisecond, contains: "deadline exceeded"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			eng := engine.NewWorkerEngine(helperWorker(testCase.mode, testCase.startup), newLogger(t))

			model, err := eng.Load(context.Background(), loadConfig(t))
			require.ErrorIs(t, err, engine.ErrWorkerNotReady)
			assert.Nil(t, model)
			assert.Contains(t, err.Error(), testCase.contains)
		})
	}
}

func TestWorkerEngine_MissingProgram(t *testing.T) {
	t.Parallel()

	cfg := engine.PythonWorker(filepath.Join(t.TempDir(), "no-python"), "worker.py", time.Second)
	eng := engine.NewWorkerEngine(cfg, newLogger(t))

	_, err := eng.Load(context.Background(), loadConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start inference worker")
}
