// Package engine provides the concrete inference engines behind core.Engine.
package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/indextts-service/internal/core"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

const (
	stderrTailBytes = 4096
	stopGracePeriod = 2 * time.Second
)

var (
	// ErrWorkerNotReady is returned when the worker process does not report
	// readiness.
	ErrWorkerNotReady = errors.New("inference worker did not become ready")
	// ErrWorkerClosed is returned by Infer after Close.
	ErrWorkerClosed = errors.New("inference worker closed")
	// ErrWorkerOutOfSync is returned when a response does not match its request.
	ErrWorkerOutOfSync = errors.New("inference worker out of sync")
	// ErrInferFailed is returned when the worker reports a failed invocation.
	ErrInferFailed = errors.New("inference failed")
)

// WorkerConfig describes how to start the inference worker process.
type WorkerConfig struct {
	Program        string
	Args           []string
	Env            []string
	StartupTimeout time.Duration
}

// PythonWorker returns the configuration that runs script with an unbuffered
// Python interpreter.
func PythonWorker(python, script string, startupTimeout time.Duration) WorkerConfig {
	return WorkerConfig{
		Program:        python,
		Args:           []string{"-u", script},
		Env:            nil,
		StartupTimeout: startupTimeout,
	}
}

// WorkerEngine loads the model inside a long-lived child process that speaks
// newline-delimited JSON on stdin and stdout.
//
// The process is started as
//
//	<program> <args...> --cfg <config.yaml> --model-dir <dir> [--fp16] [--cuda-kernel] [--deepspeed]
//
// and must construct the model (IndexTTS2 in indextts.infer_v2) before it
// writes its first stdout line:
//
//	{"ready": true}                      model constructed
//	{"ready": false, "error": "..."}     construction failed, process may exit
//
// After that each stdin line is one request and must be answered by exactly
// one stdout line carrying the same id:
//
//	-> {"id": "<uuid>", "params": {"spk_audio_prompt": "...", "text": "...", "output_path": "...",
//	    "verbose": false, "emo_vector": [...], "use_random": false, "use_emo_text": true, "emo_alpha": 0.6}}
//	<- {"id": "<uuid>", "ok": true}
//	<- {"id": "<uuid>", "ok": false, "error": "..."}
//
// params are the keyword arguments of IndexTTS2.infer; the emotion keys are
// omitted when unused. Logs go to stderr, whose tail is attached to errors.
// Closing stdin or SIGINT asks the process to exit.
type WorkerEngine struct {
	cfg WorkerConfig
	log *logger.Logger
}

// NewWorkerEngine creates a WorkerEngine.
func NewWorkerEngine(cfg WorkerConfig, log *logger.Logger) *WorkerEngine {
	return &WorkerEngine{cfg: cfg, log: log}
}

type readyLine struct {
	Ready bool   `json:"ready"`
	Error string `json:"error"`
}

type requestLine struct {
	ID     string           `json:"id"`
	Params core.InferParams `json:"params"`
}

type responseLine struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func loadArgs(cfg core.LoadConfig) []string {
	args := []string{"--cfg", cfg.ConfigPath, "--model-dir", cfg.ModelDir}

	if cfg.UseFP16 {
		args = append(args, "--fp16")
	}

	if cfg.UseCUDAKernel {
		args = append(args, "--cuda-kernel")
	}

	if cfg.UseDeepSpeed {
		args = append(args, "--deepspeed")
	}

	return args
}

// Load starts the worker process and waits until it reports that the model
// is resident. The process lives until Close is called on the returned model.
func (e *WorkerEngine) Load(ctx context.Context, cfg core.LoadConfig) (core.Model, error) {
	args := append(append([]string(nil), e.cfg.Args...), loadArgs(cfg)...)

	// #nosec G204 -- program and script come from service configuration
	cmd := exec.Command(e.cfg.Program, args...)
	cmd.Env = append(os.Environ(), e.cfg.Env...)

	stderr := newTailBuffer(stderrTailBytes)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start inference worker '%s': %w", e.cfg.Program, err)
	}

	worker := &workerModel{
		cmd:    cmd,
		stdin:  stdin,
		dec:    json.NewDecoder(bufio.NewReader(stdout)),
		stderr: stderr,
		log:    e.log,
		exited: make(chan struct{}),
	}

	e.log.Info("Started inference worker pid %d, waiting for readiness", cmd.Process.Pid)

	readyErr := worker.awaitReady(ctx, e.cfg.StartupTimeout)
	if readyErr != nil {
		_ = worker.Close()

		return nil, readyErr
	}

	return worker, nil
}

type workerModel struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	stderr *tailBuffer
	log    *logger.Logger
	closed bool

	waitOnce sync.Once
	exited   chan struct{}
}

// wait reaps the process once. It must only run after stdout reads are done
// or the process has been told to stop.
func (w *workerModel) wait() {
	w.waitOnce.Do(func() {
		_ = w.cmd.Wait()
		close(w.exited)
	})
}

func (w *workerModel) awaitReady(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	readyCh := make(chan error, 1)

	go func() {
		var line readyLine

		decodeErr := w.dec.Decode(&line)

		switch {
		case decodeErr != nil:
			if errors.Is(decodeErr, io.EOF) || errors.Is(decodeErr, io.ErrUnexpectedEOF) {
				// Stdout is closed; reaping flushes the stderr tail.
				w.wait()
			}

			readyCh <- fmt.Errorf("%w: %s", ErrWorkerNotReady, w.describe(decodeErr))
		case !line.Ready:
			readyCh <- fmt.Errorf("%w: %s", ErrWorkerNotReady, strings.TrimSpace(line.Error))
		default:
			readyCh <- nil
		}
	}()

	select {
	case err := <-readyCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWorkerNotReady, ctx.Err())
	}
}

// Infer sends one request and waits for its response. Requests are
// serialized; the worker handles one invocation at a time.
func (w *workerModel) Infer(_ context.Context, params core.InferParams) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWorkerClosed
	}

	id := uuid.NewString()

	payload, err := json.Marshal(requestLine{ID: id, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal inference request: %w", err)
	}

	_, err = w.stdin.Write(append(payload, '\n'))
	if err != nil {
		return fmt.Errorf("failed to send inference request: %s", w.describe(err))
	}

	var resp responseLine

	err = w.dec.Decode(&resp)
	if err != nil {
		return fmt.Errorf("failed to read inference response: %s", w.describe(err))
	}

	if resp.ID != id {
		return fmt.Errorf("%w: got %q, expected %q", ErrWorkerOutOfSync, resp.ID, id)
	}

	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown worker error"
		}

		return fmt.Errorf("%w: %s", ErrInferFailed, msg)
	}

	return nil
}

// Close stops the worker process, killing it if it does not exit in time.
func (w *workerModel) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()

		return nil
	}

	w.closed = true
	w.mu.Unlock()

	_ = w.stdin.Close()

	if w.cmd.Process == nil {
		return nil
	}

	_ = w.cmd.Process.Signal(os.Interrupt)

	go w.wait()

	select {
	case <-w.exited:
	case <-time.After(stopGracePeriod):
		_ = w.cmd.Process.Kill()
		<-w.exited
	}

	w.log.Info("Inference worker stopped")

	return nil
}

func (w *workerModel) describe(err error) string {
	tail := strings.TrimSpace(w.stderr.String())
	if tail == "" {
		return err.Error()
	}

	return fmt.Sprintf("%v - stderr: %s", err, tail)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return string(t.buf)
}
