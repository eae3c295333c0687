// Package probe measures the duration of synthesized audio files.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/indextts-service/internal/audio"
	"github.com/book-expert/logger"
)

const defaultTimeout = 10 * time.Second

// ErrUnparsable is returned when ffprobe output is not a finite,
// non-negative duration.
var ErrUnparsable = errors.New("unparsable duration output")

// Runner executes a command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and returns stdout. Stderr is folded into the
// error on a non-zero exit.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	// #nosec G204 -- the binary comes from configuration, the path is ours
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w - stderr: %s", name, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

// Prober asks ffprobe for the first audio stream's duration and falls back to
// the container duration. Every invocation is bounded by the timeout.
type Prober struct {
	binary         string
	timeout        time.Duration
	headerFallback bool
	runner         Runner
	log            *logger.Logger
}

// Option customizes a Prober.
type Option func(*Prober)

// WithRunner replaces the command runner.
func WithRunner(runner Runner) Option {
	return func(p *Prober) {
		p.runner = runner
	}
}

// WithHeaderFallback reads the WAV header when both ffprobe queries fail.
func WithHeaderFallback() Option {
	return func(p *Prober) {
		p.headerFallback = true
	}
}

// New creates a Prober invoking binary.
func New(binary string, timeout time.Duration, log *logger.Logger, opts ...Option) *Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	p := &Prober{
		binary:  binary,
		timeout: timeout,
		runner:  ExecRunner{},
		log:     log,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func streamArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=duration",
		"-of", "default=nk=1:nw=1",
		path,
	}
}

func formatArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nk=1:nw=1",
		path,
	}
}

// Probe returns the duration of path in seconds. It reports false when no
// strategy produced a value; that is missing metadata, never a failure.
func (p *Prober) Probe(ctx context.Context, path string) (float64, bool) {
	seconds, err := p.query(ctx, streamArgs(path))
	if err == nil {
		return seconds, true
	}

	p.log.Warn("Stream duration query failed for '%s', trying container duration: %v", path, err)

	seconds, err = p.query(ctx, formatArgs(path))
	if err == nil {
		return seconds, true
	}

	if p.headerFallback {
		info, headerErr := audio.InspectWAV(path)
		if headerErr == nil {
			return info.Seconds, true
		}

		err = errors.Join(err, headerErr)
	}

	p.log.Warn("Could not determine duration of '%s': %v", path, err)

	return 0, false
}

func (p *Prober) query(parent context.Context, args []string) (float64, error) {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	out, err := p.runner.Run(ctx, p.binary, args...)
	if err != nil {
		return 0, err
	}

	return parseSeconds(out)
}

func parseSeconds(out []byte) (float64, error) {
	text := strings.TrimSpace(string(out))

	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnparsable, text)
	}

	return seconds, nil
}
