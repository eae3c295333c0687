// Package synthesis turns a request into an audio file: it resolves the
// voice, makes sure the model is loaded, assembles the engine parameters,
// runs inference off the caller's goroutine and measures the result.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/indextts-service/internal/core"
	"github.com/book-expert/indextts-service/internal/text"
	"github.com/book-expert/indextts-service/internal/voice"
	"github.com/book-expert/logger"
)

const outputDirPermissions = 0o750

var (
	// ErrEmptyText is reported when nothing speakable remains.
	ErrEmptyText = errors.New("text is empty")
	// ErrIntensityRange is reported for intensities outside [0, 1].
	ErrIntensityRange = errors.New("emotion intensity must be between 0 and 1")
	// ErrNoOutputPath is reported when the request has no output target.
	ErrNoOutputPath = errors.New("output path is required")
	// ErrVoiceNotFound is reported when the voice has no reference audio.
	ErrVoiceNotFound = errors.New("voice reference audio not found")
	// ErrOutputMissing is reported when inference returned but wrote nothing.
	ErrOutputMissing = errors.New("engine produced no output file")
)

// VoiceResolver finds reference audio for a voice.
type VoiceResolver interface {
	Resolve(voiceID string) (string, bool)
	Available() []voice.Descriptor
}

// ModelProvider hands out the loaded model.
type ModelProvider interface {
	EnsureLoaded(ctx context.Context) (core.Model, error)
	IsAvailable() bool
	IsLoaded() bool
}

// DurationProber measures audio files. A false result is missing metadata.
type DurationProber interface {
	Probe(ctx context.Context, path string) (float64, bool)
}

// Recorder receives per-request measurements.
type Recorder interface {
	ObserveSynthesis(outcome string, elapsed time.Duration)
	ObserveAudioSeconds(seconds float64)
}

// Settings are the fixed parameters of a pipeline.
type Settings struct {
	DefaultVoice     string
	SampleRate       int
	Codec            string
	DefaultIntensity float64
	MaxConcurrent    int64
}

// Pipeline runs synthesis requests. It is safe for concurrent use.
type Pipeline struct {
	voices   VoiceResolver
	models   ModelProvider
	prober   DurationProber
	recorder Recorder
	log      *logger.Logger
	settings Settings
	offload  *offloader
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRecorder attaches a metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = recorder
	}
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(
	voices VoiceResolver,
	models ModelProvider,
	prober DurationProber,
	settings Settings,
	log *logger.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		voices:   voices,
		models:   models,
		prober:   prober,
		log:      log,
		settings: settings,
		offload:  newOffloader(settings.MaxConcurrent),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Synthesize runs one request. Every failure is returned inside the Result.
func (p *Pipeline) Synthesize(ctx context.Context, req Request) Result {
	start := time.Now()

	result := p.synthesize(ctx, req)

	if p.recorder != nil {
		p.recorder.ObserveSynthesis(result.Outcome(), time.Since(start))

		if result.Duration != nil {
			p.recorder.ObserveAudioSeconds(*result.Duration)
		}
	}

	if result.Success {
		p.log.Info("Synthesized '%s' with voice '%s' in %s", result.Path, result.VoiceID, time.Since(start).Round(time.Millisecond))
	} else {
		p.log.Warn("Synthesis failed (%s): %s", result.ErrorKind, result.Error)
	}

	return result
}

func (p *Pipeline) synthesize(ctx context.Context, req Request) Result {
	input := text.Normalize(req.Text)
	if input == "" {
		return Failure(KindInvalidRequest, ErrEmptyText)
	}

	if req.OutputPath == "" {
		return Failure(KindInvalidRequest, ErrNoOutputPath)
	}

	intensity := p.settings.DefaultIntensity
	if req.Intensity != nil {
		intensity = *req.Intensity
	}

	if math.IsNaN(intensity) || intensity < 0 || intensity > 1 {
		return Failure(KindInvalidRequest, fmt.Errorf("%w: got %g", ErrIntensityRange, intensity))
	}

	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = p.settings.DefaultVoice
	}

	speakerPath, found := p.voices.Resolve(voiceID)
	if !found {
		result := Failure(KindVoiceNotFound, fmt.Errorf("%w: voice '%s'", ErrVoiceNotFound, voiceID))
		result.VoiceID = voiceID

		return result
	}

	err := os.MkdirAll(filepath.Dir(req.OutputPath), outputDirPermissions)
	if err != nil {
		return Failure(KindSynthesisFailed, fmt.Errorf("failed to create output directory: %w", err))
	}

	loaded, err := p.models.EnsureLoaded(ctx)
	if err != nil {
		return Failure(classifyLoadError(err), err)
	}

	params, label := BuildParams(speakerPath, input, req.OutputPath, req, intensity)

	// Inference is never cancelled once started.
	inferCtx := context.WithoutCancel(ctx)

	err = p.offload.run(ctx, func() error {
		return loaded.Infer(inferCtx, params)
	})
	if err != nil {
		return Failure(KindSynthesisFailed, fmt.Errorf("synthesis failed: %w", err))
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil || info.IsDir() {
		return Failure(KindSynthesisFailed, fmt.Errorf("%w: '%s'", ErrOutputMissing, req.OutputPath))
	}

	var duration *float64

	if seconds, ok := p.prober.Probe(ctx, req.OutputPath); ok {
		duration = &seconds
	}

	return Result{
		Success:    true,
		Path:       req.OutputPath,
		Duration:   duration,
		Codec:      p.settings.Codec,
		SampleRate: p.settings.SampleRate,
		VoiceID:    voiceID,
		Emotion:    label,
		ErrorKind:  "",
		Error:      "",
	}
}
