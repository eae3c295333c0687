package synthesis

import (
	"errors"

	"github.com/book-expert/indextts-service/internal/model"
)

// ErrorKind classifies a failed synthesis.
type ErrorKind string

// Failure kinds reported in Result.ErrorKind.
const (
	KindInvalidRequest  ErrorKind = "invalid_request"
	KindVoiceNotFound   ErrorKind = "voice_not_found"
	KindModelNotFound   ErrorKind = "model_not_found"
	KindModelBusy       ErrorKind = "model_busy"
	KindModelLoadFailed ErrorKind = "model_load_failed"
	KindSynthesisFailed ErrorKind = "synthesis_failed"
)

// OutcomeSuccess labels a successful synthesis in metrics.
const OutcomeSuccess = "success"

// Request is one synthesis call.
type Request struct {
	Text    string
	VoiceID string
	// Emotion is a preset name, "disabled" or empty. Unknown names apply no
	// emotion control.
	Emotion string
	// Intensity is the emotion strength for auto mode; nil selects the
	// configured default.
	Intensity   *float64
	AutoEmotion bool
	OutputPath  string
}

// Result is the outcome of a synthesis call. Failures are reported here and
// never returned as Go errors.
type Result struct {
	Success    bool      `json:"success"`
	Path       string    `json:"path,omitempty"`
	Duration   *float64  `json:"duration"`
	Codec      string    `json:"codec,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	VoiceID    string    `json:"voice_id,omitempty"`
	Emotion    string    `json:"emotion,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Failure builds a failed result.
func Failure(kind ErrorKind, err error) Result {
	return Result{Success: false, ErrorKind: kind, Error: err.Error()}
}

// Outcome returns the metrics label of the result.
func (r Result) Outcome() string {
	if r.Success {
		return OutcomeSuccess
	}

	return string(r.ErrorKind)
}

// classifyLoadError maps lifecycle errors onto failure kinds.
func classifyLoadError(err error) ErrorKind {
	switch {
	case errors.Is(err, model.ErrModelNotFound):
		return KindModelNotFound
	case errors.Is(err, model.ErrModelBusy):
		return KindModelBusy
	default:
		return KindModelLoadFailed
	}
}
