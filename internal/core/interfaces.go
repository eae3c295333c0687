// Package core defines the core interfaces shared by the indextts-service packages.
package core

import "context"

// ObjectStore publishes finished audio files under a key.
type ObjectStore interface {
	UploadFile(ctx context.Context, key, path string) error
}

// LoadConfig holds everything an engine needs to construct a model.
type LoadConfig struct {
	ModelDir      string `json:"model_dir"`
	ConfigPath    string `json:"cfg_path"`
	UseFP16       bool   `json:"use_fp16"`
	UseCUDAKernel bool   `json:"use_cuda_kernel"`
	UseDeepSpeed  bool   `json:"use_deepspeed"`
}

// InferParams holds the arguments of a single model invocation.
// At most one of the emotion groups is set: EmotionVector with UseRandom,
// or UseEmotionText with EmotionAlpha.
type InferParams struct {
	SpeakerAudioPath string    `json:"spk_audio_prompt"`
	Text             string    `json:"text"`
	OutputPath       string    `json:"output_path"`
	Verbose          bool      `json:"verbose"`
	EmotionVector    []float64 `json:"emo_vector,omitempty"`
	UseRandom        *bool     `json:"use_random,omitempty"`
	UseEmotionText   bool      `json:"use_emo_text,omitempty"`
	EmotionAlpha     *float64  `json:"emo_alpha,omitempty"`
}

// Engine constructs model handles. Construction is expensive and blocking.
type Engine interface {
	Load(ctx context.Context, cfg LoadConfig) (Model, error)
}

// Model is a loaded inference handle. Infer blocks until the output file
// has been written or the invocation failed.
type Model interface {
	Infer(ctx context.Context, params InferParams) error
}
