// Package config provides the configuration structure for the indextts-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultModelConfigFile  = "config.yaml"
	DefaultVoiceID          = "female_sweet"
	DefaultSampleRate       = 44100
	DefaultCodec            = "wav"
	DefaultIntensity        = 0.6
	DefaultFFprobePath      = "ffprobe"
	DefaultProbeTimeout     = 10
	DefaultEngineMode       = EngineModeWorker
	DefaultPythonPath       = "python3"
	DefaultStartupTimeout   = 600
	DefaultInferTimeout     = 300
	DefaultMaxConcurrent    = 1
	DefaultMetricsNamespace = "indextts"
	DefaultSampleURLPrefix  = "/backend/serviceData/index_tts/voices/"
	DefaultNATSURL          = "nats://127.0.0.1:4222"
	DefaultSubjectPrefix    = "indextts."
)

// Engine modes.
const (
	EngineModeWorker = "worker"
	EngineModeHTTP   = "http"
)

var (
	// ErrModelDirEmpty indicates that no model directory was configured.
	ErrModelDirEmpty = errors.New("model.model_dir cannot be empty")
	// ErrVoicesDirEmpty indicates that no voices directory was configured.
	ErrVoicesDirEmpty = errors.New("voices.dir cannot be empty")
	// ErrOutputDirEmpty indicates that no output directory was configured.
	ErrOutputDirEmpty = errors.New("synthesis.output_dir cannot be empty")
	// ErrIntensityRange indicates a default intensity outside [0, 1].
	ErrIntensityRange = errors.New("synthesis.default_intensity must be between 0.0 and 1.0")
	// ErrUnknownEngineMode indicates an unsupported engine.mode value.
	ErrUnknownEngineMode = errors.New("unknown engine mode")
	// ErrEngineTarget indicates the engine mode is missing its script or URL.
	ErrEngineTarget = errors.New("engine target not configured")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SynthesizeSubject      string `toml:"synthesize_subject"`
	StatusSubject          string `toml:"status_subject"`
	PreloadSubject         string `toml:"preload_subject"`
	TestSubject            string `toml:"test_subject"`
	VoicesSubject          string `toml:"voices_subject"`
	EmotionsSubject        string `toml:"emotions_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

func (n *NATSConfig) applyDefaults() {
	if n.URL == "" {
		n.URL = DefaultNATSURL
	}

	subjects := []struct {
		field *string
		name  string
	}{
		{&n.SynthesizeSubject, "synthesize"},
		{&n.StatusSubject, "status"},
		{&n.PreloadSubject, "preload"},
		{&n.TestSubject, "test"},
		{&n.VoicesSubject, "voices"},
		{&n.EmotionsSubject, "emotions"},
	}

	for _, subject := range subjects {
		if *subject.field == "" {
			*subject.field = DefaultSubjectPrefix + subject.name
		}
	}
}

// ModelConfig describes where the model lives and how it is constructed.
type ModelConfig struct {
	ModelDir       string `toml:"model_dir"`
	ConfigFile     string `toml:"config_file"`
	UseFP16        bool   `toml:"use_fp16"`
	UseCUDAKernel  bool   `toml:"use_cuda_kernel"`
	UseDeepSpeed   bool   `toml:"use_deepspeed"`
	PreloadOnStart bool   `toml:"preload_on_start"`
}

// ConfigPath returns the model configuration file path. A relative
// config_file is resolved against the model directory.
func (m ModelConfig) ConfigPath() string {
	if filepath.IsAbs(m.ConfigFile) {
		return m.ConfigFile
	}

	return filepath.Join(m.ModelDir, m.ConfigFile)
}

// EngineConfig selects and configures the inference engine.
type EngineConfig struct {
	Mode                  string `toml:"mode"`
	PythonPath            string `toml:"python_path"`
	// WorkerScript speaks the JSON-lines protocol of engine.WorkerEngine.
	WorkerScript          string `toml:"worker_script"`
	ServiceURL            string `toml:"service_url"`
	StartupTimeoutSeconds int    `toml:"startup_timeout_seconds"`
	InferTimeoutSeconds   int    `toml:"infer_timeout_seconds"`
}

// StartupTimeout returns the model construction bound as a duration.
func (e EngineConfig) StartupTimeout() time.Duration {
	return time.Duration(e.StartupTimeoutSeconds) * time.Second
}

// InferTimeout returns the per-request transport bound as a duration.
func (e EngineConfig) InferTimeout() time.Duration {
	return time.Duration(e.InferTimeoutSeconds) * time.Second
}

// VoicesConfig holds the voice catalog locations.
type VoicesConfig struct {
	Dir             string `toml:"dir"`
	MetaPath        string `toml:"meta_path"`
	DefaultVoice    string `toml:"default_voice"`
	SampleURLPrefix string `toml:"sample_url_prefix"`
}

// SynthesisConfig holds the output settings of the synthesis pipeline.
type SynthesisConfig struct {
	OutputDir        string  `toml:"output_dir"`
	SampleRate       int     `toml:"sample_rate"`
	Codec            string  `toml:"codec"`
	DefaultIntensity float64 `toml:"default_intensity"`
	MaxConcurrent    int     `toml:"max_concurrent"`
}

// ProbeConfig configures the duration probe.
type ProbeConfig struct {
	FFprobePath    string `toml:"ffprobe_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	HeaderFallback bool   `toml:"header_fallback"`
}

// Timeout returns the per-invocation bound as a duration.
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// MetricsConfig holds the Prometheus settings.
type MetricsConfig struct {
	Namespace  string `toml:"namespace"`
	ListenAddr string `toml:"listen_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Model     ModelConfig     `toml:"model"`
	Engine    EngineConfig    `toml:"engine"`
	Voices    VoicesConfig    `toml:"voices"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Probe     ProbeConfig     `toml:"probe"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the indextts-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile reads and validates a TOML configuration file.
func LoadFile(path string) (*Config, error) {
	cfg, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

// ParseFile reads a TOML configuration file and applies defaults without
// validating it. Tools that need only part of the configuration use it.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	c.NATS.applyDefaults()

	if c.Model.ConfigFile == "" {
		c.Model.ConfigFile = DefaultModelConfigFile
	}

	if c.Engine.Mode == "" {
		c.Engine.Mode = DefaultEngineMode
	}

	if c.Engine.PythonPath == "" {
		c.Engine.PythonPath = DefaultPythonPath
	}

	if c.Engine.StartupTimeoutSeconds <= 0 {
		c.Engine.StartupTimeoutSeconds = DefaultStartupTimeout
	}

	if c.Engine.InferTimeoutSeconds <= 0 {
		c.Engine.InferTimeoutSeconds = DefaultInferTimeout
	}

	if c.Voices.DefaultVoice == "" {
		c.Voices.DefaultVoice = DefaultVoiceID
	}

	if c.Voices.MetaPath == "" && c.Voices.Dir != "" {
		c.Voices.MetaPath = filepath.Join(filepath.Dir(c.Voices.Dir), "voices_meta.json")
	}

	if c.Voices.SampleURLPrefix == "" {
		c.Voices.SampleURLPrefix = DefaultSampleURLPrefix
	}

	c.applySynthesisDefaults()

	if c.Probe.FFprobePath == "" {
		c.Probe.FFprobePath = DefaultFFprobePath
	}

	if c.Probe.TimeoutSeconds <= 0 {
		c.Probe.TimeoutSeconds = DefaultProbeTimeout
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

func (c *Config) applySynthesisDefaults() {
	if c.Synthesis.SampleRate <= 0 {
		c.Synthesis.SampleRate = DefaultSampleRate
	}

	if c.Synthesis.Codec == "" {
		c.Synthesis.Codec = DefaultCodec
	}

	// Zero is a legal intensity but never a useful default.
	if c.Synthesis.DefaultIntensity == 0 {
		c.Synthesis.DefaultIntensity = DefaultIntensity
	}

	if c.Synthesis.MaxConcurrent <= 0 {
		c.Synthesis.MaxConcurrent = DefaultMaxConcurrent
	}
}

// Validate ensures that the configuration can drive the service.
func (c *Config) Validate() error {
	if c.Model.ModelDir == "" {
		return ErrModelDirEmpty
	}

	if c.Voices.Dir == "" {
		return ErrVoicesDirEmpty
	}

	if c.Synthesis.OutputDir == "" {
		return ErrOutputDirEmpty
	}

	if c.Synthesis.DefaultIntensity < 0.0 || c.Synthesis.DefaultIntensity > 1.0 {
		return fmt.Errorf("%w: got %f", ErrIntensityRange, c.Synthesis.DefaultIntensity)
	}

	switch c.Engine.Mode {
	case EngineModeWorker:
		if c.Engine.WorkerScript == "" {
			return fmt.Errorf("%w: engine.worker_script is required in %q mode", ErrEngineTarget, c.Engine.Mode)
		}
	case EngineModeHTTP:
		if c.Engine.ServiceURL == "" {
			return fmt.Errorf("%w: engine.service_url is required in %q mode", ErrEngineTarget, c.Engine.Mode)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngineMode, c.Engine.Mode)
	}

	return nil
}
