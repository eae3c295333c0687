package engine

import (
	"fmt"

	"github.com/book-expert/indextts-service/internal/config"
	"github.com/book-expert/indextts-service/internal/core"
	"github.com/book-expert/logger"
)

// New builds the engine selected by cfg.Mode.
func New(cfg config.EngineConfig, log *logger.Logger) (core.Engine, error) {
	switch cfg.Mode {
	case config.EngineModeWorker:
		return NewWorkerEngine(PythonWorker(cfg.PythonPath, cfg.WorkerScript, cfg.StartupTimeout()), log), nil
	case config.EngineModeHTTP:
		timeout := cfg.StartupTimeout()
		if cfg.InferTimeout() > timeout {
			timeout = cfg.InferTimeout()
		}

		return NewHTTPEngine(NewHTTPClient(cfg.ServiceURL, timeout), log), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownEngineMode, cfg.Mode)
	}
}
