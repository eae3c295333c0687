// main package for the indextts-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/indextts-service/internal/config"
	"github.com/book-expert/indextts-service/internal/core"
	"github.com/book-expert/indextts-service/internal/engine"
	"github.com/book-expert/indextts-service/internal/model"
	"github.com/book-expert/indextts-service/internal/objectstore"
	"github.com/book-expert/indextts-service/internal/observability"
	"github.com/book-expert/indextts-service/internal/probe"
	"github.com/book-expert/indextts-service/internal/synthesis"
	"github.com/book-expert/indextts-service/internal/voice"
	"github.com/book-expert/indextts-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

const (
	metricsShutdownTimeout = 5 * time.Second
	metricsHeaderTimeout   = 10 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// service holds the wired components.
type service struct {
	manager  *model.Manager
	pipeline *synthesis.Pipeline
	catalog  *voice.Catalog
	metrics  *observability.Metrics
}

func buildService(cfg *config.Config, log *logger.Logger) (*service, error) {
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	eng, err := engine.New(cfg.Engine, log)
	if err != nil {
		return nil, err
	}

	manager := model.NewManager(eng, core.LoadConfig{
		ModelDir:      cfg.Model.ModelDir,
		ConfigPath:    cfg.Model.ConfigPath(),
		UseFP16:       cfg.Model.UseFP16,
		UseCUDAKernel: cfg.Model.UseCUDAKernel,
		UseDeepSpeed:  cfg.Model.UseDeepSpeed,
	}, log, model.WithObserver(metrics))

	catalog := voice.NewCatalog(cfg.Voices.MetaPath, cfg.Voices.Dir, cfg.Voices.SampleURLPrefix, log)

	var probeOpts []probe.Option
	if cfg.Probe.HeaderFallback {
		probeOpts = append(probeOpts, probe.WithHeaderFallback())
	}

	prober := probe.New(cfg.Probe.FFprobePath, cfg.Probe.Timeout(), log, probeOpts...)

	pipeline := synthesis.NewPipeline(catalog, manager, prober, synthesis.Settings{
		DefaultVoice:     cfg.Voices.DefaultVoice,
		SampleRate:       cfg.Synthesis.SampleRate,
		Codec:            cfg.Synthesis.Codec,
		DefaultIntensity: cfg.Synthesis.DefaultIntensity,
		MaxConcurrent:    int64(cfg.Synthesis.MaxConcurrent),
	}, log, synthesis.WithRecorder(metrics))

	return &service{manager: manager, pipeline: pipeline, catalog: catalog, metrics: metrics}, nil
}

func openObjectStore(natsConnection *nats.Conn, bucket string, log *logger.Logger) (core.ObjectStore, error) {
	if bucket == "" {
		return nil, nil
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, bucket)
	if err != nil {
		return nil, err
	}

	log.Info("Publishing synthesized audio to object store bucket '%s'", store.Bucket())

	return store, nil
}

func startMetricsServer(addr string, svc *service, log *logger.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           observability.Router(svc.metrics, svc.manager.Status),
		ReadHeaderTimeout: metricsHeaderTimeout,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped: %v", err)
		}
	}()

	log.Info("Metrics listening on %s", addr)

	return server
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "indextts-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer bootstrapLog.Close()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, "indextts-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	svc, err := buildService(cfg, log)
	if err != nil {
		log.Error("Failed to build service: %v", err)

		return err
	}

	defer func() {
		closeErr := svc.manager.Close()
		if closeErr != nil {
			log.Error("Failed to release model: %v", closeErr)
		}
	}()

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("indextts-service"))
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	store, err := openObjectStore(natsConnection, cfg.NATS.AudioObjectStoreBucket, log)
	if err != nil {
		log.Error("Failed to open object store: %v", err)

		return err
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, worker.Subjects{
		Synthesize: cfg.NATS.SynthesizeSubject,
		Status:     cfg.NATS.StatusSubject,
		Preload:    cfg.NATS.PreloadSubject,
		Test:       cfg.NATS.TestSubject,
		Voices:     cfg.NATS.VoicesSubject,
		Emotions:   cfg.NATS.EmotionsSubject,
	}, worker.Dependencies{
		Pipeline:  svc.pipeline,
		Lifecycle: svc.manager,
		Voices:    svc.catalog,
		Store:     store,
	}, cfg.Synthesis.OutputDir, cfg.Engine.StartupTimeout()+cfg.Engine.InferTimeout(), log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.Metrics.ListenAddr, svc, log)

	if cfg.Model.PreloadOnStart {
		go func() {
			preloadErr := svc.manager.Preload(ctx)
			if preloadErr != nil && !errors.Is(preloadErr, model.ErrModelBusy) {
				log.Warn("Model preload failed: %v", preloadErr)
			}
		}()
	}

	log.System("IndexTTS service initialized. Listening for jobs on subject: %s", cfg.NATS.SynthesizeSubject)

	runErr := natsWorker.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		_ = metricsServer.Shutdown(shutdownCtx)
	}

	log.Info("IndexTTS service stopped")

	return runErr
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
