// Package worker serves the synthesis service over NATS request/reply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/indextts-service/internal/core"
	"github.com/book-expert/indextts-service/internal/emotion"
	"github.com/book-expert/indextts-service/internal/model"
	"github.com/book-expert/indextts-service/internal/synthesis"
	"github.com/book-expert/indextts-service/internal/voice"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	defaultJobTimeout = 15 * time.Minute
	drainTimeout      = 10 * time.Second
	drainPollInterval = 10 * time.Millisecond
	wavExtension      = ".wav"
)

// ErrSubjectEmpty indicates a missing subject name.
var ErrSubjectEmpty = errors.New("subject cannot be empty")

// Synthesizer runs synthesis requests.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synthesis.Request) synthesis.Result
	Diagnose() synthesis.Diagnosis
}

// Lifecycle exposes the model state.
type Lifecycle interface {
	Status() model.Status
	Preload(ctx context.Context) error
}

// VoiceLister lists the voice catalog.
type VoiceLister interface {
	Load() []voice.Descriptor
}

// Subjects names the request subjects the worker answers.
type Subjects struct {
	Synthesize string
	Status     string
	Preload    string
	Test       string
	Voices     string
	Emotions   string
}

func (s Subjects) validate() error {
	for name, subject := range map[string]string{
		"synthesize": s.Synthesize,
		"status":     s.Status,
		"preload":    s.Preload,
		"test":       s.Test,
		"voices":     s.Voices,
		"emotions":   s.Emotions,
	} {
		if subject == "" {
			return fmt.Errorf("%w: %s", ErrSubjectEmpty, name)
		}
	}

	return nil
}

// Dependencies are the collaborators of a NatsWorker. Store may be nil, in
// which case audio stays on the local filesystem only.
type Dependencies struct {
	Pipeline  Synthesizer
	Lifecycle Lifecycle
	Voices    VoiceLister
	Store     core.ObjectStore
}

// NatsWorker answers synthesis and lifecycle requests.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	deps           Dependencies
	outputDir      string
	jobTimeout     time.Duration
	log            *logger.Logger

	inflight sync.WaitGroup
}

// NewNatsWorker creates a worker. jobTimeout bounds how long a request waits
// for its result; zero selects a default.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	deps Dependencies,
	outputDir string,
	jobTimeout time.Duration,
	log *logger.Logger,
) (*NatsWorker, error) {
	err := subjects.validate()
	if err != nil {
		return nil, err
	}

	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		deps:           deps,
		outputDir:      outputDir,
		jobTimeout:     jobTimeout,
		log:            log,
	}, nil
}

// Run subscribes to every subject and serves until ctx is done. It then
// drains the subscriptions and waits for in-flight jobs to reply.
func (w *NatsWorker) Run(ctx context.Context) error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{w.subjects.Synthesize, w.async(w.handleSynthesize)},
		{w.subjects.Preload, w.async(w.handlePreload)},
		{w.subjects.Status, w.handleStatus},
		{w.subjects.Test, w.handleTest},
		{w.subjects.Voices, w.handleVoices},
		{w.subjects.Emotions, w.handleEmotions},
	}

	subs := make([]*nats.Subscription, 0, len(handlers))

	for _, h := range handlers {
		sub, err := w.natsConnection.Subscribe(h.subject, h.handler)
		if err != nil {
			w.unsubscribe(subs)

			return fmt.Errorf("failed to subscribe to subject %s: %w", h.subject, err)
		}

		subs = append(subs, sub)
	}

	w.log.Info("Worker listening on %s", w.subjects.Synthesize)

	<-ctx.Done()

	var drainErr error

	for _, sub := range subs {
		err := sub.Drain()
		if err != nil {
			drainErr = errors.Join(drainErr, fmt.Errorf("failed to drain subscription %s: %w", sub.Subject, err))
		}
	}

	w.awaitDrained(subs)
	w.inflight.Wait()

	return drainErr
}

// awaitDrained waits until pending messages have been handed to handlers, so
// no job starts after in-flight work is awaited.
func (w *NatsWorker) awaitDrained(subs []*nats.Subscription) {
	deadline := time.Now().Add(drainTimeout)

	for _, sub := range subs {
		for sub.IsValid() && time.Now().Before(deadline) {
			time.Sleep(drainPollInterval)
		}
	}
}

func (w *NatsWorker) unsubscribe(subs []*nats.Subscription) {
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// async runs a handler on its own goroutine so long jobs do not hold up the
// subscription.
func (w *NatsWorker) async(handler func(ctx context.Context, msg *nats.Msg)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		w.inflight.Add(1)

		go func() {
			defer w.inflight.Done()

			ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
			defer cancel()

			handler(ctx, msg)
		}()
	}
}

func (w *NatsWorker) handleSynthesize(ctx context.Context, msg *nats.Msg) {
	var job SynthesisJob

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.log.Error("Failed to unmarshal synthesis job: %v", err)
		w.respond(msg, SynthesisCompleted{
			Header: replyHeader(events.EventHeader{}),
			Result: synthesis.Failure(synthesis.KindInvalidRequest, fmt.Errorf("failed to unmarshal job: %w", err)),
		})

		return
	}

	outputPath := filepath.Join(w.outputDir, outputFileName(job.OutputName))

	result := w.deps.Pipeline.Synthesize(ctx, synthesis.Request{
		Text:        job.Text,
		VoiceID:     job.VoiceID,
		Emotion:     job.Emotion,
		Intensity:   job.Intensity,
		AutoEmotion: job.AutoEmotion,
		OutputPath:  outputPath,
	})

	reply := SynthesisCompleted{Header: replyHeader(job.Header), Result: result}

	if result.Success && w.deps.Store != nil {
		audioKey := audioKey(job.Header, result.Path)

		uploadErr := w.deps.Store.UploadFile(ctx, audioKey, result.Path)
		if uploadErr != nil {
			w.log.Error("Failed to upload audio for workflow %s: %v", job.Header.WorkflowID, uploadErr)
			reply.UploadError = uploadErr.Error()
		} else {
			reply.AudioKey = audioKey
		}
	}

	w.respond(msg, reply)
}

func (w *NatsWorker) handlePreload(ctx context.Context, msg *nats.Msg) {
	err := w.deps.Lifecycle.Preload(ctx)
	status := w.deps.Lifecycle.Status()

	reply := PreloadReply{Success: err == nil, Message: "model loaded", Status: status}

	switch {
	case errors.Is(err, model.ErrModelBusy):
		reply.Message = "model is loading"
	case err != nil:
		reply.Message = err.Error()
	}

	w.respond(msg, reply)
}

func (w *NatsWorker) handleStatus(msg *nats.Msg) {
	w.respond(msg, w.deps.Lifecycle.Status())
}

func (w *NatsWorker) handleTest(msg *nats.Msg) {
	w.respond(msg, w.deps.Pipeline.Diagnose())
}

func (w *NatsWorker) handleVoices(msg *nats.Msg) {
	w.respond(msg, VoicesReply{Voices: w.deps.Voices.Load()})
}

func (w *NatsWorker) handleEmotions(msg *nats.Msg) {
	w.respond(msg, EmotionsReply{Emotions: emotion.Options()})
}

func (w *NatsWorker) respond(msg *nats.Msg, reply any) {
	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply on %s: %v", msg.Subject, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply on %s: %v", msg.Subject, err)
	}
}

func replyHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}

// outputFileName keeps only the base name of a requested output file and
// falls back to a random one.
func outputFileName(requested string) string {
	name := filepath.Base(strings.TrimSpace(requested))
	if name == "." || name == ".." || name == string(filepath.Separator) || name == "" {
		name = uuid.NewString()
	}

	if !strings.EqualFold(filepath.Ext(name), wavExtension) {
		name += wavExtension
	}

	return name
}

func audioKey(header events.EventHeader, path string) string {
	name := filepath.Base(path)
	if header.WorkflowID == "" {
		return name
	}

	return header.WorkflowID + "/" + name
}
