package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/indextts-service/internal/config"
	"github.com/book-expert/indextts-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

// request sends payload to subject and prints the indented JSON reply.
func (a *app) request(subject string, payload []byte) ([]byte, error) {
	cfg, err := a.requireConfig()
	if err != nil {
		return nil, err
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("indextts-client"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	a.log.Info("Request on %s (timeout %s)", subject, a.timeout)

	msg, err := natsConnection.Request(subject, payload, a.timeout)
	if err != nil {
		a.log.Error("Request on %s failed: %v", subject, err)

		return nil, fmt.Errorf("request on %s failed: %w", subject, err)
	}

	var pretty bytes.Buffer

	indentErr := json.Indent(&pretty, msg.Data, "", "  ")
	if indentErr != nil {
		return nil, fmt.Errorf("service replied with invalid JSON: %w", indentErr)
	}

	_, _ = fmt.Fprintln(a.out, pretty.String())

	return msg.Data, nil
}

func newQueryCmd(a *app, name, short string, subject func(*config.Config) string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.requireConfig()
			if err != nil {
				return err
			}

			_, err = a.request(subject(cfg), nil)

			return err
		},
	}
}

type synthFlags struct {
	text      string
	voice     string
	emotion   string
	intensity float64
	auto      bool
	out       string
}

func newSynthCmd(a *app) *cobra.Command {
	var flags synthFlags

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text with a voice and emotion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.requireConfig()
			if err != nil {
				return err
			}

			job := worker.SynthesisJob{
				Header: events.EventHeader{
					Timestamp:  time.Now(),
					WorkflowID: uuid.NewString(),
					EventID:    uuid.NewString(),
					UserID:     "",
					TenantID:   "",
				},
				Text:        flags.text,
				VoiceID:     flags.voice,
				Emotion:     flags.emotion,
				AutoEmotion: flags.auto,
				OutputName:  flags.out,
			}

			if cmd.Flags().Changed("intensity") {
				intensity := flags.intensity
				job.Intensity = &intensity
			}

			payload, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("failed to marshal job: %w", err)
			}

			data, err := a.request(cfg.NATS.SynthesizeSubject, payload)
			if err != nil {
				return err
			}

			var reply worker.SynthesisCompleted

			err = json.Unmarshal(data, &reply)
			if err != nil {
				return fmt.Errorf("failed to decode reply: %w", err)
			}

			if !reply.Result.Success {
				return fmt.Errorf("synthesis failed (%s): %s", reply.Result.ErrorKind, reply.Result.Error)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&flags.text, "text", "", "Text to synthesize")
	cmd.Flags().StringVar(&flags.voice, "voice", "", "Voice id (service default when empty)")
	cmd.Flags().StringVar(&flags.emotion, "emotion", "", "Emotion preset, or disabled")
	cmd.Flags().Float64Var(&flags.intensity, "intensity", config.DefaultIntensity, "Emotion intensity for --auto, 0 to 1")
	cmd.Flags().BoolVar(&flags.auto, "auto", false, "Infer the emotion from the text")
	cmd.Flags().StringVar(&flags.out, "out", "", "Output file name inside the service output directory")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}
