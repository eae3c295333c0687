package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/book-expert/indextts-service/internal/config"
	"github.com/book-expert/logger"
	"github.com/spf13/cobra"
)

const (
	defaultRequestTimeout = 10 * time.Minute
	logFileName           = "indextts-client.log"
)

var errNotInitialized = errors.New("configuration not loaded")

// app carries the state shared by all subcommands.
type app struct {
	cfgFile string
	natsURL string
	timeout time.Duration

	cfg *config.Config
	log *logger.Logger
	out io.Writer
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	cmd := &cobra.Command{
		Use:           "indextts-client",
		Short:         "IndexTTS2 service client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()

			return a.setup()
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Service config file (toml); defaults apply when omitted")
	cmd.PersistentFlags().StringVar(&a.natsURL, "nats-url", "", "NATS server URL, overrides the config file")
	cmd.PersistentFlags().DurationVar(&a.timeout, "timeout", defaultRequestTimeout, "Request timeout")

	cmd.AddCommand(newSynthCmd(a))
	cmd.AddCommand(newQueryCmd(a, "status", "Show the model lifecycle state", func(c *config.Config) string { return c.NATS.StatusSubject }))
	cmd.AddCommand(newQueryCmd(a, "preload", "Load the model now", func(c *config.Config) string { return c.NATS.PreloadSubject }))
	cmd.AddCommand(newQueryCmd(a, "test", "Check that the service can synthesize", func(c *config.Config) string { return c.NATS.TestSubject }))
	cmd.AddCommand(newQueryCmd(a, "voices", "List the voice catalog", func(c *config.Config) string { return c.NATS.VoicesSubject }))
	cmd.AddCommand(newQueryCmd(a, "emotions", "List the selectable emotions", func(c *config.Config) string { return c.NATS.EmotionsSubject }))
	cmd.AddCommand(newFetchCmd(a))
	cmd.AddCommand(newDoctorCmd(a))

	return cmd
}

func (a *app) setup() error {
	cfg := &config.Config{}

	if a.cfgFile != "" {
		parsed, err := config.ParseFile(a.cfgFile)
		if err != nil {
			return err
		}

		cfg = parsed
	} else {
		cfg.ApplyDefaults()
	}

	if a.natsURL != "" {
		cfg.NATS.URL = a.natsURL
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.log = log

	return nil
}

func (a *app) close() error {
	if a.log == nil {
		return nil
	}

	return a.log.Close()
}

func (a *app) requireConfig() (*config.Config, error) {
	if a.cfg == nil {
		return nil, errNotInitialized
	}

	return a.cfg, nil
}
