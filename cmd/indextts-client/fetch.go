package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/indextts-service/internal/objectstore"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var errNoBucket = errors.New("no object store bucket configured, set nats.audio_object_store_bucket or --bucket")

func newFetchCmd(a *app) *cobra.Command {
	var (
		key    string
		out    string
		bucket string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download published audio from the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.requireConfig()
			if err != nil {
				return err
			}

			if bucket == "" {
				bucket = cfg.NATS.AudioObjectStoreBucket
			}

			if bucket == "" {
				return errNoBucket
			}

			if out == "" {
				out = filepath.Base(key)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()

			return a.fetch(ctx, bucket, key, out)
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Object key from a synth reply (audio_key)")
	cmd.Flags().StringVar(&out, "out", "", "Local file to write, defaults to the key's base name")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Object store bucket, overrides the config file")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func (a *app) fetch(ctx context.Context, bucket, key, out string) error {
	natsConnection, err := nats.Connect(a.cfg.NATS.URL, nats.Name("indextts-client"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, bucket)
	if err != nil {
		return err
	}

	data, err := store.Download(ctx, key)
	if err != nil {
		a.log.Error("Fetch of '%s' from bucket '%s' failed: %v", key, store.Bucket(), err)

		return err
	}

	err = os.MkdirAll(filepath.Dir(out), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", out, err)
	}

	err = os.WriteFile(out, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write '%s': %w", out, err)
	}

	_, _ = fmt.Fprintf(a.out, "wrote %d bytes to %s\n", len(data), out)

	return nil
}
