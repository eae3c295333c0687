package synthesis

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
)

var errInferPanicked = errors.New("engine panicked during inference")

// offloader runs blocking work on bounded background goroutines.
type offloader struct {
	sem *semaphore.Weighted
}

func newOffloader(limit int64) *offloader {
	if limit < 1 {
		limit = 1
	}

	return &offloader{sem: semaphore.NewWeighted(limit)}
}

// run waits for a slot and executes work on its own goroutine. A cancelled
// ctx stops the wait; work that has started always runs to completion.
func (o *offloader) run(ctx context.Context, work func() error) error {
	err := o.sem.Acquire(ctx, 1)
	if err != nil {
		return fmt.Errorf("waiting for an inference slot: %w", err)
	}

	done := make(chan error, 1)

	go func() {
		defer o.sem.Release(1)

		done <- guarded(work)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("stopped waiting for inference: %w", ctx.Err())
	}
}

func guarded(work func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", errInferPanicked, recovered)
		}
	}()

	return work()
}
