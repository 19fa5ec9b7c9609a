package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerRunsJobOnTick(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var runs int32
	w := New(logger, Job{
		Name:     "tick_counter",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	<-done
	if got := atomic.LoadInt32(&runs); got < 2 {
		t.Errorf("job ran %d times in 55ms at a 10ms interval, want at least 2", got)
	}
}

func TestWorkerToleratesJobError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var runs int32
	w := New(logger, Job{
		Name:     "always_fails",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return errors.New("boom")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	<-done
	if got := atomic.LoadInt32(&runs); got < 2 {
		t.Errorf("job ran %d times despite erroring, want at least 2 (errors must not stop the ticker)", got)
	}
}
