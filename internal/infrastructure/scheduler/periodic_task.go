package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeriodicTask calls a function on a fixed interval until stopped
type PeriodicTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewPeriodicTask creates a stopped task
func NewPeriodicTask(name string, interval time.Duration, fn func(ctx context.Context) error, log *zap.Logger) (*PeriodicTask, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s interval must be positive", ErrInvalidConfig, name)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %s function is required", ErrInvalidConfig, name)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PeriodicTask{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   log.With(zap.String("task", name)),
	}, nil
}

// Start starts the ticker goroutine
func (t *PeriodicTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isRunning {
		return nil
	}
	t.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Periodic task started", zap.Duration("interval", t.interval))
	return nil
}

// Stop stops the ticker and waits for an in-flight run
func (t *PeriodicTask) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Periodic task stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce invokes the function immediately, outside the ticker
func (t *PeriodicTask) RunOnce(ctx context.Context) {
	start := time.Now()
	if err := t.fn(ctx); err != nil {
		t.logger.Error("Periodic task run failed", zap.Error(err))
		return
	}
	t.logger.Debug("Periodic task run finished", zap.Duration("duration", time.Since(start)))
}

func (t *PeriodicTask) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}
