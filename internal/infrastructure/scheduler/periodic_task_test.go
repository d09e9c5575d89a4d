package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPeriodicTask_Validation(t *testing.T) {
	_, err := NewPeriodicTask("sweep", 0, func(context.Context) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPeriodicTask("sweep", time.Second, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPeriodicTask_RunsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	task, err := NewPeriodicTask("sweep", 5*time.Millisecond, func(context.Context) error {
		if calls.Add(1)%2 == 0 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, task.Start(ctx))
	require.NoError(t, task.Start(ctx))

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, task.Stop(ctx))

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	assert.NoError(t, task.Stop(ctx))
}

func TestPeriodicTask_RunOnce(t *testing.T) {
	var calls atomic.Int32
	task, err := NewPeriodicTask("sweep", time.Hour, func(context.Context) error {
		calls.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)

	task.RunOnce(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}
