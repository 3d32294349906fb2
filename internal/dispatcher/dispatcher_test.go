package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatchRunsTask(t *testing.T) {
	d := New(2, zap.NewNop())
	done := make(chan string, 1)

	err := d.Dispatch(context.Background(), "job-1", func(ctx context.Context) {
		done <- "job-1"
	})
	require.NoError(t, err)

	select {
	case id := <-done:
		assert.Equal(t, "job-1", id)
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	d.Wait()
}

func TestDispatchSaturated(t *testing.T) {
	d := New(2, zap.NewNop())
	release := make(chan struct{})
	started := sync.WaitGroup{}
	started.Add(2)

	block := func(ctx context.Context) {
		started.Done()
		<-release
	}
	require.NoError(t, d.Dispatch(context.Background(), "job-1", block))
	require.NoError(t, d.Dispatch(context.Background(), "job-2", block))
	started.Wait()

	err := d.Dispatch(context.Background(), "job-3", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrSaturated)

	close(release)
	d.Wait()

	// Slots are reusable once workers return.
	require.NoError(t, d.Dispatch(context.Background(), "job-3", func(ctx context.Context) {}))
	d.Wait()
}

func TestDispatchRejectsDuplicateJob(t *testing.T) {
	d := New(4, zap.NewNop())
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, d.Dispatch(context.Background(), "job-1", func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	assert.True(t, d.InFlight("job-1"))
	err := d.Dispatch(context.Background(), "job-1", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrInFlight)

	close(release)
	d.Wait()
	assert.False(t, d.InFlight("job-1"))
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	d := New(1, zap.NewNop())

	require.NoError(t, d.Dispatch(context.Background(), "job-1", func(ctx context.Context) {
		panic("boom")
	}))
	d.Wait()

	// The slot and the in-flight entry must both be released.
	assert.False(t, d.InFlight("job-1"))
	require.NoError(t, d.Dispatch(context.Background(), "job-1", func(ctx context.Context) {}))
	d.Wait()
}
