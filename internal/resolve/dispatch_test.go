package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchApplies(t *testing.T) {
	d := NewDispatcher()
	ran := false
	applied, err := d.Dispatch(context.Background(), Decision{TargetPath: "/a"}, func(ctx context.Context, dec Decision) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, ran)
}

func TestDispatchReportsExecutorError(t *testing.T) {
	d := NewDispatcher()
	boom := errors.New("window gone")
	applied, err := d.Dispatch(context.Background(), Decision{TargetPath: "/a"}, func(ctx context.Context, dec Decision) error {
		return boom
	})
	assert.True(t, applied)
	assert.ErrorIs(t, err, boom)
}

// TestDispatchLastRequestWins starts a slow activation, supersedes it, and
// checks that the superseded one completes as a no-op with its context
// cancelled.
func TestDispatchLastRequestWins(t *testing.T) {
	d := NewDispatcher()

	started := make(chan struct{})
	release := make(chan struct{})
	var (
		wg            sync.WaitGroup
		slowApplied   bool
		slowCtxCancel bool
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		applied, err := d.Dispatch(context.Background(), Decision{TargetPath: "/slow"}, func(ctx context.Context, dec Decision) error {
			close(started)
			<-release
			slowCtxCancel = ctx.Err() != nil
			return ctx.Err()
		})
		assert.NoError(t, err, "superseded errors must be swallowed")
		slowApplied = applied
	}()

	<-started
	applied, err := d.Dispatch(context.Background(), Decision{TargetPath: "/fast"}, func(ctx context.Context, dec Decision) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, applied)

	close(release)
	wg.Wait()
	assert.False(t, slowApplied, "superseded dispatch must report not applied")
	assert.True(t, slowCtxCancel, "superseding must cancel the in-flight context")
}
