package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(100*time.Millisecond, func() { fired++ })

	c.Advance(99 * time.Millisecond)
	require.Equal(t, 0, fired)

	c.Advance(time.Millisecond)
	require.Equal(t, 1, fired)

	c.Advance(time.Second)
	require.Equal(t, 1, fired, "one-shot timers fire once")
}

func TestFake_StopPreventsFiring(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())
	c.Advance(2 * time.Second)
	require.False(t, fired)
	require.Equal(t, 0, c.PendingCount())
}

func TestSleep_WaitsForAdvance(t *testing.T) {
	c := Fake(epoch)
	done := make(chan error, 1)
	go func() { done <- Sleep(context.Background(), c, 2*time.Second) }()

	c.WaitForTimers(1)
	c.Advance(2 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "sleep did not return after advance")
	}
	require.Equal(t, epoch.Add(2*time.Second), c.Now())
}

func TestSleep_ContextCancelled(t *testing.T) {
	c := Fake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, c, time.Hour), context.Canceled)
}
