package workbench

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/kiln/internal/action"
	"github.com/zjrosen/kiln/internal/alert"
	"github.com/zjrosen/kiln/internal/clock"
	"github.com/zjrosen/kiln/internal/runtime"
)

type testBench struct {
	*Workbench
	mem   *runtime.MemoryInstance
	clock *clock.FakeClock
}

func newTestBench(t *testing.T, opts Options) *testBench {
	t.Helper()
	mem := runtime.NewMemory(DefaultWorkdir)
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if opts.Runtime == nil {
		opts.Runtime = runtime.NewHandle(mem.Booter())
	}
	if opts.Clock == nil {
		opts.Clock = clk
	}
	w := New(opts)
	t.Cleanup(w.Close)
	return &testBench{Workbench: w, mem: mem, clock: clk}
}

func (b *testBench) writeAction(t *testing.T, messageID, actionID string, a action.Action) action.Data {
	t.Helper()
	data := action.Data{MessageID: messageID, ArtifactID: "art-" + messageID, ActionID: actionID, Action: a}
	require.NoError(t, b.AddAction(context.Background(), data))
	return data
}

// collectAlerts records every alert published after the call.
func collectAlerts(t *testing.T, w *Workbench) func() []alert.Alert {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch := w.Alerts().Subscribe(ctx)

	var got []alert.Alert
	return func() []alert.Alert {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return got
				}
				got = append(got, ev.Payload)
			case <-time.After(50 * time.Millisecond):
				return got
			}
		}
	}
}
