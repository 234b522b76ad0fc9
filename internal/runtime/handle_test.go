package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/kiln/internal/alert"
)

func countingBooter(inst Instance, calls *atomic.Int32, gate <-chan struct{}) Booter {
	return BootFunc(func(context.Context) (Instance, error) {
		calls.Add(1)
		if gate != nil {
			<-gate
		}
		return inst, nil
	})
}

func TestHandle_BootsOnceForConcurrentCallers(t *testing.T) {
	mem := NewMemory("/home/project")
	var calls atomic.Int32
	gate := make(chan struct{})
	h := NewHandle(countingBooter(mem, &calls, gate))
	defer h.Close()

	var wg sync.WaitGroup
	results := make([]Instance, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := h.Get(context.Background())
			require.NoError(t, err)
			results[i] = inst
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, inst := range results {
		require.Same(t, mem, inst)
	}
}

func TestHandle_UnavailableFailsFast(t *testing.T) {
	var calls atomic.Int32
	h := NewHandle(countingBooter(NewMemory("/w"), &calls, nil), WithAvailable(false))

	_, err := h.Get(context.Background())
	require.ErrorIs(t, err, ErrCapabilityUnavailable)
	require.False(t, h.Available())
	require.Zero(t, calls.Load())
}

func TestHandle_BootFailureIsShared(t *testing.T) {
	bootErr := errors.New("no sandbox")
	var calls atomic.Int32
	h := NewHandle(BootFunc(func(context.Context) (Instance, error) {
		calls.Add(1)
		return nil, bootErr
	}))

	_, err := h.Get(context.Background())
	require.ErrorIs(t, err, bootErr)
	_, err = h.Get(context.Background())
	require.ErrorIs(t, err, bootErr)
	require.Equal(t, int32(1), calls.Load())
}

func TestHandle_GetRespectsContext(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	var calls atomic.Int32
	h := NewHandle(countingBooter(NewMemory("/w"), &calls, gate))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandle_ErrorListenerAttachesOnce(t *testing.T) {
	mem := NewMemory("/home/project")
	h := NewHandle(mem.Booter())
	defer h.Close()

	var mu sync.Mutex
	var got []alert.Alert
	sink := func(a alert.Alert) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, a)
	}

	require.NoError(t, h.AttachErrorListener(context.Background(), sink))
	require.NoError(t, h.AttachErrorListener(context.Background(), sink))
	require.Equal(t, 1, mem.Events().SubscriberCount())

	mem.Emit(Event{Type: EventPort, Port: 3000, PortType: PortOpen})
	mem.Emit(Event{Type: EventPreviewMessage, Message: &PreviewMessage{
		Type:     MessageUncaughtException,
		Message:  "boom",
		Pathname: "/",
		Port:     3000,
	}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "Uncaught Exception", got[0].Title)
	require.Equal(t, "boom", got[0].Description)
	require.Equal(t, alert.SourcePreview, got[0].Source)
}

func TestHandle_ErrorListenerRetriesAfterFailedAttach(t *testing.T) {
	mem := NewMemory("/home/project")
	gate := make(chan struct{})
	var calls atomic.Int32
	h := NewHandle(countingBooter(mem, &calls, gate))
	defer h.Close()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.AttachErrorListener(cancelled, alert.Discard), context.Canceled)
	require.Equal(t, 0, mem.Events().SubscriberCount())

	close(gate)

	require.NoError(t, h.AttachErrorListener(context.Background(), alert.Discard))
	require.Equal(t, 1, mem.Events().SubscriberCount())
}
