package notify

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name      string
	delivered atomic.Int64
	gate      chan struct{} // when set, Send parks until the channel closes
	err       error
}

func (f *fakeSender) Send(ctx context.Context, _, _ string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.err != nil {
		return f.err
	}
	f.delivered.Add(1)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyReturnsBeforeDeliveryCompletes(t *testing.T) {
	gate := make(chan struct{})
	sender := &fakeSender{name: "telegram", gate: gate}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	done := make(chan struct{})
	go func() {
		_ = n.Notify(context.Background(), EventSnipeExecuted, "Buy landed", "details")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on sender delivery")
	}
	assert.Equal(t, int64(0), sender.delivered.Load())

	close(gate)
	n.Wait()
	assert.Equal(t, int64(1), sender.delivered.Load())
}

func TestSlowSenderDoesNotBlockOthers(t *testing.T) {
	gate := make(chan struct{})
	slow := &fakeSender{name: "telegram", gate: gate}
	fast := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{slow, fast}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventSnipeExecuted, "Buy landed", "details"))

	require.Eventually(t, func() bool {
		return fast.delivered.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), slow.delivered.Load())

	close(gate)
	n.Wait()
	assert.Equal(t, int64(1), slow.delivered.Load())
}

func TestNotifyFiltersDisallowedEvents(t *testing.T) {
	sender := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{sender}, []string{EventSnipeExecuted}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventSnipeDispatched, "Dispatched", "details"))
	n.Wait()
	assert.Equal(t, int64(0), sender.delivered.Load())

	require.NoError(t, n.Notify(context.Background(), EventSnipeExecuted, "Buy landed", "details"))
	n.Wait()
	assert.Equal(t, int64(1), sender.delivered.Load())
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	sender := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{sender}, []string{EventSnipeExecuted}, discardLogger())

	require.NoError(t, n.NotifyAll(context.Background(), "Service started", "details"))
	n.Wait()
	assert.Equal(t, int64(1), sender.delivered.Load())
}

func TestDeliveryOutlivesCallerContext(t *testing.T) {
	gate := make(chan struct{})
	sender := &fakeSender{name: "telegram", gate: gate}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, n.Notify(ctx, EventSnipeExecuted, "Buy landed", "details"))
	cancel()

	close(gate)
	n.Wait()
	assert.Equal(t, int64(1), sender.delivered.Load())
}

func TestFailedSenderDoesNotStopOthers(t *testing.T) {
	broken := &fakeSender{name: "telegram", err: context.DeadlineExceeded}
	healthy := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{broken, healthy}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventSnipeExecuted, "Buy landed", "details"))
	n.Wait()
	assert.Equal(t, int64(0), broken.delivered.Load())
	assert.Equal(t, int64(1), healthy.delivered.Load())
}
