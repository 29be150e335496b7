package hardware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/launchbox/launchbox/internal/events"
	"github.com/launchbox/launchbox/pkg/sdk"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const topicFlush sdk.Topic = "test.flush"

// recorder collects every event published on a bus except flush markers.
type recorder struct {
	bus *events.Bus

	mu      sync.Mutex
	events  []sdk.Event
	flushes int
}

func newRecorder(t *testing.T) *recorder {
	t.Helper()
	r := &recorder{bus: events.NewBus(zap.NewNop())}
	_, err := r.bus.Subscribe(sdk.Wildcard, func(ev sdk.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if ev.Topic == topicFlush {
			r.flushes++
			return
		}
		r.events = append(r.events, ev)
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.bus.Close(ctx)
	})
	return r
}

// flush waits until everything published so far has been recorded.
func (r *recorder) flush(t *testing.T) []sdk.Event {
	t.Helper()
	r.mu.Lock()
	want := r.flushes + 1
	r.mu.Unlock()
	_, err := r.bus.Publish(topicFlush, "test", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.flushes >= want
	}, time.Second, 2*time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sdk.Event(nil), r.events...)
}

func (r *recorder) topics(t *testing.T, topic sdk.Topic) []sdk.Event {
	t.Helper()
	var out []sdk.Event
	for _, ev := range r.flush(t) {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}
