package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/launchbox/launchbox/pkg/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []sdk.Event
}

func (r *recorder) handle(ev sdk.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []sdk.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sdk.Event(nil), r.events...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := NewBus(zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

func TestPublishAssignsIncreasingSequence(t *testing.T) {
	b := newTestBus(t)
	var last uint64
	for i := 0; i < 10; i++ {
		ev, err := b.Publish("system.tick", "test", sdk.Payload{"i": i})
		require.NoError(t, err)
		assert.Greater(t, ev.Sequence, last)
		last = ev.Sequence
	}
	assert.Equal(t, last, b.LastSequence())
}

func TestPublishRejectsInvalidTopic(t *testing.T) {
	b := newTestBus(t)
	for _, topic := range []sdk.Topic{"", "output.*", "a..b", "*"} {
		_, err := b.Publish(topic, "test", nil)
		assert.ErrorIs(t, err, ErrInvalidTopic, "topic %q", topic)
	}
	assert.Zero(t, b.LastSequence())
}

func TestSubscribeValidation(t *testing.T) {
	b := newTestBus(t)
	_, err := b.Subscribe("output.*", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
	_, err = b.Subscribe("output.*.x", func(sdk.Event) {})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestPrefixAndExactDelivery(t *testing.T) {
	b := newTestBus(t)
	var all, outputs, leds recorder
	_, err := b.Subscribe("*", all.handle)
	require.NoError(t, err)
	_, err = b.Subscribe("output.*", outputs.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(sdk.TopicLEDChanged, leds.handle)
	require.NoError(t, err)

	_, _ = b.Publish(sdk.TopicLEDChanged, "test", sdk.Payload{"led_id": "red", "state": "on"})
	_, _ = b.Publish(sdk.TopicDisplayUpdated, "test", sdk.Payload{"value": "  42"})
	_, _ = b.Publish(sdk.TopicSwitchChanged, "test", sdk.Payload{"value": 3})

	require.Eventually(t, func() bool { return all.len() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return outputs.len() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return leds.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "red", leds.snapshot()[0].Payload["led_id"])
}

func TestDeliveryPreservesPublishOrder(t *testing.T) {
	b := newTestBus(t)
	var rec recorder
	_, err := b.Subscribe("input.*", rec.handle)
	require.NoError(t, err)

	const n = 500
	for i := 0; i < n; i++ {
		_, err := b.Publish(sdk.TopicButtonPressed, "test", sdk.Payload{"i": i})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return rec.len() == n }, 2*time.Second, 5*time.Millisecond)
	for i, ev := range rec.snapshot() {
		assert.Equal(t, i, ev.Payload["i"])
	}
}

func TestConcurrentPublishersSeeOneOrder(t *testing.T) {
	b := newTestBus(t)
	var first, second recorder
	_, _ = b.Subscribe("*", first.handle)
	_, _ = b.Subscribe("*", second.handle)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = b.Publish(sdk.TopicButtonPressed, "test", nil)
			}
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool { return first.len() == 200 && second.len() == 200 }, 2*time.Second, 5*time.Millisecond)

	a, c := first.snapshot(), second.snapshot()
	for i := range a {
		assert.Equal(t, a[i].Sequence, c[i].Sequence)
		if i > 0 {
			assert.Greater(t, a[i].Sequence, a[i-1].Sequence)
		}
	}
}

func TestPublishDoesNotWaitForSlowSubscriber(t *testing.T) {
	b := newTestBus(t)
	release := make(chan struct{})
	_, err := b.Subscribe("*", func(sdk.Event) { <-release })
	require.NoError(t, err)
	defer close(release)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_, _ = b.Publish("system.tick", "test", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := newTestBus(t)
	var rec recorder
	_, _ = b.Subscribe("*", func(sdk.Event) { panic("boom") })
	_, _ = b.Subscribe("*", rec.handle)

	_, err := b.Publish("system.a", "test", nil)
	require.NoError(t, err)
	_, err = b.Publish("system.b", "test", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return b.Stats().HandlerPanics == 2 }, time.Second, 5*time.Millisecond)
}

func TestUnsubscribeIsIdempotentAndSafeInsideHandler(t *testing.T) {
	b := newTestBus(t)
	var (
		rec recorder
		sub sdk.Subscription
	)
	ready := make(chan struct{})
	sub, err := b.Subscribe("*", func(ev sdk.Event) {
		<-ready
		rec.handle(ev)
		sub.Unsubscribe()
	})
	require.NoError(t, err)
	close(ready)

	_, _ = b.Publish("system.a", "test", nil)
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	_, _ = b.Publish("system.b", "test", nil)
	sub.Unsubscribe()

	var sentinel recorder
	_, _ = b.Subscribe("*", sentinel.handle)
	_, _ = b.Publish("system.c", "test", nil)
	require.Eventually(t, func() bool { return sentinel.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.len())
	assert.Equal(t, 1, b.Stats().Subscriptions)
}

func TestCloseDrainsAndRejects(t *testing.T) {
	b := NewBus(zap.NewNop())
	var rec recorder
	_, _ = b.Subscribe("*", func(ev sdk.Event) {
		time.Sleep(time.Millisecond)
		rec.handle(ev)
	})
	for i := 0; i < 20; i++ {
		_, _ = b.Publish("system.tick", "test", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))
	assert.Equal(t, 20, rec.len())

	_, err := b.Publish("system.tick", "test", nil)
	assert.ErrorIs(t, err, ErrBusClosed)
	_, err = b.Subscribe("*", rec.handle)
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.ErrorIs(t, b.Close(ctx), ErrBusClosed)
}

func TestPayloadIsCopiedOnPublish(t *testing.T) {
	b := newTestBus(t)
	var rec recorder
	_, _ = b.Subscribe("*", rec.handle)
	p := sdk.Payload{"value": 1}
	_, _ = b.Publish("system.x", "test", p)
	p["value"] = 2
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.snapshot()[0].Payload["value"])
}

func TestWithSequenceHoldsOffPublishes(t *testing.T) {
	b := newTestBus(t)
	_, err := b.Publish("system.a", "test", nil)
	require.NoError(t, err)

	published := make(chan sdk.Event, 1)
	var seen uint64
	b.WithSequence(func(seq uint64) {
		seen = seq
		go func() {
			ev, _ := b.Publish("output.display.updated", "app", nil)
			published <- ev
		}()
		select {
		case <-published:
			t.Error("publish completed inside WithSequence")
		case <-time.After(20 * time.Millisecond):
		}
	})
	assert.EqualValues(t, 1, seen)
	ev := <-published
	assert.EqualValues(t, 2, ev.Sequence)
}
