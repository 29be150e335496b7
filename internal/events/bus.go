package events

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/launchbox/launchbox/pkg/sdk"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	ErrBusClosed      = errors.New("events: bus closed")
	ErrInvalidTopic   = errors.New("events: invalid topic")
	ErrInvalidPattern = errors.New("events: invalid subscription pattern")
	ErrNilHandler     = errors.New("events: nil handler")
)

// Stats is a point-in-time view of bus counters.
type Stats struct {
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	HandlerPanics uint64 `json:"handler_panics"`
	Subscriptions int    `json:"subscriptions"`
	LastSequence  uint64 `json:"last_sequence"`
}

// Bus is an in-process topic bus. Publish assigns the sequence number and
// enqueues the event on every matching subscription's mailbox while holding
// the bus lock, so all subscribers observe one total order. Each subscription
// delivers from its own goroutine; Publish never waits on handlers.
type Bus struct {
	log *zap.Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup

	seq       atomic.Uint64
	published atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

var _ sdk.Bus = (*Bus)(nil)

func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		log:  log,
		subs: make(map[uint64]*Subscription),
	}
}

// Publish records an event and hands it to matching subscribers.
// It fails only when the topic is malformed or the bus has been closed.
func (b *Bus) Publish(topic sdk.Topic, source string, payload sdk.Payload) (sdk.Event, error) {
	if !topic.Valid() || strings.Contains(string(topic), sdk.Wildcard) {
		return sdk.Event{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sdk.Event{}, ErrBusClosed
	}
	ev := sdk.Event{
		Topic:    topic,
		Payload:  maps.Clone(payload),
		Sequence: b.seq.Inc(),
		Source:   source,
	}
	b.published.Inc()
	for _, s := range b.subs {
		if topic.Matches(s.pattern) {
			s.push(ev)
		}
	}
	return ev, nil
}

// LastSequence returns the sequence number of the most recent publish.
func (b *Bus) LastSequence() uint64 {
	return b.seq.Load()
}

// WithSequence runs fn with the last assigned sequence while publishes are
// held off, so anything fn registers sees every event numbered after seq.
// fn must not publish or subscribe.
func (b *Bus) WithSequence(fn func(seq uint64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.seq.Load())
}

// Subscribe registers h for every future event matching pattern.
func (b *Bus) Subscribe(pattern sdk.Topic, h sdk.Handler) (sdk.Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if !sdk.ValidPattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.nextID++
	s := newSubscription(b, b.nextID, pattern, h)
	b.subs[s.id] = s
	b.wg.Add(1)
	go s.run()
	return s, nil
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Close rejects further publishes and waits until every subscription has
// drained its mailbox or ctx is done.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.closed = true
	for _, s := range b.subs {
		s.drainAndStop()
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) Stats() Stats {
	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerPanics: b.panics.Load(),
		Subscriptions: n,
		LastSequence:  b.seq.Load(),
	}
}
