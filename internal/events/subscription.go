package events

import (
	"runtime/debug"
	"sync"

	"github.com/launchbox/launchbox/pkg/sdk"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Subscription owns an unbounded FIFO mailbox and a delivery goroutine.
// Bounding happens downstream, where the overflow policy is known.
type Subscription struct {
	bus     *Bus
	id      uint64
	pattern sdk.Topic
	handler sdk.Handler

	mu      sync.Mutex
	queue   []sdk.Event
	wake    chan struct{}
	stop    chan struct{}
	once    sync.Once
	drain   atomic.Bool
	removed atomic.Bool
}

func newSubscription(b *Bus, id uint64, pattern sdk.Topic, h sdk.Handler) *Subscription {
	return &Subscription{
		bus:     b,
		id:      id,
		pattern: pattern,
		handler: h,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (s *Subscription) Pattern() sdk.Topic { return s.pattern }

// Unsubscribe is idempotent and may be called from inside the handler.
// Events still queued are discarded.
func (s *Subscription) Unsubscribe() {
	if s.removed.Swap(true) {
		return
	}
	s.bus.remove(s.id)
	s.once.Do(func() { close(s.stop) })
}

// drainAndStop lets the goroutine deliver what is queued and then exit.
// Called with the bus lock held.
func (s *Subscription) drainAndStop() {
	s.drain.Store(true)
	s.once.Do(func() { close(s.stop) })
}

func (s *Subscription) push(ev sdk.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) take() []sdk.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

func (s *Subscription) run() {
	defer s.bus.wg.Done()
	for {
		select {
		case <-s.wake:
			if !s.deliver(s.take()) {
				return
			}
		case <-s.stop:
			if s.drain.Load() && !s.removed.Load() {
				s.deliver(s.take())
			}
			return
		}
	}
}

// deliver returns false once the subscription has been cancelled.
func (s *Subscription) deliver(batch []sdk.Event) bool {
	for _, ev := range batch {
		if s.removed.Load() {
			return false
		}
		s.call(ev)
	}
	return !s.removed.Load()
}

func (s *Subscription) call(ev sdk.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.panics.Inc()
			s.bus.log.Error("subscriber panicked",
				zap.String("pattern", s.pattern.String()),
				zap.String("topic", ev.Topic.String()),
				zap.Uint64("sequence", ev.Sequence),
				zap.Any("recovered", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	s.handler(ev)
	s.bus.delivered.Inc()
}
