package bridge

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// State is a connection's position in the reconciliation protocol.
type State int32

const (
	StateConnecting State = iota
	StateSnapshotting
	StateLive
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSnapshotting:
		return "snapshotting"
	case StateLive:
		return "live"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var errSlowConsumer = errors.New("bridge: client queue overflowed repeatedly")

// client is one connected remote. The snapshot is written before anything
// in the queue; deltas at or below watermark were already folded into it.
type client struct {
	id        uint64
	conn      *websocket.Conn
	log       *zap.Logger
	state     atomic.Int32
	watermark uint64
	snapshot  []byte

	limit        int
	maxOverflows int

	mu        sync.Mutex
	queue     [][]byte
	overflows int
	dropped   uint64
	closed    bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newClient(id uint64, conn *websocket.Conn, log *zap.Logger, limit, maxOverflows int) *client {
	c := &client{
		id:           id,
		conn:         conn,
		log:          log,
		limit:        limit,
		maxOverflows: maxOverflows,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *client) State() State { return State(c.state.Load()) }

func (c *client) setState(s State) { c.state.Store(int32(s)) }

// enqueue appends msg, evicting the oldest queued frame when full. It
// reports false once the client has overflowed more than maxOverflows times
// without the writer catching up, or is already closed.
func (c *client) enqueue(msg []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	ok := true
	if len(c.queue) >= c.limit {
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.dropped++
		c.overflows++
		ok = c.overflows <= c.maxOverflows
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return ok
}

// take empties the queue; an empty queue forgives earlier overflows.
func (c *client) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.queue
	c.queue = nil
	c.overflows = 0
	return batch
}

func (c *client) droppedCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// close is idempotent. A non-nil cause marks the session as failed.
func (c *client) close(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue = nil
		c.mu.Unlock()

		if cause != nil {
			c.setState(StateError)
			c.log.Info("client dropped", zap.Error(cause))
			code := websocket.CloseInternalServerErr
			if errors.Is(cause, errSlowConsumer) {
				code = websocket.CloseTryAgainLater
			}
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, cause.Error()), time.Now().Add(time.Second))
		} else {
			c.setState(StateDisconnected)
		}
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) write(data []byte, timeout time.Duration) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// writeLoop is the only writer of data frames on the connection.
func (c *client) writeLoop(writeTimeout func() time.Duration, pingInterval time.Duration) {
	if err := c.write(c.snapshot, writeTimeout()); err != nil {
		c.close(err)
		return
	}
	c.snapshot = nil
	c.setState(StateLive)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout())); err != nil {
				c.close(err)
				return
			}
		case <-c.wake:
			for _, msg := range c.take() {
				if err := c.write(msg, writeTimeout()); err != nil {
					c.close(err)
					return
				}
			}
		}
	}
}
