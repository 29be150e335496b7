// Package bridge mirrors hardware events to remote websocket clients and
// turns their commands back into emulated hardware input.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/launchbox/launchbox/internal/config"
	"github.com/launchbox/launchbox/internal/hardware"
	"github.com/launchbox/launchbox/pkg/sdk"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Stats summarizes bridge activity.
type Stats struct {
	Clients  int    `json:"clients"`
	Accepted uint64 `json:"accepted"`
	Evicted  uint64 `json:"evicted"`
	Dropped  uint64 `json:"dropped"`
	Commands uint64 `json:"commands"`
	Rejected uint64 `json:"rejected"`
}

type Bridge struct {
	log       *zap.Logger
	bus       sdk.Bus
	board     *hardware.Board
	commander hardware.Commander

	cfg     atomic.Pointer[config.Bridge]
	clients *xsync.MapOf[uint64, *client]
	sub     sdk.Subscription

	nextID   atomic.Uint64
	evicted  atomic.Uint64
	dropped  atomic.Uint64
	commands atomic.Uint64
	rejected atomic.Uint64
}

// New builds a bridge over hw. Remote commands are accepted only when hw
// implements hardware.Commander.
func New(cfg config.Bridge, log *zap.Logger, bus sdk.Bus, hw hardware.Backend) *Bridge {
	b := &Bridge{
		log:     log,
		bus:     bus,
		board:   hw.Board(),
		clients: xsync.NewMapOf[uint64, *client](),
	}
	if cmd, ok := hw.(hardware.Commander); ok {
		b.commander = cmd
	}
	b.cfg.Store(&cfg)
	return b
}

// Start subscribes to the bus. A single subscription keeps one total order
// across topics for every client.
func (b *Bridge) Start() error {
	sub, err := b.bus.Subscribe(sdk.Wildcard, b.dispatch)
	if err != nil {
		return fmt.Errorf("bridge subscribe: %w", err)
	}
	b.sub = sub
	return nil
}

// Stop unsubscribes and disconnects every client.
func (b *Bridge) Stop() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	b.clients.Range(func(id uint64, c *client) bool {
		b.detach(c)
		return true
	})
}

// Reload applies new queue and timeout settings to future connections and
// new writes.
func (b *Bridge) Reload(cfg config.Bridge) {
	b.cfg.Store(&cfg)
}

func (b *Bridge) writeTimeout() time.Duration {
	return b.cfg.Load().WriteTimeout
}

func (b *Bridge) dispatch(ev sdk.Event) {
	if !forwarded(ev.Topic) {
		return
	}
	data, err := EncodeEvent(ev)
	if err != nil {
		b.log.Warn("event not encodable", zap.String("topic", ev.Topic.String()), zap.Error(err))
		return
	}
	b.clients.Range(func(id uint64, c *client) bool {
		if ev.Sequence <= c.watermark {
			return true
		}
		if !c.enqueue(data) {
			b.evict(c)
		}
		return true
	})
}

// evict removes a client that cannot keep up. The close handshake runs off
// the delivery goroutine so other clients are not held up.
func (b *Bridge) evict(c *client) {
	if _, ok := b.clients.LoadAndDelete(c.id); !ok {
		return
	}
	b.evicted.Inc()
	go func() {
		c.close(errSlowConsumer)
		b.dropped.Add(c.droppedCount())
	}()
}

// attach registers a client while the board and the bus are both locked, so
// the snapshot and the sequence watermark describe the same instant and every
// later delta, from the board or anyone else, finds the client registered.
func (b *Bridge) attach(conn *websocket.Conn) *client {
	cfg := b.cfg.Load()
	id := b.nextID.Inc()
	c := newClient(id, conn, b.log.With(zap.Uint64("client", id)), cfg.QueueSize, cfg.MaxOverflows)
	c.setState(StateSnapshotting)
	b.board.WithSnapshot(func(st hardware.State, seq uint64) {
		c.watermark = seq
		c.snapshot = encode(EventInitialState, NewInitialState(st))
		b.clients.Store(id, c)
	})
	c.log.Debug("client attached", zap.Uint64("watermark", c.watermark))
	return c
}

// detach is idempotent.
func (b *Bridge) detach(c *client) {
	if _, ok := b.clients.LoadAndDelete(c.id); ok {
		b.dropped.Add(c.droppedCount())
	}
	c.close(nil)
}

// Serve runs one websocket session and returns when the client goes away.
func (b *Bridge) Serve(ctx context.Context, conn *websocket.Conn) {
	cfg := b.cfg.Load()
	c := b.attach(conn)
	defer b.detach(c)
	go c.writeLoop(b.writeTimeout, cfg.PingInterval)

	readWait := 2 * cfg.PingInterval
	conn.SetReadLimit(cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("client read", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		b.handleFrame(ctx, c, data)
	}
}

func (b *Bridge) handleFrame(ctx context.Context, c *client, data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		b.rejected.Inc()
	} else {
		err = b.Execute(ctx, cmd)
	}
	reply := encode(EventAck, map[string]any{"command": cmd.Name})
	if err != nil {
		c.log.Debug("command rejected", zap.Error(err))
		reply = encode(EventError, map[string]any{"command": cmd.Name, "message": err.Error()})
	}
	if !c.enqueue(reply) {
		b.evict(c)
	}
}

// Execute applies a validated command to the emulated hardware. The
// resulting state reaches clients through the bus, not the return value.
func (b *Bridge) Execute(ctx context.Context, cmd Command) error {
	err := b.execute(ctx, cmd)
	if err != nil {
		b.rejected.Inc()
		return err
	}
	b.commands.Inc()
	return nil
}

func (b *Bridge) execute(ctx context.Context, cmd Command) error {
	if b.commander == nil {
		return ErrCommandsUnavailable
	}
	switch cmd.Name {
	case CommandPressButton:
		return b.commander.SimulatePress(ctx, cmd.Button)
	case CommandSetSwitch:
		return b.commander.SimulateSwitchSet(ctx, cmd.Value)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.Name)
	}
}

// Press validates id and presses it.
func (b *Bridge) Press(ctx context.Context, id string) error {
	cmd, err := PressButton(id)
	if err != nil {
		b.rejected.Inc()
		return err
	}
	return b.Execute(ctx, cmd)
}

// SetSwitch validates v and applies it.
func (b *Bridge) SetSwitch(ctx context.Context, v int) error {
	cmd, err := SetSwitch(v)
	if err != nil {
		b.rejected.Inc()
		return err
	}
	return b.Execute(ctx, cmd)
}

func (b *Bridge) Stats() Stats {
	s := Stats{
		Clients:  b.clients.Size(),
		Accepted: b.nextID.Load(),
		Evicted:  b.evicted.Load(),
		Dropped:  b.dropped.Load(),
		Commands: b.commands.Load(),
		Rejected: b.rejected.Load(),
	}
	b.clients.Range(func(_ uint64, c *client) bool {
		s.Dropped += c.droppedCount()
		return true
	})
	return s
}
