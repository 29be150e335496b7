// Package remote is the emulator side of the bridge: it dials the server,
// mirrors the board and sends input commands.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/launchbox/launchbox/internal/bridge"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("remote: not connected")

// ChangeFunc observes every applied frame.
type ChangeFunc func(event string, st bridge.InitialState)

type Client struct {
	url      string
	delay    time.Duration
	log      *zap.Logger
	mirror   *Mirror
	onChange ChangeFunc

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(url string, reconnectDelay time.Duration, log *zap.Logger, onChange ChangeFunc) *Client {
	if onChange == nil {
		onChange = func(string, bridge.InitialState) {}
	}
	return &Client{
		url:      url,
		delay:    reconnectDelay,
		log:      log,
		mirror:   NewMirror(),
		onChange: onChange,
	}
}

func (c *Client) Mirror() *Mirror { return c.mirror }

// Run keeps a session open until ctx is done, reconnecting after every
// failure. Each session starts from an empty mirror.
func (c *Client) Run(ctx context.Context) error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, _, err := d.DialContext(ctx, c.url, http.Header{"User-Agent": {"launchbox-emulator"}})
		if err != nil {
			c.log.Warn("dial failed", zap.String("url", c.url), zap.Error(err))
			if !sleep(ctx, c.delay) {
				return nil
			}
			continue
		}
		c.log.Info("connected", zap.String("url", c.url))
		c.session(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("disconnected, retrying", zap.Duration("delay", c.delay))
		if !sleep(ctx, c.delay) {
			return nil
		}
	}
}

func (c *Client) session(ctx context.Context, conn *websocket.Conn) {
	c.mirror.Reset()
	c.setConn(conn)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.setConn(nil)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debug("read", zap.Error(err))
			}
			return
		}
		event, err := c.mirror.Apply(data)
		if err != nil {
			c.log.Warn("frame ignored", zap.String("event", event), zap.Error(err))
			continue
		}
		st, _ := c.mirror.State()
		c.onChange(event, st)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Send writes one command on the current session.
func (c *Client) Send(cmd bridge.Command) error {
	var payload map[string]any
	switch cmd.Name {
	case bridge.CommandPressButton:
		payload = map[string]any{"button_id": string(cmd.Button)}
	case bridge.CommandSetSwitch:
		payload = map[string]any{"value": cmd.Value}
	default:
		return fmt.Errorf("%w: %q", bridge.ErrInvalidCommand, cmd.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(bridge.Message{Event: cmd.Name, Payload: payload})
}

// ParseInput reads an interactive line: "press <button>" or "switch <0-255>".
func ParseInput(line string) (bridge.Command, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return bridge.Command{}, fmt.Errorf("%w: want \"press <button>\" or \"switch <value>\"", bridge.ErrInvalidCommand)
	}
	switch strings.ToLower(fields[0]) {
	case "press", "p":
		return bridge.PressButton(fields[1])
	case "switch", "s":
		v, err := strconv.Atoi(fields[1])
		if err != nil {
			return bridge.Command{}, fmt.Errorf("%w: %q is not a number", bridge.ErrInvalidCommand, fields[1])
		}
		return bridge.SetSwitch(v)
	default:
		return bridge.Command{}, fmt.Errorf("%w: unknown verb %q", bridge.ErrInvalidCommand, fields[0])
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
