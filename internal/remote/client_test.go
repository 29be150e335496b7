package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/launchbox/launchbox/internal/bridge"
	"github.com/launchbox/launchbox/internal/config"
	"github.com/launchbox/launchbox/internal/events"
	"github.com/launchbox/launchbox/internal/hardware"
	"github.com/launchbox/launchbox/pkg/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		line    string
		want    bridge.Command
		wantErr error
	}{
		{"press red", bridge.Command{Name: bridge.CommandPressButton, Button: sdk.ButtonRed}, nil},
		{"  P   MAIN ", bridge.Command{Name: bridge.CommandPressButton, Button: sdk.ButtonMain}, nil},
		{"switch 170", bridge.Command{Name: bridge.CommandSetSwitch, Value: 170}, nil},
		{"s 0", bridge.Command{Name: bridge.CommandSetSwitch}, nil},
		{"switch 256", bridge.Command{}, bridge.ErrSwitchOutOfRange},
		{"switch ten", bridge.Command{}, bridge.ErrInvalidCommand},
		{"press purple", bridge.Command{}, bridge.ErrUnknownButton},
		{"jump red", bridge.Command{}, bridge.ErrInvalidCommand},
		{"press", bridge.Command{}, bridge.ErrInvalidCommand},
		{"", bridge.Command{}, bridge.ErrInvalidCommand},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseInput(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendWithoutSession(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/v1/events", time.Millisecond, zap.NewNop(), nil)
	cmd, err := bridge.SetSwitch(1)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send(cmd), ErrNotConnected)
	assert.ErrorIs(t, c.Send(bridge.Command{Name: "reboot"}), bridge.ErrInvalidCommand)
}

type changes struct {
	mu     sync.Mutex
	events []string
}

func (c *changes) record(event string, _ bridge.InitialState) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *changes) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

func runClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
}

func TestClientDrivesEmulatedBoard(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	hw := hardware.NewEmulated(zap.NewNop(), bus)
	br := bridge.New(config.Default().Bridge, zap.NewNop(), bus, hw)
	require.NoError(t, br.Start())
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		br.Serve(r.Context(), conn)
	}))
	t.Cleanup(func() {
		br.Stop()
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bus.Close(ctx)
	})

	var seen changes
	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), 10*time.Millisecond, zap.NewNop(), seen.record)
	runClient(t, c)
	require.Eventually(t, func() bool { return seen.count(bridge.EventInitialState) == 1 }, 2*time.Second, 5*time.Millisecond)

	cmd, err := ParseInput("switch 170")
	require.NoError(t, err)
	require.NoError(t, c.Send(cmd))
	cmd, err = ParseInput("press yellow")
	require.NoError(t, err)
	require.NoError(t, c.Send(cmd))

	require.Eventually(t, func() bool { return c.Mirror().LastButton() == "yellow" }, 2*time.Second, 5*time.Millisecond)
	st, synced := c.Mirror().State()
	assert.True(t, synced)
	assert.Equal(t, 170, st.SwitchValue)
	assert.Equal(t, "10101010", st.SwitchBinary)
	assert.Equal(t, 170, hw.Devices().Switch.Value())
}

func TestClientResyncsAfterReconnect(t *testing.T) {
	var (
		mu       sync.Mutex
		sessions int
	)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		sessions++
		n := sessions
		mu.Unlock()

		if n == 1 {
			_ = conn.WriteJSON(bridge.Message{Event: bridge.EventInitialState, Payload: bridge.InitialState{LEDRed: true, SwitchValue: 1, SwitchBinary: "00000001"}})
			return
		}
		_ = conn.WriteJSON(bridge.Message{Event: bridge.EventInitialState, Payload: bridge.InitialState{SwitchValue: 2, SwitchBinary: "00000010"}})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	var seen changes
	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), 10*time.Millisecond, zap.NewNop(), seen.record)
	runClient(t, c)

	require.Eventually(t, func() bool { return seen.count(bridge.EventInitialState) == 2 }, 2*time.Second, 5*time.Millisecond)
	st, synced := c.Mirror().State()
	assert.True(t, synced)
	assert.Equal(t, 2, st.SwitchValue)
	assert.False(t, st.LEDRed)
}

func TestClientRetriesUntilServerAppears(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/v1/events", 5*time.Millisecond, zap.NewNop(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, c.Run(ctx))
	_, synced := c.Mirror().State()
	assert.False(t, synced)
}
