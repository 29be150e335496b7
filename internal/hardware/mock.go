package hardware

import (
	"context"

	"github.com/launchbox/launchbox/pkg/sdk"
	"go.uber.org/zap"
)

// Kind names a backend variant.
type Kind string

const (
	KindPhysical Kind = "physical"
	KindMock     Kind = "mock"
	KindEmulated Kind = "emulated"
)

// Backend is one variant of the hardware, selected once at startup.
type Backend interface {
	Kind() Kind
	Board() *Board
	Devices() sdk.Devices
	// Run drives background monitoring until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// Mock keeps every device in memory.
type Mock struct {
	board   *Board
	buttons map[sdk.ButtonID]*MockButton
	devices sdk.Devices
}

var _ Backend = (*Mock)(nil)

func NewMock(log *zap.Logger, bus Sequencer) *Mock {
	return newMock(NewBoard(log, bus, string(KindMock)))
}

func newMock(board *Board) *Mock {
	m := &Mock{
		board:   board,
		buttons: make(map[sdk.ButtonID]*MockButton, len(sdk.Buttons)),
	}
	m.devices = sdk.Devices{
		Buttons: make(map[sdk.ButtonID]sdk.Button, len(sdk.Buttons)),
		LEDs:    make(map[sdk.LEDID]sdk.LED, len(sdk.LEDs)),
		Switch:  &memSwitch{board: board},
		Display: &memDisplay{board: board},
		Screen:  &memScreen{board: board},
	}
	for _, id := range sdk.Buttons {
		btn := &MockButton{board: board, id: id}
		m.buttons[id] = btn
		m.devices.Buttons[id] = btn
	}
	for _, id := range sdk.LEDs {
		m.devices.LEDs[id] = &memLED{board: board, id: id}
	}
	return m
}

func (m *Mock) Kind() Kind           { return KindMock }
func (m *Mock) Board() *Board        { return m.board }
func (m *Mock) Devices() sdk.Devices { return m.devices }
func (m *Mock) Close() error         { return nil }

// Button exposes the concrete button for hold/release control.
func (m *Mock) Button(id sdk.ButtonID) *MockButton { return m.buttons[id] }

func (m *Mock) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// MockButton can be held down and released from code.
type MockButton struct {
	board *Board
	id    sdk.ButtonID
}

func (b *MockButton) ID() sdk.ButtonID { return b.id }

func (b *MockButton) IsPressed() bool {
	var pressed bool
	b.board.read(func(st *State) { pressed = st.Pressed[b.id] })
	return pressed
}

func (b *MockButton) Press()   { b.board.setPressed(b.id, true) }
func (b *MockButton) Release() { b.board.setPressed(b.id, false) }

type memSwitch struct{ board *Board }

func (s *memSwitch) Set(v int) { s.board.setSwitch(v) }

func (s *memSwitch) Value() int {
	var v int
	s.board.read(func(st *State) { v = st.Switch })
	return v
}

type memLED struct {
	board *Board
	id    sdk.LEDID
}

func (l *memLED) ID() sdk.LEDID { return l.id }
func (l *memLED) On()           { l.board.setLED(l.id, true) }
func (l *memLED) Off()          { l.board.setLED(l.id, false) }

func (l *memLED) IsLit() bool {
	var lit bool
	l.board.read(func(st *State) { lit = st.LEDs[l.id] })
	return lit
}

type memDisplay struct{ board *Board }

func (d *memDisplay) Show(text string) { d.board.show(text) }

func (d *memDisplay) Text() string {
	var s string
	d.board.read(func(st *State) { s = st.Display })
	return s
}

type memScreen struct{ board *Board }

func (s *memScreen) Render(c sdk.ScreenContent) { s.board.render(c) }

func (s *memScreen) Content() sdk.ScreenContent {
	var c sdk.ScreenContent
	s.board.read(func(st *State) {
		c = st.Screen
		c.Details = cloneDetails(st.Screen.Details)
	})
	return c
}
