// Package hardware implements the device capabilities in pkg/sdk on top of a
// shared Board that holds the authoritative hardware state.
package hardware

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/launchbox/launchbox/pkg/sdk"
	"go.uber.org/zap"
)

// Sequencer is the bus surface the board needs: publishing plus the sequence
// watermark used to pair a snapshot with the event stream.
type Sequencer interface {
	sdk.Publisher
	WithSequence(fn func(seq uint64))
}

// State is the complete hardware state at one instant.
type State struct {
	LEDs    map[sdk.LEDID]bool
	Pressed map[sdk.ButtonID]bool
	Display string
	Switch  int
	Screen  sdk.ScreenContent
}

func newState() State {
	st := State{
		LEDs:    make(map[sdk.LEDID]bool, len(sdk.LEDs)),
		Pressed: make(map[sdk.ButtonID]bool, len(sdk.Buttons)),
		Display: strings.Repeat(" ", sdk.DisplayWidth),
	}
	for _, id := range sdk.LEDs {
		st.LEDs[id] = false
	}
	for _, id := range sdk.Buttons {
		st.Pressed[id] = false
	}
	return st
}

func (s State) clone() State {
	out := s
	out.LEDs = make(map[sdk.LEDID]bool, len(s.LEDs))
	for k, v := range s.LEDs {
		out.LEDs[k] = v
	}
	out.Pressed = make(map[sdk.ButtonID]bool, len(s.Pressed))
	for k, v := range s.Pressed {
		out.Pressed[k] = v
	}
	out.Screen.Details = cloneDetails(s.Screen.Details)
	return out
}

func cloneDetails(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Board serializes every mutation and its publish behind one lock, so a
// snapshot taken under the same lock is never half-applied and always pairs
// with the exact bus sequence it reflects.
type Board struct {
	log    *zap.Logger
	bus    Sequencer
	source string

	mu    sync.Mutex
	state State
}

func NewBoard(log *zap.Logger, bus Sequencer, source string) *Board {
	return &Board{
		log:    log,
		bus:    bus,
		source: source,
		state:  newState(),
	}
}

// change describes the publish that follows a mutation; a zero Topic means
// the mutation was a no-op.
type change struct {
	topic   sdk.Topic
	payload sdk.Payload
}

func (b *Board) update(fn func(st *State) []change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range fn(&b.state) {
		if c.topic == "" {
			continue
		}
		if _, err := b.bus.Publish(c.topic, b.source, c.payload); err != nil {
			b.log.Debug("publish failed", zap.String("topic", c.topic.String()), zap.Error(err))
		}
	}
}

func (b *Board) read(fn func(st *State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.state)
}

// Snapshot returns a copy of the state and the last bus sequence it reflects.
func (b *Board) Snapshot() (State, uint64) {
	var (
		st  State
		seq uint64
	)
	b.WithSnapshot(func(s State, q uint64) { st, seq = s, q })
	return st, seq
}

// WithSnapshot runs fn with a consistent copy of the state while mutations
// and every other publish on the bus are held off. fn must not mutate the
// board or publish.
func (b *Board) WithSnapshot(fn func(st State, seq uint64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state.clone()
	b.bus.WithSequence(func(seq uint64) { fn(st, seq) })
}

func (b *Board) setLED(id sdk.LEDID, lit bool) {
	_ = b.writeLED(id, lit, nil)
}

// writeLED runs write, if any, before recording a transition.
func (b *Board) writeLED(id sdk.LEDID, lit bool, write func() error) error {
	var err error
	b.update(func(st *State) []change {
		if st.LEDs[id] == lit {
			return nil
		}
		if write != nil {
			if err = write(); err != nil {
				return nil
			}
		}
		st.LEDs[id] = lit
		return []change{{sdk.TopicLEDChanged, sdk.Payload{"led_id": string(id), "state": LEDState(lit)}}}
	})
	return err
}

func (b *Board) setSwitch(v int) {
	v = ClampSwitch(v)
	b.update(func(st *State) []change {
		if st.Switch == v {
			return nil
		}
		st.Switch = v
		return []change{{sdk.TopicSwitchChanged, sdk.Payload{"value": v, "binary": SwitchBinary(v)}}}
	})
}

func (b *Board) setPressed(id sdk.ButtonID, pressed bool) {
	b.update(func(st *State) []change {
		if st.Pressed[id] == pressed {
			return nil
		}
		st.Pressed[id] = pressed
		if pressed {
			return []change{{sdk.TopicButtonPressed, sdk.Payload{"button_id": string(id)}}}
		}
		return []change{{sdk.TopicButtonReleased, sdk.Payload{"button_id": string(id)}}}
	})
}

// tap is a momentary press: one pressed event and no change to the held
// state, so a button already held down stays held.
func (b *Board) tap(id sdk.ButtonID) {
	b.update(func(st *State) []change {
		return []change{{sdk.TopicButtonPressed, sdk.Payload{"button_id": string(id)}}}
	})
}

func (b *Board) show(text string) {
	text = NormalizeDisplay(text)
	b.update(func(st *State) []change {
		if st.Display == text {
			return nil
		}
		st.Display = text
		return []change{{sdk.TopicDisplayUpdated, sdk.Payload{"value": text}}}
	})
}

func (b *Board) render(c sdk.ScreenContent) {
	c = NormalizeScreen(c)
	b.update(func(st *State) []change {
		if st.Screen.Text == c.Text && reflect.DeepEqual(st.Screen.Details, c.Details) {
			return nil
		}
		st.Screen = c
		return []change{{sdk.TopicScreenUpdated, sdk.Payload{"details": c.Fields()}}}
	})
}

// NormalizeScreen folds a string "text" detail into Text, so content that
// renders the same on the wire is also the same state. An explicit Text wins.
func NormalizeScreen(c sdk.ScreenContent) sdk.ScreenContent {
	details := cloneDetails(c.Details)
	if text, ok := details["text"].(string); ok {
		if c.Text == "" {
			c.Text = text
		}
		delete(details, "text")
	}
	c.Details = cloneDetails(details)
	return c
}

// ClampSwitch bounds v to the switch bank range.
func ClampSwitch(v int) int {
	return min(max(v, sdk.SwitchMin), sdk.SwitchMax)
}

// SwitchBinary renders v as 8 zero-padded binary digits.
func SwitchBinary(v int) string {
	return fmt.Sprintf("%08b", ClampSwitch(v))
}

// NormalizeDisplay truncates or space-pads text to exactly sdk.DisplayWidth runes.
func NormalizeDisplay(text string) string {
	n := utf8.RuneCountInString(text)
	if n > sdk.DisplayWidth {
		return string([]rune(text)[:sdk.DisplayWidth])
	}
	return text + strings.Repeat(" ", sdk.DisplayWidth-n)
}

func LEDState(lit bool) string {
	if lit {
		return "on"
	}
	return "off"
}
