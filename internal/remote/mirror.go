package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/launchbox/launchbox/internal/bridge"
	"github.com/launchbox/launchbox/pkg/sdk"
)

var (
	ErrMalformed = errors.New("remote: malformed message")
	ErrNotSynced = errors.New("remote: delta before initial state")
)

// EventLegacyState is reported for un-enveloped full state dumps.
const EventLegacyState = "legacy_state"

// legacyKeys are the state fields an un-enveloped dump must carry at least
// one of; anything else without an event name is malformed.
var legacyKeys = []string{
	"led_red", "led_yellow", "led_green", "led_blue",
	"display", "switch_value", "switch_binary", "screen_content", "screen_details",
}

// Mirror is the client-side copy of the board. Every initial_state replaces
// it wholesale; deltas only apply once a snapshot has been seen.
type Mirror struct {
	mu         sync.RWMutex
	synced     bool
	state      bridge.InitialState
	lastButton string
}

func NewMirror() *Mirror {
	return &Mirror{}
}

// Reset discards everything; called on every (re)connect.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced = false
	m.state = bridge.InitialState{}
	m.lastButton = ""
}

// State returns the mirrored state and whether a snapshot has been applied.
func (m *Mirror) State() (bridge.InitialState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.state
	if st.ScreenDetails != nil {
		st.ScreenDetails = make(map[string]any, len(m.state.ScreenDetails))
		for k, v := range m.state.ScreenDetails {
			st.ScreenDetails[k] = v
		}
	}
	return st, m.synced
}

func (m *Mirror) LastButton() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastButton
}

// Apply folds one frame into the mirror and returns its event name.
// Frames without an envelope are read as full state dumps from older
// servers when they carry state fields, and rejected otherwise.
func (m *Mirror) Apply(data []byte) (string, error) {
	var env struct {
		Event   *string         `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == nil {
		return EventLegacyState, m.applySnapshot(data)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch *env.Event {
	case bridge.EventInitialState:
		var st bridge.InitialState
		if err := json.Unmarshal(env.Payload, &st); err != nil {
			return *env.Event, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		m.state = st
		m.synced = true
		return *env.Event, nil
	case bridge.EventAck, bridge.EventError:
		return *env.Event, nil
	}
	if !m.synced {
		return *env.Event, ErrNotSynced
	}
	return *env.Event, m.applyDelta(*env.Event, env.Payload)
}

func (m *Mirror) applySnapshot(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	known := slices.ContainsFunc(legacyKeys, func(k string) bool {
		_, ok := fields[k]
		return ok
	})
	if !known {
		return fmt.Errorf("%w: no event and no state fields", ErrMalformed)
	}
	var st bridge.InitialState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if st.SwitchBinary == "" {
		st.SwitchBinary = fmt.Sprintf("%08b", st.SwitchValue)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.synced = true
	return nil
}

// applyDelta runs with m.mu held.
func (m *Mirror) applyDelta(event string, raw json.RawMessage) error {
	switch event {
	case bridge.EventLEDChanged:
		var p struct {
			LEDID string `json:"led_id"`
			State string `json:"state"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		lit := p.State == "on"
		switch sdk.LEDID(p.LEDID) {
		case sdk.LEDRed:
			m.state.LEDRed = lit
		case sdk.LEDYellow:
			m.state.LEDYellow = lit
		case sdk.LEDGreen:
			m.state.LEDGreen = lit
		case sdk.LEDBlue:
			m.state.LEDBlue = lit
		default:
			return fmt.Errorf("%w: unknown led %q", ErrMalformed, p.LEDID)
		}
	case bridge.EventDisplayChanged:
		var p struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		m.state.Display = p.Value
	case bridge.EventSwitchChanged:
		var p struct {
			Value  int    `json:"value"`
			Binary string `json:"binary"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		m.state.SwitchValue = p.Value
		m.state.SwitchBinary = fmt.Sprintf("%08b", p.Value)
	case bridge.EventScreenChanged:
		var p struct {
			Details map[string]any `json:"details"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		text, _ := p.Details["text"].(string)
		delete(p.Details, "text")
		if len(p.Details) == 0 {
			p.Details = nil
		}
		m.state.ScreenContent = text
		m.state.ScreenDetails = p.Details
	case bridge.EventButtonPressed:
		var p struct {
			ButtonID string `json:"button_id"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		m.lastButton = p.ButtonID
	}
	return nil
}

// Format renders st as one terminal line.
func Format(st bridge.InitialState) string {
	led := func(name string, lit bool) string {
		if lit {
			return strings.ToUpper(name)
		}
		return strings.ToLower(name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "leds[%s %s %s %s] display[%s] switch[%3d %s] screen[%q",
		led("r", st.LEDRed), led("y", st.LEDYellow), led("g", st.LEDGreen), led("b", st.LEDBlue),
		st.Display, st.SwitchValue, st.SwitchBinary, st.ScreenContent)
	keys := make([]string, 0, len(st.ScreenDetails))
	for k := range st.ScreenDetails {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, st.ScreenDetails[k])
	}
	b.WriteString("]")
	return b.String()
}
