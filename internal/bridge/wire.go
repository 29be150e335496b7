package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/launchbox/launchbox/internal/hardware"
	"github.com/launchbox/launchbox/pkg/sdk"
)

// Wire event names sent to clients.
const (
	EventInitialState   = "initial_state"
	EventLEDChanged     = "led_changed"
	EventDisplayChanged = "display_changed"
	EventSwitchChanged  = "switch_changed"
	EventScreenChanged  = "screen_changed"
	EventButtonPressed  = "button_pressed"
	EventButtonReleased = "button_released"
	EventAck            = "ack"
	EventError          = "error"
)

// Command names accepted from clients.
const (
	CommandPressButton = "press_button"
	CommandSetSwitch   = "set_switch"
)

var (
	ErrInvalidCommand      = errors.New("bridge: invalid command")
	ErrUnknownButton       = hardware.ErrUnknownButton
	ErrSwitchOutOfRange    = hardware.ErrSwitchOutOfRange
	ErrCommandsUnavailable = errors.New("bridge: remote commands unavailable on this hardware")
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// InitialState is the snapshot sent once per connection before any delta.
type InitialState struct {
	LEDRed        bool           `json:"led_red"`
	LEDYellow     bool           `json:"led_yellow"`
	LEDGreen      bool           `json:"led_green"`
	LEDBlue       bool           `json:"led_blue"`
	Display       string         `json:"display"`
	SwitchValue   int            `json:"switch_value"`
	SwitchBinary  string         `json:"switch_binary"`
	ScreenContent string         `json:"screen_content"`
	ScreenDetails map[string]any `json:"screen_details,omitempty"`
}

func NewInitialState(st hardware.State) InitialState {
	return InitialState{
		LEDRed:        st.LEDs[sdk.LEDRed],
		LEDYellow:     st.LEDs[sdk.LEDYellow],
		LEDGreen:      st.LEDs[sdk.LEDGreen],
		LEDBlue:       st.LEDs[sdk.LEDBlue],
		Display:       st.Display,
		SwitchValue:   st.Switch,
		SwitchBinary:  hardware.SwitchBinary(st.Switch),
		ScreenContent: st.Screen.Text,
		ScreenDetails: st.Screen.Details,
	}
}

var wireNames = map[sdk.Topic]string{
	sdk.TopicLEDChanged:     EventLEDChanged,
	sdk.TopicDisplayUpdated: EventDisplayChanged,
	sdk.TopicSwitchChanged:  EventSwitchChanged,
	sdk.TopicScreenUpdated:  EventScreenChanged,
	sdk.TopicButtonPressed:  EventButtonPressed,
	sdk.TopicButtonReleased: EventButtonReleased,
}

// forwarded reports whether a bus topic is mirrored to clients.
func forwarded(t sdk.Topic) bool {
	return t.Matches(sdk.PrefixInput+".*") || t.Matches(sdk.PrefixOutput+".*")
}

// EncodeEvent renders a bus event as a wire frame. Topics without a
// dedicated wire name travel under the topic itself.
func EncodeEvent(ev sdk.Event) ([]byte, error) {
	name, ok := wireNames[ev.Topic]
	if !ok {
		name = ev.Topic.String()
	}
	payload := ev.Payload
	if payload == nil {
		payload = sdk.Payload{}
	}
	return json.Marshal(Message{Event: name, Payload: payload})
}

func encode(event string, payload any) []byte {
	b, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		// payloads are built from plain maps and strings
		panic(fmt.Sprintf("bridge: encode %s: %v", event, err))
	}
	return b
}

// Command is a validated remote input command.
type Command struct {
	Name   string
	Button sdk.ButtonID
	Value  int
}

// PressButton builds a press command, validating id.
func PressButton(id string) (Command, error) {
	bid, ok := sdk.ParseButtonID(strings.ToLower(strings.TrimSpace(id)))
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownButton, id)
	}
	return Command{Name: CommandPressButton, Button: bid}, nil
}

// SetSwitch builds a switch command, validating the range.
func SetSwitch(v int) (Command, error) {
	if v < sdk.SwitchMin || v > sdk.SwitchMax {
		return Command{}, fmt.Errorf("%w: %d", ErrSwitchOutOfRange, v)
	}
	return Command{Name: CommandSetSwitch, Value: v}, nil
}

// ParseCommand decodes and validates one inbound frame.
func ParseCommand(data []byte) (Command, error) {
	var env struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	switch env.Event {
	case CommandPressButton:
		var p struct {
			ButtonID *string `json:"button_id"`
		}
		if err := decodePayload(env.Payload, &p); err != nil || p.ButtonID == nil {
			return Command{}, fmt.Errorf("%w: press_button needs button_id", ErrInvalidCommand)
		}
		return PressButton(*p.ButtonID)
	case CommandSetSwitch:
		var p struct {
			Value *int `json:"value"`
		}
		if err := decodePayload(env.Payload, &p); err != nil || p.Value == nil {
			return Command{}, fmt.Errorf("%w: set_switch needs an integer value", ErrInvalidCommand)
		}
		return SetSwitch(*p.Value)
	case "":
		return Command{}, fmt.Errorf("%w: missing event", ErrInvalidCommand)
	default:
		return Command{}, fmt.Errorf("%w: unknown event %q", ErrInvalidCommand, env.Event)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errors.New("empty payload")
	}
	return json.Unmarshal(raw, v)
}
