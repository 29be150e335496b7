package sdk

// ButtonID names one of the physical push buttons.
type ButtonID string

const (
	ButtonRed    ButtonID = "red"
	ButtonYellow ButtonID = "yellow"
	ButtonGreen  ButtonID = "green"
	ButtonBlue   ButtonID = "blue"
	ButtonMain   ButtonID = "main"
)

// Buttons lists every button in board order.
var Buttons = []ButtonID{ButtonRed, ButtonYellow, ButtonGreen, ButtonBlue, ButtonMain}

// LEDID names one of the four LEDs.
type LEDID string

const (
	LEDRed    LEDID = "red"
	LEDYellow LEDID = "yellow"
	LEDGreen  LEDID = "green"
	LEDBlue   LEDID = "blue"
)

// LEDs lists every LED in board order.
var LEDs = []LEDID{LEDRed, LEDYellow, LEDGreen, LEDBlue}

// ParseButtonID validates s against the known button ids.
func ParseButtonID(s string) (ButtonID, bool) {
	for _, id := range Buttons {
		if string(id) == s {
			return id, true
		}
	}
	return "", false
}

// Switch bank bounds.
const (
	SwitchMin = 0
	SwitchMax = 255
)

// DisplayWidth is the fixed character count of the segment display.
const DisplayWidth = 4

type Button interface {
	ID() ButtonID
	IsPressed() bool
}

// SwitchBank is an 8-bit bank of toggle switches.
type SwitchBank interface {
	Value() int
	// Set clamps v to [0,255] and applies it atomically.
	Set(v int)
}

type LED interface {
	ID() LEDID
	On()
	Off()
	IsLit() bool
}

// SegmentDisplay shows exactly DisplayWidth characters.
type SegmentDisplay interface {
	Show(text string)
	Text() string
}

// ScreenContent is either plain text or a structured drawable description.
// Details holds drawable fields other than the text.
type ScreenContent struct {
	Text    string         `json:"text,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Fields flattens the content into the wire "details" object.
func (c ScreenContent) Fields() map[string]any {
	out := make(map[string]any, len(c.Details)+1)
	for k, v := range c.Details {
		out[k] = v
	}
	if c.Text != "" {
		out["text"] = c.Text
	}
	return out
}

type Screen interface {
	Render(content ScreenContent)
	Content() ScreenContent
}

// Devices bundles one instance of every capability.
type Devices struct {
	Buttons map[ButtonID]Button
	LEDs    map[LEDID]LED
	Switch  SwitchBank
	Display SegmentDisplay
	Screen  Screen
}
