package apps

import (
	"context"
	"fmt"
	"time"

	"github.com/launchbox/launchbox/internal/hardware"
	"github.com/launchbox/launchbox/pkg/sdk"
)

// Builtin returns the apps shipped with the service, in launcher order.
func Builtin() []sdk.App {
	return []sdk.App{Binary{}, Blink{Interval: 500 * time.Millisecond}}
}

// Binary mirrors the switch bank on the display (decimal) and the screen
// (binary).
type Binary struct{}

func (Binary) Name() string { return "binary" }

func (Binary) Run(ctx context.Context, hw sdk.Context) error {
	dev := hw.Devices()
	show := func() {
		v := dev.Switch.Value()
		dev.Display.Show(fmt.Sprintf("%4d", v))
		dev.Screen.Render(sdk.ScreenContent{Text: hardware.SwitchBinary(v)})
	}
	sub, err := hw.Bus().Subscribe(sdk.TopicSwitchChanged, func(sdk.Event) { show() })
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	show()
	<-ctx.Done()
	return ctx.Err()
}

// Blink walks a single lit LED across the board.
type Blink struct {
	Interval time.Duration
}

func (Blink) Name() string { return "blink" }

func (b Blink) Run(ctx context.Context, hw sdk.Context) error {
	dev := hw.Devices()
	leds := make([]sdk.LED, 0, len(sdk.LEDs))
	for _, id := range sdk.LEDs {
		if l, ok := dev.LEDs[id]; ok {
			leds = append(leds, l)
		}
	}
	if len(leds) == 0 {
		return fmt.Errorf("blink: no leds")
	}
	defer func() {
		for _, l := range leds {
			l.Off()
		}
	}()

	t := time.NewTicker(b.Interval)
	defer t.Stop()
	i := 0
	for {
		for j, l := range leds {
			if j == i {
				l.On()
			} else {
				l.Off()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			i = (i + 1) % len(leds)
		}
	}
}
