package hardware

import (
	"context"
	"fmt"
	"time"

	"github.com/launchbox/launchbox/internal/config"
	"github.com/launchbox/launchbox/pkg/sdk"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
)

// PinLookup resolves a GPIO name; nil means the pin does not exist.
type PinLookup func(name string) gpio.PinIO

// Physical reads buttons and switches from GPIO inputs and drives LEDs on
// GPIO outputs. The display and screen have no GPIO driver and are mirrored
// in memory.
type Physical struct {
	log      *zap.Logger
	board    *Board
	interval time.Duration
	active   gpio.Level

	buttons  map[sdk.ButtonID]gpio.PinIO
	leds     map[sdk.LEDID]gpio.PinIO
	switches []gpio.PinIO
	devices  sdk.Devices
}

var _ Backend = (*Physical)(nil)

// NewPhysical configures every pin named in cfg. It fails with
// ErrBackendUnavailable when a pin is missing or cannot be configured.
func NewPhysical(log *zap.Logger, bus Sequencer, cfg config.Hardware, lookup PinLookup) (*Physical, error) {
	p := &Physical{
		log:      log,
		board:    NewBoard(log, bus, string(KindPhysical)),
		interval: cfg.PollInterval,
		active:   gpio.Level(cfg.ActiveHigh),
		buttons:  make(map[sdk.ButtonID]gpio.PinIO, len(sdk.Buttons)),
		leds:     make(map[sdk.LEDID]gpio.PinIO, len(sdk.LEDs)),
	}
	pull := gpio.PullUp
	if cfg.ActiveHigh {
		pull = gpio.PullDown
	}
	input := func(name string) (gpio.PinIO, error) {
		pin := lookup(name)
		if pin == nil {
			return nil, fmt.Errorf("%w: no pin %q", ErrBackendUnavailable, name)
		}
		if err := pin.In(pull, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("%w: pin %q: %v", ErrBackendUnavailable, name, err)
		}
		return pin, nil
	}

	for _, id := range sdk.Buttons {
		pin, err := input(cfg.Pins.Buttons[string(id)])
		if err != nil {
			return nil, fmt.Errorf("button %s: %w", id, err)
		}
		p.buttons[id] = pin
	}
	for _, name := range cfg.Pins.Switch {
		pin, err := input(name)
		if err != nil {
			return nil, fmt.Errorf("switch: %w", err)
		}
		p.switches = append(p.switches, pin)
	}
	for _, id := range sdk.LEDs {
		name := cfg.Pins.LEDs[string(id)]
		pin := lookup(name)
		if pin == nil {
			return nil, fmt.Errorf("led %s: %w: no pin %q", id, ErrBackendUnavailable, name)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("led %s: %w: %v", id, ErrBackendUnavailable, err)
		}
		p.leds[id] = pin
	}

	mem := newMock(p.board)
	p.devices = sdk.Devices{
		Buttons: make(map[sdk.ButtonID]sdk.Button, len(sdk.Buttons)),
		LEDs:    make(map[sdk.LEDID]sdk.LED, len(sdk.LEDs)),
		Switch:  mem.devices.Switch,
		Display: mem.devices.Display,
		Screen:  mem.devices.Screen,
	}
	for id := range p.buttons {
		p.devices.Buttons[id] = mem.buttons[id]
	}
	for id, pin := range p.leds {
		p.devices.LEDs[id] = &gpioLED{memLED: memLED{board: p.board, id: id}, pin: pin, log: log}
	}
	p.poll()
	return p, nil
}

func (p *Physical) Kind() Kind           { return KindPhysical }
func (p *Physical) Board() *Board        { return p.board }
func (p *Physical) Devices() sdk.Devices { return p.devices }

// Close turns every LED off.
func (p *Physical) Close() error {
	for id, pin := range p.leds {
		if err := pin.Out(gpio.Low); err != nil {
			p.log.Warn("led off failed", zap.String("led", string(id)), zap.Error(err))
		}
	}
	return nil
}

// Run polls the inputs until ctx is done.
func (p *Physical) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	p.log.Info("polling gpio inputs", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.poll()
		}
	}
}

// poll samples every input once. The eight switch bits are combined before
// the board is touched so no intermediate value is ever published.
func (p *Physical) poll() {
	for id, pin := range p.buttons {
		p.board.setPressed(id, pin.Read() == p.active)
	}
	v := 0
	for bit, pin := range p.switches {
		if pin.Read() == p.active {
			v |= 1 << bit
		}
	}
	p.board.setSwitch(v)
}

// gpioLED writes the pin inside the board's critical section; a failed
// write leaves the recorded state untouched.
type gpioLED struct {
	memLED
	pin gpio.PinIO
	log *zap.Logger
}

func (l *gpioLED) On()  { l.set(true) }
func (l *gpioLED) Off() { l.set(false) }

func (l *gpioLED) set(lit bool) {
	err := l.board.writeLED(l.id, lit, func() error {
		return l.pin.Out(gpio.Level(lit))
	})
	if err != nil {
		l.log.Warn("led write failed", zap.String("led", string(l.id)), zap.Error(err))
	}
}
