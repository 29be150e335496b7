package hardware

import (
	"fmt"

	"github.com/launchbox/launchbox/internal/config"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// hostPins initializes the host drivers and returns the pin registry lookup.
var hostPins = func() (PinLookup, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: host init: %v", ErrBackendUnavailable, err)
	}
	return gpioreg.ByName, nil
}

// Probe selects the backend variant once at startup. In auto mode a
// physical board that cannot be opened falls back to the emulated variant.
func Probe(log *zap.Logger, bus Sequencer, cfg config.Hardware) (Backend, error) {
	switch cfg.Mode {
	case config.ModeMock:
		return NewMock(log, bus), nil
	case config.ModeEmulated:
		return NewEmulated(log, bus), nil
	}

	p, err := openPhysical(log, bus, cfg)
	if err == nil {
		log.Info("using physical hardware")
		return p, nil
	}
	if cfg.Mode == config.ModePhysical {
		return nil, err
	}
	log.Warn("physical hardware unavailable, falling back to emulated", zap.Error(err))
	return NewEmulated(log, bus), nil
}

func openPhysical(log *zap.Logger, bus Sequencer, cfg config.Hardware) (*Physical, error) {
	lookup, err := hostPins()
	if err != nil {
		return nil, err
	}
	return NewPhysical(log, bus, cfg, lookup)
}
