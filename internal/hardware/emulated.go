package hardware

import (
	"context"
	"errors"
	"fmt"

	"github.com/launchbox/launchbox/pkg/sdk"
	"go.uber.org/zap"
)

var (
	ErrUnknownButton      = errors.New("hardware: unknown button")
	ErrSwitchOutOfRange   = errors.New("hardware: switch value out of range")
	ErrBackendUnavailable = errors.New("hardware: backend unavailable")
)

// Commander accepts remote input commands. Only the Emulated variant
// implements it; physical inputs cannot be driven over the network.
type Commander interface {
	SimulatePress(ctx context.Context, id sdk.ButtonID) error
	SimulateSwitchSet(ctx context.Context, v int) error
}

// Emulated is a Mock whose inputs are also driven by remote commands.
type Emulated struct {
	*Mock
}

var (
	_ Backend   = (*Emulated)(nil)
	_ Commander = (*Emulated)(nil)
)

func NewEmulated(log *zap.Logger, bus Sequencer) *Emulated {
	return &Emulated{Mock: newMock(NewBoard(log, bus, string(KindEmulated)))}
}

func (e *Emulated) Kind() Kind { return KindEmulated }

// SimulatePress performs a momentary press of id. The mutation is skipped
// entirely when ctx is already done.
func (e *Emulated) SimulatePress(ctx context.Context, id sdk.ButtonID) error {
	if _, ok := e.buttons[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownButton, id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.board.tap(id)
	return nil
}

// SimulateSwitchSet rejects values outside [0,255] rather than clamping them.
func (e *Emulated) SimulateSwitchSet(ctx context.Context, v int) error {
	if v < sdk.SwitchMin || v > sdk.SwitchMax {
		return fmt.Errorf("%w: %d", ErrSwitchOutOfRange, v)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.board.setSwitch(v)
	return nil
}
