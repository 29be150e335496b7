package apps

import (
	"github.com/launchbox/launchbox/pkg/sdk"
	"go.uber.org/zap"
)

type appContext struct {
	log     *zap.Logger
	bus     sdk.Bus
	devices sdk.Devices
}

func newAppContext(log *zap.Logger, bus sdk.Bus, devices sdk.Devices) sdk.Context {
	return &appContext{log: log, bus: bus, devices: devices}
}

func (c *appContext) Log() *zap.Logger     { return c.log }
func (c *appContext) Bus() sdk.Bus         { return c.bus }
func (c *appContext) Devices() sdk.Devices { return c.devices }
