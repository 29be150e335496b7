package sdk

import "go.uber.org/zap"

// Context is handed to a running App.
type Context interface {
	Log() *zap.Logger
	Bus() Bus
	Devices() Devices
}
