package sdk

import "context"

// App is a mini-application launched against the hardware.
// Run blocks until the app finishes or ctx is cancelled.
type App interface {
	Name() string
	Run(ctx context.Context, hw Context) error
}
