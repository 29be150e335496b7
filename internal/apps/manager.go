package apps

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/launchbox/launchbox/pkg/sdk"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

var (
	ErrUnknownApp   = errors.New("apps: unknown app")
	ErrDuplicateApp = errors.New("apps: app already registered")
	ErrNoApps       = errors.New("apps: no apps registered")
)

// Info describes a registered app.
type Info struct {
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Running bool   `json:"running"`
}

type run struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs at most one app at a time.
type Manager struct {
	log     *zap.Logger
	bus     sdk.Bus
	devices sdk.Devices
	apps    *xsync.MapOf[string, sdk.App]

	mu       sync.Mutex
	order    []string
	current  *run
	launcher sdk.Subscription
}

func NewManager(log *zap.Logger, bus sdk.Bus, devices sdk.Devices) *Manager {
	return &Manager{
		log:     log,
		bus:     bus,
		devices: devices,
		apps:    xsync.NewMapOf[string, sdk.App](),
	}
}

func (m *Manager) Register(app sdk.App) error {
	if _, loaded := m.apps.LoadOrStore(app.Name(), app); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateApp, app.Name())
	}
	m.mu.Lock()
	m.order = append(m.order, app.Name())
	m.mu.Unlock()
	m.log.Info("app registered", zap.String("name", app.Name()))
	return nil
}

func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	running := m.runningLocked()
	out := make([]Info, 0, len(m.order))
	for i, name := range m.order {
		out = append(out, Info{Name: name, Index: i, Running: name == running})
	}
	return out
}

// Current returns the running app's name, or "".
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

func (m *Manager) runningLocked() string {
	if m.current == nil {
		return ""
	}
	select {
	case <-m.current.done:
		return ""
	default:
		return m.current.name
	}
}

// Start stops whatever is running, waits for it to exit, and launches name.
func (m *Manager) Start(name string) error {
	app, ok := m.apps.Load(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApp, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{name: name, cancel: cancel, done: make(chan struct{})}
	m.current = r
	log := m.log.With(zap.String("app", name))
	hw := newAppContext(log, m.bus, m.devices)

	m.publish(sdk.TopicAppStarted, sdk.Payload{"name": name})
	go func() {
		defer close(r.done)
		err := m.runApp(ctx, app, hw)
		payload := sdk.Payload{"name": name}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("app failed", zap.Error(err))
			payload["error"] = err.Error()
		}
		m.publish(sdk.TopicAppStopped, payload)
	}()
	return nil
}

func (m *Manager) runApp(ctx context.Context, app sdk.App, hw sdk.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("app panicked: %v", r)
		}
	}()
	return app.Run(ctx, hw)
}

// Stop ends the running app, if any, and waits for it.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.current == nil {
		return
	}
	m.current.cancel()
	<-m.current.done
	m.current = nil
}

// BindLauncher makes the main button launch the app whose index is the
// switch value modulo the number of apps.
func (m *Manager) BindLauncher() error {
	sub, err := m.bus.Subscribe(sdk.TopicButtonPressed, func(ev sdk.Event) {
		if id, _ := ev.Payload["button_id"].(string); id != string(sdk.ButtonMain) {
			return
		}
		if err := m.Launch(m.devices.Switch.Value()); err != nil {
			m.log.Warn("launch failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.launcher = sub
	m.mu.Unlock()
	return nil
}

// Launch starts the app at index modulo the app count.
func (m *Manager) Launch(index int) error {
	m.mu.Lock()
	n := len(m.order)
	var name string
	if n > 0 {
		name = m.order[(index%n+n)%n]
	}
	m.mu.Unlock()
	if n == 0 {
		return ErrNoApps
	}
	return m.Start(name)
}

func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.launcher != nil {
		m.launcher.Unsubscribe()
		m.launcher = nil
	}
	m.mu.Unlock()
	m.Stop()
}

func (m *Manager) publish(topic sdk.Topic, payload sdk.Payload) {
	if _, err := m.bus.Publish(topic, "apps", payload); err != nil {
		m.log.Debug("publish failed", zap.String("topic", topic.String()), zap.Error(err))
	}
}
