package domain

import "context"

// AudioController is the narrow synchronous adapter over the external audio
// control tool. Every call may block on a subprocess.
// Implementation: pw-dump + wpctl.
type AudioController interface {
	// QueryState returns the current default sink, sink nodes and devices.
	QueryState(ctx context.Context) (*DeviceSnapshot, error)

	// SetDefault makes the node the default sink.
	SetDefault(ctx context.Context, node AudioNode) error

	// SetProfile switches a device to the profile with the given index.
	SetProfile(ctx context.Context, deviceID int, profileIndex int) error
}

// Notifier delivers desktop notifications. Notify must not block.
type Notifier interface {
	Notify(n Notification)
}

// WindowEventSource produces the normalized window event stream.
// Run sends events to out until ctx is cancelled or the source fails.
// Sends block when out is full; the source never drops events.
type WindowEventSource interface {
	// Name returns the source name for logs (e.g., "hyprland").
	Name() string

	// Run streams events. It returns ErrEventSourceUnsupported (wrapped)
	// when the compositor cannot provide them.
	Run(ctx context.Context, out chan<- WindowEvent) error
}

// ConfigLoader loads and validates a configuration snapshot.
type ConfigLoader interface {
	// Load returns a validated config or a *ConfigError.
	Load() (*Config, error)

	// Path returns the config file path.
	Path() string
}

// ProcessManager handles OS process lookups.
// Implementation: uses gopsutil.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// IsRunning checks if a PID exists.
	IsRunning(pid int) bool
}

// SinkActivator schedules activations off the event loop.
type SinkActivator interface {
	// Submit runs the request on the activation pool and calls done with
	// the result once it finishes. done is called from a pool goroutine.
	Submit(req ActivationRequest, done func(ActivationResult))

	// CurrentSink returns the node name believed to be active, or "".
	CurrentSink() string
}

// ServiceManager installs the daemon as a login service.
// Implementation: systemd user unit.
type ServiceManager interface {
	// Install writes the service definition and starts it.
	Install(ctx context.Context, execPath string) error

	// Update rewrites the service definition and restarts it.
	Update(ctx context.Context, execPath string) error

	// Uninstall stops the service and removes its definition.
	Uninstall(ctx context.Context) error

	// IsInstalled checks if the service definition exists.
	IsInstalled() bool

	// NeedsUpdate reports whether the installed definition is stale.
	NeedsUpdate(execPath string) bool
}
