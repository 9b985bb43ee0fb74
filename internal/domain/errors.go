package domain

import (
	"errors"
	"fmt"
)

// ConfigError reports a malformed or invalid configuration. A reload that
// fails with ConfigError leaves the previous configuration in place.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid config: %v", e.Err)
	}
	return fmt.Sprintf("invalid config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ActivationErrorKind classifies orchestrator failures.
type ActivationErrorKind string

const (
	// ToolFailure means the external control tool was missing or exited non-zero.
	ToolFailure ActivationErrorKind = "tool-failure"
	// ProfileSwitchTimeout means the node never appeared after a profile switch.
	ProfileSwitchTimeout ActivationErrorKind = "profile-switch-timeout"
	// SinkUnavailable means the node is absent and no device profile exposes it.
	SinkUnavailable ActivationErrorKind = "sink-unavailable"
)

// ActivationError is returned by the orchestrator. The current sink belief
// is never changed when an ActivationError is returned.
type ActivationError struct {
	Kind ActivationErrorKind
	Sink string
	Err  error
}

func (e *ActivationError) Error() string {
	switch e.Kind {
	case ProfileSwitchTimeout:
		return fmt.Sprintf("activating %s: node did not appear after profile switch: %v", e.Sink, e.Err)
	case SinkUnavailable:
		return fmt.Sprintf("activating %s: sink not present and no device profile provides it", e.Sink)
	default:
		return fmt.Sprintf("activating %s: %v", e.Sink, e.Err)
	}
}

func (e *ActivationError) Unwrap() error { return e.Err }

// IsActivationKind reports whether err is an ActivationError of the given kind.
func IsActivationKind(err error, kind ActivationErrorKind) bool {
	var ae *ActivationError
	return errors.As(err, &ae) && ae.Kind == kind
}

// ToolError describes a failed external tool invocation.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s %v: %v: %s", e.Tool, e.Args, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s %v: %v", e.Tool, e.Args, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// SocketOwnershipError means a pre-existing path at the socket location is
// not a socket owned by the current user. The daemon refuses to touch it.
type SocketOwnershipError struct {
	Path   string
	Reason string
}

func (e *SocketOwnershipError) Error() string {
	return fmt.Sprintf("refusing to replace %s: %s", e.Path, e.Reason)
}

var (
	// ErrAlreadyRunning means another daemon answered on the socket.
	ErrAlreadyRunning = errors.New("daemon is already running")

	// ErrEventSourceUnsupported means the compositor does not offer the
	// window event protocol the daemon needs.
	ErrEventSourceUnsupported = errors.New("window event source unsupported by this compositor")
)
