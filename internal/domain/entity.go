// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// WindowID identifies a top-level window for as long as it stays open.
// IDs are never reused while a window is tracked.
type WindowID uint64

// String formats the id the way the compositor reports it (hex).
func (id WindowID) String() string {
	return strconv.FormatUint(uint64(id), 16)
}

// TrackedWindow is an open window known to the match engine.
type TrackedWindow struct {
	ID        WindowID
	AppID     string
	Title     string
	OpenedSeq uint64 // Bumped on open and on every change; higher is more recent
}

// WindowEventKind is the type of a normalized compositor event.
type WindowEventKind string

const (
	WindowOpened  WindowEventKind = "opened"
	WindowChanged WindowEventKind = "changed"
	WindowClosed  WindowEventKind = "closed"
)

// WindowEvent is a single normalized event from the window event source.
// AppID and Title are empty for close events.
type WindowEvent struct {
	Kind  WindowEventKind
	ID    WindowID
	AppID string
	Title string
}

// WindowStatus is a tracked window together with the rule it matched, if any.
type WindowStatus struct {
	ID        WindowID
	AppID     string
	Title     string
	Matched   bool
	RuleIndex int
	RuleDesc  string
	SinkName  string
	OpenedSeq uint64
}

// SinkRefKind says how a SinkRef names a configured sink.
type SinkRefKind int

const (
	SinkRefName SinkRefKind = iota
	SinkRefDesc
	SinkRefIndex
)

// SinkRef identifies a configured sink by node name, description or
// 1-based position in the sink list.
type SinkRef struct {
	Kind  SinkRefKind
	Value string
	Index int
}

// String returns a human-readable form of the reference.
func (r SinkRef) String() string {
	switch r.Kind {
	case SinkRefIndex:
		return "#" + strconv.Itoa(r.Index)
	case SinkRefDesc:
		return "desc:" + r.Value
	default:
		return r.Value
	}
}

// ParseSinkRef interprets user input: a positive integer is a position,
// anything else is matched against names first and descriptions second
// (see Config.ResolveSink).
func ParseSinkRef(s string) SinkRef {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return SinkRef{Kind: SinkRefIndex, Index: n}
	}
	return SinkRef{Kind: SinkRefName, Value: s}
}

// SinkConfig is a configured audio output.
type SinkConfig struct {
	Name    string // PipeWire node.name
	Desc    string // Human-readable description
	Default bool   // Exactly one sink per config is the default
	Icon    string

	// Device and Profile optionally pin the profile switch that exposes
	// this node. When empty the profile is derived from ALSA naming.
	Device  string
	Profile string
}

// Label returns the description if set, the node name otherwise.
func (s SinkConfig) Label() string {
	if s.Desc != "" {
		return s.Desc
	}
	return s.Name
}

// Rule maps windows to a sink.
type Rule struct {
	Index        int            // Position in the configured list
	AppIDPattern *regexp.Regexp // Required
	TitlePattern *regexp.Regexp // Optional; nil matches any title
	Sink         SinkRef
	Desc         string
	Notify       *bool // Overrides Settings.NotifyRules when set
}

// Matches reports whether the rule applies to the given window properties.
func (r *Rule) Matches(appID, title string) bool {
	if r.AppIDPattern == nil || !r.AppIDPattern.MatchString(appID) {
		return false
	}
	if r.TitlePattern != nil && !r.TitlePattern.MatchString(title) {
		return false
	}
	return true
}

// Label returns the description if set, the app id pattern otherwise.
func (r *Rule) Label() string {
	if r.Desc != "" {
		return r.Desc
	}
	if r.AppIDPattern != nil {
		return r.AppIDPattern.String()
	}
	return fmt.Sprintf("rule %d", r.Index)
}

// PriorityMode selects how competing matches are resolved.
type PriorityMode string

const (
	// PriorityIndex favours the lowest-indexed matching rule.
	PriorityIndex PriorityMode = "index"
	// PriorityTemporal favours the most recently opened or changed window.
	PriorityTemporal PriorityMode = "temporal"
)

// Settings are the daemon-wide options.
type Settings struct {
	Priority             PriorityMode
	SmartToggle          bool
	NotifyManual         bool
	NotifyRules          bool
	DefaultOnStartup     bool
	LogLevel             string
	ProfileSwitchRetries int
	ProfileSwitchDelay   time.Duration
}

const (
	// DefaultProfileSwitchRetries is how many times a profile switch polls for the node.
	DefaultProfileSwitchRetries = 5
	// DefaultProfileSwitchDelay is the wait between polls.
	DefaultProfileSwitchDelay = 150 * time.Millisecond
)

// DefaultSettings returns settings used when the config leaves them unset.
func DefaultSettings() Settings {
	return Settings{
		Priority:             PriorityTemporal,
		SmartToggle:          true,
		NotifyManual:         true,
		NotifyRules:          true,
		DefaultOnStartup:     false,
		LogLevel:             "info",
		ProfileSwitchRetries: DefaultProfileSwitchRetries,
		ProfileSwitchDelay:   DefaultProfileSwitchDelay,
	}
}

// Config is a validated configuration snapshot. It is never mutated after
// loading; reloads replace the whole value.
type Config struct {
	Path     string
	Settings Settings
	Sinks    []SinkConfig
	Rules    []Rule
}

// DefaultSink returns the sink marked as default.
func (c *Config) DefaultSink() (SinkConfig, bool) {
	for _, s := range c.Sinks {
		if s.Default {
			return s, true
		}
	}
	return SinkConfig{}, false
}

// SinkIndex returns the 0-based position of the sink with the given node
// name, or -1.
func (c *Config) SinkIndex(name string) int {
	for i, s := range c.Sinks {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// CycleSink returns the sink step positions away from current, wrapping
// around the configured list. When current is not configured the walk
// starts from the default sink.
func (c *Config) CycleSink(current string, step int) (SinkConfig, bool) {
	n := len(c.Sinks)
	if n == 0 {
		return SinkConfig{}, false
	}
	i := c.SinkIndex(current)
	if i < 0 {
		def, ok := c.DefaultSink()
		if !ok {
			return c.Sinks[0], true
		}
		i = c.SinkIndex(def.Name)
	}
	return c.Sinks[((i+step)%n+n)%n], true
}

// ResolveSink finds the configured sink a reference points to. Name
// references also fall back to description matching so users can type
// either.
func (c *Config) ResolveSink(ref SinkRef) (SinkConfig, error) {
	switch ref.Kind {
	case SinkRefIndex:
		if ref.Index < 1 || ref.Index > len(c.Sinks) {
			return SinkConfig{}, fmt.Errorf("sink index %d out of range (1-%d)", ref.Index, len(c.Sinks))
		}
		return c.Sinks[ref.Index-1], nil
	case SinkRefName:
		for _, s := range c.Sinks {
			if s.Name == ref.Value {
				return s, nil
			}
		}
		fallthrough
	case SinkRefDesc:
		for _, s := range c.Sinks {
			if s.Desc == ref.Value {
				return s, nil
			}
		}
	}
	return SinkConfig{}, fmt.Errorf("no configured sink matches %q", ref.String())
}

// ActivationReason records why an activation was requested.
type ActivationReason string

const (
	ReasonManual  ActivationReason = "manual"
	ReasonRule    ActivationReason = "rule"
	ReasonStartup ActivationReason = "startup"
)

// ActivationRequest asks the orchestrator to make Target the default sink.
type ActivationRequest struct {
	Target SinkConfig
	Reason ActivationReason
	Rule   *Rule // Matched rule for rule-driven switches, nil otherwise
}

// ActivationOutcome describes what an activation actually did.
type ActivationOutcome string

const (
	OutcomeSwitched      ActivationOutcome = "switched"
	OutcomeProfileSwitch ActivationOutcome = "profile-switched"
	OutcomeAlreadyActive ActivationOutcome = "already-active"
	OutcomeToggledBack   ActivationOutcome = "toggled-back"
	OutcomeFailed        ActivationOutcome = "failed"
)

// ActivationResult is reported back once an activation finishes.
type ActivationResult struct {
	ID        string // Correlation id for logs
	Request   ActivationRequest
	Outcome   ActivationOutcome
	Active    string // Node name active after the attempt
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// AudioNode is a PipeWire sink node.
type AudioNode struct {
	ID          int
	Name        string
	Description string
	DeviceID    int // 0 when the node has no backing device
}

// DeviceProfile is one profile a device can be switched to.
type DeviceProfile struct {
	Index       int
	Name        string
	Description string
	Available   bool
}

// AudioDevice is a physical card.
type AudioDevice struct {
	ID            int
	Name          string
	Description   string
	ActiveProfile int
	Profiles      []DeviceProfile
}

// DeviceSnapshot is a point-in-time view of the audio graph.
type DeviceSnapshot struct {
	DefaultSink string // node.name of the current default sink
	Nodes       []AudioNode
	Devices     []AudioDevice
}

// FindNode returns the sink node with the given name.
func (s *DeviceSnapshot) FindNode(name string) (AudioNode, bool) {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return AudioNode{}, false
}

// Notification is a fire-and-forget desktop notification.
type Notification struct {
	Title string
	Body  string
	Icon  string
}

// ProfilePlan is the profile switch that exposes a sink node.
type ProfilePlan struct {
	DeviceID     int
	DeviceName   string
	ProfileIndex int
	ProfileName  string
}

const (
	alsaCardPrefix   = "alsa_card."
	alsaOutputPrefix = "alsa_output."
	outputPrefix     = "output:"
)

// PlanProfileSwitch works out which device profile has to be activated for
// the sink's node to appear. Pinned Device/Profile settings win; otherwise
// the ALSA naming convention (alsa_card.X exposes alsa_output.X.S through
// profile output:S) is used.
func (s *DeviceSnapshot) PlanProfileSwitch(sink SinkConfig) (ProfilePlan, bool) {
	if sink.Device != "" && sink.Profile != "" {
		for _, d := range s.Devices {
			if d.Name != sink.Device && d.Description != sink.Device {
				continue
			}
			for _, p := range d.Profiles {
				if p.Name == sink.Profile || p.Description == sink.Profile {
					return ProfilePlan{DeviceID: d.ID, DeviceName: d.Name, ProfileIndex: p.Index, ProfileName: p.Name}, true
				}
			}
		}
		return ProfilePlan{}, false
	}

	for _, d := range s.Devices {
		if !strings.HasPrefix(d.Name, alsaCardPrefix) {
			continue
		}
		card := strings.TrimPrefix(d.Name, alsaCardPrefix)
		nodePrefix := alsaOutputPrefix + card + "."
		if !strings.HasPrefix(sink.Name, nodePrefix) {
			continue
		}
		suffix := strings.TrimPrefix(sink.Name, nodePrefix)
		want := outputPrefix + suffix

		var fallback *DeviceProfile
		for i := range d.Profiles {
			p := &d.Profiles[i]
			if p.Name == want {
				return ProfilePlan{DeviceID: d.ID, DeviceName: d.Name, ProfileIndex: p.Index, ProfileName: p.Name}, true
			}
			// Duplex profiles look like output:S+input:T
			if fallback == nil && strings.HasPrefix(p.Name, want+"+") {
				fallback = p
			}
		}
		if fallback != nil {
			return ProfilePlan{DeviceID: d.ID, DeviceName: d.Name, ProfileIndex: fallback.Index, ProfileName: fallback.Name}, true
		}
	}
	return ProfilePlan{}, false
}
