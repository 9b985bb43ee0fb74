package ipc

import "fmt"

// Actions understood by the daemon.
const (
	ActionPing        = "ping"
	ActionStatus      = "status"
	ActionListWindows = "list-windows"
	ActionListSinks   = "list-sinks"
	ActionTestRule    = "test-rule"
	ActionReload      = "reload"
	ActionShutdown    = "shutdown"
	ActionSetSink     = "set-sink"
	ActionNextSink    = "next-sink"
	ActionPrevSink    = "prev-sink"
)

// Request is the single request shape; fields not used by an action are empty.
type Request struct {
	Action string `cbor:"action"`
	Sink   string `cbor:"sink,omitempty"`
	AppID  string `cbor:"app_id,omitempty"`
	Title  string `cbor:"title,omitempty"`
}

// Response is the envelope for every reply. Data holds the action's
// CBOR-encoded result when OK is true.
type Response struct {
	OK    bool       `cbor:"ok"`
	Error string     `cbor:"error,omitempty"`
	Data  RawMessage `cbor:"data,omitempty"`
}

// RemoteError is a failure reported by the daemon for an action.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// PingInfo answers ping.
type PingInfo struct {
	Version string `cbor:"version"`
	PID     int    `cbor:"pid"`
}

// StatusInfo answers status.
type StatusInfo struct {
	Version        string `cbor:"version"`
	PID            int    `cbor:"pid"`
	UptimeSeconds  int64  `cbor:"uptime_seconds"`
	ConfigPath     string `cbor:"config_path"`
	EventSource    string `cbor:"event_source"`
	Priority       string `cbor:"priority"`
	CurrentSink    string `cbor:"current_sink,omitempty"`
	CurrentDesc    string `cbor:"current_desc,omitempty"`
	TargetSink     string `cbor:"target_sink,omitempty"`
	TargetRule     string `cbor:"target_rule,omitempty"`
	TrackedWindows int    `cbor:"tracked_windows"`
	Rules          int    `cbor:"rules"`
	Sinks          int    `cbor:"sinks"`
	DeviceLocks    int    `cbor:"device_locks"`
	AudioServer    string `cbor:"audio_server,omitempty"`
}

// WindowInfo is one tracked window in list-windows and test-rule replies.
type WindowInfo struct {
	ID        string `cbor:"id"`
	AppID     string `cbor:"app_id"`
	Title     string `cbor:"title"`
	Matched   bool   `cbor:"matched"`
	RuleIndex int    `cbor:"rule_index,omitempty"`
	Rule      string `cbor:"rule,omitempty"`
	Sink      string `cbor:"sink,omitempty"`
}

// SinkInfo is one configured sink in list-sinks replies.
type SinkInfo struct {
	Index     int    `cbor:"index"` // 1-based, usable as a set-sink reference
	Name      string `cbor:"name"`
	Desc      string `cbor:"desc,omitempty"`
	Icon      string `cbor:"icon,omitempty"`
	Default   bool   `cbor:"default"`
	Active    bool   `cbor:"active"`
	Available bool   `cbor:"available"`
}

// SinkList answers list-sinks.
type SinkList struct {
	Sinks []SinkInfo `cbor:"sinks"`
	// Error is set when the audio graph could not be queried; Available
	// is false for every sink in that case.
	Error string `cbor:"error,omitempty"`
}

// ActivationInfo answers set-sink, next-sink and prev-sink.
type ActivationInfo struct {
	ID         string `cbor:"id"`
	Sink       string `cbor:"sink"`
	Desc       string `cbor:"desc,omitempty"`
	Outcome    string `cbor:"outcome"`
	DurationMs int64  `cbor:"duration_ms"`
}

// ReloadInfo answers reload.
type ReloadInfo struct {
	Rules int `cbor:"rules"`
	Sinks int `cbor:"sinks"`
}
