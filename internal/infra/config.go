package infra

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

// MaxPatternLength bounds rule regexes.
const MaxPatternLength = 1024

// ConfigFormat is a supported config file syntax.
type ConfigFormat string

const (
	FormatTOML ConfigFormat = "toml"
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json" // Comments and trailing commas allowed
)

// FormatForPath picks the format from the file extension (TOML when unknown).
func FormatForPath(path string) ConfigFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json", ".jsonc":
		return FormatJSON
	default:
		return FormatTOML
	}
}

type rawConfig struct {
	Settings rawSettings `toml:"settings" yaml:"settings" json:"settings"`
	Sinks    []rawSink   `toml:"sinks" yaml:"sinks" json:"sinks"`
	Rules    []rawRule   `toml:"rules" yaml:"rules" json:"rules"`
}

type rawSettings struct {
	Priority             *string `toml:"priority" yaml:"priority" json:"priority"`
	MatchByIndex         *bool   `toml:"match_by_index" yaml:"match_by_index" json:"match_by_index"`
	SmartToggle          *bool   `toml:"smart_toggle" yaml:"smart_toggle" json:"smart_toggle"`
	NotifyManual         *bool   `toml:"notify_manual" yaml:"notify_manual" json:"notify_manual"`
	NotifyRules          *bool   `toml:"notify_rules" yaml:"notify_rules" json:"notify_rules"`
	DefaultOnStartup     *bool   `toml:"default_on_startup" yaml:"default_on_startup" json:"default_on_startup"`
	LogLevel             *string `toml:"log_level" yaml:"log_level" json:"log_level"`
	ProfileSwitchRetries *int    `toml:"profile_switch_retries" yaml:"profile_switch_retries" json:"profile_switch_retries"`
	ProfileSwitchDelayMs *int    `toml:"profile_switch_delay_ms" yaml:"profile_switch_delay_ms" json:"profile_switch_delay_ms"`
}

type rawSink struct {
	Name    string `toml:"name" yaml:"name" json:"name"`
	Desc    string `toml:"desc" yaml:"desc" json:"desc"`
	Default bool   `toml:"default" yaml:"default" json:"default"`
	Icon    string `toml:"icon" yaml:"icon" json:"icon"`
	Device  string `toml:"device" yaml:"device" json:"device"`
	Profile string `toml:"profile" yaml:"profile" json:"profile"`
}

type rawRule struct {
	AppID  string `toml:"app_id" yaml:"app_id" json:"app_id"`
	Title  string `toml:"title" yaml:"title" json:"title"`
	Sink   any    `toml:"sink" yaml:"sink" json:"sink"` // name, description or 1-based index
	Desc   string `toml:"desc" yaml:"desc" json:"desc"`
	Notify *bool  `toml:"notify" yaml:"notify" json:"notify"`
}

// FileConfigLoader implements domain.ConfigLoader for a config file.
type FileConfigLoader struct {
	path string
}

// NewFileConfigLoader creates a loader for path.
func NewFileConfigLoader(path string) *FileConfigLoader {
	return &FileConfigLoader{path: ExpandHome(path)}
}

// Load reads and validates the file.
func (l *FileConfigLoader) Load() (*domain.Config, error) {
	return LoadConfig(l.path)
}

// Path returns the config file path.
func (l *FileConfigLoader) Path() string {
	return l.path
}

// Ensure FileConfigLoader implements domain.ConfigLoader.
var _ domain.ConfigLoader = (*FileConfigLoader)(nil)

// LoadConfig reads, parses and validates a config file. All failures are
// returned as *domain.ConfigError.
func LoadConfig(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Path: path, Err: err}
	}
	cfg, err := ParseConfig(data, FormatForPath(path))
	if err != nil {
		return nil, &domain.ConfigError{Path: path, Err: err}
	}
	cfg.Path = path
	return cfg, nil
}

// ParseConfig parses and validates config data.
func ParseConfig(data []byte, format ConfigFormat) (*domain.Config, error) {
	var raw rawConfig
	if err := decodeConfig(data, format, &raw); err != nil {
		return nil, err
	}
	return buildConfig(&raw)
}

func decodeConfig(data []byte, format ConfigFormat, raw *rawConfig) error {
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(raw); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(raw); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse json: %w", err)
		}
	default:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(raw); err != nil {
			return fmt.Errorf("failed to parse toml: %w", err)
		}
	}
	return nil
}

func buildConfig(raw *rawConfig) (*domain.Config, error) {
	settings, err := buildSettings(raw.Settings)
	if err != nil {
		return nil, err
	}

	cfg := &domain.Config{Settings: settings}

	if len(raw.Sinks) == 0 {
		return nil, errors.New("at least one sink must be configured")
	}
	names := make(map[string]bool, len(raw.Sinks))
	defaults := 0
	for i, s := range raw.Sinks {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("sink %d: name is required", i+1)
		}
		if names[s.Name] {
			return nil, fmt.Errorf("sink %d: duplicate name %q", i+1, s.Name)
		}
		if (s.Device == "") != (s.Profile == "") {
			return nil, fmt.Errorf("sink %d: device and profile must be set together", i+1)
		}
		names[s.Name] = true
		if s.Default {
			defaults++
		}
		cfg.Sinks = append(cfg.Sinks, domain.SinkConfig{
			Name:    s.Name,
			Desc:    s.Desc,
			Default: s.Default,
			Icon:    s.Icon,
			Device:  s.Device,
			Profile: s.Profile,
		})
	}
	if defaults != 1 {
		return nil, fmt.Errorf("exactly one sink must be marked default, found %d", defaults)
	}

	for i, r := range raw.Rules {
		rule, err := buildRule(cfg, i, r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		cfg.Rules = append(cfg.Rules, rule)
	}
	return cfg, nil
}

func buildSettings(raw rawSettings) (domain.Settings, error) {
	s := domain.DefaultSettings()

	if raw.MatchByIndex != nil && *raw.MatchByIndex {
		s.Priority = domain.PriorityIndex
	}
	if raw.Priority != nil {
		switch p := domain.PriorityMode(strings.ToLower(*raw.Priority)); p {
		case domain.PriorityIndex, domain.PriorityTemporal:
			s.Priority = p
		default:
			return s, fmt.Errorf("settings.priority: unknown mode %q (want %q or %q)", *raw.Priority, domain.PriorityIndex, domain.PriorityTemporal)
		}
	}
	if raw.SmartToggle != nil {
		s.SmartToggle = *raw.SmartToggle
	}
	if raw.NotifyManual != nil {
		s.NotifyManual = *raw.NotifyManual
	}
	if raw.NotifyRules != nil {
		s.NotifyRules = *raw.NotifyRules
	}
	if raw.DefaultOnStartup != nil {
		s.DefaultOnStartup = *raw.DefaultOnStartup
	}
	if raw.LogLevel != nil {
		if _, err := zapcore.ParseLevel(*raw.LogLevel); err != nil {
			return s, fmt.Errorf("settings.log_level: %w", err)
		}
		s.LogLevel = *raw.LogLevel
	}
	if raw.ProfileSwitchRetries != nil {
		if *raw.ProfileSwitchRetries < 1 {
			return s, errors.New("settings.profile_switch_retries must be at least 1")
		}
		s.ProfileSwitchRetries = *raw.ProfileSwitchRetries
	}
	if raw.ProfileSwitchDelayMs != nil {
		if *raw.ProfileSwitchDelayMs < 0 {
			return s, errors.New("settings.profile_switch_delay_ms must not be negative")
		}
		s.ProfileSwitchDelay = time.Duration(*raw.ProfileSwitchDelayMs) * time.Millisecond
	}
	return s, nil
}

func buildRule(cfg *domain.Config, index int, raw rawRule) (domain.Rule, error) {
	rule := domain.Rule{Index: index, Desc: raw.Desc, Notify: raw.Notify}

	if raw.AppID == "" {
		return rule, errors.New("app_id pattern is required")
	}
	var err error
	if rule.AppIDPattern, err = compilePattern("app_id", raw.AppID); err != nil {
		return rule, err
	}
	if raw.Title != "" {
		if rule.TitlePattern, err = compilePattern("title", raw.Title); err != nil {
			return rule, err
		}
	}

	if rule.Sink, err = sinkRefFromValue(raw.Sink); err != nil {
		return rule, err
	}
	if _, err := cfg.ResolveSink(rule.Sink); err != nil {
		return rule, err
	}
	return rule, nil
}

func compilePattern(field, pattern string) (*regexp.Regexp, error) {
	if len(pattern) > MaxPatternLength {
		return nil, fmt.Errorf("%s pattern is longer than %d bytes", field, MaxPatternLength)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s pattern: %w", field, err)
	}
	return re, nil
}

// sinkRefFromValue accepts a string (name or description) or a whole
// number (1-based index). Decoders hand numbers over as different types.
func sinkRefFromValue(v any) (domain.SinkRef, error) {
	switch n := v.(type) {
	case nil:
		return domain.SinkRef{}, errors.New("sink is required")
	case string:
		if strings.TrimSpace(n) == "" {
			return domain.SinkRef{}, errors.New("sink is required")
		}
		return domain.SinkRef{Kind: domain.SinkRefName, Value: n}, nil
	case int:
		return domain.SinkRef{Kind: domain.SinkRefIndex, Index: n}, nil
	case int64:
		return domain.SinkRef{Kind: domain.SinkRefIndex, Index: int(n)}, nil
	case uint64:
		if n > math.MaxInt32 {
			return domain.SinkRef{}, fmt.Errorf("sink index %d out of range", n)
		}
		return domain.SinkRef{Kind: domain.SinkRefIndex, Index: int(n)}, nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return domain.SinkRef{}, fmt.Errorf("sink index %v is not a whole number", n)
		}
		return domain.SinkRef{Kind: domain.SinkRefIndex, Index: int(n)}, nil
	default:
		return domain.SinkRef{}, fmt.Errorf("sink must be a name or an index, got %T", v)
	}
}

// DefaultConfigTemplate is written by WriteDefaultConfig.
const DefaultConfigTemplate = `# audiomon configuration
#
# Sinks are PipeWire node names; list yours with "audiomon list-sinks" or
# "pw-dump | grep node.name". Rules are matched against the window class
# (app_id) and, optionally, the title. Both are regular expressions.

[settings]
# "temporal": the most recently opened or focused matching window wins.
# "index": the first matching rule in this file wins.
priority = "temporal"
# Selecting the already active sink by hand switches back to the default.
smart_toggle = true
notify_manual = true
notify_rules = true
# Switch to the default sink when the daemon starts.
default_on_startup = false
log_level = "info"
# profile_switch_retries = 5
# profile_switch_delay_ms = 150

[[sinks]]
name = "alsa_output.pci-0000_00_1f.3.analog-stereo"
desc = "Speakers"
default = true

[[sinks]]
name = "alsa_output.usb-Headset-00.analog-stereo"
desc = "Headphones"
icon = "audio-headphones"

[[rules]]
app_id = "^mpv$"
sink = "Headphones"
desc = "Video player"

# [[rules]]
# app_id = "^firefox$"
# title = "YouTube"
# sink = 2
# notify = false
`

// WriteDefaultConfig writes the starter config atomically. An existing file
// is only replaced when force is set.
func WriteDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists: %w", path, os.ErrExist)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, []byte(DefaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return fmt.Errorf("failed to rename config: %w", err)
	}
	return nil
}
