package domain

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Settings: DefaultSettings(),
		Sinks: []SinkConfig{
			{Name: "alsa_output.usb-headset.analog-stereo", Desc: "Headphones"},
			{Name: "alsa_output.pci-0000_0c_00.4.analog-stereo", Desc: "Speakers", Default: true},
			{Name: "alsa_output.pci-0000_0c_00.4.iec958-stereo", Desc: "Optical"},
		},
	}
}

func TestParseSinkRef(t *testing.T) {
	tests := []struct {
		input string
		want  SinkRef
	}{
		{"2", SinkRef{Kind: SinkRefIndex, Index: 2}},
		{" 1 ", SinkRef{Kind: SinkRefIndex, Index: 1}},
		{"0", SinkRef{Kind: SinkRefName, Value: "0"}},
		{"-3", SinkRef{Kind: SinkRefName, Value: "-3"}},
		{"Speakers", SinkRef{Kind: SinkRefName, Value: "Speakers"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSinkRef(tt.input))
		})
	}
}

func TestConfig_ResolveSink(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name     string
		ref      SinkRef
		wantName string
		wantErr  bool
	}{
		{"by index", SinkRef{Kind: SinkRefIndex, Index: 1}, "alsa_output.usb-headset.analog-stereo", false},
		{"by name", SinkRef{Kind: SinkRefName, Value: "alsa_output.pci-0000_0c_00.4.iec958-stereo"}, "alsa_output.pci-0000_0c_00.4.iec958-stereo", false},
		{"name falls back to desc", SinkRef{Kind: SinkRefName, Value: "Speakers"}, "alsa_output.pci-0000_0c_00.4.analog-stereo", false},
		{"by desc", SinkRef{Kind: SinkRefDesc, Value: "Optical"}, "alsa_output.pci-0000_0c_00.4.iec958-stereo", false},
		{"index out of range", SinkRef{Kind: SinkRefIndex, Index: 4}, "", true},
		{"unknown", SinkRef{Kind: SinkRefName, Value: "HDMI"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := cfg.ResolveSink(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, sink.Name)
		})
	}
}

func TestConfig_DefaultSink(t *testing.T) {
	cfg := testConfig()
	sink, ok := cfg.DefaultSink()
	require.True(t, ok)
	assert.Equal(t, "Speakers", sink.Desc)

	empty := &Config{}
	_, ok = empty.DefaultSink()
	assert.False(t, ok)
}

func TestConfig_CycleSink(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name    string
		current string
		step    int
		want    string
	}{
		{"next", "alsa_output.usb-headset.analog-stereo", 1, "Speakers"},
		{"next wraps", "alsa_output.pci-0000_0c_00.4.iec958-stereo", 1, "Headphones"},
		{"prev wraps", "alsa_output.usb-headset.analog-stereo", -1, "Optical"},
		{"unknown starts at default", "bluez_output.x", 1, "Optical"},
		{"nothing active starts at default", "", -1, "Headphones"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, ok := cfg.CycleSink(tt.current, tt.step)
			require.True(t, ok)
			assert.Equal(t, tt.want, sink.Desc)
		})
	}

	_, ok := (&Config{}).CycleSink("", 1)
	assert.False(t, ok)
}

func TestRule_Matches(t *testing.T) {
	rule := Rule{
		AppIDPattern: regexp.MustCompile("^firefox$"),
		TitlePattern: regexp.MustCompile("YouTube"),
	}
	assert.True(t, rule.Matches("firefox", "Music - YouTube"))
	assert.False(t, rule.Matches("firefox", "Docs"))
	assert.False(t, rule.Matches("firefox-esr", "YouTube"))

	noTitle := Rule{AppIDPattern: regexp.MustCompile("^mpv$")}
	assert.True(t, noTitle.Matches("mpv", ""))
	assert.True(t, noTitle.Matches("mpv", "anything"))

	var broken Rule
	assert.False(t, broken.Matches("mpv", ""))
}

func TestDeviceSnapshot_PlanProfileSwitch(t *testing.T) {
	snap := &DeviceSnapshot{
		Devices: []AudioDevice{
			{
				ID:   42,
				Name: "alsa_card.pci-0000_0c_00.4",
				Profiles: []DeviceProfile{
					{Index: 0, Name: "off"},
					{Index: 1, Name: "output:analog-stereo+input:analog-stereo"},
					{Index: 2, Name: "output:iec958-stereo"},
					{Index: 3, Name: "output:analog-stereo"},
				},
			},
			{
				ID:   50,
				Name: "alsa_card.usb-headset",
				Profiles: []DeviceProfile{
					{Index: 1, Name: "output:analog-stereo+input:mono-fallback", Description: "Analog Duplex"},
				},
			},
		},
	}

	tests := []struct {
		name        string
		sink        SinkConfig
		wantOK      bool
		wantDevice  int
		wantProfile int
	}{
		{"exact profile preferred", SinkConfig{Name: "alsa_output.pci-0000_0c_00.4.analog-stereo"}, true, 42, 3},
		{"digital profile", SinkConfig{Name: "alsa_output.pci-0000_0c_00.4.iec958-stereo"}, true, 42, 2},
		{"duplex fallback", SinkConfig{Name: "alsa_output.usb-headset.analog-stereo"}, true, 50, 1},
		{"pinned by description", SinkConfig{Name: "custom", Device: "alsa_card.usb-headset", Profile: "Analog Duplex"}, true, 50, 1},
		{"pinned unknown profile", SinkConfig{Name: "custom", Device: "alsa_card.usb-headset", Profile: "nope"}, false, 0, 0},
		{"no device", SinkConfig{Name: "bluez_output.00_11.a2dp"}, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, ok := snap.PlanProfileSwitch(tt.sink)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantDevice, plan.DeviceID)
				assert.Equal(t, tt.wantProfile, plan.ProfileIndex)
			}
		})
	}
}

func TestActivationError_Kind(t *testing.T) {
	base := errors.New("exit status 1")
	err := error(&ActivationError{Kind: ToolFailure, Sink: "x", Err: base})

	assert.True(t, IsActivationKind(err, ToolFailure))
	assert.False(t, IsActivationKind(err, ProfileSwitchTimeout))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsActivationKind(errors.New("plain"), ToolFailure))
}
