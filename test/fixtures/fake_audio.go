// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"errors"
	"sync"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

// Node names used by the fake audio graph.
const (
	SpeakersNode   = "alsa_output.pci-0000_0c_00.4.analog-stereo"
	HDMINode       = "alsa_output.pci-0000_0c_00.4.hdmi-stereo"
	HeadphonesNode = "alsa_output.usb-headset.analog-stereo"
	CardName       = "alsa_card.pci-0000_0c_00.4"
	CardID         = 42
)

// FakeAudio simulates a sound card with an analog and an HDMI profile plus
// a USB headset. Only the nodes of the card's active profile are present,
// the way PipeWire behaves.
type FakeAudio struct {
	mu sync.Mutex

	defaultSink string
	profile     int
	// ProfileLag is how many queries a new profile's node stays hidden.
	ProfileLag int
	lagLeft    int

	SetDefaultCalls []string
	SetProfileCalls []int
}

// NewFakeAudio returns a graph with the analog profile active and the
// speakers as default sink.
func NewFakeAudio() *FakeAudio {
	return &FakeAudio{defaultSink: SpeakersNode, profile: 3}
}

// QueryState implements domain.AudioController.
func (f *FakeAudio) QueryState(ctx context.Context) (*domain.DeviceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := &domain.DeviceSnapshot{
		DefaultSink: f.defaultSink,
		Nodes: []domain.AudioNode{
			{ID: 41, Name: HeadphonesNode, Description: "USB Headset", DeviceID: 50},
		},
		Devices: []domain.AudioDevice{{
			ID:            CardID,
			Name:          CardName,
			ActiveProfile: f.profile,
			Profiles: []domain.DeviceProfile{
				{Index: 0, Name: "off", Available: true},
				{Index: 3, Name: "output:analog-stereo", Available: true},
				{Index: 4, Name: "output:hdmi-stereo", Available: true},
			},
		}},
	}

	if f.lagLeft > 0 {
		f.lagLeft--
		return snap, nil
	}
	switch f.profile {
	case 3:
		snap.Nodes = append(snap.Nodes, domain.AudioNode{ID: 40, Name: SpeakersNode, DeviceID: CardID})
	case 4:
		snap.Nodes = append(snap.Nodes, domain.AudioNode{ID: 45, Name: HDMINode, DeviceID: CardID})
	}
	return snap, nil
}

// SetDefault implements domain.AudioController.
func (f *FakeAudio) SetDefault(ctx context.Context, node domain.AudioNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultSink = node.Name
	f.SetDefaultCalls = append(f.SetDefaultCalls, node.Name)
	return nil
}

// SetProfile implements domain.AudioController.
func (f *FakeAudio) SetProfile(ctx context.Context, deviceID int, profileIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if deviceID != CardID {
		return errors.New("no such device")
	}
	f.profile = profileIndex
	f.lagLeft = f.ProfileLag
	f.SetProfileCalls = append(f.SetProfileCalls, profileIndex)
	return nil
}

// Default returns the current default sink.
func (f *FakeAudio) Default() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defaultSink
}

// ProfileSwitches returns how many profile changes were made.
func (f *FakeAudio) ProfileSwitches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.SetProfileCalls)
}

var _ domain.AudioController = (*FakeAudio)(nil)
