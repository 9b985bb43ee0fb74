package usecase

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

const (
	speakersNode   = "alsa_output.pci-0000_0c_00.4.analog-stereo"
	headphonesNode = "alsa_output.usb-headset.analog-stereo"
	hdmiNode       = "alsa_output.pci-0000_0c_00.4.hdmi-stereo"
	cardName       = "alsa_card.pci-0000_0c_00.4"
	cardID         = 42
)

// mockAudioController implements domain.AudioController for testing.
// A SetProfile call makes the matching pending node appear after
// appearAfter further QueryState calls.
type mockAudioController struct {
	mu sync.Mutex

	snap          domain.DeviceSnapshot
	queryErr      error
	setDefaultErr error
	setProfileErr error

	profileNodes map[int]domain.AudioNode // profile index -> node it exposes
	appearAfter  int
	pending      *domain.AudioNode
	pollsLeft    int

	queries         int
	setDefaultCalls []string
	setProfileCalls []int
}

func newMockAudio() *mockAudioController {
	return &mockAudioController{
		snap: domain.DeviceSnapshot{
			DefaultSink: speakersNode,
			Nodes: []domain.AudioNode{
				{ID: 40, Name: speakersNode, Description: "Speakers", DeviceID: cardID},
				{ID: 41, Name: headphonesNode, Description: "Headphones", DeviceID: 50},
			},
			Devices: []domain.AudioDevice{
				{
					ID:            cardID,
					Name:          cardName,
					ActiveProfile: 3,
					Profiles: []domain.DeviceProfile{
						{Index: 0, Name: "off"},
						{Index: 3, Name: "output:analog-stereo", Available: true},
						{Index: 4, Name: "output:hdmi-stereo", Available: true},
					},
				},
			},
		},
		profileNodes: map[int]domain.AudioNode{
			4: {ID: 45, Name: hdmiNode, Description: "HDMI", DeviceID: cardID},
		},
	}
}

func (m *mockAudioController) QueryState(ctx context.Context) (*domain.DeviceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries++
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.pending != nil {
		if m.pollsLeft == 0 {
			m.snap.Nodes = append(m.snap.Nodes, *m.pending)
			m.pending = nil
		} else {
			m.pollsLeft--
		}
	}

	snap := m.snap
	snap.Nodes = append([]domain.AudioNode(nil), m.snap.Nodes...)
	return &snap, nil
}

func (m *mockAudioController) SetDefault(ctx context.Context, node domain.AudioNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setDefaultErr != nil {
		return m.setDefaultErr
	}
	m.setDefaultCalls = append(m.setDefaultCalls, node.Name)
	m.snap.DefaultSink = node.Name
	return nil
}

func (m *mockAudioController) SetProfile(ctx context.Context, deviceID int, profileIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setProfileErr != nil {
		return m.setProfileErr
	}
	m.setProfileCalls = append(m.setProfileCalls, profileIndex)
	if node, ok := m.profileNodes[profileIndex]; ok {
		n := node
		m.pending = &n
		m.pollsLeft = m.appearAfter
	}
	return nil
}

func (m *mockAudioController) defaults() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.setDefaultCalls...)
}

// mockNotifier implements domain.Notifier for testing.
type mockNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (m *mockNotifier) Notify(n domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockActivator implements domain.SinkActivator for testing. Requests are
// recorded and only completed when the test calls finish.
type mockActivator struct {
	mu       sync.Mutex
	current  string
	requests []domain.ActivationRequest
	dones    []func(domain.ActivationResult)
}

func (m *mockActivator) Submit(req domain.ActivationRequest, done func(domain.ActivationResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.dones = append(m.dones, done)
}

func (m *mockActivator) CurrentSink() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// finish completes request i as a success (or failure when err != nil)
// and returns the result the engine would receive.
func (m *mockActivator) finish(i int, err error) domain.ActivationResult {
	m.mu.Lock()
	req := m.requests[i]
	result := domain.ActivationResult{ID: "test", Request: req, Outcome: domain.OutcomeSwitched, Active: req.Target.Name}
	if err != nil {
		result.Outcome = domain.OutcomeFailed
		result.Err = err
		result.Active = m.current
	} else {
		m.current = req.Target.Name
	}
	m.mu.Unlock()
	return result
}

func (m *mockActivator) targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.requests))
	for i, r := range m.requests {
		names[i] = r.Target.Name
	}
	return names
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func boolPtr(b bool) *bool { return &b }

func testConfig(priority domain.PriorityMode) *domain.Config {
	settings := domain.DefaultSettings()
	settings.Priority = priority
	settings.ProfileSwitchDelay = time.Millisecond
	return &domain.Config{
		Settings: settings,
		Sinks: []domain.SinkConfig{
			{Name: speakersNode, Desc: "Speakers", Default: true},
			{Name: headphonesNode, Desc: "Headphones"},
			{Name: hdmiNode, Desc: "HDMI"},
		},
		Rules: []domain.Rule{
			{Index: 0, AppIDPattern: regexp.MustCompile("^mpv$"), Sink: domain.SinkRef{Kind: domain.SinkRefDesc, Value: "Headphones"}, Desc: "Video"},
			{Index: 1, AppIDPattern: regexp.MustCompile("^firefox$"), Sink: domain.SinkRef{Kind: domain.SinkRefName, Value: hdmiNode}},
			{Index: 2, AppIDPattern: regexp.MustCompile("^steam$"), TitlePattern: regexp.MustCompile("Big Picture"), Sink: domain.SinkRef{Kind: domain.SinkRefIndex, Index: 3}, Notify: boolPtr(false)},
		},
	}
}
