package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
	"github.com/eliteGoblin/focusd/audio_mon/internal/ipc"
)

const (
	speakersNode   = "alsa_output.pci-0000_0c_00.4.analog-stereo"
	headphonesNode = "alsa_output.usb-headset.analog-stereo"
)

// mockLoader returns whatever config or error the test set last.
type mockLoader struct {
	mu    sync.Mutex
	cfg   *domain.Config
	err   error
	loads int
}

func (m *mockLoader) Load() (*domain.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	return m.cfg, nil
}

func (m *mockLoader) Path() string { return "" }

func (m *mockLoader) set(cfg *domain.Config, err error) {
	m.mu.Lock()
	m.cfg, m.err = cfg, err
	m.mu.Unlock()
}

// mockSource forwards events pushed by the test.
type mockSource struct {
	events chan domain.WindowEvent
	err    error
}

func newMockSource() *mockSource {
	return &mockSource{events: make(chan domain.WindowEvent, 16)}
}

func (m *mockSource) Name() string { return "mock" }

func (m *mockSource) Run(ctx context.Context, out chan<- domain.WindowEvent) error {
	if m.err != nil {
		return m.err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// mockAudio has two present sinks and switches instantly. A non-nil gate
// holds every QueryState until it is closed.
type mockAudio struct {
	mu          sync.Mutex
	defaultSink string
	queryErr    error
	setCalls    []string
	gate        chan struct{}
}

func newMockAudio() *mockAudio {
	return &mockAudio{defaultSink: speakersNode}
}

func (m *mockAudio) QueryState(ctx context.Context) (*domain.DeviceSnapshot, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return &domain.DeviceSnapshot{
		DefaultSink: m.defaultSink,
		Nodes: []domain.AudioNode{
			{ID: 40, Name: speakersNode},
			{ID: 41, Name: headphonesNode},
		},
	}, nil
}

func (m *mockAudio) SetDefault(ctx context.Context, node domain.AudioNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultSink = node.Name
	m.setCalls = append(m.setCalls, node.Name)
	return nil
}

func (m *mockAudio) SetProfile(ctx context.Context, deviceID int, profileIndex int) error {
	return errors.New("no profiles")
}

func (m *mockAudio) current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultSink
}

func (m *mockAudio) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.setCalls...)
}

type mockNotifier struct{}

func (mockNotifier) Notify(domain.Notification) {}

func testConfig() *domain.Config {
	settings := domain.DefaultSettings()
	settings.Priority = domain.PriorityIndex
	return &domain.Config{
		Path:     "/test/config.toml",
		Settings: settings,
		Sinks: []domain.SinkConfig{
			{Name: speakersNode, Desc: "Speakers", Default: true},
			{Name: headphonesNode, Desc: "Headphones"},
			{Name: "alsa_output.missing", Desc: "Missing"},
		},
		Rules: []domain.Rule{
			{Index: 0, AppIDPattern: regexp.MustCompile("^mpv$"), Sink: domain.SinkRef{Kind: domain.SinkRefDesc, Value: "Headphones"}, Desc: "Video"},
		},
	}
}

type harness struct {
	daemon *Daemon
	loader *mockLoader
	source *mockSource
	audio  *mockAudio
	client *ipc.Client
	done   chan error

	waitOnce sync.Once
	runErr   error
}

func testDaemonConfig(t *testing.T) Config {
	config := DefaultConfig()
	config.SocketPath = filepath.Join(t.TempDir(), "audiomon.sock")
	config.WatchConfig = false
	config.Version = "test"
	config.Activator.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return config
}

// startDaemon runs a daemon and waits until it answers on its socket.
func startDaemon(t *testing.T, cfg *domain.Config) *harness {
	t.Helper()
	return startDaemonWithAudio(t, cfg, newMockAudio())
}

func startDaemonWithAudio(t *testing.T, cfg *domain.Config, audio *mockAudio) *harness {
	t.Helper()

	h := &harness{
		loader: &mockLoader{cfg: cfg},
		source: newMockSource(),
		audio:  audio,
		done:   make(chan error, 1),
	}
	config := testDaemonConfig(t)

	d, err := New(config, h.loader, h.source, h.audio, mockNotifier{}, nil, zap.NewNop())
	require.NoError(t, err)
	h.daemon = d
	h.client = ipc.NewClient(config.SocketPath).WithTimeout(2 * time.Second)

	go func() { h.done <- d.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		_, err := h.client.Ping(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		d.Shutdown()
		if err := h.wait(t); err != nil {
			t.Errorf("daemon stopped with error: %v", err)
		}
	})
	return h
}

func (h *harness) call(t *testing.T, req ipc.Request, result any) {
	t.Helper()
	require.NoError(t, h.client.Call(context.Background(), req, result))
}

// wait returns Run's result; it can be called more than once.
func (h *harness) wait(t *testing.T) error {
	t.Helper()
	h.waitOnce.Do(func() {
		select {
		case h.runErr = <-h.done:
		case <-time.After(3 * time.Second):
			h.runErr = errors.New("daemon did not stop")
		}
	})
	return h.runErr
}
