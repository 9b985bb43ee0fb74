//go:build integration

package integration

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/audio_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
	"github.com/eliteGoblin/focusd/audio_mon/internal/infra"
	"github.com/eliteGoblin/focusd/audio_mon/internal/ipc"
	"github.com/eliteGoblin/focusd/audio_mon/test/fixtures"
)

type nopNotifier struct{}

func (nopNotifier) Notify(domain.Notification) {}

var _ = Describe("Daemon", func() {
	var (
		tmpDir     string
		configPath string
		socketPath string
		audio      *fixtures.FakeAudio
		windows    *fixtures.FakeWindows
		client     *ipc.Client
		cancel     context.CancelFunc
		done       chan error
	)

	startDaemon := func() {
		config := daemon.DefaultConfig()
		config.SocketPath = socketPath
		config.Version = "integration"
		config.ReloadDebounce = 50 * time.Millisecond

		d, err := daemon.New(config, infra.NewFileConfigLoader(configPath), windows, audio,
			nopNotifier{}, infra.NewProcessManager(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- d.Run(ctx) }()

		client = ipc.NewClient(socketPath).WithTimeout(5 * time.Second)
		Eventually(func() error {
			_, err := client.Ping(context.Background())
			return err
		}, 3*time.Second, 20*time.Millisecond).Should(Succeed())
	}

	call := func(req ipc.Request, result any) error {
		return client.Call(context.Background(), req, result)
	}

	BeforeEach(func() {
		var err error
		// Short base path: unix socket paths are limited to 108 bytes.
		tmpDir, err = os.MkdirTemp("", "audiomon-it-*")
		Expect(err).NotTo(HaveOccurred())

		configPath, err = fixtures.WriteConfig(tmpDir, fixtures.BaseConfig)
		Expect(err).NotTo(HaveOccurred())
		socketPath = filepath.Join(tmpDir, "audiomon.sock")

		audio = fixtures.NewFakeAudio()
		windows = fixtures.NewFakeWindows()
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			cancel = nil
		}
		os.RemoveAll(tmpDir)
	})

	Describe("rule routing", func() {
		BeforeEach(startDaemon)

		Context("when a matching window opens and closes", func() {
			It("should switch to the rule's sink and back to the default", func() {
				windows.Open(0x10, "mpv", "movie.mkv")
				Eventually(audio.Default, 3*time.Second).Should(Equal(fixtures.HeadphonesNode))

				windows.Close(0x10)
				Eventually(audio.Default, 3*time.Second).Should(Equal(fixtures.SpeakersNode))
			})
		})

		Context("when the target sink needs a profile switch", func() {
			It("should change the card profile and wait for the node", func() {
				audio.ProfileLag = 2
				windows.Open(0x20, "steam", "Steam Big Picture Mode")

				Eventually(audio.Default, 3*time.Second).Should(Equal(fixtures.HDMINode))
				Expect(audio.ProfileSwitches()).To(Equal(1))
			})
		})

		Context("when a window title changes", func() {
			It("should re-evaluate the window", func() {
				windows.Open(0x30, "steam", "Library")
				Consistently(audio.Default, 200*time.Millisecond).Should(Equal(fixtures.SpeakersNode))

				windows.Retitle(0x30, "steam", "Big Picture")
				Eventually(audio.Default, 3*time.Second).Should(Equal(fixtures.HDMINode))
			})
		})

		Context("when duplicate windows are open", func() {
			It("should list each one by id", func() {
				windows.Open(0x41, "mpv", "same")
				windows.Open(0x42, "mpv", "same")

				var listed []ipc.WindowInfo
				Eventually(func() []ipc.WindowInfo {
					Expect(call(ipc.Request{Action: ipc.ActionListWindows}, &listed)).To(Succeed())
					return listed
				}, 3*time.Second).Should(HaveLen(2))
				Expect(listed[0].ID).To(Equal("41"))
				Expect(listed[1].ID).To(Equal("42"))
				Expect(listed[0].Rule).To(Equal("Video"))
			})
		})
	})

	Describe("config reload", func() {
		BeforeEach(startDaemon)

		Context("when the file changes on disk", func() {
			It("should retarget already open windows", func() {
				windows.Open(0x50, "vlc", "clip")
				Consistently(audio.Default, 200*time.Millisecond).Should(Equal(fixtures.SpeakersNode))

				updated := fixtures.BaseConfig + `
[[rules]]
app_id = "^vlc$"
sink = "Headphones"
`
				Expect(fixtures.ReplaceConfig(configPath, updated)).To(Succeed())
				Eventually(audio.Default, 3*time.Second).Should(Equal(fixtures.HeadphonesNode))
			})
		})

		Context("when the new config is invalid", func() {
			It("should reject it and keep the previous rules", func() {
				Expect(fixtures.ReplaceConfig(configPath, "[[sinks]]\nname = \"\"\n")).To(Succeed())

				err := call(ipc.Request{Action: ipc.ActionReload}, nil)
				Expect(err).To(HaveOccurred())

				var status ipc.StatusInfo
				Expect(call(ipc.Request{Action: ipc.ActionStatus}, &status)).To(Succeed())
				Expect(status.Rules).To(Equal(2))

				windows.Open(0x60, "mpv", "still routed")
				Eventually(audio.Default, 3*time.Second).Should(Equal(fixtures.HeadphonesNode))
			})
		})
	})

	Describe("manual control", func() {
		BeforeEach(startDaemon)

		It("should switch by description and toggle back", func() {
			var info ipc.ActivationInfo
			Expect(call(ipc.Request{Action: ipc.ActionSetSink, Sink: "TV"}, &info)).To(Succeed())
			Expect(info.Sink).To(Equal(fixtures.HDMINode))
			Expect(info.Outcome).To(Equal(string(domain.OutcomeProfileSwitch)))

			Expect(call(ipc.Request{Action: ipc.ActionSetSink, Sink: "TV"}, &info)).To(Succeed())
			Expect(info.Outcome).To(Equal(string(domain.OutcomeToggledBack)))
			Expect(audio.Default()).To(Equal(fixtures.SpeakersNode))
		})

		It("should cycle through the configured sinks", func() {
			var info ipc.ActivationInfo
			Expect(call(ipc.Request{Action: ipc.ActionNextSink}, &info)).To(Succeed())
			Expect(info.Sink).To(Equal(fixtures.HeadphonesNode))
			Expect(call(ipc.Request{Action: ipc.ActionNextSink}, &info)).To(Succeed())
			Expect(info.Sink).To(Equal(fixtures.HDMINode))
			Expect(call(ipc.Request{Action: ipc.ActionNextSink}, &info)).To(Succeed())
			Expect(info.Sink).To(Equal(fixtures.SpeakersNode))
		})

		It("should report unknown sinks to the client", func() {
			err := call(ipc.Request{Action: ipc.ActionSetSink, Sink: "Nope"}, nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no configured sink"))
		})
	})

	Describe("control socket", func() {
		Context("when a regular file occupies the socket path", func() {
			It("should refuse to start and leave the file alone", func() {
				Expect(os.WriteFile(socketPath, []byte("keep"), 0o600)).To(Succeed())

				d, err := daemon.New(daemon.Config{SocketPath: socketPath}, infra.NewFileConfigLoader(configPath),
					windows, audio, nopNotifier{}, nil, zap.NewNop())
				Expect(err).NotTo(HaveOccurred())

				err = d.Run(context.Background())
				var ownership *domain.SocketOwnershipError
				Expect(errors.As(err, &ownership)).To(BeTrue())

				data, err := os.ReadFile(socketPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("keep"))
			})
		})

		Context("when a stale socket is left behind", func() {
			It("should replace it and start", func() {
				l, err := net.Listen("unix", socketPath)
				Expect(err).NotTo(HaveOccurred())
				l.(*net.UnixListener).SetUnlinkOnClose(false)
				l.Close()

				startDaemon()
				info, err := client.Ping(context.Background())
				Expect(err).NotTo(HaveOccurred())
				Expect(info.Version).To(Equal("integration"))
			})
		})

		Context("when another daemon is running", func() {
			It("should fail with already running", func() {
				startDaemon()

				second, err := daemon.New(daemon.Config{SocketPath: socketPath}, infra.NewFileConfigLoader(configPath),
					fixtures.NewFakeWindows(), fixtures.NewFakeAudio(), nopNotifier{}, nil, zap.NewNop())
				Expect(err).NotTo(HaveOccurred())
				Expect(second.Run(context.Background())).To(MatchError(domain.ErrAlreadyRunning))
			})
		})

		Context("when a frame is larger than the limit", func() {
			It("should drop that connection and keep serving", func() {
				startDaemon()

				conn, err := net.Dial("unix", socketPath)
				Expect(err).NotTo(HaveOccurred())
				defer conn.Close()
				_, err = conn.Write([]byte{0xff, 0xff, 0xff, 0xff})
				Expect(err).NotTo(HaveOccurred())

				var resp ipc.Response
				Expect(ipc.ReadMessage(conn, ipc.MaxMessageSize, &resp)).To(Succeed())
				Expect(resp.OK).To(BeFalse())
				Expect(strings.Contains(resp.Error, "too large")).To(BeTrue())

				_, err = client.Ping(context.Background())
				Expect(err).NotTo(HaveOccurred())
			})
		})

		It("should shut down on request", func() {
			startDaemon()
			Expect(call(ipc.Request{Action: ipc.ActionShutdown}, nil)).To(Succeed())
			Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			cancel()
			cancel = nil

			_, err := os.Stat(socketPath)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})
})
