// Package daemon runs the audio routing daemon: the window event loop, the
// control socket and the config reload coordinator.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
	"github.com/eliteGoblin/focusd/audio_mon/internal/infra"
	"github.com/eliteGoblin/focusd/audio_mon/internal/ipc"
	"github.com/eliteGoblin/focusd/audio_mon/internal/usecase"
)

// Config holds daemon configuration.
type Config struct {
	SocketPath     string        // Control socket path
	EventBuffer    int           // Capacity of the window event channel
	ProbeTimeout   time.Duration // Liveness probe for an existing socket
	WatchConfig    bool          // Reload when the config file changes
	ReloadDebounce time.Duration // Quiet period before a file-triggered reload
	Version        string
	Server         ipc.ServerConfig
	Activator      usecase.ActivatorConfig

	// LogLevel, when set, follows settings.log_level across reloads.
	LogLevel *zap.AtomicLevel
}

// DefaultEventBuffer bounds the window event channel. A full channel blocks
// the event source.
const DefaultEventBuffer = 100

// DefaultConfig returns default daemon configuration.
func DefaultConfig() Config {
	return Config{
		SocketPath:     ipc.DefaultSocketPath(),
		EventBuffer:    DefaultEventBuffer,
		ProbeTimeout:   ipc.DefaultProbeTimeout,
		WatchConfig:    true,
		ReloadDebounce: infra.DefaultReloadDebounce,
		Version:        "dev",
		Server:         ipc.DefaultServerConfig(),
		Activator:      usecase.DefaultActivatorConfig(),
	}
}

// Daemon wires the event source, match engine, orchestrator and control
// socket together.
type Daemon struct {
	config         Config
	loader         domain.ConfigLoader
	source         domain.WindowEventSource
	audio          domain.AudioController
	processManager domain.ProcessManager
	logger         *zap.Logger

	engine    *usecase.Engine
	activator *usecase.Activator
	startedAt time.Time

	reloadMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New loads the initial configuration and builds the daemon. A config error
// here is fatal to startup.
func New(
	config Config,
	loader domain.ConfigLoader,
	source domain.WindowEventSource,
	audio domain.AudioController,
	notifier domain.Notifier,
	pm domain.ProcessManager,
	logger *zap.Logger,
) (*Daemon, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultEventBuffer
	}

	activator := usecase.NewActivator(config.Activator, audio, notifier, cfg, logger.Named("activator"))
	d := &Daemon{
		config:         config,
		loader:         loader,
		source:         source,
		audio:          audio,
		processManager: pm,
		logger:         logger,
		activator:      activator,
		engine:         usecase.NewEngine(cfg, activator, logger.Named("engine")),
	}
	d.applyLogLevel(cfg)
	return d, nil
}

// Engine returns the match engine.
func (d *Daemon) Engine() *usecase.Engine {
	return d.engine
}

// Activator returns the sink activation orchestrator.
func (d *Daemon) Activator() *usecase.Activator {
	return d.activator
}

// Run binds the control socket and runs until ctx is cancelled, a shutdown
// request arrives or the event source fails. In-flight activations finish
// before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	listener, err := ipc.Listen(ctx, d.config.SocketPath, d.config.ProbeTimeout, d.logger.Named("ipc"))
	if err != nil {
		return err
	}

	server := ipc.NewServer(listener, d.config.Server, d.logger.Named("ipc"))
	d.registerHandlers(server)

	d.startedAt = time.Now()
	cfg := d.engine.Config()
	d.logger.Info("daemon starting",
		zap.Int("pid", os.Getpid()),
		zap.String("version", d.config.Version),
		zap.String("config", cfg.Path),
		zap.String("socket", d.config.SocketPath),
		zap.String("event_source", d.source.Name()),
		zap.Int("rules", len(cfg.Rules)),
		zap.Int("sinks", len(cfg.Sinks)))
	d.checkAudioServer()

	// Submitted before the event source starts so the first windows queue
	// behind it instead of racing it.
	if cfg.Settings.DefaultOnStartup {
		d.engine.ActivateStartup()
	}

	events := make(chan domain.WindowEvent, d.config.EventBuffer)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(gctx)
	})

	g.Go(func() error {
		if err := d.source.Run(gctx, events); err != nil {
			return fmt.Errorf("event source %s: %w", d.source.Name(), err)
		}
		return nil
	})

	if d.config.WatchConfig && d.loader.Path() != "" {
		watcher := infra.NewConfigWatcher(d.loader.Path(), d.config.ReloadDebounce, d.logger.Named("config"))
		g.Go(func() error {
			if err := watcher.Run(gctx, func() { _, _ = d.Reload() }); err != nil {
				d.logger.Warn("config watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		return d.loop(gctx, events)
	})

	err = g.Wait()

	d.engine.Close()
	d.activator.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("daemon stopped with error", zap.Error(err))
		return err
	}
	d.logger.Info("daemon stopped")
	return nil
}

// Shutdown stops a running daemon. It is safe to call more than once.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// loop is the single consumer of window events and engine activation
// completions.
func (d *Daemon) loop(ctx context.Context, events <-chan domain.WindowEvent) error {
	completions := d.engine.Completions()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			d.engine.HandleEvent(ev)
		case result := <-completions:
			d.engine.HandleCompletion(result)
		}
	}
}

// Reload loads the config file and swaps it in. On error the previous
// configuration stays active and nothing else changes.
func (d *Daemon) Reload() (*domain.Config, error) {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	cfg, err := d.loader.Load()
	if err != nil {
		d.logger.Warn("config reload rejected, keeping previous config", zap.Error(err))
		return nil, err
	}

	// The orchestrator sees the new settings before the engine issues
	// activations based on the new rules.
	d.activator.SetConfig(cfg)
	d.engine.OnConfigReloaded(cfg)
	d.applyLogLevel(cfg)
	return cfg, nil
}

func (d *Daemon) applyLogLevel(cfg *domain.Config) {
	if d.config.LogLevel == nil {
		return
	}
	level, err := zapcore.ParseLevel(cfg.Settings.LogLevel)
	if err != nil {
		return
	}
	if d.config.LogLevel.Level() != level {
		d.config.LogLevel.SetLevel(level)
		d.logger.Info("log level changed", zap.Stringer("level", level))
	}
}

func (d *Daemon) checkAudioServer() string {
	if d.processManager == nil {
		return ""
	}
	status := infra.AudioServerStatus(d.processManager)
	if strings.HasPrefix(status, "not running") {
		d.logger.Warn("audio server not detected", zap.String("status", status))
	}
	return status
}
