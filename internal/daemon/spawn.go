package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
	"github.com/eliteGoblin/focusd/audio_mon/internal/ipc"
)

// SpawnConfig describes how to launch a detached daemon.
type SpawnConfig struct {
	Executable   string   // Defaults to the running binary
	Args         []string // Arguments, e.g. ["daemon", "--config", path]
	SocketPath   string   // Socket to wait on
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

// DefaultSpawnConfig returns a config that self-execs "<binary> daemon".
func DefaultSpawnConfig(socketPath string) SpawnConfig {
	return SpawnConfig{
		Args:         []string{"daemon"},
		SocketPath:   socketPath,
		ReadyTimeout: 5 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// Spawn starts the daemon in its own session and waits until it answers a
// ping on the control socket. It returns ErrAlreadyRunning if a daemon
// already answers there.
func Spawn(ctx context.Context, config SpawnConfig) (ipc.PingInfo, error) {
	client := ipc.NewClient(config.SocketPath).WithTimeout(time.Second)
	if info, err := client.Ping(ctx); err == nil {
		return info, fmt.Errorf("%w (pid %d)", domain.ErrAlreadyRunning, info.PID)
	}

	executable := config.Executable
	if executable == "" {
		var err error
		if executable, err = os.Executable(); err != nil {
			return ipc.PingInfo{}, fmt.Errorf("failed to get executable path: %w", err)
		}
	}

	cmd := exec.Command(executable, config.Args...)
	// Detach from the terminal; the daemon logs to its own file.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return ipc.PingInfo{}, fmt.Errorf("failed to start daemon: %w", err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	return waitReady(ctx, client, config, exited)
}

func waitReady(ctx context.Context, client *ipc.Client, config SpawnConfig, exited <-chan error) (ipc.PingInfo, error) {
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = 5 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, config.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-exited:
			if err == nil {
				err = errors.New("exit status 0")
			}
			return ipc.PingInfo{}, fmt.Errorf("daemon exited before it was ready: %w", err)
		case <-ctx.Done():
			return ipc.PingInfo{}, fmt.Errorf("daemon did not answer on %s: %w", config.SocketPath, ctx.Err())
		case <-ticker.C:
			if info, err := client.Ping(ctx); err == nil {
				return info, nil
			}
		}
	}
}
