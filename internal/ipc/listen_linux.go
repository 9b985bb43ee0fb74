package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

// DefaultProbeTimeout bounds the liveness ping sent to an existing socket.
const DefaultProbeTimeout = 500 * time.Millisecond

// Listen binds the control socket at path with owner-only permissions.
//
// An existing file at path is inspected without following symlinks. It is
// only ever removed when it is a socket owned by the current user and no
// daemon answers a ping on it; anything else is left alone and reported.
func Listen(ctx context.Context, path string, probeTimeout time.Duration, logger *zap.Logger) (net.Listener, error) {
	exists, err := checkExisting(path)
	if err != nil {
		return nil, err
	}

	if exists {
		if probeTimeout <= 0 {
			probeTimeout = DefaultProbeTimeout
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		info, err := NewClient(path).WithTimeout(probeTimeout).Ping(probeCtx)
		cancel()
		if err == nil {
			return nil, fmt.Errorf("%w (pid %d, socket %s)", domain.ErrAlreadyRunning, info.PID, path)
		}

		logger.Info("removing stale control socket", zap.String("path", path), zap.Error(err))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
		}
	}

	old := unix.Umask(0o177)
	listener, err := net.Listen("unix", path)
	unix.Umask(old)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to restrict socket permissions: %w", err)
	}
	return listener, nil
}

// checkExisting reports whether a file exists at path and rejects anything
// that is not a socket owned by the current user.
func checkExisting(path string) (bool, error) {
	fd, err := unix.Open(path, unix.O_PATH|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		if errors.Is(err, unix.ELOOP) {
			return true, &domain.SocketOwnershipError{Path: path, Reason: "is a symlink"}
		}
		return true, fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return true, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFSOCK:
	case unix.S_IFLNK:
		return true, &domain.SocketOwnershipError{Path: path, Reason: "is a symlink"}
	default:
		return true, &domain.SocketOwnershipError{Path: path, Reason: "is not a socket"}
	}

	if uid := os.Getuid(); st.Uid != uint32(uid) {
		return true, &domain.SocketOwnershipError{
			Path:   path,
			Reason: fmt.Sprintf("is owned by uid %d, not %d", st.Uid, uid),
		}
	}
	return true, nil
}
