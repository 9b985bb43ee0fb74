package ipc

import (
	"fmt"
	"os"
	"path/filepath"
)

// SocketName is the socket file name under the runtime directory.
const SocketName = "audiomon.sock"

// DefaultSocketPath returns $XDG_RUNTIME_DIR/audiomon.sock, or a per-user
// name in the temp directory when no runtime directory is set.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, SocketName)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("audiomon-%d.sock", os.Getuid()))
}
