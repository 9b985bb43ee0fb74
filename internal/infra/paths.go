// Package infra implements infrastructure concerns (audio tools, compositor
// events, configuration, processes).
package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/audio_mon/internal/ipc"
)

// AppName names the config, state and socket files.
const AppName = "audiomon"

// Paths holds the file locations the daemon and CLI use.
type Paths struct {
	ConfigPath string // Config file (TOML by default)
	StateDir   string // Logs live here
	LogPath    string
	SocketPath string // Control socket
}

// DetectPaths resolves paths from the XDG environment of the real user.
func DetectPaths() *Paths {
	home := GetRealUserHome()

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		stateHome = filepath.Join(home, ".local", "state")
	}

	stateDir := filepath.Join(stateHome, AppName)
	return &Paths{
		ConfigPath: filepath.Join(configHome, AppName, "config.toml"),
		StateDir:   stateDir,
		LogPath:    filepath.Join(stateDir, AppName+".log"),
		SocketPath: ipc.DefaultSocketPath(),
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return GetRealUserHome()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(GetRealUserHome(), path[2:])
	}
	return path
}
