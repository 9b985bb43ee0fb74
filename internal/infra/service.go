package infra

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

const systemctlTool = "systemctl"

// ServiceName is the systemd user unit name.
const ServiceName = AppName + ".service"

// The daemon needs the graphical session environment (compositor and
// PipeWire sockets), hence graphical-session.target.
const serviceTemplate = `[Unit]
Description=audiomon - route audio output by active window
PartOf=graphical-session.target
After=graphical-session.target pipewire.service wireplumber.service

[Service]
Type=simple
ExecStart={{.ExecutablePath}} daemon --log-file -
ExecReload={{.ExecutablePath}} reload
Restart=on-failure
RestartSec=5

[Install]
WantedBy=graphical-session.target
`

type serviceConfig struct {
	ExecutablePath string
}

// SystemdServiceManager implements domain.ServiceManager with a systemd
// user unit.
type SystemdServiceManager struct {
	unitDir  string
	unitPath string
	runner   CommandRunner
}

// NewSystemdServiceManager creates a manager for the real user's unit directory.
func NewSystemdServiceManager(runner CommandRunner) *SystemdServiceManager {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(GetRealUserHome(), ".config")
	}
	return NewSystemdServiceManagerAt(filepath.Join(configHome, "systemd", "user"), runner)
}

// NewSystemdServiceManagerAt creates a manager for an explicit unit directory (for testing).
func NewSystemdServiceManagerAt(unitDir string, runner CommandRunner) *SystemdServiceManager {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &SystemdServiceManager{
		unitDir:  unitDir,
		unitPath: filepath.Join(unitDir, ServiceName),
		runner:   runner,
	}
}

// generateUnit renders the unit file for the given executable.
func (m *SystemdServiceManager) generateUnit(execPath string) ([]byte, error) {
	tmpl, err := template.New("unit").Parse(serviceTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, serviceConfig{ExecutablePath: execPath}); err != nil {
		return nil, fmt.Errorf("failed to execute unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the unit, then enables and starts it.
func (m *SystemdServiceManager) Install(ctx context.Context, execPath string) error {
	if err := m.writeUnit(execPath); err != nil {
		return err
	}
	if err := m.systemctl(ctx, "daemon-reload"); err != nil {
		return err
	}
	return m.systemctl(ctx, "enable", "--now", ServiceName)
}

// Update rewrites the unit and restarts the service.
func (m *SystemdServiceManager) Update(ctx context.Context, execPath string) error {
	if err := m.writeUnit(execPath); err != nil {
		return err
	}
	if err := m.systemctl(ctx, "daemon-reload"); err != nil {
		return err
	}
	return m.systemctl(ctx, "restart", ServiceName)
}

// Uninstall stops and disables the service and removes the unit.
func (m *SystemdServiceManager) Uninstall(ctx context.Context) error {
	// Ignore errors if not enabled
	_ = m.systemctl(ctx, "disable", "--now", ServiceName)

	if err := os.Remove(m.unitPath); err != nil {
		return err
	}
	return m.systemctl(ctx, "daemon-reload")
}

// IsInstalled checks if the unit file exists.
func (m *SystemdServiceManager) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// NeedsUpdate checks if the unit exists but differs from what Install writes.
func (m *SystemdServiceManager) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false // Doesn't exist, needs install not update
	}

	current, err := os.ReadFile(m.unitPath)
	if err != nil {
		return true
	}
	expected, err := m.generateUnit(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// UnitPath returns the unit file path.
func (m *SystemdServiceManager) UnitPath() string {
	return m.unitPath
}

func (m *SystemdServiceManager) writeUnit(execPath string) error {
	if err := os.MkdirAll(m.unitDir, 0o755); err != nil {
		return err
	}
	content, err := m.generateUnit(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate unit: %w", err)
	}
	return os.WriteFile(m.unitPath, content, 0o644)
}

func (m *SystemdServiceManager) systemctl(ctx context.Context, args ...string) error {
	_, err := m.runner.Output(ctx, systemctlTool, append([]string{"--user"}, args...)...)
	return err
}

// Ensure SystemdServiceManager implements domain.ServiceManager.
var _ domain.ServiceManager = (*SystemdServiceManager)(nil)
