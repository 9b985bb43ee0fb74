package infra

import (
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs of processes whose name contains pattern (case-insensitive).
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var found []int
	patternLower := strings.ToLower(pattern)

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if strings.Contains(strings.ToLower(name), patternLower) {
			found = append(found, int(p.Pid))
		}
	}

	return found, nil
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks for existence
	return proc.Signal(syscall.Signal(0)) == nil
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)

// audioServerProcesses are the processes the audio tools talk to.
var audioServerProcesses = []string{"pipewire", "wireplumber"}

// AudioServerStatus reports which audio server processes are running, e.g.
// "pipewire, wireplumber" or "not running: wireplumber".
func AudioServerStatus(pm domain.ProcessManager) string {
	var running, missing []string
	for _, name := range audioServerProcesses {
		pids, err := pm.FindByName(name)
		if err == nil && anyRunning(pm, pids) {
			running = append(running, name)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return strings.Join(running, ", ")
	}
	return "not running: " + strings.Join(missing, ", ")
}

// anyRunning filters out matches that exited after the process list was read.
func anyRunning(pm domain.ProcessManager, pids []int) bool {
	for _, pid := range pids {
		if pm.IsRunning(pid) {
			return true
		}
	}
	return false
}
