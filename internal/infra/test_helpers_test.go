package infra

import (
	"context"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

// mockCommandRunner is a test double for CommandRunner. Outputs and errors
// are keyed by the full command line.
type mockCommandRunner struct {
	mu      sync.Mutex
	outputs map[string][]byte
	errs    map[string]error
	calls   []string
	started []string
}

func newMockCommandRunner() *mockCommandRunner {
	return &mockCommandRunner{
		outputs: make(map[string][]byte),
		errs:    make(map[string]error),
	}
}

func commandLine(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func (m *mockCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line := commandLine(name, args...)
	m.calls = append(m.calls, line)
	if err := m.errs[line]; err != nil {
		return nil, err
	}
	return m.outputs[line], nil
}

func (m *mockCommandRunner) Start(name string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	line := commandLine(name, args...)
	m.started = append(m.started, line)
	return m.errs[line]
}

// mockProcessManager is a test double for ProcessManager. PIDs listed in
// exited are found by name but no longer running.
type mockProcessManager struct {
	byName map[string][]int
	exited map[int]bool
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) {
	return m.byName[pattern], nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return !m.exited[pid]
}

var _ domain.ProcessManager = (*mockProcessManager)(nil)
