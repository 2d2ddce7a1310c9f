package infra

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	mu         sync.Mutex
	processes  map[int]string // pid -> normalized name
	killErrs   map[int]error
	killedPIDs []int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		processes: make(map[int]string),
	}
}

func (m *mockProcessManager) ListNames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.processes))
	for _, n := range m.processes {
		names = append(names, n)
	}
	return names, nil
}

func (m *mockProcessManager) FindByName(_ context.Context, name string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pids []int
	for pid, n := range m.processes {
		if n == domain.NormalizeProcessName(name) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (m *mockProcessManager) Kill(_ context.Context, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.killErrs[pid]; err != nil {
		return err
	}
	if _, ok := m.processes[pid]; !ok {
		return fmt.Errorf("process %d not found", pid)
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	delete(m.processes, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processes[pid]
	return ok
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) AddProcess(pid int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processes[pid] = domain.NormalizeProcessName(name)
}

// SetRunning marks a PID as running under a placeholder name.
func (m *mockProcessManager) SetRunning(pid int, running bool) {
	if running {
		m.AddProcess(pid, fmt.Sprintf("proc-%d", pid))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processes, pid)
}

var _ domain.ProcessManager = (*mockProcessManager)(nil)
