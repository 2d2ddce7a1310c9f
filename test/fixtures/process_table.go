// Package fixtures provides test helpers shared by package and integration tests.
package fixtures

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

// FakeProcessTable is an in-memory process table implementing
// domain.ProcessManager. Killed processes disappear from the table.
type FakeProcessTable struct {
	mu      sync.Mutex
	procs   map[int]string
	nextPID int
	killed  []string
	selfPID int
}

// NewFakeProcessTable creates a table holding the given process names.
func NewFakeProcessTable(names ...string) *FakeProcessTable {
	t := &FakeProcessTable{
		procs:   make(map[int]string),
		nextPID: 1000,
		selfPID: 1,
	}
	for _, name := range names {
		t.Start(name)
	}
	return t
}

// Start adds a running process and returns its pid.
func (t *FakeProcessTable) Start(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextPID++
	t.procs[t.nextPID] = name
	return t.nextPID
}

// Killed returns the names of killed processes in kill order.
func (t *FakeProcessTable) Killed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.killed...)
}

// Running reports whether any process with the given normalized name is alive.
func (t *FakeProcessTable) Running(name string) bool {
	pids, _ := t.FindByName(context.Background(), name)
	return len(pids) > 0
}

// ListNames returns the normalized names of all running processes.
func (t *FakeProcessTable) ListNames(_ context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.procs))
	for _, name := range t.procs {
		names = append(names, domain.NormalizeProcessName(name))
	}
	sort.Strings(names)
	return names, nil
}

// FindByName returns pids whose normalized name matches.
func (t *FakeProcessTable) FindByName(_ context.Context, name string) ([]int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	want := domain.NormalizeProcessName(name)
	var pids []int
	for pid, n := range t.procs {
		if domain.NormalizeProcessName(n) == want {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

// Kill removes a process from the table.
func (t *FakeProcessTable) Kill(_ context.Context, pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.procs[pid]
	if !ok {
		return fmt.Errorf("process %d not found", pid)
	}
	delete(t.procs, pid)
	t.killed = append(t.killed, domain.NormalizeProcessName(name))
	return nil
}

// IsRunning reports whether pid is in the table.
func (t *FakeProcessTable) IsRunning(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pid == t.selfPID {
		return true
	}
	_, ok := t.procs[pid]
	return ok
}

// GetCurrentPID returns the pid the table treats as the caller.
func (t *FakeProcessTable) GetCurrentPID() int {
	return t.selfPID
}

var _ domain.ProcessManager = (*FakeProcessTable)(nil)
