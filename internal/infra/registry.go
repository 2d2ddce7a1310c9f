package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

const registryFileName = "daemon.json"

// FileRegistry implements domain.DaemonRegistry using a JSON file in the data
// directory. Writes are serialized across processes with a lock file.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRegistry creates a registry in the data directory.
func NewFileRegistry(dataDir string, pm domain.ProcessManager) domain.DaemonRegistry {
	return NewFileRegistryWithPath(filepath.Join(dataDir, registryFileName), pm)
}

// NewFileRegistryWithPath creates a registry at a specific path (for testing).
func NewFileRegistryWithPath(path string, pm domain.ProcessManager) domain.DaemonRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
	}
}

// GetRegistryPath returns the registry file path.
func (r *FileRegistry) GetRegistryPath() string {
	return r.path
}

// Register saves the running daemon's state, replacing any previous entry.
func (r *FileRegistry) Register(state domain.DaemonState) error {
	return r.withLock(func() error {
		state.LastHeartbeat = time.Now().Unix()
		if state.Mode == "" {
			state.Mode = string(DetectExecMode().Mode)
		}
		return r.atomicWrite(&state)
	})
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileRegistry) UpdateHeartbeat() error {
	return r.withLock(func() error {
		state, err := r.Get()
		if err != nil {
			return err
		}
		if state == nil {
			return errors.New("no daemon registered")
		}
		state.LastHeartbeat = time.Now().Unix()
		return r.atomicWrite(state)
	})
}

// IsAlive checks if the registered daemon is running via PID.
func (r *FileRegistry) IsAlive() (bool, error) {
	state, err := r.Get()
	if err != nil {
		return false, err
	}
	if state == nil || state.PID == 0 {
		return false, nil
	}
	return r.processManager.IsRunning(state.PID), nil
}

// Get returns the registry state, nil when the file does not exist.
func (r *FileRegistry) Get() (*domain.DaemonState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state domain.DaemonState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	return &state, nil
}

// Clear removes registry file.
func (r *FileRegistry) Clear() error {
	return r.withLock(func() error {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

func (r *FileRegistry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	lock := flock.New(r.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// atomicWrite writes registry to file atomically (write + rename).
func (r *FileRegistry) atomicWrite(state *domain.DaemonState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure FileRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileRegistry)(nil)
