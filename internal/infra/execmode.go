package infra

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs as the logged-in user
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root for every user of the machine
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // Limit database, store key and daemon registry
	LogPath    string // Rotated daemon log
	ConfigPath string // Optional YAML config
	IsRoot     bool
}

const (
	systemDataDir = "/var/lib/hourglass"
	userDataDir   = ".hourglass"
)

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return modeConfig(ExecModeSystem, systemDataDir)
	}
	return modeConfig(ExecModeUser, filepath.Join(GetRealUserHome(), userDataDir))
}

func modeConfig(mode ExecMode, dataDir string) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       mode,
		DataDir:    dataDir,
		LogPath:    filepath.Join(dataDir, "hourglass.log"),
		ConfigPath: filepath.Join(dataDir, "config.yaml"),
		IsRoot:     mode == ExecModeSystem,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// DefaultComputerID derives a stable identifier for this machine from its hostname.
func DefaultComputerID() string {
	hostname, _ := os.Hostname()
	return ComputerIDFor(hostname)
}

// ComputerIDFor hashes a hostname into a computer identifier.
func ComputerIDFor(hostname string) string {
	hash := md5.Sum([]byte("hourglass-" + hostname))
	return hex.EncodeToString(hash[:])
}
