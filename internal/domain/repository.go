package domain

import "context"

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// ListNames returns the normalized names of all running processes.
	// Multiple instances of one executable appear multiple times.
	ListNames(ctx context.Context) ([]string, error)

	// FindByName returns PIDs of processes whose normalized name equals name.
	FindByName(ctx context.Context, name string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(ctx context.Context, pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// UsageSampler is the platform strategy behind the usage tracker.
// One implementation is selected at process start.
type UsageSampler interface {
	// Name identifies the strategy in logs.
	Name() string

	// Sample returns the normalized names of the running processes.
	Sample(ctx context.Context) ([]string, error)

	// Terminate kills every process with the given normalized name.
	Terminate(ctx context.Context, processName string) error
}

// WebsiteActivity answers whether a browser tab is open on a domain.
type WebsiteActivity interface {
	IsDomainActive(domainOrURL string) bool
}

// TabUpdater receives wholesale tab URL snapshots from the control channel.
type TabUpdater interface {
	UpdateUrls(urls []string)
}

// TabCloser pushes tab-close commands to connected browser extensions.
type TabCloser interface {
	SendCloseTabCommand(ctx context.Context, domain string) error
}

// Notifier surfaces warnings to the user.
// ShowWarning blocks until the warning is dismissed; onAcknowledge is invoked
// when the user accepts it. Returning without calling onAcknowledge leaves the
// target ignored.
type Notifier interface {
	ShowWarning(ctx context.Context, w Warning, onAcknowledge func()) error
}

// LimitStore is the durable store of monitored targets.
// Implementation: SQLite (optionally SQLCipher encrypted).
type LimitStore interface {
	// LoadAllLimits returns every limit scoped to the computer.
	LoadAllLimits(ctx context.Context, computerID string) ([]Limit, error)

	// UpdateIgnoreStatus sets the ignore flag of a target.
	UpdateIgnoreStatus(ctx context.Context, key string, ignore bool) error

	// CheckIgnoreStatus returns the ignore flag of a target.
	CheckIgnoreStatus(ctx context.Context, key string) (bool, error)

	// SaveLimits inserts or replaces a limit.
	SaveLimits(ctx context.Context, limit Limit) error

	// DeleteApp removes a target.
	DeleteApp(ctx context.Context, key string) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// DaemonRegistry provides daemon discovery for the status command.
// Implementation: JSON file in the data directory.
type DaemonRegistry interface {
	// Register saves the running daemon's state.
	Register(state DaemonState) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat() error

	// IsAlive checks if the registered daemon is running via PID.
	IsAlive() (bool, error)

	// Get returns the registry state, nil when no daemon registered.
	Get() (*DaemonState, error)

	// Clear removes registry file.
	Clear() error

	// GetRegistryPath returns the registry file path (for tests).
	GetRegistryPath() string
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
