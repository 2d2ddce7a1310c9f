// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared by stores and the CLI.
var (
	ErrLimitNotFound = errors.New("limit not found")
	ErrInvalidLimit  = errors.New("invalid limit")
)

// Limit is the configured usage threshold for one monitored target.
// Zero durations disable that kind of threshold.
type Limit struct {
	Key             string        // Normalized target key (app path or website domain)
	Name            string        // Human readable name
	ComputerID      string        // Computer the limit is scoped to
	WarningDuration time.Duration // Usage before the warning dialog
	KillDuration    time.Duration // Usage before termination / tab close
	Ignore          bool          // Suppresses all enforcement until cleared
	IsWebsite       bool
}

// Validate checks the invariants of a limit before it is persisted.
func (l Limit) Validate() error {
	if l.Key == "" {
		return fmt.Errorf("%w: empty target key", ErrInvalidLimit)
	}
	if l.WarningDuration < 0 || l.KillDuration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidLimit)
	}
	return nil
}

// Usage is the volatile counter pair accumulated for a target.
// Both counters grow by the same delta and are reset together on kill.
type Usage struct {
	WarningUsage time.Duration
	KillUsage    time.Duration
}

// IsZero reports whether no usage has been accumulated.
func (u Usage) IsZero() bool {
	return u.WarningUsage == 0 && u.KillUsage == 0
}

// Warning is the payload handed to the notifier when a warning threshold is crossed.
type Warning struct {
	Key           string
	DisplayName   string
	Title         string
	Message       string
	TimeRemaining time.Duration
	IsWebsite     bool
}

// DaemonState stores the running daemon's identity for the status command.
// Persisted to a JSON file next to the limit store.
type DaemonState struct {
	PID           int       `json:"pid"`
	ComputerID    string    `json:"computer_id"`
	ListenAddr    string    `json:"listen_addr"`
	AppVersion    string    `json:"app_version,omitempty"`
	Mode          string    `json:"mode,omitempty"` // "user" or "system"
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat int64     `json:"last_heartbeat"`
}
