package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // Ensure sqlcipher driver is registered.
	_ "modernc.org/sqlite"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

// Store drivers.
const (
	DriverSQLCipher = "sqlcipher" // encrypted, cgo (registers as "sqlite3")
	DriverSQLite    = "sqlite"    // plain, pure Go
)

const (
	// LimitsDBName is the default database file name in the data directory.
	LimitsDBName = "limits.db"
)

// StoreOptions configures NewSQLStore.
type StoreOptions struct {
	Driver     string // DriverSQLCipher or DriverSQLite
	Path       string // Database file
	Key        []byte // SQLCipher key, required for DriverSQLCipher
	ComputerID string // Scope of key-only operations
}

// SQLStore implements domain.LimitStore on SQLite.
// Durations are stored as integer milliseconds.
type SQLStore struct {
	db         *sql.DB
	path       string
	computerID string
}

// NewSQLStore opens (or creates) the limit database.
func NewSQLStore(opts StoreOptions) (*SQLStore, error) {
	if opts.Path == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var (
		driverName string
		dsn        string
	)
	switch opts.Driver {
	case DriverSQLCipher:
		if len(opts.Key) == 0 {
			return nil, errors.New("sqlcipher store requires a key")
		}
		driverName = "sqlite3"
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096",
			opts.Path, hex.EncodeToString(opts.Key))
	case DriverSQLite, "":
		driverName = "sqlite"
		dsn = opts.Path + "?_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open limit database: %w", err)
	}

	// Verify the key works by running a query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to limit database: %w", err)
	}

	s := &SQLStore{db: db, path: opts.Path, computerID: opts.ComputerID}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// OpenLimitStore opens the store for the given driver. For SQLCipher the key
// is read from beside the database, and generated there on first use.
func OpenLimitStore(driver, path, computerID string) (*SQLStore, error) {
	opts := StoreOptions{Driver: driver, Path: path, ComputerID: computerID}
	if driver == DriverSQLCipher {
		key, err := EnsureStoreKey(NewFileKeyProvider(path))
		if err != nil {
			return nil, fmt.Errorf("failed to load store key: %w", err)
		}
		opts.Key = key
	}
	return NewSQLStore(opts)
}

// createTables creates the schema if it doesn't exist.
func (s *SQLStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS limits (
		computer_id TEXT NOT NULL,
		target_key TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		warning_ms INTEGER NOT NULL DEFAULT 0,
		kill_ms INTEGER NOT NULL DEFAULT 0,
		ignored INTEGER NOT NULL DEFAULT 0,
		is_website INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (computer_id, target_key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLStore) Path() string {
	return s.path
}

// LoadAllLimits returns every limit of the computer, ordered by key.
func (s *SQLStore) LoadAllLimits(ctx context.Context, computerID string) ([]domain.Limit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_key, name, warning_ms, kill_ms, ignored, is_website
		FROM limits WHERE computer_id = ? ORDER BY target_key`, computerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query limits: %w", err)
	}
	defer rows.Close()

	var limits []domain.Limit
	for rows.Next() {
		var (
			l                  domain.Limit
			warnMs, killMs     int64
			ignored, isWebsite bool
		)
		if err := rows.Scan(&l.Key, &l.Name, &warnMs, &killMs, &ignored, &isWebsite); err != nil {
			return nil, fmt.Errorf("failed to scan limit: %w", err)
		}
		l.ComputerID = computerID
		l.WarningDuration = time.Duration(warnMs) * time.Millisecond
		l.KillDuration = time.Duration(killMs) * time.Millisecond
		l.Ignore = ignored
		l.IsWebsite = isWebsite
		limits = append(limits, l)
	}
	return limits, rows.Err()
}

// UpdateIgnoreStatus sets the ignore flag of a target.
func (s *SQLStore) UpdateIgnoreStatus(ctx context.Context, key string, ignore bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE limits SET ignored = ?, updated_at = ?
		WHERE computer_id = ? AND target_key = ?`,
		ignore, time.Now().Unix(), s.computerID, normalizeStoreKey(key))
	if err != nil {
		return fmt.Errorf("failed to update ignore status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrLimitNotFound, key)
	}
	return nil
}

// CheckIgnoreStatus returns the ignore flag of a target.
func (s *SQLStore) CheckIgnoreStatus(ctx context.Context, key string) (bool, error) {
	var ignored bool
	err := s.db.QueryRowContext(ctx, `
		SELECT ignored FROM limits WHERE computer_id = ? AND target_key = ?`,
		s.computerID, normalizeStoreKey(key)).Scan(&ignored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", domain.ErrLimitNotFound, key)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ignore status: %w", err)
	}
	return ignored, nil
}

// SaveLimits inserts or replaces a limit. Keys are normalized: websites to
// their domain, applications to the lower-cased path.
func (s *SQLStore) SaveLimits(ctx context.Context, limit domain.Limit) error {
	limit = NormalizeLimit(limit)
	if err := limit.Validate(); err != nil {
		return err
	}
	computerID := limit.ComputerID
	if computerID == "" {
		computerID = s.computerID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO limits
			(computer_id, target_key, name, warning_ms, kill_ms, ignored, is_website, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		computerID, limit.Key, limit.Name,
		limit.WarningDuration.Milliseconds(), limit.KillDuration.Milliseconds(),
		limit.Ignore, limit.IsWebsite, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save limit: %w", err)
	}
	return nil
}

// DeleteApp removes a target.
func (s *SQLStore) DeleteApp(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM limits WHERE computer_id = ? AND target_key = ?`,
		s.computerID, normalizeStoreKey(key))
	if err != nil {
		return fmt.Errorf("failed to delete limit: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrLimitNotFound, key)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NormalizeLimit rewrites the key of a limit into target-key form.
func NormalizeLimit(l domain.Limit) domain.Limit {
	if domain.IsWebsiteLimit(l) {
		l.Key = domain.WebsiteKey(l.Key)
		l.IsWebsite = true
	} else {
		l.Key = domain.AppKey(l.Key)
	}
	return l
}

func normalizeStoreKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Ensure SQLStore implements domain.LimitStore.
var _ domain.LimitStore = (*SQLStore)(nil)
