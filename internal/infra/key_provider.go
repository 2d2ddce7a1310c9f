package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

const keySize = 32 // 256-bit SQLCipher raw key

// ErrStoreKeyMissing is returned when an encrypted limit database exists but
// its key file does not. A fresh key could never open it.
var ErrStoreKeyMissing = errors.New("limit database exists but its key file is missing")

// FileKeyProvider implements domain.KeyProvider for one limit database. The
// key sits beside the database as a hidden ".<db name>.key" file holding the
// hex form used by the SQLCipher key pragma.
type FileKeyProvider struct {
	dbPath  string
	keyPath string
}

// NewFileKeyProvider creates the key provider of the database at dbPath.
func NewFileKeyProvider(dbPath string) *FileKeyProvider {
	return &FileKeyProvider{
		dbPath:  dbPath,
		keyPath: keyPathFor(dbPath),
	}
}

// keyPathFor keeps the key name outside the database's base-name prefix so
// key writes never look like store changes.
func keyPathFor(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "."+filepath.Base(dbPath)+".key")
}

// KeyPath returns the key file path.
func (p *FileKeyProvider) KeyPath() string {
	return p.keyPath
}

// GetKey reads and validates the database key.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key %s: %w", p.keyPath, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size in %s: got %d bytes, want %d", p.keyPath, len(key), keySize)
	}
	return key, nil
}

// StoreKey writes the key with owner-only permissions. An existing key is
// never replaced, since the database it opens would become unreadable.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d bytes, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	f, err := os.OpenFile(p.keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return f.Close()
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// databaseHasData reports whether the database file exists and is non-empty.
func (p *FileKeyProvider) databaseHasData() bool {
	info, err := os.Stat(p.dbPath)
	return err == nil && info.Size() > 0
}

// GenerateKey creates a new random 256-bit encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureStoreKey returns the key of the provider's database, generating one
// on first use. A populated database without a key yields ErrStoreKeyMissing.
func EnsureStoreKey(p *FileKeyProvider) ([]byte, error) {
	if p.KeyExists() {
		return p.GetKey()
	}
	if p.databaseHasData() {
		return nil, fmt.Errorf("%w: %s (expected key at %s)", ErrStoreKeyMissing, p.dbPath, p.keyPath)
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := p.StoreKey(key); err != nil {
		if errors.Is(err, os.ErrExist) {
			// Another process created the key first.
			return p.GetKey()
		}
		return nil, err
	}
	return key, nil
}

var _ domain.KeyProvider = (*FileKeyProvider)(nil)
