package links

import (
	"context"
	"crypto/rand"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/johnjansen/switchboard/migrations"
)

//go:embed migrations/*.sql
var storeMigrations embed.FS

// Record names persisted by the overlay.
const (
	RecordLinks         = "links"
	RecordNFTLinks      = "nftLinks"
	RecordNotifications = "notifications"
)

// ErrRecordNotFound is returned when a record has never been written.
var ErrRecordNotFound = errors.New("record not found")

// KeySize is the required at-rest encryption key length.
const KeySize = 32

// Store is the encrypted at-rest key-value store behind the link overlay.
// Each record is a JSON document sealed with NaCl secretbox before it
// touches disk; the random nonce is prefixed to the ciphertext.
type Store struct {
	db  *sql.DB
	key [KeySize]byte
}

// Open opens (or creates) the store at path and applies schema migrations.
// Use ":memory:" for an ephemeral store.
func Open(path string, key []byte) (*Store, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("store key must be %d bytes, got %d", KeySize, len(key))
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open link store: %w", err)
	}

	runner := migrations.NewRunner(db, storeMigrations, "sqlite")
	if err := runner.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate link store: %w", err)
	}

	s := &Store{db: db}
	copy(s.key[:], key)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecord seals v and upserts it under the record name.
func (s *Store) SaveRecord(ctx context.Context, name string, v interface{}) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", name, err)
	}

	sealed, err := s.seal(plain)
	if err != nil {
		return fmt.Errorf("failed to seal record %s: %w", name, err)
	}

	query := `
		INSERT INTO records (name, value, updated_at) VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, name, sealed); err != nil {
		return fmt.Errorf("failed to write record %s: %w", name, err)
	}
	return nil
}

// LoadRecord opens the sealed record into v. Returns ErrRecordNotFound when
// the record has never been written.
func (s *Store) LoadRecord(ctx context.Context, name string, v interface{}) error {
	var sealed []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM records WHERE name = $1", name).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read record %s: %w", name, err)
	}

	plain, err := s.open(sealed)
	if err != nil {
		return fmt.Errorf("failed to open record %s: %w", name, err)
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("failed to unmarshal record %s: %w", name, err)
	}
	return nil
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, errors.New("sealed record too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("record decryption failed")
	}
	return plain, nil
}
