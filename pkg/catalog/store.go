// Package catalog keeps raw save images in a local SQLite database. Images
// are stored byte for byte as read from the chip.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for unknown backup ids.
var ErrNotFound = errors.New("catalog: backup not found")

// Store is a SQLite-backed backup catalog.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// timeFormat is fixed width so created_at sorts as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Open opens or creates the catalog at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	s := &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DefaultPath returns $CARTSAVE_CATALOG or ~/.cartsave/catalog.db.
func DefaultPath() string {
	if p := os.Getenv("CARTSAVE_CATALOG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cartsave", "catalog.db")
	}
	return filepath.Join(home, ".cartsave", "catalog.db")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS backups (
		id          TEXT PRIMARY KEY,
		slot        INTEGER NOT NULL,
		game_code   TEXT NOT NULL DEFAULT '',
		title       TEXT NOT NULL DEFAULT '',
		technology  TEXT NOT NULL,
		capacity    INTEGER NOT NULL,
		created_at  TEXT NOT NULL,
		note        TEXT NOT NULL DEFAULT '',
		image       BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_backups_game ON backups(game_code);
	CREATE INDEX IF NOT EXISTS idx_backups_created ON backups(created_at DESC);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}
