package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const (
	petsKey   = "pets"
	groupsKey = "groups"
)

// SQLiteCatalog reads the catalog from a client-local key/value table.
// Each key holds a JSON array, the same layout the owning application writes.
type SQLiteCatalog struct {
	db *sql.DB
}

// OpenSQLite opens or creates the key/value database at path
func OpenSQLite(path string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return &SQLiteCatalog{db: db}, nil
}

func (c *SQLiteCatalog) ListPets(ctx context.Context) ([]Pet, error) {
	pets := []Pet{}
	if err := c.get(ctx, petsKey, &pets); err != nil {
		return nil, err
	}
	return pets, nil
}

func (c *SQLiteCatalog) ListGroups(ctx context.Context) ([]Group, error) {
	groups := []Group{}
	if err := c.get(ctx, groupsKey, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// PutPets replaces the stored pets
func (c *SQLiteCatalog) PutPets(ctx context.Context, pets []Pet) error {
	return c.put(ctx, petsKey, pets)
}

// PutGroups replaces the stored groups
func (c *SQLiteCatalog) PutGroups(ctx context.Context, groups []Group) error {
	return c.put(ctx, groupsKey, groups)
}

// Import replaces both pets and groups with the snapshot contents
func (c *SQLiteCatalog) Import(ctx context.Context, s Snapshot) error {
	if s.Pets == nil {
		s.Pets = []Pet{}
	}
	if s.Groups == nil {
		s.Groups = []Group{}
	}
	if err := c.PutPets(ctx, s.Pets); err != nil {
		return err
	}
	return c.PutGroups(ctx, s.Groups)
}

func (c *SQLiteCatalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// get leaves dst untouched when key is absent
func (c *SQLiteCatalog) get(ctx context.Context, key string, dst any) error {
	var raw string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (c *SQLiteCatalog) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
