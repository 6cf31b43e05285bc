// Package workspace tracks the workspaces registered with the daemon.
package workspace

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a workspace id is unknown.
var ErrNotFound = errors.New("workspace not found")

// Kind distinguishes project roots from git worktrees derived from them.
type Kind string

const (
	KindProject  Kind = "project"
	KindWorktree Kind = "worktree"
)

// IsWorktree reports whether the entry is a worktree of another workspace.
func (k Kind) IsWorktree() bool { return k == KindWorktree }

// Settings are per-workspace overrides for provider selection and the
// Claude CLI invocation.
type Settings struct {
	Provider   string `json:"provider,omitempty"`
	ClaudeBin  string `json:"claude_bin,omitempty"`
	ClaudeArgs string `json:"claude_args,omitempty"`
}

// Entry describes a single registered workspace.
type Entry struct {
	ID       string   `json:"id"`
	Path     string   `json:"path"`
	ParentID string   `json:"parent_id,omitempty"`
	Kind     Kind     `json:"kind"`
	Settings Settings `json:"settings"`
}

// Registry persists workspace entries in SQLite.
type Registry struct {
	db *sql.DB
}

// Open creates a registry backed by the database at dsn and runs migrations.
func Open(dsn string) (*Registry, error) {
	// For in-memory databases, use shared cache so all connections in the
	// pool see the same data.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *Registry) migrate() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'project',
		settings TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

// Close releases the underlying database.
func (r *Registry) Close() error { return r.db.Close() }

// Put inserts or replaces a workspace entry.
func (r *Registry) Put(entry Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("workspace id must not be empty")
	}
	if entry.Kind == "" {
		entry.Kind = KindProject
	}
	settings, err := json.Marshal(entry.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = r.db.Exec(`INSERT INTO workspaces (id, path, parent_id, kind, settings, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			parent_id = excluded.parent_id,
			kind = excluded.kind,
			settings = excluded.settings,
			updated_at = excluded.updated_at`,
		entry.ID, entry.Path, entry.ParentID, string(entry.Kind), string(settings), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put workspace: %w", err)
	}
	return nil
}

// Get returns the entry for a workspace id, or ErrNotFound.
func (r *Registry) Get(id string) (Entry, error) {
	row := r.db.QueryRow(`SELECT id, path, parent_id, kind, settings FROM workspaces WHERE id = ?`, id)
	return scanEntry(row)
}

// Parent returns the parent entry of a workspace, if it has one.
func (r *Registry) Parent(entry Entry) (Entry, bool) {
	if entry.ParentID == "" {
		return Entry{}, false
	}
	parent, err := r.Get(entry.ParentID)
	if err != nil {
		return Entry{}, false
	}
	return parent, true
}

// List returns all workspace entries ordered by id.
func (r *Registry) List() ([]Entry, error) {
	rows, err := r.db.Query(`SELECT id, path, parent_id, kind, settings FROM workspaces ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Delete removes a workspace entry. Deleting an unknown id is a no-op.
func (r *Registry) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM workspaces WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var entry Entry
	var kind, settings string
	err := row.Scan(&entry.ID, &entry.Path, &entry.ParentID, &kind, &settings)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("scan workspace: %w", err)
	}
	entry.Kind = Kind(kind)
	if err := json.Unmarshal([]byte(settings), &entry.Settings); err != nil {
		return Entry{}, fmt.Errorf("decode settings: %w", err)
	}
	return entry, nil
}
