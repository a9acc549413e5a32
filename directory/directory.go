// Package directory stores client profiles keyed by their normalized phone
// number. The profile tool reads from it; ingestion jobs write to it.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no profile exists for the key.
var ErrNotFound = errors.New("directory: profile not found")

// Profile is what the sales assistant knows about one client.
type Profile struct {
	Phone     string
	Name      string
	Notes     string
	Tags      []string
	UpdatedAt time.Time
}

// Summary renders the profile as the plain text the profile tool returns.
func (p Profile) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nPhone: %s", p.Name, p.Phone)
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, "\nTags: %s", strings.Join(p.Tags, ", "))
	}
	if p.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s", p.Notes)
	}
	return b.String()
}

// SQLiteDirectory is a sqlite-backed profile store.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory opens (or creates) the directory at dbPath.
func NewSQLiteDirectory(dbPath string) (*SQLiteDirectory, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	d := &SQLiteDirectory{db: db}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *SQLiteDirectory) initSchema() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS client_profiles (
			phone      TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			notes      TEXT NOT NULL DEFAULT '',
			tags       TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("init directory schema: %w", err)
	}
	return nil
}

// Get loads the profile for a normalized phone key.
func (d *SQLiteDirectory) Get(ctx context.Context, phone string) (Profile, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT phone, name, notes, tags, updated_at FROM client_profiles WHERE phone = ?`, phone)

	var p Profile
	var tags string
	var updated int64
	if err := row.Scan(&p.Phone, &p.Name, &p.Notes, &tags, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("get profile %s: %w", phone, err)
	}
	if tags != "" {
		p.Tags = strings.Split(tags, ",")
	}
	p.UpdatedAt = time.Unix(0, updated)
	return p, nil
}

// Upsert stores or replaces a profile.
func (d *SQLiteDirectory) Upsert(ctx context.Context, p Profile) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO client_profiles (phone, name, notes, tags, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			name = excluded.name,
			notes = excluded.notes,
			tags = excluded.tags,
			updated_at = excluded.updated_at`,
		p.Phone, p.Name, p.Notes, strings.Join(p.Tags, ","), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.Phone, err)
	}
	return nil
}

// Close releases the database handle.
func (d *SQLiteDirectory) Close() error { return d.db.Close() }
