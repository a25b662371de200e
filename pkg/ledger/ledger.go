// Package ledger is the durable record of prior uploads, keyed by absolute
// candidate path. It is the only persisted state of the tool; its lifetime
// spans all runs.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tkrennwa/glacier-backup/pkg/plog"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
    path TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    archive_id TEXT NOT NULL,
    uploaded_at TEXT NOT NULL,    -- RFC3339
    observed_mtime TEXT NOT NULL  -- RFC3339, candidate mtime at upload time
);
`

// Entry records the last successful upload of one path.
type Entry struct {
	// Path is the absolute candidate path, the ledger key.
	Path string
	// Name is the archive description base the path was uploaded as.
	Name string
	// ArchiveID is the identifier returned by the upload transport.
	ArchiveID string
	// UploadedAt is the timestamp of the upload event.
	UploadedAt time.Time
	// ObservedMTime is the candidate's modification time at the moment it
	// was uploaded. Change detection compares against this, not UploadedAt.
	ObservedMTime time.Time
}

// dbEntry is used for scanning from the database where times are stored as TEXT.
type dbEntry struct {
	Path          string `db:"path"`
	Name          string `db:"name"`
	ArchiveID     string `db:"archive_id"`
	UploadedAt    string `db:"uploaded_at"`
	ObservedMTime string `db:"observed_mtime"`
}

// Ledger is an SQLite-backed upload ledger.
type Ledger struct {
	db   *sqlx.DB
	path string
}

// Open creates or opens the ledger database at path. A missing file starts a
// new, empty ledger.
func Open(path string) (*Ledger, error) {
	db, err := newSqliteDB(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize ledger schema: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	plog.Debug("Ledger closed", "path", l.path)
	return nil
}

// Lookup returns the entry for path, or nil if the path was never uploaded.
func (l *Ledger) Lookup(path string) (*Entry, error) {
	var row dbEntry
	err := l.db.Get(&row, "SELECT path, name, archive_id, uploaded_at, observed_mtime FROM uploads WHERE path = ?", path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}

	uploadedAt, err := time.Parse(time.RFC3339, row.UploadedAt)
	if err != nil {
		return nil, fmt.Errorf("parse stored uploaded_at for %s: %w", path, err)
	}
	observedMTime, err := time.Parse(time.RFC3339, row.ObservedMTime)
	if err != nil {
		return nil, fmt.Errorf("parse stored observed_mtime for %s: %w", path, err)
	}

	return &Entry{
		Path:          row.Path,
		Name:          row.Name,
		ArchiveID:     row.ArchiveID,
		UploadedAt:    uploadedAt,
		ObservedMTime: observedMTime,
	}, nil
}

// Record upserts the entry for e.Path. The write is committed before Record
// returns; only then is the upload considered complete.
func (l *Ledger) Record(e Entry) error {
	if e.Path == "" {
		return fmt.Errorf("cannot record entry with empty path")
	}

	row := dbEntry{
		Path:          e.Path,
		Name:          e.Name,
		ArchiveID:     e.ArchiveID,
		UploadedAt:    e.UploadedAt.UTC().Format(time.RFC3339),
		ObservedMTime: e.ObservedMTime.UTC().Format(time.RFC3339),
	}

	query := `INSERT OR REPLACE INTO uploads (path, name, archive_id, uploaded_at, observed_mtime)
	          VALUES (:path, :name, :archive_id, :uploaded_at, :observed_mtime)`
	if _, err := l.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("record upload for %s: %w", e.Path, err)
	}
	plog.Debug("Ledger entry recorded", "path", e.Path, "archiveID", e.ArchiveID)
	return nil
}

// Paths returns all paths known to the ledger, sorted. Mainly useful for
// inspection and tests.
func (l *Ledger) Paths() ([]string, error) {
	var paths []string
	if err := l.db.Select(&paths, "SELECT path FROM uploads ORDER BY path"); err != nil {
		return nil, fmt.Errorf("list ledger paths: %w", err)
	}
	return paths, nil
}
