// Package catalog persists the durable record of every download the engine
// has ever been asked about: one row per identity, independent of whether
// that download is currently live. It is the source of truth for history,
// resume header comparisons, and status.
package catalog

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one row of the downloads table.
type Record struct {
	ID            string
	URL           string
	Filename      string
	Status        *string // nil = in-progress; otherwise "completed"|"paused"|"failed"
	Size          *int64
	BytesReceived int64
	ETag          *string
	ContentType   *string
	LastModified  *string
	Destination   string
	AcceptRanges  bool
	UpdatedAt     int64
}

// Store is a sqlite-backed catalog. All access is serialized through a
// mutex: the connection is treated as single-writer even though the driver
// itself would tolerate more, because WAL mode's concurrent-readers
// guarantee is not something this engine's access pattern needs to lean on.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id             TEXT PRIMARY KEY,
	filename       TEXT NOT NULL,
	status         TEXT CHECK (status IN ('completed', 'paused', 'failed')),
	size           INTEGER,
	bytes_received INTEGER NOT NULL DEFAULT 0,
	url            TEXT NOT NULL,
	etag           TEXT,
	content_type   TEXT,
	last_modified  TEXT,
	destination    TEXT NOT NULL,
	accept_ranges  INTEGER NOT NULL DEFAULT 0,
	updated_at     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status);
CREATE INDEX IF NOT EXISTS idx_downloads_updated_at ON downloads(updated_at);
`

// Open opens (creating if necessary) the sqlite database at path, sets WAL
// mode and NORMAL synchronous, and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = memory",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: applying %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying sqlite connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowUnix() int64 { return time.Now().Unix() }

// FillContentType sniffs the completed file at path via SniffContentType and
// records the result for id, but only if content_type is still unset: a
// server-supplied Content-Type always wins over a guess from the bytes.
func (s *Store) FillContentType(id, path string) error {
	mime, err := SniffContentType(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`UPDATE downloads SET content_type = ?, updated_at = ? WHERE id = ? AND (content_type IS NULL OR content_type = '')`,
		mime, nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("catalog: recording sniffed content type for %s: %w", id, err)
	}
	return nil
}

// Insert adds a new download row. UpdatedAt is set to the current time
// regardless of what rec.UpdatedAt carries.
func (s *Store) Insert(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO downloads (id, url, filename, destination, size, content_type, etag, last_modified, accept_ranges, bytes_received, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.URL, rec.Filename, rec.Destination, rec.Size, rec.ContentType, rec.ETag, rec.LastModified,
		boolToInt(rec.AcceptRanges), rec.BytesReceived, nowUnix(),
	)
	if err != nil {
		return fmt.Errorf("catalog: inserting %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateHeaders overwrites the server-derived header fields, used both for
// the initial probe and for a restart-from-zero resume.
func (s *Store) UpdateHeaders(id string, size *int64, contentType, etag, lastModified *string, acceptRanges bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE downloads SET size = ?, content_type = ?, etag = ?, last_modified = ?, accept_ranges = ?, updated_at = ? WHERE id = ?`,
		size, contentType, etag, lastModified, boolToInt(acceptRanges), nowUnix(), id,
	)
	return err
}

// UpdateProgress sets bytes_received, called by the progress emitter on its
// periodic tick.
func (s *Store) UpdateProgress(id string, bytesReceived int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE downloads SET bytes_received = ?, updated_at = ? WHERE id = ?`,
		bytesReceived, nowUnix(), id,
	)
	return err
}

// UpdateStatus sets status (nil for in-progress, or "completed"/"paused"/"failed").
func (s *Store) UpdateStatus(id string, status *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE downloads SET status = ?, updated_at = ? WHERE id = ?`,
		status, nowUnix(), id,
	)
	return err
}

// MarkCompleted sets status to "completed".
func (s *Store) MarkCompleted(id string) error {
	completed := "completed"
	return s.UpdateStatus(id, &completed)
}

// GetByID returns the record for id, or ok=false if no such record exists.
func (s *Store) GetByID(id string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT id, filename, status, size, bytes_received, url, etag, content_type, last_modified, destination, accept_ranges, updated_at
		 FROM downloads WHERE id = ?`, id,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("catalog: reading %s: %w", id, err)
	}
	return rec, true, nil
}

// ListByStatus returns every record matching status, newest-updated first.
// A nil status selects in-progress downloads (status IS NULL).
func (s *Store) ListByStatus(status *string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, filename, status, size, bytes_received, url, etag, content_type, last_modified, destination, accept_ranges, updated_at
	          FROM downloads WHERE status IS NULL ORDER BY updated_at DESC`
	args := []any{}
	if status != nil {
		query = `SELECT id, filename, status, size, bytes_received, url, etag, content_type, last_modified, destination, accept_ranges, updated_at
		         FROM downloads WHERE status = ? ORDER BY updated_at DESC`
		args = append(args, *status)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListAll returns every record, newest-updated first.
func (s *Store) ListAll() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, filename, status, size, bytes_received, url, etag, content_type, last_modified, destination, accept_ranges, updated_at
		 FROM downloads ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a single record. Deleting a record that does not exist is
// not an error (matches errs.ErrNotFound being the caller's concern, not
// this layer's).
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM downloads WHERE id = ?`, id)
	return err
}

// Purge removes every record; used by an explicit user "clear history" action.
func (s *Store) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM downloads`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var acceptRanges int
	if err := row.Scan(
		&rec.ID, &rec.Filename, &rec.Status, &rec.Size, &rec.BytesReceived, &rec.URL,
		&rec.ETag, &rec.ContentType, &rec.LastModified, &rec.Destination, &acceptRanges, &rec.UpdatedAt,
	); err != nil {
		return Record{}, err
	}
	rec.AcceptRanges = acceptRanges != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
