// Package store is the relational layer: issues, article records, tags,
// authors, revisions and OCR jobs in SQLite.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store wraps the SQLite database. Writes are serialized through mu; SQLite
// has a single writer anyway and this keeps multi-statement transactions
// from contending on SQLITE_BUSY.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open creates or opens the archive database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize schema")
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		publication TEXT NOT NULL DEFAULT '',
		issue_number TEXT NOT NULL DEFAULT '',
		published_on TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		page_count INTEGER NOT NULL DEFAULT 0,
		pdf_key TEXT NOT NULL DEFAULT '',
		pdf_url TEXT NOT NULL DEFAULT '',
		pdf_bytes INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_issues_year ON issues(year);
	CREATE INDEX IF NOT EXISTS idx_issues_publication ON issues(publication);

	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		issue_id TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		start_page INTEGER NOT NULL,
		end_page INTEGER NOT NULL,
		crop_x REAL,
		crop_y REAL,
		crop_w REAL,
		crop_h REAL,
		ocr_status TEXT NOT NULL DEFAULT 'pending',
		ocr_text TEXT NOT NULL DEFAULT '',
		ocr_text_key TEXT NOT NULL DEFAULT '',
		ocr_error TEXT NOT NULL DEFAULT '',
		needs_review INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_issue ON records(issue_id);
	CREATE INDEX IF NOT EXISTS idx_records_status ON records(ocr_status);
	CREATE INDEX IF NOT EXISTS idx_records_title ON records(title);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE
	);
	CREATE TABLE IF NOT EXISTS record_tags (
		record_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
		tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (record_id, tag_id)
	);

	CREATE TABLE IF NOT EXISTS authors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE
	);
	CREATE TABLE IF NOT EXISTS record_authors (
		record_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
		author_id TEXT NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
		PRIMARY KEY (record_id, author_id)
	);

	CREATE TABLE IF NOT EXISTS revisions (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
		field TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		edited_by TEXT NOT NULL DEFAULT '',
		edited_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_revisions_record ON revisions(record_id, edited_at);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_record ON jobs(record_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}
