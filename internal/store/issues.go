package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

func (s *Store) CreateIssue(ctx context.Context, issue *Issue) error {
	if strings.TrimSpace(issue.Title) == "" {
		return errors.New("issue title is required")
	}
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (id, title, publication, issue_number, published_on, year,
			page_count, pdf_key, pdf_url, pdf_bytes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.Title, issue.Publication, issue.IssueNumber, issue.PublishedOn,
		issue.Year, issue.PageCount, issue.PDFKey, issue.PDFURL, issue.PDFBytes,
		issue.CreatedAt, issue.UpdatedAt)
	return errors.Wrap(err, "insert issue")
}

func (s *Store) GetIssue(ctx context.Context, id string) (Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.title, i.publication, i.issue_number, i.published_on, i.year,
			i.page_count, i.pdf_key, i.pdf_url, i.pdf_bytes, i.created_at, i.updated_at,
			(SELECT COUNT(*) FROM records r WHERE r.issue_id = i.id)
		FROM issues i WHERE i.id = ?`, id)

	var issue Issue
	err := row.Scan(&issue.ID, &issue.Title, &issue.Publication, &issue.IssueNumber,
		&issue.PublishedOn, &issue.Year, &issue.PageCount, &issue.PDFKey, &issue.PDFURL,
		&issue.PDFBytes, &issue.CreatedAt, &issue.UpdatedAt, &issue.RecordCount)
	if err == sql.ErrNoRows {
		return Issue{}, ErrNotFound
	}
	if err != nil {
		return Issue{}, errors.Wrap(err, "get issue")
	}
	return issue, nil
}

func (s *Store) ListIssues(ctx context.Context) ([]Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.title, i.publication, i.issue_number, i.published_on, i.year,
			i.page_count, i.pdf_key, i.pdf_url, i.pdf_bytes, i.created_at, i.updated_at,
			(SELECT COUNT(*) FROM records r WHERE r.issue_id = i.id)
		FROM issues i
		ORDER BY i.year DESC, i.published_on DESC, i.created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list issues")
	}
	defer rows.Close()

	var out []Issue
	for rows.Next() {
		var issue Issue
		if err := rows.Scan(&issue.ID, &issue.Title, &issue.Publication, &issue.IssueNumber,
			&issue.PublishedOn, &issue.Year, &issue.PageCount, &issue.PDFKey, &issue.PDFURL,
			&issue.PDFBytes, &issue.CreatedAt, &issue.UpdatedAt, &issue.RecordCount); err != nil {
			return nil, errors.Wrap(err, "scan issue")
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

// DeleteIssue removes the issue and, via cascades, its records, join rows,
// revisions and jobs. The caller receives the blob keys that backed the
// deleted rows so it can clean the blob store.
func (s *Store) DeleteIssue(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	var keys []string
	rows, err := tx.QueryContext(ctx, `
		SELECT pdf_key FROM issues WHERE id = ? AND pdf_key != ''
		UNION ALL
		SELECT ocr_text_key FROM records WHERE issue_id = ? AND ocr_text_key != ''`, id, id)
	if err != nil {
		return nil, errors.Wrap(err, "collect blob keys")
	}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan blob key")
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "collect blob keys")
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM issues WHERE id = ?`, id)
	if err != nil {
		return nil, errors.Wrap(err, "delete issue")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return keys, errors.Wrap(tx.Commit(), "commit")
}
