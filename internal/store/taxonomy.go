package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrDuplicateName is returned when a tag or author name already exists
// (names are unique case-insensitively).
var ErrDuplicateName = errors.New("name already exists")

// Tags and authors share a shape: an id/name table plus a record join table.
// taxonomy carries the table names so both go through one implementation.
type taxonomy struct {
	table     string
	joinTable string
	joinCol   string
}

var (
	tagTaxonomy    = taxonomy{table: "tags", joinTable: "record_tags", joinCol: "tag_id"}
	authorTaxonomy = taxonomy{table: "authors", joinTable: "record_authors", joinCol: "author_id"}
)

func (s *Store) CreateTag(ctx context.Context, name string) (Tag, error) {
	id, name, err := s.createTaxon(ctx, tagTaxonomy, name)
	return Tag{ID: id, Name: name}, err
}

func (s *Store) CreateAuthor(ctx context.Context, name string) (Author, error) {
	id, name, err := s.createTaxon(ctx, authorTaxonomy, name)
	return Author{ID: id, Name: name}, err
}

func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.listTaxa(ctx, tagTaxonomy)
	if err != nil {
		return nil, err
	}
	out := make([]Tag, len(rows))
	for i, r := range rows {
		out[i] = Tag{ID: r.id, Name: r.name, RecordCount: r.count}
	}
	return out, nil
}

func (s *Store) ListAuthors(ctx context.Context) ([]Author, error) {
	rows, err := s.listTaxa(ctx, authorTaxonomy)
	if err != nil {
		return nil, err
	}
	out := make([]Author, len(rows))
	for i, r := range rows {
		out[i] = Author{ID: r.id, Name: r.name, RecordCount: r.count}
	}
	return out, nil
}

func (s *Store) RenameTag(ctx context.Context, id, name string) error {
	return s.renameTaxon(ctx, tagTaxonomy, id, name)
}

func (s *Store) RenameAuthor(ctx context.Context, id, name string) error {
	return s.renameTaxon(ctx, authorTaxonomy, id, name)
}

func (s *Store) DeleteTag(ctx context.Context, id string) error {
	return s.deleteTaxon(ctx, tagTaxonomy, id)
}

func (s *Store) DeleteAuthor(ctx context.Context, id string) error {
	return s.deleteTaxon(ctx, authorTaxonomy, id)
}

// MergeTags folds loserID into winnerID: join rows re-point (deduplicated by
// the join table's primary key) and the loser is deleted.
func (s *Store) MergeTags(ctx context.Context, winnerID, loserID string) error {
	return s.mergeTaxa(ctx, tagTaxonomy, winnerID, loserID)
}

func (s *Store) MergeAuthors(ctx context.Context, winnerID, loserID string) error {
	return s.mergeTaxa(ctx, authorTaxonomy, winnerID, loserID)
}

// GetOrCreateTagsByName resolves names to ids, creating missing entries.
// Used when applying AI drafts, which suggest names rather than ids.
func (s *Store) GetOrCreateTagsByName(ctx context.Context, names []string) ([]Tag, error) {
	out := make([]Tag, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tag, err := s.CreateTag(ctx, name)
		if errors.Is(err, ErrDuplicateName) {
			var existing Tag
			row := s.db.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE name = ? COLLATE NOCASE`, name)
			if err := row.Scan(&existing.ID, &existing.Name); err != nil {
				return nil, errors.Wrap(err, "lookup tag")
			}
			out = append(out, existing)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	return out, nil
}

// ---------- Shared implementation ----------

type taxonRow struct {
	id    string
	name  string
	count int
}

func (s *Store) createTaxon(ctx context.Context, tax taxonomy, name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", errors.New("name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO `+tax.table+` (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", "", ErrDuplicateName
		}
		return "", "", errors.Wrapf(err, "insert %s", tax.table)
	}
	return id, name, nil
}

func (s *Store) listTaxa(ctx context.Context, tax taxonomy) ([]taxonRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, COUNT(j.record_id)
		FROM `+tax.table+` t
		LEFT JOIN `+tax.joinTable+` j ON j.`+tax.joinCol+` = t.id
		GROUP BY t.id, t.name
		ORDER BY t.name COLLATE NOCASE`)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", tax.table)
	}
	defer rows.Close()

	var out []taxonRow
	for rows.Next() {
		var r taxonRow
		if err := rows.Scan(&r.id, &r.name, &r.count); err != nil {
			return nil, errors.Wrapf(err, "scan %s", tax.table)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) renameTaxon(ctx context.Context, tax taxonomy, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE `+tax.table+` SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateName
		}
		return errors.Wrapf(err, "rename %s", tax.table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) deleteTaxon(ctx context.Context, tax taxonomy, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM `+tax.table+` WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete %s", tax.table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) mergeTaxa(ctx context.Context, tax taxonomy, winnerID, loserID string) error {
	if winnerID == loserID {
		return errors.New("cannot merge an entry into itself")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer dbtx.Rollback()

	for _, id := range []string{winnerID, loserID} {
		var one int
		err := dbtx.QueryRowContext(ctx, `SELECT 1 FROM `+tax.table+` WHERE id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return errors.Wrapf(err, "check %s", tax.table)
		}
	}

	_, err = dbtx.ExecContext(ctx, `
		INSERT OR IGNORE INTO `+tax.joinTable+` (record_id, `+tax.joinCol+`)
		SELECT record_id, ? FROM `+tax.joinTable+` WHERE `+tax.joinCol+` = ?`,
		winnerID, loserID)
	if err != nil {
		return errors.Wrapf(err, "repoint %s", tax.joinTable)
	}

	if _, err := dbtx.ExecContext(ctx, `DELETE FROM `+tax.table+` WHERE id = ?`, loserID); err != nil {
		return errors.Wrapf(err, "delete merged %s", tax.table)
	}

	return errors.Wrap(dbtx.Commit(), "commit")
}
