package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// ListRevisions returns a record's edit history, newest first.
func (s *Store) ListRevisions(ctx context.Context, recordID string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, field, old_value, new_value, edited_by, edited_at
		FROM revisions WHERE record_id = ?
		ORDER BY edited_at DESC, id DESC`, recordID)
	if err != nil {
		return nil, errors.Wrap(err, "list revisions")
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.ID, &rev.RecordID, &rev.Field, &rev.OldValue,
			&rev.NewValue, &rev.EditedBy, &rev.EditedAt); err != nil {
			return nil, errors.Wrap(err, "scan revision")
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

func (s *Store) GetRevision(ctx context.Context, id string) (Revision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, record_id, field, old_value, new_value, edited_by, edited_at
		FROM revisions WHERE id = ?`, id)

	var rev Revision
	err := row.Scan(&rev.ID, &rev.RecordID, &rev.Field, &rev.OldValue,
		&rev.NewValue, &rev.EditedBy, &rev.EditedAt)
	if err == sql.ErrNoRows {
		return Revision{}, ErrNotFound
	}
	if err != nil {
		return Revision{}, errors.Wrap(err, "get revision")
	}
	return rev, nil
}
