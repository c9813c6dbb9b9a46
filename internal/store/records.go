package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pressfold/magarchive/internal/pdfmeta"
)

// ErrOCRRunning is returned when a second OCR run is requested for a record
// that is already being processed.
var ErrOCRRunning = errors.New("ocr already running for record")

// ErrValidation marks record input the store refused. The wrapping message
// carries the specific reason.
var ErrValidation = errors.New("invalid record")

func (s *Store) CreateRecord(ctx context.Context, rec *Record) error {
	if rec.IssueID == "" {
		return errors.Wrap(ErrValidation, "record issue id is required")
	}
	if rec.Crop != nil {
		if err := rec.Crop.Validate(); err != nil {
			return errors.Wrap(ErrValidation, err.Error())
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OCRStatus == "" {
		rec.OCRStatus = OCRPending
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	pageCount, err := issuePageCount(ctx, tx, rec.IssueID)
	if err != nil {
		return err
	}
	pr := pdfmeta.PageRange{Start: rec.StartPage, End: rec.EndPage}
	if err := pr.Validate(pageCount); err != nil {
		return errors.Wrap(ErrValidation, err.Error())
	}

	var cx, cy, cw, ch any
	if rec.Crop != nil {
		cx, cy, cw, ch = rec.Crop.X, rec.Crop.Y, rec.Crop.W, rec.Crop.H
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, issue_id, title, summary, start_page, end_page,
			crop_x, crop_y, crop_w, crop_h, ocr_status, needs_review, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IssueID, rec.Title, rec.Summary, rec.StartPage, rec.EndPage,
		cx, cy, cw, ch, rec.OCRStatus, rec.NeedsReview, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert record")
	}

	if err := replaceJoins(ctx, tx, "record_tags", "tag_id", rec.ID, tagIDs(rec.Tags)); err != nil {
		return err
	}
	if err := replaceJoins(ctx, tx, "record_authors", "author_id", rec.ID, authorIDs(rec.Authors)); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "commit")
}

func (s *Store) GetRecord(ctx context.Context, id string) (Record, error) {
	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, recordSelect+` WHERE r.id = ?`, id))
	if err != nil {
		return Record{}, err
	}
	if err := s.attachJoins(ctx, []*Record{&rec}); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListRecords applies the filter and returns one page plus the total count
// under the same filter.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]Record, int, error) {
	where, args := buildRecordFilter(f)

	var total int
	countQuery := `SELECT COUNT(*) FROM records r JOIN issues i ON i.id = r.issue_id` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count records")
	}

	query := recordSelect + where + orderClause(f)
	pageArgs := args
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		pageArgs = append(append([]any{}, args...), f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "list records")
	}

	ptrs := make([]*Record, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := s.attachJoins(ctx, ptrs); err != nil {
		return nil, 0, err
	}

	return out, total, nil
}

// UpdateRecord applies a patch and appends one revision row per changed
// field, all in one transaction. Tag names (from applied AI drafts) are
// resolved to ids up front, creating missing tags.
func (s *Store) UpdateRecord(ctx context.Context, id string, patch RecordPatch, editedBy string) (Record, error) {
	if patch.TagNames != nil && patch.TagIDs == nil {
		tags, err := s.GetOrCreateTagsByName(ctx, *patch.TagNames)
		if err != nil {
			return Record{}, err
		}
		ids := tagIDs(tags)
		patch.TagIDs = &ids
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	cur, err := s.scanRecord(tx.QueryRowContext(ctx, recordSelect+` WHERE r.id = ?`, id))
	if err != nil {
		return Record{}, err
	}

	type change struct{ field, old, new string }
	var changes []change

	if patch.Title != nil && *patch.Title != cur.Title {
		changes = append(changes, change{"title", cur.Title, *patch.Title})
		cur.Title = *patch.Title
	}
	if patch.Summary != nil && *patch.Summary != cur.Summary {
		changes = append(changes, change{"summary", cur.Summary, *patch.Summary})
		cur.Summary = *patch.Summary
	}
	if patch.StartPage != nil && *patch.StartPage != cur.StartPage {
		changes = append(changes, change{"start_page", strconv.Itoa(cur.StartPage), strconv.Itoa(*patch.StartPage)})
		cur.StartPage = *patch.StartPage
	}
	if patch.EndPage != nil && *patch.EndPage != cur.EndPage {
		changes = append(changes, change{"end_page", strconv.Itoa(cur.EndPage), strconv.Itoa(*patch.EndPage)})
		cur.EndPage = *patch.EndPage
	}
	if patch.NeedsReview != nil && *patch.NeedsReview != cur.NeedsReview {
		changes = append(changes, change{"needs_review", strconv.FormatBool(cur.NeedsReview), strconv.FormatBool(*patch.NeedsReview)})
		cur.NeedsReview = *patch.NeedsReview
	}
	if patch.ClearCrop {
		if cur.Crop != nil {
			changes = append(changes, change{"crop", cropString(cur.Crop), ""})
		}
		cur.Crop = nil
	} else if patch.Crop != nil {
		if err := patch.Crop.Validate(); err != nil {
			return Record{}, errors.Wrap(ErrValidation, err.Error())
		}
		if cropString(cur.Crop) != cropString(patch.Crop) {
			changes = append(changes, change{"crop", cropString(cur.Crop), cropString(patch.Crop)})
		}
		cur.Crop = patch.Crop
	}

	pageCount, err := issuePageCount(ctx, tx, cur.IssueID)
	if err != nil {
		return Record{}, err
	}
	pr := pdfmeta.PageRange{Start: cur.StartPage, End: cur.EndPage}
	if err := pr.Validate(pageCount); err != nil {
		return Record{}, errors.Wrap(ErrValidation, err.Error())
	}

	cur.UpdatedAt = time.Now().UTC()

	var cx, cy, cw, ch any
	if cur.Crop != nil {
		cx, cy, cw, ch = cur.Crop.X, cur.Crop.Y, cur.Crop.W, cur.Crop.H
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE records SET title = ?, summary = ?, start_page = ?, end_page = ?,
			crop_x = ?, crop_y = ?, crop_w = ?, crop_h = ?, needs_review = ?, updated_at = ?
		WHERE id = ?`,
		cur.Title, cur.Summary, cur.StartPage, cur.EndPage,
		cx, cy, cw, ch, cur.NeedsReview, cur.UpdatedAt, id)
	if err != nil {
		return Record{}, errors.Wrap(err, "update record")
	}

	for _, c := range changes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO revisions (id, record_id, field, old_value, new_value, edited_by, edited_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), id, c.field, c.old, c.new, editedBy, cur.UpdatedAt)
		if err != nil {
			return Record{}, errors.Wrap(err, "insert revision")
		}
	}

	if patch.TagIDs != nil {
		if err := replaceJoins(ctx, tx, "record_tags", "tag_id", id, *patch.TagIDs); err != nil {
			return Record{}, err
		}
	}
	if patch.AuthorIDs != nil {
		if err := replaceJoins(ctx, tx, "record_authors", "author_id", id, *patch.AuthorIDs); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, errors.Wrap(err, "commit")
	}

	if err := s.attachJoins(ctx, []*Record{&cur}); err != nil {
		return Record{}, err
	}
	return cur, nil
}

// DeleteRecord removes the record and returns its text blob key, if any.
func (s *Store) DeleteRecord(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key string
	err := s.db.QueryRowContext(ctx, `SELECT ocr_text_key FROM records WHERE id = ?`, id).Scan(&key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "get record blob key")
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	return key, errors.Wrap(err, "delete record")
}

// StartRecordOCR flips a record into running. Returns ErrOCRRunning if it is
// already running; re-running done or failed records is allowed.
func (s *Store) StartRecordOCR(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET ocr_status = ?, ocr_error = '', updated_at = ?
		WHERE id = ? AND ocr_status != ?`,
		OCRRunning, time.Now().UTC(), id, OCRRunning)
	if err != nil {
		return errors.Wrap(err, "start record ocr")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.getOCRStatus(ctx, id); err != nil {
			return err
		}
		return ErrOCRRunning
	}
	return nil
}

func (s *Store) CompleteRecordOCR(ctx context.Context, id, text, textKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET ocr_status = ?, ocr_text = ?, ocr_text_key = ?, ocr_error = '', updated_at = ?
		WHERE id = ?`,
		OCRDone, text, textKey, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "complete record ocr")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailRecordOCR(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET ocr_status = ?, ocr_error = ?, updated_at = ?
		WHERE id = ?`,
		OCRFailed, errMsg, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "fail record ocr")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) getOCRStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT ocr_status FROM records WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return status, errors.Wrap(err, "get ocr status")
}

// ---------- Query building ----------

const recordSelect = `
	SELECT r.id, r.issue_id, r.title, r.summary, r.start_page, r.end_page,
		r.crop_x, r.crop_y, r.crop_w, r.crop_h, r.ocr_status, r.ocr_text,
		r.ocr_text_key, r.ocr_error, r.needs_review, r.created_at, r.updated_at,
		i.title, i.publication, i.year
	FROM records r JOIN issues i ON i.id = r.issue_id`

func buildRecordFilter(f RecordFilter) (string, []any) {
	var clauses []string
	var args []any

	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		clauses = append(clauses, `(LOWER(r.title) LIKE ? OR LOWER(r.summary) LIKE ? OR LOWER(r.ocr_text) LIKE ?)`)
		args = append(args, like, like, like)
	}
	if f.IssueID != "" {
		clauses = append(clauses, `r.issue_id = ?`)
		args = append(args, f.IssueID)
	}
	if len(f.TagIDs) > 0 {
		clauses = append(clauses, `r.id IN (SELECT record_id FROM record_tags WHERE tag_id IN (`+placeholders(len(f.TagIDs))+`))`)
		for _, id := range f.TagIDs {
			args = append(args, id)
		}
	}
	if len(f.AuthorIDs) > 0 {
		clauses = append(clauses, `r.id IN (SELECT record_id FROM record_authors WHERE author_id IN (`+placeholders(len(f.AuthorIDs))+`))`)
		for _, id := range f.AuthorIDs {
			args = append(args, id)
		}
	}
	if f.YearFrom > 0 {
		clauses = append(clauses, `i.year >= ?`)
		args = append(args, f.YearFrom)
	}
	if f.YearTo > 0 {
		clauses = append(clauses, `i.year <= ?`)
		args = append(args, f.YearTo)
	}
	if f.OCRStatus != "" {
		clauses = append(clauses, `r.ocr_status = ?`)
		args = append(args, f.OCRStatus)
	}
	if f.NeedsReview != nil {
		clauses = append(clauses, `r.needs_review = ?`)
		args = append(args, *f.NeedsReview)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func orderClause(f RecordFilter) string {
	col := "r.created_at"
	switch f.SortBy {
	case "title":
		col = "r.title COLLATE NOCASE"
	case "publishedOn":
		col = "i.published_on"
	case "year":
		col = "i.year"
	case "startPage":
		col = "r.start_page"
	case "createdAt", "":
		col = "r.created_at"
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	// Stable tiebreak keeps pagination deterministic.
	return fmt.Sprintf(" ORDER BY %s %s, r.id ASC", col, dir)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var cx, cy, cw, ch sql.NullFloat64

	err := row.Scan(&rec.ID, &rec.IssueID, &rec.Title, &rec.Summary, &rec.StartPage,
		&rec.EndPage, &cx, &cy, &cw, &ch, &rec.OCRStatus, &rec.OCRText,
		&rec.OCRTextKey, &rec.OCRError, &rec.NeedsReview, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.IssueTitle, &rec.Publication, &rec.Year)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "scan record")
	}

	if cx.Valid && cy.Valid && cw.Valid && ch.Valid {
		rec.Crop = &pdfmeta.CropRect{X: cx.Float64, Y: cy.Float64, W: cw.Float64, H: ch.Float64}
	}
	return rec, nil
}

// attachJoins loads tags and authors for a page of records in two queries.
func (s *Store) attachJoins(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	byID := make(map[string]*Record, len(recs))
	ids := make([]any, 0, len(recs))
	for _, r := range recs {
		r.Tags = []Tag{}
		r.Authors = []Author{}
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}
	ph := placeholders(len(ids))

	rows, err := s.db.QueryContext(ctx, `
		SELECT rt.record_id, t.id, t.name FROM record_tags rt
		JOIN tags t ON t.id = rt.tag_id
		WHERE rt.record_id IN (`+ph+`) ORDER BY t.name COLLATE NOCASE`, ids...)
	if err != nil {
		return errors.Wrap(err, "load record tags")
	}
	for rows.Next() {
		var recID string
		var tag Tag
		if err := rows.Scan(&recID, &tag.ID, &tag.Name); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan record tag")
		}
		if r := byID[recID]; r != nil {
			r.Tags = append(r.Tags, tag)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "load record tags")
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT ra.record_id, a.id, a.name FROM record_authors ra
		JOIN authors a ON a.id = ra.author_id
		WHERE ra.record_id IN (`+ph+`) ORDER BY a.name COLLATE NOCASE`, ids...)
	if err != nil {
		return errors.Wrap(err, "load record authors")
	}
	for rows.Next() {
		var recID string
		var author Author
		if err := rows.Scan(&recID, &author.ID, &author.Name); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan record author")
		}
		if r := byID[recID]; r != nil {
			r.Authors = append(r.Authors, author)
		}
	}
	rows.Close()
	return errors.Wrap(rows.Err(), "load record authors")
}

func replaceJoins(ctx context.Context, tx *sql.Tx, table, column, recordID string, ids []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE record_id = ?`, recordID); err != nil {
		return errors.Wrapf(err, "clear %s", table)
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO `+table+` (record_id, `+column+`) VALUES (?, ?)`, recordID, id)
		if err != nil {
			return errors.Wrapf(err, "insert %s", table)
		}
	}
	return nil
}

// issuePageCount reads the parent issue's page count inside the transaction
// so record page ranges are validated against the issue they belong to.
func issuePageCount(ctx context.Context, tx *sql.Tx, issueID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT page_count FROM issues WHERE id = ?`, issueID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return n, errors.Wrap(err, "get issue page count")
}

func cropString(c *pdfmeta.CropRect) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", c.X, c.Y, c.W, c.H)
}

func tagIDs(tags []Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.ID)
	}
	return out
}

func authorIDs(authors []Author) []string {
	out := make([]string, 0, len(authors))
	for _, a := range authors {
		out = append(out, a.ID)
	}
	return out
}
