package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Dashboard aggregates the analytics payload in a handful of queries.
func (s *Store) Dashboard(ctx context.Context) (DashboardStats, error) {
	stats := DashboardStats{
		ByOCRStatus: map[string]int{},
		ByDecade:    map[string]int{},
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM issues`, &stats.Issues},
		{`SELECT COUNT(*) FROM records`, &stats.Records},
		{`SELECT COUNT(*) FROM tags`, &stats.Tags},
		{`SELECT COUNT(*) FROM authors`, &stats.Authors},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return stats, errors.Wrap(err, "dashboard counts")
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ocr_status, COUNT(*) FROM records GROUP BY ocr_status`)
	if err != nil {
		return stats, errors.Wrap(err, "dashboard ocr status")
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return stats, errors.Wrap(err, "scan ocr status")
		}
		stats.ByOCRStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, errors.Wrap(err, "dashboard ocr status")
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT (i.year / 10) * 10, COUNT(*)
		FROM records r JOIN issues i ON i.id = r.issue_id
		WHERE i.year > 0
		GROUP BY i.year / 10`)
	if err != nil {
		return stats, errors.Wrap(err, "dashboard decades")
	}
	for rows.Next() {
		var decade, n int
		if err := rows.Scan(&decade, &n); err != nil {
			rows.Close()
			return stats, errors.Wrap(err, "scan decade")
		}
		stats.ByDecade[fmt.Sprintf("%ds", decade)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, errors.Wrap(err, "dashboard decades")
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT t.id, t.name, COUNT(rt.record_id) AS n
		FROM tags t JOIN record_tags rt ON rt.tag_id = t.id
		GROUP BY t.id, t.name
		ORDER BY n DESC, t.name COLLATE NOCASE
		LIMIT 10`)
	if err != nil {
		return stats, errors.Wrap(err, "dashboard top tags")
	}
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.RecordCount); err != nil {
			rows.Close()
			return stats, errors.Wrap(err, "scan top tag")
		}
		stats.TopTags = append(stats.TopTags, tag)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, errors.Wrap(err, "dashboard top tags")
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, record_id, field, old_value, new_value, edited_by, edited_at
		FROM revisions
		ORDER BY edited_at DESC, id DESC
		LIMIT 20`)
	if err != nil {
		return stats, errors.Wrap(err, "dashboard recent changes")
	}
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.ID, &rev.RecordID, &rev.Field, &rev.OldValue,
			&rev.NewValue, &rev.EditedBy, &rev.EditedAt); err != nil {
			rows.Close()
			return stats, errors.Wrap(err, "scan recent change")
		}
		stats.RecentChanges = append(stats.RecentChanges, rev)
	}
	rows.Close()
	return stats, rows.Err()
}
