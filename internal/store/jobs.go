package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func (s *Store) CreateJob(ctx context.Context, recordID, kind string) (Job, error) {
	job := Job{
		ID:        uuid.NewString(),
		RecordID:  recordID,
		Kind:      kind,
		Status:    JobPending,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, record_id, kind, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.RecordID, job.Kind, job.Status, job.CreatedAt)
	return job, errors.Wrap(err, "insert job")
}

func (s *Store) StartJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		JobRunning, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "start job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishJob records the terminal state. errMsg is empty on success.
func (s *Store) FinishJob(ctx context.Context, id string, errMsg string) error {
	status := JobDone
	if errMsg != "" {
		status = JobFailed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "finish job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, record_id, kind, status, error, created_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id)

	var job Job
	var started, finished sql.NullTime
	err := row.Scan(&job.ID, &job.RecordID, &job.Kind, &job.Status, &job.Error,
		&job.CreatedAt, &started, &finished)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, errors.Wrap(err, "get job")
	}
	if started.Valid {
		job.StartedAt = &started.Time
	}
	if finished.Valid {
		job.FinishedAt = &finished.Time
	}
	return job, nil
}

// RequeueStaleJobs marks jobs stuck in pending or running from a previous
// process as failed. Called once at startup.
func (s *Store) RequeueStaleJobs(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = 'interrupted by restart', finished_at = ?
		WHERE status IN (?, ?)`,
		JobFailed, time.Now().UTC(), JobPending, JobRunning)
	if err != nil {
		return 0, errors.Wrap(err, "requeue stale jobs")
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE records SET ocr_status = ? WHERE ocr_status = ?`, OCRFailed, OCRRunning)
	if err != nil {
		return 0, errors.Wrap(err, "reset running records")
	}

	n, _ := res.RowsAffected()
	return n, nil
}
