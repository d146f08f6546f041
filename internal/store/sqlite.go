package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ctrace/internal/trace"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
  job_id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  source_digest TEXT NOT NULL,
  lines INTEGER NOT NULL,
  result_json TEXT,
  error TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS jobs_finished_at ON jobs (finished_at);
`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists records in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, job Job) error {
	if _, err := s.Get(ctx, job.ID); err == nil {
		return ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (job_id, status, source_digest, lines, created_at)
VALUES (?, ?, ?, ?, ?)`,
		job.ID, StatusPending, job.SourceDigest, job.Lines, job.CreatedAt.UnixNano())
	return err
}

func (s *SQLiteStore) Finish(ctx context.Context, id string, res Result) error {
	if err := res.validate(); err != nil {
		return err
	}
	var resultJSON sql.NullString
	if res.Status == StatusSuccess {
		tr := res.Trace
		if tr == nil {
			tr = trace.Trace{}
		}
		data, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("encode trace: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}
	out, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status = ?, result_json = ?, error = ?, finished_at = ?
WHERE job_id = ? AND status = ?`,
		res.Status, resultJSON, res.Error, res.FinishedAt.UnixNano(), id, StatusPending)
	if err != nil {
		return err
	}
	n, err := out.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyFinished
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT job_id, status, source_digest, lines, result_json, error, created_at, finished_at
FROM jobs
WHERE job_id = ?`, id)
	var (
		job        Job
		status     string
		resultJSON sql.NullString
		createdAt  int64
		finishedAt sql.NullInt64
	)
	if err := row.Scan(&job.ID, &status, &job.SourceDigest, &job.Lines, &resultJSON, &job.Error, &createdAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	job.Status = Status(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	if finishedAt.Valid {
		job.FinishedAt = time.Unix(0, finishedAt.Int64).UTC()
	}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), &job.Result); err != nil {
			return Job{}, fmt.Errorf("decode trace of %s: %w", id, err)
		}
	}
	return job, nil
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	out, err := s.db.ExecContext(ctx, `
DELETE FROM jobs WHERE status != ? AND finished_at IS NOT NULL AND finished_at < ?`,
		StatusPending, before.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := out.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	out, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := out.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
