package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/cwygoda/dropprint/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS print_jobs (
    id          TEXT PRIMARY KEY,
    source_path TEXT NOT NULL,
    file_name   TEXT NOT NULL,
    size_bytes  INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'dispatched',
    deleted     BOOLEAN NOT NULL DEFAULT 0,
    error       TEXT,
    created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_print_jobs_status ON print_jobs(status);
CREATE INDEX IF NOT EXISTS idx_print_jobs_created ON print_jobs(created_at);
`

const selectColumns = `SELECT id, source_path, file_name, size_bytes, status, deleted,
       COALESCE(error, '') AS error, created_at, updated_at
  FROM print_jobs`

// Repository implements domain.JobRepository using SQLite.
type Repository struct {
	db *sqlx.DB
}

// row mirrors a print_jobs row.
type row struct {
	ID         string    `db:"id"`
	SourcePath string    `db:"source_path"`
	FileName   string    `db:"file_name"`
	SizeBytes  int64     `db:"size_bytes"`
	Status     string    `db:"status"`
	Deleted    bool      `db:"deleted"`
	Error      string    `db:"error"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r row) record() domain.JobRecord {
	return domain.JobRecord{
		ID:         r.ID,
		SourcePath: r.SourcePath,
		FileName:   r.FileName,
		SizeBytes:  r.SizeBytes,
		Status:     domain.JobStatus(r.Status),
		Deleted:    r.Deleted,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// outcomes are written from many goroutines; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts the initial record of a dispatched job.
func (r *Repository) Create(ctx context.Context, rec *domain.JobRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Status == "" {
		rec.Status = domain.StatusDispatched
	}

	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO print_jobs (id, source_path, file_name, size_bytes, status, deleted, error, created_at, updated_at)
		 VALUES (:id, :source_path, :file_name, :size_bytes, :status, :deleted, :error, :created_at, :updated_at)`,
		row{
			ID:         rec.ID,
			SourcePath: rec.SourcePath,
			FileName:   rec.FileName,
			SizeBytes:  rec.SizeBytes,
			Status:     string(rec.Status),
			Deleted:    rec.Deleted,
			Error:      rec.Error,
			CreatedAt:  rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
		},
	)
	return err
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	var got row
	err := r.db.GetContext(ctx, &got, selectColumns+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := got.record()
	return &rec, nil
}

// List returns up to limit jobs, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []row
	if err := r.db.SelectContext(ctx, &rows,
		selectColumns+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	); err != nil {
		return nil, err
	}

	jobs := make([]domain.JobRecord, 0, len(rows))
	for _, rw := range rows {
		jobs = append(jobs, rw.record())
	}
	return jobs, nil
}

// Resolve records the terminal status of a dispatched job. Jobs that are
// already terminal are left alone and reported as domain.ErrJobNotFound.
func (r *Repository) Resolve(ctx context.Context, id string, status domain.JobStatus, deleted bool, reason string) error {
	var errText sql.NullString
	if reason != "" {
		errText = sql.NullString{String: reason, Valid: true}
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, deleted = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, deleted, errText, time.Now(), id, domain.StatusDispatched,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// AbandonStale marks jobs still awaiting a result as abandoned. Outcomes
// of a previous run can never arrive, so this runs once at startup.
func (r *Repository) AbandonStale(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE print_jobs SET status = ?, error = 'no result before shutdown', updated_at = ?
		 WHERE status = ?`,
		domain.StatusAbandoned, time.Now(), domain.StatusDispatched,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountByStatus returns the number of recorded jobs per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS n FROM print_jobs GROUP BY status`,
	); err != nil {
		return nil, err
	}
	counts := make(map[domain.JobStatus]int, len(rows))
	for _, rw := range rows {
		counts[domain.JobStatus(rw.Status)] = rw.Count
	}
	return counts, nil
}
