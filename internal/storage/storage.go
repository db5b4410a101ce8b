// Package storage keeps the history of completed download runs in sqlite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"vodkeep/internal/config"
	"vodkeep/internal/consts"
	"vodkeep/internal/entity"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT    NOT NULL,
	video_id    TEXT    NOT NULL,
	quality     TEXT    NOT NULL,
	output      TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	reason      TEXT    NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS history_finished_at ON history (finished_at);
`

// Record is one completed run of a job.
type Record struct {
	JobID      string           `json:"jobId"`
	VideoID    string           `json:"videoId"`
	Quality    string           `json:"quality"`
	Output     string           `json:"output"`
	Status     entity.JobStatus `json:"status"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	FinishedAt time.Time        `json:"finishedAt"`
}

// Storer defines the interface for history operations.
type Storer interface {
	// Record stores the outcome of a finished run, reason is the failure text if any.
	Record(ctx context.Context, view entity.View, reason string) error
	// List returns the newest runs first.
	List(ctx context.Context, limit int) ([]Record, error)
	// DeleteBefore removes runs finished before t.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)

	CleanupExpired(ctx context.Context, interval time.Duration)
	Close() error
}

type storage struct {
	log *slog.Logger
	cfg *config.Config
	db  *sql.DB
}

// New opens the history database and starts the retention loop, which stops with ctx.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (Storer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.History.DBPath), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.History.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping history db: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;"); err != nil {
		log.WarnContext(ctx, "history db pragmas", slog.Any("error", err))
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create history schema: %w", err)
	}

	stg := &storage{
		log: log.With(slog.String("package", "storage")),
		cfg: cfg,
		db:  db,
	}

	if cfg.History.Retention > 0 && cfg.History.CleanupInterval > 0 {
		go stg.CleanupExpired(ctx, cfg.History.CleanupInterval)
	}

	return stg, nil
}

func (stg *storage) Record(ctx context.Context, view entity.View, reason string) error {
	const query = `INSERT INTO history (job_id, video_id, quality, output, status, reason, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := stg.db.ExecContext(ctx, query,
		view.ID, view.VideoID, view.Quality.ID, view.Output, string(view.Status), reason,
		view.CreatedAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	stg.log.DebugContext(ctx, "run recorded", slog.String("job_id", view.ID), slog.String("status", string(view.Status)))

	return nil
}

func (stg *storage) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = consts.DefaultHistoryLimit
	}

	const query = `SELECT job_id, video_id, quality, output, status, reason, created_at, finished_at
		FROM history ORDER BY finished_at DESC, id DESC LIMIT ?`

	rows, err := stg.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)

	for rows.Next() {
		var (
			rec                   Record
			status                string
			createdAt, finishedAt int64
		)

		if err := rows.Scan(&rec.JobID, &rec.VideoID, &rec.Quality, &rec.Output,
			&status, &rec.Reason, &createdAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}

		rec.Status = entity.JobStatus(status)
		rec.CreatedAt = time.UnixMilli(createdAt)
		rec.FinishedAt = time.UnixMilli(finishedAt)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return records, nil
}

func (stg *storage) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := stg.db.ExecContext(ctx, `DELETE FROM history WHERE finished_at < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return n, nil
}

func (stg *storage) Close() error {
	if err := stg.db.Close(); err != nil {
		return fmt.Errorf("close history db: %w", err)
	}

	return nil
}
