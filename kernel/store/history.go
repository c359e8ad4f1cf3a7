package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rewindlabs/rewind/kernel/model"
)

// HistoryStore archives behavioral signals in Postgres. The Redis hot path
// keeps a bounded window; the profiler reads the durable archive for the
// long-horizon derivations (bias, adherence, archetype).
type HistoryStore struct {
	pool *pgxpool.Pool
}

// DailyGoalEntry is one day of observed planning outcome.
type DailyGoalEntry struct {
	DateID         string    `json:"date_id"` // YYYY-MM-DD
	TasksTotal     int       `json:"tasks_total"`
	TasksCompleted int       `json:"tasks_completed"`
	CompletionRate float64   `json:"completion_rate"`
	Reflection     string    `json:"reflection,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// NewHistoryStore initializes the archive with a connection pool.
func NewHistoryStore(ctx context.Context, connString string) (*HistoryStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &HistoryStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *HistoryStore) Close() {
	s.pool.Close()
}

// Migrate creates the archive tables if they do not exist.
func (s *HistoryStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_completions (
			id BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL,
			actual_minutes INT NOT NULL,
			estimated_minutes INT NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_completions_completed_at ON task_completions (completed_at);

		CREATE TABLE IF NOT EXISTS daily_goals (
			date_id TEXT PRIMARY KEY,
			tasks_total INT NOT NULL,
			tasks_completed INT NOT NULL,
			completion_rate DOUBLE PRECISION NOT NULL,
			reflection TEXT NOT NULL DEFAULT '',
			recorded_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

// RecordCompletion appends one observed execution to the archive.
func (s *HistoryStore) RecordCompletion(ctx context.Context, rec model.TaskCompletionRecord) error {
	query := `
		INSERT INTO task_completions (task_id, actual_minutes, estimated_minutes, completed_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.pool.Exec(ctx, query, rec.TaskID, rec.ActualMinutes, rec.EstimatedMinutes, rec.CompletedAt)
	return err
}

// RecordDailyGoal upserts the day's outcome keyed by date.
func (s *HistoryStore) RecordDailyGoal(ctx context.Context, entry DailyGoalEntry) error {
	query := `
		INSERT INTO daily_goals (date_id, tasks_total, tasks_completed, completion_rate, reflection, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (date_id) DO UPDATE SET
			tasks_total = EXCLUDED.tasks_total,
			tasks_completed = EXCLUDED.tasks_completed,
			completion_rate = EXCLUDED.completion_rate,
			reflection = EXCLUDED.reflection,
			recorded_at = EXCLUDED.recorded_at
	`
	_, err := s.pool.Exec(ctx, query,
		entry.DateID, entry.TasksTotal, entry.TasksCompleted,
		entry.CompletionRate, entry.Reflection, entry.RecordedAt,
	)
	return err
}

// ListCompletions returns completions since the given instant, oldest first.
func (s *HistoryStore) ListCompletions(ctx context.Context, since time.Time) ([]model.TaskCompletionRecord, error) {
	query := `
		SELECT task_id, actual_minutes, estimated_minutes, completed_at
		FROM task_completions
		WHERE completed_at >= $1
		ORDER BY completed_at ASC
	`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.TaskCompletionRecord
	for rows.Next() {
		var rec model.TaskCompletionRecord
		if err := rows.Scan(&rec.TaskID, &rec.ActualMinutes, &rec.EstimatedMinutes, &rec.CompletedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListDailyGoals returns the most recent entries, newest first.
func (s *HistoryStore) ListDailyGoals(ctx context.Context, limit int) ([]DailyGoalEntry, error) {
	query := `
		SELECT date_id, tasks_total, tasks_completed, completion_rate, reflection, recorded_at
		FROM daily_goals
		ORDER BY date_id DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DailyGoalEntry
	for rows.Next() {
		var e DailyGoalEntry
		if err := rows.Scan(&e.DateID, &e.TasksTotal, &e.TasksCompleted, &e.CompletionRate, &e.Reflection, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
