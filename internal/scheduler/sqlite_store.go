package scheduler

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists ScheduledTasks in a single `scheduled_tasks` table,
// columns exactly as specified in 6.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	prompt TEXT,
	schedule TEXT NOT NULL,
	next_run INTEGER NOT NULL,
	is_recurring INTEGER NOT NULL,
	notify_before INTEGER,
	enabled INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open scheduler db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate scheduler db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) List(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, prompt, schedule, next_run, is_recurring, notify_before, enabled, created_at, updated_at FROM scheduled_tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, prompt, schedule, next_run, is_recurring, notify_before, enabled, created_at, updated_at FROM scheduled_tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *SQLiteStore) Create(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO scheduled_tasks
		(id, title, prompt, schedule, next_run, is_recurring, notify_before, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, nullableString(t.Prompt), t.Schedule, t.NextRun, boolToInt(t.Recurring),
		nullableIntPtr(t.NotifyBefore), boolToInt(t.Enabled), t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *SQLiteStore) Update(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET
		title = ?, prompt = ?, schedule = ?, next_run = ?, is_recurring = ?, notify_before = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, nullableString(t.Prompt), t.Schedule, t.NextRun, boolToInt(t.Recurring),
		nullableIntPtr(t.NotifyBefore), boolToInt(t.Enabled), t.UpdatedAt, t.ID)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	return err
}

// Fire applies the post-execution transition inside a single transaction,
// so a crash between "fire" and "reschedule" cannot happen (invariant 10).
func (s *SQLiteStore) Fire(ctx context.Context, id string, recompute func(current *Task) (int64, bool)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT id, title, prompt, schedule, next_run, is_recurring, notify_before, enabled, created_at, updated_at FROM scheduled_tasks WHERE id = ?`, id)
	current, err := scanTask(row)
	if err != nil {
		return err
	}

	nextRun, recurring := recompute(current)
	_, err = tx.ExecContext(ctx, `UPDATE scheduled_tasks SET next_run = ?, enabled = ? WHERE id = ?`,
		nextRun, boolToInt(recurring), id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var prompt sql.NullString
	var notifyBefore sql.NullInt64
	var recurringInt, enabledInt int
	if err := row.Scan(&t.ID, &t.Title, &prompt, &t.Schedule, &t.NextRun, &recurringInt, &notifyBefore, &enabledInt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Prompt = prompt.String
	t.Recurring = recurringInt != 0
	t.Enabled = enabledInt != 0
	if notifyBefore.Valid {
		v := int(notifyBefore.Int64)
		t.NotifyBefore = &v
	}
	return &t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableIntPtr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
