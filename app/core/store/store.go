// Package store is the persistence layer for tasks, user settings and
// the event journal. All timestamps are stored as canonical UTC ISO
// strings; timezone math happens before values get here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/db"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/match"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/timeutil"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/logger"
)

var ErrTaskNotFound = errors.New("task not found")

const (
	StatusActive = "active"
	StatusDone   = "done"

	archiveReasonCompleted = "completed"
	archiveReasonDeleted   = "deleted"
)

type Task struct {
	ID                 int64
	UserID             int64
	Text               string
	DueAt              string // canonical UTC ISO or empty
	RemindAt           string // canonical UTC ISO or empty
	RemindOffsetMin    *int
	Notified           bool
	Status             string
	RecurrenceType     string
	RecurrenceInterval int
	CreatedAt          string
	CompletedAt        string
}

// NewTask carries the fields of a task being created.
type NewTask struct {
	UserID             int64
	Text               string
	DueAt              string
	RemindAt           string
	RemindOffsetMin    *int
	RecurrenceType     string
	RecurrenceInterval int
}

type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

const taskColumns = `id, user_id, text,
	COALESCE(due_at, ''), COALESCE(remind_at, ''), remind_offset_min,
	notified, status, COALESCE(recurrence_type, ''), COALESCE(recurrence_interval, 0),
	created_at, COALESCE(completed_at, '')`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var offset sql.NullInt64
	var notified int
	err := row.Scan(&t.ID, &t.UserID, &t.Text,
		&t.DueAt, &t.RemindAt, &offset,
		&notified, &t.Status, &t.RecurrenceType, &t.RecurrenceInterval,
		&t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return Task{}, err
	}
	if offset.Valid {
		v := int(offset.Int64)
		t.RemindOffsetMin = &v
	}
	t.Notified = notified != 0
	return t, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func (s *Store) AddTask(ctx context.Context, nt NewTask) (Task, error) {
	createdAt := timeutil.FormatUTC(timeutil.NowUTC())
	res, err := s.db.Conn().ExecContext(ctx, `
INSERT INTO tasks (user_id, text, due_at, remind_at, remind_offset_min, notified, status, recurrence_type, recurrence_interval, created_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		nt.UserID, nt.Text, nullIfEmpty(nt.DueAt), nullIfEmpty(nt.RemindAt), nullableInt(nt.RemindOffsetMin),
		StatusActive, nullIfEmpty(nt.RecurrenceType), nt.RecurrenceInterval, createdAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, fmt.Errorf("task id: %w", err)
	}
	return s.GetTask(ctx, nt.UserID, id)
}

func (s *Store) GetTask(ctx context.Context, userID, taskID int64) (Task, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task %d: %w", taskID, err)
	}
	return t, nil
}

// ListActive returns the user's active tasks ordered by deadline, the
// undated ones last.
func (s *Store) ListActive(ctx context.Context, userID int64) ([]Task, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE user_id = ? AND status = ?
ORDER BY due_at IS NULL, due_at ASC, id ASC`, userID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Snapshot projects active tasks into the matcher's input shape.
func (s *Store) Snapshot(ctx context.Context, userID int64) (match.Snapshot, error) {
	tasks, err := s.ListActive(ctx, userID)
	if err != nil {
		return match.Snapshot{}, err
	}
	snap := match.Snapshot{}
	for _, t := range tasks {
		snap.Tasks = append(snap.Tasks, match.SnapshotTask{ID: t.ID, Text: t.Text, DueAt: t.DueAt})
	}
	return snap, nil
}

// CompleteTask archives the task and marks it done. A recurring task
// respawns as a fresh active task at its next occurrence; the respawned
// task is returned, nil otherwise.
func (s *Store) CompleteTask(ctx context.Context, userID, taskID int64) (*Task, error) {
	t, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	now := timeutil.NowUTC()
	nowText := timeutil.FormatUTC(now)

	if err := s.archiveTask(ctx, t, archiveReasonCompleted, nowText); err != nil {
		return nil, err
	}
	if _, err := s.db.Conn().ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ? WHERE id = ? AND user_id = ?`,
		StatusDone, nowText, taskID, userID); err != nil {
		return nil, fmt.Errorf("complete task %d: %w", taskID, err)
	}

	if t.RecurrenceType == "" || t.DueAt == "" {
		return nil, nil
	}
	nextDue := timeutil.CalculateNextOccurrence(t.DueAt, t.RecurrenceType, t.RecurrenceInterval)
	if nextDue == "" {
		return nil, nil
	}
	nt := NewTask{
		UserID:             t.UserID,
		Text:               t.Text,
		DueAt:              nextDue,
		RemindOffsetMin:    t.RemindOffsetMin,
		RecurrenceType:     t.RecurrenceType,
		RecurrenceInterval: t.RecurrenceInterval,
	}
	if t.RemindOffsetMin != nil {
		nt.RemindAt = timeutil.ComputeRemindAt(nextDue, *t.RemindOffsetMin, now)
	}
	respawned, err := s.AddTask(ctx, nt)
	if err != nil {
		return nil, fmt.Errorf("respawn recurring task: %w", err)
	}
	logger.Info("recurring task %d respawned as %d due %s", taskID, respawned.ID, nextDue)
	return &respawned, nil
}

// DeleteTask archives the task and removes the row.
func (s *Store) DeleteTask(ctx context.Context, userID, taskID int64) error {
	t, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	nowText := timeutil.FormatUTC(timeutil.NowUTC())
	if err := s.archiveTask(ctx, t, archiveReasonDeleted, nowText); err != nil {
		return err
	}
	if _, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID); err != nil {
		return fmt.Errorf("delete task %d: %w", taskID, err)
	}
	return nil
}

func (s *Store) archiveTask(ctx context.Context, t Task, reason, archivedAt string) error {
	if _, err := s.db.Conn().ExecContext(ctx, `
INSERT INTO tasks_history (task_id, user_id, text, due_at, reason, created_at, archived_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Text, nullIfEmpty(t.DueAt), reason, t.CreatedAt, archivedAt); err != nil {
		return fmt.Errorf("archive task %d: %w", t.ID, err)
	}
	return nil
}

func (s *Store) UpdateText(ctx context.Context, userID, taskID int64, text string) error {
	return s.updateOne(ctx, userID, taskID,
		`UPDATE tasks SET text = ? WHERE id = ? AND user_id = ?`, text, taskID, userID)
}

// UpdateDueAt moves the deadline and its reminder together; the
// reminder reset also clears a stale notified flag.
func (s *Store) UpdateDueAt(ctx context.Context, userID, taskID int64, dueAt, remindAt string) error {
	return s.updateOne(ctx, userID, taskID,
		`UPDATE tasks SET due_at = ?, remind_at = ?, notified = 0 WHERE id = ? AND user_id = ?`,
		nullIfEmpty(dueAt), nullIfEmpty(remindAt), taskID, userID)
}

func (s *Store) ClearDeadline(ctx context.Context, userID, taskID int64) error {
	return s.updateOne(ctx, userID, taskID,
		`UPDATE tasks SET due_at = NULL, remind_at = NULL, remind_offset_min = NULL, notified = 0 WHERE id = ? AND user_id = ?`,
		taskID, userID)
}

func (s *Store) SetReminder(ctx context.Context, userID, taskID int64, remindAt string, offsetMin int) error {
	return s.updateOne(ctx, userID, taskID,
		`UPDATE tasks SET remind_at = ?, remind_offset_min = ?, notified = 0 WHERE id = ? AND user_id = ?`,
		nullIfEmpty(remindAt), offsetMin, taskID, userID)
}

func (s *Store) MarkNotified(ctx context.Context, taskID int64) error {
	if _, err := s.db.Conn().ExecContext(ctx,
		`UPDATE tasks SET notified = 1 WHERE id = ?`, taskID); err != nil {
		return fmt.Errorf("mark notified %d: %w", taskID, err)
	}
	return nil
}

func (s *Store) updateOne(ctx context.Context, userID, taskID int64, query string, args ...any) error {
	res, err := s.db.Conn().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task %d: %w", taskID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DueReminders returns active, not yet notified tasks whose reminder
// time has arrived. Tasks without a reminder fall back to their
// deadline, so an overdue task still fires once.
func (s *Store) DueReminders(ctx context.Context, nowText string) ([]Task, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE status = ? AND notified = 0 AND (
	(remind_at IS NOT NULL AND remind_at <= ?)
	OR (remind_at IS NULL AND due_at IS NOT NULL AND due_at <= ?)
)
ORDER BY COALESCE(remind_at, due_at) ASC`, StatusActive, nowText, nowText)
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// LastNotified returns the user's most recently reminded active task,
// the target of a snooze request.
func (s *Store) LastNotified(ctx context.Context, userID int64) (Task, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE user_id = ? AND status = ? AND notified = 1
ORDER BY COALESCE(remind_at, due_at) DESC, id DESC
LIMIT 1`, userID, StatusActive)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("last notified: %w", err)
	}
	return t, nil
}

func (s *Store) GetUserTimezone(ctx context.Context, userID int64) (string, error) {
	var tz string
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT timezone FROM user_settings WHERE user_id = ?`, userID).Scan(&tz)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get timezone: %w", err)
	}
	return tz, nil
}

func (s *Store) SetUserTimezone(ctx context.Context, userID int64, tz string) error {
	if _, err := s.db.Conn().ExecContext(ctx, `
INSERT INTO user_settings (user_id, timezone, updated_at) VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET timezone = excluded.timezone, updated_at = excluded.updated_at`,
		userID, tz, timeutil.FormatUTC(timeutil.NowUTC())); err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	return nil
}

// LogEvent appends to the event journal. Meta keys become a JSON
// object; a nil map logs NULL.
func (s *Store) LogEvent(ctx context.Context, userID, taskID int64, kind string, meta map[string]any) error {
	var metaJSON any
	if len(meta) > 0 {
		body := "{}"
		for k, v := range meta {
			body, _ = sjson.Set(body, k, v)
		}
		metaJSON = body
	}
	var taskRef any
	if taskID != 0 {
		taskRef = taskID
	}
	if _, err := s.db.Conn().ExecContext(ctx, `
INSERT INTO events (user_id, task_id, kind, meta, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, taskRef, kind, metaJSON, timeutil.FormatUTC(timeutil.NowUTC())); err != nil {
		return fmt.Errorf("log event %s: %w", kind, err)
	}
	return nil
}
