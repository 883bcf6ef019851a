package store

import (
	"context"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/db"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return New(database)
}

func TestAddAndListTasks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	undated, err := s.AddTask(ctx, NewTask{UserID: 7, Text: "позвонить маме"})
	if err != nil {
		t.Fatalf("add undated: %v", err)
	}
	offset := 15
	dated, err := s.AddTask(ctx, NewTask{
		UserID:          7,
		Text:            "сдать отчёт",
		DueAt:           "2025-03-10T10:00:00Z",
		RemindAt:        "2025-03-10T09:45:00Z",
		RemindOffsetMin: &offset,
	})
	if err != nil {
		t.Fatalf("add dated: %v", err)
	}

	tasks, err := s.ListActive(ctx, 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	// Dated tasks come first, undated last.
	if tasks[0].ID != dated.ID || tasks[1].ID != undated.ID {
		t.Errorf("order = [%d %d], want [%d %d]", tasks[0].ID, tasks[1].ID, dated.ID, undated.ID)
	}
	if tasks[0].RemindOffsetMin == nil || *tasks[0].RemindOffsetMin != 15 {
		t.Errorf("offset not round-tripped: %+v", tasks[0].RemindOffsetMin)
	}
	if tasks[1].DueAt != "" || tasks[1].RemindOffsetMin != nil {
		t.Errorf("undated task gained a deadline: %+v", tasks[1])
	}
}

func TestTasksAreScopedByUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mine, err := s.AddTask(ctx, NewTask{UserID: 1, Text: "моя задача"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddTask(ctx, NewTask{UserID: 2, Text: "чужая задача"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := s.GetTask(ctx, 2, mine.ID); err != ErrTaskNotFound {
		t.Fatalf("cross-user get = %v, want ErrTaskNotFound", err)
	}
	if err := s.DeleteTask(ctx, 2, mine.ID); err != ErrTaskNotFound {
		t.Fatalf("cross-user delete = %v, want ErrTaskNotFound", err)
	}
}

func TestCompleteTaskArchivesAndMarksDone(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	task, err := s.AddTask(ctx, NewTask{UserID: 7, Text: "сдать отчёт"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	respawned, err := s.CompleteTask(ctx, 7, task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if respawned != nil {
		t.Fatalf("non-recurring task must not respawn, got %+v", respawned)
	}

	got, err := s.GetTask(ctx, 7, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusDone || got.CompletedAt == "" {
		t.Errorf("status=%q completed_at=%q", got.Status, got.CompletedAt)
	}

	var reason string
	if err := s.db.Conn().QueryRow(
		`SELECT reason FROM tasks_history WHERE task_id = ?`, task.ID).Scan(&reason); err != nil {
		t.Fatalf("history row missing: %v", err)
	}
	if reason != "completed" {
		t.Errorf("reason = %q", reason)
	}

	snap, err := s.Snapshot(ctx, 7)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Tasks) != 0 {
		t.Errorf("done task still in snapshot: %+v", snap.Tasks)
	}
}

func TestCompleteRecurringTaskRespawns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	offset := 30
	task, err := s.AddTask(ctx, NewTask{
		UserID:             7,
		Text:               "санитарный день",
		DueAt:              "2025-03-10T10:00:00Z",
		RemindOffsetMin:    &offset,
		RecurrenceType:     "weekly",
		RecurrenceInterval: 1,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	respawned, err := s.CompleteTask(ctx, 7, task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if respawned == nil {
		t.Fatal("recurring task must respawn")
	}
	if respawned.DueAt != "2025-03-17T10:00:00Z" {
		t.Errorf("next due = %q", respawned.DueAt)
	}
	if respawned.RecurrenceType != "weekly" || respawned.RecurrenceInterval != 1 {
		t.Errorf("recurrence not carried: %+v", respawned)
	}
	if respawned.RemindOffsetMin == nil || *respawned.RemindOffsetMin != 30 {
		t.Errorf("offset not carried: %+v", respawned.RemindOffsetMin)
	}
	if respawned.RemindAt == "" {
		t.Errorf("respawned task missing reminder")
	}
}

func TestDeleteTaskRemovesRowAndArchives(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	task, err := s.AddTask(ctx, NewTask{UserID: 7, Text: "устаревшее"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.DeleteTask(ctx, 7, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetTask(ctx, 7, task.ID); err != ErrTaskNotFound {
		t.Fatalf("get after delete = %v, want ErrTaskNotFound", err)
	}

	var reason string
	if err := s.db.Conn().QueryRow(
		`SELECT reason FROM tasks_history WHERE task_id = ?`, task.ID).Scan(&reason); err != nil {
		t.Fatalf("history row missing: %v", err)
	}
	if reason != "deleted" {
		t.Errorf("reason = %q", reason)
	}
}

func TestUpdateDueAtResetsNotified(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	task, err := s.AddTask(ctx, NewTask{
		UserID:   7,
		Text:     "встреча",
		DueAt:    "2025-03-10T10:00:00Z",
		RemindAt: "2025-03-10T09:45:00Z",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.MarkNotified(ctx, task.ID); err != nil {
		t.Fatalf("mark notified: %v", err)
	}

	if err := s.UpdateDueAt(ctx, 7, task.ID, "2025-03-11T10:00:00Z", "2025-03-11T09:45:00Z"); err != nil {
		t.Fatalf("update due: %v", err)
	}
	got, err := s.GetTask(ctx, 7, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DueAt != "2025-03-11T10:00:00Z" || got.RemindAt != "2025-03-11T09:45:00Z" {
		t.Errorf("due=%q remind=%q", got.DueAt, got.RemindAt)
	}
	if got.Notified {
		t.Errorf("reschedule must rearm the reminder")
	}
}

func TestClearDeadline(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	offset := 15
	task, err := s.AddTask(ctx, NewTask{
		UserID:          7,
		Text:            "встреча",
		DueAt:           "2025-03-10T10:00:00Z",
		RemindAt:        "2025-03-10T09:45:00Z",
		RemindOffsetMin: &offset,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.ClearDeadline(ctx, 7, task.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := s.GetTask(ctx, 7, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DueAt != "" || got.RemindAt != "" || got.RemindOffsetMin != nil {
		t.Errorf("deadline fields survived clear: %+v", got)
	}
}

func TestDueReminders(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	due, err := s.AddTask(ctx, NewTask{
		UserID: 7, Text: "пора", DueAt: "2025-03-10T10:00:00Z", RemindAt: "2025-03-10T09:45:00Z",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddTask(ctx, NewTask{
		UserID: 7, Text: "рано", DueAt: "2025-03-12T10:00:00Z", RemindAt: "2025-03-12T09:45:00Z",
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.DueReminders(ctx, "2025-03-10T09:50:00Z")
	if err != nil {
		t.Fatalf("due reminders: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("got %+v, want only task %d", got, due.ID)
	}

	if err := s.MarkNotified(ctx, due.ID); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	got, err = s.DueReminders(ctx, "2025-03-10T09:50:00Z")
	if err != nil {
		t.Fatalf("due reminders: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("notified task must not fire again: %+v", got)
	}
}

func TestDueRemindersFallsBackToDeadline(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	overdue, err := s.AddTask(ctx, NewTask{
		UserID: 7, Text: "без напоминания", DueAt: "2025-03-10T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddTask(ctx, NewTask{UserID: 7, Text: "без срока"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.DueReminders(ctx, "2025-03-10T10:05:00Z")
	if err != nil {
		t.Fatalf("due reminders: %v", err)
	}
	if len(got) != 1 || got[0].ID != overdue.ID {
		t.Fatalf("got %+v, want only task %d", got, overdue.ID)
	}
}

func TestLastNotified(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.LastNotified(ctx, 7); err != ErrTaskNotFound {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}

	early, err := s.AddTask(ctx, NewTask{
		UserID: 7, Text: "раньше", DueAt: "2025-03-10T10:00:00Z", RemindAt: "2025-03-10T09:45:00Z",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	late, err := s.AddTask(ctx, NewTask{
		UserID: 7, Text: "позже", DueAt: "2025-03-10T12:00:00Z", RemindAt: "2025-03-10T11:45:00Z",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.MarkNotified(ctx, early.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkNotified(ctx, late.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}

	got, err := s.LastNotified(ctx, 7)
	if err != nil {
		t.Fatalf("last notified: %v", err)
	}
	if got.ID != late.ID {
		t.Errorf("last notified = %d, want %d", got.ID, late.ID)
	}
}

func TestUserTimezoneRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tz, err := s.GetUserTimezone(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tz != "" {
		t.Fatalf("unset timezone = %q, want empty", tz)
	}

	if err := s.SetUserTimezone(ctx, 7, "Asia/Almaty"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetUserTimezone(ctx, 7, "Europe/Moscow"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	tz, err = s.GetUserTimezone(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tz != "Europe/Moscow" {
		t.Errorf("timezone = %q", tz)
	}
}

func TestLogEvent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.LogEvent(ctx, 7, 0, "batch_processed", map[string]any{"items": 3}); err != nil {
		t.Fatalf("log event: %v", err)
	}

	var kind, meta string
	if err := s.db.Conn().QueryRow(
		`SELECT kind, meta FROM events WHERE user_id = 7`).Scan(&kind, &meta); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if kind != "batch_processed" {
		t.Errorf("kind = %q", kind)
	}
	if gjson.Get(meta, "items").Int() != 3 {
		t.Errorf("meta = %q", meta)
	}
}
