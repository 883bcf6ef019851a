package reminder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/db"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/store"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/types"
)

type captureSender struct {
	sent []types.Message
	fail bool
}

func (c *captureSender) Send(_ context.Context, msg types.Message) error {
	if c.fail {
		return errors.New("telegram down")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func testService(t *testing.T, sender Sender) (*Service, *store.Store) {
	t.Helper()
	database, err := db.NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	st := store.New(database)
	svc := New(st, sender, time.Second, "Asia/Almaty")
	return svc, st
}

func TestSweepSendsDueRemindersOnce(t *testing.T) {
	sender := &captureSender{}
	svc, st := testService(t, sender)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute).Format("2006-01-02T15:04:05Z")
	future := time.Now().UTC().Add(time.Hour).Format("2006-01-02T15:04:05Z")
	if _, err := st.AddTask(ctx, store.NewTask{
		UserID: 42, Text: "сдать отчёт", DueAt: future, RemindAt: past,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.AddTask(ctx, store.NewTask{
		UserID: 42, Text: "ещё рано", DueAt: future, RemindAt: future,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.UserID != 42 || msg.ChatID != 42 {
		t.Errorf("recipient user=%d chat=%d", msg.UserID, msg.ChatID)
	}
	if !strings.Contains(msg.Text, "сдать отчёт") || !strings.Contains(msg.Text, "Напоминание") {
		t.Errorf("text = %q", msg.Text)
	}

	// Second sweep must not repeat the notification.
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("reminder repeated: sent = %d", len(sender.sent))
	}
}

func TestSweepRetriesAfterSendFailure(t *testing.T) {
	sender := &captureSender{fail: true}
	svc, st := testService(t, sender)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute).Format("2006-01-02T15:04:05Z")
	if _, err := st.AddTask(ctx, store.NewTask{
		UserID: 42, Text: "сдать отчёт", RemindAt: past,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := svc.Sweep(ctx); err == nil {
		t.Fatal("expected sweep error on send failure")
	}

	// Channel recovers: the task must still be pending.
	sender.fail = false
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("recovery sweep: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1 after recovery", len(sender.sent))
	}
}

func TestRenderReminderUsesUserTimezone(t *testing.T) {
	sender := &captureSender{}
	svc, st := testService(t, sender)
	ctx := context.Background()

	if err := st.SetUserTimezone(ctx, 42, "Asia/Almaty"); err != nil {
		t.Fatalf("set tz: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute).Format("2006-01-02T15:04:05Z")
	if _, err := st.AddTask(ctx, store.NewTask{
		UserID: 42, Text: "встреча", DueAt: "2025-03-10T10:00:00Z", RemindAt: past,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d", len(sender.sent))
	}
	// 10:00 UTC renders as 15:00 local.
	if !strings.Contains(sender.sent[0].Text, "10.03 в 15:00") {
		t.Errorf("text = %q", sender.sent[0].Text)
	}
}

func TestJobSpec(t *testing.T) {
	svc, _ := testService(t, &captureSender{})
	job := svc.Job()
	if job.Name != "reminder-sweep" || !job.RunOnStart || job.Run == nil {
		t.Fatalf("job = %+v", job)
	}
}
