// Package reminder sweeps the store for reminders that came due and
// pushes them out through a channel. The sweep is idempotent: a task is
// marked notified before the next tick can pick it up again.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/scheduler"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/store"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/timeutil"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/logger"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/types"
)

const (
	jobName         = "reminder-sweep"
	defaultInterval = 30 * time.Second
	sweepTimeout    = 20 * time.Second
)

// Sender delivers a reminder message to the user.
type Sender interface {
	Send(ctx context.Context, msg types.Message) error
}

type Service struct {
	store           *store.Store
	sender          Sender
	interval        time.Duration
	defaultTimezone string
	now             func() time.Time
}

func New(s *store.Store, sender Sender, interval time.Duration, defaultTimezone string) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		store:           s,
		sender:          sender,
		interval:        interval,
		defaultTimezone: defaultTimezone,
		now:             timeutil.NowUTC,
	}
}

// Job returns the sweep as a scheduler job. RunOnStart restores
// reminders that came due while the process was down.
func (s *Service) Job() scheduler.JobSpec {
	return scheduler.JobSpec{
		Name:       jobName,
		Interval:   s.interval,
		Timeout:    sweepTimeout,
		RunOnStart: true,
		Run:        s.Sweep,
	}
}

// Sweep sends every due reminder once. A send failure leaves the task
// unnotified so the next tick retries it.
func (s *Service) Sweep(ctx context.Context) error {
	due, err := s.store.DueReminders(ctx, timeutil.FormatUTC(s.now()))
	if err != nil {
		return fmt.Errorf("scan reminders: %w", err)
	}

	var firstErr error
	for _, task := range due {
		if err := s.send(ctx, task); err != nil {
			logger.Error("reminder send task=%d user=%d: %v", task.ID, task.UserID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.store.MarkNotified(ctx, task.ID); err != nil {
			return fmt.Errorf("mark notified task=%d: %w", task.ID, err)
		}
		_ = s.store.LogEvent(ctx, task.UserID, task.ID, "reminder_sent", map[string]any{
			"remind_at": task.RemindAt,
		})
	}
	return firstErr
}

func (s *Service) send(ctx context.Context, task store.Task) error {
	tz, err := s.store.GetUserTimezone(ctx, task.UserID)
	if err != nil || tz == "" {
		tz = s.defaultTimezone
	}
	return s.sender.Send(ctx, types.Message{
		UserID: task.UserID,
		ChatID: task.UserID,
		Role:   types.MessageRoleAssistant,
		Text:   renderReminder(task, tz),
	})
}

func renderReminder(task store.Task, tz string) string {
	text := "🔔 Напоминание: " + task.Text
	if due, ok := timeutil.ParseUTC(task.DueAt); ok {
		loc := timeutil.LoadLocation(tz)
		text += fmt.Sprintf("\nСрок: %s", due.In(loc).Format("02.01 в 15:04"))
	}
	return text + "\nНапиши «отложи на 30 минут», если нужно позже."
}
