// Package assistant is the conversational core: it takes one inbound
// message, runs it through rate limiting, pending-state shortcuts, the
// NLU and the resolver, applies the resulting effects to the store and
// renders Russian replies.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/batch"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/intent"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/match"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/resolve"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/store"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/timeutil"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/logger"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/ratelimit"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/types"
)

// NLU is the language-model boundary. Implementations return their best
// guess; the resolver treats it as untrusted.
type NLU interface {
	ParseSingle(ctx context.Context, text string, snapshot match.Snapshot, tz string, now time.Time) (intent.Interpretation, error)
	ParseBatch(ctx context.Context, text string, snapshot match.Snapshot, tz string, now time.Time) ([]intent.Interpretation, error)
}

// Settings are the tunables wired in from config.
type Settings struct {
	Name                   string
	MatchOpts              match.Options
	MaxBatchDeletes        int
	DefaultRemindOffsetMin int
	DefaultTimezone        string
}

type pendingKind int

const (
	pendingDeadline pendingKind = iota + 1
	pendingReschedule
)

type pendingState struct {
	kind     pendingKind
	taskID   int64
	taskText string
}

type Assistant struct {
	store    *store.Store
	nlu      NLU
	limiter  *ratelimit.Limiter
	settings Settings
	now      func() time.Time

	mu      sync.Mutex
	pending map[int64]pendingState
}

func New(st *store.Store, nlu NLU, limiter *ratelimit.Limiter, settings Settings) *Assistant {
	return &Assistant{
		store:    st,
		nlu:      nlu,
		limiter:  limiter,
		settings: settings,
		now:      timeutil.NowUTC,
		pending:  make(map[int64]pendingState),
	}
}

const (
	msgRateLimited = "Слишком много сообщений подряд. Подожди минутку и продолжим 🙂"
	msgParseFailed = "Не получилось обработать сообщение. Попробуй сформулировать по-другому."
	msgNoTasks     = "Активных задач нет. Можно выдохнуть 🙂"
)

// Process handles one inbound message end to end.
func (a *Assistant) Process(ctx context.Context, msg types.Message) ([]types.Message, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, nil
	}

	if strings.HasPrefix(text, "/") {
		return a.handleCommand(ctx, msg, text)
	}

	if !a.limiter.Allow(msg.UserID) {
		logger.Info("rate limited user=%d", msg.UserID)
		return a.reply(msg, msgRateLimited), nil
	}

	tz := a.timezone(ctx, msg.UserID)
	now := a.now()

	if p, ok := a.takePending(msg.UserID); ok {
		if replies, handled := a.applyPendingReply(ctx, msg, p, text, tz, now); handled {
			return replies, nil
		}
		// Not a date reply: the prompt is abandoned and the message is
		// treated as a fresh intent.
	}

	if replies, handled := a.trySnooze(ctx, msg, text, tz, now); handled {
		return replies, nil
	}

	snapshot, err := a.store.Snapshot(ctx, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	if batch.ShouldRouteMulti(text) {
		return a.processBatch(ctx, msg, text, snapshot, tz, now)
	}
	return a.processSingle(ctx, msg, text, snapshot, tz, now)
}

func (a *Assistant) processSingle(ctx context.Context, msg types.Message, text string, snapshot match.Snapshot, tz string, now time.Time) ([]types.Message, error) {
	it, err := a.nlu.ParseSingle(ctx, text, snapshot, tz, now)
	if err != nil {
		logger.Error("nlu single user=%d: %v", msg.UserID, err)
		return a.reply(msg, msgParseFailed), nil
	}

	if isShowAction(it.Action) {
		return a.showTasks(ctx, msg, it, tz, now)
	}

	resolver := resolve.New(a.settings.MatchOpts, tz)
	eff := resolver.Resolve(it, snapshot)
	replyText, err := a.applyEffect(ctx, msg.UserID, tz, now, eff, nil)
	if err != nil {
		return nil, err
	}
	if replyText == "" {
		replyText = msgParseFailed
	}
	_ = a.store.LogEvent(ctx, msg.UserID, 0, "intent_resolved", map[string]any{
		"action": string(it.Action),
		"effect": string(eff.Kind),
	})
	return a.reply(msg, replyText), nil
}

func (a *Assistant) processBatch(ctx context.Context, msg types.Message, text string, snapshot match.Snapshot, tz string, now time.Time) ([]types.Message, error) {
	items, err := a.nlu.ParseBatch(ctx, text, snapshot, tz, now)
	if err != nil {
		logger.Error("nlu batch user=%d: %v", msg.UserID, err)
		return a.reply(msg, msgParseFailed), nil
	}
	if !batch.SupportedAll(items) {
		// A listing item means the splitter mis-fired; re-read the whole
		// message as one intent instead of applying a partial batch.
		return a.processSingle(ctx, msg, text, snapshot, tz, now)
	}

	resolver := resolve.New(a.settings.MatchOpts, tz)
	out := batch.NewProcessor(resolver, a.settings.MaxBatchDeletes).Process(items, snapshot)

	provisional := make(map[int64]int64)
	for _, eff := range out.Effects {
		if _, err := a.applyEffect(ctx, msg.UserID, tz, now, eff, provisional); err != nil {
			logger.Error("apply batch effect user=%d kind=%s: %v", msg.UserID, eff.Kind, err)
		}
	}
	_ = a.store.LogEvent(ctx, msg.UserID, 0, "batch_processed", map[string]any{
		"items":   len(items),
		"effects": len(out.Effects),
	})

	replyText := out.Summary
	if out.Pending != nil {
		pendingID := out.Pending.TaskID
		if pendingID < 0 {
			pendingID = provisional[pendingID]
		}
		if pendingID > 0 {
			kind := pendingDeadline
			question := deadlineQuestion(pendingText(*out.Pending))
			if out.Pending.Info == resolve.InfoDeadlineForReschedule {
				kind = pendingReschedule
				question = rescheduleQuestion(pendingText(*out.Pending))
			}
			a.setPending(msg.UserID, pendingState{
				kind:     kind,
				taskID:   pendingID,
				taskText: pendingText(*out.Pending),
			})
			replyText += "\n\n" + question
		}
	}
	return a.reply(msg, replyText), nil
}

// applyEffect commits one resolved effect to storage and returns the
// single-intent reply text. Batch callers ignore the text and render
// their own summary.
func (a *Assistant) applyEffect(ctx context.Context, userID int64, tz string, now time.Time, eff resolve.Effect, provisional map[int64]int64) (string, error) {
	switch eff.Kind {
	case resolve.KindCreate:
		return a.applyCreate(ctx, userID, tz, now, eff, provisional)
	case resolve.KindMutate:
		return a.applyMutation(ctx, userID, tz, now, eff, provisional)
	case resolve.KindClarify:
		return eff.Message, nil
	case resolve.KindMoreInfo:
		a.setPending(userID, pendingState{kind: pendingReschedule, taskID: eff.TaskID, taskText: eff.TaskText})
		return rescheduleQuestion(eff.TaskText), nil
	default:
		return msgParseFailed, nil
	}
}

func (a *Assistant) applyCreate(ctx context.Context, userID int64, tz string, now time.Time, eff resolve.Effect, provisional map[int64]int64) (string, error) {
	nt := store.NewTask{UserID: userID, Text: eff.Text, DueAt: eff.Deadline}
	if eff.Deadline != "" {
		offset := a.settings.DefaultRemindOffsetMin
		nt.RemindOffsetMin = &offset
		nt.RemindAt = timeutil.ComputeRemindAt(eff.Deadline, offset, now)
	}
	task, err := a.store.AddTask(ctx, nt)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	if provisional != nil {
		// Creates arrive in batch order, so provisional ids count down
		// from -1 in lockstep.
		provisional[int64(-(len(provisional) + 1))] = task.ID
	}
	_ = a.store.LogEvent(ctx, userID, task.ID, "task_created", map[string]any{"due_at": eff.Deadline})

	if eff.Deadline == "" {
		if eff.Info == resolve.InfoDeadlineForNewTask {
			a.setPending(userID, pendingState{kind: pendingDeadline, taskID: task.ID, taskText: task.Text})
			return fmt.Sprintf("Добавил задачу: «%s».\n%s", task.Text, deadlineQuestion(task.Text)), nil
		}
		return fmt.Sprintf("Добавил задачу: «%s» (без срока).", task.Text), nil
	}
	return fmt.Sprintf("Добавил задачу: «%s».\nСрок: %s.%s",
		task.Text, formatLocal(eff.Deadline, tz), remindNote(a.settings.DefaultRemindOffsetMin)), nil
}

func (a *Assistant) applyMutation(ctx context.Context, userID int64, tz string, now time.Time, eff resolve.Effect, provisional map[int64]int64) (string, error) {
	taskID := eff.TaskID
	if taskID < 0 && provisional != nil {
		real, ok := provisional[taskID]
		if !ok {
			return "", fmt.Errorf("unmapped provisional task %d", taskID)
		}
		taskID = real
	}

	switch eff.Mutation {
	case resolve.MutationComplete:
		respawned, err := a.store.CompleteTask(ctx, userID, taskID)
		if err != nil {
			return "", fmt.Errorf("complete task: %w", err)
		}
		_ = a.store.LogEvent(ctx, userID, taskID, "task_completed", nil)
		text := fmt.Sprintf("Отметил выполненной: «%s» ✅", eff.TaskText)
		if respawned != nil {
			text += fmt.Sprintf("\nСледующее повторение: %s.", formatLocal(respawned.DueAt, tz))
		}
		return text, nil

	case resolve.MutationDelete:
		if err := a.store.DeleteTask(ctx, userID, taskID); err != nil {
			return "", fmt.Errorf("delete task: %w", err)
		}
		_ = a.store.LogEvent(ctx, userID, taskID, "task_deleted", nil)
		return fmt.Sprintf("Удалил: «%s» 🗑", eff.TaskText), nil

	case resolve.MutationRename:
		if err := a.store.UpdateText(ctx, userID, taskID, eff.NewText); err != nil {
			return "", fmt.Errorf("rename task: %w", err)
		}
		return fmt.Sprintf("Переименовал: «%s» → «%s».", eff.TaskText, eff.NewText), nil

	case resolve.MutationReschedule:
		remindAt, offset, err := a.reminderFor(ctx, userID, taskID, eff.NewDeadline, now)
		if err != nil {
			return "", err
		}
		if err := a.store.UpdateDueAt(ctx, userID, taskID, eff.NewDeadline, remindAt); err != nil {
			return "", fmt.Errorf("reschedule task: %w", err)
		}
		_ = a.store.LogEvent(ctx, userID, taskID, "task_rescheduled", map[string]any{"due_at": eff.NewDeadline})
		return fmt.Sprintf("Перенёс «%s» на %s.%s",
			eff.TaskText, formatLocal(eff.NewDeadline, tz), remindNote(offset)), nil

	case resolve.MutationClearDeadline:
		if err := a.store.ClearDeadline(ctx, userID, taskID); err != nil {
			return "", fmt.Errorf("clear deadline: %w", err)
		}
		return fmt.Sprintf("Убрал срок у задачи «%s».", eff.TaskText), nil
	}
	return "", fmt.Errorf("unknown mutation %q", eff.Mutation)
}

// reminderFor recomputes the reminder against a new deadline, keeping
// the task's own offset. A task that never had one gets reminded at the
// deadline itself, not the config default.
func (a *Assistant) reminderFor(ctx context.Context, userID, taskID int64, dueAt string, now time.Time) (string, int, error) {
	task, err := a.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return "", 0, fmt.Errorf("load task %d: %w", taskID, err)
	}
	offset := 0
	if task.RemindOffsetMin != nil {
		offset = *task.RemindOffsetMin
	}
	return timeutil.ComputeRemindAt(dueAt, offset, now), offset, nil
}

const defaultSnoozeMin = 30

// trySnooze postpones the reminder of the most recently fired task when
// the message reads like "отложи на 30 минут". Without an explicit delay
// the reminder moves half an hour.
func (a *Assistant) trySnooze(ctx context.Context, msg types.Message, text, tz string, now time.Time) ([]types.Message, bool) {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "отлож") && !strings.Contains(lower, "попозже") {
		return nil, false
	}
	delay, ok := timeutil.ParseDelayMinutes(lower)
	if !ok {
		// "отложи на 20 минут" has no "через"; the bare-minutes form
		// catches it.
		delay, ok = timeutil.ParseOffsetMinutes(lower)
	}
	if !ok {
		delay = defaultSnoozeMin
	}

	task, err := a.store.LastNotified(ctx, msg.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrTaskNotFound) {
			logger.Error("snooze lookup user=%d: %v", msg.UserID, err)
		}
		return nil, false
	}

	offset := 0
	if task.RemindOffsetMin != nil {
		offset = *task.RemindOffsetMin
	}
	remindAt := timeutil.FormatUTC(now.Add(time.Duration(delay) * time.Minute).UTC())
	if err := a.store.SetReminder(ctx, msg.UserID, task.ID, remindAt, offset); err != nil {
		logger.Error("snooze user=%d task=%d: %v", msg.UserID, task.ID, err)
		return a.reply(msg, msgParseFailed), true
	}
	_ = a.store.LogEvent(ctx, msg.UserID, task.ID, "reminder_snoozed", map[string]any{"delay_min": delay})
	return a.reply(msg, fmt.Sprintf("Хорошо, напомню про «%s» в %s.",
		task.Text, formatLocal(remindAt, tz))), true
}

// applyPendingReply tries to read the user's message as the date answer
// to an open follow-up question.
func (a *Assistant) applyPendingReply(ctx context.Context, msg types.Message, p pendingState, text, tz string, now time.Time) ([]types.Message, bool) {
	loc := timeutil.LoadLocation(tz)
	local, ok := timeutil.ParseDatetimeFromText(text, now.In(loc), nil)
	var dueAt string
	if ok {
		dueAt = timeutil.FormatUTC(local.UTC())
	} else {
		dueAt = timeutil.NormalizeToUTC(text, tz)
	}
	if dueAt == "" {
		return nil, false
	}

	verb := "Записал срок"
	offset := a.settings.DefaultRemindOffsetMin
	remindAt := timeutil.ComputeRemindAt(dueAt, offset, now)
	if p.kind == pendingReschedule {
		// A reschedule answer keeps the task's own reminder offset; a
		// task without one is reminded at the deadline.
		verb = "Перенёс"
		var err error
		remindAt, offset, err = a.reminderFor(ctx, msg.UserID, p.taskID, dueAt, now)
		if err != nil {
			logger.Error("pending reschedule user=%d task=%d: %v", msg.UserID, p.taskID, err)
			return a.reply(msg, msgParseFailed), true
		}
	}
	if err := a.store.UpdateDueAt(ctx, msg.UserID, p.taskID, dueAt, remindAt); err != nil {
		logger.Error("pending deadline user=%d task=%d: %v", msg.UserID, p.taskID, err)
		return a.reply(msg, msgParseFailed), true
	}
	if p.kind == pendingDeadline {
		if err := a.store.SetReminder(ctx, msg.UserID, p.taskID, remindAt, offset); err != nil {
			logger.Error("pending reminder user=%d task=%d: %v", msg.UserID, p.taskID, err)
		}
	}

	return a.reply(msg, fmt.Sprintf("%s: «%s» — %s.%s",
		verb, p.taskText, formatLocal(dueAt, tz), remindNote(offset))), true
}

func (a *Assistant) showTasks(ctx context.Context, msg types.Message, it intent.Interpretation, tz string, now time.Time) ([]types.Message, error) {
	tasks, err := a.store.ListActive(ctx, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	loc := timeutil.LoadLocation(tz)
	var dayStart, dayEnd time.Time
	var header string
	switch it.Action {
	case intent.ActionShowToday:
		header = "Задачи на сегодня:"
		dayStart = startOfDay(now.In(loc))
		dayEnd = dayStart.AddDate(0, 0, 1)
	case intent.ActionShowTomorrow:
		header = "Задачи на завтра:"
		dayStart = startOfDay(now.In(loc)).AddDate(0, 0, 1)
		dayEnd = dayStart.AddDate(0, 0, 1)
	case intent.ActionShowDate:
		dueAt := timeutil.NormalizeToUTC(it.DeadlineISO, tz)
		if dueAt == "" {
			return a.reply(msg, "На какой день показать задачи? Напиши дату, например 15.03."), nil
		}
		due, _ := timeutil.ParseUTC(dueAt)
		dayStart = startOfDay(due.In(loc))
		dayEnd = dayStart.AddDate(0, 0, 1)
		header = fmt.Sprintf("Задачи на %s:", dayStart.Format("02.01"))
	default:
		header = "Твои задачи:"
	}

	var lines []string
	for _, t := range tasks {
		if !dayStart.IsZero() {
			due, ok := timeutil.ParseUTC(t.DueAt)
			if !ok {
				continue
			}
			local := due.In(loc)
			if local.Before(dayStart) || !local.Before(dayEnd) {
				continue
			}
		}
		line := fmt.Sprintf("%d. %s", len(lines)+1, t.Text)
		if t.DueAt != "" {
			line += " — " + formatLocal(t.DueAt, tz)
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		if dayStart.IsZero() {
			return a.reply(msg, msgNoTasks), nil
		}
		return a.reply(msg, "На этот день задач нет 🙂"), nil
	}
	return a.reply(msg, header+"\n"+strings.Join(lines, "\n")), nil
}

func (a *Assistant) handleCommand(ctx context.Context, msg types.Message, text string) ([]types.Message, error) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/start", "/help":
		return a.reply(msg, fmt.Sprintf(
			"Привет! Я %s — помогаю вести задачи. Пиши обычным языком: «добавь купить молоко завтра к 18:00», «я сходил в магазин», «покажи задачи». Часовой пояс: /timezone Asia/Almaty.",
			a.settings.Name)), nil
	case "/timezone", "/tz":
		if len(fields) < 2 {
			return a.reply(msg, "Укажи часовой пояс, например: /timezone Asia/Almaty"), nil
		}
		tz := fields[1]
		if _, err := time.LoadLocation(tz); err != nil {
			return a.reply(msg, fmt.Sprintf("Не знаю такой часовой пояс: %s", tz)), nil
		}
		if err := a.store.SetUserTimezone(ctx, msg.UserID, tz); err != nil {
			return nil, fmt.Errorf("set timezone: %w", err)
		}
		return a.reply(msg, fmt.Sprintf("Часовой пояс установлен: %s.", tz)), nil
	default:
		return a.reply(msg, "Не знаю такую команду. Доступны /start, /help, /timezone."), nil
	}
}

func (a *Assistant) timezone(ctx context.Context, userID int64) string {
	tz, err := a.store.GetUserTimezone(ctx, userID)
	if err != nil {
		logger.Error("get timezone user=%d: %v", userID, err)
	}
	if tz == "" {
		return a.settings.DefaultTimezone
	}
	return tz
}

func (a *Assistant) setPending(userID int64, p pendingState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[userID] = p
}

func (a *Assistant) takePending(userID int64) (pendingState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[userID]
	if ok {
		delete(a.pending, userID)
	}
	return p, ok
}

func (a *Assistant) reply(in types.Message, text string) []types.Message {
	return []types.Message{{
		Text:      text,
		Role:      types.MessageRoleAssistant,
		ChannelID: in.ChannelID,
		UserID:    in.UserID,
		ChatID:    in.ChatID,
		ReplyToID: in.ID,
	}}
}

func isShowAction(a intent.Action) bool {
	switch a {
	case intent.ActionShowActive, intent.ActionShowToday, intent.ActionShowTomorrow, intent.ActionShowDate:
		return true
	}
	return false
}

func pendingText(eff resolve.Effect) string {
	if eff.TaskText != "" {
		return eff.TaskText
	}
	return eff.Text
}

func remindNote(offset int) string {
	if offset > 0 {
		return fmt.Sprintf(" Напомню за %d мин.", offset)
	}
	return " Напомню в срок."
}

func deadlineQuestion(taskText string) string {
	return fmt.Sprintf("Когда нужно сделать «%s»? Напиши дату и время, например 15.03 18:00 или «через час».", taskText)
}

func rescheduleQuestion(taskText string) string {
	return fmt.Sprintf("На когда перенести «%s»? Напиши дату и время, например 15.03 18:00.", taskText)
}

func formatLocal(dueUTC, tz string) string {
	due, ok := timeutil.ParseUTC(dueUTC)
	if !ok {
		return dueUTC
	}
	return due.In(timeutil.LoadLocation(tz)).Format("02.01.2006 в 15:04")
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
