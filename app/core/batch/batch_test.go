package batch

import (
	"strings"
	"testing"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/intent"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/match"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/resolve"
)

func testProcessor() *Processor {
	return NewProcessor(resolve.New(match.DefaultOptions(), "Asia/Almaty"), DefaultMaxDeletes)
}

func snapshotOf(texts ...string) match.Snapshot {
	s := match.Snapshot{}
	for i, text := range texts {
		s.Tasks = append(s.Tasks, match.SnapshotTask{ID: int64(i + 1), Text: text})
	}
	return s
}

func TestProcessMixedBatch(t *testing.T) {
	out := testProcessor().Process([]intent.Interpretation{
		{Action: intent.ActionCreate, Title: "купить билеты", DeadlineISO: "2025-03-10T15:00:00"},
		{Action: intent.ActionComplete, TargetTaskHint: "позвонить маме", RawInput: "позвонил маме"},
		{Action: intent.ActionDelete, TargetTaskHint: "сделать отчёт", RawInput: "удали отчёт"},
	}, snapshotOf("позвонить маме", "сделать отчёт"))

	if len(out.Effects) != 3 {
		t.Fatalf("effects = %d, want 3", len(out.Effects))
	}
	if out.Effects[0].Kind != resolve.KindCreate {
		t.Errorf("first effect = %q", out.Effects[0].Kind)
	}
	for _, want := range []string{"➕ Добавил:", "купить билеты", "✅ Отметил выполненными:", "🗑 Удалил:"} {
		if !strings.Contains(out.Summary, want) {
			t.Errorf("summary missing %q:\n%s", want, out.Summary)
		}
	}
}

func TestWorkingSnapshotMakesNewTasksMatchable(t *testing.T) {
	out := testProcessor().Process([]intent.Interpretation{
		{Action: intent.ActionCreate, Title: "забрать посылку", DeadlineISO: "2025-03-10T15:00:00"},
		{Action: intent.ActionComplete, TargetTaskHint: "забрать посылку", RawInput: "забрал посылку"},
	}, match.Snapshot{})

	if len(out.Effects) != 2 {
		t.Fatalf("effects = %d, want 2: %+v", len(out.Effects), out.Effects)
	}
	complete := out.Effects[1]
	if complete.Kind != resolve.KindMutate || complete.Mutation != resolve.MutationComplete {
		t.Fatalf("second effect = %+v", complete)
	}
	if complete.TaskID >= 0 {
		t.Errorf("in-batch target must carry a provisional negative id, got %d", complete.TaskID)
	}
}

func TestDeleteGuardRevertsAllDeletes(t *testing.T) {
	out := testProcessor().Process([]intent.Interpretation{
		{Action: intent.ActionDelete, TargetTaskHint: "задача один", RawInput: "удали задача один"},
		{Action: intent.ActionDelete, TargetTaskHint: "задача два", RawInput: "удали задача два"},
		{Action: intent.ActionDelete, TargetTaskHint: "задача три", RawInput: "удали задача три"},
		{Action: intent.ActionComplete, TargetTaskHint: "позвонить маме", RawInput: "позвонил"},
	}, snapshotOf("задача один", "задача два", "задача три", "позвонить маме"))

	for _, eff := range out.Effects {
		if eff.Mutation == resolve.MutationDelete {
			t.Fatalf("delete survived the guard: %+v", eff)
		}
	}
	if len(out.Effects) != 1 || out.Effects[0].Mutation != resolve.MutationComplete {
		t.Fatalf("non-delete effects must survive, got %+v", out.Effects)
	}
	if strings.Contains(out.Summary, "🗑 Удалил:") {
		t.Errorf("summary still reports deletes:\n%s", out.Summary)
	}
	if !strings.Contains(out.Summary, "Слишком много удалений") {
		t.Errorf("summary missing guard notice:\n%s", out.Summary)
	}
}

func TestTwoDeletesPassTheGuard(t *testing.T) {
	out := testProcessor().Process([]intent.Interpretation{
		{Action: intent.ActionDelete, TargetTaskHint: "задача один", RawInput: "удали задача один"},
		{Action: intent.ActionDelete, TargetTaskHint: "задача два", RawInput: "удали задача два"},
	}, snapshotOf("задача один", "задача два"))

	deletes := 0
	for _, eff := range out.Effects {
		if eff.Mutation == resolve.MutationDelete {
			deletes++
		}
	}
	if deletes != 2 {
		t.Fatalf("deletes = %d, want 2", deletes)
	}
}

func TestFirstPendingWins(t *testing.T) {
	out := testProcessor().Process([]intent.Interpretation{
		{Action: intent.ActionCreate, Title: "первая без срока"},
		{Action: intent.ActionCreate, Title: "вторая без срока"},
	}, match.Snapshot{})

	if len(out.Effects) != 2 {
		t.Fatalf("both tasks must be created, got %d effects", len(out.Effects))
	}
	if out.Pending == nil {
		t.Fatal("pending follow-up missing")
	}
	if out.Pending.Text != "первая без срока" {
		t.Errorf("pending follows the first item, got %q", out.Pending.Text)
	}
}

func TestUnknownItemsAreSkipped(t *testing.T) {
	out := testProcessor().Process([]intent.Interpretation{
		{Action: intent.ActionUnknown, RawInput: "ммм"},
	}, snapshotOf("позвонить маме"))

	if len(out.Effects) != 0 {
		t.Fatalf("effects = %+v, want none", out.Effects)
	}
	if out.Summary != "Ничего не сделал." {
		t.Errorf("summary = %q", out.Summary)
	}
}

func TestClarificationItemJoinsSummary(t *testing.T) {
	out := testProcessor().Process([]intent.Interpretation{
		{Action: intent.ActionNeedsClarification, RawInput: "сделай то самое"},
		{Action: intent.ActionComplete, TargetTaskHint: "позвонить маме", RawInput: "позвонил маме"},
	}, snapshotOf("позвонить маме"))

	if len(out.Effects) != 1 || out.Effects[0].Mutation != resolve.MutationComplete {
		t.Fatalf("effects = %+v, want only the complete", out.Effects)
	}
	if !strings.Contains(out.Summary, "не уверен") {
		t.Errorf("clarification line missing from summary:\n%s", out.Summary)
	}
}

func TestSupportedAll(t *testing.T) {
	ok := []intent.Interpretation{
		{Action: intent.ActionCreate},
		{Action: intent.ActionDelete},
		{Action: intent.ActionUnknown},
		{Action: intent.ActionNeedsClarification},
	}
	if !SupportedAll(ok) {
		t.Error("mutating batch with tolerated items must pass")
	}

	// One listing item rejects the whole batch.
	rejected := []intent.Interpretation{
		{Action: intent.ActionShowToday},
		{Action: intent.ActionDelete, TargetTaskHint: "позвонить маме"},
	}
	if SupportedAll(rejected) {
		t.Error("batch with a listing item must be rejected")
	}
}

func TestAddDeadlineGetsOwnSummarySection(t *testing.T) {
	out := testProcessor().Process([]intent.Interpretation{
		{Action: intent.ActionAddDeadline, TargetTaskHint: "сделать отчёт", RawInput: "отчёт к 15 марта", DeadlineISO: "2025-03-15T18:00:00"},
	}, snapshotOf("сделать отчёт"))

	if !strings.Contains(out.Summary, "📌 Добавил дедлайны:") {
		t.Fatalf("deadline-added section missing:\n%s", out.Summary)
	}
	if strings.Contains(out.Summary, "📅 Перенёс:") {
		t.Errorf("add_deadline must not render as a reschedule:\n%s", out.Summary)
	}
}

func TestNeedsSectionsInSummary(t *testing.T) {
	out := testProcessor().Process([]intent.Interpretation{
		{Action: intent.ActionCreate, Title: "без срока"},
		{Action: intent.ActionReschedule, TargetTaskHint: "сделать отчёт", RawInput: "перенеси отчёт"},
	}, snapshotOf("сделать отчёт"))

	if !strings.Contains(out.Summary, "❓ Нужен дедлайн:") || !strings.Contains(out.Summary, "без срока") {
		t.Errorf("needs-deadline section missing:\n%s", out.Summary)
	}
	if !strings.Contains(out.Summary, "❓ Нужна дата для переноса:") || !strings.Contains(out.Summary, "сделать отчёт") {
		t.Errorf("needs-date section missing:\n%s", out.Summary)
	}
}

func TestCompletedTaskLeavesWorkingSnapshot(t *testing.T) {
	out := testProcessor().Process([]intent.Interpretation{
		{Action: intent.ActionComplete, TargetTaskHint: "позвонить маме", RawInput: "позвонил маме"},
		{Action: intent.ActionDelete, TargetTaskHint: "позвонить маме", RawInput: "удали позвонить маме"},
	}, snapshotOf("позвонить маме"))

	if len(out.Effects) != 1 {
		t.Fatalf("effects = %+v, want only the complete", out.Effects)
	}
	if !strings.Contains(out.Summary, "не уверен") && !strings.Contains(out.Summary, "полное название") {
		t.Errorf("second item should surface a clarification:\n%s", out.Summary)
	}
}

func TestShouldRouteMulti(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"купи молоко; позвони маме", true},
		{"купи молоко\nпозвони маме", true},
		{"купи молоко и позвони маме", true},
		{"сначала отчёт, потом собрание", true},
		{"добавь задачу проверить почту", false},
		{"иди в магазин", false},
		{"да, давай", false},
		{"перенеси встречу с командой на завтра, а ещё добавь напоминание про аптеку", true},
	}
	for _, c := range cases {
		if got := ShouldRouteMulti(c.text); got != c.want {
			t.Errorf("ShouldRouteMulti(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
