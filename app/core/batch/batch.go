// Package batch processes several interpretations from one utterance
// against a working snapshot: a task created by an earlier item becomes
// matchable by later items in the same batch before anything is stored.
//
// Created tasks receive provisional negative IDs inside the batch. An
// effect whose TaskID is negative targets a task created earlier in the
// same outcome; the caller maps provisional IDs to real ones while
// applying effects in order.
package batch

import (
	"strings"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/intent"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/match"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/resolve"
)

// DefaultMaxDeletes bounds destructive actions per batch. Two tasks can
// plausibly be deleted in one breath; more than that smells like a
// misparse, so all deletes are dropped instead.
const DefaultMaxDeletes = 2

// supportedActions gates what a batch item may do. Unparsed and
// unclear items are tolerated (skipped or surfaced as a clarification);
// listing actions are not, they reject the whole batch.
var supportedActions = map[intent.Action]bool{
	intent.ActionCreate:             true,
	intent.ActionComplete:           true,
	intent.ActionDelete:             true,
	intent.ActionReschedule:         true,
	intent.ActionAddDeadline:        true,
	intent.ActionClearDeadline:      true,
	intent.ActionRename:             true,
	intent.ActionNeedsClarification: true,
	intent.ActionUnknown:            true,
}

// Supported reports whether an action may appear in a batch.
func Supported(a intent.Action) bool { return supportedActions[a] }

// SupportedAll reports whether every item may run as a batch. One
// off-list action rejects the whole batch; the caller re-reads the
// message as a single intent.
func SupportedAll(items []intent.Interpretation) bool {
	for _, it := range items {
		if !Supported(it.Action) {
			return false
		}
	}
	return true
}

// Outcome is the net result of a batch. Effects are ordered for
// application; Pending carries at most one follow-up question.
type Outcome struct {
	Effects []resolve.Effect
	Pending *resolve.Effect
	Summary string
}

// Processor runs batches through a resolver.
type Processor struct {
	Resolver   *resolve.Resolver
	MaxDeletes int
}

func NewProcessor(r *resolve.Resolver, maxDeletes int) *Processor {
	if maxDeletes <= 0 {
		maxDeletes = DefaultMaxDeletes
	}
	return &Processor{Resolver: r, MaxDeletes: maxDeletes}
}

// Process resolves items in order against a private working copy of the
// snapshot and renders a grouped summary. It never touches storage.
func (p *Processor) Process(items []intent.Interpretation, snapshot match.Snapshot) Outcome {
	working := match.Snapshot{Tasks: append([]match.SnapshotTask(nil), snapshot.Tasks...)}
	nextProvisional := int64(-1)

	var out Outcome
	var sum summary

	for _, it := range items {
		if !Supported(it.Action) || it.Action == intent.ActionUnknown {
			continue
		}
		eff := p.Resolver.Resolve(it, working)
		switch eff.Kind {
		case resolve.KindCreate:
			id := nextProvisional
			nextProvisional--
			working.Tasks = append(working.Tasks, match.SnapshotTask{
				ID:    id,
				Text:  eff.Text,
				DueAt: eff.Deadline,
			})
			if eff.Info != "" {
				// First pending follow-up wins; every task is still created.
				if out.Pending == nil {
					pending := eff
					pending.TaskID = id
					out.Pending = &pending
				}
				sum.needDeadline = append(sum.needDeadline, eff.Text)
				eff.Info = ""
			}
			out.Effects = append(out.Effects, eff)
			sum.created = append(sum.created, eff.Text)

		case resolve.KindMutate:
			applyToWorking(&working, eff)
			out.Effects = append(out.Effects, eff)
			sum.add(it.Action, eff)

		case resolve.KindMoreInfo:
			if out.Pending == nil {
				pending := eff
				out.Pending = &pending
			}
			sum.needDate = append(sum.needDate, eff.TaskText)

		case resolve.KindClarify:
			sum.clarifications = append(sum.clarifications, eff.Message)
		}
	}

	p.enforceDeleteGuard(&out, &sum)
	out.Summary = sum.render()
	return out
}

// enforceDeleteGuard drops every delete when the batch asked for too
// many, keeping the rest of the outcome intact.
func (p *Processor) enforceDeleteGuard(out *Outcome, sum *summary) {
	if len(sum.deleted) <= p.MaxDeletes {
		return
	}
	kept := out.Effects[:0]
	for _, eff := range out.Effects {
		if eff.Kind == resolve.KindMutate && eff.Mutation == resolve.MutationDelete {
			continue
		}
		kept = append(kept, eff)
	}
	out.Effects = kept
	sum.deleted = nil
	sum.clarifications = append(sum.clarifications,
		"Слишком много удалений за один раз — я их не выполнил. Удаляй, пожалуйста, по одной-две задачи.")
}

func applyToWorking(working *match.Snapshot, eff resolve.Effect) {
	switch eff.Mutation {
	case resolve.MutationComplete, resolve.MutationDelete:
		kept := working.Tasks[:0]
		for _, t := range working.Tasks {
			if t.ID != eff.TaskID {
				kept = append(kept, t)
			}
		}
		working.Tasks = kept
	case resolve.MutationRename:
		for i := range working.Tasks {
			if working.Tasks[i].ID == eff.TaskID {
				working.Tasks[i].Text = eff.NewText
			}
		}
	case resolve.MutationReschedule:
		for i := range working.Tasks {
			if working.Tasks[i].ID == eff.TaskID {
				working.Tasks[i].DueAt = eff.NewDeadline
			}
		}
	case resolve.MutationClearDeadline:
		for i := range working.Tasks {
			if working.Tasks[i].ID == eff.TaskID {
				working.Tasks[i].DueAt = ""
			}
		}
	}
}

type summary struct {
	created        []string
	completed      []string
	deleted        []string
	rescheduled    []string
	deadlineAdded  []string
	renamed        []string
	cleared        []string
	needDeadline   []string
	needDate       []string
	clarifications []string
}

func (s *summary) add(action intent.Action, eff resolve.Effect) {
	switch eff.Mutation {
	case resolve.MutationComplete:
		s.completed = append(s.completed, eff.TaskText)
	case resolve.MutationDelete:
		s.deleted = append(s.deleted, eff.TaskText)
	case resolve.MutationReschedule:
		if action == intent.ActionAddDeadline {
			s.deadlineAdded = append(s.deadlineAdded, eff.TaskText)
		} else {
			s.rescheduled = append(s.rescheduled, eff.TaskText)
		}
	case resolve.MutationRename:
		s.renamed = append(s.renamed, eff.TaskText+" → "+eff.NewText)
	case resolve.MutationClearDeadline:
		s.cleared = append(s.cleared, eff.TaskText)
	}
}

func (s *summary) render() string {
	var b strings.Builder
	section(&b, "➕ Добавил:", s.created)
	section(&b, "✅ Отметил выполненными:", s.completed)
	section(&b, "🗑 Удалил:", s.deleted)
	section(&b, "📅 Перенёс:", s.rescheduled)
	section(&b, "📌 Добавил дедлайны:", s.deadlineAdded)
	section(&b, "✏️ Переименовал:", s.renamed)
	section(&b, "⏳ Убрал дедлайн:", s.cleared)
	section(&b, "❓ Нужен дедлайн:", s.needDeadline)
	section(&b, "❓ Нужна дата для переноса:", s.needDate)
	for _, msg := range s.clarifications {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(msg)
	}
	if b.Len() == 0 {
		return "Ничего не сделал."
	}
	return b.String()
}

func section(b *strings.Builder, header string, lines []string) {
	if len(lines) == 0 {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(header)
	for _, line := range lines {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
}

// multi-intent routing markers: explicit separators always split, a
// comma only counts in long messages, connectives need spaces around
// them so "иди" does not trigger.
var connectives = []string{" и ", " потом ", " затем ", " также ", " ещё ", " еще "}

const commaLengthThreshold = 40

// ShouldRouteMulti guesses whether one utterance carries several
// intents and should go through the batch prompt.
func ShouldRouteMulti(text string) bool {
	if strings.ContainsAny(text, ";\n") {
		return true
	}
	lower := strings.ToLower(text)
	for _, c := range connectives {
		if strings.Contains(lower, c) {
			return true
		}
	}
	if strings.Contains(text, ",") && len([]rune(text)) > commaLengthThreshold {
		return true
	}
	return false
}
