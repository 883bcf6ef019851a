// Package resolve turns one parsed interpretation plus a task snapshot
// into a concrete effect. It never mutates anything itself: the caller
// owns storage, reminders and replies.
package resolve

import (
	"strings"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/intent"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/match"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/timeutil"
)

// Kind discriminates Effect variants.
type Kind string

const (
	KindCreate   Kind = "create"
	KindMutate   Kind = "mutate"
	KindClarify  Kind = "clarify"
	KindMoreInfo Kind = "more_info"
	KindNoop     Kind = "noop"
)

// Mutation is the concrete change applied to a matched task.
type Mutation string

const (
	MutationRename        Mutation = "rename"
	MutationReschedule    Mutation = "reschedule"
	MutationClearDeadline Mutation = "clear_deadline"
	MutationComplete      Mutation = "complete"
	MutationDelete        Mutation = "delete"
)

// InfoKind names the follow-up the caller must collect from the user.
type InfoKind string

const (
	InfoDeadlineForNewTask    InfoKind = "deadline_for_new_task"
	InfoDeadlineForReschedule InfoKind = "deadline_for_reschedule"
)

// Effect is the resolver's verdict. Exactly one Kind is set; a create
// without a usable deadline additionally carries Info so the caller can
// enter the pending-deadline follow-up state.
type Effect struct {
	Kind Kind

	// create
	Text     string
	Deadline string // canonical UTC ISO or empty

	// mutate
	TaskID      int64
	TaskText    string
	Mutation    Mutation
	NewText     string
	NewDeadline string // canonical UTC ISO

	// clarify
	Message    string
	Candidates []match.Candidate

	// follow-up riding on create or standing alone (KindMoreInfo)
	Info InfoKind
}

// massClearPhrases trip the bulk-action guard: a single fuzzy utterance
// must never complete or delete everything at once.
var massClearPhrases = []string{
	"все задачи",
	"всё задачи",
	"все мои задачи",
	"удали все",
	"удали всё",
	"очисти список",
	"очисти все",
	"снеси все",
	"delete all",
	"clear all",
	"remove everything",
}

const (
	msgClarifyBase = "Я не уверен, какую задачу ты имел в виду. Напиши, пожалуйста, полное название задачи целиком, как оно есть в списке."
	msgMassClear   = "Пока я не умею очищать все задачи разом — могу помогать закрывать их по одной 🙂"
	msgNeedTitle   = "Мне нужно новое название задачи, но я его не увидел."
	msgNotSure     = "Я не уверен, что именно нужно сделать. Напиши, пожалуйста, полное название задачи целиком, как оно есть в списке."
)

// Resolver applies the per-action decision table against a snapshot.
type Resolver struct {
	MatchOpts match.Options
	Timezone  string // user's IANA timezone for deadline normalization
}

func New(opts match.Options, timezone string) *Resolver {
	return &Resolver{MatchOpts: opts, Timezone: timezone}
}

// Resolve decides the concrete effect of one interpretation.
func (r *Resolver) Resolve(it intent.Interpretation, snapshot match.Snapshot) Effect {
	if isMassAction(it) {
		return Effect{Kind: KindClarify, Message: msgMassClear}
	}

	switch it.Action {
	case intent.ActionCreate:
		return r.resolveCreate(it)
	case intent.ActionComplete:
		return r.resolveMatched(it, snapshot, MutationComplete)
	case intent.ActionDelete:
		return r.resolveMatched(it, snapshot, MutationDelete)
	case intent.ActionReschedule, intent.ActionAddDeadline:
		return r.resolveReschedule(it, snapshot)
	case intent.ActionClearDeadline:
		return r.resolveMatched(it, snapshot, MutationClearDeadline)
	case intent.ActionRename:
		return r.resolveRename(it, snapshot)
	case intent.ActionNeedsClarification:
		return Effect{Kind: KindClarify, Message: msgNotSure}
	default:
		return Effect{Kind: KindNoop}
	}
}

func (r *Resolver) resolveCreate(it intent.Interpretation) Effect {
	text := strings.TrimSpace(it.Title)
	if text == "" {
		text = strings.TrimSpace(it.RawInput)
	}
	eff := Effect{
		Kind:     KindCreate,
		Text:     text,
		Deadline: timeutil.NormalizeToUTC(it.DeadlineISO, r.Timezone),
	}
	// A missing or unusable deadline enters the follow-up flow instead
	// of silently creating a task the user believes is scheduled.
	if eff.Deadline == "" {
		eff.Info = InfoDeadlineForNewTask
	}
	return eff
}

func (r *Resolver) resolveMatched(it intent.Interpretation, snapshot match.Snapshot, m Mutation) Effect {
	mr := match.Match(snapshot, it.TargetTaskHint, it.RawInput, r.MatchOpts)
	if mr.Matched == nil {
		return clarify(mr)
	}
	return Effect{
		Kind:     KindMutate,
		Mutation: m,
		TaskID:   mr.Matched.TaskID,
		TaskText: mr.Matched.TaskText,
	}
}

func (r *Resolver) resolveReschedule(it intent.Interpretation, snapshot match.Snapshot) Effect {
	mr := match.Match(snapshot, it.TargetTaskHint, it.RawInput, r.MatchOpts)
	if mr.Matched == nil {
		return clarify(mr)
	}
	newDue := timeutil.NormalizeToUTC(it.DeadlineISO, r.Timezone)
	if newDue == "" {
		return Effect{
			Kind:     KindMoreInfo,
			Info:     InfoDeadlineForReschedule,
			TaskID:   mr.Matched.TaskID,
			TaskText: mr.Matched.TaskText,
		}
	}
	return Effect{
		Kind:        KindMutate,
		Mutation:    MutationReschedule,
		TaskID:      mr.Matched.TaskID,
		TaskText:    mr.Matched.TaskText,
		NewDeadline: newDue,
	}
}

func (r *Resolver) resolveRename(it intent.Interpretation, snapshot match.Snapshot) Effect {
	if strings.TrimSpace(it.Title) == "" {
		return Effect{Kind: KindClarify, Message: msgNeedTitle}
	}
	mr := match.Match(snapshot, it.TargetTaskHint, it.RawInput, r.MatchOpts)
	if mr.Matched == nil {
		return clarify(mr)
	}
	return Effect{
		Kind:     KindMutate,
		Mutation: MutationRename,
		TaskID:   mr.Matched.TaskID,
		TaskText: mr.Matched.TaskText,
		NewText:  strings.TrimSpace(it.Title),
	}
}

func isMassAction(it intent.Interpretation) bool {
	if it.Action != intent.ActionComplete && it.Action != intent.ActionDelete {
		return false
	}
	lower := strings.ToLower(it.RawInput)
	for _, phrase := range massClearPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func clarify(mr match.Result) Effect {
	return Effect{
		Kind:       KindClarify,
		Message:    ClarificationMessage(mr),
		Candidates: mr.Top,
	}
}

// ClarificationMessage renders the no-match reply, listing up to three
// candidates when the matcher produced any.
func ClarificationMessage(mr match.Result) string {
	if len(mr.Top) == 0 {
		return msgClarifyBase
	}
	var b strings.Builder
	b.WriteString(msgClarifyBase)
	b.WriteString("\n\nВозможные варианты:")
	limit := len(mr.Top)
	if limit > 3 {
		limit = 3
	}
	for _, c := range mr.Top[:limit] {
		b.WriteString("\n- ")
		b.WriteString(c.TaskText)
	}
	return b.String()
}
