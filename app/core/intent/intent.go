// Package intent defines the strongly-typed boundary between the
// language-model parser and the rest of the system. Whatever JSON the
// model returns is validated here; anything malformed degrades to
// ActionUnknown instead of propagating.
package intent

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Action is the task operation the user asked for.
type Action string

const (
	ActionCreate             Action = "create"
	ActionReschedule         Action = "reschedule"
	ActionAddDeadline        Action = "add_deadline"
	ActionClearDeadline      Action = "clear_deadline"
	ActionComplete           Action = "complete"
	ActionDelete             Action = "delete"
	ActionRename             Action = "rename"
	ActionShowActive         Action = "show_active"
	ActionShowToday          Action = "show_today"
	ActionShowTomorrow       Action = "show_tomorrow"
	ActionShowDate           Action = "show_date"
	ActionNeedsClarification Action = "needs_clarification"
	ActionUnknown            Action = "unknown"
)

var knownActions = map[Action]struct{}{
	ActionCreate:             {},
	ActionReschedule:         {},
	ActionAddDeadline:        {},
	ActionClearDeadline:      {},
	ActionComplete:           {},
	ActionDelete:             {},
	ActionRename:             {},
	ActionShowActive:         {},
	ActionShowToday:          {},
	ActionShowTomorrow:       {},
	ActionShowDate:           {},
	ActionNeedsClarification: {},
	ActionUnknown:            {},
}

// ParseAction maps arbitrary model output to a known action,
// defaulting to unknown.
func ParseAction(raw string) Action {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownActions[a]; ok {
		return a
	}
	return ActionUnknown
}

// Interpretation is one parsed user phrase. RawInput is always the
// verbatim original text: quoted-hint extraction and the mass-action
// guard both read it.
type Interpretation struct {
	Action         Action
	Title          string
	DeadlineISO    string
	TargetTaskHint string
	Note           string
	Language       string
	RawInput       string
}

// FromJSON validates a single model-produced JSON object. rawInput is
// the user's original text, used when the model omitted raw_input.
func FromJSON(jsonBody string, rawInput string) Interpretation {
	it := Interpretation{Action: ActionUnknown, RawInput: rawInput}
	if !gjson.Valid(jsonBody) {
		return it
	}
	root := gjson.Parse(jsonBody)
	if !root.IsObject() {
		return it
	}
	return fromResult(root, rawInput)
}

// BatchFromJSON validates a model-produced batch: either a bare JSON
// array or an object with an "items" array.
func BatchFromJSON(jsonBody string, rawInput string) []Interpretation {
	if !gjson.Valid(jsonBody) {
		return nil
	}
	root := gjson.Parse(jsonBody)
	items := root
	if root.IsObject() {
		items = root.Get("items")
	}
	if !items.IsArray() {
		return nil
	}
	out := make([]Interpretation, 0, 4)
	items.ForEach(func(_, item gjson.Result) bool {
		if item.IsObject() {
			out = append(out, fromResult(item, rawInput))
		}
		return true
	})
	return out
}

func fromResult(obj gjson.Result, rawInput string) Interpretation {
	it := Interpretation{
		Action:         ParseAction(obj.Get("action").String()),
		Title:          strings.TrimSpace(obj.Get("title").String()),
		DeadlineISO:    strings.TrimSpace(obj.Get("deadline_iso").String()),
		TargetTaskHint: strings.TrimSpace(obj.Get("target_task_hint").String()),
		Note:           strings.TrimSpace(obj.Get("note").String()),
		Language:       strings.TrimSpace(obj.Get("language").String()),
		RawInput:       strings.TrimSpace(obj.Get("raw_input").String()),
	}
	if it.RawInput == "" {
		it.RawInput = rawInput
	}
	return it
}
