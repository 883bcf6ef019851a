// Package match resolves a fuzzy text hint to one of the user's tasks.
//
// The resolution is deterministic and deliberately biased toward asking
// the user instead of guessing: no signal, a score below threshold, or a
// near-tie between the two best candidates all yield a nil match.
package match

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/textnorm"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/logger"
)

// Reason classifies a match outcome.
type Reason string

const (
	ReasonOK        Reason = "ok"
	ReasonLowScore  Reason = "low_score"
	ReasonAmbiguous Reason = "ambiguous"
	ReasonEmptyHint Reason = "empty_hint"
	ReasonNoTasks   Reason = "no_tasks"
)

// SnapshotTask is one row of the caller-owned task snapshot.
type SnapshotTask struct {
	ID    int64
	Text  string
	DueAt string // canonical UTC ISO or empty
}

// Snapshot is an ordered, immutable-per-call read of a user's active
// tasks. The matcher never mutates it.
type Snapshot struct {
	Tasks []SnapshotTask
}

// Candidate is a scored task reference, transient per match attempt.
type Candidate struct {
	TaskID   int64
	TaskText string
	Score    float64
}

// Result is the contract between the matcher and every caller: a nil
// Matched always means "do not mutate state, ask the user", with Top
// supplying candidates to show.
type Result struct {
	Matched   *Candidate
	Top       []Candidate
	Threshold float64
	Reason    Reason
}

// Options hold the empirically chosen scoring parameters. They are
// configuration, not constants: nobody has demonstrated these defaults
// are optimal.
type Options struct {
	Threshold       float64
	QuotedThreshold float64
	AmbiguityDelta  float64
	TopK            int
}

// DefaultOptions mirror the tuning the system has been running with.
func DefaultOptions() Options {
	return Options{
		Threshold:       0.75,
		QuotedThreshold: 0.85,
		AmbiguityDelta:  0.05,
		TopK:            3,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = def.Threshold
	}
	if o.QuotedThreshold <= 0 || o.QuotedThreshold > 1 {
		o.QuotedThreshold = def.QuotedThreshold
	}
	if o.AmbiguityDelta <= 0 {
		o.AmbiguityDelta = def.AmbiguityDelta
	}
	if o.TopK <= 0 {
		o.TopK = def.TopK
	}
}

const (
	scoreExact    = 1.0
	scoreContains = 0.90
)

var (
	reGuillemets   = regexp.MustCompile(`«([^»]{2,200})»`)
	reDoubleQuotes = regexp.MustCompile(`"([^"]{2,200})"`)
)

// ExtractQuotedHint returns the longest text the user put in guillemets
// or double quotes. A quoted mention is an explicit reference and is
// held to a stricter acceptance threshold.
func ExtractQuotedHint(rawInput string) string {
	if rawInput == "" {
		return ""
	}
	for _, re := range []*regexp.Regexp{reGuillemets, reDoubleQuotes} {
		longest := ""
		for _, m := range re.FindAllStringSubmatch(rawInput, -1) {
			candidate := strings.TrimSpace(m[1])
			if len(candidate) > len(longest) {
				longest = candidate
			}
		}
		if longest != "" {
			return longest
		}
	}
	return ""
}

// Match scores hint (or a quoted override found in rawInput) against
// every task in the snapshot.
//
// Scoring: exact normalized equality 1.0; substring containment in either
// direction 0.90; otherwise max(character-sequence ratio, token-set Dice)
// so either close literal phrasing or reordered word overlap can win.
func Match(snapshot Snapshot, hint string, rawInput string, opts Options) Result {
	opts.applyDefaults()

	if len(snapshot.Tasks) == 0 {
		return logged(hint, rawInput, Result{Threshold: opts.Threshold, Reason: ReasonNoTasks})
	}

	quoted := ExtractQuotedHint(rawInput)
	threshold := opts.Threshold
	if quoted != "" {
		threshold = opts.QuotedThreshold
		hint = quoted
	}

	hintNorm := textnorm.Normalize(hint)
	if hintNorm == "" {
		return logged(hint, rawInput, Result{Threshold: threshold, Reason: ReasonEmptyHint})
	}
	hintTokens := textnorm.Tokenize(hintNorm)

	candidates := make([]Candidate, 0, len(snapshot.Tasks))
	for _, task := range snapshot.Tasks {
		taskNorm := textnorm.Normalize(task.Text)
		if taskNorm == "" {
			continue
		}
		var score float64
		switch {
		case hintNorm == taskNorm:
			score = scoreExact
		case strings.Contains(taskNorm, hintNorm) || strings.Contains(hintNorm, taskNorm):
			score = scoreContains
		default:
			seq := sequenceRatio(hintNorm, taskNorm)
			dice := tokenDice(hintTokens, textnorm.Tokenize(taskNorm))
			score = seq
			if dice > score {
				score = dice
			}
		}
		if score > 0 {
			candidates = append(candidates, Candidate{TaskID: task.ID, TaskText: task.Text, Score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > opts.TopK {
		candidates = candidates[:opts.TopK]
	}

	result := Result{Top: candidates, Threshold: threshold}
	switch {
	case len(candidates) == 0:
		result.Reason = ReasonLowScore
	case candidates[0].Score < threshold:
		result.Reason = ReasonLowScore
	case len(candidates) > 1 && candidates[0].Score-candidates[1].Score < opts.AmbiguityDelta:
		result.Reason = ReasonAmbiguous
	default:
		best := candidates[0]
		result.Matched = &best
		result.Reason = ReasonOK
	}
	return logged(hint, rawInput, result)
}

// tokenDice is the Sørensen–Dice coefficient over stemmed token sets:
// 2*|A∩B| / (|A|+|B|). Stable under word reordering.
func tokenDice(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, tok := range a {
		setA[tok] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, tok := range b {
		setB[tok] = struct{}{}
	}
	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(setA)+len(setB))
}

// sequenceRatio is a character-level similarity in [0,1]:
// 2*LCS(a,b) / (len(a)+len(b)) over runes.
func sequenceRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

// logged emits the audit line required for offline quality review and
// returns the result unchanged.
func logged(hint string, rawInput string, r Result) Result {
	scores := make([]string, 0, len(r.Top))
	for _, c := range r.Top {
		scores = append(scores, strings.TrimSpace(c.TaskText)+"="+trimFloat(c.Score))
	}
	matchedID := int64(0)
	if r.Matched != nil {
		matchedID = r.Matched.TaskID
	}
	logger.Info("task_match reason=%s threshold=%.2f matched_id=%d hint=%q raw=%q top=[%s]",
		r.Reason, r.Threshold, matchedID, hint, rawInput, strings.Join(scores, ", "))
	return r
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
