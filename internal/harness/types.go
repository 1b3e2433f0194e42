package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/treesync/internal/progress"
)

// TraceEvent records the engine's view after one step.
// Step 0 is the launch.
type TraceEvent struct {
	Step    int    `json:"step"`
	Do      string `json:"do"`
	Outcome string `json:"outcome"` // "ok" or the step's error
	Owner   string `json:"owner"`
	State   string `json:"state"`
	Doc     string `json:"doc,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect_error and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, after the launch event.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a step event to the trace.
func (r *Result) AddEvent(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}

// digest summarizes doc on one line, leaving out timestamps.
func digest(doc *progress.Document) string {
	if doc == nil {
		return ""
	}
	good := make([]string, 0, len(doc.GoodHabits))
	for _, h := range doc.GoodHabits {
		good = append(good, habitLabel(*doc, progress.KindGood, h.ID, h.Name))
	}
	bad := make([]string, 0, len(doc.BadHabits))
	for _, h := range doc.BadHabits {
		bad = append(bad, habitLabel(*doc, progress.KindBad, h.ID, h.Name))
	}
	last := doc.LastOpenDate
	if last == "" {
		last = "-"
	}
	return fmt.Sprintf("coins=%d gems=%d exp=%d decay=%d last_open=%s good=[%s] bad=[%s]",
		doc.Coins, doc.Gems, doc.Exp, doc.Decay, last,
		strings.Join(good, ", "), strings.Join(bad, ", "))
}

// habitLabel is "id:name", with a trailing "*" when checked today.
func habitLabel(doc progress.Document, kind progress.Kind, id, name string) string {
	label := id + ":" + name
	if progress.IsChecked(doc, kind, id) {
		label += "*"
	}
	return label
}
