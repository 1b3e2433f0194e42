package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/treesync/internal/progress"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s -> %s (%s) %s\n", event.Step, event.Do, event.Outcome, event.Owner, event.Doc)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the harness's final
// state and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, h *Harness) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(a, h, result.Trace); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(a Assertion, h *Harness, trace []TraceEvent) error {
	switch a.Type {
	case AssertDocument:
		snap := h.engine.Snapshot()
		if snap.Doc == nil {
			return &AssertionError{Type: a.Type, Expected: "a live document", Actual: "none", Trace: trace}
		}
		return assertDocument(a.Type, *snap.Doc, a.Expect, trace)

	case AssertLocal, AssertRemote:
		doc, ok := h.stored(a.Type, a.Owner)
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s document for %s", a.Type, a.Owner),
				Actual:   "not found",
				Trace:    trace,
			}
		}
		return assertDocument(a.Type, doc, a.Expect, trace)

	case AssertAbsent:
		if doc, ok := h.stored(a.Tier, a.Owner); ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("no %s document for %s", a.Tier, a.Owner),
				Actual:   digest(&doc),
				Trace:    trace,
			}
		}
		return nil

	case AssertOwner:
		got := h.engine.Snapshot().Owner.String()
		if got != a.Owner {
			return &AssertionError{Type: a.Type, Expected: a.Owner, Actual: got, Trace: trace}
		}
		return nil

	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// stored returns the document a tier holds for owner.
func (h *Harness) stored(tier, owner string) (progress.Document, bool) {
	if tier == AssertRemote {
		return h.world.Remote.Get(owner)
	}
	return h.world.Local.Get(owner)
}

// assertDocument matches doc against expected field values.
func assertDocument(typ string, doc progress.Document, expected map[string]any, trace []TraceEvent) error {
	actual, err := normalize(doc)
	if err != nil {
		return err
	}
	want, err := normalize(expected)
	if err != nil {
		return err
	}
	got, _ := actual.(map[string]any)

	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Deterministic error order

	for _, k := range keys {
		exp := want.(map[string]any)[k]
		act, ok := got[k]
		if !ok || !matchSubset(act, exp) {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s = %s", k, compact(exp)),
				Actual:   fmt.Sprintf("%s = %s", k, compact(act)),
				Trace:    trace,
			}
		}
	}
	return nil
}

// normalize round-trips v through JSON so documents and YAML values
// compare with the same types (numbers become float64).
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}

// matchSubset reports whether actual matches expected: maps match when
// every expected key matches, lists when lengths agree and every element
// matches, and anything else by equality.
func matchSubset(actual, expected any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			if !matchSubset(act[k], v) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchSubset(act[i], exp[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(actual, expected)
	}
}

func compact(v any) string {
	if v == nil {
		return "<missing>"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
