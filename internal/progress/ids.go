package progress

import (
	"fmt"

	"github.com/google/uuid"
)

// habitNamespace seeds the UUIDv5 ids minted for legacy habits.
var habitNamespace = uuid.MustParse("6f1c7f0e-3b0a-4d61-9a52-1d2b8e4c9a70")

// Kind distinguishes good habits from bad habits.
type Kind string

const (
	KindGood Kind = "good"
	KindBad  Kind = "bad"
)

// Valid reports whether k names a habit list.
func (k Kind) Valid() bool {
	return k == KindGood || k == KindBad
}

// HabitKey returns the check-map key for a habit id.
func HabitKey(kind Kind, id string) string {
	return fmt.Sprintf("%s:id:%s", kind, id)
}

// legacyKeys returns the check-map keys older clients used for a habit
// without an id: position-based and position+name based.
func legacyKeys(kind Kind, idx int, name string) []string {
	return []string{
		fmt.Sprintf("%s:idx:%d", kind, idx),
		fmt.Sprintf("%s:%d:%s", kind, idx, name),
	}
}

// NewHabitID mints a random id for a newly created habit.
func NewHabitID() string {
	return uuid.NewString()
}

// LegacyHabitID derives the id assigned to a habit that predates stable ids.
// The same (kind, position, name) always yields the same id.
func LegacyHabitID(kind Kind, idx int, name string) string {
	return uuid.NewSHA1(habitNamespace, []byte(fmt.Sprintf("%s/%d/%s", kind, idx, name))).String()
}

// EnsureHabitIDs assigns ids to habits that lack one and moves their legacy
// check-map entries to id keys. Habits that already have an id are left
// untouched, so running it again is a no-op. The input is never modified;
// changed reports whether the returned document differs.
func EnsureHabitIDs(doc Document) (out Document, changed bool) {
	missing := false
	for _, h := range doc.GoodHabits {
		if h.ID == "" {
			missing = true
			break
		}
	}
	if !missing {
		for _, h := range doc.BadHabits {
			if h.ID == "" {
				missing = true
				break
			}
		}
	}
	if !missing {
		return doc, false
	}

	out = doc.Clone()
	if out.CheckedGoodToday == nil {
		out.CheckedGoodToday = map[string]bool{}
	}
	if out.CheckedBadToday == nil {
		out.CheckedBadToday = map[string]bool{}
	}
	for i := range out.GoodHabits {
		h := &out.GoodHabits[i]
		if h.ID != "" {
			continue
		}
		h.ID = LegacyHabitID(KindGood, i, h.Name)
		rekeyChecks(out.CheckedGoodToday, KindGood, i, h.Name, h.ID)
	}
	for i := range out.BadHabits {
		h := &out.BadHabits[i]
		if h.ID != "" {
			continue
		}
		h.ID = LegacyHabitID(KindBad, i, h.Name)
		rekeyChecks(out.CheckedBadToday, KindBad, i, h.Name, h.ID)
	}
	return out, true
}

func rekeyChecks(checks map[string]bool, kind Kind, idx int, name, id string) {
	for _, key := range legacyKeys(kind, idx, name) {
		checked, ok := checks[key]
		if !ok {
			continue
		}
		delete(checks, key)
		if checked {
			checks[HabitKey(kind, id)] = true
		}
	}
}
