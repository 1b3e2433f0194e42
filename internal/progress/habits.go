package progress

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Habit limits.
const (
	MaxNameLength = 25
	MaxLevel      = 5
)

// Habit operation errors.
var (
	ErrInvalidName    = errors.New("invalid habit name")
	ErrHabitLimit     = errors.New("good habit slots are full")
	ErrHabitNotFound  = errors.New("habit not found")
	ErrMaxLevel       = errors.New("habit level already at maximum")
	ErrInvalidLevel   = errors.New("unknown habit level")
	ErrAlreadyChecked = errors.New("habit already checked today")
)

// Level names an upgradeable habit attribute.
type Level string

const (
	LevelExp     Level = "exp"     // good: experience reward
	LevelGold    Level = "gold"    // good: coin reward
	LevelDecay   Level = "decay"   // bad: decay penalty
	LevelExpLoss Level = "expLoss" // bad: experience penalty
)

// NormalizeName trims and NFC-normalizes a habit name and enforces its length.
func NormalizeName(name string) (string, error) {
	n := norm.NFC.String(strings.TrimSpace(name))
	if n == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(n) > MaxNameLength {
		return "", fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidName, n, MaxNameLength)
	}
	return n, nil
}

// AddGoodHabit appends a good habit with the given id.
// Fails with ErrHabitLimit once every purchased slot is taken.
func AddGoodHabit(doc *Document, id, name string) error {
	n, err := NormalizeName(name)
	if err != nil {
		return err
	}
	if len(doc.GoodHabits) >= max(doc.MaxGoodHabits, DefaultMaxGoodHabits) {
		return fmt.Errorf("%w (%d of %d)", ErrHabitLimit, len(doc.GoodHabits), doc.MaxGoodHabits)
	}
	doc.GoodHabits = append(doc.GoodHabits, GoodHabit{ID: id, Name: n})
	return nil
}

// AddBadHabit appends a bad habit with the given id.
func AddBadHabit(doc *Document, id, name string) error {
	n, err := NormalizeName(name)
	if err != nil {
		return err
	}
	doc.BadHabits = append(doc.BadHabits, BadHabit{ID: id, Name: n})
	return nil
}

// RenameHabit changes a habit's display name. Its id and checks are kept.
func RenameHabit(doc *Document, kind Kind, id, name string) error {
	n, err := NormalizeName(name)
	if err != nil {
		return err
	}
	switch kind {
	case KindGood:
		i := indexGood(doc, id)
		if i < 0 {
			return notFound(kind, id)
		}
		doc.GoodHabits[i].Name = n
	case KindBad:
		i := indexBad(doc, id)
		if i < 0 {
			return notFound(kind, id)
		}
		doc.BadHabits[i].Name = n
	default:
		return fmt.Errorf("unknown habit kind %q", kind)
	}
	return nil
}

// UpgradeHabit raises one level of a habit by one, up to MaxLevel.
// It returns the new level.
func UpgradeHabit(doc *Document, kind Kind, id string, level Level) (int, error) {
	var target *int
	switch kind {
	case KindGood:
		i := indexGood(doc, id)
		if i < 0 {
			return 0, notFound(kind, id)
		}
		switch level {
		case LevelExp:
			target = &doc.GoodHabits[i].ExpLevel
		case LevelGold:
			target = &doc.GoodHabits[i].GoldLevel
		}
	case KindBad:
		i := indexBad(doc, id)
		if i < 0 {
			return 0, notFound(kind, id)
		}
		switch level {
		case LevelDecay:
			target = &doc.BadHabits[i].DecayLevel
		case LevelExpLoss:
			target = &doc.BadHabits[i].ExpLossLevel
		}
	default:
		return 0, fmt.Errorf("unknown habit kind %q", kind)
	}
	if target == nil {
		return 0, fmt.Errorf("%w: %q for %s habit", ErrInvalidLevel, level, kind)
	}
	if *target >= MaxLevel {
		return *target, ErrMaxLevel
	}
	*target = max(*target, 0) + 1
	return *target, nil
}

// DeleteHabit removes a habit and its check entry for today.
func DeleteHabit(doc *Document, kind Kind, id string) error {
	switch kind {
	case KindGood:
		i := indexGood(doc, id)
		if i < 0 {
			return notFound(kind, id)
		}
		doc.GoodHabits = append(doc.GoodHabits[:i:i], doc.GoodHabits[i+1:]...)
		delete(doc.CheckedGoodToday, HabitKey(kind, id))
	case KindBad:
		i := indexBad(doc, id)
		if i < 0 {
			return notFound(kind, id)
		}
		doc.BadHabits = append(doc.BadHabits[:i:i], doc.BadHabits[i+1:]...)
		delete(doc.CheckedBadToday, HabitKey(kind, id))
	default:
		return fmt.Errorf("unknown habit kind %q", kind)
	}
	return nil
}

// CheckHabit records that a habit was done (good) or given in to (bad) today.
// A habit can be checked once per day.
func CheckHabit(doc *Document, kind Kind, id string) error {
	var checks *map[string]bool
	switch kind {
	case KindGood:
		i := indexGood(doc, id)
		if i < 0 {
			return notFound(kind, id)
		}
		doc.GoodHabits[i].IsCompleted = true
		checks = &doc.CheckedGoodToday
	case KindBad:
		if indexBad(doc, id) < 0 {
			return notFound(kind, id)
		}
		checks = &doc.CheckedBadToday
	default:
		return fmt.Errorf("unknown habit kind %q", kind)
	}
	if *checks == nil {
		*checks = map[string]bool{}
	}
	key := HabitKey(kind, id)
	if (*checks)[key] {
		return ErrAlreadyChecked
	}
	(*checks)[key] = true
	return nil
}

// IsChecked reports whether a habit was checked today.
func IsChecked(doc Document, kind Kind, id string) bool {
	if kind == KindBad {
		return doc.CheckedBadToday[HabitKey(kind, id)]
	}
	return doc.CheckedGoodToday[HabitKey(kind, id)]
}

func indexGood(doc *Document, id string) int {
	for i, h := range doc.GoodHabits {
		if h.ID == id {
			return i
		}
	}
	return -1
}

func indexBad(doc *Document, id string) int {
	for i, h := range doc.BadHabits {
		if h.ID == id {
			return i
		}
	}
	return -1
}

func notFound(kind Kind, id string) error {
	return fmt.Errorf("%w: %s habit %q", ErrHabitNotFound, kind, id)
}
