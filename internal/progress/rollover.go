package progress

import (
	"fmt"
	"time"
)

// DateLayout is the owner-local calendar date format used by LastOpenDate.
const DateLayout = "2006-01-02"

// DateOf formats t as a calendar date in t's location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// ValidateDate checks that s is a calendar date in DateLayout.
func ValidateDate(s string) error {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return nil
}

// Rollover advances LastOpenDate to today and clears the day's checks.
// It returns false, leaving doc untouched, when today is already recorded.
func Rollover(doc *Document, today string) bool {
	if doc.LastOpenDate == today {
		return false
	}
	doc.LastOpenDate = today
	doc.CheckedGoodToday = map[string]bool{}
	doc.CheckedBadToday = map[string]bool{}
	for i := range doc.GoodHabits {
		doc.GoodHabits[i].IsCompleted = false
	}
	return true
}
