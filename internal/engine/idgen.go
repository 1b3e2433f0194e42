package engine

import "github.com/roach88/treesync/internal/progress"

// IDGenerator mints ids for new habits.
// Implemented by RandomIDs (production) and testutil.SequentialIDs (tests).
type IDGenerator interface {
	Generate() string
}

// RandomIDs generates random UUIDv4 habit ids.
//
// Thread-safety: RandomIDs is stateless and safe for concurrent use.
type RandomIDs struct{}

// Generate returns a new random id.
func (RandomIDs) Generate() string {
	return progress.NewHabitID()
}
