package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/treesync/internal/remote"
)

var (
	// ErrNotReady is returned for mutations while no document is loaded,
	// and while the engine is switching owners.
	ErrNotReady = errors.New("progress is not loaded yet")

	// ErrStopped is returned once the engine's loop has exited.
	ErrStopped = errors.New("engine stopped")

	// ErrNoChange may be returned by an Update function to leave the
	// document untouched without reporting a failure.
	ErrNoChange = errors.New("no change")
)

// SaveError reports which tiers an explicit save could not reach.
type SaveError struct {
	Local  error
	Remote remote.Status
}

func (e *SaveError) Error() string {
	switch {
	case e.Local != nil && e.Remote != remote.Acked:
		return fmt.Sprintf("save failed: local: %v; remote: %s", e.Local, e.Remote)
	case e.Local != nil:
		return fmt.Sprintf("save failed: local: %v", e.Local)
	default:
		return fmt.Sprintf("save failed: remote: %s", e.Remote)
	}
}

func (e *SaveError) Unwrap() error { return e.Local }

// IsRemoteFailure reports whether err is a SaveError whose remote push failed.
func IsRemoteFailure(err error) bool {
	var se *SaveError
	return errors.As(err, &se) && se.Remote != remote.Acked
}
