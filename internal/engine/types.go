package engine

import (
	"fmt"

	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/progress"
	"github.com/roach88/treesync/internal/remote"
)

// State is the engine's lifecycle state.
type State int

const (
	StateUninitialized State = iota // Run not started
	StateLoading                    // first load in progress, no document yet
	StateReady                      // document adopted, mutations accepted
	StateSwitching                  // owner changed, previous document still shown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSwitching:
		return "switching"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is a published view of the engine. Doc is nil until the first
// document is adopted, and is a private copy owned by the receiver. Owner is
// the owner of Doc; while loading or switching, Pending is the owner being
// loaded.
type Snapshot struct {
	State   State
	Owner   identity.Owner
	Pending identity.Owner
	Doc     *progress.Document
}

func (s Snapshot) clone() Snapshot {
	if s.Doc != nil {
		d := s.Doc.Clone()
		s.Doc = &d
	}
	return s
}

type eventKind int

const (
	eventOwnerChanged eventKind = iota + 1
	eventLoaded
	eventMutate
	eventFlush
	eventResync
	eventFetched
)

// event is a unit of work for the Run loop. Only the fields for its kind are set.
type event struct {
	kind   eventKind
	owner  identity.Owner
	load   *loadResult
	fetch  *fetchResult
	mutate *mutation
	reply  chan reply
}

type reply struct {
	doc      progress.Document
	owner    identity.Owner
	token    string
	localErr error
	err      error
}

type mutation struct {
	op string
	fn func(*progress.Document) error
}

// loadResult is what a background load found for owner.
type loadResult struct {
	gen    uint64
	owner  identity.Owner
	local  *progress.Document
	remote *progress.Document
	status remote.Status
	carry  *progress.Document
}

// fetchResult is what a background resync found for owner.
type fetchResult struct {
	gen    uint64
	owner  identity.Owner
	remote *progress.Document
	status remote.Status
}
