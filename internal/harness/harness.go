package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/progress"
	"github.com/roach88/treesync/internal/testutil"
)

// settleTimeout bounds every wait for the engine to reach a quiet state.
const settleTimeout = 5 * time.Second

// World is the simulated device and server a scenario runs against.
type World struct {
	KV     *testutil.MemoryKV
	Local  *testutil.MemoryLocal
	Remote *testutil.MemoryRemote
	Wall   *testutil.WallClock

	remoteUp bool
}

// Harness runs one scenario. Each restart replaces the resolver and engine;
// the world persists.
type Harness struct {
	world    *World
	guestID  string
	habitIDs *testutil.SequentialIDs
	logger   *slog.Logger

	ids    *identity.Resolver
	engine *engine.Engine
	cancel context.CancelFunc
	done   chan struct{}
}

// Run executes a scenario and returns the result.
//
// Every scenario gets a fresh world. Execution flow:
// 1. Seed the local and remote tiers
// 2. Launch the engine and wait until it is ready
// 3. Execute steps, checking expect_error
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	w := &World{
		KV:       testutil.NewMemoryKV(),
		Local:    testutil.NewMemoryLocal(),
		Remote:   testutil.NewMemoryRemote(),
		Wall:     testutil.NewWallClock(scenario.Start),
		remoteUp: !scenario.RemoteDown,
	}
	for owner, partial := range scenario.Local {
		doc, err := buildDocument(partial)
		if err != nil {
			return nil, fmt.Errorf("local[%s]: %w", owner, err)
		}
		w.Local.Seed(owner, doc)
	}
	for owner, partial := range scenario.Remote {
		doc, err := buildDocument(partial)
		if err != nil {
			return nil, fmt.Errorf("remote[%s]: %w", owner, err)
		}
		w.Remote.Seed(owner, doc)
	}
	w.Remote.SetReachable(!scenario.RemoteDown)
	w.Local.SetAvailable(!scenario.LocalDown)

	h := &Harness{
		world:    w,
		guestID:  scenario.GuestID,
		habitIDs: testutil.NewSequentialIDs("habit"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()
	if err := h.launch(ctx, scenario.Session); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	defer h.stop()

	result := NewResult()
	result.AddEvent(h.event(0, "launch", nil))

	for i, step := range scenario.Steps {
		n := i + 1
		stepErr, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", n, step.Do, err)
		}
		h.engine.WaitPushes()
		result.AddEvent(h.event(n, step.Do, stepErr))

		if msg := checkOutcome(n, step, stepErr); msg != "" {
			result.AddError(msg)
		}
		h.logger.Info("step completed", "step", n, "do", step.Do, "error", stepErr)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h) {
		result.AddError(msg)
	}
	return result, nil
}

// checkOutcome compares a step's error with its expect_error.
func checkOutcome(n int, step Step, err error) string {
	switch {
	case step.ExpectError == "" && err != nil:
		return fmt.Sprintf("step %d (%s): unexpected error: %v", n, step.Do, err)
	case step.ExpectError != "" && err == nil:
		return fmt.Sprintf("step %d (%s): expected error containing %q, got success", n, step.Do, step.ExpectError)
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		return fmt.Sprintf("step %d (%s): expected error containing %q, got %q", n, step.Do, step.ExpectError, err)
	}
	return ""
}

// launch starts a resolver and engine over the world and waits for the
// first document.
func (h *Harness) launch(ctx context.Context, session *SessionSpec) error {
	w := h.world
	h.ids = identity.NewResolver(ctx, w.KV,
		identity.WithNow(w.Wall.Now),
		identity.WithGuestIDGenerator(func() string { return h.guestID }),
	)
	if session != nil {
		s := identity.Session{AccountID: session.AccountID, Username: session.Username, Token: session.Token}
		if err := h.ids.Login(ctx, s); err != nil {
			return err
		}
	}

	h.engine = engine.New(w.Local, w.Remote, h.ids,
		engine.WithClock(engine.NewClock(w.Wall.Now)),
		engine.WithIDGenerator(h.habitIDs),
		engine.WithRemoteTimeout(time.Second),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		_ = h.engine.Run(runCtx)
	}()

	wctx, wcancel := context.WithTimeout(ctx, settleTimeout)
	defer wcancel()
	if err := h.engine.WaitReady(wctx); err != nil {
		h.stop()
		return err
	}
	h.engine.WaitPushes()
	return nil
}

// stop shuts the engine down, letting pushes finish first.
func (h *Harness) stop() {
	if h.cancel == nil {
		return
	}
	h.engine.WaitPushes()
	h.cancel()
	<-h.done
	h.cancel = nil
}

// execute runs one step. The first error is the step's own outcome; the
// second means the harness itself could not continue.
func (h *Harness) execute(ctx context.Context, s Step) (error, error) {
	eng, w := h.engine, h.world
	kind := progress.Kind(s.Kind)

	switch s.Do {
	case StepAddHabit:
		_, err := eng.AddHabit(ctx, kind, s.Name)
		return err, nil
	case StepRenameHabit:
		return eng.RenameHabit(ctx, kind, s.ID, s.Name), nil
	case StepUpgradeHabit:
		_, err := eng.UpgradeHabit(ctx, kind, s.ID, progress.Level(s.Level))
		return err, nil
	case StepDeleteHabit:
		return eng.DeleteHabit(ctx, kind, s.ID), nil
	case StepCheckHabit:
		return eng.CheckHabit(ctx, kind, s.ID), nil
	case StepRollover:
		_, err := eng.Rollover(ctx, s.Date)
		return err, nil
	case StepSave:
		return eng.Save(ctx), nil
	case StepReset:
		return eng.Reset(ctx), nil
	case StepResync:
		return nil, h.resync()

	case StepLogin:
		err := h.ids.Login(ctx, identity.Session{AccountID: s.AccountID, Username: s.Username, Token: s.Token})
		if err != nil {
			return err, nil
		}
		return nil, h.waitServing(ctx)
	case StepLogout:
		h.ids.Logout(ctx)
		return nil, h.waitServing(ctx)

	case StepRemoteDown, StepRemoteUp:
		w.remoteUp = s.Do == StepRemoteUp
		w.Remote.SetReachable(w.remoteUp)
		return nil, nil
	case StepLocalDown, StepLocalUp:
		w.Local.SetAvailable(s.Do == StepLocalUp)
		return nil, nil
	case StepAdvance:
		d, err := time.ParseDuration(s.By)
		if err != nil {
			return nil, err
		}
		w.Wall.Advance(d)
		return nil, nil
	case StepRemoteWrite:
		doc, err := buildDocument(s.Doc)
		if err != nil {
			return nil, err
		}
		w.Remote.Seed(s.Owner, doc)
		return nil, nil
	case StepRestart:
		h.stop()
		return nil, h.launch(ctx, nil)

	default:
		return nil, fmt.Errorf("unknown step %q", s.Do)
	}
}

// waitServing blocks until the engine serves the resolver's current owner.
func (h *Harness) waitServing(ctx context.Context) error {
	want := h.ids.Current(ctx)
	ch, unsubscribe := h.engine.Subscribe()
	defer unsubscribe()

	timeout := time.After(settleTimeout)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return engine.ErrStopped
			}
			if s.State == engine.StateReady && s.Owner == want && s.Doc != nil {
				h.engine.WaitPushes()
				return nil
			}
		case <-timeout:
			return fmt.Errorf("engine did not serve %s within %s", want, settleTimeout)
		}
	}
}

// resync asks the engine to compare with the server and waits until the
// fetch has been issued and, if the server is up, until both copies agree.
func (h *Harness) resync() error {
	w := h.world
	before := countFetches(w.Remote)
	h.engine.Resync()

	deadline := time.Now().Add(settleTimeout)
	for countFetches(w.Remote) == before {
		if time.Now().After(deadline) {
			return errors.New("resync did not fetch")
		}
		time.Sleep(time.Millisecond)
	}

	if !w.remoteUp {
		// The fetch failed; give the loop time to drop the result.
		time.Sleep(20 * time.Millisecond)
		return nil
	}
	for !h.inStep() {
		if time.Now().After(deadline) {
			return errors.New("resync did not settle")
		}
		time.Sleep(time.Millisecond)
	}
	h.engine.WaitPushes()
	return nil
}

// inStep reports whether the server copy has the live document's content.
func (h *Harness) inStep() bool {
	snap := h.engine.Snapshot()
	if snap.Doc == nil {
		return false
	}
	h.engine.WaitPushes()
	doc, ok := h.world.Remote.Get(snap.Owner.ID)
	return ok && progress.Fingerprint(doc) == progress.Fingerprint(*snap.Doc)
}

func countFetches(r *testutil.MemoryRemote) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Method == "fetch" {
			n++
		}
	}
	return n
}

// event captures the engine's view after a step.
func (h *Harness) event(n int, do string, stepErr error) TraceEvent {
	s := h.engine.Snapshot()
	outcome := "ok"
	if stepErr != nil {
		outcome = stepErr.Error()
	}
	return TraceEvent{
		Step:    n,
		Do:      do,
		Outcome: outcome,
		Owner:   s.Owner.String(),
		State:   s.State.String(),
		Doc:     digest(s.Doc),
	}
}
