package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/merge"
	"github.com/roach88/treesync/internal/progress"
	"github.com/roach88/treesync/internal/remote"
)

// LocalStore is the durable tier on this device. *store.Progress satisfies it.
// Load reports nil for anything it cannot return, and never fails.
type LocalStore interface {
	Load(ctx context.Context, ownerID string) *progress.Document
	Save(ctx context.Context, ownerID string, doc progress.Document) error
}

// RemoteStore is the server tier. *remote.Client satisfies it.
type RemoteStore interface {
	Fetch(ctx context.Context, owner identity.Owner, token string) (*progress.Document, remote.Status)
	Replace(ctx context.Context, owner identity.Owner, token string, doc progress.Document) remote.Status
}

// IdentitySource resolves the active owner. *identity.Resolver satisfies it.
type IdentitySource interface {
	Current(ctx context.Context) identity.Owner
	Token() string
	Subscribe(fn func(identity.Owner)) (cancel func())
}

// Engine owns the in-memory progress document and keeps both tiers in step.
//
// All state changes happen on the Run goroutine. Public methods enqueue an
// event and, where they return a result, wait for the loop to reply.
//
// Thread-safety model:
//   - Update, Save, Reset, Resync and the habit helpers: any goroutine
//   - Snapshot, Subscribe, WaitReady: any goroutine
//   - Run: exactly one goroutine
//
// Loads and remote fetches run on their own goroutines and report back
// through the queue tagged with the generation they started in. The
// generation advances on every mutation, adoption and owner change, so a
// result that was overtaken is dropped instead of overwriting newer state.
type Engine struct {
	local  LocalStore
	remote RemoteStore
	ids    IdentitySource
	pusher *remote.Pusher
	clock  *Clock
	idGen  IDGenerator

	remoteTimeout  time.Duration
	resyncInterval time.Duration

	queue *eventQueue
	done  chan struct{}
	ready chan struct{}

	// Owned by the Run goroutine.
	state      State
	owner      identity.Owner // owner being served or loaded
	token      string         // bearer token captured with owner
	docOwner   identity.Owner // owner of doc
	doc        *progress.Document
	generation uint64
	readyOnce  sync.Once

	mu   sync.RWMutex
	snap Snapshot
	subs map[int]chan Snapshot
	next int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the timestamp clock. Default: NewClock(time.Now).
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the habit id generator. Default: RandomIDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.idGen = g }
}

// WithRemoteTimeout bounds each remote call. Default: remote.DefaultTimeout.
func WithRemoteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.remoteTimeout = d }
}

// WithResyncInterval makes Run resync with the remote periodically.
// Zero (the default) disables periodic resync.
func WithResyncInterval(d time.Duration) Option {
	return func(e *Engine) { e.resyncInterval = d }
}

// New creates an Engine. local and rem may not be nil; pass a LocalStore
// that reports nothing if there is no durable storage.
func New(local LocalStore, rem RemoteStore, ids IdentitySource, opts ...Option) *Engine {
	e := &Engine{
		local:         local,
		remote:        rem,
		ids:           ids,
		idGen:         RandomIDs{},
		remoteTimeout: remote.DefaultTimeout,
		queue:         newEventQueue(),
		done:          make(chan struct{}),
		ready:         make(chan struct{}),
		subs:          make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = NewClock(nil)
	}
	e.pusher = remote.NewPusher(rem, e.remoteTimeout)
	e.snap = Snapshot{State: StateUninitialized}
	return e
}

// Run starts the event loop and blocks until ctx is cancelled or Stop is
// called. It begins by loading the active owner's document.
//
// Event handling never fails the loop: storage and network failures are
// logged and the engine carries on with what it has in memory.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	slog.Info("engine starting")

	unsubscribe := e.ids.Subscribe(func(o identity.Owner) {
		e.queue.Enqueue(event{kind: eventOwnerChanged, owner: o})
	})
	defer unsubscribe()

	var tick <-chan time.Time
	if e.resyncInterval > 0 {
		ticker := time.NewTicker(e.resyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	e.startLoad(ctx, e.ids.Current(ctx), nil)

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.handle(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.drain()
			return ctx.Err()

		case <-tick:
			e.handleResync(ctx)

		case <-e.queue.Wait():
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				e.drain()
				return nil
			}
		}
	}
}

// Stop shuts the loop down. Calls made afterwards return ErrStopped.
func (e *Engine) Stop() {
	e.queue.Close()
}

// drain fails requests still queued when the loop exits.
func (e *Engine) drain() {
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		if ev.reply != nil {
			ev.reply <- reply{err: ErrStopped}
		}
	}
}

// WaitReady blocks until the first document has been adopted.
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitPushes blocks until no background push is in flight.
func (e *Engine) WaitPushes() {
	e.pusher.Wait()
}

// call enqueues ev and waits for the loop's reply.
func (e *Engine) call(ctx context.Context, ev event) (reply, error) {
	ev.reply = make(chan reply, 1)
	if !e.queue.Enqueue(ev) {
		return reply{}, ErrStopped
	}
	select {
	case r := <-ev.reply:
		return r, r.err
	case <-e.done:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// handle routes an event.
// CRITICAL: called only from the Run goroutine.
func (e *Engine) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventOwnerChanged:
		e.handleOwnerChanged(ctx, ev.owner)
	case eventLoaded:
		e.handleLoaded(ctx, ev.load)
	case eventMutate:
		doc, err := e.handleMutate(ctx, ev.mutate)
		ev.reply <- reply{doc: doc, err: err}
	case eventFlush:
		ev.reply <- e.handleFlush(ctx)
	case eventResync:
		e.handleResync(ctx)
	case eventFetched:
		e.handleFetched(ctx, ev.fetch)
	default:
		slog.Error("unknown engine event", "kind", ev.kind)
	}
}

// startLoad moves to Loading (or Switching, when a document is already on
// screen) and fetches both tiers for owner in the background. carry is a
// document to use as the local candidate if owner has none on this device.
func (e *Engine) startLoad(ctx context.Context, owner identity.Owner, carry *progress.Document) {
	e.generation++
	gen := e.generation
	e.owner = owner

	if e.doc == nil {
		e.setState(StateLoading)
	} else {
		e.setState(StateSwitching)
	}
	slog.Info("loading progress", "owner", owner, "state", e.state)

	token := ""
	if owner.IsAccount() {
		token = e.ids.Token()
	}
	e.token = token
	go func() {
		res := e.load(ctx, owner, token)
		res.gen = gen
		res.carry = carry
		e.queue.Enqueue(event{kind: eventLoaded, load: &res})
	}()
}

// load reads both tiers in parallel. The remote read is bounded by the
// remote timeout; on timeout the local copy is used alone.
func (e *Engine) load(ctx context.Context, owner identity.Owner, token string) loadResult {
	res := loadResult{owner: owner}

	var g errgroup.Group
	g.Go(func() error {
		res.local = e.local.Load(ctx, owner.ID)
		return nil
	})
	g.Go(func() error {
		rctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
		defer cancel()
		res.remote, res.status = e.remote.Fetch(rctx, owner, token)
		return nil
	})
	_ = g.Wait()
	return res
}

func (e *Engine) handleOwnerChanged(ctx context.Context, owner identity.Owner) {
	if owner == e.owner {
		return
	}

	// Only a guest document on screen is carried. e.owner may be a guest
	// still loading while doc belongs to the account that just logged out.
	var carry *progress.Document
	if e.doc != nil && !e.docOwner.IsAccount() && owner.IsAccount() {
		c := e.doc.Clone()
		carry = &c
	}
	slog.Info("owner changed", "from", e.owner, "to", owner)
	e.startLoad(ctx, owner, carry)
}

func (e *Engine) handleLoaded(ctx context.Context, res *loadResult) {
	if res.gen != e.generation || res.owner != e.owner {
		slog.Debug("discarding stale load", "owner", res.owner)
		return
	}

	localDoc := res.local
	if localDoc == nil && res.carry != nil {
		slog.Info("carrying guest progress to account", "account", res.owner.ID)
		localDoc = res.carry
	}
	for _, d := range []*progress.Document{localDoc, res.remote} {
		if d != nil {
			e.clock.Observe(d.UpdatedAt)
		}
	}

	var result merge.Result
	if res.owner.IsAccount() {
		result = merge.PreferRemote(localDoc, res.remote, e.clock.Next())
	} else {
		result = merge.Reconcile(localDoc, res.remote, e.clock.Next())
	}

	doc := result.Doc
	// Restamp only when the remote answered. Offline, the adopted copy keeps
	// its own stamp so it does not outrank edits the server may hold.
	if res.status != remote.Unreachable {
		doc.UpdatedAt = e.clock.Next()
	}

	slog.Info("progress loaded",
		"owner", res.owner,
		"winner", result.Winner,
		"remote", res.status,
		"migrated", result.Migrated,
		"updatedAt", doc.UpdatedAt,
	)

	e.adopt(ctx, doc, res.status != remote.Unreachable)
	e.setState(StateReady)
	e.readyOnce.Do(func() { close(e.ready) })
}

// adopt installs doc as the live document and writes it to the local tier,
// and to the remote tier when push is set.
func (e *Engine) adopt(ctx context.Context, doc progress.Document, push bool) {
	e.generation++
	e.doc = &doc
	e.docOwner = e.owner
	e.persistLocal(ctx, doc)
	if push {
		e.push(doc)
	}
	e.publish()
}

// push sends doc to the remote for the served owner in the background.
// Account pushes without a token are skipped.
func (e *Engine) push(doc progress.Document) {
	if e.owner.IsAccount() && e.token == "" {
		slog.Warn("skipping push without session token", "owner", e.owner)
		return
	}
	e.pusher.Push(e.owner, e.token, doc)
}

func (e *Engine) persistLocal(ctx context.Context, doc progress.Document) {
	if err := e.local.Save(ctx, e.owner.ID, doc); err != nil {
		slog.Warn("local save failed", "owner", e.owner, "updatedAt", doc.UpdatedAt, "error", err)
	}
}

func (e *Engine) handleMutate(ctx context.Context, m *mutation) (progress.Document, error) {
	if e.state != StateReady || e.doc == nil {
		return progress.Document{}, ErrNotReady
	}

	next := e.doc.Clone()
	if err := m.fn(&next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return e.doc.Clone(), nil
		}
		return e.doc.Clone(), err
	}
	next.UpdatedAt = e.clock.Next()

	slog.Debug("mutation applied", "owner", e.owner, "op", m.op, "updatedAt", next.UpdatedAt)
	e.adopt(ctx, next, true)
	return next.Clone(), nil
}

func (e *Engine) handleFlush(ctx context.Context) reply {
	if e.state != StateReady || e.doc == nil {
		return reply{err: ErrNotReady}
	}
	doc := e.doc.Clone()
	return reply{
		doc:      doc,
		owner:    e.owner,
		token:    e.token,
		localErr: e.local.Save(ctx, e.owner.ID, doc),
	}
}

// handleResync fetches the remote copy for the current owner in the background.
func (e *Engine) handleResync(ctx context.Context) {
	if e.state != StateReady {
		return
	}
	gen, owner, token := e.generation, e.owner, e.token
	go func() {
		rctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
		defer cancel()
		doc, st := e.remote.Fetch(rctx, owner, token)
		e.queue.Enqueue(event{kind: eventFetched, fetch: &fetchResult{
			gen: gen, owner: owner, remote: doc, status: st,
		}})
	}()
}

func (e *Engine) handleFetched(ctx context.Context, res *fetchResult) {
	if res.gen != e.generation || res.owner != e.owner || e.state != StateReady {
		slog.Debug("discarding stale resync", "owner", res.owner)
		return
	}
	if res.status == remote.Unreachable {
		return
	}
	if res.remote != nil {
		e.clock.Observe(res.remote.UpdatedAt)
	}

	result := merge.Reconcile(e.doc, res.remote, e.clock.Next())
	if result.Winner == merge.WinnerRemote {
		doc := result.Doc
		doc.UpdatedAt = e.clock.Next()
		slog.Info("resync adopted remote progress", "owner", e.owner, "updatedAt", doc.UpdatedAt)
		e.adopt(ctx, doc, true)
		return
	}

	if res.remote == nil || progress.Fingerprint(*res.remote) != progress.Fingerprint(*e.doc) {
		slog.Debug("resync pushing local progress", "owner", e.owner)
		e.pusher.Forget(e.owner)
		e.push(e.doc.Clone())
	}
}

// Update applies fn to a copy of the live document. If fn succeeds the copy
// is stamped, becomes the live document, is saved locally and is pushed in
// the background. The returned document is the new live document.
//
// fn runs on the engine goroutine and must not call back into the Engine.
func (e *Engine) Update(ctx context.Context, fn func(*progress.Document) error) (progress.Document, error) {
	return e.update(ctx, "update", fn)
}

func (e *Engine) update(ctx context.Context, op string, fn func(*progress.Document) error) (progress.Document, error) {
	r, err := e.call(ctx, event{kind: eventMutate, mutate: &mutation{op: op, fn: fn}})
	return r.doc, err
}

// Save writes the live document to both tiers and waits for the remote.
// Unlike background sync it reports failures, as a *SaveError.
func (e *Engine) Save(ctx context.Context) error {
	r, err := e.call(ctx, event{kind: eventFlush})
	if err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
	defer cancel()
	st := e.pusher.PushWait(rctx, r.owner, r.token, r.doc)

	if r.localErr != nil || st != remote.Acked {
		return &SaveError{Local: r.localErr, Remote: st}
	}
	return nil
}

// Reset replaces the document with defaults and saves it to both tiers.
func (e *Engine) Reset(ctx context.Context) error {
	_, err := e.update(ctx, "reset", func(d *progress.Document) error {
		*d = progress.Default(0)
		return nil
	})
	if err != nil {
		return err
	}
	return e.Save(ctx)
}

// Rollover starts a new day: if the document's last open date is not today,
// today's checks are cleared and the date advanced. It reports whether it did.
func (e *Engine) Rollover(ctx context.Context, today string) (bool, error) {
	if err := progress.ValidateDate(today); err != nil {
		return false, err
	}
	rolled := false
	_, err := e.update(ctx, "rollover", func(d *progress.Document) error {
		if !progress.Rollover(d, today) {
			return ErrNoChange
		}
		rolled = true
		return nil
	})
	return rolled, err
}

// Resync asks the loop to compare with the remote copy again.
func (e *Engine) Resync() {
	e.queue.Enqueue(event{kind: eventResync})
}

// Snapshot returns the current published state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.clone()
}

// Subscribe returns a channel that always holds the latest snapshot. Slow
// readers skip intermediate snapshots. cancel closes the channel.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = ch
	ch <- e.snap.clone()
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			close(ch)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	slog.Debug("engine state", "from", e.state, "to", s)
	e.state = s
	e.publish()
}

// publish replaces the snapshot and offers it to every subscriber.
func (e *Engine) publish() {
	snap := Snapshot{State: e.state, Owner: e.docOwner}
	if e.state == StateLoading || e.state == StateSwitching {
		snap.Pending = e.owner
	}
	if e.doc != nil {
		d := e.doc.Clone()
		snap.Doc = &d
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap = snap
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap.clone()
	}
}

func (e *Engine) String() string {
	s := e.Snapshot()
	return fmt.Sprintf("engine(%s, %s)", s.State, s.Owner)
}
