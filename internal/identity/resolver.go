package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Storage keys. They match the store package's well-known keys.
const (
	keyGuestID     = "guestId"
	keyActiveOwner = "activeOwnerPointer"
	keySession     = "session"
)

// ErrInvalidSession is returned by Login for a session without token or account id.
var ErrInvalidSession = errors.New("session requires token and account id")

// KV is the persistence the resolver needs. *store.Store satisfies it.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string, stamp int64) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithNow sets the wall clock used for token expiry checks.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithGuestIDGenerator sets the function that mints a new guest id.
func WithGuestIDGenerator(gen func() string) Option {
	return func(r *Resolver) { r.newGuestID = gen }
}

// Resolver tracks the active owner.
//
// It is safe for concurrent use. Subscribers are called synchronously, on the
// goroutine that caused the change, after the resolver's state is updated.
type Resolver struct {
	kv         KV
	now        func() time.Time
	newGuestID func() string

	mu      sync.Mutex
	guestID string
	session *Session
	subs    map[int]func(Owner)
	nextSub int
}

// NewResolver loads the guest id and session from kv, minting a guest id on
// first use. An expired session is discarded. kv may be nil, in which case
// identities live in memory only.
func NewResolver(ctx context.Context, kv KV, opts ...Option) *Resolver {
	r := &Resolver{
		kv:         kv,
		now:        time.Now,
		newGuestID: uuid.NewString,
		subs:       make(map[int]func(Owner)),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.guestID = r.loadGuestID(ctx)
	r.session = r.loadSession(ctx)
	return r
}

func (r *Resolver) loadGuestID(ctx context.Context) string {
	if r.kv != nil {
		id, ok, err := r.kv.Get(ctx, keyGuestID)
		if err != nil {
			slog.Warn("reading guest id failed", "error", err)
		} else if ok && id != "" {
			return id
		}
	}

	id := r.newGuestID()
	slog.Info("minted guest id", "guest", id)
	r.put(ctx, keyGuestID, id)
	return id
}

func (r *Resolver) loadSession(ctx context.Context) *Session {
	if r.kv == nil {
		return nil
	}
	raw, ok, err := r.kv.Get(ctx, keySession)
	if err != nil {
		slog.Warn("reading session failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || !s.Valid() {
		slog.Warn("discarding unreadable session")
		r.del(ctx, keySession)
		return nil
	}
	if TokenExpired(s.Token, r.now()) {
		slog.Info("session expired, continuing as guest", "account", s.AccountID)
		r.del(ctx, keySession)
		return nil
	}
	return &s
}

// GuestID returns the install's guest id.
func (r *Resolver) GuestID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guestID
}

// Session returns the current account session, if any.
func (r *Resolver) Session() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return Session{}, false
	}
	return *r.session, true
}

// Token returns the bearer token for the active owner, or "" for a guest.
func (r *Resolver) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return ""
	}
	return r.session.Token
}

// Current resolves the active owner and records it as the active-owner pointer.
func (r *Resolver) Current(ctx context.Context) Owner {
	r.mu.Lock()
	o := r.ownerLocked()
	r.mu.Unlock()

	r.put(ctx, keyActiveOwner, o.String())
	return o
}

func (r *Resolver) ownerLocked() Owner {
	if r.session != nil {
		return Account(r.session.AccountID)
	}
	return Guest(r.guestID)
}

// Login makes s the active session and notifies subscribers if the active
// owner changed.
func (r *Resolver) Login(ctx context.Context, s Session) error {
	if !s.Valid() {
		return ErrInvalidSession
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	r.mu.Lock()
	before := r.ownerLocked()
	r.session = &s
	after := r.ownerLocked()
	r.mu.Unlock()

	r.put(ctx, keySession, string(data))
	slog.Info("logged in", "account", s.AccountID, "username", s.Username)
	if after != before {
		r.put(ctx, keyActiveOwner, after.String())
		r.notify(after)
	}
	return nil
}

// Logout drops the session and switches the active owner back to the guest.
func (r *Resolver) Logout(ctx context.Context) {
	r.mu.Lock()
	before := r.ownerLocked()
	r.session = nil
	after := r.ownerLocked()
	r.mu.Unlock()

	r.del(ctx, keySession)
	r.put(ctx, keyActiveOwner, after.String())
	if after != before {
		slog.Info("logged out", "account", before.ID)
		r.notify(after)
	}
}

// Subscribe registers fn to be called with the new owner on every change.
// The returned function unregisters it.
func (r *Resolver) Subscribe(fn func(Owner)) (cancel func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Resolver) notify(o Owner) {
	r.mu.Lock()
	fns := make([]func(Owner), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(o)
	}
}

func (r *Resolver) put(ctx context.Context, key, value string) {
	if r.kv == nil {
		return
	}
	if _, err := r.kv.Put(ctx, key, value, 0); err != nil {
		slog.Warn("persisting identity failed", "key", key, "error", err)
	}
}

func (r *Resolver) del(ctx context.Context, key string) {
	if r.kv == nil {
		return
	}
	if err := r.kv.Delete(ctx, key); err != nil {
		slog.Warn("deleting identity record failed", "key", key, "error", err)
	}
}
