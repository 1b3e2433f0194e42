package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/progress"
	"github.com/roach88/treesync/internal/remote"
)

// ErrUnavailable is returned by MemoryLocal.Save while it is unavailable.
var ErrUnavailable = errors.New("memory storage unavailable")

// MemoryKV is an in-memory key-value store satisfying identity.KV.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Put(_ context.Context, key, value string, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return true, nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// MemoryLocal is an in-memory local tier satisfying engine.LocalStore.
// Like the SQLite store it refuses to replace a document with an older one.
type MemoryLocal struct {
	mu          sync.Mutex
	docs        map[string]progress.Document
	unavailable bool
	saves       int
}

// NewMemoryLocal creates an empty MemoryLocal.
func NewMemoryLocal() *MemoryLocal {
	return &MemoryLocal{docs: make(map[string]progress.Document)}
}

// Seed stores doc for ownerID without counting it as a save.
func (m *MemoryLocal) Seed(ownerID string, doc progress.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[ownerID] = doc.Clone()
}

// SetAvailable toggles simulated storage failure.
func (m *MemoryLocal) SetAvailable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = !ok
}

// Get returns the stored document for ownerID.
func (m *MemoryLocal) Get(ownerID string) (progress.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[ownerID]
	return d.Clone(), ok
}

// Saves returns how many saves succeeded.
func (m *MemoryLocal) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryLocal) Load(_ context.Context, ownerID string) *progress.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil
	}
	d, ok := m.docs[ownerID]
	if !ok {
		return nil
	}
	c := d.Clone()
	return &c
}

func (m *MemoryLocal) Save(_ context.Context, ownerID string, doc progress.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrUnavailable
	}
	if cur, ok := m.docs[ownerID]; ok && cur.UpdatedAt > doc.UpdatedAt {
		return errors.New("newer document already stored")
	}
	m.docs[ownerID] = doc.Clone()
	m.saves++
	return nil
}

// RemoteCall records one request seen by MemoryRemote.
type RemoteCall struct {
	Method string // "fetch" or "replace"
	Owner  identity.Owner
	Token  string
	Stamp  int64 // UpdatedAt of the replaced document
}

// MemoryRemote is an in-memory server tier satisfying engine.RemoteStore.
// It stores last-write-received, like the real server.
type MemoryRemote struct {
	mu          sync.Mutex
	docs        map[string]progress.Document
	unreachable bool
	calls       []RemoteCall
}

// NewMemoryRemote creates an empty, reachable MemoryRemote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{docs: make(map[string]progress.Document)}
}

// Seed stores doc for ownerID without recording a call.
func (m *MemoryRemote) Seed(ownerID string, doc progress.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[ownerID] = doc.Clone()
}

// SetReachable toggles simulated network failure.
func (m *MemoryRemote) SetReachable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = !ok
}

// Get returns the stored document for ownerID.
func (m *MemoryRemote) Get(ownerID string) (progress.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[ownerID]
	return d.Clone(), ok
}

// Calls returns every request seen so far.
func (m *MemoryRemote) Calls() []RemoteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RemoteCall(nil), m.calls...)
}

// Replaces returns only the replace requests.
func (m *MemoryRemote) Replaces() []RemoteCall {
	var out []RemoteCall
	for _, c := range m.Calls() {
		if c.Method == "replace" {
			out = append(out, c)
		}
	}
	return out
}

func (m *MemoryRemote) Fetch(_ context.Context, owner identity.Owner, token string) (*progress.Document, remote.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, RemoteCall{Method: "fetch", Owner: owner, Token: token})
	if m.unreachable {
		return nil, remote.Unreachable
	}
	d, ok := m.docs[owner.ID]
	if !ok {
		return nil, remote.Absent
	}
	c := d.Clone()
	return &c, remote.Found
}

func (m *MemoryRemote) Replace(_ context.Context, owner identity.Owner, token string, doc progress.Document) remote.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, RemoteCall{Method: "replace", Owner: owner, Token: token, Stamp: doc.UpdatedAt})
	if m.unreachable {
		return remote.Unreachable
	}
	m.docs[owner.ID] = doc.Clone()
	return remote.Acked
}
