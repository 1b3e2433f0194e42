package remote

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/progress"
)

// Replacer is the write half of the remote store. *Client satisfies it.
type Replacer interface {
	Replace(ctx context.Context, owner identity.Owner, token string, doc progress.Document) Status
}

// Pusher sends documents to the remote in the background.
//
// Each owner has at most one push in flight. Documents pushed while one is
// in flight replace each other, so only the newest reaches the server once
// the current push finishes. A document identical to the last acked one is
// not sent again.
type Pusher struct {
	r       Replacer
	timeout time.Duration

	mu    sync.Mutex
	lanes map[identity.Owner]*lane
	wg    sync.WaitGroup
}

type lane struct {
	inFlight   bool
	inFlightFP string
	pending    *pushJob
	acked      string
	ackedAt    int64         // UpdatedAt of the last acked document
	idle       chan struct{} // closed when the current run ends
}

type pushJob struct {
	token string
	doc   progress.Document
	fp    string
}

// NewPusher returns a Pusher writing through r. timeout bounds each push;
// timeout <= 0 selects DefaultTimeout.
func NewPusher(r Replacer, timeout time.Duration) *Pusher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pusher{
		r:       r,
		timeout: timeout,
		lanes:   make(map[identity.Owner]*lane),
	}
}

// Push schedules doc for owner and returns immediately.
func (p *Pusher) Push(owner identity.Owner, token string, doc progress.Document) {
	j := pushJob{token: token, doc: doc.Clone(), fp: progress.Fingerprint(doc)}

	p.mu.Lock()
	defer p.mu.Unlock()

	l := p.lanes[owner]
	if l == nil {
		l = &lane{}
		p.lanes[owner] = l
	}

	if l.inFlight {
		if j.fp == l.inFlightFP {
			l.pending = nil
		} else {
			l.pending = &j
		}
		return
	}
	if j.fp == l.acked {
		slog.Debug("push skipped, already acked", "owner", owner)
		return
	}

	l.inFlight = true
	l.inFlightFP = j.fp
	l.idle = make(chan struct{})
	p.wg.Add(1)
	go p.run(owner, j)
}

// PushWait pushes doc and waits until it, or a newer document, has been
// acked. It returns Unreachable if the push failed and Acked otherwise.
// A cancelled ctx stops the wait, not the push.
func (p *Pusher) PushWait(ctx context.Context, owner identity.Owner, token string, doc progress.Document) Status {
	p.Push(owner, token, doc)

	for {
		p.mu.Lock()
		l := p.lanes[owner]
		if !l.inFlight {
			ok := l.acked != "" && l.ackedAt >= doc.UpdatedAt
			p.mu.Unlock()
			if ok {
				return Acked
			}
			return Unreachable
		}
		idle := l.idle
		p.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return Unreachable
		}
	}
}

func (p *Pusher) run(owner identity.Owner, j pushJob) {
	defer p.wg.Done()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		st := p.r.Replace(ctx, owner, j.token, j.doc)
		cancel()
		slog.Debug("push finished", "owner", owner, "updatedAt", j.doc.UpdatedAt, "status", st)

		p.mu.Lock()
		l := p.lanes[owner]
		if st == Acked {
			l.acked = j.fp
			l.ackedAt = j.doc.UpdatedAt
		}
		next := l.pending
		l.pending = nil
		if next == nil || next.fp == l.acked {
			l.inFlight = false
			l.inFlightFP = ""
			close(l.idle)
			p.mu.Unlock()
			return
		}
		j = *next
		l.inFlightFP = j.fp
		p.mu.Unlock()
	}
}

// Forget drops the record of what was last acked for owner, so the next push
// is sent even if it matches. Use it when the server copy is known to differ.
func (p *Pusher) Forget(owner identity.Owner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l := p.lanes[owner]; l != nil {
		l.acked = ""
		l.ackedAt = 0
	}
}

// acked returns the fingerprint of the last document acked for owner.
func (p *Pusher) acked(owner identity.Owner) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l := p.lanes[owner]; l != nil {
		return l.acked
	}
	return ""
}

// Wait blocks until no push is in flight.
func (p *Pusher) Wait() {
	p.wg.Wait()
}
