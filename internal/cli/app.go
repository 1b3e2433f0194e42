package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/treesync/internal/auth"
	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/progress"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/store"
)

// app is one CLI invocation's wiring: local store, identity, remote and
// auth clients, and a running engine.
type app struct {
	store    *store.Store // nil when the database could not be opened
	progress *store.Progress
	ids      *identity.Resolver
	remote   *remote.Client
	auth     *auth.Client
	engine   *engine.Engine
	timeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// openApp opens the app and starts the day: if progress was last opened on
// another date, the day's checks are cleared before the command runs.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	a, err := loadApp(ctx, opts)
	if err != nil {
		return nil, err
	}
	today := progress.DateOf(opts.clock()())
	if rolled, err := a.engine.Rollover(ctx, today); err != nil {
		slog.Warn("day rollover failed", "date", today, "error", err)
	} else if rolled {
		slog.Debug("started new day", "date", today)
	}
	return a, nil
}

// loadApp wires the components from opts.Config and waits until the active
// owner's progress has been loaded and reconciled.
//
// An unusable database is not fatal: the engine then runs from memory and
// the server copy alone.
func loadApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg := opts.Config

	rc, err := remote.NewClient(cfg.RemoteURL, cfg.RemoteTimeout)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "remote client", err)
	}
	ac, err := auth.NewClient(cfg.RemoteURL, cfg.RemoteTimeout)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "auth client", err)
	}

	st := openStore(cfg.DBPath)

	// A nil *store.Store inside the interface would not read as "no storage".
	var kv identity.KV
	if st != nil {
		kv = st
	}
	var idOpts []identity.Option
	idOpts = append(idOpts, identity.WithNow(opts.clock()))
	if opts.guestIDs != nil {
		idOpts = append(idOpts, identity.WithGuestIDGenerator(opts.guestIDs))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ids := identity.NewResolver(runCtx, kv, idOpts...)
	local := store.NewProgress(st)

	engOpts := []engine.Option{
		engine.WithClock(engine.NewClock(opts.clock())),
		engine.WithRemoteTimeout(cfg.RemoteTimeout),
		engine.WithResyncInterval(cfg.ResyncInterval),
	}
	if opts.habitIDs != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(opts.habitIDs))
	}
	eng := engine.New(local, rc, ids, engOpts...)

	a := &app{
		store:    st,
		progress: local,
		ids:      ids,
		remote:   rc,
		auth:     ac,
		engine:   eng,
		timeout:  cfg.RemoteTimeout,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(a.done)
		if err := eng.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("engine stopped", "error", err)
		}
	}()

	wctx, wcancel := context.WithTimeout(ctx, 2*cfg.RemoteTimeout+time.Second)
	defer wcancel()
	if err := eng.WaitReady(wctx); err != nil {
		a.Close()
		return nil, WrapExitError(ExitFailure, "load progress", err)
	}
	return a, nil
}

func openStore(path string) *store.Store {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Warn("local storage unavailable", "path", path, "error", err)
		return nil
	}
	st, err := store.Open(path)
	if err != nil {
		slog.Warn("local storage unavailable", "path", path, "error", err)
		return nil
	}
	return st
}

// Close lets background pushes finish, then stops the engine and closes
// the database.
func (a *app) Close() {
	a.engine.WaitPushes()
	a.cancel()
	<-a.done
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// waitOwner blocks until the engine serves owner.
func (a *app) waitOwner(ctx context.Context, owner identity.Owner) (engine.Snapshot, error) {
	ch, cancel := a.engine.Subscribe()
	defer cancel()
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return engine.Snapshot{}, engine.ErrStopped
			}
			if s.State == engine.StateReady && s.Owner == owner && s.Doc != nil {
				return s, nil
			}
		case <-ctx.Done():
			return engine.Snapshot{}, fmt.Errorf("waiting for %s: %w", owner, ctx.Err())
		}
	}
}
