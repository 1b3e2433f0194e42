package engine

import (
	"context"
	"fmt"

	"github.com/roach88/treesync/internal/progress"
)

// AddHabit creates a habit with a freshly minted id and returns the id.
func (e *Engine) AddHabit(ctx context.Context, kind progress.Kind, name string) (string, error) {
	id := e.idGen.Generate()
	_, err := e.update(ctx, "add-habit", func(d *progress.Document) error {
		switch kind {
		case progress.KindGood:
			return progress.AddGoodHabit(d, id, name)
		case progress.KindBad:
			return progress.AddBadHabit(d, id, name)
		default:
			return fmt.Errorf("unknown habit kind %q", kind)
		}
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RenameHabit changes a habit's display name. Its id and checks are kept.
func (e *Engine) RenameHabit(ctx context.Context, kind progress.Kind, id, name string) error {
	_, err := e.update(ctx, "rename-habit", func(d *progress.Document) error {
		return progress.RenameHabit(d, kind, id, name)
	})
	return err
}

// UpgradeHabit raises one of a habit's levels and returns the new level.
func (e *Engine) UpgradeHabit(ctx context.Context, kind progress.Kind, id string, level progress.Level) (int, error) {
	var n int
	_, err := e.update(ctx, "upgrade-habit", func(d *progress.Document) error {
		var err error
		n, err = progress.UpgradeHabit(d, kind, id, level)
		return err
	})
	return n, err
}

// DeleteHabit removes a habit and its check for today.
func (e *Engine) DeleteHabit(ctx context.Context, kind progress.Kind, id string) error {
	_, err := e.update(ctx, "delete-habit", func(d *progress.Document) error {
		return progress.DeleteHabit(d, kind, id)
	})
	return err
}

// CheckHabit marks a habit as done (good) or given in to (bad) for today.
func (e *Engine) CheckHabit(ctx context.Context, kind progress.Kind, id string) error {
	_, err := e.update(ctx, "check-habit", func(d *progress.Document) error {
		return progress.CheckHabit(d, kind, id)
	})
	return err
}
