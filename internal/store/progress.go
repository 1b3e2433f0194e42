package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/treesync/internal/progress"
)

// Well-known keys.
const (
	KeyGuestID        = "guestId"
	KeyActiveOwner    = "activeOwnerPointer"
	KeySession        = "session"
	KeyLegacyProgress = "userData"

	progressPrefix = "progress:"
)

var (
	// ErrUnavailable is returned when no database could be opened.
	ErrUnavailable = errors.New("local storage unavailable")

	// ErrStale is returned by Save when a newer document is already stored.
	ErrStale = errors.New("newer document already stored")
)

// ProgressKey returns the namespaced key for an owner's progress document.
func ProgressKey(ownerID string) string {
	return progressPrefix + ownerID
}

// Progress is the local tier as seen by the sync engine.
// A nil *Progress, or one built on a nil *Store, behaves as storage that
// is permanently unavailable.
type Progress struct {
	kv *Store
}

// NewProgress wraps a Store. s may be nil when the database could not be opened.
func NewProgress(s *Store) *Progress {
	return &Progress{kv: s}
}

// Load returns the owner's stored document, or nil if there is none.
//
// Storage failures and corrupt records are logged and reported as nil.
// If the owner has no namespaced record but a legacy single-slot record
// exists, the legacy record is first moved under the owner's key.
func (p *Progress) Load(ctx context.Context, ownerID string) *progress.Document {
	if p == nil || p.kv == nil {
		return nil
	}
	p.migrateLegacy(ctx, ownerID)

	raw, ok, err := p.kv.Get(ctx, ProgressKey(ownerID))
	if err != nil {
		slog.Warn("local load failed", "owner", ownerID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	doc, err := progress.Decode([]byte(raw))
	if err != nil {
		slog.Warn("ignoring malformed local document", "owner", ownerID, "error", err)
		return nil
	}
	return &doc
}

// Save stores doc under the owner's key, stamped with doc.UpdatedAt.
func (p *Progress) Save(ctx context.Context, ownerID string, doc progress.Document) error {
	if p == nil || p.kv == nil {
		return ErrUnavailable
	}
	data, err := progress.Encode(doc)
	if err != nil {
		return err
	}
	written, err := p.kv.Put(ctx, ProgressKey(ownerID), string(data), doc.UpdatedAt)
	if err != nil {
		return err
	}
	if !written {
		return fmt.Errorf("save %s at %d: %w", ownerID, doc.UpdatedAt, ErrStale)
	}
	return nil
}

// OwnerSummary describes one locally stored progress document.
type OwnerSummary struct {
	OwnerID   string
	UpdatedAt int64
}

// Owners lists every owner with a local document, most recently stamped first.
func (p *Progress) Owners(ctx context.Context) ([]OwnerSummary, error) {
	if p == nil || p.kv == nil {
		return nil, ErrUnavailable
	}
	records, err := p.kv.List(ctx, progressPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]OwnerSummary, 0, len(records))
	for _, r := range records {
		out = append(out, OwnerSummary{
			OwnerID:   strings.TrimPrefix(r.Key, progressPrefix),
			UpdatedAt: r.Stamp,
		})
	}
	return out, nil
}

// migrateLegacy moves the pre-namespacing "userData" record under ownerID
// when the owner has no record of its own. Legacy records carry stamp 0,
// so the moved copy never outranks a real write.
func (p *Progress) migrateLegacy(ctx context.Context, ownerID string) {
	if _, ok, err := p.kv.Get(ctx, KeyLegacyProgress); err != nil || !ok {
		return
	}
	moved, err := p.kv.Move(ctx, KeyLegacyProgress, ProgressKey(ownerID))
	if err != nil {
		slog.Warn("legacy progress migration failed", "owner", ownerID, "error", err)
		return
	}
	if moved {
		slog.Info("migrated legacy progress record", "owner", ownerID)
	}
}
