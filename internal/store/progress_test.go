package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/progress"
)

func TestProgressKey(t *testing.T) {
	assert.Equal(t, "progress:abc", ProgressKey("abc"))
}

func TestProgress_SaveLoad(t *testing.T) {
	p := NewProgress(createTestStore(t))
	ctx := context.Background()

	doc := createTestDocument(75, 1000)
	require.NoError(t, p.Save(ctx, "guest-1", doc))

	got := p.Load(ctx, "guest-1")
	require.NotNil(t, got)
	assert.Equal(t, doc, *got)
}

func TestProgress_LoadAbsent(t *testing.T) {
	p := NewProgress(createTestStore(t))
	assert.Nil(t, p.Load(context.Background(), "nobody"))
}

func TestProgress_NamespacedPerOwner(t *testing.T) {
	p := NewProgress(createTestStore(t))
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, "guest-1", createTestDocument(10, 100)))
	require.NoError(t, p.Save(ctx, "42", createTestDocument(999, 200)))

	assert.Equal(t, 10, p.Load(ctx, "guest-1").Coins)
	assert.Equal(t, 999, p.Load(ctx, "42").Coins)
}

func TestProgress_SaveRejectsStale(t *testing.T) {
	p := NewProgress(createTestStore(t))
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, "g", createTestDocument(60, 100)))

	err := p.Save(ctx, "g", createTestDocument(50, 50))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStale))
	assert.Equal(t, 60, p.Load(ctx, "g").Coins)
}

func TestProgress_LoadMalformedIsAbsent(t *testing.T) {
	s := createTestStore(t)
	p := NewProgress(s)

	mustPut(t, s, ProgressKey("g"), "not json", 0)
	assert.Nil(t, p.Load(context.Background(), "g"))

	mustPut(t, s, ProgressKey("h"), "[1,2,3]", 0)
	assert.Nil(t, p.Load(context.Background(), "h"))
}

func TestProgress_Unavailable(t *testing.T) {
	ctx := context.Background()

	for name, p := range map[string]*Progress{
		"nil facade": nil,
		"nil store":  NewProgress(nil),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, p.Load(ctx, "g"))
			assert.ErrorIs(t, p.Save(ctx, "g", progress.Default(1)), ErrUnavailable)
			_, err := p.Owners(ctx)
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestProgress_LegacyMigration(t *testing.T) {
	s := createTestStore(t)
	p := NewProgress(s)
	ctx := context.Background()

	mustPut(t, s, KeyLegacyProgress, `{"coins":77,"goodHabits":[{"name":"Run"}]}`, 0)

	got := p.Load(ctx, "guest-1")
	require.NotNil(t, got)
	assert.Equal(t, 77, got.Coins)
	require.Len(t, got.GoodHabits, 1)
	assert.Equal(t, "Run", got.GoodHabits[0].Name)

	_, ok, err := s.Get(ctx, KeyLegacyProgress)
	require.NoError(t, err)
	assert.False(t, ok, "legacy slot removed after migration")

	// A second owner must not inherit anything.
	assert.Nil(t, p.Load(ctx, "guest-2"))
}

func TestProgress_LegacyIgnoredWhenNamespacedExists(t *testing.T) {
	s := createTestStore(t)
	p := NewProgress(s)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, "g", createTestDocument(5, 10)))
	mustPut(t, s, KeyLegacyProgress, `{"coins":77}`, 0)

	assert.Equal(t, 5, p.Load(ctx, "g").Coins)
}

func TestProgress_LoadWhileAnotherConnectionWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	p := NewProgress(s)
	ctx := context.Background()
	require.NoError(t, p.Save(ctx, "g", createTestDocument(8, 10)))

	other, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	tx, err := other.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Exec(`INSERT INTO kv (key, value) VALUES ('held', 'x')`)
	require.NoError(t, err)

	loaded := make(chan *progress.Document, 1)
	go func() { loaded <- p.Load(ctx, "g") }()

	select {
	case doc := <-loaded:
		require.NotNil(t, doc)
		assert.Equal(t, 8, doc.Coins)
	case <-time.After(2 * time.Second):
		t.Fatal("Load waited on another connection's write lock")
	}
}

func TestProgress_Owners(t *testing.T) {
	p := NewProgress(createTestStore(t))
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, "old", createTestDocument(1, 100)))
	require.NoError(t, p.Save(ctx, "new", createTestDocument(2, 300)))

	owners, err := p.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []OwnerSummary{
		{OwnerID: "new", UpdatedAt: 300},
		{OwnerID: "old", UpdatedAt: 100},
	}, owners)
}
