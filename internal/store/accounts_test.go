package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestAccounts_CreateAndLookup(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a, err := s.CreateAccount(ctx, "ada@example.com", "ada", "hash", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)

	b, err := s.CreateAccount(ctx, "bob@example.com", "bob", "hash", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.ID)

	got, err := s.AccountByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = s.AccountByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, b, got)

	got, err = s.AccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Username)

	_, err = s.AccountByUsername(ctx, "carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccounts_Duplicates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, "ada@example.com", "ada", "hash", testNow)
	require.NoError(t, err)

	_, err = s.CreateAccount(ctx, "ada@example.com", "other", "hash", testNow)
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.CreateAccount(ctx, "other@example.com", "ada", "hash", testNow)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAccounts_Update(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a, err := s.CreateAccount(ctx, "ada@example.com", "ada", "old", testNow)
	require.NoError(t, err)
	_, err = s.CreateAccount(ctx, "bob@example.com", "bob", "hash", testNow)
	require.NoError(t, err)

	a.Username = "lovelace"
	a.PasswordHash = "new"
	require.NoError(t, s.UpdateAccount(ctx, a))

	got, err := s.AccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "lovelace", got.Username)
	assert.Equal(t, "new", got.PasswordHash)

	a.Username = "bob"
	assert.ErrorIs(t, s.UpdateAccount(ctx, a), ErrDuplicate)

	assert.ErrorIs(t, s.UpdateAccount(ctx, Account{ID: 99, Username: "x"}), ErrNotFound)
}

func TestPendingCodes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p := PendingCode{
		Purpose:      PurposeRegister,
		Email:        "ada@example.com",
		Username:     "ada",
		PasswordHash: "hash",
		Code:         "123456",
		CreatedAt:    testNow,
		ExpiresAt:    testNow.Add(15 * time.Minute),
	}
	require.NoError(t, s.PutPendingCode(ctx, p))

	got, err := s.GetPendingCode(ctx, PurposeRegister, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "123456", got.Code)
	assert.Equal(t, "ada", got.Username)
	assert.True(t, got.ExpiresAt.Equal(p.ExpiresAt))

	_, err = s.GetPendingCode(ctx, PurposeReset, "ada@example.com")
	assert.ErrorIs(t, err, ErrNotFound, "purposes are separate")

	// Same username under a new email replaces the earlier registration.
	p2 := p
	p2.Email = "ada2@example.com"
	p2.Code = "654321"
	require.NoError(t, s.PutPendingCode(ctx, p2))

	_, err = s.GetPendingCode(ctx, PurposeRegister, "ada@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeletePendingCode(ctx, PurposeRegister, "ada2@example.com"))
	_, err = s.GetPendingCode(ctx, PurposeRegister, "ada2@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeletePendingCode(ctx, PurposeRegister, "nobody@example.com"))
}
