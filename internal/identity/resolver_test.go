package identity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memKV is an in-memory KV.
type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(_ context.Context, key, value string, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return true, nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func fixedIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

var testNow = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

func TestResolver_MintsGuestOnce(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()

	r1 := NewResolver(ctx, kv, WithGuestIDGenerator(fixedIDs("guest-a", "guest-b")))
	assert.Equal(t, "guest-a", r1.GuestID())
	assert.Equal(t, "guest-a", kv.data[keyGuestID])

	r2 := NewResolver(ctx, kv, WithGuestIDGenerator(fixedIDs("guest-z")))
	assert.Equal(t, "guest-a", r2.GuestID(), "guest id never regenerated")
}

func TestResolver_CurrentPersistsPointer(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	r := NewResolver(ctx, kv, WithGuestIDGenerator(fixedIDs("g1")))

	o := r.Current(ctx)
	assert.Equal(t, Guest("g1"), o)
	assert.False(t, o.IsAccount())
	assert.Equal(t, "guest:g1", kv.data[keyActiveOwner])
	assert.Empty(t, r.Token())
}

func TestResolver_LoginLogoutNotify(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	r := NewResolver(ctx, kv, WithGuestIDGenerator(fixedIDs("g1")))

	var seen []Owner
	cancel := r.Subscribe(func(o Owner) { seen = append(seen, o) })
	defer cancel()

	require.NoError(t, r.Login(ctx, Session{Token: "tok", AccountID: "42", Username: "ann"}))
	assert.Equal(t, Account("42"), r.Current(ctx))
	assert.Equal(t, "tok", r.Token())
	assert.Equal(t, "account:42", kv.data[keyActiveOwner])

	var stored Session
	require.NoError(t, json.Unmarshal([]byte(kv.data[keySession]), &stored))
	assert.Equal(t, "42", stored.AccountID)

	r.Logout(ctx)
	assert.Equal(t, Guest("g1"), r.Current(ctx))
	assert.Empty(t, r.Token())
	_, ok := kv.data[keySession]
	assert.False(t, ok)
	assert.Equal(t, "guest:g1", kv.data[keyActiveOwner])

	assert.Equal(t, []Owner{Account("42"), Guest("g1")}, seen)
}

func TestResolver_NoNotifyWithoutChange(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(ctx, newMemKV())

	calls := 0
	r.Subscribe(func(Owner) { calls++ })

	r.Logout(ctx)
	require.NoError(t, r.Login(ctx, Session{Token: "a", AccountID: "1"}))
	require.NoError(t, r.Login(ctx, Session{Token: "b", AccountID: "1"}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "b", r.Token(), "refreshed token kept")
}

func TestResolver_SubscribeCancel(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(ctx, nil)

	calls := 0
	cancel := r.Subscribe(func(Owner) { calls++ })
	cancel()

	require.NoError(t, r.Login(ctx, Session{Token: "t", AccountID: "1"}))
	assert.Zero(t, calls)
}

func TestResolver_LoginRejectsInvalidSession(t *testing.T) {
	r := NewResolver(context.Background(), nil)
	err := r.Login(context.Background(), Session{AccountID: "1"})
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestResolver_RestoresSession(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	token := signToken(t, "7", testNow.Add(time.Hour))
	kv.data[keySession] = `{"token":"` + token + `","accountId":"7","username":"bo"}`

	r := NewResolver(ctx, kv, WithNow(func() time.Time { return testNow }))
	assert.Equal(t, Account("7"), r.Current(ctx))
	s, ok := r.Session()
	require.True(t, ok)
	assert.Equal(t, "bo", s.Username)
}

func TestResolver_DropsExpiredSession(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	token := signToken(t, "7", testNow.Add(-time.Minute))
	kv.data[keySession] = `{"token":"` + token + `","accountId":"7"}`

	r := NewResolver(ctx, kv, WithNow(func() time.Time { return testNow }), WithGuestIDGenerator(fixedIDs("g")))
	assert.Equal(t, Guest("g"), r.Current(ctx))
	_, ok := kv.data[keySession]
	assert.False(t, ok, "expired session removed")
}

func TestResolver_DropsCorruptSession(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	kv.data[keySession] = `{not json`

	r := NewResolver(ctx, kv)
	assert.False(t, r.Current(ctx).IsAccount())
}

func TestResolver_NilKV(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(ctx, nil, WithGuestIDGenerator(fixedIDs("mem")))
	assert.Equal(t, Guest("mem"), r.Current(ctx))
	require.NoError(t, r.Login(ctx, Session{Token: "t", AccountID: "1"}))
	r.Logout(ctx)
}

func TestTokenExpired(t *testing.T) {
	assert.False(t, TokenExpired("garbage", testNow), "unparseable tokens are left to the server")
	assert.False(t, TokenExpired(signToken(t, "1", testNow.Add(time.Second)), testNow))
	assert.True(t, TokenExpired(signToken(t, "1", testNow), testNow))

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	assert.False(t, TokenExpired(noExp, testNow))
}

func TestParseOwner(t *testing.T) {
	o, err := ParseOwner("account:42")
	require.NoError(t, err)
	assert.Equal(t, Account("42"), o)

	o, err = ParseOwner(Guest("a:b").String())
	require.NoError(t, err)
	assert.Equal(t, Guest("a:b"), o)

	for _, bad := range []string{"", "guest", "guest:", "robot:1"} {
		_, err := ParseOwner(bad)
		assert.Error(t, err, bad)
	}
}

type fakeLinker struct {
	gotGuest   string
	registered []string
	session    Session
	err        error
}

func (f *fakeLinker) LinkGuest(_ context.Context, user, _, guestID string) (Session, error) {
	f.gotGuest = guestID
	if f.err != nil {
		return Session{}, f.err
	}
	return f.session, nil
}

func (f *fakeLinker) Register(_ context.Context, username, _, _ string) error {
	f.registered = append(f.registered, username)
	return nil
}

func TestLoginAndLink(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(ctx, newMemKV(), WithGuestIDGenerator(fixedIDs("g1")))
	l := &fakeLinker{session: Session{Token: "t", AccountID: "9", Username: "cy"}}

	s, err := r.LoginAndLink(ctx, l, "cy", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "9", s.AccountID)
	assert.Equal(t, "g1", l.gotGuest)
	assert.Equal(t, Account("9"), r.Current(ctx))
}

func TestLoginAndLink_FailureKeepsOwner(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(ctx, newMemKV(), WithGuestIDGenerator(fixedIDs("g1")))
	conflict := errors.New("INVALID_CREDENTIALS")

	_, err := r.LoginAndLink(ctx, &fakeLinker{err: conflict}, "cy", "wrong")
	assert.ErrorIs(t, err, conflict)
	assert.Equal(t, Guest("g1"), r.Current(ctx))
}

func TestRegisterAndLink(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(ctx, nil, WithGuestIDGenerator(fixedIDs("g1")))
	l := &fakeLinker{session: Session{Token: "t", AccountID: "3", Username: "dee"}}

	_, err := r.RegisterAndLink(ctx, l, "dee", "dee@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dee"}, l.registered)
	assert.Equal(t, Account("3"), r.Current(ctx))
}
