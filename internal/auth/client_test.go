package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/identity"
)

type recorded struct {
	path string
	body map[string]string
}

func newTestClient(t *testing.T, status int, resp any) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, recorded{path: r.URL.Path, body: body})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if resp != nil {
			_ = json.NewEncoder(w).Encode(resp)
		}
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)
	return c, &calls
}

func TestLinkGuest(t *testing.T) {
	c, calls := newTestClient(t, http.StatusOK, map[string]string{
		"token": "tok", "accountId": "42", "username": "ann",
	})

	s, err := c.LinkGuest(context.Background(), "ann", "secret1", "g1")
	require.NoError(t, err)
	assert.Equal(t, identity.Session{Token: "tok", AccountID: "42", Username: "ann"}, s)

	require.Len(t, *calls, 1)
	assert.Equal(t, "/api/auth/link-guest", (*calls)[0].path)
	assert.Equal(t, map[string]string{
		"usernameOrEmail": "ann", "password": "secret1", "guestId": "g1",
	}, (*calls)[0].body)
}

func TestLinkGuest_InvalidCredentials(t *testing.T) {
	c, _ := newTestClient(t, http.StatusUnauthorized, map[string]string{"error": CodeInvalidCredentials})

	_, err := c.LinkGuest(context.Background(), "ann", "nope", "g1")
	require.Error(t, err)
	assert.True(t, IsIdentityConflict(err))
	assert.Equal(t, CodeInvalidCredentials, Code(err))

	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
}

func TestLinkGuest_IncompleteSession(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, map[string]string{"token": "tok"})

	_, err := c.LinkGuest(context.Background(), "ann", "secret1", "g1")
	assert.Equal(t, "LINK_FAILED", Code(err))
}

func TestRegister_FallbackCode(t *testing.T) {
	c, _ := newTestClient(t, http.StatusBadRequest, nil)

	err := c.Register(context.Background(), "ann", "ann@example.com", "secret1")
	assert.Equal(t, "REGISTER_FAILED", Code(err))
	assert.False(t, IsIdentityConflict(err))
}

func TestRegisterInitAndVerify(t *testing.T) {
	c, calls := newTestClient(t, http.StatusOK, map[string]string{"status": "CODE_SENT"})
	ctx := context.Background()

	require.NoError(t, c.RegisterInit(ctx, "ann", "ann@example.com", "secret1"))
	require.NoError(t, c.VerifyRegistration(ctx, "ann@example.com", "123456"))

	require.Len(t, *calls, 2)
	assert.Equal(t, "/api/auth/register-init", (*calls)[0].path)
	assert.Equal(t, "/api/auth/register-verify", (*calls)[1].path)
	assert.Equal(t, "123456", (*calls)[1].body["code"])
}

func TestLogin(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, map[string]string{"token": "tok"})

	tok, err := c.Login(context.Background(), "ann", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

func TestResetFlow(t *testing.T) {
	c, calls := newTestClient(t, http.StatusOK, map[string]string{
		"status": "CODE_SENT", "email": "ann@example.com",
		"token": "tok", "accountId": "42", "username": "ann2",
	})
	ctx := context.Background()

	email, err := c.ResetInit(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", email)

	s, err := c.ResetConfirm(ctx, email, "654321", "", "ann2")
	require.NoError(t, err)
	assert.Equal(t, "ann2", s.Username)

	body := (*calls)[1].body
	_, hasPassword := body["newPassword"]
	assert.False(t, hasPassword, "empty password not sent")
	assert.Equal(t, "ann2", body["newUsername"])
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(base, time.Second)
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "ann", "secret1")
	assert.Equal(t, CodeNetwork, Code(err))
	assert.False(t, IsIdentityConflict(err))
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("not a url", time.Second)
	assert.Error(t, err)
}

func TestCode_NonAuthError(t *testing.T) {
	assert.Empty(t, Code(errors.New("boom")))
	assert.False(t, IsIdentityConflict(nil))
}
