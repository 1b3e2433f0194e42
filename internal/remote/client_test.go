package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/progress"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", time.Second)
	require.NoError(t, err)
	return c
}

func TestNormalizeBaseURL(t *testing.T) {
	got, err := NormalizeBaseURL("  http://localhost:8080/ ")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", got)

	for _, bad := range []string{"", "   ", "localhost:8080", "/api"} {
		_, err := NormalizeBaseURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestFetch_Found(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/userdata/g1", r.URL.Path)
		w.Write([]byte(`{"coins":60,"updatedAt":100}`))
	})

	doc, st := c.Fetch(context.Background(), identity.Guest("g1"), "")
	require.Equal(t, Found, st)
	require.NotNil(t, doc)
	assert.Equal(t, 60, doc.Coins)
	assert.Equal(t, int64(100), doc.UpdatedAt)
}

func TestFetch_NotFoundIsAbsent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	doc, st := c.Fetch(context.Background(), identity.Guest("g1"), "")
	assert.Equal(t, Absent, st)
	assert.Nil(t, doc)
}

func TestFetch_UnauthorizedIsAbsent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, st := c.Fetch(context.Background(), identity.Account("1"), "expired")
	assert.Equal(t, Absent, st)
}

func TestFetch_MalformedIsAbsent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	})

	doc, st := c.Fetch(context.Background(), identity.Guest("g1"), "")
	assert.Equal(t, Absent, st)
	assert.Nil(t, doc)
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, time.Second)
	require.NoError(t, err)

	doc, st := c.Fetch(context.Background(), identity.Guest("g1"), "")
	assert.Equal(t, Unreachable, st)
	assert.Nil(t, doc)
}

func TestFetch_TimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := NewClient(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, st := c.Fetch(context.Background(), identity.Guest("g1"), "")
	assert.Equal(t, Unreachable, st)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAuthorizationHeader(t *testing.T) {
	var got []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNotFound)
	})
	ctx := context.Background()

	c.Fetch(ctx, identity.Account("42"), "tok")
	c.Fetch(ctx, identity.Guest("g1"), "tok")
	c.Fetch(ctx, identity.Account("42"), "")

	assert.Equal(t, []string{"Bearer tok", "", ""}, got)
}

func TestReplace(t *testing.T) {
	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
	})

	doc := progress.Default(123)
	st := c.Replace(context.Background(), identity.Guest("g1"), "", doc)
	assert.Equal(t, Acked, st)

	got, err := progress.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestReplace_ServerErrorIsUnreachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	st := c.Replace(context.Background(), identity.Guest("g1"), "", progress.Default(1))
	assert.Equal(t, Unreachable, st)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "found", Found.String())
	assert.Equal(t, "unreachable", Unreachable.String())
	assert.Equal(t, "status(9)", Status(9).String())
}
