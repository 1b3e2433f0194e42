// Package devserver is a reference implementation of the progress server:
// per-owner progress documents under /api/userdata and the account endpoints
// under /api/auth. It backs local development and end-to-end tests.
//
// Documents are stored as received (last write received wins). Owner ids
// that name an existing account require a bearer token issued to that
// account; any other id is treated as a guest and needs no credentials.
package devserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/treesync/internal/store"
)

// Defaults.
const (
	DefaultTokenTTL = 30 * 24 * time.Hour
	CodeTTL         = 15 * time.Minute
	MinPasswordLen  = 6
	shutdownTimeout = 5 * time.Second
)

// CodeSink delivers a verification or reset code to its owner. The default
// sink logs the code.
type CodeSink func(purpose, email, code string)

// Server serves the progress and account API from a Store.
type Server struct {
	store    *store.Store
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
	sendCode CodeSink
	newCode  func() (string, error)
	cost     int
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the time source for token and code expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithTokenTTL sets how long issued tokens stay valid.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// WithCodeSink sets where verification codes go.
func WithCodeSink(fn CodeSink) Option {
	return func(s *Server) { s.sendCode = fn }
}

// WithCodeGenerator replaces the random 6-digit code generator.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *Server) { s.newCode = fn }
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) { s.cost = cost }
}

// New creates a Server. secret signs session tokens and must not be empty.
func New(st *store.Store, secret string, opts ...Option) (*Server, error) {
	if st == nil {
		return nil, errors.New("devserver: nil store")
	}
	if secret == "" {
		return nil, errors.New("devserver: empty jwt secret")
	}
	s := &Server{
		store:    st,
		secret:   []byte(secret),
		tokenTTL: DefaultTokenTTL,
		now:      time.Now,
		newCode:  randomCode,
		cost:     bcrypt.DefaultCost,
		sendCode: func(purpose, email, code string) {
			slog.Info("verification code issued", "purpose", purpose, "email", email, "code", code)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	data := r.Group("/api/userdata")
	data.GET("/:id", s.getUserData)
	data.PUT("/:id", s.putUserData)

	auth := r.Group("/api/auth")
	auth.POST("/register-init", s.registerInit)
	auth.POST("/register-verify", s.registerVerify)
	auth.POST("/register", s.register)
	auth.POST("/login", s.login)
	auth.POST("/link-guest", s.linkGuest)
	auth.POST("/reset-init", s.resetInit)
	auth.POST("/reset-confirm", s.resetConfirm)

	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("progress server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		slog.Info("progress server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []any{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			slog.Error("http request", fields...)
		case status >= 400:
			slog.Warn("http request", fields...)
		default:
			slog.Debug("http request", fields...)
		}
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
