package identity

import (
	"context"
	"fmt"
)

// Linker attaches the install's guest progress to an account and returns a
// session for that account. *auth.Client satisfies it.
type Linker interface {
	LinkGuest(ctx context.Context, usernameOrEmail, password, guestID string) (Session, error)
}

// Registrar creates an account and can then link it.
type Registrar interface {
	Linker
	Register(ctx context.Context, username, email, password string) error
}

// LoginAndLink signs in with existing credentials, linking the guest id, and
// makes the account active. On failure the active owner is unchanged.
func (r *Resolver) LoginAndLink(ctx context.Context, l Linker, usernameOrEmail, password string) (Session, error) {
	s, err := l.LinkGuest(ctx, usernameOrEmail, password, r.GuestID())
	if err != nil {
		return Session{}, err
	}
	if err := r.Login(ctx, s); err != nil {
		return Session{}, fmt.Errorf("link guest: %w", err)
	}
	return s, nil
}

// RegisterAndLink creates an account and then links the guest to it.
// The guest id is linked under the new username.
func (r *Resolver) RegisterAndLink(ctx context.Context, reg Registrar, username, email, password string) (Session, error) {
	if err := reg.Register(ctx, username, email, password); err != nil {
		return Session{}, err
	}
	return r.LoginAndLink(ctx, reg, username, password)
}
