// Package identity resolves which owner a progress document belongs to.
//
// Every install has a guest identity, minted once and kept forever. While an
// account session is present the account is the active owner instead. The
// Resolver persists both and notifies subscribers whenever the active owner
// changes.
package identity

import (
	"fmt"
	"strings"
)

// Kind distinguishes guest owners from authenticated accounts.
type Kind string

const (
	KindGuest   Kind = "guest"
	KindAccount Kind = "account"
)

// Owner is the key a progress document is stored under in both tiers.
type Owner struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// Guest returns the guest owner with the given id.
func Guest(id string) Owner { return Owner{Kind: KindGuest, ID: id} }

// Account returns the account owner with the given id.
func Account(id string) Owner { return Owner{Kind: KindAccount, ID: id} }

// IsAccount reports whether o is an authenticated account.
func (o Owner) IsAccount() bool { return o.Kind == KindAccount }

// IsZero reports whether o is unset.
func (o Owner) IsZero() bool { return o.ID == "" }

// String formats o as "kind:id".
func (o Owner) String() string {
	if o.IsZero() {
		return "<none>"
	}
	return string(o.Kind) + ":" + o.ID
}

// ParseOwner parses the "kind:id" form produced by String.
func ParseOwner(s string) (Owner, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Owner{}, fmt.Errorf("invalid owner %q: want kind:id", s)
	}
	switch Kind(kind) {
	case KindGuest, KindAccount:
		return Owner{Kind: Kind(kind), ID: id}, nil
	default:
		return Owner{}, fmt.Errorf("invalid owner %q: unknown kind %q", s, kind)
	}
}

// Session is an authenticated account session as issued by the auth service.
type Session struct {
	Token     string `json:"token"`
	AccountID string `json:"accountId"`
	Username  string `json:"username,omitempty"`
}

// Valid reports whether s carries both a token and an account id.
func (s Session) Valid() bool {
	return s.Token != "" && s.AccountID != ""
}
