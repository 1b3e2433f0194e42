package devserver

import (
	"errors"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/store"
)

// Claims are the session token claims. The subject is the account id.
type Claims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (s *Server) issueToken(a store.Account) (string, error) {
	now := s.now()
	claims := Claims{
		Email:    a.Email,
		Username: a.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(a.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) session(a store.Account) (identity.Session, error) {
	token, err := s.issueToken(a)
	if err != nil {
		return identity.Session{}, err
	}
	return identity.Session{
		Token:     token,
		AccountID: strconv.FormatInt(a.ID, 10),
		Username:  a.Username,
	}, nil
}

// subject verifies a bearer Authorization header and returns its subject.
func (s *Server) subject(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
