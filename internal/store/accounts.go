package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when an account or pending code does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an email or username is already in use.
	ErrDuplicate = errors.New("already exists")
)

// Pending code purposes.
const (
	PurposeRegister = "register"
	PurposeReset    = "reset"
)

// Account is a registered user of the reference server.
type Account struct {
	ID           int64
	Email        string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// PendingCode is a short-lived emailed code. Registration codes carry the
// would-be account's username and password hash; reset codes its id.
type PendingCode struct {
	Purpose      string
	Email        string
	Username     string
	PasswordHash string
	AccountID    int64
	Code         string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

const accountColumns = `id, email, username, password_hash, created_at`

// CreateAccount inserts an account and returns it with its assigned id.
func (s *Store) CreateAccount(ctx context.Context, email, username, passwordHash string, now time.Time) (Account, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (email, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, email, username, passwordHash, now.UnixMilli())
	if err != nil {
		return Account{}, fmt.Errorf("create account %s: %w", username, translate(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Account{}, fmt.Errorf("create account %s: %w", username, err)
	}
	return Account{
		ID:           id,
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.UnixMilli(now.UnixMilli()),
	}, nil
}

// AccountByID looks an account up by id.
func (s *Store) AccountByID(ctx context.Context, id int64) (Account, error) {
	return s.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

// AccountByEmail looks an account up by exact email.
func (s *Store) AccountByEmail(ctx context.Context, email string) (Account, error) {
	return s.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
}

// AccountByUsername looks an account up by exact username.
func (s *Store) AccountByUsername(ctx context.Context, username string) (Account, error) {
	return s.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
}

// UpdateAccount rewrites an account's username and password hash.
func (s *Store) UpdateAccount(ctx context.Context, a Account) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET username = ?, password_hash = ? WHERE id = ?
	`, a.Username, a.PasswordHash, a.ID)
	if err != nil {
		return fmt.Errorf("update account %d: %w", a.ID, translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account %d: %w", a.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update account %d: %w", a.ID, ErrNotFound)
	}
	return nil
}

func (s *Store) queryAccount(ctx context.Context, query string, arg any) (Account, error) {
	var a Account
	var created int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	a.CreatedAt = time.UnixMilli(created)
	return a, nil
}

// PutPendingCode stores p, replacing any code of the same purpose for the
// same email and, for registrations, the same username.
func (s *Store) PutPendingCode(ctx context.Context, p PendingCode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put pending code: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM pending_codes
		WHERE purpose = ? AND (email = ? OR (username != '' AND username = ?))
	`, p.Purpose, p.Email, p.Username); err != nil {
		return fmt.Errorf("put pending code: clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pending_codes
			(purpose, email, username, password_hash, account_id, code, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Purpose, p.Email, p.Username, p.PasswordHash, p.AccountID, p.Code,
		p.CreatedAt.UnixMilli(), p.ExpiresAt.UnixMilli()); err != nil {
		return fmt.Errorf("put pending code: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put pending code: commit: %w", err)
	}
	return nil
}

// GetPendingCode returns the pending code for purpose and email.
func (s *Store) GetPendingCode(ctx context.Context, purpose, email string) (PendingCode, error) {
	p := PendingCode{Purpose: purpose, Email: email}
	var created, expires int64
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, account_id, code, created_at, expires_at
		FROM pending_codes WHERE purpose = ? AND email = ?
	`, purpose, email).Scan(&p.Username, &p.PasswordHash, &p.AccountID, &p.Code, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingCode{}, ErrNotFound
	}
	if err != nil {
		return PendingCode{}, fmt.Errorf("get pending code: %w", err)
	}
	p.CreatedAt = time.UnixMilli(created)
	p.ExpiresAt = time.UnixMilli(expires)
	return p, nil
}

// DeletePendingCode removes a pending code. Missing codes are not an error.
func (s *Store) DeletePendingCode(ctx context.Context, purpose, email string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_codes WHERE purpose = ? AND email = ?
	`, purpose, email); err != nil {
		return fmt.Errorf("delete pending code: %w", err)
	}
	return nil
}

// translate maps SQLite unique violations to ErrDuplicate.
func translate(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
