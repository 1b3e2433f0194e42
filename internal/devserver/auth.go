package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/treesync/internal/store"
)

// Error codes returned in {"error": CODE} bodies.
const (
	codeInvalidInput       = "INVALID_INPUT"
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeEmailTaken         = "EMAIL_TAKEN"
	codeUsernameTaken      = "USERNAME_TAKEN"
	codeNotFound           = "NOT_FOUND"
	codeInvalidCode        = "INVALID_CODE"
	codeCodeExpired        = "CODE_EXPIRED"
	codePasswordTooShort   = "PASSWORD_TOO_SHORT"
	codeInternal           = "INTERNAL"
)

// apiError is a failure reported to the client as {"error": Code}.
type apiError struct {
	Status int
	Code   string
}

func (e *apiError) Error() string { return e.Code }

func badRequest(code string) error { return &apiError{Status: http.StatusBadRequest, Code: code} }

var errInvalidCredentials = &apiError{Status: http.StatusUnauthorized, Code: codeInvalidCredentials}

// respond writes payload on success or the error body on failure.
func respond(c *gin.Context, payload any, err error) {
	if err == nil {
		c.JSON(http.StatusOK, payload)
		return
	}
	var ae *apiError
	if errors.As(err, &ae) {
		c.JSON(ae.Status, gin.H{"error": ae.Code})
		return
	}
	slog.Error("auth request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": codeInternal})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialsRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
	GuestID         string `json:"guestId"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetInitRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
}

type resetConfirmRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
	NewUsername string `json:"newUsername"`
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": codeInvalidInput})
		return false
	}
	return true
}

func (r registerRequest) validate() error {
	if strings.TrimSpace(r.Email) == "" || strings.TrimSpace(r.Username) == "" || len(r.Password) < MinPasswordLen {
		return badRequest(codeInvalidInput)
	}
	return nil
}

// checkAvailable fails if email or username already belongs to an account.
func (s *Server) checkAvailable(ctx context.Context, email, username string) error {
	if _, err := s.store.AccountByEmail(ctx, email); err == nil {
		return badRequest(codeEmailTaken)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if _, err := s.store.AccountByUsername(ctx, username); err == nil {
		return badRequest(codeUsernameTaken)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

func (s *Server) createAccount(ctx context.Context, email, username, hash string) (store.Account, error) {
	a, err := s.store.CreateAccount(ctx, email, username, hash, s.now())
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent registration.
		return store.Account{}, badRequest(codeUsernameTaken)
	}
	return a, err
}

func (s *Server) registerInit(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	err := func() error {
		if err := req.validate(); err != nil {
			return err
		}
		if err := s.checkAvailable(ctx, req.Email, req.Username); err != nil {
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
		if err != nil {
			return err
		}
		code, err := s.newCode()
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.store.PutPendingCode(ctx, store.PendingCode{
			Purpose:      store.PurposeRegister,
			Email:        req.Email,
			Username:     req.Username,
			PasswordHash: string(hash),
			Code:         code,
			CreatedAt:    now,
			ExpiresAt:    now.Add(CodeTTL),
		}); err != nil {
			return err
		}
		s.sendCode(store.PurposeRegister, req.Email, code)
		return nil
	}()
	respond(c, gin.H{"status": "CODE_SENT"}, err)
}

// redeem checks a pending code. Expired codes are deleted.
func (s *Server) redeem(ctx context.Context, purpose, email, code string) (store.PendingCode, error) {
	p, err := s.store.GetPendingCode(ctx, purpose, email)
	if errors.Is(err, store.ErrNotFound) {
		return p, badRequest(codeNotFound)
	}
	if err != nil {
		return p, err
	}
	if s.now().After(p.ExpiresAt) {
		if err := s.store.DeletePendingCode(ctx, purpose, email); err != nil {
			return p, err
		}
		return p, badRequest(codeCodeExpired)
	}
	if p.Code != code {
		return p, badRequest(codeInvalidCode)
	}
	return p, nil
}

func (s *Server) registerVerify(c *gin.Context) {
	var req verifyRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	err := func() error {
		p, err := s.redeem(ctx, store.PurposeRegister, req.Email, req.Code)
		if err != nil {
			return err
		}
		if err := s.checkAvailable(ctx, p.Email, p.Username); err != nil {
			return err
		}
		if _, err := s.createAccount(ctx, p.Email, p.Username, p.PasswordHash); err != nil {
			return err
		}
		return s.store.DeletePendingCode(ctx, store.PurposeRegister, p.Email)
	}()
	respond(c, gin.H{"status": "VERIFIED"}, err)
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	var token string
	err := func() error {
		if err := req.validate(); err != nil {
			return err
		}
		if err := s.checkAvailable(ctx, req.Email, req.Username); err != nil {
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
		if err != nil {
			return err
		}
		a, err := s.createAccount(ctx, req.Email, req.Username, string(hash))
		if err != nil {
			return err
		}
		token, err = s.issueToken(a)
		return err
	}()
	respond(c, gin.H{"token": token}, err)
}

// lookup finds an account by email when the value contains "@", otherwise
// by username.
func (s *Server) lookup(ctx context.Context, usernameOrEmail string) (store.Account, error) {
	if strings.Contains(usernameOrEmail, "@") {
		return s.store.AccountByEmail(ctx, usernameOrEmail)
	}
	return s.store.AccountByUsername(ctx, usernameOrEmail)
}

func (s *Server) authenticate(ctx context.Context, usernameOrEmail, password string) (store.Account, error) {
	a, err := s.lookup(ctx, usernameOrEmail)
	if errors.Is(err, store.ErrNotFound) {
		return a, errInvalidCredentials
	}
	if err != nil {
		return a, err
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return a, errInvalidCredentials
	}
	return a, nil
}

func (s *Server) login(c *gin.Context) {
	var req credentialsRequest
	if !bind(c, &req) {
		return
	}
	var token string
	err := func() error {
		a, err := s.authenticate(c.Request.Context(), req.UsernameOrEmail, req.Password)
		if err != nil {
			return err
		}
		token, err = s.issueToken(a)
		return err
	}()
	respond(c, gin.H{"token": token}, err)
}

// linkGuest authenticates and gives the account a progress document: its
// own if it has one, otherwise a copy of the guest's.
func (s *Server) linkGuest(c *gin.Context) {
	var req credentialsRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	var payload any
	err := func() error {
		if strings.TrimSpace(req.UsernameOrEmail) == "" || req.Password == "" || strings.TrimSpace(req.GuestID) == "" {
			return badRequest(codeInvalidInput)
		}
		a, err := s.authenticate(ctx, req.UsernameOrEmail, req.Password)
		if err != nil {
			return err
		}
		accountKey := store.ProgressKey(strconv.FormatInt(a.ID, 10))

		_, hasAccount, err := s.store.Get(ctx, accountKey)
		if err != nil {
			return err
		}
		if !hasAccount {
			guest, ok, err := s.store.Get(ctx, store.ProgressKey(req.GuestID))
			if err != nil {
				return err
			}
			if ok {
				if _, err := s.store.Put(ctx, accountKey, guest, 0); err != nil {
					return err
				}
				slog.Info("copied guest progress to account", "guest", req.GuestID, "account", a.ID)
			}
		}

		sess, err := s.session(a)
		if err != nil {
			return err
		}
		payload = sess
		return nil
	}()
	respond(c, payload, err)
}

func (s *Server) resetInit(c *gin.Context) {
	var req resetInitRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	var email string
	err := func() error {
		a, err := s.lookup(ctx, req.UsernameOrEmail)
		if errors.Is(err, store.ErrNotFound) {
			return badRequest(codeNotFound)
		}
		if err != nil {
			return err
		}
		code, err := s.newCode()
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.store.PutPendingCode(ctx, store.PendingCode{
			Purpose:   store.PurposeReset,
			Email:     a.Email,
			AccountID: a.ID,
			Code:      code,
			CreatedAt: now,
			ExpiresAt: now.Add(CodeTTL),
		}); err != nil {
			return err
		}
		s.sendCode(store.PurposeReset, a.Email, code)
		email = a.Email
		return nil
	}()
	respond(c, gin.H{"status": "CODE_SENT", "email": email}, err)
}

// resetConfirm applies a reset code. A blank new password or username
// leaves that field unchanged.
func (s *Server) resetConfirm(c *gin.Context) {
	var req resetConfirmRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	var payload any
	err := func() error {
		p, err := s.redeem(ctx, store.PurposeReset, req.Email, req.Code)
		if err != nil {
			return err
		}
		a, err := s.store.AccountByID(ctx, p.AccountID)
		if errors.Is(err, store.ErrNotFound) {
			return badRequest(codeNotFound)
		}
		if err != nil {
			return err
		}

		newPassword := strings.TrimSpace(req.NewPassword)
		newUsername := strings.TrimSpace(req.NewUsername)
		if newPassword != "" && len(newPassword) < MinPasswordLen {
			return badRequest(codePasswordTooShort)
		}
		if newPassword != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
			if err != nil {
				return err
			}
			a.PasswordHash = string(hash)
		}
		if newUsername != "" && newUsername != a.Username {
			if _, err := s.store.AccountByUsername(ctx, newUsername); err == nil {
				return badRequest(codeUsernameTaken)
			}
			a.Username = newUsername
		}
		if err := s.store.UpdateAccount(ctx, a); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return badRequest(codeUsernameTaken)
			}
			return err
		}
		if err := s.store.DeletePendingCode(ctx, store.PurposeReset, p.Email); err != nil {
			return err
		}

		sess, err := s.session(a)
		if err != nil {
			return err
		}
		payload = sess
		return nil
	}()
	respond(c, payload, err)
}
