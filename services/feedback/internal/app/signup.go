package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"truefeedback/internal/util"
	"truefeedback/pkg/auth"
	"truefeedback/pkg/domain"
	"truefeedback/pkg/mail"
	"truefeedback/pkg/store"
)

// Register creates an unverified account and sends its verification code.
// Mail delivery failures are logged; the account is kept either way.
func (a *App) Register(ctx context.Context, username, email, password string) (domain.Account, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if err := ValidateUsername(username); err != nil {
		return domain.Account{}, err
	}
	if err := validateEmail(email); err != nil {
		return domain.Account{}, err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Account{}, validationErr(err.Error())
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Account{}, err
	}
	code, expiry, err := a.codes.Generate()
	if err != nil {
		return domain.Account{}, err
	}
	now := a.now().UTC()
	acct := domain.Account{
		ID:                  util.NewID(),
		Username:            username,
		Email:               email,
		PasswordHash:        hash,
		VerifyCode:          code,
		VerifyCodeExpiry:    expiry.UTC(),
		IsVerified:          false,
		IsAcceptingMessages: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	opCtx, cancel := a.opContext(ctx)
	err = a.store.CreateAccount(opCtx, acct)
	cancel()
	switch {
	case errors.Is(err, store.ErrDuplicateUsername):
		return domain.Account{}, ErrDuplicateUsername
	case errors.Is(err, store.ErrDuplicateEmail):
		return domain.Account{}, ErrDuplicateEmail
	case err != nil:
		return domain.Account{}, storeErr("create account", err)
	}

	a.sendVerification(ctx, acct)
	return acct, nil
}

func (a *App) sendVerification(ctx context.Context, acct domain.Account) {
	logger := util.LoggerFromContext(ctx)
	msg, err := mail.VerificationEmail(acct.Email, a.publicBaseURL, acct.Username, acct.VerifyCode, acct.VerifyCodeExpiry)
	if err != nil {
		logger.Error("render verification email", "account_id", acct.ID, "err", err)
		return
	}
	// Dispatch outlives a client that disconnects right after signup.
	mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opTimeout)
	defer cancel()
	if err := a.mailer.Send(mailCtx, msg); err != nil {
		logger.Warn("verification email not sent", "account_id", acct.ID, "err", err)
		return
	}
	logger.Info("verification email dispatched", "account_id", acct.ID)
}

// Verify confirms ownership of the account's email with the emailed code.
// Verifying an already verified account succeeds without changes.
func (a *App) Verify(ctx context.Context, username, code string) error {
	username = strings.TrimSpace(username)
	code = strings.TrimSpace(code)
	if username == "" || code == "" {
		return validationErr("username and code are required")
	}

	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	acct, ok, err := a.store.GetAccountByUsername(opCtx, username)
	if err != nil {
		return storeErr("get account", err)
	}
	if !ok {
		return ErrNotFound
	}
	if acct.IsVerified {
		return nil
	}
	if !a.now().Before(acct.VerifyCodeExpiry) {
		return ErrCodeExpired
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(acct.VerifyCode)) != 1 {
		return ErrCodeMismatch
	}
	if err := a.store.MarkVerified(opCtx, acct.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return storeErr("mark verified", err)
	}
	return nil
}

// UsernameAvailable reports whether username is well formed and unclaimed.
func (a *App) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return false, err
	}
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	_, taken, err := a.store.GetAccountByUsername(opCtx, username)
	if err != nil {
		return false, storeErr("get account", err)
	}
	return !taken, nil
}

// Login authenticates by email (when identifier contains "@") or username.
func (a *App) Login(ctx context.Context, identifier, password string) (domain.Account, string, time.Time, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return domain.Account{}, "", time.Time{}, ErrInvalidCredentials
	}

	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	var (
		acct domain.Account
		ok   bool
		err  error
	)
	if strings.Contains(identifier, "@") {
		acct, ok, err = a.store.GetAccountByEmail(opCtx, strings.ToLower(identifier))
	} else {
		acct, ok, err = a.store.GetAccountByUsername(opCtx, identifier)
	}
	if err != nil {
		return domain.Account{}, "", time.Time{}, storeErr("get account", err)
	}
	if !ok || !auth.CheckPassword(password, acct.PasswordHash) {
		return domain.Account{}, "", time.Time{}, ErrInvalidCredentials
	}
	if !acct.IsVerified {
		return domain.Account{}, "", time.Time{}, ErrNotVerified
	}

	token, expiresAt, err := a.sessions.NewSession(opCtx, acct)
	if err != nil {
		return domain.Account{}, "", time.Time{}, storeErr("new session", err)
	}
	return acct, token, expiresAt, nil
}

// Logout revokes token. Unknown or malformed tokens are ignored.
func (a *App) Logout(ctx context.Context, token string) error {
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	if err := a.sessions.DeleteSession(opCtx, token); err != nil {
		return storeErr("revoke session", err)
	}
	return nil
}

// SessionFromToken resolves a bearer token to its session.
func (a *App) SessionFromToken(ctx context.Context, token string) (domain.Session, error) {
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	sess, err := a.sessions.GetSession(opCtx, token)
	switch {
	case errors.Is(err, store.ErrInvalidToken), errors.Is(err, store.ErrTokenRevoked):
		return domain.Session{}, ErrUnauthorized
	case err != nil:
		return domain.Session{}, storeErr("get session", err)
	}
	return sess, nil
}
