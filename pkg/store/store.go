package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"truefeedback/pkg/domain"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrNotAccepting      = errors.New("account is not accepting messages")
	ErrMessageNotFound   = errors.New("message not found")
)

// Store persists accounts and the messages they own.
// Every per-account mutation is applied atomically.
type Store interface {
	// accounts
	CreateAccount(ctx context.Context, acct domain.Account) error
	GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error)
	GetAccountByUsername(ctx context.Context, username string) (domain.Account, bool, error)
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error)
	MarkVerified(ctx context.Context, id string) error
	SetAcceptingMessages(ctx context.Context, id string, accepting bool) error

	// messages
	AppendMessageIfAccepting(ctx context.Context, username string, msg domain.Message) error
	ListMessages(ctx context.Context, accountID string) ([]domain.Message, error)
	DeleteMessage(ctx context.Context, accountID, messageID string) error
}

// SessionStore issues and resolves signed sessions.
type SessionStore interface {
	NewSession(ctx context.Context, acct domain.Account) (string, time.Time, error)
	GetSession(ctx context.Context, token string) (domain.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// sortNewestFirst expects msgs in insertion order and returns them newest-first.
// Messages sharing a timestamp keep reverse insertion order.
func sortNewestFirst(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
