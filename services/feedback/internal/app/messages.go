package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"truefeedback/internal/util"
	"truefeedback/pkg/domain"
	"truefeedback/pkg/store"
)

// Submit appends an anonymous message to username's inbox when the owner
// is accepting messages.
func (a *App) Submit(ctx context.Context, username, content string) (string, error) {
	username = strings.TrimSpace(username)
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > a.maxMessageLen {
		return "", validationErr(fmt.Sprintf("content must not be longer than %d characters", a.maxMessageLen))
	}
	if username == "" {
		return "", ErrRecipientNotFound
	}

	msg := domain.Message{
		ID:        util.NewID(),
		Content:   content,
		CreatedAt: a.now().UTC(),
	}
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	err := a.store.AppendMessageIfAccepting(opCtx, username, msg)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", ErrRecipientNotFound
	case errors.Is(err, store.ErrNotAccepting):
		return "", ErrMessagesNotAccepted
	case err != nil:
		return "", storeErr("append message", err)
	}
	return msg.ID, nil
}

// Profile returns the public view of username's account.
func (a *App) Profile(ctx context.Context, username string) (domain.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.Account{}, ErrNotFound
	}
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	acct, ok, err := a.store.GetAccountByUsername(opCtx, username)
	if err != nil {
		return domain.Account{}, storeErr("get account", err)
	}
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return acct, nil
}
