package app

import (
	"context"
	"errors"
	"strings"

	"truefeedback/pkg/domain"
	"truefeedback/pkg/store"
)

// Dashboard operations act only on the account the session belongs to.
func authorizeOwner(sess domain.Session, accountID string) error {
	if sess.AccountID == "" || strings.TrimSpace(accountID) == "" || sess.AccountID != accountID {
		return ErrUnauthorized
	}
	return nil
}

func (a *App) GetAcceptingState(ctx context.Context, sess domain.Session, accountID string) (bool, error) {
	if err := authorizeOwner(sess, accountID); err != nil {
		return false, err
	}
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	acct, ok, err := a.store.GetAccountByID(opCtx, accountID)
	if err != nil {
		return false, storeErr("get account", err)
	}
	if !ok {
		return false, ErrNotFound
	}
	return acct.IsAcceptingMessages, nil
}

// SetAcceptingState overwrites the accepting flag and returns the updated account.
func (a *App) SetAcceptingState(ctx context.Context, sess domain.Session, accountID string, accepting bool) (domain.Account, error) {
	if err := authorizeOwner(sess, accountID); err != nil {
		return domain.Account{}, err
	}
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	if err := a.store.SetAcceptingMessages(opCtx, accountID, accepting); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Account{}, ErrNotFound
		}
		return domain.Account{}, storeErr("set accepting messages", err)
	}
	acct, ok, err := a.store.GetAccountByID(opCtx, accountID)
	if err != nil {
		return domain.Account{}, storeErr("get account", err)
	}
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return acct, nil
}

// ListMessages returns the owner's messages, newest first.
func (a *App) ListMessages(ctx context.Context, sess domain.Session, accountID string) ([]domain.Message, error) {
	if err := authorizeOwner(sess, accountID); err != nil {
		return nil, err
	}
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	msgs, err := a.store.ListMessages(opCtx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr("list messages", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

func (a *App) DeleteMessage(ctx context.Context, sess domain.Session, accountID, messageID string) error {
	if err := authorizeOwner(sess, accountID); err != nil {
		return err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return ErrMessageNotFound
	}
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	err := a.store.DeleteMessage(opCtx, accountID, messageID)
	switch {
	case errors.Is(err, store.ErrMessageNotFound):
		return ErrMessageNotFound
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case err != nil:
		return storeErr("delete message", err)
	}
	return nil
}
