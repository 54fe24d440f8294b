package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"truefeedback/pkg/domain"
)

// MemoryStore keeps accounts in-process. Used by tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account   // key: account ID
	username map[string]string           // username -> account ID
	email    map[string]string           // email -> account ID
	messages map[string][]domain.Message // account ID -> messages in insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]domain.Account),
		username: make(map[string]string),
		email:    make(map[string]string),
		messages: make(map[string][]domain.Message),
	}
}

func (m *MemoryStore) CreateAccount(ctx context.Context, acct domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.username[acct.Username]; ok {
		return ErrDuplicateUsername
	}
	email := strings.ToLower(acct.Email)
	if _, ok := m.email[email]; ok {
		return ErrDuplicateEmail
	}
	m.accounts[acct.ID] = acct
	m.username[acct.Username] = acct.ID
	m.email[email] = acct.ID
	return nil
}

func (m *MemoryStore) GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	return acct, ok, nil
}

func (m *MemoryStore) GetAccountByUsername(ctx context.Context, username string) (domain.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.username[username]
	if !ok {
		return domain.Account{}, false, nil
	}
	return m.accounts[id], true, nil
}

func (m *MemoryStore) GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[strings.ToLower(email)]
	if !ok {
		return domain.Account{}, false, nil
	}
	return m.accounts[id], true, nil
}

func (m *MemoryStore) MarkVerified(ctx context.Context, id string) error {
	return m.update(ctx, id, func(acct *domain.Account) {
		acct.IsVerified = true
	})
}

func (m *MemoryStore) SetAcceptingMessages(ctx context.Context, id string, accepting bool) error {
	return m.update(ctx, id, func(acct *domain.Account) {
		acct.IsAcceptingMessages = accepting
	})
}

func (m *MemoryStore) update(ctx context.Context, id string, fn func(*domain.Account)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	fn(&acct)
	acct.UpdatedAt = time.Now().UTC()
	m.accounts[id] = acct
	return nil
}

// AppendMessageIfAccepting checks the gate and appends under one lock.
func (m *MemoryStore) AppendMessageIfAccepting(ctx context.Context, username string, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.username[username]
	if !ok {
		return ErrNotFound
	}
	if !m.accounts[id].IsAcceptingMessages {
		return ErrNotAccepting
	}
	m.messages[id] = append(m.messages[id], msg)
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, accountID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.accounts[accountID]; !ok {
		return nil, ErrNotFound
	}
	return sortNewestFirst(m.messages[accountID]), nil
}

func (m *MemoryStore) DeleteMessage(ctx context.Context, accountID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[accountID]
	for i, msg := range msgs {
		if msg.ID != messageID {
			continue
		}
		kept := make([]domain.Message, 0, len(msgs)-1)
		kept = append(kept, msgs[:i]...)
		kept = append(kept, msgs[i+1:]...)
		m.messages[accountID] = kept
		return nil
	}
	return ErrMessageNotFound
}
