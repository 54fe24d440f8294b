package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truefeedback/pkg/domain"
	"truefeedback/pkg/mail"
	"truefeedback/pkg/otp"
	"truefeedback/pkg/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type testEnv struct {
	app    *App
	store  *store.MemoryStore
	mailer *captureMailer
	now    time.Time
}

func (e *testEnv) clock() time.Time { return e.now }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  store.NewMemoryStore(),
		mailer: &captureMailer{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	sessions, err := store.NewJWTSessionStore(testSecret, time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	require.NoError(t, err)
	a, err := New(Config{
		Store:         env.store,
		Sessions:      sessions,
		Mailer:        env.mailer,
		Codes:         otp.NewGenerator(otp.WithClock(env.clock)),
		PublicBaseURL: "https://feedback.example.com/",
		Now:           env.clock,
	})
	require.NoError(t, err)
	env.app = a
	return env
}

func (e *testEnv) register(t *testing.T, username, email string) domain.Account {
	t.Helper()
	acct, err := e.app.Register(context.Background(), username, email, "hunter22")
	require.NoError(t, err)
	return acct
}

func (e *testEnv) verifiedSession(t *testing.T, username, email string) (domain.Account, domain.Session) {
	t.Helper()
	ctx := context.Background()
	acct := e.register(t, username, email)
	require.NoError(t, e.app.Verify(ctx, username, acct.VerifyCode))
	_, token, _, err := e.app.Login(ctx, username, "hunter22")
	require.NoError(t, err)
	sess, err := e.app.SessionFromToken(ctx, token)
	require.NoError(t, err)
	return acct, sess
}

func TestAliceEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acct := env.register(t, "alice", "alice@example.com")
	assert.False(t, acct.IsVerified)
	assert.True(t, acct.IsAcceptingMessages)
	assert.Len(t, acct.VerifyCode, 6)
	assert.True(t, acct.VerifyCodeExpiry.Equal(env.now.Add(time.Hour)))

	require.Len(t, env.mailer.sent, 1)
	sent := env.mailer.sent[0]
	assert.Equal(t, "alice@example.com", sent.To)
	assert.Contains(t, sent.HTML, acct.VerifyCode)
	assert.Contains(t, sent.HTML, "https://feedback.example.com/verify/alice")

	_, _, _, err := env.app.Login(ctx, "alice", "hunter22")
	require.ErrorIs(t, err, ErrNotVerified)

	env.now = env.now.Add(10 * time.Minute)
	require.NoError(t, env.app.Verify(ctx, "alice", acct.VerifyCode))

	loggedIn, token, expiresAt, err := env.app.Login(ctx, "Alice@Example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, loggedIn.ID)
	assert.NotEmpty(t, token)
	assert.False(t, expiresAt.IsZero())
	assert.Equal(t, "https://feedback.example.com/u/alice", env.app.ProfileURL(loggedIn.Username))

	sess, err := env.app.SessionFromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, sess.AccountID)

	id1, err := env.app.Submit(ctx, "alice", "  great talk  ")
	require.NoError(t, err)
	env.now = env.now.Add(time.Second)
	id2, err := env.app.Submit(ctx, "alice", "slides please")
	require.NoError(t, err)

	msgs, err := env.app.ListMessages(ctx, sess, acct.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id2, msgs[0].ID)
	assert.Equal(t, id1, msgs[1].ID)
	assert.Equal(t, "great talk", msgs[1].Content)

	updated, err := env.app.SetAcceptingState(ctx, sess, acct.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsAcceptingMessages)
	_, err = env.app.Submit(ctx, "alice", "too late")
	require.ErrorIs(t, err, ErrMessagesNotAccepted)

	require.NoError(t, env.app.DeleteMessage(ctx, sess, acct.ID, id1))
	require.ErrorIs(t, env.app.DeleteMessage(ctx, sess, acct.ID, id1), ErrMessageNotFound)

	msgs, err = env.app.ListMessages(ctx, sess, acct.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id2, msgs[0].ID)

	require.NoError(t, env.app.Logout(ctx, token))
	_, err = env.app.SessionFromToken(ctx, token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name, username, email, password string
	}{
		{"short username", "a", "a@example.com", "hunter22"},
		{"long username", strings.Repeat("a", 21), "a@example.com", "hunter22"},
		{"special chars", "al!ce", "a@example.com", "hunter22"},
		{"bad email", "alice", "alice-at-example", "hunter22"},
		{"email without dot", "alice", "alice@example", "hunter22"},
		{"short password", "alice", "a@example.com", "abc"},
		{"long password", "alice", "a@example.com", strings.Repeat("x", 73)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.app.Register(context.Background(), tc.username, tc.email, tc.password)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Empty(t, env.mailer.sent)
}

func TestRegisterDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "alice@example.com")

	_, err := env.app.Register(ctx, " alice ", "other@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrDuplicateUsername)
	_, err = env.app.Register(ctx, "bob", "ALICE@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.Len(t, env.mailer.sent, 1)
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp down")

	acct, err := env.app.Register(context.Background(), "alice", "alice@example.com", "hunter22")
	require.NoError(t, err)

	stored, ok, err := env.store.GetAccountByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, acct.ID, stored.ID)
	assert.False(t, stored.IsVerified)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t)
		assert.ErrorIs(t, env.app.Verify(ctx, "ghost", "123456"), ErrNotFound)
	})

	t.Run("mismatch keeps account unverified", func(t *testing.T) {
		env := newTestEnv(t)
		acct := env.register(t, "alice", "alice@example.com")
		wrong := "000000"
		if acct.VerifyCode == wrong {
			wrong = "111111"
		}
		assert.ErrorIs(t, env.app.Verify(ctx, "alice", wrong), ErrCodeMismatch)
		stored, _, _ := env.store.GetAccountByID(ctx, acct.ID)
		assert.False(t, stored.IsVerified)
	})

	t.Run("expiry wins over a matching code", func(t *testing.T) {
		env := newTestEnv(t)
		acct := env.register(t, "alice", "alice@example.com")
		env.now = acct.VerifyCodeExpiry
		assert.ErrorIs(t, env.app.Verify(ctx, "alice", acct.VerifyCode), ErrCodeExpired)
		stored, _, _ := env.store.GetAccountByID(ctx, acct.ID)
		assert.False(t, stored.IsVerified)
	})

	t.Run("just before expiry", func(t *testing.T) {
		env := newTestEnv(t)
		acct := env.register(t, "alice", "alice@example.com")
		env.now = acct.VerifyCodeExpiry.Add(-time.Millisecond)
		assert.NoError(t, env.app.Verify(ctx, "alice", acct.VerifyCode))
	})

	t.Run("already verified is a no-op", func(t *testing.T) {
		env := newTestEnv(t)
		acct := env.register(t, "alice", "alice@example.com")
		require.NoError(t, env.app.Verify(ctx, "alice", acct.VerifyCode))
		env.now = env.now.Add(48 * time.Hour)
		assert.NoError(t, env.app.Verify(ctx, "alice", "999999"))
		stored, _, _ := env.store.GetAccountByID(ctx, acct.ID)
		assert.True(t, stored.IsVerified)
	})
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.verifiedSession(t, "alice", "alice@example.com")

	_, _, _, err := env.app.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, _, err = env.app.Login(ctx, "nobody", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, _, err = env.app.Login(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "alice@example.com")

	_, err := env.app.Submit(ctx, "alice", " \n\t ")
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = env.app.Submit(ctx, "alice", strings.Repeat("é", 301))
	assert.ErrorIs(t, err, ErrValidation)

	id, err := env.app.Submit(ctx, "alice", strings.Repeat("é", 300))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = env.app.Submit(ctx, "ghost", "hello")
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestSubmitUniqueIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "alice@example.com")

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := env.app.Submit(ctx, "alice", "hi")
			if assert.NoError(t, err) {
				mu.Lock()
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 20)
}

func TestDashboardRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, _ := env.verifiedSession(t, "alice", "alice@example.com")
	_, bobSess := env.verifiedSession(t, "bob", "bob@example.com")

	_, err := env.app.GetAcceptingState(ctx, bobSess, alice.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = env.app.SetAcceptingState(ctx, bobSess, alice.ID, false)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = env.app.ListMessages(ctx, bobSess, alice.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, env.app.DeleteMessage(ctx, bobSess, alice.ID, "m1"), ErrUnauthorized)
	_, err = env.app.ListMessages(ctx, domain.Session{}, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	accepting, err := env.app.GetAcceptingState(ctx, bobSess, bobSess.AccountID)
	require.NoError(t, err)
	assert.True(t, accepting)
}

func TestSetAcceptingStateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct, sess := env.verifiedSession(t, "alice", "alice@example.com")

	for i := 0; i < 2; i++ {
		updated, err := env.app.SetAcceptingState(ctx, sess, acct.ID, false)
		require.NoError(t, err)
		assert.False(t, updated.IsAcceptingMessages)
	}
	accepting, err := env.app.GetAcceptingState(ctx, sess, acct.ID)
	require.NoError(t, err)
	assert.False(t, accepting)

	_, err = env.app.SetAcceptingState(ctx, sess, acct.ID, true)
	require.NoError(t, err)
	_, err = env.app.Submit(ctx, "alice", "back again")
	assert.NoError(t, err)
}

func TestListMessagesEmptyAndTies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct, sess := env.verifiedSession(t, "alice", "alice@example.com")

	msgs, err := env.app.ListMessages(ctx, sess, acct.ID)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)

	first, err := env.app.Submit(ctx, "alice", "first")
	require.NoError(t, err)
	second, err := env.app.Submit(ctx, "alice", "second")
	require.NoError(t, err)

	msgs, err = env.app.ListMessages(ctx, sess, acct.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{second, first}, []string{msgs[0].ID, msgs[1].ID})
}

func TestConcurrentDeleteHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct, sess := env.verifiedSession(t, "alice", "alice@example.com")
	id, err := env.app.Submit(ctx, "alice", "hi")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		notFound int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.app.DeleteMessage(ctx, sess, acct.ID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrMessageNotFound):
				notFound++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, notFound)
}

func TestUsernameAvailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "alice@example.com")

	free, err := env.app.UsernameAvailable(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, free)

	free, err = env.app.UsernameAvailable(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, free)

	_, err = env.app.UsernameAvailable(ctx, "b")
	assert.ErrorIs(t, err, ErrValidation)
}

type blockingStore struct {
	store.Store
}

func (blockingStore) GetAccountByUsername(ctx context.Context, _ string) (domain.Account, bool, error) {
	<-ctx.Done()
	return domain.Account{}, false, ctx.Err()
}

func (blockingStore) AppendMessageIfAccepting(context.Context, string, domain.Message) error {
	return errors.New("connection refused")
}

func TestStoreFailuresMapToTaxonomy(t *testing.T) {
	sessions, err := store.NewJWTSessionStore(testSecret, time.Hour, nil, store.JWTOptions{})
	require.NoError(t, err)
	a, err := New(Config{
		Store:     blockingStore{},
		Sessions:  sessions,
		Mailer:    &captureMailer{},
		OpTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	err = a.Verify(context.Background(), "alice", "123456")
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = a.Submit(context.Background(), "alice", "hello")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestNewRequiresStoreAndSessions(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Store: store.NewMemoryStore()})
	assert.Error(t, err)
}
