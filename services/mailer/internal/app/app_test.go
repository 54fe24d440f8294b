package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truefeedback/pkg/mail"
	"truefeedback/pkg/queue"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []mail.Message
	fails int
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("provider unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestQueue(t *testing.T) *queue.RedisJobQueue {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Client:     client,
		Stream:     "test:mail",
		Group:      "mailer",
		Block:      50 * time.Millisecond,
		RetryDelay: time.Millisecond,
		MaxRetries: 3,
	})
	require.NoError(t, err)
	return q
}

func TestRunDeliversQueuedMail(t *testing.T) {
	q := newTestQueue(t)
	sender := &recordingSender{fails: 1}
	a, err := New(Config{Queue: q, Sender: sender, Concurrency: 1})
	require.NoError(t, err)

	msg, err := mail.VerificationEmail("alice@example.com", "https://feedback.example.com", "alice", "123456", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, mail.NewQueueSender(q).Send(context.Background(), msg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sender.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	sender.mu.Lock()
	assert.Equal(t, msg, sender.sent[0])
	sender.mu.Unlock()

	cancel()
	<-done
}

func TestHandleDropsMalformedJobs(t *testing.T) {
	sender := &recordingSender{}
	a, err := New(Config{Queue: newTestQueue(t), Sender: sender})
	require.NoError(t, err)

	err = a.handle(context.Background(), queue.Job{ID: "j1", Kind: mail.JobKind, Payload: []byte(`{"to":"nope"}`)})
	assert.NoError(t, err)
	assert.Zero(t, sender.count())
}

func TestHandleReturnsDeliveryErrors(t *testing.T) {
	sender := &recordingSender{fails: 1}
	a, err := New(Config{Queue: newTestQueue(t), Sender: sender})
	require.NoError(t, err)

	job := queue.Job{ID: "j1", Kind: mail.JobKind, Payload: []byte(`{"to":"alice@example.com","subject":"Hi","text":"hi"}`)}
	assert.Error(t, a.handle(context.Background(), job))
	assert.NoError(t, a.handle(context.Background(), job))
	assert.Equal(t, 1, sender.count())
}

func TestNewRequiresQueueAndSender(t *testing.T) {
	_, err := New(Config{Sender: &recordingSender{}})
	assert.Error(t, err)
	_, err = New(Config{Queue: newTestQueue(t)})
	assert.Error(t, err)
}
