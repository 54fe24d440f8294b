package mail

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truefeedback/pkg/queue"
)

func TestQueueSenderRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Addr: srv.Addr(), Stream: "test:mail"})
	require.NoError(t, err)

	s := NewQueueSender(q)
	msg := Message{To: "alice@example.com", Subject: VerificationSubject, HTML: "<p>123456</p>", Text: "123456"}
	require.NoError(t, s.Send(context.Background(), msg))

	entries, err := srv.Stream("test:mail")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, JobKind, values["kind"])

	decoded, err := DecodeJob(queue.Job{ID: values["job_id"], Kind: values["kind"], Payload: []byte(values["payload"])})
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestDecodeJobRejectsOtherKinds(t *testing.T) {
	_, err := DecodeJob(queue.Job{Kind: "index", Payload: []byte(`{}`)})
	assert.Error(t, err)
}

func TestQueueSenderValidatesBeforeEnqueue(t *testing.T) {
	s := NewQueueSender(nil)
	err := s.Send(context.Background(), Message{To: "bad", Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidRecipient)
}
