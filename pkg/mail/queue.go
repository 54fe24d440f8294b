package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"truefeedback/pkg/queue"
)

// JobKind tags mail jobs on the shared queue.
const JobKind = "mail.send"

type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) (queue.Job, error)
}

// QueueSender hands messages to the mailer worker instead of delivering inline.
type QueueSender struct {
	queue Enqueuer
}

func NewQueueSender(q Enqueuer) *QueueSender {
	return &QueueSender{queue: q}
}

func (s *QueueSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, JobKind, msg); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}

// DecodeJob extracts the message carried by a mail job.
func DecodeJob(job queue.Job) (Message, error) {
	if job.Kind != JobKind {
		return Message{}, fmt.Errorf("unexpected job kind %q", job.Kind)
	}
	var msg Message
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return Message{}, fmt.Errorf("decode mail job %s: %w", job.ID, err)
	}
	return msg, validateMessage(msg)
}
