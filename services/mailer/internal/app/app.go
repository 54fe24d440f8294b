package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"truefeedback/pkg/mail"
	"truefeedback/pkg/queue"
)

const defaultSendTimeout = 15 * time.Second

// Config holds runtime dependencies for the mail worker.
type Config struct {
	Queue       *queue.RedisJobQueue
	Sender      mail.Sender
	Concurrency int
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// App drains the mail queue and delivers each message through Sender.
type App struct {
	queue       *queue.RedisJobQueue
	sender      mail.Sender
	concurrency int
	sendTimeout time.Duration
	logger      *slog.Logger
}

func New(cfg Config) (*App, error) {
	if cfg.Queue == nil {
		return nil, errors.New("mail queue required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("mail sender required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &App{
		queue:       cfg.Queue,
		sender:      cfg.Sender,
		concurrency: cfg.Concurrency,
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Run consumes jobs until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.queue.Start(ctx, a.concurrency, a.handle)
	a.logger.Info("mail worker started", "concurrency", a.concurrency)
	<-ctx.Done()
	return nil
}

// Job reports the delivery status of a queued mail job.
func (a *App) Job(ctx context.Context, id string) (queue.Job, bool, error) {
	return a.queue.GetJob(ctx, id)
}

// handle delivers one job. Undecodable jobs are dropped since retrying
// cannot fix them; delivery errors are returned so the queue retries.
func (a *App) handle(ctx context.Context, job queue.Job) error {
	msg, err := mail.DecodeJob(job)
	if err != nil {
		a.logger.Error("dropping malformed mail job", "job_id", job.ID, "err", err)
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	if err := a.sender.Send(sendCtx, msg); err != nil {
		return err
	}
	a.logger.Info("mail delivered", "job_id", job.ID, "attempts", job.Attempts, "subject", msg.Subject)
	return nil
}
