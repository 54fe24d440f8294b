package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"truefeedback/internal/util"
	"truefeedback/pkg/mail"
	"truefeedback/pkg/queue"
	"truefeedback/services/mailer/internal/app"
	"truefeedback/services/mailer/internal/config"
	"truefeedback/services/mailer/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retryDelay, _ := config.ParseDuration("queueRetryDelay", cfg.QueueRetryDelay)
	sendTimeout, _ := config.ParseDuration("sendTimeout", cfg.SendTimeout)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Client:     rdb,
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		Consumer:   util.NewID(),
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: retryDelay,
	})
	if err != nil {
		util.Fatal("failed to init queue", "err", err)
	}
	sender, err := mail.NewSender(mail.Config{
		Provider:        cfg.MailProvider,
		FromName:        cfg.MailFromName,
		FromAddress:     cfg.MailFromAddress,
		SendGridAPIKey:  cfg.SendGridAPIKey,
		SendGridHost:    cfg.SendGridHost,
		SendGridSandbox: cfg.SendGridSandbox,
		SMTPHost:        cfg.SMTPHost,
		SMTPPort:        cfg.SMTPPort,
		SMTPUsername:    cfg.SMTPUsername,
		SMTPPassword:    cfg.SMTPPassword,
	})
	if err != nil {
		util.Fatal("failed to init mail sender", "err", err)
	}

	worker, err := app.New(app.Config{
		Queue:       q,
		Sender:      sender,
		Concurrency: cfg.QueueConcurrency,
		SendTimeout: sendTimeout,
		Logger:      logger,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(worker).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("mailer health server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("mailer stopped", "err", err)
	}
}
