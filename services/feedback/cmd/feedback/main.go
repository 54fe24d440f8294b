package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"truefeedback/internal/ratelimit"
	"truefeedback/internal/util"
	"truefeedback/pkg/mail"
	"truefeedback/pkg/otp"
	"truefeedback/pkg/queue"
	"truefeedback/pkg/store"
	"truefeedback/services/feedback/internal/app"
	"truefeedback/services/feedback/internal/config"
	"truefeedback/services/feedback/internal/security"
	"truefeedback/services/feedback/internal/server"
)

const rateWindow = time.Minute

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durations were checked by config.Load.
	sessionTTL, _ := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if sessionTTL == 0 {
		sessionTTL = 24 * time.Hour
	}
	codeTTL, _ := config.ParseDuration("codeTTL", cfg.CodeTTL)
	opTimeout, _ := config.ParseDuration("opTimeout", cfg.OpTimeout)

	var rdb *redis.Client
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
		defer rdb.Close()
	}

	dataStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		util.Fatal("failed to init store", "driver", cfg.StoreDriver, "err", err)
	}
	defer closeStore()

	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	if rdb != nil {
		revoker = store.NewRedisTokenRevoker(rdb, "truefeedback:revoked")
	}
	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		util.Fatal("failed to init sessions", "err", err)
	}

	mailer, err := newMailer(cfg, rdb, logger)
	if err != nil {
		util.Fatal("failed to init mailer", "mode", cfg.MailMode, "err", err)
	}

	appCore, err := app.New(app.Config{
		Store:            dataStore,
		Sessions:         sessions,
		Mailer:           mailer,
		Codes:            otp.NewGenerator(otp.WithLength(cfg.CodeLength), otp.WithWindow(codeTTL)),
		PublicBaseURL:    cfg.PublicBaseURL,
		OpTimeout:        opTimeout,
		MaxMessageLength: cfg.MaxMessageLength,
		Logger:           logger,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}
	signupLimiter, err := newLimiter(rdb, "signup", cfg.SignupRateLimitPerMinute)
	if err != nil {
		util.Fatal("failed to init limiter", "err", err)
	}
	verifyLimiter, err := newLimiter(rdb, "verify", cfg.VerifyRateLimitPerMinute)
	if err != nil {
		util.Fatal("failed to init limiter", "err", err)
	}
	loginLimiter, err := newLimiter(rdb, "login", cfg.LoginRateLimitPerMinute)
	if err != nil {
		util.Fatal("failed to init limiter", "err", err)
	}

	var alerter *security.AuditAlerter
	if rdb != nil {
		alerter, err = security.NewAuditAlerter(rdb, "truefeedback:alerts")
		if err != nil {
			util.Fatal("failed to init security alerter", "err", err)
		}
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: trusted,
		Alerter:        alerter,
		SignupLimiter:  signupLimiter,
		VerifyLimiter:  verifyLimiter,
		LoginLimiter:   loginLimiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("feedback server listening", "addr", addr, "store", cfg.StoreDriver, "mail_mode", cfg.MailMode)
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
		logger.Error("server error", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.FileConfig) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		s, err := store.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.Close(closeCtx)
		}, nil
	default:
		s, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
}

func newMailer(cfg config.FileConfig, rdb *redis.Client, logger *slog.Logger) (mail.Sender, error) {
	switch cfg.MailMode {
	case "log":
		return mail.NewLogSender(logger), nil
	case "queue":
		q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Client: rdb,
			Stream: cfg.MailQueueStream,
		})
		if err != nil {
			return nil, err
		}
		return mail.NewQueueSender(q), nil
	default:
		return mail.NewSender(mail.Config{
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
	}
}

// newLimiter returns nil (no limiting) without Redis or with a zero limit.
func newLimiter(rdb *redis.Client, name string, perMinute int) (server.Limiter, error) {
	if rdb == nil || perMinute <= 0 {
		return nil, nil
	}
	l, err := ratelimit.NewFixedWindowLimiter(rdb, "truefeedback:ratelimit:"+name, perMinute, rateWindow)
	if err != nil {
		return nil, fmt.Errorf("init %s limiter: %w", name, err)
	}
	return l, nil
}
