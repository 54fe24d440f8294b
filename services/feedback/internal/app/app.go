package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"truefeedback/pkg/mail"
	"truefeedback/pkg/otp"
	"truefeedback/pkg/store"
)

const (
	defaultOpTimeout        = 5 * time.Second
	defaultMaxMessageLength = 300
	minUsernameLength       = 2
	maxUsernameLength       = 20
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	emailPattern    = regexp.MustCompile(`.+@.+\..+`)
)

// Config holds runtime dependencies for the core application.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Mailer   mail.Sender
	Codes    *otp.Generator

	PublicBaseURL    string
	OpTimeout        time.Duration
	MaxMessageLength int
	Now              func() time.Time
	Logger           *slog.Logger
}

// App implements signup, message intake and the owner dashboard on top of a Store.
type App struct {
	store    store.Store
	sessions store.SessionStore
	mailer   mail.Sender
	codes    *otp.Generator

	publicBaseURL string
	opTimeout     time.Duration
	maxMessageLen int
	now           func() time.Time
	logger        *slog.Logger
}

// New constructs the application. Store and Sessions are required.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Mailer == nil {
		cfg.Mailer = mail.NewLogSender(cfg.Logger)
	}
	if cfg.Codes == nil {
		cfg.Codes = otp.NewGenerator()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessageLength
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &App{
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		mailer:        cfg.Mailer,
		codes:         cfg.Codes,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		opTimeout:     cfg.OpTimeout,
		maxMessageLen: cfg.MaxMessageLength,
		now:           cfg.Now,
		logger:        cfg.Logger,
	}, nil
}

// ProfileURL is the public link visitors use to send messages to username.
func (a *App) ProfileURL(username string) string {
	return a.publicBaseURL + "/u/" + username
}

// MaxMessageLength is the longest accepted message, in characters.
func (a *App) MaxMessageLength() int {
	return a.maxMessageLen
}

func (a *App) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.opTimeout)
}

// storeErr maps an unexpected store failure onto the service taxonomy.
func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// ValidateUsername enforces the public username format.
func ValidateUsername(username string) error {
	n := len(username)
	switch {
	case n < minUsernameLength:
		return validationErr(fmt.Sprintf("username must be at least %d characters", minUsernameLength))
	case n > maxUsernameLength:
		return validationErr(fmt.Sprintf("username must be no more than %d characters", maxUsernameLength))
	case !usernamePattern.MatchString(username):
		return validationErr("username must not contain special characters")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" || !emailPattern.MatchString(email) {
		return validationErr("invalid email address")
	}
	return nil
}
