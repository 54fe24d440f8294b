package mail

import (
	"context"
	"log/slog"
	"strings"
)

// LogSender writes messages to the log instead of delivering them. Local use only.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "mail not delivered (log provider)",
		"to", maskAddress(msg.To),
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return nil
}

func maskAddress(addr string) string {
	addr = strings.TrimSpace(strings.ToLower(addr))
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" {
		return addr
	}
	if len(local) <= 2 {
		return local[:1] + "***@" + domain
	}
	return local[:2] + "***@" + domain
}
