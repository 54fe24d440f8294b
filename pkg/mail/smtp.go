package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"truefeedback/internal/util"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     Address
}

// SMTPSender relays multipart/alternative messages through an SMTP server,
// upgrading with STARTTLS when offered.
type SMTPSender struct {
	cfg  SMTPConfig
	addr string
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, errors.New("smtp host required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if strings.TrimSpace(cfg.From.Email) == "" {
		return nil, errors.New("mail from address required")
	}
	return &SMTPSender{cfg: cfg, addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	body, err := buildMIME(s.cfg.From, msg, time.Now())
	if err != nil {
		return err
	}
	if err := s.deliver(ctx, strings.TrimSpace(msg.To), body); err != nil {
		return fmt.Errorf("%w: smtp: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, to string, body []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(s.cfg.From.Email); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// buildMIME renders msg as a multipart/alternative RFC 5322 message.
func buildMIME(from Address, msg Message, now time.Time) ([]byte, error) {
	boundary := "tf-" + strings.ReplaceAll(util.NewID(), "-", "")
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", from.String())
	header("To", strings.TrimSpace(msg.To))
	header("Subject", encodeHeader(msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
	buf.WriteString("\r\n")

	text := msg.Text
	if strings.TrimSpace(text) == "" {
		converted, err := PlainText(msg.HTML)
		if err != nil {
			return nil, err
		}
		text = converted
	}
	parts := []struct{ contentType, body string }{
		{"text/plain; charset=UTF-8", text},
		{"text/html; charset=UTF-8", msg.HTML},
	}
	for _, p := range parts {
		if strings.TrimSpace(p.body) == "" {
			continue
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		header("Content-Type", p.contentType)
		header("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		qp := quotedprintable.NewWriter(&buf)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}

func encodeHeader(v string) string {
	return mime.QEncoding.Encode("UTF-8", v)
}
