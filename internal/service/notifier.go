package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/credvault/credvault/internal/common"
	"github.com/credvault/credvault/internal/config"
	"github.com/sirupsen/logrus"
)

// Notifier delivers a message to a destination. Implementations must be
// bounded in latency: a slow transport fails the send, it does not stall the
// caller.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPNotifier delivers notifications over SMTP with a hard deadline on the
// whole exchange.
type SMTPNotifier struct {
	cfg    *config.SMTPConfig
	logger *logrus.Logger
}

func NewSMTPNotifier(cfg *config.SMTPConfig, logger *logrus.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	deadline := time.Now().Add(n.cfg.Timeout)

	dialer := &net.Dialer{Timeout: n.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", common.ErrTransport, addr, err)
	}
	defer conn.Close()

	// One deadline covers the whole SMTP conversation.
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransport, err)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransport, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
			return fmt.Errorf("%w: starttls: %v", common.ErrTransport, err)
		}
	}

	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: auth: %v", common.ErrTransport, err)
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransport, err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransport, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransport, err)
	}
	if _, err := w.Write(buildMessage(n.cfg.From, to, subject, body)); err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransport, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransport, err)
	}

	n.logger.WithField("to", to).Info("Notification sent")
	return client.Quit()
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
