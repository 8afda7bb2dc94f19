// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

/*
Package mailer provides the transactional email sink for the account layer.

Delivery is strictly fire-and-forget: a failed send is logged and never
propagated into the authentication flow that triggered it. Losing a
confirmation email is recoverable (the user can request a resend); failing a
sign-up because SMTP hiccuped is not.
*/
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Message is a plain-text transactional email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers transactional messages.
type Mailer interface {
	// Send delivers the message. Implementations must be safe for
	// concurrent use and must not block on retries.
	Send(ctx context.Context, message Message) error
}

// # SMTP Implementation

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	addr     string
	from     string
	username string
	password string
	logger   *slog.Logger
}

// NewSMTPMailer constructs an [SMTPMailer].
//
// # Parameters
//   - addr: host:port of the SMTP relay.
//   - from: envelope sender address.
//   - username, password: PLAIN auth credentials (empty disables auth).
//   - logger: structured logger for delivery events.
func NewSMTPMailer(addr, from, username, password string, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{
		addr:     addr,
		from:     from,
		username: username,
		password: password,
		logger:   logger,
	}
}

// Send implements [Mailer] over SMTP.
func (mailer *SMTPMailer) Send(ctx context.Context, message Message) error {

	// Assemble a minimal RFC 5322 message
	var builder strings.Builder
	fmt.Fprintf(&builder, "From: %s\r\n", mailer.from)
	fmt.Fprintf(&builder, "To: %s\r\n", message.To)
	fmt.Fprintf(&builder, "Subject: %s\r\n", message.Subject)
	builder.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	builder.WriteString(message.Body)

	var auth smtp.Auth
	if mailer.username != "" {
		host := mailer.addr
		if idx := strings.IndexByte(host, ':'); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", mailer.username, mailer.password, host)
	}

	if err := smtp.SendMail(mailer.addr, auth, mailer.from, []string{message.To}, []byte(builder.String())); err != nil {
		return fmt.Errorf("mailer_smtp_send_failed: %w", err)
	}

	mailer.logger.Info("mail_sent",
		slog.String("to", message.To),
		slog.String("subject", message.Subject),
	)

	return nil
}

// # Development Implementation

// LogMailer writes the message to the structured log instead of delivering it.
// Used in development and in tests where no SMTP relay is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer constructs a [LogMailer].
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send implements [Mailer] by logging the message.
func (mailer *LogMailer) Send(ctx context.Context, message Message) error {
	mailer.logger.Info("mail_logged",
		slog.String("to", message.To),
		slog.String("subject", message.Subject),
		slog.String("body", message.Body),
	)
	return nil
}
