package notify

import (
	"context"
	"log/slog"
)

// Mailer sends transactional email. Callers treat failures as best-effort.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes outgoing mail to the logger instead of an SMTP relay.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.logger.InfoContext(ctx, "mail queued", "to", to, "subject", subject, "bytes", len(body))
	return nil
}
