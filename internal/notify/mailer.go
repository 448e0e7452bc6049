package notify

import (
	"context"

	"go.uber.org/zap"
)

// Message is a rendered plain-text email
type Message struct {
	ToEmail string
	ToName  string
	Subject string
	Text    string
}

// Mailer delivers one message. Implementations make a single attempt; retrying is
// the dispatcher's job.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("Email (log transport)",
		zap.String("to", msg.ToEmail),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}
