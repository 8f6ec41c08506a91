package mailer

import (
	"context"
	"fmt"

	"storefront/internal/util"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Config is the SMTP relay configuration
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Message is a single outbound HTML mail
type Message struct {
	To      string
	Subject string
	HTML    string
}

type sendFunc func(ctx context.Context, msg *mail.Msg) error

// Mailer sends HTML mail through an SMTP relay
type Mailer struct {
	from string
	send sendFunc
}

// New builds a Mailer. The SMTP connection is opened per send.
func New(cfg Config) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	return &Mailer{
		from: cfg.From,
		send: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

// Send delivers one message
func (m *Mailer) Send(ctx context.Context, message Message) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(message.To); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(message.Subject)
	msg.SetBodyString(mail.TypeTextHTML, message.HTML)

	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", message.To, err)
	}

	util.GetLogger().Debug("Mail sent",
		zap.String("to", message.To),
		zap.String("subject", message.Subject))
	return nil
}
