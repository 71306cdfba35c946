package mailer

import (
	"context"
	"errors"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/mindpoints/backend/internal/config"
)

type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var ErrNoRecipient = errors.New("mailer: message has no recipient")

// SMTP sends mail through the configured relay. Each Send dials its own connection.
type SMTP struct {
	cfg    config.MailConfig
	dialer *gomail.Dialer
}

func NewSMTP(cfg config.MailConfig) *SMTP {
	return &SMTP{cfg: cfg, dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)}
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	m, err := build(s.cfg, msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.dialer.DialAndSend(m)
}

func build(cfg config.MailConfig, msg Message) (*gomail.Message, error) {
	if msg.To == "" {
		return nil, ErrNoRecipient
	}
	m := gomail.NewMessage()
	m.SetHeader("From", cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTMLBody)
	return m, nil
}

// LogSender stands in when mail is disabled.
type LogSender struct {
	Log *slog.Logger
}

func (l LogSender) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("mail disabled, message dropped", "to", msg.To, "subject", msg.Subject)
	return nil
}

// New returns the sender matching cfg.
func New(cfg config.MailConfig, log *slog.Logger) Sender {
	if !cfg.Enabled {
		return LogSender{Log: log}
	}
	return NewSMTP(cfg)
}
