package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
	"gopkg.in/tucnak/telebot.v2"
)

// Sender delivers a rendered message over one channel.
type Sender interface {
	Name() string
	Accepts(r Recipient) bool
	Send(ctx context.Context, r Recipient, msg Rendered) error
}

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender sends HTML mail with a plain-text alternative.
type EmailSender struct {
	dialer mailDialer
	from   string
}

func NewEmailSender(cfg SMTPConfig) *EmailSender {
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *EmailSender) Name() string { return "email" }

func (s *EmailSender) Accepts(r Recipient) bool { return r.Email != "" }

func (s *EmailSender) Send(ctx context.Context, r Recipient, msg Rendered) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	if r.Name != "" {
		m.SetAddressHeader("To", r.Email, r.Name)
	} else {
		m.SetHeader("To", r.Email)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	return nil
}

type telegramAPI interface {
	Send(to telebot.Recipient, what interface{}, options ...interface{}) (*telebot.Message, error)
}

// TelegramSender posts plain-text messages to a chat through the bot API.
type TelegramSender struct {
	bot telegramAPI
}

// NewTelegramSender connects the bot. The bot is only used for sending; no poller is started.
func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("notify: create telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) Accepts(r Recipient) bool { return r.TelegramChatID != 0 }

func (s *TelegramSender) Send(ctx context.Context, r Recipient, msg Rendered) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := msg.Subject + "\n\n" + msg.Text
	if _, err := s.bot.Send(&telebot.Chat{ID: r.TelegramChatID}, text); err != nil {
		return fmt.Errorf("notify: send telegram: %w", err)
	}
	return nil
}

// LogSender writes messages to the log. Used when no channel is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.With(zap.String("sender", "log"))}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Accepts(Recipient) bool { return true }

func (s *LogSender) Send(_ context.Context, r Recipient, msg Rendered) error {
	s.logger.Info("notification",
		zap.String("audience", string(r.Audience)),
		zap.String("recipient", r.Name),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text))
	return nil
}
