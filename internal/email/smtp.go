package email

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/nudgehq/nudge-api/internal/config"
	"github.com/nudgehq/nudge-api/pkg/circuitbreaker"
)

type smtpSender struct {
	dialer *gomail.Dialer
	from   string
	cb     *circuitbreaker.CircuitBreaker
}

// NewSMTPSender returns a Sender backed by an SMTP relay. A circuit breaker
// keeps a dead relay from stalling every dispatch batch.
func NewSMTPSender(cfg config.SMTPConfig) Sender {
	from := cfg.From
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.From)
	}
	return &smtpSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "smtp",
			MaxFailures: 5,
			Timeout:     time.Minute,
		}),
	}
}

func (s *smtpSender) SendReminder(ctx context.Context, to string, data ReminderData) error {
	subject := fmt.Sprintf("Reminder: %s", data.NudgeName)
	body := fmt.Sprintf(
		"Hi %s,\n\n%q is due on %s.\n\n%s\n\nConfirm it's done: %s\n\nThis link works once and expires %s.\n",
		data.RecipientName,
		data.NudgeName,
		data.ScheduledFor.Format("Mon, 2 Jan 2006 at 15:04 MST"),
		data.Description,
		data.CompletionURL,
		data.ExpiresAt.Format("2 Jan 2006"),
	)
	return s.send(ctx, to, subject, body)
}

func (s *smtpSender) SendCompletionNotice(ctx context.Context, to string, data CompletionNoticeData) error {
	subject := fmt.Sprintf("Done: %s", data.NudgeName)
	body := fmt.Sprintf("%s completed %q on %s.\n",
		data.CompletedName,
		data.NudgeName,
		data.CompletedAt.Format("Mon, 2 Jan 2006 at 15:04 MST"),
	)
	if data.Comment != "" {
		body += fmt.Sprintf("\nComment: %s\n", data.Comment)
	}
	if data.NextOccurrence != nil {
		body += fmt.Sprintf("\nNext occurrence: %s\n", data.NextOccurrence.Format("Mon, 2 Jan 2006 at 15:04 MST"))
	}
	return s.send(ctx, to, subject, body)
}

func (s *smtpSender) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	err := s.cb.Execute(func() error {
		return s.dialer.DialAndSend(m)
	})
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
