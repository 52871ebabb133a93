package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"library/internal/models"
)

// Mailer sends one email
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// EmailObserver mails events to the affected patron.
//
// Mail goes out through an AsyncObserver, so Handle returns as soon as the
// message is queued and slow SMTP servers never hold up the caller.
type EmailObserver struct {
	*AsyncObserver
}

// NewEmailObserver starts the delivery worker
func NewEmailObserver(mailer Mailer, timeout time.Duration, queueSize int, logger *zap.Logger) *EmailObserver {
	return &EmailObserver{
		AsyncObserver: NewAsyncObserver("email", &mailSender{mailer: mailer, logger: logger}, timeout, queueSize, logger),
	}
}

// Handle queues a notification email for the event's patron
func (o *EmailObserver) Handle(ctx context.Context, event models.Event) error {
	if event.Patron.Email == "" {
		return nil
	}
	return o.AsyncObserver.Handle(ctx, event)
}

// mailSender renders and sends one email, run by the async worker
type mailSender struct {
	mailer Mailer
	logger *zap.Logger
}

func (m *mailSender) Handle(ctx context.Context, event models.Event) error {
	to := event.Patron.Email
	subject := emailSubject(event.Type)
	body := fmt.Sprintf("Dear %s,\n\n%s\n\nBest regards,\nLibrary System", event.Patron.Name, event.Message)

	if err := m.mailer.SendEmail(ctx, to, subject, body); err != nil {
		return fmt.Errorf("failed to send notification email to %s: %w", to, err)
	}

	m.logger.Debug("Notification email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

func emailSubject(eventType models.EventType) string {
	switch eventType {
	case models.EventFineApplied:
		return "Library fine applied"
	case models.EventFinePaid:
		return "Library fine paid"
	case models.EventBorrowingRestored:
		return "Borrowing privileges restored"
	default:
		return "Library notification"
	}
}

// SMTPMailer delivers mail through an SMTP relay
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendEmail sends a plain text email, giving up when ctx expires
func (m *SMTPMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))

	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	var msg strings.Builder
	msg.WriteString("From: " + m.From + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	// net/smtp has no context support; the send keeps running in the
	// background after a timeout but the caller is released
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, m.From, []string{to}, []byte(msg.String()))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending email to %s: %w", to, ctx.Err())
	}
}
