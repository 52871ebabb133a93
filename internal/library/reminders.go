package library

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"library/internal/models"
)

type reminder struct {
	patron models.Patron
	count  int
}

// SendOverdueReminders mails each patron holding overdue items once. Mail is
// sent after the lock is released; failures are logged and counted, never
// returned. It returns how many reminders were delivered.
func (s *Service) SendOverdueReminders(ctx context.Context, today time.Time) (int, error) {
	if s.mailer == nil {
		return 0, fmt.Errorf("no mailer configured")
	}

	reminders, err := s.collectReminders(ctx, today)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, r := range reminders {
		if r.patron.Email == "" {
			s.logger.Warn("Patron has no email, skipping reminder", zap.String("patron_id", r.patron.ID))
			continue
		}

		body := fmt.Sprintf("Dear %s,\n\nYou have %d overdue item(s). Please return them as soon as possible to avoid additional fines.\n\nBest regards,\nLibrary System",
			r.patron.Name, r.count)

		sendCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
		err := s.mailer.SendEmail(sendCtx, r.patron.Email, "Overdue Item Reminder", body)
		cancel()
		if err != nil {
			s.logger.Warn("Failed to send overdue reminder",
				zap.String("patron_id", r.patron.ID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	s.logger.Info("Overdue reminders sent", zap.Int("sent", sent), zap.Int("patrons", len(reminders)))
	return sent, nil
}

func (s *Service) collectReminders(ctx context.Context, today time.Time) ([]reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	overdue, err := s.loans.OverdueLoans(ctx, today)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	var order []string
	for _, loan := range overdue {
		if counts[loan.PatronID] == 0 {
			order = append(order, loan.PatronID)
		}
		counts[loan.PatronID]++
	}

	reminders := make([]reminder, 0, len(order))
	for _, id := range order {
		patron, err := s.patrons.GetPatron(ctx, id)
		if err != nil {
			s.logger.Warn("Overdue loan for unknown patron", zap.String("patron_id", id), zap.Error(err))
			continue
		}
		reminders = append(reminders, reminder{patron: patron, count: counts[id]})
	}
	return reminders, nil
}
