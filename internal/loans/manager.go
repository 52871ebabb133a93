// Package loans manages the loan lifecycle: borrowing, returning, and
// overdue detection that drives fine creation.
//
// A loan is ACTIVE until it is returned, then RETURNED for good. Overdue is
// not a stored state; it is recomputed from the caller-supplied date.
package loans

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "library/internal/errors"
	"library/internal/eligibility"
	"library/internal/ledger"
	"library/internal/models"
	"library/internal/storage"
)

// FineLedger is the part of the ledger the manager drives
type FineLedger interface {
	ApplyLoanFine(ctx context.Context, patronID, loanID, reason string) (models.Fine, ledger.Action, error)
}

// ReturnResult describes a completed return
type ReturnResult struct {
	Loan        models.Loan
	OverdueDays int
	// Fine is set when the item came back late
	Fine *models.Fine
}

// Manager is the loan lifecycle manager
type Manager struct {
	catalog storage.Catalog
	patrons storage.Patrons
	loans   storage.Loans
	ledger  FineLedger
	logger  *zap.Logger
}

// NewManager creates a loan lifecycle manager
func NewManager(catalog storage.Catalog, patrons storage.Patrons, loans storage.Loans, fineLedger FineLedger, logger *zap.Logger) *Manager {
	return &Manager{
		catalog: catalog,
		patrons: patrons,
		loans:   loans,
		ledger:  fineLedger,
		logger:  logger,
	}
}

// Borrow lends a media item to a patron.
//
// Overdue fines are reconciled before the eligibility check so the decision
// never relies on a stale may-borrow flag.
func (m *Manager) Borrow(ctx context.Context, patronID, mediaID string, mediaType models.MediaType, today time.Time) (models.Loan, error) {
	if patronID == "" || mediaID == "" || mediaType == "" {
		return models.Loan{}, apperrors.New(apperrors.CodeInvalidArgument, "patron ID, media ID and media type are required")
	}
	today = models.Day(today)

	patron, err := m.patrons.GetPatron(ctx, patronID)
	if err != nil {
		return models.Loan{}, err
	}
	if !patron.Active {
		return models.Loan{}, eligibility.Decision{Reason: eligibility.ReasonAccountInactive}.Err()
	}

	if _, err := m.CheckAndApplyOverdueFines(ctx, patronID, today); err != nil {
		return models.Loan{}, err
	}

	// Reload: reconciliation may have cleared the may-borrow flag
	patron, err = m.patrons.GetPatron(ctx, patronID)
	if err != nil {
		return models.Loan{}, err
	}
	active, err := m.ActiveLoans(ctx, patronID, today)
	if err != nil {
		return models.Loan{}, err
	}

	decision := eligibility.Evaluate(eligibility.Input{
		Active:    patron.Active,
		CanBorrow: patron.CanBorrow,
		Loans:     active,
	})
	if !decision.Allowed {
		m.logger.Info("Borrow denied",
			zap.String("patron_id", patronID),
			zap.String("reason", string(decision.Reason)),
		)
		return models.Loan{}, decision.Err()
	}

	item, err := m.catalog.FindItem(ctx, mediaID, mediaType)
	if err != nil {
		return models.Loan{}, err
	}
	if !item.Available {
		return models.Loan{}, apperrors.New(apperrors.CodeMediaUnavailable, "%s %s is already borrowed", mediaType, mediaID)
	}

	loan, err := m.loans.CreateLoan(ctx, models.Loan{
		PatronID:   patronID,
		MediaID:    mediaID,
		MediaType:  mediaType,
		BorrowDate: today,
		DueDate:    today.AddDate(0, 0, m.catalog.LoanPeriodDays(mediaType)),
	})
	if err != nil {
		return models.Loan{}, fmt.Errorf("failed to create loan: %w", err)
	}

	if err := m.catalog.SetAvailable(ctx, mediaID, false); err != nil {
		return loan, fmt.Errorf("failed to mark %s unavailable: %w", mediaID, err)
	}

	patron.LoanIDs = append(patron.LoanIDs, loan.ID)
	if err := m.patrons.SavePatron(ctx, patron); err != nil {
		return loan, fmt.Errorf("failed to update patron %s: %w", patronID, err)
	}

	m.logger.Info("Media borrowed",
		zap.String("loan_id", loan.ID),
		zap.String("patron_id", patronID),
		zap.String("media_id", mediaID),
		zap.String("media_type", string(mediaType)),
		zap.Time("due_date", loan.DueDate),
	)

	return loan, nil
}

// ReturnItem closes an active loan. A late return is fined through the ledger;
// the overdue day count is informational only.
func (m *Manager) ReturnItem(ctx context.Context, loanID string, today time.Time) (ReturnResult, error) {
	if loanID == "" {
		return ReturnResult{}, apperrors.New(apperrors.CodeInvalidArgument, "loan ID cannot be empty")
	}
	today = models.Day(today)

	loan, err := m.loans.GetLoan(ctx, loanID)
	if err != nil {
		return ReturnResult{}, err
	}
	if !loan.IsActive() {
		return ReturnResult{}, apperrors.New(apperrors.CodeAlreadyReturned, "loan %s was already returned", loanID)
	}
	if today.Before(models.Day(loan.BorrowDate)) {
		return ReturnResult{}, apperrors.New(apperrors.CodeInvalidArgument, "return date %s is before borrow date %s",
			today.Format(time.DateOnly), loan.BorrowDate.Format(time.DateOnly))
	}

	late := today.After(models.Day(loan.DueDate))

	returned := today
	loan.ReturnDate = &returned
	loan.Overdue = false
	if err := m.loans.UpdateLoan(ctx, loan); err != nil {
		return ReturnResult{}, fmt.Errorf("failed to update loan %s: %w", loanID, err)
	}

	if err := m.catalog.SetAvailable(ctx, loan.MediaID, true); err != nil {
		return ReturnResult{}, fmt.Errorf("failed to mark %s available: %w", loan.MediaID, err)
	}

	if patron, err := m.patrons.GetPatron(ctx, loan.PatronID); err == nil {
		patron.LoanIDs = removeID(patron.LoanIDs, loanID)
		if err := m.patrons.SavePatron(ctx, patron); err != nil {
			return ReturnResult{}, fmt.Errorf("failed to update patron %s: %w", loan.PatronID, err)
		}
	} else {
		m.logger.Warn("Returned loan has no patron record", zap.String("loan_id", loanID), zap.Error(err))
	}

	result := ReturnResult{Loan: loan}
	m.logger.Info("Media returned", zap.String("loan_id", loanID), zap.String("media_id", loan.MediaID))

	if !late {
		return result, nil
	}

	result.OverdueDays = loan.OverdueDays(today)
	reason := fmt.Sprintf("overdue return of %s %s (loan %s, %d days late)", loan.MediaType, loan.MediaID, loanID, result.OverdueDays)

	fine, _, err := m.ledger.ApplyLoanFine(ctx, loan.PatronID, loanID, reason)
	if apperrors.CodeOf(err) == apperrors.CodePolicyNotFound {
		m.logger.Warn("No fine policy for late return, item returned without a fine",
			zap.String("loan_id", loanID),
			zap.String("media_type", string(loan.MediaType)),
		)
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("item returned but fine could not be applied: %w", err)
	}
	result.Fine = &fine

	return result, nil
}

// CheckAndApplyOverdueFines recomputes overdue status for the patron's active
// loans and makes sure each overdue loan carries a fine at the current policy
// amount. Repeated calls never duplicate an unpaid fine. Loans of a media type
// without a fine policy are skipped. It returns the fines created or corrected
// by this pass.
func (m *Manager) CheckAndApplyOverdueFines(ctx context.Context, patronID string, today time.Time) ([]models.Fine, error) {
	today = models.Day(today)

	loans, err := m.loans.ListLoansByPatron(ctx, patronID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans for patron %s: %w", patronID, err)
	}

	var changed []models.Fine
	for _, loan := range loans {
		if !loan.IsActive() {
			continue
		}

		wasOverdue := loan.Overdue
		if loan.CheckOverdue(today) != wasOverdue {
			if err := m.loans.UpdateLoan(ctx, loan); err != nil {
				return changed, fmt.Errorf("failed to update loan %s: %w", loan.ID, err)
			}
		}
		if !loan.Overdue {
			continue
		}

		days := loan.OverdueDays(today)
		reason := fmt.Sprintf("overdue %s %s (loan %s, %d days overdue)", loan.MediaType, loan.MediaID, loan.ID, days)

		fine, action, err := m.ledger.ApplyLoanFine(ctx, patronID, loan.ID, reason)
		if apperrors.CodeOf(err) == apperrors.CodePolicyNotFound {
			// The overdue gate still blocks borrowing until the item is back
			m.logger.Warn("No fine policy for overdue loan, skipping",
				zap.String("loan_id", loan.ID),
				zap.String("media_type", string(loan.MediaType)),
			)
			continue
		}
		if err != nil {
			return changed, err
		}
		if action != ledger.ActionUnchanged {
			m.logger.Info("Overdue fine reconciled",
				zap.String("loan_id", loan.ID),
				zap.String("fine_id", fine.ID),
				zap.String("action", action.String()),
				zap.Int("overdue_days", days),
			)
			changed = append(changed, fine)
		}
	}

	return changed, nil
}

// ActiveLoans returns the patron's unreturned loans with Overdue recomputed for today
func (m *Manager) ActiveLoans(ctx context.Context, patronID string, today time.Time) ([]models.Loan, error) {
	loans, err := m.loans.ListLoansByPatron(ctx, patronID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans for patron %s: %w", patronID, err)
	}

	var active []models.Loan
	for _, loan := range loans {
		if loan.IsActive() {
			loan.CheckOverdue(today)
			active = append(active, loan)
		}
	}
	return active, nil
}

// PatronLoans returns every loan of a patron, returned ones included
func (m *Manager) PatronLoans(ctx context.Context, patronID string) ([]models.Loan, error) {
	loans, err := m.loans.ListLoansByPatron(ctx, patronID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans for patron %s: %w", patronID, err)
	}
	return loans, nil
}

// OverdueLoans returns all patrons' loans that are overdue as of today
func (m *Manager) OverdueLoans(ctx context.Context, today time.Time) ([]models.Loan, error) {
	loans, err := m.loans.ListActiveLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active loans: %w", err)
	}

	var overdue []models.Loan
	for _, loan := range loans {
		if loan.CheckOverdue(today) {
			overdue = append(overdue, loan)
		}
	}
	return overdue, nil
}

// OverdueSummary counts the patron's active and overdue loans
func (m *Manager) OverdueSummary(ctx context.Context, patronID string, today time.Time) (models.OverdueSummary, error) {
	active, err := m.ActiveLoans(ctx, patronID, today)
	if err != nil {
		return models.OverdueSummary{}, err
	}

	summary := models.OverdueSummary{
		PatronID:      patronID,
		ActiveLoans:   len(active),
		OverdueByType: make(map[models.MediaType]int),
	}
	for _, loan := range active {
		if !loan.Overdue {
			continue
		}
		summary.OverdueLoans++
		summary.OverdueByType[loan.MediaType]++
		if days := loan.OverdueDays(today); days > summary.MaxDaysLate {
			summary.MaxDaysLate = days
		}
	}
	return summary, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
