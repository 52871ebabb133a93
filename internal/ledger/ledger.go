// Package ledger owns fine records: creation and reconciliation of overdue
// fines, payments with overpayment refunds, and keeping each patron's cached
// may-borrow flag equal to "no unpaid fines".
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "library/internal/errors"
	"library/internal/models"
	"library/internal/notify"
	"library/internal/storage"
)

// ManualMediaType groups fines that are not tied to a loan in breakdowns
const ManualMediaType models.MediaType = "MANUAL"

// FineSchedule resolves the flat fine for a media type
type FineSchedule interface {
	FlatFine(mediaType models.MediaType) (decimal.Decimal, error)
}

// PaidFinePolicy decides what happens when an overdue loan is reconciled
// and the only fine on it has already been paid.
type PaidFinePolicy string

const (
	// PaidFineNewCharge closes the paid fine and charges a new one
	PaidFineNewCharge PaidFinePolicy = "new_charge"
	// PaidFineKeepClosed treats the paid fine as settling the loan
	PaidFineKeepClosed PaidFinePolicy = "keep_closed"
)

// ParsePaidFinePolicy validates a policy name; empty means PaidFineNewCharge
func ParsePaidFinePolicy(s string) (PaidFinePolicy, error) {
	switch PaidFinePolicy(s) {
	case "", PaidFineNewCharge:
		return PaidFineNewCharge, nil
	case PaidFineKeepClosed:
		return PaidFineKeepClosed, nil
	default:
		return "", fmt.Errorf("unknown paid fine policy %q (want %s or %s)", s, PaidFineNewCharge, PaidFineKeepClosed)
	}
}

// Action reports what ApplyLoanFine did
type Action int

const (
	ActionUnchanged Action = iota
	ActionCreated
	ActionCorrected
)

func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionCorrected:
		return "corrected"
	default:
		return "unchanged"
	}
}

// Ledger is the fine ledger and payment processor
type Ledger struct {
	patrons  storage.Patrons
	loans    storage.Loans
	fines    storage.Fines
	schedule FineSchedule
	notifier notify.Notifier
	logger   *zap.Logger

	paidFinePolicy PaidFinePolicy
	now            func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithPaidFinePolicy selects the paid-fine reconciliation behaviour
func WithPaidFinePolicy(p PaidFinePolicy) Option {
	return func(l *Ledger) { l.paidFinePolicy = p }
}

// WithClock overrides the timestamp source for fines and events
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger
func New(patrons storage.Patrons, loans storage.Loans, fines storage.Fines, schedule FineSchedule, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		patrons:        patrons,
		loans:          loans,
		fines:          fines,
		schedule:       schedule,
		notifier:       notifier,
		logger:         logger,
		paidFinePolicy: PaidFineNewCharge,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyLoanFine charges the flat overdue fine for a loan.
//
// A loan has at most one unpaid fine: if one exists its amount is brought in
// line with the current policy and it is returned instead of a new fine.
// A loan whose fines are all paid is handled per PaidFinePolicy.
func (l *Ledger) ApplyLoanFine(ctx context.Context, patronID, loanID, reason string) (models.Fine, Action, error) {
	if patronID == "" {
		return models.Fine{}, ActionUnchanged, apperrors.New(apperrors.CodeInvalidArgument, "patron ID cannot be empty")
	}
	if loanID == "" {
		return models.Fine{}, ActionUnchanged, apperrors.New(apperrors.CodeInvalidArgument, "loan ID cannot be empty")
	}

	patron, err := l.patrons.GetPatron(ctx, patronID)
	if err != nil {
		return models.Fine{}, ActionUnchanged, err
	}

	loan, err := l.loans.GetLoan(ctx, loanID)
	if err != nil {
		return models.Fine{}, ActionUnchanged, err
	}
	if loan.PatronID != patronID {
		return models.Fine{}, ActionUnchanged, apperrors.New(apperrors.CodeLoanOwnershipMismatch,
			"loan %s does not belong to patron %s", loanID, patronID)
	}

	amount, err := l.schedule.FlatFine(loan.MediaType)
	if err != nil {
		return models.Fine{}, ActionUnchanged, err
	}
	if !amount.IsPositive() {
		return models.Fine{}, ActionUnchanged, apperrors.New(apperrors.CodeInvalidPolicyAmount,
			"invalid fine amount %s for media type %s", amount.StringFixed(2), loan.MediaType)
	}

	existing, err := l.fines.ListFinesByLoan(ctx, loanID)
	if err != nil {
		return models.Fine{}, ActionUnchanged, fmt.Errorf("failed to list fines for loan %s: %w", loanID, err)
	}

	var lastPaid *models.Fine
	for i := range existing {
		fine := existing[i]
		if fine.Paid {
			lastPaid = &existing[i]
			continue
		}
		if fine.Amount.Equal(amount) {
			return l.unchanged(ctx, fine)
		}
		return l.correctAmount(ctx, fine, amount)
	}

	if lastPaid != nil && l.paidFinePolicy == PaidFineKeepClosed {
		l.logger.Info("Overdue loan already settled by a paid fine",
			zap.String("loan_id", loanID),
			zap.String("fine_id", lastPaid.ID),
		)
		return l.unchanged(ctx, *lastPaid)
	}

	fine, err := l.createFine(ctx, patron, models.Fine{
		PatronID: patronID,
		LoanID:   loanID,
		Amount:   amount,
		Reason:   reason,
	})
	if err != nil {
		return models.Fine{}, ActionUnchanged, err
	}
	return fine, ActionCreated, nil
}

// ApplyManualFine charges a patron an arbitrary positive amount
func (l *Ledger) ApplyManualFine(ctx context.Context, patronID string, amount decimal.Decimal, reason string) (models.Fine, error) {
	if patronID == "" {
		return models.Fine{}, apperrors.New(apperrors.CodeInvalidArgument, "patron ID cannot be empty")
	}
	if !amount.IsPositive() {
		return models.Fine{}, apperrors.New(apperrors.CodeInvalidAmount, "fine amount must be positive")
	}

	patron, err := l.patrons.GetPatron(ctx, patronID)
	if err != nil {
		return models.Fine{}, err
	}

	return l.createFine(ctx, patron, models.Fine{
		PatronID: patronID,
		Amount:   amount,
		Reason:   reason,
	})
}

// PayFine applies a payment. Paying more than the remaining balance settles
// the fine and reports the excess as a refund.
func (l *Ledger) PayFine(ctx context.Context, fineID string, amount decimal.Decimal) (models.PaymentResult, error) {
	if fineID == "" {
		return models.PaymentResult{}, apperrors.New(apperrors.CodeInvalidArgument, "fine ID cannot be empty")
	}
	if !amount.IsPositive() {
		return models.PaymentResult{}, apperrors.New(apperrors.CodeInvalidAmount, "payment amount must be positive")
	}

	fine, err := l.fines.GetFine(ctx, fineID)
	if err != nil {
		return models.PaymentResult{}, err
	}
	if fine.Paid {
		return models.PaymentResult{}, apperrors.New(apperrors.CodeAlreadyPaid, "fine %s is already paid", fineID)
	}

	if fine.LoanID != "" {
		loan, err := l.loans.GetLoan(ctx, fine.LoanID)
		switch {
		case err == nil && loan.IsActive():
			return models.PaymentResult{}, apperrors.New(apperrors.CodeLoanNotReturned,
				"cannot pay fine for loan %s because the item is not returned yet", fine.LoanID)
		case err != nil && apperrors.CodeOf(err) != apperrors.CodeLoanNotFound:
			return models.PaymentResult{}, fmt.Errorf("failed to check loan %s: %w", fine.LoanID, err)
		}
	}

	refund := fine.ApplyPayment(amount)
	if err := l.fines.UpdateFine(ctx, fine); err != nil {
		return models.PaymentResult{}, fmt.Errorf("failed to record payment on fine %s: %w", fineID, err)
	}

	result := models.PaymentResult{
		Fine:      fine,
		Applied:   amount.Sub(refund),
		Refund:    refund,
		Remaining: fine.RemainingBalance(),
		FullyPaid: fine.Paid,
	}

	l.logger.Info("Payment applied",
		zap.String("fine_id", fineID),
		zap.String("patron_id", fine.PatronID),
		zap.String("applied", result.Applied.StringFixed(2)),
		zap.String("refund", refund.StringFixed(2)),
		zap.String("remaining", result.Remaining.StringFixed(2)),
	)

	patron, restored, err := l.SyncEligibility(ctx, fine.PatronID)
	if err != nil {
		return result, err
	}
	result.BorrowingRestored = restored

	l.announceSettlement(ctx, patron, fine, restored, "")

	return result, nil
}

// announceSettlement publishes BORROWING_RESTORED before FINE_PAID when both apply
func (l *Ledger) announceSettlement(ctx context.Context, patron models.Patron, fine models.Fine, restored bool, note string) {
	if restored {
		l.notify(ctx, patron, models.EventBorrowingRestored,
			"All fines have been paid. Borrowing privileges restored.", nil)
	}
	if fine.Paid {
		paid := fine
		l.notify(ctx, patron, models.EventFinePaid,
			fmt.Sprintf("Fine %s has been fully paid. Amount: %s%s", fine.ID, models.FormatAmount(fine.Amount), note), &paid)
	}
}

// SyncEligibility recomputes the patron's unpaid total and stores the
// may-borrow flag. restored is true when the flag went from false to true.
func (l *Ledger) SyncEligibility(ctx context.Context, patronID string) (models.Patron, bool, error) {
	patron, err := l.patrons.GetPatron(ctx, patronID)
	if err != nil {
		return models.Patron{}, false, err
	}

	total, err := l.TotalUnpaid(ctx, patronID)
	if err != nil {
		return patron, false, err
	}

	canBorrow := total.IsZero()
	if patron.CanBorrow == canBorrow {
		return patron, false, nil
	}

	patron.CanBorrow = canBorrow
	if err := l.patrons.SavePatron(ctx, patron); err != nil {
		return patron, false, fmt.Errorf("failed to update patron %s: %w", patronID, err)
	}

	if canBorrow {
		l.logger.Info("All fines paid, borrowing restored", zap.String("patron_id", patronID))
	} else {
		l.logger.Info("Borrowing blocked by unpaid fines",
			zap.String("patron_id", patronID),
			zap.String("unpaid", total.StringFixed(2)),
		)
	}
	return patron, canBorrow, nil
}

// Fine returns a single fine by ID
func (l *Ledger) Fine(ctx context.Context, fineID string) (models.Fine, error) {
	return l.fines.GetFine(ctx, fineID)
}

// PatronFines returns every fine of a patron
func (l *Ledger) PatronFines(ctx context.Context, patronID string) ([]models.Fine, error) {
	fines, err := l.fines.ListFinesByPatron(ctx, patronID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fines for patron %s: %w", patronID, err)
	}
	return fines, nil
}

// UnpaidFines returns the patron's open fines
func (l *Ledger) UnpaidFines(ctx context.Context, patronID string) ([]models.Fine, error) {
	fines, err := l.PatronFines(ctx, patronID)
	if err != nil {
		return nil, err
	}

	var unpaid []models.Fine
	for _, f := range fines {
		if !f.Paid {
			unpaid = append(unpaid, f)
		}
	}
	return unpaid, nil
}

// TotalUnpaid sums the remaining balance of the patron's open fines
func (l *Ledger) TotalUnpaid(ctx context.Context, patronID string) (decimal.Decimal, error) {
	unpaid, err := l.UnpaidFines(ctx, patronID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, f := range unpaid {
		total = total.Add(f.RemainingBalance())
	}
	return total, nil
}

// FineForLoan returns the unpaid fine on a loan, if any
func (l *Ledger) FineForLoan(ctx context.Context, loanID string) (models.Fine, bool, error) {
	fines, err := l.fines.ListFinesByLoan(ctx, loanID)
	if err != nil {
		return models.Fine{}, false, fmt.Errorf("failed to list fines for loan %s: %w", loanID, err)
	}
	for _, f := range fines {
		if !f.Paid {
			return f, true, nil
		}
	}
	return models.Fine{}, false, nil
}

// Breakdown groups the patron's unpaid balance by media type
func (l *Ledger) Breakdown(ctx context.Context, patronID string) ([]models.FineBreakdown, error) {
	unpaid, err := l.UnpaidFines(ctx, patronID)
	if err != nil {
		return nil, err
	}

	byType := make(map[models.MediaType]*models.FineBreakdown)
	for _, f := range unpaid {
		mediaType := ManualMediaType
		if f.LoanID != "" {
			if loan, err := l.loans.GetLoan(ctx, f.LoanID); err == nil {
				mediaType = loan.MediaType
			}
		}

		b, ok := byType[mediaType]
		if !ok {
			b = &models.FineBreakdown{MediaType: mediaType, Total: decimal.Zero}
			byType[mediaType] = b
		}
		b.Count++
		b.Total = b.Total.Add(f.RemainingBalance())
	}

	breakdown := make([]models.FineBreakdown, 0, len(byType))
	for _, b := range byType {
		breakdown = append(breakdown, *b)
	}
	sort.Slice(breakdown, func(i, j int) bool {
		return breakdown[i].MediaType < breakdown[j].MediaType
	})
	return breakdown, nil
}

func (l *Ledger) createFine(ctx context.Context, patron models.Patron, fine models.Fine) (models.Fine, error) {
	fine.PaidAmount = decimal.Zero
	fine.CreatedAt = l.now()

	created, err := l.fines.CreateFine(ctx, fine)
	if err != nil {
		return models.Fine{}, fmt.Errorf("failed to create fine: %w", err)
	}

	patron.CanBorrow = false
	if err := l.patrons.SavePatron(ctx, patron); err != nil {
		return created, fmt.Errorf("failed to update patron %s: %w", patron.ID, err)
	}

	l.logger.Info("Fine applied",
		zap.String("fine_id", created.ID),
		zap.String("patron_id", patron.ID),
		zap.String("loan_id", created.LoanID),
		zap.String("amount", created.Amount.StringFixed(2)),
		zap.String("reason", created.Reason),
	)

	notified := created
	l.notify(ctx, patron, models.EventFineApplied,
		fmt.Sprintf("A fine of %s has been applied to your account for: %s", models.FormatAmount(created.Amount), created.Reason),
		&notified)

	return created, nil
}

// correctAmount rewrites an unpaid fine created under an older policy.
// Lowering the amount to or below what was already paid settles the fine:
// the excess is reported as a refund due and the settlement is announced
// like a payment.
func (l *Ledger) correctAmount(ctx context.Context, fine models.Fine, amount decimal.Decimal) (models.Fine, Action, error) {
	previous := fine.Amount
	fine.Amount = amount

	refund := decimal.Zero
	if fine.PaidAmount.GreaterThanOrEqual(fine.Amount) {
		refund = fine.PaidAmount.Sub(fine.Amount)
		fine.PaidAmount = fine.Amount
		fine.Paid = true
	}

	if err := l.fines.UpdateFine(ctx, fine); err != nil {
		return models.Fine{}, ActionUnchanged, fmt.Errorf("failed to update fine %s: %w", fine.ID, err)
	}

	l.logger.Info("Fine amount corrected to current policy",
		zap.String("fine_id", fine.ID),
		zap.String("loan_id", fine.LoanID),
		zap.String("from", previous.StringFixed(2)),
		zap.String("to", amount.StringFixed(2)),
		zap.Bool("settled", fine.Paid),
		zap.String("refund", refund.StringFixed(2)),
	)

	patron, restored, err := l.SyncEligibility(ctx, fine.PatronID)
	if err != nil {
		return fine, ActionCorrected, err
	}

	if fine.Paid {
		note := ""
		if refund.IsPositive() {
			note = fmt.Sprintf(". Refund due: %s", models.FormatAmount(refund))
		}
		l.announceSettlement(ctx, patron, fine, restored, note)
	}
	return fine, ActionCorrected, nil
}

// unchanged still re-syncs the cached flag so a stale value never survives reconciliation
func (l *Ledger) unchanged(ctx context.Context, fine models.Fine) (models.Fine, Action, error) {
	if _, _, err := l.SyncEligibility(ctx, fine.PatronID); err != nil {
		return fine, ActionUnchanged, err
	}
	return fine, ActionUnchanged, nil
}

func (l *Ledger) notify(ctx context.Context, patron models.Patron, eventType models.EventType, message string, fine *models.Fine) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, models.Event{
		Patron:     patron,
		Type:       eventType,
		Message:    message,
		Fine:       fine,
		OccurredAt: l.now(),
	})
}
