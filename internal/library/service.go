// Package library is the entry point surrounding code talks to. It serializes
// every mutating lending operation behind one lock, since borrow, return and
// payment all touch shared catalog availability and patron eligibility.
package library

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "library/internal/errors"
	"library/internal/fines"
	"library/internal/ledger"
	"library/internal/loans"
	"library/internal/models"
	"library/internal/notify"
	"library/internal/storage"
)

// Account is a read-only snapshot of a patron's lending state
type Account struct {
	Patron      models.Patron
	ActiveLoans []models.Loan
	Fines       []models.Fine
	Breakdown   []models.FineBreakdown
	TotalUnpaid decimal.Decimal
	Summary     models.OverdueSummary
}

// Service wires the lending engine together
type Service struct {
	mu sync.Mutex

	catalog  storage.Catalog
	patrons  storage.Patrons
	registry *fines.Registry
	ledger   *ledger.Ledger
	loans    *loans.Manager

	mailer      notify.Mailer
	mailTimeout time.Duration
	logger      *zap.Logger
}

// NewService creates the lending service. mailer may be nil, which disables reminders.
func NewService(catalog storage.Catalog, patrons storage.Patrons, registry *fines.Registry, l *ledger.Ledger, m *loans.Manager, mailer notify.Mailer, mailTimeout time.Duration, logger *zap.Logger) *Service {
	if mailTimeout <= 0 {
		mailTimeout = 10 * time.Second
	}
	return &Service{
		catalog:     catalog,
		patrons:     patrons,
		registry:    registry,
		ledger:      l,
		loans:       m,
		mailer:      mailer,
		mailTimeout: mailTimeout,
		logger:      logger,
	}
}

// Borrow lends an item to a patron
func (s *Service) Borrow(ctx context.Context, patronID, mediaID string, mediaType models.MediaType, today time.Time) (models.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loans.Borrow(ctx, patronID, mediaID, mediaType, today)
}

// Return closes a loan, fining late returns
func (s *Service) Return(ctx context.Context, loanID string, today time.Time) (loans.ReturnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loans.ReturnItem(ctx, loanID, today)
}

// ReconcileOverdue runs the overdue fine pass for one patron
func (s *Service) ReconcileOverdue(ctx context.Context, patronID string, today time.Time) ([]models.Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.patrons.GetPatron(ctx, patronID); err != nil {
		return nil, err
	}
	return s.loans.CheckAndApplyOverdueFines(ctx, patronID, today)
}

// ReconcileAll runs the overdue fine pass for every patron with an overdue loan
func (s *Service) ReconcileAll(ctx context.Context, today time.Time) ([]models.Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	overdue, err := s.loans.OverdueLoans(ctx, today)
	if err != nil {
		return nil, err
	}

	var changed []models.Fine
	seen := make(map[string]bool)
	for _, loan := range overdue {
		if seen[loan.PatronID] {
			continue
		}
		seen[loan.PatronID] = true

		reconciled, err := s.loans.CheckAndApplyOverdueFines(ctx, loan.PatronID, today)
		if err != nil {
			s.logger.Error("Overdue reconciliation failed",
				zap.String("patron_id", loan.PatronID),
				zap.Error(err),
			)
			continue
		}
		changed = append(changed, reconciled...)
	}
	return changed, nil
}

// ApplyManualFine charges a patron outside of any loan
func (s *Service) ApplyManualFine(ctx context.Context, patronID string, amount decimal.Decimal, reason string) (models.Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ledger.ApplyManualFine(ctx, patronID, amount, reason)
}

// PayFine pays towards a fine. The patron's overdue loans are reconciled
// first, so settling the last known fine cannot restore borrowing while an
// overdue item is still out.
func (s *Service) PayFine(ctx context.Context, fineID string, amount decimal.Decimal, today time.Time) (models.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fineID == "" {
		return models.PaymentResult{}, apperrors.New(apperrors.CodeInvalidArgument, "fine ID cannot be empty")
	}

	fine, err := s.ledger.Fine(ctx, fineID)
	if err != nil {
		return models.PaymentResult{}, err
	}
	if _, err := s.loans.CheckAndApplyOverdueFines(ctx, fine.PatronID, today); err != nil {
		return models.PaymentResult{}, err
	}

	return s.ledger.PayFine(ctx, fineID, amount)
}

// RegisterFlatPolicy sets the flat overdue fine for a media type
func (s *Service) RegisterFlatPolicy(mediaType models.MediaType, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.New(apperrors.CodeInvalidPolicyAmount, "fine for %s must be positive", mediaType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.Register(mediaType, fines.NewFlatPolicy(mediaType, amount)); err != nil {
		return err
	}
	s.logger.Info("Fine policy registered",
		zap.String("media_type", string(mediaType)),
		zap.String("amount", amount.StringFixed(2)),
	)
	return nil
}

// MediaTypes lists the media types that have a fine policy, sorted
func (s *Service) MediaTypes() []models.MediaType {
	return s.registry.Types()
}

// Policies lists the registered media types with their flat fines
func (s *Service) Policies() map[models.MediaType]decimal.Decimal {
	policies := make(map[models.MediaType]decimal.Decimal)
	for _, t := range s.registry.Types() {
		if amount, err := s.registry.FlatFine(t); err == nil {
			policies[t] = amount
		}
	}
	return policies
}

// SetPatronActive activates or deactivates a patron account
func (s *Service) SetPatronActive(ctx context.Context, patronID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	patron, err := s.patrons.GetPatron(ctx, patronID)
	if err != nil {
		return err
	}
	patron.Active = active
	if err := s.patrons.SavePatron(ctx, patron); err != nil {
		return fmt.Errorf("failed to update patron %s: %w", patronID, err)
	}
	return nil
}

// Account returns a consistent snapshot of the patron's loans and fines
func (s *Service) Account(ctx context.Context, patronID string, today time.Time) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patron, err := s.patrons.GetPatron(ctx, patronID)
	if err != nil {
		return Account{}, err
	}

	account := Account{Patron: patron}
	if account.ActiveLoans, err = s.loans.ActiveLoans(ctx, patronID, today); err != nil {
		return Account{}, err
	}
	if account.Fines, err = s.ledger.PatronFines(ctx, patronID); err != nil {
		return Account{}, err
	}
	if account.Breakdown, err = s.ledger.Breakdown(ctx, patronID); err != nil {
		return Account{}, err
	}
	if account.TotalUnpaid, err = s.ledger.TotalUnpaid(ctx, patronID); err != nil {
		return Account{}, err
	}
	if account.Summary, err = s.loans.OverdueSummary(ctx, patronID, today); err != nil {
		return Account{}, err
	}
	return account, nil
}

// OverdueLoans lists every overdue loan as of today
func (s *Service) OverdueLoans(ctx context.Context, today time.Time) ([]models.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loans.OverdueLoans(ctx, today)
}

// Catalog lists catalog items of a media type, all items when empty
func (s *Service) Catalog(ctx context.Context, mediaType models.MediaType) ([]models.MediaItem, error) {
	return s.catalog.ListItems(ctx, mediaType)
}
