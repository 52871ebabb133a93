package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "library/internal/errors"
	"library/internal/models"
)

// DB is an in-memory implementation of the lending repositories.
// It satisfies storage.Catalog, storage.Patrons, storage.Loans and storage.Fines.
type DB struct {
	mu       sync.RWMutex
	items    map[string]models.MediaItem
	patrons  map[string]models.Patron
	loans    map[string]models.Loan
	fines    map[string]models.Fine
	loanSeq  int
	fineSeq  int
	loanKeys []string // insertion order
	fineKeys []string // insertion order
}

// NewDB creates an empty in-memory database
func NewDB() *DB {
	return &DB{
		items:   make(map[string]models.MediaItem),
		patrons: make(map[string]models.Patron),
		loans:   make(map[string]models.Loan),
		fines:   make(map[string]models.Fine),
	}
}

// FindItem returns the catalog item with the given id and type
func (m *DB) FindItem(ctx context.Context, id string, mediaType models.MediaType) (models.MediaItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok || item.Type != mediaType {
		return models.MediaItem{}, apperrors.New(apperrors.CodeMediaNotFound, "%s not found with ID: %s", mediaType, id)
	}
	return item, nil
}

// SetAvailable flips the availability flag of a catalog item
func (m *DB) SetAvailable(ctx context.Context, id string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return apperrors.New(apperrors.CodeMediaNotFound, "media not found with ID: %s", id)
	}
	item.Available = available
	m.items[id] = item
	return nil
}

// LoanPeriodDays returns the loan length for a media type
func (m *DB) LoanPeriodDays(mediaType models.MediaType) int {
	switch mediaType {
	case models.MediaCD:
		return 7
	default:
		return 28
	}
}

// AddItem inserts or replaces a catalog item
func (m *DB) AddItem(ctx context.Context, item models.MediaItem) error {
	if item.ID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "media ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[item.ID] = item
	return nil
}

// ListItems returns catalog items of a type sorted by title; empty type lists all
func (m *DB) ListItems(ctx context.Context, mediaType models.MediaType) ([]models.MediaItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []models.MediaItem
	for _, item := range m.items {
		if mediaType == "" || item.Type == mediaType {
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Title < items[j].Title
	})

	return items, nil
}

// GetPatron returns a copy of the patron account
func (m *DB) GetPatron(ctx context.Context, id string) (models.Patron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	patron, ok := m.patrons[id]
	if !ok {
		return models.Patron{}, apperrors.New(apperrors.CodePatronNotFound, "patron not found with ID: %s", id)
	}
	return clonePatron(patron), nil
}

// SavePatron inserts or replaces a patron account
func (m *DB) SavePatron(ctx context.Context, patron models.Patron) error {
	if patron.ID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "patron ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.patrons[patron.ID] = clonePatron(patron)
	return nil
}

// ListPatrons returns all patrons sorted by ID
func (m *DB) ListPatrons(ctx context.Context) ([]models.Patron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var patrons []models.Patron
	for _, p := range m.patrons {
		patrons = append(patrons, clonePatron(p))
	}

	sort.Slice(patrons, func(i, j int) bool {
		return patrons[i].ID < patrons[j].ID
	})

	return patrons, nil
}

// CreateLoan assigns the next loan ID and stores the loan
func (m *DB) CreateLoan(ctx context.Context, loan models.Loan) (models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loanSeq++
	loan.ID = fmt.Sprintf("L%04d", m.loanSeq)
	m.loans[loan.ID] = cloneLoan(loan)
	m.loanKeys = append(m.loanKeys, loan.ID)
	return cloneLoan(loan), nil
}

// GetLoan returns a copy of the loan
func (m *DB) GetLoan(ctx context.Context, id string) (models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[id]
	if !ok {
		return models.Loan{}, apperrors.New(apperrors.CodeLoanNotFound, "loan not found with ID: %s", id)
	}
	return cloneLoan(loan), nil
}

// UpdateLoan replaces an existing loan
func (m *DB) UpdateLoan(ctx context.Context, loan models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loans[loan.ID]; !ok {
		return apperrors.New(apperrors.CodeLoanNotFound, "loan not found with ID: %s", loan.ID)
	}
	m.loans[loan.ID] = cloneLoan(loan)
	return nil
}

// ListLoansByPatron returns the patron's loans in creation order
func (m *DB) ListLoansByPatron(ctx context.Context, patronID string) ([]models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var loans []models.Loan
	for _, id := range m.loanKeys {
		if loan := m.loans[id]; loan.PatronID == patronID {
			loans = append(loans, cloneLoan(loan))
		}
	}
	return loans, nil
}

// ListActiveLoans returns every unreturned loan in creation order
func (m *DB) ListActiveLoans(ctx context.Context) ([]models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var loans []models.Loan
	for _, id := range m.loanKeys {
		if loan := m.loans[id]; loan.IsActive() {
			loans = append(loans, cloneLoan(loan))
		}
	}
	return loans, nil
}

// CreateFine assigns the next fine ID and stores the fine
func (m *DB) CreateFine(ctx context.Context, fine models.Fine) (models.Fine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fineSeq++
	fine.ID = fmt.Sprintf("F%04d", m.fineSeq)
	m.fines[fine.ID] = fine
	m.fineKeys = append(m.fineKeys, fine.ID)
	return fine, nil
}

// GetFine returns the fine with the given ID
func (m *DB) GetFine(ctx context.Context, id string) (models.Fine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fine, ok := m.fines[id]
	if !ok {
		return models.Fine{}, apperrors.New(apperrors.CodeFineNotFound, "fine not found with ID: %s", id)
	}
	return fine, nil
}

// UpdateFine replaces an existing fine
func (m *DB) UpdateFine(ctx context.Context, fine models.Fine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.fines[fine.ID]; !ok {
		return apperrors.New(apperrors.CodeFineNotFound, "fine not found with ID: %s", fine.ID)
	}
	m.fines[fine.ID] = fine
	return nil
}

// ListFinesByPatron returns the patron's fines in creation order
func (m *DB) ListFinesByPatron(ctx context.Context, patronID string) ([]models.Fine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fines []models.Fine
	for _, id := range m.fineKeys {
		if fine := m.fines[id]; fine.PatronID == patronID {
			fines = append(fines, fine)
		}
	}
	return fines, nil
}

// ListFinesByLoan returns every fine referencing the loan, oldest first
func (m *DB) ListFinesByLoan(ctx context.Context, loanID string) ([]models.Fine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fines []models.Fine
	if loanID == "" {
		return fines, nil
	}
	for _, id := range m.fineKeys {
		if fine := m.fines[id]; fine.LoanID == loanID {
			fines = append(fines, fine)
		}
	}
	return fines, nil
}

func clonePatron(p models.Patron) models.Patron {
	p.LoanIDs = append([]string(nil), p.LoanIDs...)
	return p
}

func cloneLoan(l models.Loan) models.Loan {
	if l.ReturnDate != nil {
		rd := *l.ReturnDate
		l.ReturnDate = &rd
	}
	return l
}
