package storage

import (
	"context"
	"time"

	"library/internal/models"
)

// Catalog is the media catalog collaborator. The lending engine only ever
// flips availability; everything else is owned by the catalog.
type Catalog interface {
	FindItem(ctx context.Context, id string, mediaType models.MediaType) (models.MediaItem, error)
	SetAvailable(ctx context.Context, id string, available bool) error

	// LoanPeriodDays returns the loan length for a media type (BOOK=28, CD=7, otherwise 28)
	LoanPeriodDays(mediaType models.MediaType) int

	// Harness operations, not used by the engine
	AddItem(ctx context.Context, item models.MediaItem) error
	ListItems(ctx context.Context, mediaType models.MediaType) ([]models.MediaItem, error)
}

// Patrons stores library member accounts
type Patrons interface {
	GetPatron(ctx context.Context, id string) (models.Patron, error)
	SavePatron(ctx context.Context, patron models.Patron) error
	ListPatrons(ctx context.Context) ([]models.Patron, error)
}

// Loans stores loan records. Loans are never deleted.
type Loans interface {
	// CreateLoan assigns the next loan ID and stores the loan
	CreateLoan(ctx context.Context, loan models.Loan) (models.Loan, error)
	GetLoan(ctx context.Context, id string) (models.Loan, error)
	UpdateLoan(ctx context.Context, loan models.Loan) error
	ListLoansByPatron(ctx context.Context, patronID string) ([]models.Loan, error)
	ListActiveLoans(ctx context.Context) ([]models.Loan, error)
}

// Fines stores fine records. Fines are never deleted.
type Fines interface {
	// CreateFine assigns the next fine ID and stores the fine
	CreateFine(ctx context.Context, fine models.Fine) (models.Fine, error)
	GetFine(ctx context.Context, id string) (models.Fine, error)
	UpdateFine(ctx context.Context, fine models.Fine) error
	ListFinesByPatron(ctx context.Context, patronID string) ([]models.Fine, error)

	// ListFinesByLoan returns every fine referencing the loan, oldest first
	ListFinesByLoan(ctx context.Context, loanID string) ([]models.Fine, error)
}

// AuditRecord is one persisted lifecycle event
type AuditRecord struct {
	ID         string
	OccurredAt time.Time
	EventType  string
	PatronID   string
	FineID     string
	Message    string
	Payload    string
}

// AuditLog is an append-only history of lifecycle events
type AuditLog interface {
	AppendEvent(ctx context.Context, record AuditRecord) error

	// GetLastEvents returns the last N records, most recent first
	GetLastEvents(ctx context.Context, limit int) ([]AuditRecord, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
