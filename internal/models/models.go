package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MediaType tags a catalog item with its kind of physical media
type MediaType string

const (
	MediaBook MediaType = "BOOK"
	MediaCD   MediaType = "CD"
)

// MediaItem represents an item in the library catalog
type MediaItem struct {
	ID        string
	Type      MediaType
	Title     string
	Creator   string
	Available bool
}

// Patron represents a library member account
type Patron struct {
	ID        string
	Name      string
	Email     string
	Active    bool
	CanBorrow bool
	LoanIDs   []string
}

// HoldsLoan reports whether the loan is in the patron's held set
func (p Patron) HoldsLoan(loanID string) bool {
	for _, id := range p.LoanIDs {
		if id == loanID {
			return true
		}
	}
	return false
}

// Loan represents one borrowing of a media item by a patron
type Loan struct {
	ID         string
	PatronID   string
	MediaID    string
	MediaType  MediaType
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Overdue    bool
}

// IsActive reports whether the item has not been returned yet
func (l Loan) IsActive() bool {
	return l.ReturnDate == nil
}

// CheckOverdue recomputes the overdue flag against today.
// A loan due today is not overdue.
func (l *Loan) CheckOverdue(today time.Time) bool {
	l.Overdue = l.ReturnDate == nil && Day(today).After(Day(l.DueDate))
	return l.Overdue
}

// OverdueDays returns how many whole days on is past the due date, or 0
func (l Loan) OverdueDays(on time.Time) int {
	return DaysBetween(l.DueDate, on)
}

// Fine represents a monetary penalty owed by a patron
type Fine struct {
	ID         string
	PatronID   string
	LoanID     string // empty for manually applied fines
	Amount     decimal.Decimal
	PaidAmount decimal.Decimal
	Paid       bool
	Reason     string
	CreatedAt  time.Time
}

// RemainingBalance returns what is still owed on the fine
func (f Fine) RemainingBalance() decimal.Decimal {
	remaining := f.Amount.Sub(f.PaidAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// ApplyPayment adds amount to the paid total and returns the excess over the
// remaining balance. PaidAmount never exceeds Amount.
func (f *Fine) ApplyPayment(amount decimal.Decimal) (refund decimal.Decimal) {
	remaining := f.RemainingBalance()
	refund = decimal.Zero
	if amount.GreaterThan(remaining) {
		refund = amount.Sub(remaining)
		amount = remaining
	}
	f.PaidAmount = f.PaidAmount.Add(amount)
	if f.PaidAmount.GreaterThanOrEqual(f.Amount) {
		f.PaidAmount = f.Amount
		f.Paid = true
	}
	return refund
}

// PaymentResult describes the outcome of a successful payment
type PaymentResult struct {
	Fine              Fine
	Applied           decimal.Decimal
	Refund            decimal.Decimal
	Remaining         decimal.Decimal
	FullyPaid         bool
	BorrowingRestored bool
}

// EventType identifies a lending lifecycle notification
type EventType string

const (
	EventFineApplied       EventType = "FINE_APPLIED"
	EventFinePaid          EventType = "FINE_PAID"
	EventBorrowingRestored EventType = "BORROWING_RESTORED"
)

// Event is published to notification observers
type Event struct {
	Patron     Patron
	Type       EventType
	Message    string
	Fine       *Fine
	OccurredAt time.Time
}

// OverdueSummary aggregates a patron's active and overdue loans
type OverdueSummary struct {
	PatronID      string
	ActiveLoans   int
	OverdueLoans  int
	OverdueByType map[MediaType]int
	MaxDaysLate   int
}

// FineBreakdown is the unpaid fine total for one media type
type FineBreakdown struct {
	MediaType MediaType
	Count     int
	Total     decimal.Decimal
}

// Day truncates t to midnight UTC
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole days from a to b, or 0 when b is not after a
func DaysBetween(a, b time.Time) int {
	days := int(Day(b).Sub(Day(a)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// FormatAmount renders an amount with two decimals
func FormatAmount(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
