// Package eligibility decides whether a patron may start a new borrow.
package eligibility

import (
	apperrors "library/internal/errors"
	"library/internal/models"
)

// Reason names why borrowing was denied
type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonAccountInactive         Reason = "AccountInactive"
	ReasonUnpaidFines             Reason = "UnpaidFines"
	ReasonOverdueItemsOutstanding Reason = "OverdueItemsOutstanding"
)

// Input is the account state the gate looks at
type Input struct {
	Active    bool
	CanBorrow bool
	// Loans currently held; the Overdue flag must already be recomputed
	Loans []models.Loan
}

// Decision is the gate outcome
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Evaluate applies the borrowing rules in diagnostic order. Each denial
// condition is sufficient on its own.
func Evaluate(in Input) Decision {
	if !in.Active {
		return Decision{Reason: ReasonAccountInactive}
	}
	if !in.CanBorrow {
		return Decision{Reason: ReasonUnpaidFines}
	}
	for _, loan := range in.Loans {
		if loan.IsActive() && loan.Overdue {
			return Decision{Reason: ReasonOverdueItemsOutstanding}
		}
	}
	return Decision{Allowed: true}
}

// Err converts a denial into an engine error, nil when allowed
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonNone:
		return nil
	case ReasonAccountInactive:
		return apperrors.New(apperrors.CodeAccountInactive, "user account is not active")
	case ReasonUnpaidFines:
		return apperrors.New(apperrors.CodeNotEligible, "cannot borrow: unpaid fines must be paid first")
	default:
		return apperrors.New(apperrors.CodeNotEligible, "cannot borrow: overdue items must be returned first")
	}
}
