package eligibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "library/internal/errors"
	"library/internal/models"
)

func TestEvaluate(t *testing.T) {
	returned := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	overdue := models.Loan{ID: "L0001", Overdue: true}
	current := models.Loan{ID: "L0002"}
	returnedOverdue := models.Loan{ID: "L0003", Overdue: true, ReturnDate: &returned}

	testCases := []struct {
		name    string
		input   Input
		allowed bool
		reason  Reason
	}{
		{"clean account", Input{Active: true, CanBorrow: true, Loans: []models.Loan{current}}, true, ReasonNone},
		{"inactive", Input{Active: false, CanBorrow: true}, false, ReasonAccountInactive},
		{"inactive wins over fines", Input{Active: false, CanBorrow: false}, false, ReasonAccountInactive},
		{"unpaid fines", Input{Active: true, CanBorrow: false}, false, ReasonUnpaidFines},
		{"overdue item with fines paid", Input{Active: true, CanBorrow: true, Loans: []models.Loan{current, overdue}}, false, ReasonOverdueItemsOutstanding},
		{"returned loans are ignored", Input{Active: true, CanBorrow: true, Loans: []models.Loan{returnedOverdue}}, true, ReasonNone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(tc.input)
			assert.Equal(t, tc.allowed, d.Allowed)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestDecision_Err(t *testing.T) {
	assert.NoError(t, Decision{Allowed: true}.Err())
	assert.ErrorIs(t, Decision{Reason: ReasonAccountInactive}.Err(), apperrors.ErrAccountInactive)
	assert.ErrorIs(t, Decision{Reason: ReasonUnpaidFines}.Err(), apperrors.ErrNotEligible)
	assert.ErrorIs(t, Decision{Reason: ReasonOverdueItemsOutstanding}.Err(), apperrors.ErrNotEligible)
}
