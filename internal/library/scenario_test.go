package library

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "library/internal/errors"
	"library/internal/fines"
	"library/internal/ledger"
	"library/internal/loans"
	"library/internal/models"
	"library/internal/notify"
	"library/internal/storage/memory"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return day0.AddDate(0, 0, n)
}

type stubMailer struct {
	mu   sync.Mutex
	sent []string
	fail map[string]bool
}

func (m *stubMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail[to] {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, to)
	return nil
}

type testEnv struct {
	db      *memory.DB
	subject *notify.Subject
	events  []models.Event
	mailer  *stubMailer
	svc     *Service
}

func setup(t *testing.T, opts ...ledger.Option) *testEnv {
	t.Helper()

	ctx := context.Background()
	db := memory.NewDB()
	require.NoError(t, memory.Seed(ctx, db))

	env := &testEnv{db: db, mailer: &stubMailer{fail: map[string]bool{}}}

	subject := notify.NewSubject(zap.NewNop())
	env.subject = subject
	subject.Attach(notify.ObserverFunc(func(ctx context.Context, event models.Event) error {
		env.events = append(env.events, event)
		return nil
	}))

	registry := fines.NewDefaultRegistry()
	opts = append([]ledger.Option{ledger.WithClock(func() time.Time { return day0 })}, opts...)
	l := ledger.New(db, db, db, registry, subject, zap.NewNop(), opts...)
	m := loans.NewManager(db, db, db, l, zap.NewNop())
	env.svc = NewService(db, db, registry, l, m, env.mailer, time.Second, zap.NewNop())
	return env
}

func (e *testEnv) patron(t *testing.T, id string) models.Patron {
	t.Helper()

	p, err := e.db.GetPatron(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) eventTypes() []models.EventType {
	var types []models.EventType
	for _, ev := range e.events {
		types = append(types, ev.Type)
	}
	return types
}

const cleanCode = "978-0132350884"

func TestScenarioA_OverdueReconciliationFinesOnce(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	loan, err := env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
	require.NoError(t, err)
	assert.Equal(t, day(28), loan.DueDate)

	changed, err := env.svc.ReconcileOverdue(ctx, "U001", day(35))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "10.00", changed[0].Amount.StringFixed(2))
	assert.Equal(t, loan.ID, changed[0].LoanID)
	assert.False(t, env.patron(t, "U001").CanBorrow)
	assert.Equal(t, []models.EventType{models.EventFineApplied}, env.eventTypes())
}

func TestScenarioB_PaymentRejectedWhileItemOut(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
	require.NoError(t, err)
	changed, err := env.svc.ReconcileOverdue(ctx, "U001", day(35))
	require.NoError(t, err)
	require.Len(t, changed, 1)

	_, err = env.svc.PayFine(ctx, changed[0].ID, decimal.NewFromInt(10), day(35))
	assert.ErrorIs(t, err, apperrors.ErrLoanNotReturned)

	account, err := env.svc.Account(ctx, "U001", day(35))
	require.NoError(t, err)
	require.Len(t, account.Fines, 1)
	assert.True(t, account.Fines[0].PaidAmount.IsZero())
}

func TestScenarioC_ReturnThenPayRestoresBorrowing(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	loan, err := env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
	require.NoError(t, err)
	changed, err := env.svc.ReconcileOverdue(ctx, "U001", day(35))
	require.NoError(t, err)
	require.Len(t, changed, 1)

	result, err := env.svc.Return(ctx, loan.ID, day(35))
	require.NoError(t, err)
	assert.Equal(t, 7, result.OverdueDays)
	require.NotNil(t, result.Fine)
	assert.Equal(t, changed[0].ID, result.Fine.ID)

	account, err := env.svc.Account(ctx, "U001", day(35))
	require.NoError(t, err)
	assert.Len(t, account.Fines, 1)

	payment, err := env.svc.PayFine(ctx, changed[0].ID, decimal.NewFromInt(10), day(35))
	require.NoError(t, err)
	assert.True(t, payment.FullyPaid)
	assert.True(t, payment.Refund.IsZero())
	assert.True(t, payment.BorrowingRestored)
	assert.True(t, env.patron(t, "U001").CanBorrow)

	assert.Equal(t, []models.EventType{
		models.EventFineApplied,
		models.EventBorrowingRestored,
		models.EventFinePaid,
	}, env.eventTypes())
}

func TestScenarioD_OverpaymentIsRefunded(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	loan, err := env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
	require.NoError(t, err)
	result, err := env.svc.Return(ctx, loan.ID, day(30))
	require.NoError(t, err)
	require.NotNil(t, result.Fine)

	payment, err := env.svc.PayFine(ctx, result.Fine.ID, decimal.NewFromInt(15), day(30))
	require.NoError(t, err)
	assert.Equal(t, "5.00", payment.Refund.StringFixed(2))
	assert.Equal(t, "10.00", payment.Applied.StringFixed(2))
	assert.True(t, payment.FullyPaid)
	assert.True(t, payment.Fine.PaidAmount.Equal(payment.Fine.Amount))
}

func TestScenarioE_LateDiscGetsFlatFine(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	loan, err := env.svc.Borrow(ctx, "U002", "CD001", models.MediaCD, day(0))
	require.NoError(t, err)
	assert.Equal(t, day(7), loan.DueDate)

	result, err := env.svc.Return(ctx, loan.ID, day(10))
	require.NoError(t, err)
	assert.Equal(t, 3, result.OverdueDays)
	require.NotNil(t, result.Fine)
	assert.Equal(t, "20.00", result.Fine.Amount.StringFixed(2))
	assert.False(t, env.patron(t, "U002").CanBorrow)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
	require.NoError(t, err)

	for _, d := range []int{30, 31, 45} {
		_, err := env.svc.ReconcileOverdue(ctx, "U001", day(d))
		require.NoError(t, err)
	}

	account, err := env.svc.Account(ctx, "U001", day(45))
	require.NoError(t, err)
	assert.Len(t, account.Fines, 1)
	assert.Equal(t, "10.00", account.TotalUnpaid.StringFixed(2))
}

func TestFlatFineIgnoresDaysLate(t *testing.T) {
	for _, daysLate := range []int{1, 5, 60} {
		env := setup(t)
		ctx := context.Background()

		loan, err := env.svc.Borrow(ctx, "U001", "CD002", models.MediaCD, day(0))
		require.NoError(t, err)
		result, err := env.svc.Return(ctx, loan.ID, day(7+daysLate))
		require.NoError(t, err)
		require.NotNil(t, result.Fine)
		assert.Equal(t, "20.00", result.Fine.Amount.StringFixed(2), "days late %d", daysLate)
	}
}

func TestAtMostOneUnpaidFinePerLoan(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	loan, err := env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
	require.NoError(t, err)

	_, err = env.svc.ReconcileOverdue(ctx, "U001", day(30))
	require.NoError(t, err)
	require.NoError(t, env.svc.RegisterFlatPolicy(models.MediaBook, decimal.NewFromInt(12)))
	_, err = env.svc.ReconcileOverdue(ctx, "U001", day(31))
	require.NoError(t, err)
	_, err = env.svc.Return(ctx, loan.ID, day(32))
	require.NoError(t, err)

	loanFines, err := env.db.ListFinesByLoan(ctx, loan.ID)
	require.NoError(t, err)
	unpaid := 0
	for _, f := range loanFines {
		if !f.Paid {
			unpaid++
		}
	}
	assert.Equal(t, 1, unpaid)
	assert.Equal(t, "12.00", loanFines[0].Amount.StringFixed(2))
}

func TestPayFine_RefundLaw(t *testing.T) {
	tests := []struct {
		name     string
		first    int64
		second   int64
		refund   string
		finalPay string
	}{
		{name: "exact", first: 4, second: 6, refund: "0.00", finalPay: "10.00"},
		{name: "over after partial", first: 4, second: 9, refund: "3.00", finalPay: "10.00"},
		{name: "far over", first: 1, second: 100, refund: "91.00", finalPay: "10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t)
			ctx := context.Background()

			loan, err := env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
			require.NoError(t, err)
			result, err := env.svc.Return(ctx, loan.ID, day(29))
			require.NoError(t, err)

			first, err := env.svc.PayFine(ctx, result.Fine.ID, decimal.NewFromInt(tt.first), day(29))
			require.NoError(t, err)
			assert.False(t, first.FullyPaid)
			assert.False(t, first.BorrowingRestored)

			second, err := env.svc.PayFine(ctx, result.Fine.ID, decimal.NewFromInt(tt.second), day(29))
			require.NoError(t, err)
			assert.Equal(t, tt.refund, second.Refund.StringFixed(2))
			assert.Equal(t, tt.finalPay, second.Fine.PaidAmount.StringFixed(2))
			assert.True(t, second.FullyPaid)
			assert.True(t, second.Remaining.IsZero())

			_, err = env.svc.PayFine(ctx, result.Fine.ID, decimal.NewFromInt(1), day(29))
			assert.ErrorIs(t, err, apperrors.ErrAlreadyPaid)
		})
	}
}

func TestPayFine_DoesNotRestoreWhileOverdueItemOut(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	early, err := env.svc.Borrow(ctx, "U001", "CD001", models.MediaCD, day(0))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
	require.NoError(t, err)

	result, err := env.svc.Return(ctx, early.ID, day(8))
	require.NoError(t, err)
	require.NotNil(t, result.Fine)

	// the book is overdue by day 30 but has never been reconciled
	payment, err := env.svc.PayFine(ctx, result.Fine.ID, decimal.NewFromInt(20), day(30))
	require.NoError(t, err)
	assert.True(t, payment.FullyPaid)
	assert.False(t, payment.BorrowingRestored)
	assert.False(t, env.patron(t, "U001").CanBorrow)

	account, err := env.svc.Account(ctx, "U001", day(30))
	require.NoError(t, err)
	assert.Equal(t, "10.00", account.TotalUnpaid.StringFixed(2))
	assert.Equal(t, 1, account.Summary.OverdueLoans)
}

func TestReconcileAll_FinesEveryOverduePatron(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "U001", "CD001", models.MediaCD, day(0))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "U002", "CD002", models.MediaCD, day(0))
	require.NoError(t, err)

	changed, err := env.svc.ReconcileAll(ctx, day(10))
	require.NoError(t, err)
	require.Len(t, changed, 2)
	assert.Equal(t, "U001", changed[0].PatronID)
	assert.Equal(t, "U002", changed[1].PatronID)

	changed, err = env.svc.ReconcileAll(ctx, day(40))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "10.00", changed[0].Amount.StringFixed(2))

	changed, err = env.svc.ReconcileAll(ctx, day(41))
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestApplyManualFine_BlocksBorrowing(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	fine, err := env.svc.ApplyManualFine(ctx, "U002", decimal.NewFromFloat(2.5), "lost card")
	require.NoError(t, err)
	assert.Empty(t, fine.LoanID)

	_, err = env.svc.Borrow(ctx, "U002", "CD001", models.MediaCD, day(1))
	assert.ErrorIs(t, err, apperrors.ErrNotEligible)

	payment, err := env.svc.PayFine(ctx, fine.ID, decimal.NewFromFloat(2.5), day(1))
	require.NoError(t, err)
	assert.True(t, payment.BorrowingRestored)

	_, err = env.svc.Borrow(ctx, "U002", "CD001", models.MediaCD, day(1))
	assert.NoError(t, err)
}

func TestRegisterFlatPolicy(t *testing.T) {
	env := setup(t)

	err := env.svc.RegisterFlatPolicy(models.MediaBook, decimal.Zero)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPolicyAmount)

	require.NoError(t, env.svc.RegisterFlatPolicy("DVD", decimal.NewFromInt(15)))
	policies := env.svc.Policies()
	assert.Equal(t, "15.00", policies["DVD"].StringFixed(2))
	assert.Equal(t, "10.00", policies[models.MediaBook].StringFixed(2))
}

func TestSetPatronActive(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Borrow(ctx, "U003", "CD001", models.MediaCD, day(0))
	assert.ErrorIs(t, err, apperrors.ErrAccountInactive)

	require.NoError(t, env.svc.SetPatronActive(ctx, "U003", true))
	_, err = env.svc.Borrow(ctx, "U003", "CD001", models.MediaCD, day(0))
	assert.NoError(t, err)

	err = env.svc.SetPatronActive(ctx, "U999", true)
	assert.ErrorIs(t, err, apperrors.ErrPatronNotFound)
}

func TestSendOverdueReminders(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "U001", "CD001", models.MediaCD, day(0))
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, "U002", "CD002", models.MediaCD, day(0))
	require.NoError(t, err)

	bob := env.patron(t, "U002")
	env.mailer.fail[bob.Email] = true

	sent, err := env.svc.SendOverdueReminders(ctx, day(30))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{env.patron(t, "U001").Email}, env.mailer.sent)
}

func TestSendOverdueReminders_NoMailer(t *testing.T) {
	env := setup(t)
	env.svc.mailer = nil

	_, err := env.svc.SendOverdueReminders(context.Background(), day(30))
	assert.Error(t, err)
}

func TestSlowObserverDoesNotHoldServiceLock(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	slow := notify.NewAsyncObserver("slow", notify.ObserverFunc(func(ctx context.Context, event models.Event) error {
		started <- struct{}{}
		<-release
		return nil
	}), time.Minute, 0, zap.NewNop())
	env.subject.Attach(slow)

	loan, err := env.svc.Borrow(ctx, "U001", cleanCode, models.MediaBook, day(0))
	require.NoError(t, err)

	returned := make(chan error, 1)
	go func() {
		_, err := env.svc.Return(ctx, loan.ID, day(35))
		returned <- err
	}()

	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Return blocked behind a notification observer")
	}

	// The observer is still busy with FINE_APPLIED while the service serves reads
	<-started
	queried := make(chan error, 1)
	go func() {
		_, err := env.svc.Account(ctx, "U001", day(35))
		queried <- err
	}()

	select {
	case err := <-queried:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Account blocked behind a notification observer")
	}

	close(release)
	require.NoError(t, slow.Close())
}

func TestPayFine_UnrelatedToLoanWithoutPolicy(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	const dvd = models.MediaType("DVD")
	require.NoError(t, env.db.AddItem(ctx, models.MediaItem{ID: "DVD1", Type: dvd, Title: "Metropolis", Available: true}))

	_, err := env.svc.Borrow(ctx, "U002", "DVD1", dvd, day(0))
	require.NoError(t, err)
	fine, err := env.svc.ApplyManualFine(ctx, "U002", decimal.NewFromInt(3), "damaged case")
	require.NoError(t, err)

	payment, err := env.svc.PayFine(ctx, fine.ID, decimal.NewFromInt(3), day(40))
	require.NoError(t, err)
	assert.True(t, payment.FullyPaid)

	_, err = env.svc.Borrow(ctx, "U002", "CD001", models.MediaCD, day(40))
	assert.ErrorIs(t, err, apperrors.ErrNotEligible)
}
