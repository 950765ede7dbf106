package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/internal/notify"
	"github.com/daleelbalady/payment-engine/internal/provider"
	"github.com/daleelbalady/payment-engine/internal/repository"
	"github.com/daleelbalady/payment-engine/internal/security"
	"github.com/daleelbalady/payment-engine/pkg/logger"
	"github.com/daleelbalady/payment-engine/pkg/retry"
)

type fixture struct {
	svc      PaymentService
	payments *repository.MemoryPaymentRepository
	refunds  *repository.MemoryRefundRepository
	ledger   *repository.MemoryLedgerRepository
	adapter  *provider.MockAdapter
	notifier *notify.RecordingNotifier
	minter   *security.RefMinter
}

type fixtureOpts struct {
	rateLimit int64
	adapters  []provider.Adapter
	mock      *provider.MockConfig
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	if opts.rateLimit == 0 {
		opts.rateLimit = 1000
	}
	adapter := provider.NewMockAdapter(opts.mock)
	adapters := opts.adapters
	if adapters == nil {
		adapters = []provider.Adapter{adapter}
	}

	encryptor, err := security.NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	f := &fixture{
		payments: repository.NewMemoryPaymentRepository(),
		refunds:  repository.NewMemoryRefundRepository(),
		ledger:   repository.NewMemoryLedgerRepository(),
		adapter:  adapter,
		notifier: &notify.RecordingNotifier{},
		minter:   security.NewRefMinter([]byte("test-ref-secret")),
	}
	f.svc = NewPaymentService(
		f.payments,
		f.refunds,
		f.ledger,
		provider.NewRegistry(adapters...),
		f.minter,
		encryptor,
		security.NewRateLimiter(security.NewMemoryCounter(), opts.rateLimit, time.Hour),
		security.NewAnomalyDetector(),
		f.notifier,
		logger.NewNop(),
		&Config{VerifyRetry: &retry.Config{MaxRetries: 1, InitialInterval: time.Millisecond}},
	)
	return f
}

func createRequest(userID, serviceID string, amount float64) *CreateIntentRequest {
	return &CreateIntentRequest{
		UserID:    userID,
		ServiceID: serviceID,
		Amount:    amount,
		Currency:  "EGP",
		Provider:  domain.ProviderMock,
		ClientIP:  "203.0.113.9",
	}
}

func (f *fixture) completedPayment(t *testing.T, userID string, amount float64) *domain.PaymentIntent {
	t.Helper()
	ctx := context.Background()

	created, err := f.svc.CreateIntent(ctx, createRequest(userID, "", amount))
	require.NoError(t, err)
	f.adapter.Settle(created.Payment.ProviderPaymentID)

	require.NoError(t, f.svc.ApplySuccess(ctx, ProviderEvent{
		ProviderPaymentID: created.Payment.ProviderPaymentID,
	}))

	payment, err := f.payments.GetByRef(ctx, created.Payment.PaymentRef)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusCompleted, payment.Status)
	return payment
}

func TestCreateIntentInvalidAmountNotPersisted(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	_, err := f.svc.CreateIntent(context.Background(), createRequest("user-1", "svc-1", -5))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Zero(t, f.payments.Count())
}

func TestCreateIntentLifecycle(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	res, err := f.svc.CreateIntent(context.Background(), createRequest("user-1", "svc-1", 250.50))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusInitiated, res.Payment.Status)
	assert.NotEmpty(t, res.Payment.ProviderPaymentID)
	assert.NotEmpty(t, res.PaymentURL)
	assert.NoError(t, f.minter.Validate(res.Payment.PaymentRef))

	stored, err := f.payments.GetByRef(context.Background(), res.Payment.PaymentRef)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusInitiated, stored.Status)
	assert.NotEmpty(t, stored.EncryptedProviderPayload)
	assert.NotContains(t, stored.EncryptedProviderPayload, "mock_payment_id")
}

func TestCreateIntentRefsAreUnique(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		res, err := f.svc.CreateIntent(context.Background(), createRequest("user-1", "", 10))
		require.NoError(t, err)
		assert.False(t, seen[res.Payment.PaymentRef])
		seen[res.Payment.PaymentRef] = true
	}
}

func TestCreateIntentAlreadyPaid(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	created, err := f.svc.CreateIntent(ctx, createRequest("user-1", "svc-1", 100))
	require.NoError(t, err)
	f.adapter.Settle(created.Payment.ProviderPaymentID)
	require.NoError(t, f.svc.ApplySuccess(ctx, ProviderEvent{ProviderPaymentID: created.Payment.ProviderPaymentID}))

	_, err = f.svc.CreateIntent(ctx, createRequest("user-1", "svc-1", 100))
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)

	// A different user may still pay for the same service.
	_, err = f.svc.CreateIntent(ctx, createRequest("user-2", "svc-1", 100))
	assert.NoError(t, err)
}

func TestCreateIntentProviderRejection(t *testing.T) {
	f := newFixture(t, fixtureOpts{mock: &provider.MockConfig{SuccessRate: 0, SupportsRefund: true}})

	_, err := f.svc.CreateIntent(context.Background(), createRequest("user-1", "", 100))
	assert.ErrorIs(t, err, domain.ErrCreationFailed)

	// The intent is finished as FAILED, not left dangling.
	require.Equal(t, 1, f.payments.Count())
	items, err := f.svc.History(context.Background(), "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.PaymentStatusFailed, items[0].Payment.Status)
}

func TestCreateIntentRateLimited(t *testing.T) {
	f := newFixture(t, fixtureOpts{rateLimit: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.CreateIntent(ctx, createRequest("user-1", "", 10))
		require.NoError(t, err)
	}

	_, err := f.svc.CreateIntent(ctx, createRequest("user-1", "", 10))
	require.ErrorIs(t, err, domain.ErrRateLimited)

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))

	// Another key is unaffected.
	_, err = f.svc.CreateIntent(ctx, createRequest("user-2", "", 10))
	assert.NoError(t, err)
}

func TestCreateIntentMalformedRequestKeepsRateLimitBudget(t *testing.T) {
	f := newFixture(t, fixtureOpts{rateLimit: 1})
	ctx := context.Background()

	bad := createRequest("user-1", "", 10)
	bad.Currency = "XYZ"
	_, err := f.svc.CreateIntent(ctx, bad)
	require.ErrorIs(t, err, domain.ErrInvalidCurrency)

	bad = createRequest("user-1", "", -1)
	_, err = f.svc.CreateIntent(ctx, bad)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	// Malformed attempts must not have consumed the single slot.
	_, err = f.svc.CreateIntent(ctx, createRequest("user-1", "", 10))
	assert.NoError(t, err)
}

func TestVerifyStatusCompletesPayment(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	caller := Caller{UserID: "user-1", Role: RoleUser}

	created, err := f.svc.CreateIntent(ctx, createRequest("user-1", "", 100))
	require.NoError(t, err)
	f.adapter.Settle(created.Payment.ProviderPaymentID)

	res, err := f.svc.VerifyStatus(ctx, created.Payment.PaymentRef, caller)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, res.Payment.Status)
	assert.True(t, res.ProviderChecked)
	assert.NotNil(t, res.Payment.PaidAt)

	// Verifying a terminal payment answers locally and adds nothing.
	res, err = f.svc.VerifyStatus(ctx, created.Payment.PaymentRef, caller)
	require.NoError(t, err)
	assert.False(t, res.ProviderChecked)
	assert.Len(t, f.ledger.Entries(), 1)
	assert.Len(t, f.notifier.Completed(), 1)
}

func TestVerifyStatusOwnership(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	created, err := f.svc.CreateIntent(ctx, createRequest("user-1", "", 100))
	require.NoError(t, err)

	_, err = f.svc.VerifyStatus(ctx, created.Payment.PaymentRef, Caller{UserID: "user-2", Role: RoleUser})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.VerifyStatus(ctx, created.Payment.PaymentRef, Caller{UserID: "admin-1", Role: RoleAdmin})
	assert.NoError(t, err)
}

func TestVerifyStatusInvalidRef(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	_, err := f.svc.VerifyStatus(context.Background(), "PAY-FORGED-REF-0000", Caller{UserID: "user-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentRef)
}

// flakyAdapter creates payments fine but never answers status checks.
type flakyAdapter struct {
	*provider.MockAdapter
}

func (a *flakyAdapter) VerifyStatus(context.Context, *domain.PaymentIntent) (*provider.StatusResult, error) {
	return nil, fmt.Errorf("provider unreachable")
}

func TestVerifyStatusProviderUnavailable(t *testing.T) {
	mock := provider.NewMockAdapter(nil)
	f := newFixture(t, fixtureOpts{adapters: []provider.Adapter{&flakyAdapter{MockAdapter: mock}}})
	ctx := context.Background()

	created, err := f.svc.CreateIntent(ctx, createRequest("user-1", "", 100))
	require.NoError(t, err)

	res, err := f.svc.VerifyStatus(ctx, created.Payment.PaymentRef, Caller{UserID: "user-1", Role: RoleUser})
	require.NoError(t, err)
	assert.True(t, res.ProviderUnavailable)
	assert.Equal(t, domain.PaymentStatusInitiated, res.Payment.Status)
}

func TestVerifyStatusDerivedExpiry(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	ref, err := f.minter.Mint()
	require.NoError(t, err)
	intent, err := domain.NewPaymentIntent(ref, "user-1", "", 100, "EGP", domain.ProviderMock)
	require.NoError(t, err)
	intent.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.payments.Create(ctx, intent))

	res, err := f.svc.VerifyStatus(ctx, ref, Caller{UserID: "user-1", Role: RoleUser})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusExpired, res.EffectiveStatus)
	assert.False(t, res.ProviderChecked)

	// The stored row keeps its real status.
	stored, err := f.payments.GetByRef(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, stored.Status)
}

func TestApplySuccessReplayIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	created, err := f.svc.CreateIntent(ctx, createRequest("user-1", "", 100))
	require.NoError(t, err)
	event := ProviderEvent{
		ProviderPaymentID:     created.Payment.ProviderPaymentID,
		ProviderTransactionID: "txn-1",
	}

	require.NoError(t, f.svc.ApplySuccess(ctx, event))
	require.NoError(t, f.svc.ApplySuccess(ctx, event))
	require.NoError(t, f.svc.ApplySuccess(ctx, event))

	assert.Len(t, f.ledger.Entries(), 1)
	assert.Len(t, f.notifier.Completed(), 1)
}

func TestApplyFailureAfterCompletionIsNoOp(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	payment := f.completedPayment(t, "user-1", 100)

	require.NoError(t, f.svc.ApplyFailure(ctx, ProviderEvent{PaymentRef: payment.PaymentRef, Reason: "late decline"}))

	stored, err := f.payments.GetByRef(ctx, payment.PaymentRef)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status)
	assert.Empty(t, stored.ErrorMessage)
}

func TestConcurrentCompletionWritesOneLedgerEntry(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	created, err := f.svc.CreateIntent(ctx, createRequest("user-1", "", 100))
	require.NoError(t, err)
	event := ProviderEvent{ProviderPaymentID: created.Payment.ProviderPaymentID, ProviderTransactionID: "txn-1"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.ApplySuccess(ctx, event)
		}()
	}
	wg.Wait()

	assert.Len(t, f.ledger.Entries(), 1)
	assert.Len(t, f.notifier.Completed(), 1)
}

func TestRefundPartialThenExhausted(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	payment := f.completedPayment(t, "user-1", 100)
	caller := Caller{UserID: "user-1", Role: RoleUser}

	first, err := f.svc.Refund(ctx, &RefundRequest{PaymentRef: payment.PaymentRef, Caller: caller, Amount: 30})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, first.Status)

	// Exceeding the remaining balance is rejected.
	_, err = f.svc.Refund(ctx, &RefundRequest{PaymentRef: payment.PaymentRef, Caller: caller, Amount: 80})
	assert.ErrorIs(t, err, domain.ErrInvalidRefundAmount)

	// Zero amount means the full remaining balance.
	second, err := f.svc.Refund(ctx, &RefundRequest{PaymentRef: payment.PaymentRef, Caller: caller})
	require.NoError(t, err)
	assert.InDelta(t, 70, second.Amount, 1e-9)

	// An explicit amount against an exhausted balance exceeds it.
	_, err = f.svc.Refund(ctx, &RefundRequest{PaymentRef: payment.PaymentRef, Caller: caller, Amount: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidRefundAmount)

	// Asking for the remainder when nothing is left is an eligibility problem.
	_, err = f.svc.Refund(ctx, &RefundRequest{PaymentRef: payment.PaymentRef, Caller: caller})
	assert.ErrorIs(t, err, domain.ErrNotEligible)

	total, err := f.refunds.SumCompleted(ctx, payment.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100, total, 1e-9)
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	created, err := f.svc.CreateIntent(ctx, createRequest("user-1", "", 100))
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, &RefundRequest{
		PaymentRef: created.Payment.PaymentRef,
		Caller:     Caller{UserID: "user-1", Role: RoleUser},
		Amount:     50,
	})
	assert.ErrorIs(t, err, domain.ErrNotEligible)
}

func TestRefundWindowEnforcement(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	ref, err := f.minter.Mint()
	require.NoError(t, err)
	intent, err := domain.NewPaymentIntent(ref, "user-1", "", 100, "EGP", domain.ProviderMock)
	require.NoError(t, err)
	require.NoError(t, intent.Initiate("mock_pay_old", "sealed"))
	require.NoError(t, intent.Complete("txn-old"))
	paidAt := time.Now().UTC().Add(-25 * time.Hour)
	intent.PaidAt = &paidAt
	require.NoError(t, f.payments.Create(ctx, intent))

	_, err = f.svc.Refund(ctx, &RefundRequest{PaymentRef: ref, Caller: Caller{UserID: "user-1", Role: RoleUser}, Amount: 50})
	assert.ErrorIs(t, err, domain.ErrRefundWindowExpired)

	// Elevated roles are not bound by the self-service window.
	refund, err := f.svc.Refund(ctx, &RefundRequest{PaymentRef: ref, Caller: Caller{UserID: "fin-1", Role: RoleFinancialAdmin}, Amount: 50})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, refund.Status)
}

func TestRefundUnsupportedProvider(t *testing.T) {
	f := newFixture(t, fixtureOpts{mock: &provider.MockConfig{SuccessRate: 1.0, SupportsRefund: false}})
	ctx := context.Background()
	payment := f.completedPayment(t, "user-1", 100)

	_, err := f.svc.Refund(ctx, &RefundRequest{
		PaymentRef: payment.PaymentRef,
		Caller:     Caller{UserID: "user-1", Role: RoleUser},
		Amount:     50,
	})
	assert.ErrorIs(t, err, domain.ErrRefundUnsupported)

	// The failed attempt never reverts the parent payment.
	stored, err := f.payments.GetByRef(ctx, payment.PaymentRef)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status)

	total, err := f.refunds.SumCompleted(ctx, payment.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestConcurrentRefundsNeverExceedBalance(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	payment := f.completedPayment(t, "user-1", 100)
	caller := Caller{UserID: "user-1", Role: RoleUser}

	var wg sync.WaitGroup
	outcomes := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refund(ctx, &RefundRequest{PaymentRef: payment.PaymentRef, Caller: caller, Amount: 60})
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	var succeeded, rejected int
	for err := range outcomes {
		if err == nil {
			succeeded++
		} else if errors.Is(err, domain.ErrInvalidRefundAmount) {
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	total, err := f.refunds.SumCompleted(ctx, payment.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, total, payment.Amount)
}

func TestRecordDispute(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	payment := f.completedPayment(t, "user-1", 100)

	require.NoError(t, f.svc.RecordDispute(ctx, DisputeEvent{
		PaymentRef:        payment.PaymentRef,
		ProviderDisputeID: "dp_1",
		Reason:            "fraudulent",
	}))

	disputes := f.ledger.Disputes()
	require.Len(t, disputes, 1)
	assert.Equal(t, payment.PaymentRef, disputes[0].PaymentRef)
	assert.Equal(t, domain.DisputeStatusOpen, disputes[0].Status)
	assert.InDelta(t, 100, disputes[0].Amount, 1e-9)

	// Disputes never touch the payment itself.
	stored, err := f.payments.GetByRef(ctx, payment.PaymentRef)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status)
}

func TestHistoryIncludesRefundTotals(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	payment := f.completedPayment(t, "user-1", 100)

	_, err := f.svc.Refund(ctx, &RefundRequest{
		PaymentRef: payment.PaymentRef,
		Caller:     Caller{UserID: "user-1", Role: RoleUser},
		Amount:     40,
	})
	require.NoError(t, err)

	items, err := f.svc.History(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.PaymentStatusCompleted, items[0].EffectiveStatus)
	assert.InDelta(t, 40, items[0].RefundedAmount, 1e-9)

	other, err := f.svc.History(ctx, "user-2", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestReportEmptyWindow(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	report, err := f.svc.Report(context.Background(), repository.ReportFilter{})
	require.NoError(t, err)
	assert.Zero(t, report.TotalCount)
	assert.Zero(t, report.TotalAmount)
	assert.Zero(t, report.RefundedAmount)
	assert.Empty(t, report.ByProvider)
}

func TestReportAggregates(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	completed := f.completedPayment(t, "user-1", 100)
	_, err := f.svc.Refund(ctx, &RefundRequest{
		PaymentRef: completed.PaymentRef,
		Caller:     Caller{UserID: "user-1", Role: RoleUser},
		Amount:     25,
	})
	require.NoError(t, err)

	failed, err := f.svc.CreateIntent(ctx, createRequest("user-2", "", 50))
	require.NoError(t, err)
	require.NoError(t, f.svc.ApplyFailure(ctx, ProviderEvent{PaymentRef: failed.Payment.PaymentRef, Reason: "declined"}))

	pending, err := f.svc.CreateIntent(ctx, createRequest("user-3", "", 75))
	require.NoError(t, err)
	_ = pending

	report, err := f.svc.Report(ctx, repository.ReportFilter{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalCount)
	assert.InDelta(t, 225, report.TotalAmount, 1e-9)
	assert.InDelta(t, 100, report.CompletedAmount, 1e-9)
	assert.InDelta(t, 25, report.RefundedAmount, 1e-9)
	assert.Equal(t, 1, report.StatusCounts[domain.PaymentStatusCompleted])
	assert.Equal(t, 1, report.StatusCounts[domain.PaymentStatusFailed])
	assert.Equal(t, 1, report.StatusCounts[domain.PaymentStatusInitiated])

	stats := report.ByProvider[domain.ProviderMock]
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 100, stats.Amount, 1e-9)
	assert.InDelta(t, 1.0/3.0, stats.SuccessRate, 1e-9)
}

func TestReportSuccessRateCountsOpenIntents(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	f.completedPayment(t, "user-1", 100)

	failed, err := f.svc.CreateIntent(ctx, createRequest("user-2", "", 50))
	require.NoError(t, err)
	require.NoError(t, f.svc.ApplyFailure(ctx, ProviderEvent{PaymentRef: failed.Payment.PaymentRef, Reason: "declined"}))

	_, err = f.svc.CreateIntent(ctx, createRequest("user-3", "", 75))
	require.NoError(t, err)

	report, err := f.svc.Report(ctx, repository.ReportFilter{})
	require.NoError(t, err)

	// One completed out of three the provider saw; the still-open intent
	// drags the rate down until it settles.
	stats := report.ByProvider[domain.ProviderMock]
	require.Equal(t, 3, stats.Count)
	assert.InDelta(t, 1.0/3.0, stats.SuccessRate, 1e-9)
}
