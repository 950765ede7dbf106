package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/internal/metrics"
	"github.com/daleelbalady/payment-engine/internal/notify"
	"github.com/daleelbalady/payment-engine/internal/provider"
	"github.com/daleelbalady/payment-engine/internal/repository"
	"github.com/daleelbalady/payment-engine/internal/security"
	"github.com/daleelbalady/payment-engine/pkg/logger"
	"github.com/daleelbalady/payment-engine/pkg/retry"
	"github.com/daleelbalady/payment-engine/pkg/telemetry"
)

const (
	reportDefaultWindow = 30 * 24 * time.Hour
	amountEpsilon       = 1e-9
)

// Config tunes the payment service.
type Config struct {
	// VerifyRetry bounds retries of the idempotent provider status call.
	// Provider create calls are never retried.
	VerifyRetry *retry.Config
}

// DefaultConfig returns conservative service defaults.
func DefaultConfig() *Config {
	return &Config{
		VerifyRetry: &retry.Config{
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	}
}

type paymentServiceImpl struct {
	payments  repository.PaymentRepository
	refunds   repository.RefundRepository
	ledger    repository.LedgerRepository
	registry  *provider.Registry
	minter    *security.RefMinter
	encryptor *security.Encryptor
	limiter   *security.RateLimiter
	anomalies *security.AnomalyDetector
	notifier  notify.Notifier
	log       *logger.Logger
	config    *Config

	// refundLocks serializes refunds per payment ref so concurrent
	// requests cannot both see the same refundable balance.
	refundMu    sync.Mutex
	refundLocks map[string]*sync.Mutex
}

// NewPaymentService wires the transaction engine.
func NewPaymentService(
	payments repository.PaymentRepository,
	refunds repository.RefundRepository,
	ledger repository.LedgerRepository,
	registry *provider.Registry,
	minter *security.RefMinter,
	encryptor *security.Encryptor,
	limiter *security.RateLimiter,
	anomalies *security.AnomalyDetector,
	notifier notify.Notifier,
	log *logger.Logger,
	config *Config,
) PaymentService {
	if config == nil {
		config = DefaultConfig()
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &paymentServiceImpl{
		payments:    payments,
		refunds:     refunds,
		ledger:      ledger,
		registry:    registry,
		minter:      minter,
		encryptor:   encryptor,
		limiter:     limiter,
		anomalies:   anomalies,
		notifier:    notifier,
		log:         log,
		config:      config,
		refundLocks: make(map[string]*sync.Mutex),
	}
}

// CreateIntent implements PaymentService.
func (s *paymentServiceImpl) CreateIntent(ctx context.Context, req *CreateIntentRequest) (*CreateIntentResult, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	ctx, span := telemetry.StartSpan(ctx, "payments.create_intent")
	defer span.End()

	// Input validation comes first; a malformed request must not burn
	// rate-limit budget or reach the anomaly detector.
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !domain.KnownCurrencies[req.Currency] {
		return nil, domain.ErrInvalidCurrency
	}
	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	limitKey := req.UserID
	if limitKey == "" {
		limitKey = req.ClientIP
	}
	if retryAfter, err := s.limiter.Allow(ctx, limitKey); err != nil {
		metrics.RecordRateLimitHit(ctx)
		s.log.Warn("payment attempt rate limited",
			zap.String("user_id", req.UserID),
			zap.Duration("retry_after", retryAfter))
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	signals := s.anomalies.Observe(security.Attempt{
		UserID:      req.UserID,
		Fingerprint: req.Fingerprint,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		HasLocation: req.HasLocation,
		At:          time.Now().UTC(),
	})
	for _, signal := range signals {
		metrics.RecordAnomaly(ctx, string(signal.Type), string(signal.Severity))
	}
	if security.MaxSeverity(signals) == domain.SeverityHigh {
		s.notifier.AnomalyDetected(ctx, req.UserID, signals)
	}

	if req.ServiceID != "" {
		paid, err := s.payments.HasCompleted(ctx, req.UserID, req.ServiceID)
		if err != nil {
			return nil, fmt.Errorf("failed to check prior payments: %w", err)
		}
		if paid {
			return nil, domain.ErrAlreadyPaid
		}
	}

	paymentRef, err := s.minter.Mint()
	if err != nil {
		return nil, fmt.Errorf("failed to mint payment ref: %w", err)
	}

	intent, err := domain.NewPaymentIntent(paymentRef, req.UserID, req.ServiceID, req.Amount, req.Currency, req.Provider)
	if err != nil {
		return nil, err
	}
	if req.Metadata != nil {
		intent.Metadata = req.Metadata
	}
	intent.DeviceFingerprint = req.Fingerprint

	if err := s.payments.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to persist intent: %w", err)
	}

	// A provider create is not idempotent, so it is never retried. On
	// failure the intent is finished as FAILED and the caller must open a
	// fresh one.
	createStart := time.Now()
	created, err := adapter.CreatePayment(ctx, intent)
	metrics.RecordProviderCall(ctx, string(intent.Provider), "create", time.Since(createStart).Seconds())
	if err != nil {
		telemetry.SetSpanError(ctx, err)
		s.log.Warn("provider create failed",
			zap.String("payment_ref", intent.PaymentRef),
			zap.String("provider", string(intent.Provider)),
			zap.Error(err))
		if failErr := intent.Fail(err.Error()); failErr == nil {
			if casErr := s.payments.FinishCAS(ctx, intent); casErr != nil {
				s.log.Error("failed to record create failure",
					zap.String("payment_ref", intent.PaymentRef),
					zap.Error(casErr))
			}
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrCreationFailed, err)
	}

	sealed, err := s.encryptor.Encrypt(created.OpaquePayload)
	if err != nil {
		return nil, fmt.Errorf("failed to seal provider payload: %w", err)
	}
	if err := intent.Initiate(created.ProviderPaymentID, sealed); err != nil {
		return nil, err
	}
	if err := s.payments.MarkInitiated(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to mark intent initiated: %w", err)
	}

	metrics.RecordIntentCreated(ctx, string(intent.Provider), intent.Currency, intent.Amount)
	s.log.Info("payment intent created",
		zap.String("payment_ref", intent.PaymentRef),
		zap.String("provider", string(intent.Provider)),
		zap.Float64("amount", intent.Amount),
		zap.String("currency", intent.Currency))

	return &CreateIntentResult{
		Payment:    intent,
		PaymentURL: created.PaymentURL,
		Signals:    signals,
	}, nil
}

// VerifyStatus implements PaymentService.
func (s *paymentServiceImpl) VerifyStatus(ctx context.Context, paymentRef string, caller Caller) (*VerifyResult, error) {
	if err := s.minter.Validate(paymentRef); err != nil {
		return nil, err
	}

	intent, err := s.payments.GetByRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	if intent.UserID != caller.UserID && !caller.Elevated() {
		return nil, domain.ErrForbidden
	}

	now := time.Now().UTC()
	if intent.IsFinal() || intent.IsExpired(now) {
		return &VerifyResult{
			Payment:         intent,
			EffectiveStatus: intent.EffectiveStatus(now),
		}, nil
	}

	adapter, err := s.registry.Get(intent.Provider)
	if err != nil {
		return nil, err
	}

	// The provider status call is idempotent, so it is safe to retry with
	// backoff. A provider that stays unreachable degrades to the last
	// known local state rather than an error.
	var status *provider.StatusResult
	result := retry.Do(ctx, s.config.VerifyRetry, func(ctx context.Context) error {
		attemptStart := time.Now()
		var verifyErr error
		status, verifyErr = adapter.VerifyStatus(ctx, intent)
		metrics.RecordProviderCall(ctx, string(intent.Provider), "verify", time.Since(attemptStart).Seconds())
		return verifyErr
	})
	if result.Err != nil {
		s.log.Warn("provider status check unavailable",
			zap.String("payment_ref", intent.PaymentRef),
			zap.String("provider", string(intent.Provider)),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.LastError))
		return &VerifyResult{
			Payment:             intent,
			EffectiveStatus:     intent.EffectiveStatus(now),
			ProviderUnavailable: true,
		}, nil
	}

	switch status.Status {
	case domain.PaymentStatusCompleted:
		if err := s.applyCompletion(ctx, intent, status.ProviderTransactionID, status.PaidAt); err != nil {
			return nil, err
		}
	case domain.PaymentStatusFailed:
		if err := s.applyFailure(ctx, intent, "provider reported failure"); err != nil {
			return nil, err
		}
	}

	fresh, err := s.payments.GetByRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		Payment:         fresh,
		EffectiveStatus: fresh.EffectiveStatus(time.Now().UTC()),
		ProviderChecked: true,
	}, nil
}

// Refund implements PaymentService.
func (s *paymentServiceImpl) Refund(ctx context.Context, req *RefundRequest) (*domain.Refund, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	ctx, span := telemetry.StartSpan(ctx, "payments.refund")
	defer span.End()
	if err := s.minter.Validate(req.PaymentRef); err != nil {
		return nil, err
	}

	lock := s.refundLock(req.PaymentRef)
	lock.Lock()
	defer lock.Unlock()

	payment, err := s.payments.GetByRef(ctx, req.PaymentRef)
	if err != nil {
		return nil, err
	}
	if payment.UserID != req.Caller.UserID && !req.Caller.Elevated() {
		return nil, domain.ErrForbidden
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return nil, domain.ErrNotEligible
	}
	if !req.Caller.Elevated() && payment.PaidAt != nil &&
		time.Now().UTC().After(payment.PaidAt.Add(domain.SelfServeRefundWindow)) {
		return nil, domain.ErrRefundWindowExpired
	}

	refunded, err := s.refunds.SumCompleted(ctx, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum refunds: %w", err)
	}
	remaining := payment.Amount - refunded
	if remaining <= amountEpsilon {
		// An explicit amount against an exhausted balance exceeds it;
		// asking for "the rest" when nothing is left is an eligibility
		// problem.
		if req.Amount > 0 {
			return nil, domain.ErrInvalidRefundAmount
		}
		return nil, domain.ErrNotEligible
	}

	amount := req.Amount
	if amount == 0 {
		amount = remaining
	}
	if amount-remaining > amountEpsilon {
		return nil, domain.ErrInvalidRefundAmount
	}

	refund, err := domain.NewRefund(payment, amount, req.Reason, req.Caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.refunds.Create(ctx, refund); err != nil {
		return nil, fmt.Errorf("failed to persist refund: %w", err)
	}

	adapter, err := s.registry.Get(payment.Provider)
	if err != nil {
		return nil, err
	}

	refundStart := time.Now()
	result, err := adapter.Refund(ctx, payment, amount)
	metrics.RecordProviderCall(ctx, string(payment.Provider), "refund", time.Since(refundStart).Seconds())
	if err != nil {
		// The parent payment stays COMPLETED no matter how the refund
		// attempt ends.
		if failErr := refund.Fail(err.Error()); failErr == nil {
			if updErr := s.refunds.Update(ctx, refund); updErr != nil {
				s.log.Error("failed to record refund failure",
					zap.String("payment_ref", payment.PaymentRef),
					zap.Error(updErr))
			}
		}
		metrics.RecordRefund(ctx, string(payment.Provider), false)
		s.log.Warn("refund failed at provider",
			zap.String("payment_ref", payment.PaymentRef),
			zap.String("provider", string(payment.Provider)),
			zap.Error(err))
		return nil, err
	}

	if err := refund.Complete(result.ProviderRefundID); err != nil {
		return nil, err
	}
	if err := s.refunds.Update(ctx, refund); err != nil {
		return nil, fmt.Errorf("failed to persist refund result: %w", err)
	}

	metrics.RecordRefund(ctx, string(payment.Provider), true)
	s.log.Info("refund completed",
		zap.String("payment_ref", payment.PaymentRef),
		zap.Float64("amount", amount))
	return refund, nil
}

// History implements PaymentService.
func (s *paymentServiceImpl) History(ctx context.Context, userID string, limit, offset int) ([]*HistoryItem, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	intents, err := s.payments.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(intents))
	for _, p := range intents {
		ids = append(ids, p.ID)
	}
	refunded := map[string]float64{}
	if len(ids) > 0 {
		refunded, err = s.refunds.SumCompletedByPayment(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to sum refunds: %w", err)
		}
	}

	now := time.Now().UTC()
	items := make([]*HistoryItem, 0, len(intents))
	for _, p := range intents {
		items = append(items, &HistoryItem{
			Payment:         p,
			EffectiveStatus: p.EffectiveStatus(now),
			RefundedAmount:  refunded[p.ID],
		})
	}
	return items, nil
}

// Report implements PaymentService.
func (s *paymentServiceImpl) Report(ctx context.Context, filter repository.ReportFilter) (*Report, error) {
	now := time.Now().UTC()
	if filter.To.IsZero() {
		filter.To = now
	}
	if filter.From.IsZero() {
		filter.From = filter.To.Add(-reportDefaultWindow)
	}

	intents, err := s.payments.ListForReport(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &Report{
		From:         filter.From,
		To:           filter.To,
		StatusCounts: make(map[domain.PaymentStatus]int),
		ByProvider:   make(map[domain.Provider]ProviderStats),
	}

	var completedIDs []string
	completedByProvider := make(map[domain.Provider]int)

	for _, p := range intents {
		report.TotalCount++
		report.TotalAmount += p.Amount
		report.StatusCounts[p.EffectiveStatus(now)]++

		stats := report.ByProvider[p.Provider]
		stats.Count++
		if p.Status == domain.PaymentStatusCompleted {
			report.CompletedAmount += p.Amount
			stats.Amount += p.Amount
			completedByProvider[p.Provider]++
			completedIDs = append(completedIDs, p.ID)
		}
		report.ByProvider[p.Provider] = stats
	}

	// Success rate is completed over everything the provider saw, so
	// still-open intents drag it down until they settle.
	for name, stats := range report.ByProvider {
		if stats.Count > 0 {
			stats.SuccessRate = float64(completedByProvider[name]) / float64(stats.Count)
		}
		report.ByProvider[name] = stats
	}

	if len(completedIDs) > 0 {
		sums, err := s.refunds.SumCompletedByPayment(ctx, completedIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to sum refunds: %w", err)
		}
		for _, total := range sums {
			report.RefundedAmount += total
		}
	}

	return report, nil
}

// ApplySuccess implements PaymentService.
func (s *paymentServiceImpl) ApplySuccess(ctx context.Context, event ProviderEvent) error {
	intent, err := s.resolveIntent(ctx, event)
	if err != nil {
		return err
	}
	return s.applyCompletion(ctx, intent, event.ProviderTransactionID, event.PaidAt)
}

// ApplyFailure implements PaymentService.
func (s *paymentServiceImpl) ApplyFailure(ctx context.Context, event ProviderEvent) error {
	intent, err := s.resolveIntent(ctx, event)
	if err != nil {
		return err
	}
	return s.applyFailure(ctx, intent, event.Reason)
}

// RecordDispute implements PaymentService.
func (s *paymentServiceImpl) RecordDispute(ctx context.Context, event DisputeEvent) error {
	intent, err := s.resolveIntent(ctx, ProviderEvent{
		PaymentRef:        event.PaymentRef,
		ProviderPaymentID: event.ProviderPaymentID,
	})
	if err != nil {
		return err
	}

	amount := event.Amount
	if amount == 0 {
		amount = intent.Amount
	}
	dispute := domain.NewDispute(intent.PaymentRef, intent.Provider, event.ProviderDisputeID, amount, event.Reason)
	if err := s.ledger.AppendDispute(ctx, dispute); err != nil {
		return fmt.Errorf("failed to record dispute: %w", err)
	}

	s.log.Warn("chargeback dispute recorded",
		zap.String("payment_ref", intent.PaymentRef),
		zap.String("provider", string(intent.Provider)),
		zap.Float64("amount", amount))
	return nil
}

func (s *paymentServiceImpl) resolveIntent(ctx context.Context, event ProviderEvent) (*domain.PaymentIntent, error) {
	if event.PaymentRef != "" {
		return s.payments.GetByRef(ctx, event.PaymentRef)
	}
	if event.ProviderPaymentID != "" {
		return s.payments.GetByProviderPaymentID(ctx, event.ProviderPaymentID)
	}
	return nil, domain.ErrPaymentNotFound
}

// applyCompletion is the single routine through which every completion
// flows: webhook, reconciliation and verification all converge here. The
// CAS write guarantees the ledger entry and the notification happen at
// most once per payment.
func (s *paymentServiceImpl) applyCompletion(ctx context.Context, intent *domain.PaymentIntent, providerTransactionID string, paidAt *time.Time) error {
	if intent.IsFinal() {
		if intent.Status != domain.PaymentStatusCompleted {
			s.log.Warn("success event for failed payment ignored",
				zap.String("payment_ref", intent.PaymentRef))
		}
		return nil
	}

	if err := intent.Complete(providerTransactionID); err != nil {
		return err
	}
	if paidAt != nil {
		intent.PaidAt = paidAt
	}

	if err := s.payments.FinishCAS(ctx, intent); err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			// A concurrent writer finished first. Re-read and treat a
			// matching outcome as success.
			fresh, readErr := s.payments.GetByRef(ctx, intent.PaymentRef)
			if readErr != nil {
				return readErr
			}
			*intent = *fresh
			if intent.Status == domain.PaymentStatusCompleted {
				return nil
			}
			return err
		}
		return fmt.Errorf("failed to persist completion: %w", err)
	}

	if err := s.ledger.AppendEntry(ctx, domain.NewLedgerEntry(intent)); err != nil {
		// The payment is already COMPLETED. Surface the gap loudly rather
		// than unwinding the transition.
		s.log.Error("failed to append ledger entry",
			zap.String("payment_ref", intent.PaymentRef),
			zap.Error(err))
	}
	s.notifier.PaymentCompleted(ctx, intent)

	metrics.RecordIntentCompleted(ctx, string(intent.Provider), intent.Currency)
	s.log.Info("payment completed",
		zap.String("payment_ref", intent.PaymentRef),
		zap.String("provider", string(intent.Provider)),
		zap.Float64("amount", intent.Amount))
	return nil
}

// applyFailure mirrors applyCompletion for the FAILED branch. Failure
// events arriving after any terminal state are no-ops.
func (s *paymentServiceImpl) applyFailure(ctx context.Context, intent *domain.PaymentIntent, reason string) error {
	if intent.IsFinal() {
		if intent.Status == domain.PaymentStatusCompleted {
			s.log.Warn("failure event for completed payment ignored",
				zap.String("payment_ref", intent.PaymentRef))
		}
		return nil
	}
	if reason == "" {
		reason = "provider reported failure"
	}

	if err := intent.Fail(reason); err != nil {
		return err
	}
	if err := s.payments.FinishCAS(ctx, intent); err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			fresh, readErr := s.payments.GetByRef(ctx, intent.PaymentRef)
			if readErr != nil {
				return readErr
			}
			*intent = *fresh
			if intent.IsFinal() {
				return nil
			}
			return err
		}
		return fmt.Errorf("failed to persist failure: %w", err)
	}

	metrics.RecordIntentFailed(ctx, string(intent.Provider), reason)
	s.log.Info("payment failed",
		zap.String("payment_ref", intent.PaymentRef),
		zap.String("reason", reason))
	return nil
}

func (s *paymentServiceImpl) refundLock(paymentRef string) *sync.Mutex {
	s.refundMu.Lock()
	defer s.refundMu.Unlock()
	lock, ok := s.refundLocks[paymentRef]
	if !ok {
		lock = &sync.Mutex{}
		s.refundLocks[paymentRef] = lock
	}
	return lock
}
