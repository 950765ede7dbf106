package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/daleelbalady/payment-engine/pkg/telemetry"
)

var (
	// Intent counters
	IntentsCreated   *telemetry.Counter
	IntentsCompleted *telemetry.Counter
	IntentsFailed    *telemetry.Counter

	// Refund counters
	RefundsCompleted *telemetry.Counter
	RefundsFailed    *telemetry.Counter

	// Webhook counters
	WebhooksReceived *telemetry.Counter
	WebhooksRejected *telemetry.Counter

	// Security counters
	RateLimitHits     *telemetry.Counter
	AnomaliesDetected *telemetry.Counter

	// Histograms
	ProviderCallDuration *telemetry.Histogram
	PaymentAmount        *telemetry.Histogram
	RequestDuration      *telemetry.Histogram

	// Gauges
	OpenIntents *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all payment engine metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	IntentsCreated, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_intents_created_total",
		Description: "Total number of payment intents created",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	IntentsCompleted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_intents_completed_total",
		Description: "Total number of payment intents completed",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	IntentsFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_intents_failed_total",
		Description: "Total number of payment intents that ended FAILED",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	RefundsCompleted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_refunds_completed_total",
		Description: "Total number of refunds settled by providers",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	RefundsFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_refunds_failed_total",
		Description: "Total number of refunds rejected by providers",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	WebhooksReceived, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_webhooks_received_total",
		Description: "Total number of webhooks received",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	WebhooksRejected, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_webhooks_rejected_total",
		Description: "Total number of webhooks rejected at signature verification",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	RateLimitHits, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_rate_limit_hits_total",
		Description: "Total number of creation attempts rejected by rate limiting",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	AnomaliesDetected, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_anomalies_detected_total",
		Description: "Total number of anomaly signals raised on payment attempts",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ProviderCallDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "payment_provider_call_duration_seconds",
		Description: "Duration of provider API calls",
		Unit:        "s",
	}, []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15})
	if err != nil {
		return err
	}

	PaymentAmount, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "payment_amount",
		Description: "Payment amounts distribution",
		Unit:        "EGP",
	}, []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 50000})
	if err != nil {
		return err
	}

	RequestDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "payment_request_duration_seconds",
		Description: "HTTP request duration in seconds",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	OpenIntents, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "payment_intents_open",
		Description: "Current number of non-terminal payment intents",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordIntentCreated records an intent creation metric
func RecordIntentCreated(ctx context.Context, provider, currency string, amount float64) {
	if IntentsCreated != nil {
		IntentsCreated.Inc(ctx,
			attribute.String("provider", provider),
			attribute.String("currency", currency),
		)
	}
	if PaymentAmount != nil {
		PaymentAmount.Record(ctx, amount,
			attribute.String("currency", currency),
		)
	}
	if OpenIntents != nil {
		OpenIntents.Inc(ctx)
	}
}

// RecordIntentCompleted records a completed payment metric
func RecordIntentCompleted(ctx context.Context, provider, currency string) {
	if IntentsCompleted != nil {
		IntentsCompleted.Inc(ctx,
			attribute.String("provider", provider),
			attribute.String("currency", currency),
		)
	}
	if OpenIntents != nil {
		OpenIntents.Dec(ctx)
	}
}

// RecordIntentFailed records a failed payment metric
func RecordIntentFailed(ctx context.Context, provider, reason string) {
	if IntentsFailed != nil {
		IntentsFailed.Inc(ctx,
			attribute.String("provider", provider),
			attribute.String("reason", reason),
		)
	}
	if OpenIntents != nil {
		OpenIntents.Dec(ctx)
	}
}

// RecordRefund records a refund outcome metric
func RecordRefund(ctx context.Context, provider string, completed bool) {
	if completed {
		if RefundsCompleted != nil {
			RefundsCompleted.Inc(ctx, attribute.String("provider", provider))
		}
		return
	}
	if RefundsFailed != nil {
		RefundsFailed.Inc(ctx, attribute.String("provider", provider))
	}
}

// RecordWebhookReceived records a webhook receipt metric
func RecordWebhookReceived(ctx context.Context, provider, eventType string) {
	if WebhooksReceived != nil {
		WebhooksReceived.Inc(ctx,
			attribute.String("provider", provider),
			attribute.String("event_type", eventType),
		)
	}
}

// RecordWebhookRejected records a webhook signature rejection metric
func RecordWebhookRejected(ctx context.Context, provider string) {
	if WebhooksRejected != nil {
		WebhooksRejected.Inc(ctx, attribute.String("provider", provider))
	}
}

// RecordRateLimitHit records a rejected creation attempt
func RecordRateLimitHit(ctx context.Context) {
	if RateLimitHits != nil {
		RateLimitHits.Inc(ctx)
	}
}

// RecordAnomaly records an anomaly signal by type and severity
func RecordAnomaly(ctx context.Context, anomalyType, severity string) {
	if AnomaliesDetected != nil {
		AnomaliesDetected.Inc(ctx,
			attribute.String("type", anomalyType),
			attribute.String("severity", severity),
		)
	}
}

// RecordProviderCall records a provider API call duration
func RecordProviderCall(ctx context.Context, provider, operation string, durationSeconds float64) {
	if ProviderCallDuration != nil {
		ProviderCallDuration.Record(ctx, durationSeconds,
			attribute.String("provider", provider),
			attribute.String("operation", operation),
		)
	}
}

// RecordRequestDuration records HTTP request duration
func RecordRequestDuration(ctx context.Context, operation string, durationSeconds float64) {
	if RequestDuration != nil {
		RequestDuration.Record(ctx, durationSeconds,
			attribute.String("operation", operation),
		)
	}
}
