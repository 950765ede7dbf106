package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/pkg/kafka"
	"github.com/daleelbalady/payment-engine/pkg/logger"
	"github.com/daleelbalady/payment-engine/pkg/retry"
)

const (
	paymentEventsTopic = "payment-events"
	securityAlertTopic = "payment-security-alerts"

	eventPaymentCompleted = "payment.completed"
	eventAnomalyDetected  = "payment.anomaly_detected"
)

// Notifier emits fire-and-forget events after state transitions. Delivery
// failures are logged and swallowed so they never roll back payment state.
type Notifier interface {
	PaymentCompleted(ctx context.Context, payment *domain.PaymentIntent)
	AnomalyDetected(ctx context.Context, userID string, signals []domain.AnomalySignal)
}

// PaymentCompletedEvent is the wire format published on completion.
type PaymentCompletedEvent struct {
	EventID    string          `json:"event_id"`
	PaymentRef string          `json:"payment_ref"`
	UserID     string          `json:"user_id"`
	ServiceID  string          `json:"service_id,omitempty"`
	Amount     float64         `json:"amount"`
	Currency   string          `json:"currency"`
	Provider   domain.Provider `json:"provider"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// AnomalyEvent is published when a payment attempt trips a high-severity
// anomaly signal.
type AnomalyEvent struct {
	EventID   string                 `json:"event_id"`
	UserID    string                 `json:"user_id"`
	Signals   []domain.AnomalySignal `json:"signals"`
	Timestamp time.Time              `json:"timestamp"`
}

// KafkaNotifier publishes events through the shared producer. An event
// the primary topic refuses lands on its dead-letter topic so operators
// can replay it; only when that fails too is the event dropped.
type KafkaNotifier struct {
	producer *kafka.Producer
	dlq      retry.DLQPublisher
	log      *logger.Logger
}

// NewKafkaNotifier creates a notifier backed by Kafka.
func NewKafkaNotifier(producer *kafka.Producer, log *logger.Logger) *KafkaNotifier {
	dlq := retry.NewKafkaDLQPublisher(
		&retry.KafkaProducerAdapter{Producer: producer},
		&retry.DLQConfig{TopicSuffix: ".dlq", Source: "payment-engine"},
	)
	return &KafkaNotifier{producer: producer, dlq: dlq, log: log}
}

func (n *KafkaNotifier) publish(ctx context.Context, topic, key string, event any, headers map[string]string) {
	err := n.producer.ProduceJSON(ctx, topic, key, event, headers)
	if err == nil {
		return
	}
	n.log.Warn("failed to publish event, routing to dead letter topic",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Error(err))

	payload, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		return
	}
	dlqErr := n.dlq.PublishToDLQ(ctx, &retry.DLQMessage{
		ID:            uuid.New().String(),
		OriginalTopic: topic,
		OriginalKey:   key,
		Payload:       payload,
		Headers:       headers,
		Error:         err.Error(),
		Attempts:      1,
	})
	if dlqErr != nil {
		n.log.Error("event lost, dead letter publish failed",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(dlqErr))
	}
}

// PaymentCompleted implements Notifier.
func (n *KafkaNotifier) PaymentCompleted(ctx context.Context, payment *domain.PaymentIntent) {
	event := PaymentCompletedEvent{
		EventID:    uuid.New().String(),
		PaymentRef: payment.PaymentRef,
		UserID:     payment.UserID,
		ServiceID:  payment.ServiceID,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		Provider:   payment.Provider,
		PaidAt:     payment.PaidAt,
		Timestamp:  time.Now().UTC(),
	}

	headers := map[string]string{
		"event_type": eventPaymentCompleted,
		"source":     "payment-engine",
	}
	n.publish(ctx, paymentEventsTopic, payment.PaymentRef, event, headers)
}

// AnomalyDetected implements Notifier.
func (n *KafkaNotifier) AnomalyDetected(ctx context.Context, userID string, signals []domain.AnomalySignal) {
	event := AnomalyEvent{
		EventID:   uuid.New().String(),
		UserID:    userID,
		Signals:   signals,
		Timestamp: time.Now().UTC(),
	}

	headers := map[string]string{
		"event_type": eventAnomalyDetected,
		"source":     "payment-engine",
	}
	n.publish(ctx, securityAlertTopic, userID, event, headers)
}

// NoopNotifier discards everything. Used in tests and when Kafka is
// disabled.
type NoopNotifier struct{}

// PaymentCompleted implements Notifier.
func (NoopNotifier) PaymentCompleted(context.Context, *domain.PaymentIntent) {}

// AnomalyDetected implements Notifier.
func (NoopNotifier) AnomalyDetected(context.Context, string, []domain.AnomalySignal) {}

// RecordingNotifier captures events for assertions. Test helper, safe for
// concurrent use.
type RecordingNotifier struct {
	mu        sync.Mutex
	completed []string
	anomalies []string
}

// PaymentCompleted implements Notifier.
func (r *RecordingNotifier) PaymentCompleted(_ context.Context, payment *domain.PaymentIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, payment.PaymentRef)
}

// AnomalyDetected implements Notifier.
func (r *RecordingNotifier) AnomalyDetected(_ context.Context, userID string, _ []domain.AnomalySignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, userID)
}

// Completed returns the payment refs notified so far.
func (r *RecordingNotifier) Completed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.completed))
	copy(out, r.completed)
	return out
}

// Anomalies returns the user ids alerted so far.
func (r *RecordingNotifier) Anomalies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.anomalies))
	copy(out, r.anomalies)
	return out
}
