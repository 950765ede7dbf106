package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDefaultDLQConfig(t *testing.T) {
	config := DefaultDLQConfig()

	if config.TopicSuffix != ".dlq" {
		t.Errorf("TopicSuffix = %s, want .dlq", config.TopicSuffix)
	}

	if config.Source != "unknown" {
		t.Errorf("Source = %s, want unknown", config.Source)
	}
}

func TestDLQMessage_JSON(t *testing.T) {
	now := time.Now()
	msg := &DLQMessage{
		ID:            "msg-123",
		OriginalTopic: "payment-events",
		OriginalKey:   "PAY-REF-456",
		Payload:       json.RawMessage(`{"test": "data"}`),
		Headers: map[string]string{
			"event_type": "payment.completed",
		},
		Error:        "kafka connection failed",
		Attempts:     3,
		MovedToDLQAt: now,
		Source:       "payment-engine",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal DLQMessage: %v", err)
	}

	var decoded DLQMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal DLQMessage: %v", err)
	}

	if decoded.ID != msg.ID {
		t.Errorf("ID = %s, want %s", decoded.ID, msg.ID)
	}

	if decoded.OriginalTopic != msg.OriginalTopic {
		t.Errorf("OriginalTopic = %s, want %s", decoded.OriginalTopic, msg.OriginalTopic)
	}

	if decoded.Error != msg.Error {
		t.Errorf("Error = %s, want %s", decoded.Error, msg.Error)
	}

	if decoded.Attempts != msg.Attempts {
		t.Errorf("Attempts = %d, want %d", decoded.Attempts, msg.Attempts)
	}
}

// MockKafkaPublisher is a mock Kafka publisher for testing
type MockKafkaPublisher struct {
	PublishedMessages []struct {
		Topic   string
		Key     string
		Data    interface{}
		Headers map[string]string
	}
	ShouldFail bool
}

func (m *MockKafkaPublisher) PublishJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	if m.ShouldFail {
		return errors.New("mock publish failed")
	}

	m.PublishedMessages = append(m.PublishedMessages, struct {
		Topic   string
		Key     string
		Data    interface{}
		Headers map[string]string
	}{
		Topic:   topic,
		Key:     key,
		Data:    data,
		Headers: headers,
	})

	return nil
}

func TestKafkaDLQPublisher_GetDLQTopic(t *testing.T) {
	tests := []struct {
		name          string
		originalTopic string
		suffix        string
		expected      string
	}{
		{
			name:          "default suffix",
			originalTopic: "payment-events",
			suffix:        ".dlq",
			expected:      "payment-events.dlq",
		},
		{
			name:          "custom suffix",
			originalTopic: "payment-events",
			suffix:        "-dead-letter",
			expected:      "payment-events-dead-letter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &DLQConfig{
				TopicSuffix: tt.suffix,
			}

			publisher := NewKafkaDLQPublisher(&MockKafkaPublisher{}, config)
			got := publisher.GetDLQTopic(tt.originalTopic)

			if got != tt.expected {
				t.Errorf("GetDLQTopic(%s) = %s, want %s", tt.originalTopic, got, tt.expected)
			}
		})
	}
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	mock := &MockKafkaPublisher{}
	config := &DLQConfig{
		TopicSuffix: ".dlq",
		Source:      "test-service",
	}

	publisher := NewKafkaDLQPublisher(mock, config)

	msg := &DLQMessage{
		ID:            "msg-123",
		OriginalTopic: "payment-events",
		OriginalKey:   "PAY-REF-456",
		Payload:       json.RawMessage(`{"payment_ref": "PAY-REF-456"}`),
		Headers: map[string]string{
			"event_type": "payment.completed",
		},
		Error:    "kafka connection failed",
		Attempts: 3,
	}

	err := publisher.PublishToDLQ(context.Background(), msg)
	if err != nil {
		t.Fatalf("PublishToDLQ failed: %v", err)
	}

	if len(mock.PublishedMessages) != 1 {
		t.Fatalf("Expected 1 published message, got %d", len(mock.PublishedMessages))
	}

	published := mock.PublishedMessages[0]

	if published.Topic != "payment-events.dlq" {
		t.Errorf("Topic = %s, want payment-events.dlq", published.Topic)
	}

	if published.Key != "PAY-REF-456" {
		t.Errorf("Key = %s, want PAY-REF-456", published.Key)
	}

	// Check headers
	if published.Headers["original_topic"] != "payment-events" {
		t.Errorf("Header original_topic = %s, want payment-events", published.Headers["original_topic"])
	}

	if published.Headers["error"] != "kafka connection failed" {
		t.Errorf("Header error = %s, want 'kafka connection failed'", published.Headers["error"])
	}

	if published.Headers["attempts"] != "3" {
		t.Errorf("Header attempts = %s, want 3", published.Headers["attempts"])
	}

	if published.Headers["source"] != "test-service" {
		t.Errorf("Header source = %s, want test-service", published.Headers["source"])
	}

	// Check that MovedToDLQAt was set
	publishedMsg, ok := published.Data.(*DLQMessage)
	if !ok {
		t.Fatal("Published data is not a DLQMessage")
	}

	if publishedMsg.MovedToDLQAt.IsZero() {
		t.Error("MovedToDLQAt should be set")
	}

	if publishedMsg.Source != "test-service" {
		t.Errorf("Source = %s, want test-service", publishedMsg.Source)
	}
}

func TestKafkaDLQPublisher_PublishToDLQ_NilMessage(t *testing.T) {
	mock := &MockKafkaPublisher{}
	publisher := NewKafkaDLQPublisher(mock, nil)

	err := publisher.PublishToDLQ(context.Background(), nil)
	if err == nil {
		t.Error("Expected error for nil message")
	}
}

func TestKafkaDLQPublisher_PublishToDLQ_PublishFails(t *testing.T) {
	mock := &MockKafkaPublisher{ShouldFail: true}
	publisher := NewKafkaDLQPublisher(mock, nil)

	msg := &DLQMessage{
		ID:            "msg-123",
		OriginalTopic: "payment-events",
		OriginalKey:   "PAY-REF-456",
		Error:         "test error",
	}

	err := publisher.PublishToDLQ(context.Background(), msg)
	if err == nil {
		t.Error("Expected error when publish fails")
	}
}

func TestNewKafkaDLQPublisher_WithNilConfig(t *testing.T) {
	mock := &MockKafkaPublisher{}
	publisher := NewKafkaDLQPublisher(mock, nil)

	if publisher.config == nil {
		t.Fatal("Config should not be nil")
	}

	if publisher.config.TopicSuffix != ".dlq" {
		t.Errorf("TopicSuffix = %s, want .dlq", publisher.config.TopicSuffix)
	}
}

func TestKafkaProducerAdapter(t *testing.T) {
	// Create a mock that implements PublishJSON
	mock := &mockPublishJSON{}

	adapter := &KafkaProducerAdapter{Producer: mock}

	err := adapter.PublishJSON(context.Background(), "test-topic", "key", map[string]string{"test": "data"}, nil)
	if err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}

	if mock.callCount != 1 {
		t.Errorf("Expected 1 call, got %d", mock.callCount)
	}
}

type mockPublishJSON struct {
	callCount int
}

func (m *mockPublishJSON) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	m.callCount++
	return nil
}
