// Package publisher fans recorded activities out to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/timebank/internal/domain/model"
)

// EventRecorded is the event type header and payload type.
const EventRecorded = "activity.recorded"

const (
	defaultTimeout = 2 * time.Second
	// Publish runs inside the scan request.
	batchTimeout = 10 * time.Millisecond
)

// Writer is the slice of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the message payload.
type Event struct {
	Type          string    `json:"type"`
	ActivityID    string    `json:"activityId"`
	UserID        string    `json:"userId"`
	BoothID       string    `json:"boothId"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"createdAt"`
	ClientEventID string    `json:"clientEventId,omitempty"`
}

// Kafka publishes one message per recorded activity, keyed by user id so a
// user's activities stay ordered within a partition.
type Kafka struct {
	writer  Writer
	timeout time.Duration
}

// Option applies a configuration option to the publisher.
type Option func(*Kafka)

// WithTimeout bounds a single publish.
func WithTimeout(d time.Duration) Option {
	return func(k *Kafka) {
		if d > 0 {
			k.timeout = d
		}
	}
}

// WithWriter replaces the Kafka writer.
func WithWriter(w Writer) Option {
	return func(k *Kafka) {
		if w != nil {
			k.writer = w
		}
	}
}

// New creates a publisher for topic on brokers.
func New(brokers []string, topic string, opts ...Option) *Kafka {
	k := &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           batchTimeout,
			RequiredAcks:           kafka.RequireAll,
			Compression:            kafka.Snappy,
			AllowAutoTopicCreation: true,
		},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Publish writes a for downstream consumers.
func (k *Kafka) Publish(ctx context.Context, a model.Activity) error {
	body, err := json.Marshal(Event{
		Type:          EventRecorded,
		ActivityID:    a.ID,
		UserID:        a.UserID,
		BoothID:       a.BoothID,
		Kind:          string(a.Kind),
		Amount:        a.Amount,
		CreatedAt:     a.CreatedAt.UTC(),
		ClientEventID: a.ClientEventID,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(a.UserID),
		Value:   body,
		Time:    a.CreatedAt,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(EventRecorded)}},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", a.ID, err)
	}
	return nil
}

// Close flushes and releases the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
