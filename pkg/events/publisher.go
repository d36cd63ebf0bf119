package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeReceiptVerdict  = "receipt.verdict"
	TypePaymentApproved = "payment.approved"
)

var publishErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "kafka_publish_errors_total",
		Help: "Total number of Kafka publish errors",
	},
)

// Event is the envelope written to the topic. Key is the payment id when
// known so events of one payment stay ordered.
type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"-"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Publisher emits pipeline events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single topic.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher builds an async batching writer. With no brokers it
// returns a Nop publisher.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) Publisher {
	if len(brokers) == 0 {
		logger.Info("no kafka brokers configured, events disabled")
		return Nop{}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			publishErrors.Inc()
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}

	logger.Info("✅ Kafka writer initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
		zap.String("mode", "async"))

	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(e)
	if err != nil {
		publishErrors.Inc()
		p.logger.Error("failed to marshal event", zap.String("type", e.Type), zap.Error(err))
		return
	}

	msg := kafka.Message{
		Key:     []byte(e.Key),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		publishErrors.Inc()
		p.logger.Warn("failed to publish event",
			zap.String("type", e.Type),
			zap.String("key", e.Key),
			zap.Error(err))
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
func (Nop) Close() error                   { return nil }
