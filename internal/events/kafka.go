// Package events publishes terminal payment transitions to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/vybzcody/paymebro-sub003/internal/metrics"
	"github.com/vybzcody/paymebro-sub003/internal/models"
	"github.com/vybzcody/paymebro-sub003/internal/monitor"
)

const DefaultTopic = "payment.events"

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PaymentEvent is the JSON body of a payment.events message.
type PaymentEvent struct {
	EventID       string          `json:"eventId"`
	Type          string          `json:"type"`
	Reference     string          `json:"reference"`
	MerchantID    string          `json:"merchantId"`
	Status        models.Status   `json:"status"`
	Signature     string          `json:"signature,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	Recipient     string          `json:"recipient"`
	Amount        string          `json:"amount"`
	Currency      models.Currency `json:"currency"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

type Publisher struct {
	writer MessageWriter
	newID  func() string
	logger *zap.Logger
}

func NewPublisher(writer MessageWriter, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		newID:  func() string { return uuid.New().String() },
		logger: logger,
	}
}

// NewWriter builds the Kafka writer used in production.
func NewWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

// Message builds the Kafka message for t, keyed by reference so that all
// events of one payment land on the same partition.
func (p *Publisher) Message(t monitor.Transition) (kafka.Message, error) {
	ev := PaymentEvent{
		EventID:       p.newID(),
		Type:          "payment." + string(t.To),
		Reference:     t.Reference,
		MerchantID:    t.Expected.PrincipalID,
		Status:        t.To,
		Signature:     t.Signature,
		FailureReason: t.Reason,
		Recipient:     t.Expected.Recipient,
		Amount:        t.Expected.Amount.String(),
		Currency:      t.Expected.Currency,
		OccurredAt:    t.At,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(t.Reference),
		Value: body,
		Time:  t.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}, nil
}

// HandleTransition is a monitor.TransitionHandler. Publish failures are
// counted and logged only.
func (p *Publisher) HandleTransition(ctx context.Context, t monitor.Transition) {
	msg, err := p.Message(t)
	if err != nil {
		metrics.EventPublishErrors.Inc()
		p.logger.Error("failed to build payment event", zap.String("reference", t.Reference), zap.Error(err))
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventPublishErrors.Inc()
		p.logger.Error("failed to publish payment event",
			zap.String("reference", t.Reference),
			zap.String("status", string(t.To)),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("payment event published", zap.String("reference", t.Reference))
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
