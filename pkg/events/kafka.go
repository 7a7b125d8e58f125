package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanLedger/pkg/models"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// ActivityRecorded is the message written for every recorded activity.
type ActivityRecorded struct {
	ActivityID    uuid.UUID           `json:"activity_id"`
	Type          models.ActivityType `json:"type"`
	Members       []string            `json:"members"`
	Broadcast     bool                `json:"broadcast"`
	Memo          string              `json:"memo"`
	Amount        decimal.Decimal     `json:"amount"`
	AffectedLoans []uuid.UUID         `json:"affected_loans"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// Publisher writes activity to a Kafka topic, keyed by activity id.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Publish writes one ActivityRecorded message for a.
func (p *Publisher) Publish(ctx context.Context, a *models.Activity) error {
	msg, err := encode(a)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish activity %s: %w", a.ID, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func encode(a *models.Activity) (kafka.Message, error) {
	data, err := json.Marshal(ActivityRecorded{
		ActivityID:    a.ID,
		Type:          a.Type,
		Members:       a.Members,
		Broadcast:     a.Broadcast,
		Memo:          a.Memo,
		Amount:        a.Amount,
		AffectedLoans: a.AffectedLoans,
		OccurredAt:    a.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode activity %s: %w", a.ID, err)
	}
	return kafka.Message{
		Key:   []byte(a.ID.String()),
		Value: data,
		Time:  a.CreatedAt,
	}, nil
}
