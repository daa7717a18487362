package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"checkout-service/internal/infra"
	"checkout-service/internal/infra/rabbitmq"

	"github.com/segmentio/kafka-go"
)

// Publisher writes every domain event to one topic, keyed by routing key so
// events of a kind keep their order within a partition.
type Publisher struct {
	writer *kafka.Writer
}

var _ infra.EventPublisher = (*Publisher)(nil)

func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewPublisher(brokersCSV, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(ParseBrokers(brokersCSV)...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, routingKey string, data any) error {
	msg := rabbitmq.NewEnvelope(routingKey, data)
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(routingKey),
		Value:   body,
		Time:    time.Now().UTC(),
		Headers: []kafka.Header{{Key: "message-id", Value: []byte(msg.ID)}},
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
