package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

// DefaultTopic — топик событий жизненного цикла заказов.
const DefaultTopic = "order-events"

// Publisher публикует события заказов в Kafka. Сообщения ключуются
// идентификатором заказа, поэтому события одного заказа попадают в одну
// партицию и сохраняют порядок.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *log.Entry
}

// NewPublisher создает Kafka publisher.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll // Wait for all in-sync replicas
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true // Включаем идемпотентность
	config.Net.MaxOpenRequests = 1    // Для идемпотентности

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	if topic == "" {
		topic = DefaultTopic
	}

	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   log.WithField("component", "kafka-publisher"),
	}, nil
}

// Publish отправляет событие заказа в Kafka.
func (p *Publisher) Publish(_ context.Context, event domain.OrderEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(event.OrderID),
		Value:     sarama.ByteEncoder(eventData),
		Timestamp: event.OccurredAt,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": p.topic,
			"type":  event.Type,
			"key":   event.OrderID,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     p.topic,
		"type":      event.Type,
		"key":       event.OrderID,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer.
func (p *Publisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

// NoopPublisher используется, когда брокеры не сконфигурированы.
type NoopPublisher struct{}

// Publish ничего не делает.
func (NoopPublisher) Publish(context.Context, domain.OrderEvent) error { return nil }

var (
	_ domain.EventPublisher = (*Publisher)(nil)
	_ domain.EventPublisher = NoopPublisher{}
)
