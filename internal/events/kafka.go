// Package events публикует события о выданных покупках.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher отправляет события выдачи в топик Kafka.
// Ключ сообщения равен идентификатору checkout, чтобы события одной покупки попадали в одну партицию.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher создаёт издателя событий.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}, nil
}

// PublishFulfillment публикует событие о выданном токене.
func (p *KafkaPublisher) PublishFulfillment(ctx context.Context, ev model.FulfillmentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal fulfillment event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.CheckoutID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("write fulfillment event: %w", err)
	}
	return nil
}

// Close закрывает соединения с брокерами.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
