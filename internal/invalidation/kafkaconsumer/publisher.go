package kafkaconsumer

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/broadband-coverage/internal/invalidation"
)

// Publisher produces invalidation events keyed by provider id, so one
// provider's events stay ordered within a partition.
type Publisher struct {
	prod  sarama.SyncProducer
	topic string
}

func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Version = sarama.V2_1_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("producer create: %w", err)
	}
	return NewPublisherWith(prod, topic), nil
}

func NewPublisherWith(prod sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{prod: prod, topic: topic}
}

func (p *Publisher) Publish(ev invalidation.Event) (partition int32, offset int64, err error) {
	if err := ev.Validate(); err != nil {
		return 0, 0, fmt.Errorf("invalid event: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return 0, 0, fmt.Errorf("encode event: %w", err)
	}
	partition, offset, err = p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.ProviderID),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("send message: %w", err)
	}
	return partition, offset, nil
}

func (p *Publisher) Close() error { return p.prod.Close() }
