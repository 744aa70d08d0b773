package events

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	kafka_sarama "github.com/cloudevents/sdk-go/protocol/kafka_sarama/v2"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/binding"
)

// KafkaWriter sends events in cloudevents binary mode, keyed by subject so
// every event of a job lands on the same partition and stays ordered.
type KafkaWriter struct {
	producer sarama.SyncProducer
}

func NewKafkaWriter(brokers []string, clientID string) (*KafkaWriter, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewKafkaWriterFromProducer(p), nil
}

func NewKafkaWriterFromProducer(p sarama.SyncProducer) *KafkaWriter {
	return &KafkaWriter{producer: p}
}

func (k *KafkaWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	msg := &sarama.ProducerMessage{Topic: topic}
	if e.Subject() != "" {
		msg.Key = sarama.StringEncoder(e.Subject())
	}

	if err := kafka_sarama.WriteProducerMessage(ctx, binding.ToMessage(&e), msg); err != nil {
		return fmt.Errorf("encoding event %s: %w", e.ID(), err)
	}

	_, _, err := k.producer.SendMessage(msg)
	return err
}

func (k *KafkaWriter) Close(_ context.Context) error {
	return k.producer.Close()
}
