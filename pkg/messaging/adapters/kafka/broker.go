// Package kafka implements messaging.Broker over github.com/IBM/sarama.
package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/chris-alexander-pop/relaymq/pkg/messaging"
)

// Config configures the Kafka broker connection.
type Config struct {
	Brokers []string
	Version string // sarama.KafkaVersion string form, e.g. "2.8.0"; empty uses sarama's default
}

// Broker is a messaging.Broker backed by a shared sarama client. Producers
// are sync producers scoped to one topic; consumers join a sarama
// consumer group scoped to one topic and group.
type Broker struct {
	cfg    Config
	client sarama.Client
}

var _ messaging.Broker = (*Broker)(nil)

// New dials brokers and returns a ready client. Returns messaging's own
// ErrConnectionFailed rather than the raw sarama error so callers handle a
// consistent error shape across adapters.
func New(cfg Config) (*Broker, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Consumer.Return.Errors = true
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, messaging.ErrInvalidConfig("kafka version", err)
		}
		sc.Version = v
	}

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}
	return &Broker{cfg: cfg, client: client}, nil
}

func (b *Broker) Producer(topic string) (messaging.Producer, error) {
	p, err := sarama.NewSyncProducerFromClient(b.client)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}
	return &producer{broker: b, topic: topic, producer: p}, nil
}

func (b *Broker) Consumer(topic string, group string) (messaging.Consumer, error) {
	if group == "" {
		group = "relaymq"
	}
	cg, err := sarama.NewConsumerGroupFromClient(group, b.client)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}
	return &consumer{group: cg, topic: topic}, nil
}

func (b *Broker) Close() error {
	return b.client.Close()
}

func (b *Broker) Healthy(ctx context.Context) bool {
	if b.client.Closed() {
		return false
	}
	_, err := b.client.Controller()
	return err == nil
}
