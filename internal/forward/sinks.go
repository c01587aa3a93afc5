package forward

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// RedisSink publishes on a pub/sub channel. The client is shared and not
// closed by the sink.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) (*RedisSink, error) {
	if client == nil {
		return nil, fmt.Errorf("forward: redis client is nil")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, fmt.Errorf("forward: redis channel is empty")
	}
	return &RedisSink{client: client, channel: channel}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, _ string, payload []byte) error {
	return s.client.Publish(ctx, s.channel, payload).Err()
}

func (s *RedisSink) Close() error { return nil }

type NatsSink struct {
	conn    *nats.Conn
	subject string
}

func NewNatsSink(url, subject string) (*NatsSink, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("forward: nats subject is empty")
	}

	conn, err := nats.Connect(url,
		nats.Name("socwatch"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("forward: connect nats %s: %w", url, err)
	}

	return &NatsSink{conn: conn, subject: subject}, nil
}

func (s *NatsSink) Name() string { return "nats" }

func (s *NatsSink) Publish(_ context.Context, _ string, payload []byte) error {
	return s.conn.Publish(s.subject, payload)
}

func (s *NatsSink) Close() error {
	return s.conn.Drain()
}

const (
	kafkaBatchTimeout = 10 * time.Millisecond
	kafkaWriteTimeout = 2 * time.Second
	kafkaMaxAttempts  = 2
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes one message per alert keyed by source IP so alerts from
// the same address land on the same partition.
type KafkaSink struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("forward: no kafka brokers configured")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("forward: kafka topic is empty")
	}

	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			// One alert per write; do not wait for a batch to fill.
			BatchSize:    1,
			BatchTimeout: kafkaBatchTimeout,
			WriteTimeout: kafkaWriteTimeout,
			MaxAttempts:  kafkaMaxAttempts,
		},
		now: time.Now,
	}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, key string, payload []byte) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  s.now(),
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
