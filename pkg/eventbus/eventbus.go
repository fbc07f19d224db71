// Package eventbus implements the durable event log contract of
// spec.md §4.2 on top of Kafka (github.com/IBM/sarama): publish appends
// one record to a single topic partitioned by key; subscribe runs a
// consumer-group handler with manual offset commit, giving
// at-least-once delivery to exactly one member of the group per record.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/demeter-run/fabric/internal/telemetry"
	"github.com/demeter-run/fabric/pkg/events"
)

// Record is one decoded event as delivered to a Handler.
type Record struct {
	Type      events.Type
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
}

// Bus publishes events and runs consumer-group subscriptions against a
// single topic, per spec.md §4.2.
type Bus struct {
	topic    string
	producer sarama.SyncProducer
	client   sarama.Client
	logger   *slog.Logger
}

// Config holds the Kafka client settings named generically in spec.md §6
// as "kafka_* — bus client config map and topic name".
type Config struct {
	Brokers []string
	Topic   string
}

// New dials the Kafka brokers and prepares a synchronous producer.
func New(cfg Config, logger *slog.Logger) (*Bus, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner
	saramaCfg.Consumer.Offsets.AutoCommit.Enable = false
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Version = sarama.V2_8_0_0

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	return &Bus{topic: cfg.Topic, producer: producer, client: client, logger: logger}, nil
}

// Close releases the underlying Kafka client and producer.
func (b *Bus) Close() error {
	if err := b.producer.Close(); err != nil {
		return fmt.Errorf("closing kafka producer: %w", err)
	}
	return b.client.Close()
}

// Publish appends one record, partitioned by key. Transient failures
// bubble up to the caller so the issuing command fails (spec.md §4.2).
func (b *Bus) Publish(ctx context.Context, key []byte, typ events.Type, payload any) error {
	value, err := events.Encode(payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", typ, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(typ)},
		},
		Timestamp: time.Now(),
	}

	_, _, err = b.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", typ, err)
	}
	return nil
}

// Handler applies one decoded record. A nil return commits the offset;
// a non-nil, non-malformed error leaves the offset uncommitted so the
// record is retried on the next poll (spec.md §4.2's failure model).
// ErrMalformed signals a record that should be committed-and-dropped so
// it does not block the partition.
type Handler func(ctx context.Context, rec Record) error

// ErrMalformed marks a record that could not be decoded or applied due to
// a defect in the record itself (not a transient external fault). The
// consumer group commits such records rather than retrying forever.
var ErrMalformed = fmt.Errorf("malformed record")

// Subscribe runs handler as a consumer-group member named groupID until
// ctx is cancelled. Offsets are committed only after handler returns nil
// or ErrMalformed; any other error is logged and the record is retried
// without committing.
func (b *Bus) Subscribe(ctx context.Context, groupID string, handler Handler) error {
	group, err := sarama.NewConsumerGroupFromClient(groupID, b.client)
	if err != nil {
		return fmt.Errorf("creating consumer group %s: %w", groupID, err)
	}
	defer group.Close()

	consumer := &groupConsumer{
		groupID: groupID,
		handler: handler,
		typ:     b.recordType,
		logger:  b.logger,
	}

	for {
		if err := group.Consume(ctx, []string{b.topic}, consumer); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consuming group %s: %w", groupID, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (b *Bus) recordType(headers []*sarama.RecordHeader) events.Type {
	for _, h := range headers {
		if string(h.Key) == "type" {
			return events.Type(h.Value)
		}
	}
	return ""
}

type groupConsumer struct {
	groupID string
	handler Handler
	typ     func([]*sarama.RecordHeader) events.Type
	logger  *slog.Logger
}

func (c *groupConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *groupConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *groupConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			rec := Record{
				Type:      c.typ(msg.Headers),
				Key:       msg.Key,
				Value:     msg.Value,
				Partition: msg.Partition,
				Offset:    msg.Offset,
			}

			err := c.handler(session.Context(), rec)
			switch {
			case err == nil:
				session.MarkMessage(msg, "")
				session.Commit()
				telemetry.EventsProjectedTotal.WithLabelValues(c.groupID, string(rec.Type)).Inc()
			case err == ErrMalformed:
				c.logger.Error("malformed record, committing and skipping",
					"type", rec.Type, "partition", rec.Partition, "offset", rec.Offset)
				session.MarkMessage(msg, "")
				session.Commit()
				telemetry.EventsMalformedTotal.WithLabelValues(c.groupID).Inc()
			default:
				c.logger.Error("applying record, will retry",
					"type", rec.Type, "partition", rec.Partition, "offset", rec.Offset, "error", err)
				return err
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
