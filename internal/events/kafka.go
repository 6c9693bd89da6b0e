package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jmerrifield20/stockledger/internal/ledger"
)

// DefaultTopic is the topic committed entries are written to.
const DefaultTopic = "ledger.entries"

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	RequiredAcks int // -1 all replicas, 1 leader only
}

// KafkaPublisher writes entries as JSON messages keyed by entry hash.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a KafkaPublisher. It does not dial until the
// first Publish.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = int(kafka.RequireAll)
	}
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
	}}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e *ledger.Entry) error {
	msg, err := message(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish ledger entry %d: %w", e.Sequence, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func message(e *ledger.Entry) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal ledger entry: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.Hash),
		Value: data,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "ledger-seq", Value: []byte(strconv.FormatInt(e.Sequence, 10))},
			{Key: "ledger-action", Value: []byte(e.Action)},
			{Key: "ledger-signer", Value: []byte(e.SignerID)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}
