package events

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers outbox entries downstream. Publish either delivers
// every entry or returns an error, in which case the same entries are
// offered again later.
type Publisher interface {
	Publish(ctx context.Context, entries []Entry) error
	Close() error
}

// KafkaPublisher writes entries to a topic keyed by book id, so the
// events of one book stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, entries []Entry) error {
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		value, err := Marshal(e.Event)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatUint(e.Event.BookID, 10)),
			Value: value,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(e.Event.Kind.String())},
				{Key: "position", Value: []byte(strconv.FormatUint(e.Position, 10))},
			},
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes entries to a logger. It is used when no broker is
// configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		p.log.Info().
			Uint64("position", e.Position).
			Str("tx", e.Event.TxID).
			Uint64("seq", e.Event.Sequence).
			Stringer("event", e.Event).
			Msg("event")
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
