package events

import (
	"context"
	"time"

	. "limitbook/internal/common"
	"limitbook/internal/metrics"

	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultBatchSize     = 256
	defaultFlushInterval = 100 * time.Millisecond
	feedBufferSize       = 1024
)

// Source is anything that can stream committed events, such as the
// engine.
type Source interface {
	SubscribeEvents(ch chan<- Event) event.Subscription
}

// Relay records every event of a source into the outbox as soon as it is
// committed, and forwards the outbox to a publisher in order. An entry is
// only acknowledged once the publisher accepted it, so delivery is at
// least once.
type Relay struct {
	outbox    *Outbox
	publisher Publisher
	metrics   *metrics.Metrics

	BatchSize     int
	FlushInterval time.Duration
}

func NewRelay(outbox *Outbox, publisher Publisher, m *metrics.Metrics) *Relay {
	return &Relay{
		outbox:        outbox,
		publisher:     publisher,
		metrics:       m,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
	}
}

// Start subscribes to src and relays in a goroutine of t until t is
// dying. The subscription is in place when Start returns, so no event
// committed afterwards is missed. A final flush is attempted on the way
// out.
func (r *Relay) Start(t *tomb.Tomb, src Source) {
	ch := make(chan Event, feedBufferSize)
	sub := src.SubscribeEvents(ch)
	t.Go(func() error {
		defer sub.Unsubscribe()
		return r.run(t, ch, sub)
	})
}

func (r *Relay) run(t *tomb.Tomb, ch chan Event, sub event.Subscription) error {
	ticker := time.NewTicker(r.FlushInterval)
	defer ticker.Stop()

	log.Info().Int("pending", r.outbox.Len()).Msg("event relay running")
	for {
		select {
		case <-t.Dying():
			r.drain(ch)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := r.Flush(ctx); err != nil {
				log.Warn().Err(err).Int("pending", r.outbox.Len()).Msg("events left in outbox")
			}
			cancel()
			return nil
		case err := <-sub.Err():
			return err
		case ev := <-ch:
			if err := r.outbox.Append(ev); err != nil {
				return err
			}
			r.metrics.SetOutboxPending(r.outbox.Len())
		case <-ticker.C:
			if err := r.Flush(t.Context(nil)); err != nil {
				log.Error().Err(err).Msg("unable to relay events")
			}
		}
	}
}

// drain records whatever is already buffered on ch.
func (r *Relay) drain(ch <-chan Event) {
	for {
		select {
		case ev := <-ch:
			if err := r.outbox.Append(ev); err != nil {
				log.Error().Err(err).Msg("unable to record event")
				return
			}
		default:
			return
		}
	}
}

// Flush publishes pending entries in batches until the outbox is empty
// or the publisher fails.
func (r *Relay) Flush(ctx context.Context) error {
	for {
		entries, err := r.outbox.Pending(r.BatchSize)
		if err != nil || len(entries) == 0 {
			return err
		}
		if err := r.publisher.Publish(ctx, entries); err != nil {
			return err
		}
		if err := r.outbox.Ack(entries[len(entries)-1].Position); err != nil {
			return err
		}
		r.metrics.Relayed(len(entries))
		r.metrics.SetOutboxPending(r.outbox.Len())
	}
}
