package sequencer

import (
	"context"
	"errors"
	"sync/atomic"

	"limitbook/internal/engine"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const defaultQueueSize = 100

var ErrStopped = errors.New("sequencer stopped")

// Func is one unit of work against the engine. Everything it does runs
// without any other Func interleaving.
type Func func(e *engine.Engine) error

type request struct {
	fn   Func
	done chan error
}

// Sequencer is the single writer of an Engine. Work submitted from any
// number of goroutines is applied one request at a time, in the order it
// was accepted.
type Sequencer struct {
	eng   *engine.Engine
	queue chan request

	t       tomb.Tomb
	started atomic.Bool
	applied atomic.Uint64
}

// New creates a sequencer over eng. A queueSize of 0 uses the default.
func New(eng *engine.Engine, queueSize int) *Sequencer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Sequencer{
		eng:   eng,
		queue: make(chan request, queueSize),
	}
}

// Start runs the writer goroutine until ctx is done or Stop is called.
func (s *Sequencer) Start(ctx context.Context) {
	if s.started.Swap(true) {
		return
	}
	s.t.Go(func() error {
		s.t.Go(func() error {
			select {
			case <-ctx.Done():
				s.t.Kill(nil)
			case <-s.t.Dying():
			}
			return nil
		})
		return s.loop()
	})
	log.Info().Msg("sequencer running")
}

// Stop kills the writer and waits for it. Requests already accepted but
// not yet applied fail with ErrStopped.
func (s *Sequencer) Stop() error {
	s.t.Kill(nil)
	if !s.started.Load() {
		return nil
	}
	err := s.t.Wait()
	log.Info().Uint64("applied", s.applied.Load()).Msg("sequencer stopped")
	return err
}

// Applied returns the number of requests applied so far.
func (s *Sequencer) Applied() uint64 { return s.applied.Load() }

func (s *Sequencer) loop() error {
	for {
		select {
		case <-s.t.Dying():
			return nil
		case req := <-s.queue:
			req.done <- req.fn(s.eng)
			s.applied.Add(1)
		}
	}
}

// Do submits fn and waits until it has been applied, returning its
// error. A request that was accepted is applied even if ctx is canceled
// while waiting for it.
func (s *Sequencer) Do(ctx context.Context, fn Func) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case s.queue <- req:
	case <-s.t.Dying():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-s.t.Dead():
		select {
		case err := <-req.done:
			return err
		default:
			return ErrStopped
		}
	}
}

// Call is Do for work that produces a value.
func Call[T any](ctx context.Context, s *Sequencer, fn func(e *engine.Engine) (T, error)) (T, error) {
	var out T
	err := s.Do(ctx, func(e *engine.Engine) error {
		var err error
		out, err = fn(e)
		return err
	})
	return out, err
}
