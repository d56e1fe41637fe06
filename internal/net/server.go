package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	. "limitbook/internal/common"
	"limitbook/internal/engine"
	"limitbook/internal/events"
	"limitbook/internal/sequencer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultIdleTimeout  = 5 * time.Minute
	defaultWriteTimeout = time.Second
	eventBufferSize     = 1024
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrUnexpectedMessage  = errors.New("unexpected message")
)

// ClientSession is one connected TCP client.
type ClientSession struct {
	conn      net.Conn
	writeLock sync.Mutex
	books     map[uint64]bool // subscriptions, guarded by the server's sessionsLock

	// Owned by the connection's worker.
	nonce  *[NonceLen]byte
	caller *common.Address
}

func (c *ClientSession) send(m Message) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	return WriteMessage(c.conn, m)
}

// reply sends m, or an error result when m does not fit in a frame.
// Serialization fails before anything is written, so the stream stays in
// sync.
func (c *ClientSession) reply(m Message) error {
	err := c.send(m)
	if errors.Is(err, ErrMessageTooLong) {
		log.Warn().Stringer("type", m.GetType()).Msg("reply too large")
		return c.send(result(err))
	}
	return err
}

// Server exposes the engine over TCP. Every request is applied through
// the sequencer, and events of subscribed books are pushed to clients as
// they are committed.
//
// With RequireAuth set, a session must sign a challenge before it can
// change the book, and the From of every such request must be the signer.
// Without it the server trusts the From field and must only be reachable
// by trusted clients.
type Server struct {
	address     string
	port        int
	seq         *sequencer.Sequencer
	source      events.Source
	pool        *WorkerPool
	IdleTimeout time.Duration
	RequireAuth bool

	ready    chan struct{}
	listener net.Listener

	sessionsLock sync.Mutex
	sessions     map[string]*ClientSession
}

// New creates a server. workers bounds the number of clients served at
// the same time; others wait in the accept queue.
func New(address string, port, workers int, seq *sequencer.Sequencer, source events.Source) *Server {
	return &Server{
		address:     address,
		port:        port,
		seq:         seq,
		source:      source,
		pool:        NewWorkerPool(workers),
		IdleTimeout: defaultIdleTimeout,
		ready:       make(chan struct{}),
		sessions:    make(map[string]*ClientSession),
	}
}

// Addr blocks until the server listens and returns its address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.address, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("unable to start listener: %w", err)
	}
	s.listener = listener
	close(s.ready)

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Start the event broadcaster.
	ch := make(chan Event, eventBufferSize)
	sub := s.source.SubscribeEvents(ch)
	t.Go(func() error {
		defer sub.Unsubscribe()
		return s.broadcast(t, ch, sub)
	})

	// Closing the listener and the sessions unblocks Accept and the
	// workers.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeSessions()
		return nil
	})

	log.Info().Str("address", listener.Addr().String()).Msg("server running")
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-t.Dying():
				err := t.Wait()
				if errors.Is(err, context.Canceled) {
					err = nil
				}
				log.Info().Msg("server shut down")
				return err
			default:
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		log.Info().
			Str("address", conn.RemoteAddr().String()).
			Msg("new client added")
		s.addClientSession(conn)
		if !s.pool.AddTask(t, conn) {
			s.deleteClientSession(conn)
		}
	}
}

// handleConnection serves one client until it disconnects, goes idle or
// the server shuts down. Errors from a single client never kill the
// pool.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}
	defer s.deleteClientSession(conn)

	session := s.session(conn)
	if session == nil {
		return nil
	}
	ctx := t.Context(nil)
	address := conn.RemoteAddr().String()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.IdleTimeout)); err != nil {
			return nil
		}
		msg, err := ReadMessage(conn)
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidMessageType), errors.Is(err, ErrMessageTooShort), errors.Is(err, events.ErrEventTooShort):
			// The frame was consumed, so the stream is still in sync.
			log.Warn().Err(err).Str("address", address).Msg("error parsing message")
			msg = nil
		default:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Str("address", address).Msg("error reading from connection")
			}
			return nil
		}

		var reply Message
		if msg == nil {
			reply = result(err)
		} else {
			reply = s.handle(ctx, session, msg)
		}
		if err := session.reply(reply); err != nil {
			log.Warn().Err(err).Str("address", address).Msg("unable to send reply")
			return nil
		}
	}
}

func (s *Server) handle(ctx context.Context, session *ClientSession, msg Message) Message {
	log.Debug().Stringer("type", msg.GetType()).Msg("new message")

	switch m := msg.(type) {
	case HeartbeatMessage:
		return HeartbeatMessage{}
	case HelloMessage:
		nonce, err := newNonce()
		if err != nil {
			return result(err)
		}
		session.nonce = &nonce
		return ChallengeMessage{Nonce: nonce}
	case AuthenticateMessage:
		if session.nonce == nil {
			return result(ErrNoChallenge)
		}
		signer, err := recoverSigner(*session.nonce, m.Signature)
		session.nonce = nil
		if err != nil {
			return result(err)
		}
		session.caller = &signer
		log.Info().
			Str("address", session.conn.RemoteAddr().String()).
			Stringer("account", signer).
			Msg("session authenticated")
		return result(nil)
	case CreateLimitOrderMessage:
		if err := s.authorize(session, m.From); err != nil {
			return result(err)
		}
		id, err := sequencer.Call(ctx, s.seq, func(e *engine.Engine) (uint64, error) {
			opts := engine.CallOpts{From: m.From, StepLimit: m.StepLimit}
			return e.CreateLimitOrder(opts, m.BookID, m.Size, m.Price, m.IsAsk, m.Hint)
		})
		return result(err, id)
	case CreateLimitOrderBatchMessage:
		if err := s.authorize(session, m.From); err != nil {
			return result(err)
		}
		n := len(m.Entries)
		sizes, prices, hints := make([]uint64, n), make([]uint64, n), make([]uint64, n)
		isAsk := make([]bool, n)
		for i, entry := range m.Entries {
			sizes[i], prices[i], isAsk[i], hints[i] = entry.Size, entry.Price, entry.IsAsk, entry.Hint
		}
		ids, err := sequencer.Call(ctx, s.seq, func(e *engine.Engine) ([]uint64, error) {
			opts := engine.CallOpts{From: m.From, StepLimit: m.StepLimit}
			return e.CreateLimitOrderBatch(opts, m.BookID, n, sizes, prices, isAsk, hints)
		})
		return result(err, ids...)
	case UpdateLimitOrderMessage:
		if err := s.authorize(session, m.From); err != nil {
			return result(err)
		}
		id, err := sequencer.Call(ctx, s.seq, func(e *engine.Engine) (uint64, error) {
			opts := engine.CallOpts{From: m.From, StepLimit: m.StepLimit}
			return e.UpdateLimitOrder(opts, m.BookID, m.OrderID, m.Size, m.Price, m.Hint)
		})
		return result(err, id)
	case CancelLimitOrderMessage:
		if err := s.authorize(session, m.From); err != nil {
			return result(err)
		}
		err := s.seq.Do(ctx, func(e *engine.Engine) error {
			opts := engine.CallOpts{From: m.From, StepLimit: m.StepLimit}
			return e.CancelLimitOrder(opts, m.BookID, m.OrderID)
		})
		return result(err)
	case GetLimitOrdersMessage:
		snap, err := sequencer.Call(ctx, s.seq, func(e *engine.Engine) (engine.Snapshot, error) {
			return e.GetLimitOrders(m.BookID)
		})
		if err != nil {
			return result(err)
		}
		return page(snap, m.Offset, m.Limit)
	case ComputeInsertionHintMessage:
		hint, err := sequencer.Call(ctx, s.seq, func(e *engine.Engine) (uint64, error) {
			return e.ComputeInsertionHint(m.BookID, m.Size, m.Price, m.IsAsk)
		})
		return result(err, hint)
	case SubscribeMessage:
		_, err := sequencer.Call(ctx, s.seq, func(e *engine.Engine) (engine.BookInfo, error) {
			return e.Book(m.BookID)
		})
		if err == nil {
			s.subscribe(session, m.BookID)
		}
		return result(err)
	}
	return result(fmt.Errorf("%v: %w", msg.GetType(), ErrUnexpectedMessage))
}

// authorize checks that session may act as from.
func (s *Server) authorize(session *ClientSession, from common.Address) error {
	if session.caller == nil {
		if s.RequireAuth {
			return ErrUnauthenticated
		}
		return nil
	}
	if *session.caller != from {
		return fmt.Errorf("%s: %w", from.Hex(), ErrCallerMismatch)
	}
	return nil
}

// page cuts rows [offset, offset+limit) out of the listing.
func page(snap engine.Snapshot, offset, limit uint32) SnapshotMessage {
	if limit == 0 || limit > MaxSnapshotRows {
		limit = MaxSnapshotRows
	}
	total := snap.Len()
	start := min(int(offset), total)
	end := min(start+int(limit), total)

	rows := make([]SnapshotRow, 0, end-start)
	for i := start; i < end; i++ {
		rows = append(rows, SnapshotRow{
			ID:    snap.IDs[i],
			Owner: snap.Owners[i],
			Side:  snap.Sides[i],
			Size:  snap.Sizes[i],
			Price: snap.Prices[i],
		})
	}
	return SnapshotMessage{Total: uint32(total), Rows: rows}
}

func result(err error, ids ...uint64) ResultMessage {
	if err != nil {
		return ResultMessage{Error: err.Error()}
	}
	return ResultMessage{OK: true, IDs: ids}
}

// broadcast pushes every committed event to the sessions subscribed to
// its book. A client that cannot keep up is disconnected.
func (s *Server) broadcast(t *tomb.Tomb, ch <-chan Event, sub event.Subscription) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case err := <-sub.Err():
			return err
		case ev := <-ch:
			for _, session := range s.subscribers(ev.BookID) {
				if err := session.send(EventMessage{Event: ev}); err != nil {
					log.Warn().
						Err(err).
						Str("address", session.conn.RemoteAddr().String()).
						Msg("dropping slow subscriber")
					session.conn.Close()
				}
			}
		}
	}
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	s.sessions[conn.RemoteAddr().String()] = &ClientSession{
		conn:  conn,
		books: make(map[uint64]bool),
	}
}

// deleteClientSession is an atomic map remove that also closes the
// connection.
func (s *Server) deleteClientSession(conn net.Conn) {
	s.sessionsLock.Lock()
	delete(s.sessions, conn.RemoteAddr().String())
	s.sessionsLock.Unlock()

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("unable to close connection")
	}
}

func (s *Server) session(conn net.Conn) *ClientSession {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	return s.sessions[conn.RemoteAddr().String()]
}

func (s *Server) subscribe(session *ClientSession, book uint64) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	session.books[book] = true
}

func (s *Server) subscribers(book uint64) []*ClientSession {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	var out []*ClientSession
	for _, session := range s.sessions {
		if session.books[book] {
			out = append(out, session)
		}
	}
	return out
}

func (s *Server) closeSessions() {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	for _, session := range s.sessions {
		session.conn.Close()
	}
}
