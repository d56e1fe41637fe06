package net

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	. "limitbook/internal/common"
	"limitbook/internal/events"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrMessageTooLong     = errors.New("message too long")
	ErrBadSignature       = errors.New("malformed signature")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	CreateLimitOrder
	CreateLimitOrderBatch
	UpdateLimitOrder
	CancelLimitOrder
	GetLimitOrders
	ComputeInsertionHint
	Subscribe

	// Server to client.
	Result
	OrderSnapshot
	EventReport

	// Session authentication.
	Hello
	Challenge
	Authenticate
)

func (t MessageType) String() string {
	switch t {
	case Heartbeat:
		return "heartbeat"
	case CreateLimitOrder:
		return "createLimitOrder"
	case CreateLimitOrderBatch:
		return "createLimitOrderBatch"
	case UpdateLimitOrder:
		return "updateLimitOrder"
	case CancelLimitOrder:
		return "cancelLimitOrder"
	case GetLimitOrders:
		return "getLimitOrders"
	case ComputeInsertionHint:
		return "computeInsertionHint"
	case Subscribe:
		return "subscribe"
	case Result:
		return "result"
	case OrderSnapshot:
		return "orderSnapshot"
	case EventReport:
		return "eventReport"
	case Hello:
		return "hello"
	case Challenge:
		return "challenge"
	case Authenticate:
		return "authenticate"
	}
	return fmt.Sprintf("MessageType(%d)", uint16(t))
}

// Frame layout, big-endian: len 4 | type 2 | payload, where len counts the
// type and the payload.
const (
	FrameHeaderLen = 4
	TypeLen        = 2
	MaxMessageSize = 1 << 20
	MaxBatchSize   = math.MaxUint16
	NonceLen       = 32
	SignatureLen   = crypto.SignatureLength
)

type Message interface {
	GetType() MessageType
}

type HeartbeatMessage struct{}

// CreateLimitOrderMessage is 20 + 8 + 8 + 8 + 1 + 8 + 8 bytes.
type CreateLimitOrderMessage struct {
	From      common.Address
	BookID    uint64
	Size      uint64
	Price     uint64
	IsAsk     bool
	Hint      uint64
	StepLimit uint64
}

type BatchEntry struct {
	Size  uint64
	Price uint64
	IsAsk bool
	Hint  uint64
}

// CreateLimitOrderBatchMessage is 20 + 8 + 8 + 2 bytes followed by 25
// bytes per entry.
type CreateLimitOrderBatchMessage struct {
	From      common.Address
	BookID    uint64
	StepLimit uint64
	Entries   []BatchEntry
}

// UpdateLimitOrderMessage is 20 + 6*8 bytes.
type UpdateLimitOrderMessage struct {
	From      common.Address
	BookID    uint64
	OrderID   uint64
	Size      uint64
	Price     uint64
	Hint      uint64
	StepLimit uint64
}

// CancelLimitOrderMessage is 20 + 3*8 bytes.
type CancelLimitOrderMessage struct {
	From      common.Address
	BookID    uint64
	OrderID   uint64
	StepLimit uint64
}

// GetLimitOrdersMessage asks for a page of the book listing. A zero or
// too large Limit is capped at MaxSnapshotRows.
type GetLimitOrdersMessage struct {
	BookID uint64
	Offset uint32
	Limit  uint32
}

type ComputeInsertionHintMessage struct {
	BookID uint64
	Size   uint64
	Price  uint64
	IsAsk  bool
}

// SubscribeMessage asks for the events of a book to be pushed to the
// connection as EventReport messages.
type SubscribeMessage struct {
	BookID uint64
}

// ResultMessage answers every request except GetLimitOrders. IDs holds
// the order ids created by the request, or the hint for
// ComputeInsertionHint.
type ResultMessage struct {
	OK    bool
	IDs   []uint64
	Error string
}

// SnapshotRow sizes are token0 amounts.
type SnapshotRow struct {
	ID    uint64
	Owner common.Address
	Side  Side
	Size  *uint256.Int
	Price uint64
}

// SnapshotMessage is one page of the listing. Total counts every resident
// order of the book.
type SnapshotMessage struct {
	Total uint32
	Rows  []SnapshotRow
}

type EventMessage struct {
	Event Event
}

// HelloMessage asks the server for a challenge to sign.
type HelloMessage struct{}

type ChallengeMessage struct {
	Nonce [NonceLen]byte
}

// AuthenticateMessage carries the 65 byte [R || S || V] signature of the
// last challenge. On success the session is bound to the signer.
type AuthenticateMessage struct {
	Signature []byte
}

func (HeartbeatMessage) GetType() MessageType             { return Heartbeat }
func (CreateLimitOrderMessage) GetType() MessageType      { return CreateLimitOrder }
func (CreateLimitOrderBatchMessage) GetType() MessageType { return CreateLimitOrderBatch }
func (UpdateLimitOrderMessage) GetType() MessageType      { return UpdateLimitOrder }
func (CancelLimitOrderMessage) GetType() MessageType      { return CancelLimitOrder }
func (GetLimitOrdersMessage) GetType() MessageType        { return GetLimitOrders }
func (ComputeInsertionHintMessage) GetType() MessageType  { return ComputeInsertionHint }
func (SubscribeMessage) GetType() MessageType             { return Subscribe }
func (ResultMessage) GetType() MessageType                { return Result }
func (SnapshotMessage) GetType() MessageType              { return OrderSnapshot }
func (EventMessage) GetType() MessageType                 { return EventReport }
func (HelloMessage) GetType() MessageType                 { return Hello }
func (ChallengeMessage) GetType() MessageType             { return Challenge }
func (AuthenticateMessage) GetType() MessageType          { return Authenticate }

// WriteMessage frames m and writes it to w in a single call.
func WriteMessage(w io.Writer, m Message) error {
	buf, err := Serialize(m)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadMessage reads exactly one frame from r.
func ReadMessage(r io.Reader) (Message, error) {
	var header [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n < TypeLen {
		return nil, ErrMessageTooShort
	}
	if n > MaxMessageSize {
		return nil, ErrMessageTooLong
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return parseMessage(body)
}

// Serialize returns the full frame of m.
func Serialize(m Message) ([]byte, error) {
	buf := make([]byte, FrameHeaderLen, 64)
	buf = binary.BigEndian.AppendUint16(buf, uint16(m.GetType()))

	switch m := m.(type) {
	case HeartbeatMessage:
	case CreateLimitOrderMessage:
		buf = append(buf, m.From.Bytes()...)
		buf = appendUint64s(buf, m.BookID, m.Size, m.Price)
		buf = appendBool(buf, m.IsAsk)
		buf = appendUint64s(buf, m.Hint, m.StepLimit)
	case CreateLimitOrderBatchMessage:
		if len(m.Entries) > MaxBatchSize {
			return nil, ErrMessageTooLong
		}
		buf = append(buf, m.From.Bytes()...)
		buf = appendUint64s(buf, m.BookID, m.StepLimit)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Entries)))
		for _, e := range m.Entries {
			buf = appendUint64s(buf, e.Size, e.Price)
			buf = appendBool(buf, e.IsAsk)
			buf = appendUint64s(buf, e.Hint)
		}
	case UpdateLimitOrderMessage:
		buf = append(buf, m.From.Bytes()...)
		buf = appendUint64s(buf, m.BookID, m.OrderID, m.Size, m.Price, m.Hint, m.StepLimit)
	case CancelLimitOrderMessage:
		buf = append(buf, m.From.Bytes()...)
		buf = appendUint64s(buf, m.BookID, m.OrderID, m.StepLimit)
	case GetLimitOrdersMessage:
		buf = appendUint64s(buf, m.BookID)
		buf = binary.BigEndian.AppendUint32(buf, m.Offset)
		buf = binary.BigEndian.AppendUint32(buf, m.Limit)
	case ComputeInsertionHintMessage:
		buf = appendUint64s(buf, m.BookID, m.Size, m.Price)
		buf = appendBool(buf, m.IsAsk)
	case SubscribeMessage:
		buf = appendUint64s(buf, m.BookID)
	case ResultMessage:
		if len(m.IDs) > math.MaxUint16 || len(m.Error) > math.MaxUint16 {
			return nil, ErrMessageTooLong
		}
		buf = appendBool(buf, m.OK)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.IDs)))
		buf = appendUint64s(buf, m.IDs...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Error)))
		buf = append(buf, m.Error...)
	case SnapshotMessage:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Rows)))
		buf = binary.BigEndian.AppendUint32(buf, m.Total)
		for _, row := range m.Rows {
			size := row.Size
			if size == nil {
				size = new(uint256.Int)
			}
			word := size.Bytes32()
			buf = appendUint64s(buf, row.ID)
			buf = append(buf, row.Owner.Bytes()...)
			buf = append(buf, byte(row.Side))
			buf = append(buf, word[:]...)
			buf = appendUint64s(buf, row.Price)
		}
	case EventMessage:
		ev, err := events.Marshal(m.Event)
		if err != nil {
			return nil, err
		}
		buf = append(buf, ev...)
	case HelloMessage:
	case ChallengeMessage:
		buf = append(buf, m.Nonce[:]...)
	case AuthenticateMessage:
		if len(m.Signature) != SignatureLen {
			return nil, ErrBadSignature
		}
		buf = append(buf, m.Signature...)
	default:
		return nil, ErrInvalidMessageType
	}

	if len(buf)-FrameHeaderLen > MaxMessageSize {
		return nil, ErrMessageTooLong
	}
	binary.BigEndian.PutUint32(buf[:FrameHeaderLen], uint32(len(buf)-FrameHeaderLen))
	return buf, nil
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < TypeLen {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	r := &reader{buf: msg[2:]}

	var m Message
	switch typeOf {
	case Heartbeat:
		m = HeartbeatMessage{}
	case CreateLimitOrder:
		m = CreateLimitOrderMessage{
			From:      r.addr(),
			BookID:    r.u64(),
			Size:      r.u64(),
			Price:     r.u64(),
			IsAsk:     r.flag(),
			Hint:      r.u64(),
			StepLimit: r.u64(),
		}
	case CreateLimitOrderBatch:
		m = parseBatch(r)
	case UpdateLimitOrder:
		m = UpdateLimitOrderMessage{
			From:      r.addr(),
			BookID:    r.u64(),
			OrderID:   r.u64(),
			Size:      r.u64(),
			Price:     r.u64(),
			Hint:      r.u64(),
			StepLimit: r.u64(),
		}
	case CancelLimitOrder:
		m = CancelLimitOrderMessage{
			From:      r.addr(),
			BookID:    r.u64(),
			OrderID:   r.u64(),
			StepLimit: r.u64(),
		}
	case GetLimitOrders:
		m = GetLimitOrdersMessage{
			BookID: r.u64(),
			Offset: r.u32(),
			Limit:  r.u32(),
		}
	case ComputeInsertionHint:
		m = ComputeInsertionHintMessage{
			BookID: r.u64(),
			Size:   r.u64(),
			Price:  r.u64(),
			IsAsk:  r.flag(),
		}
	case Subscribe:
		m = SubscribeMessage{BookID: r.u64()}
	case Result:
		m = parseResult(r)
	case OrderSnapshot:
		m = parseSnapshot(r)
	case EventReport:
		ev, err := events.Unmarshal(r.buf)
		if err != nil {
			return nil, err
		}
		return EventMessage{Event: ev}, nil
	case Hello:
		m = HelloMessage{}
	case Challenge:
		var c ChallengeMessage
		copy(c.Nonce[:], r.bytes(NonceLen))
		m = c
	case Authenticate:
		m = AuthenticateMessage{Signature: bytes.Clone(r.bytes(SignatureLen))}
	default:
		return nil, ErrInvalidMessageType
	}
	if r.err != nil {
		return nil, fmt.Errorf("%v: %w", typeOf, r.err)
	}
	return m, nil
}

func parseBatch(r *reader) CreateLimitOrderBatchMessage {
	m := CreateLimitOrderBatchMessage{
		From:      r.addr(),
		BookID:    r.u64(),
		StepLimit: r.u64(),
	}
	n := int(r.u16())
	if r.err != nil || len(r.buf) < n*25 {
		r.fail()
		return m
	}
	m.Entries = make([]BatchEntry, n)
	for i := range m.Entries {
		m.Entries[i] = BatchEntry{
			Size:  r.u64(),
			Price: r.u64(),
			IsAsk: r.flag(),
			Hint:  r.u64(),
		}
	}
	return m
}

func parseResult(r *reader) ResultMessage {
	m := ResultMessage{OK: r.flag()}
	n := int(r.u16())
	if r.err != nil || len(r.buf) < n*8 {
		r.fail()
		return m
	}
	if n > 0 {
		m.IDs = make([]uint64, n)
		for i := range m.IDs {
			m.IDs[i] = r.u64()
		}
	}
	m.Error = string(r.bytes(int(r.u16())))
	return m
}

const (
	snapshotRowLen    = 8 + common.AddressLength + 1 + 32 + 8
	snapshotHeaderLen = 4 + 4

	// MaxSnapshotRows is the largest page that fits in one frame.
	MaxSnapshotRows = (MaxMessageSize - TypeLen - snapshotHeaderLen) / snapshotRowLen
)

func parseSnapshot(r *reader) SnapshotMessage {
	var m SnapshotMessage
	n := int(r.u32())
	m.Total = r.u32()
	if r.err != nil || len(r.buf) < n*snapshotRowLen {
		r.fail()
		return m
	}
	if n > 0 {
		m.Rows = make([]SnapshotRow, n)
	}
	for i := range m.Rows {
		m.Rows[i] = SnapshotRow{
			ID:    r.u64(),
			Owner: r.addr(),
			Side:  Side(r.u8()),
			Size:  new(uint256.Int).SetBytes(r.bytes(32)),
			Price: r.u64(),
		}
	}
	return m
}

func appendUint64s(buf []byte, vs ...uint64) []byte {
	for _, v := range vs {
		buf = binary.BigEndian.AppendUint64(buf, v)
	}
	return buf
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// reader consumes a payload front to back. After the first short read
// every accessor returns zero and err is set.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail() {
	r.err = ErrMessageTooShort
	r.buf = nil
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil || len(r.buf) < n {
		r.fail()
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u8() byte {
	if b := r.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) flag() bool { return r.u8() != 0 }

func (r *reader) u16() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.bytes(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *reader) addr() common.Address {
	return common.BytesToAddress(r.bytes(common.AddressLength))
}
