package net

import (
	"bytes"
	"encoding/binary"
	"testing"

	. "limitbook/internal/common"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trader = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, m))
	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Zero(t, buf.Len(), "frame not fully consumed")
	return got
}

func TestMessages_CreateLimitOrder(t *testing.T) {
	m := CreateLimitOrderMessage{
		From:      trader,
		BookID:    1,
		Size:      700,
		Price:     100,
		IsAsk:     true,
		Hint:      3,
		StepLimit: 5000,
	}
	buf, err := Serialize(m)
	require.NoError(t, err)
	assert.Len(t, buf, FrameHeaderLen+TypeLen+20+8+8+8+1+8+8)
	assert.Equal(t, uint16(CreateLimitOrder), binary.BigEndian.Uint16(buf[4:6]))

	assert.Equal(t, m, roundTrip(t, m))
}

func TestMessages_Batch(t *testing.T) {
	m := CreateLimitOrderBatchMessage{
		From:   trader,
		BookID: 0,
		Entries: []BatchEntry{
			{Size: 1, Price: 5, IsAsk: true, Hint: 0},
			{Size: 2, Price: 4, IsAsk: false, Hint: 7},
		},
	}
	assert.Equal(t, m, roundTrip(t, m))
}

func TestMessages_Replies(t *testing.T) {
	ok := ResultMessage{OK: true, IDs: []uint64{2, 3, 4}}
	assert.Equal(t, ok, roundTrip(t, ok))

	failed := ResultMessage{Error: "order 2: the caller should be the owner of the order"}
	assert.Equal(t, failed, roundTrip(t, failed))

	snap := SnapshotMessage{Total: 7, Rows: []SnapshotRow{
		{ID: 3, Owner: trader, Side: Ask, Size: uint256.NewInt(300), Price: 1},
		{ID: 4, Owner: trader, Side: Bid, Size: new(uint256.Int).Lsh(uint256.NewInt(1), 200), Price: 1},
	}}
	assert.Equal(t, snap, roundTrip(t, snap))

	ev := EventMessage{Event: Event{Kind: OrderCanceled, TxID: "tx", BookID: 1, OrderID: 3, Owner: trader, Side: Ask, Size: 3, Price: 1}}
	assert.Equal(t, ev, roundTrip(t, ev))

	assert.Equal(t, HeartbeatMessage{}, roundTrip(t, HeartbeatMessage{}))

	page := GetLimitOrdersMessage{BookID: 2, Offset: 100, Limit: 50}
	assert.Equal(t, page, roundTrip(t, page))
}

func TestMessages_Authentication(t *testing.T) {
	assert.Equal(t, HelloMessage{}, roundTrip(t, HelloMessage{}))

	challenge := ChallengeMessage{Nonce: [NonceLen]byte{1, 2, 3, 31: 0xff}}
	assert.Equal(t, challenge, roundTrip(t, challenge))

	auth := AuthenticateMessage{Signature: bytes.Repeat([]byte{7}, SignatureLen)}
	assert.Equal(t, auth, roundTrip(t, auth))

	_, err := Serialize(AuthenticateMessage{Signature: []byte{1, 2, 3}})
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestMessages_SnapshotFitsOneFrame(t *testing.T) {
	full, err := Serialize(SnapshotMessage{Rows: make([]SnapshotRow, MaxSnapshotRows)})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(full)-FrameHeaderLen, MaxMessageSize)

	_, err = Serialize(SnapshotMessage{Rows: make([]SnapshotRow, MaxSnapshotRows+1)})
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestMessages_Malformed(t *testing.T) {
	frame := func(body []byte) *bytes.Reader {
		buf := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
		return bytes.NewReader(append(buf, body...))
	}

	_, err := ReadMessage(frame([]byte{0xff, 0xff}))
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	_, err = ReadMessage(frame([]byte{0}))
	assert.ErrorIs(t, err, ErrMessageTooShort)

	// A cancel missing its step limit.
	full, err := Serialize(CancelLimitOrderMessage{From: trader, BookID: 1, OrderID: 2})
	require.NoError(t, err)
	_, err = ReadMessage(frame(full[FrameHeaderLen : len(full)-1]))
	assert.ErrorIs(t, err, ErrMessageTooShort)

	// A batch claiming more entries than it carries.
	body := binary.BigEndian.AppendUint16(nil, uint16(CreateLimitOrderBatch))
	body = append(body, make([]byte, 20+8+8)...)
	body = binary.BigEndian.AppendUint16(body, 3)
	_, err = ReadMessage(frame(body))
	assert.ErrorIs(t, err, ErrMessageTooShort)

	huge := binary.BigEndian.AppendUint32(nil, MaxMessageSize+1)
	_, err = ReadMessage(bytes.NewReader(huge))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}
