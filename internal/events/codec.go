package events

import (
	"encoding/binary"
	"errors"
	"math"

	. "limitbook/internal/common"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrEventTooShort = errors.New("event too short")
	ErrTxIDTooLong   = errors.New("tx id too long")
)

// Encoded event layout, big-endian:
//
//	kind 1 | sequence 8 | book 8 | order 8 | owner 20 | side 1 | size 8 |
//	price 8 | taker 8 | takerOwner 20 | token0 20 | token1 20 |
//	logSizeTick 1 | logPriceTick 1 | txLen 2 | tx txLen
const EventHeaderLen = 1 + 8 + 8 + 8 + common.AddressLength + 1 + 8 + 8 + 8 +
	3*common.AddressLength + 1 + 1 + 2

func Marshal(ev Event) ([]byte, error) {
	if len(ev.TxID) > math.MaxUint16 {
		return nil, ErrTxIDTooLong
	}
	buf := make([]byte, EventHeaderLen+len(ev.TxID))
	w := buf

	w[0] = byte(ev.Kind)
	w = w[1:]
	for _, v := range []uint64{ev.Sequence, ev.BookID, ev.OrderID} {
		binary.BigEndian.PutUint64(w, v)
		w = w[8:]
	}
	w = w[copy(w, ev.Owner.Bytes()):]
	w[0] = byte(ev.Side)
	w = w[1:]
	for _, v := range []uint64{ev.Size, ev.Price, ev.TakerID} {
		binary.BigEndian.PutUint64(w, v)
		w = w[8:]
	}
	w = w[copy(w, ev.TakerOwner.Bytes()):]
	w = w[copy(w, ev.Token0.Bytes()):]
	w = w[copy(w, ev.Token1.Bytes()):]
	w[0], w[1] = ev.LogSizeTick, ev.LogPriceTick
	binary.BigEndian.PutUint16(w[2:4], uint16(len(ev.TxID)))
	copy(w[4:], ev.TxID)
	return buf, nil
}

func Unmarshal(msg []byte) (Event, error) {
	if len(msg) < EventHeaderLen {
		return Event{}, ErrEventTooShort
	}
	var ev Event
	r := msg

	ev.Kind = EventKind(r[0])
	r = r[1:]
	ev.Sequence = binary.BigEndian.Uint64(r[0:8])
	ev.BookID = binary.BigEndian.Uint64(r[8:16])
	ev.OrderID = binary.BigEndian.Uint64(r[16:24])
	r = r[24:]
	ev.Owner = common.BytesToAddress(r[:common.AddressLength])
	r = r[common.AddressLength:]
	ev.Side = Side(r[0])
	r = r[1:]
	ev.Size = binary.BigEndian.Uint64(r[0:8])
	ev.Price = binary.BigEndian.Uint64(r[8:16])
	ev.TakerID = binary.BigEndian.Uint64(r[16:24])
	r = r[24:]
	ev.TakerOwner = common.BytesToAddress(r[:common.AddressLength])
	r = r[common.AddressLength:]
	ev.Token0 = common.BytesToAddress(r[:common.AddressLength])
	r = r[common.AddressLength:]
	ev.Token1 = common.BytesToAddress(r[:common.AddressLength])
	r = r[common.AddressLength:]
	ev.LogSizeTick, ev.LogPriceTick = r[0], r[1]
	txLen := int(binary.BigEndian.Uint16(r[2:4]))
	r = r[4:]
	if len(r) < txLen {
		return Event{}, ErrEventTooShort
	}
	ev.TxID = string(r[:txLen])
	return ev, nil
}
