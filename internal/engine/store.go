package engine

import (
	. "limitbook/internal/common"

	"github.com/tidwall/btree"
)

// Reserved ids. Every list starts at HeadID and ends at TailID, so a
// record without a neighbor points at one of them.
const (
	HeadID uint64 = 0
	TailID uint64 = 1

	firstOrderID uint64 = 2
)

// record is an order plus its links in the list of its side.
type record struct {
	Order
	prev uint64
	next uint64
}

// store is the arena of resident orders of one book, indexed by id.
type store struct {
	j      *journal
	orders *btree.Map[uint64, *record]
	nextID uint64
}

func newStore(j *journal) *store {
	return &store{
		j:      j,
		orders: btree.NewMap[uint64, *record](0),
		nextID: firstOrderID,
	}
}

// allocate hands out the next order id. Ids are consumed even when the
// order never rests.
func (s *store) allocate() uint64 {
	id := s.nextID
	s.j.append(func() { s.nextID = id })
	s.nextID++
	return id
}

func (s *store) get(id uint64) (*record, bool) {
	if id == HeadID || id == TailID {
		return nil, false
	}
	return s.orders.Get(id)
}

func (s *store) mustGet(id uint64) *record {
	rec, ok := s.get(id)
	if !ok {
		panic("engine: order store missing linked id")
	}
	return rec
}

func (s *store) put(rec *record) {
	s.orders.Set(rec.ID, rec)
	s.j.append(func() { s.orders.Delete(rec.ID) })
}

func (s *store) del(id uint64) {
	rec, ok := s.orders.Delete(id)
	if !ok {
		return
	}
	s.j.append(func() { s.orders.Set(id, rec) })
}

func (s *store) setSize(rec *record, size uint64) {
	old := rec.Size
	s.j.append(func() { rec.Size = old })
	rec.Size = size
}

func (s *store) setPrev(rec *record, prev uint64) {
	old := rec.prev
	s.j.append(func() { rec.prev = old })
	rec.prev = prev
}

func (s *store) setNext(rec *record, next uint64) {
	old := rec.next
	s.j.append(func() { rec.next = old })
	rec.next = next
}

func (s *store) len() int {
	return s.orders.Len()
}
