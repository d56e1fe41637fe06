package engine

import (
	. "limitbook/internal/common"
)

// list is the price-ordered, doubly linked list of resident orders of one
// side of a book. The links live in the records of the store; the list
// only keeps the links of its two sentinels.
//
// Asks are ascending by price and an ask never overtakes an ask at the same
// price. Bids are descending by price and a new bid goes in front of the
// bids already resting at its price, so equal-priced bids are served most
// recent first.
type list struct {
	side   Side
	orders *store
	j      *journal

	first  uint64 // HeadID's successor
	last   uint64 // TailID's predecessor
	length int
}

func newList(side Side, orders *store, j *journal) *list {
	return &list{
		side:   side,
		orders: orders,
		j:      j,
		first:  TailID,
		last:   HeadID,
	}
}

func (l *list) len() int { return l.length }

// best is the id at the front of the list, or TailID when empty.
func (l *list) best() uint64 { return l.first }

func (l *list) contains(id uint64) bool {
	if id == HeadID {
		return true
	}
	rec, ok := l.orders.get(id)
	return ok && rec.Side == l.side
}

func (l *list) next(id uint64) uint64 {
	if id == HeadID {
		return l.first
	}
	return l.orders.mustGet(id).next
}

func (l *list) prev(id uint64) uint64 {
	if id == TailID {
		return l.last
	}
	return l.orders.mustGet(id).prev
}

func (l *list) setNext(id, next uint64) {
	if id == HeadID {
		old := l.first
		l.j.append(func() { l.first = old })
		l.first = next
		return
	}
	l.orders.setNext(l.orders.mustGet(id), next)
}

func (l *list) setPrev(id, prev uint64) {
	if id == TailID {
		old := l.last
		l.j.append(func() { l.last = old })
		l.last = prev
		return
	}
	l.orders.setPrev(l.orders.mustGet(id), prev)
}

func (l *list) setLength(n int) {
	old := l.length
	l.j.append(func() { l.length = old })
	l.length = n
}

// ahead reports whether the resident order id stays in front of a new
// order of this side at price.
func (l *list) ahead(id uint64, price uint64) bool {
	p := l.orders.mustGet(id).Price
	if l.side == Ask {
		return p <= price
	}
	return p > price
}

// fits reports whether a new order at price belongs right after prev.
func (l *list) fits(prev uint64, price uint64) bool {
	if prev != HeadID && !l.ahead(prev, price) {
		return false
	}
	next := l.next(prev)
	return next == TailID || !l.ahead(next, price)
}

// locate returns the predecessor of a new order at price. The hint is a
// claimed predecessor: it is checked first and only when it does not fit
// is the list walked from it, backward if the hint is too far back and
// forward otherwise. A hint that is not resident in this list starts the
// walk at the head. The walk is not capped; every node read is charged.
func (l *list) locate(price, hint uint64, m *meter) (uint64, error) {
	if !l.contains(hint) {
		hint = HeadID
	}
	if err := m.charge(1); err != nil {
		return 0, err
	}
	if l.fits(hint, price) {
		return hint, nil
	}

	prev := hint
	if prev != HeadID && !l.ahead(prev, price) {
		for prev != HeadID && !l.ahead(prev, price) {
			if err := m.charge(1); err != nil {
				return 0, err
			}
			prev = l.prev(prev)
		}
		return prev, nil
	}

	for {
		next := l.next(prev)
		if next == TailID || !l.ahead(next, price) {
			return prev, nil
		}
		if err := m.charge(1); err != nil {
			return 0, err
		}
		prev = next
	}
}

// hintFor returns the predecessor an insert at price would choose. It
// never mutates the list, so it is safe for read-only queries.
func (l *list) hintFor(price uint64) uint64 {
	var m meter
	prev, _ := l.locate(price, HeadID, &m)
	return prev
}

// insert links rec, which must already be in the store, into the list.
func (l *list) insert(rec *record, hint uint64, m *meter) error {
	if hint == rec.ID {
		hint = HeadID
	}
	prev, err := l.locate(rec.Price, hint, m)
	if err != nil {
		return err
	}
	next := l.next(prev)

	l.orders.setPrev(rec, prev)
	l.orders.setNext(rec, next)
	l.setNext(prev, rec.ID)
	l.setPrev(next, rec.ID)
	l.setLength(l.length + 1)
	return nil
}

// remove unlinks id. The record itself stays in the store.
func (l *list) remove(id uint64) {
	rec := l.orders.mustGet(id)
	l.setNext(rec.prev, rec.next)
	l.setPrev(rec.next, rec.prev)
	l.setLength(l.length - 1)
}

// iterate calls fn for each order from the front until fn returns false.
func (l *list) iterate(fn func(rec *record) bool) {
	for id := l.first; id != TailID; {
		rec := l.orders.mustGet(id)
		if !fn(rec) {
			return
		}
		id = rec.next
	}
}

// ids returns the order ids from front to back.
func (l *list) ids() []uint64 {
	ids := make([]uint64, 0, l.length)
	l.iterate(func(rec *record) bool {
		ids = append(ids, rec.ID)
		return true
	})
	return ids
}
