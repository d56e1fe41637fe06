package events

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	. "limitbook/internal/common"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var (
	eventPrefix = []byte("event/")
	eventUpper  = []byte("event0") // '0' sorts right after '/'
	nextKey     = []byte("meta/next")
	ackedKey    = []byte("meta/acked")
)

// Entry is an event together with its position in the outbox.
type Entry struct {
	Position uint64
	Event    Event
}

// Outbox is a durable, ordered log of committed events waiting to be
// relayed. Positions are assigned on append, start at 0 and are never
// reused, including across restarts.
type Outbox struct {
	db *pebble.DB

	mu    sync.Mutex
	next  uint64 // position of the next append
	acked uint64 // every position below this has been relayed
}

// OpenOutbox opens or creates the outbox in dir. A nil fs uses the
// operating system's file system.
func OpenOutbox(dir string, fs vfs.FS) (*Outbox, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox %s: %w", dir, err)
	}
	o := &Outbox{db: db}
	if o.next, err = o.readMeta(nextKey); err != nil {
		db.Close()
		return nil, err
	}
	if o.acked, err = o.readMeta(ackedKey); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func (o *Outbox) readMeta(key []byte) (uint64, error) {
	val, closer, err := o.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("outbox %s: invalid length %d", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// Append durably adds events to the end of the outbox in one batch.
func (o *Outbox) Append(events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	b := o.db.NewBatch()
	defer b.Close()
	pos := o.next
	for _, ev := range events {
		val, err := Marshal(ev)
		if err != nil {
			return err
		}
		if err := b.Set(keyFor(pos), val, nil); err != nil {
			return err
		}
		pos++
	}
	if err := b.Set(nextKey, encodeUint64(pos), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("append %d events: %w", len(events), err)
	}
	o.next = pos
	return nil
}

// Pending returns up to limit entries that have not been acknowledged,
// oldest first.
func (o *Outbox) Pending(limit int) ([]Entry, error) {
	o.mu.Lock()
	lower := keyFor(o.acked)
	o.mu.Unlock()

	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: eventUpper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []Entry
	for iter.First(); iter.Valid() && len(entries) < limit; iter.Next() {
		ev, err := Unmarshal(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("outbox entry %x: %w", iter.Key(), err)
		}
		entries = append(entries, Entry{Position: parseKey(iter.Key()), Event: ev})
	}
	return entries, iter.Error()
}

// Ack marks every entry up to and including position as relayed and
// removes them.
func (o *Outbox) Ack(position uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if position < o.acked {
		return nil
	}
	if position >= o.next {
		return fmt.Errorf("ack %d: only %d entries appended", position, o.next)
	}

	b := o.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(keyFor(o.acked), keyFor(position+1), nil); err != nil {
		return err
	}
	if err := b.Set(ackedKey, encodeUint64(position+1), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("ack %d: %w", position, err)
	}
	o.acked = position + 1
	return nil
}

// Len returns the number of entries waiting to be relayed.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int(o.next - o.acked)
}

func keyFor(pos uint64) []byte {
	key := make([]byte, len(eventPrefix)+8)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], pos)
	return key
}

func parseKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(eventPrefix):])
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
