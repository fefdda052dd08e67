package state

import (
	"container/list"
	"time"
)

// Ledger is a bounded record of recently seen event ids.
// Entries are kept in last-touch order and the oldest is evicted first
// once the ledger is full. It is not safe for concurrent use; Store
// guards it.
type Ledger struct {
	capacity int
	window   time.Duration
	order    *list.List
	index    map[string]*list.Element
}

type ledgerEntry struct {
	id   string
	seen time.Time
}

// NewLedger creates a ledger holding at most capacity ids. A zero window
// treats every retained id as a duplicate regardless of age.
func NewLedger(capacity int, window time.Duration) *Ledger {
	if capacity < 1 {
		capacity = 1
	}
	return &Ledger{
		capacity: capacity,
		window:   window,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Touch records id as seen at now. It reports whether id was already
// present and within the window.
func (l *Ledger) Touch(id string, now time.Time) bool {
	if el, ok := l.index[id]; ok {
		entry := el.Value.(*ledgerEntry)
		duplicate := l.window <= 0 || now.Sub(entry.seen) <= l.window
		entry.seen = now
		l.order.MoveToBack(el)
		return duplicate
	}

	l.index[id] = l.order.PushBack(&ledgerEntry{id: id, seen: now})
	for l.order.Len() > l.capacity {
		oldest := l.order.Front()
		l.order.Remove(oldest)
		delete(l.index, oldest.Value.(*ledgerEntry).id)
	}
	return false
}

// Contains reports whether id is retained, ignoring the window.
func (l *Ledger) Contains(id string) bool {
	_, ok := l.index[id]
	return ok
}

// Len returns the number of retained ids.
func (l *Ledger) Len() int {
	return l.order.Len()
}

// Capacity returns the maximum number of retained ids.
func (l *Ledger) Capacity() int {
	return l.capacity
}
