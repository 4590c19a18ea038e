package iterator

import (
	"iter"

	"github.com/flashlogdb/lsm/record"
)

// MemtableIterator adapts a memtable's push-style ordered sequence (itself
// produced by Memtable.Scan/All) to the pull-style Iterator interface.
type MemtableIterator struct {
	next  func() (record.Record, bool)
	stop  func()
	cur   record.Record
	valid bool
}

// NewMemtableIterator wraps seq, an ordered record sequence over a
// memtable's key range (bounded via Memtable.Scan or unbounded via
// Memtable.All).
func NewMemtableIterator(seq iter.Seq[record.Record]) *MemtableIterator {
	next, stop := iter.Pull(seq)
	it := &MemtableIterator{next: next, stop: stop}
	it.advance()
	return it
}

func (it *MemtableIterator) advance() {
	rec, ok := it.next()
	it.cur = rec
	it.valid = ok
	if !ok {
		it.stop()
	}
}

func (it *MemtableIterator) Valid() bool   { return it.valid }
func (it *MemtableIterator) Key() []byte   { return it.cur.Key }
func (it *MemtableIterator) Value() []byte { return it.cur.Value }

func (it *MemtableIterator) Next() error {
	if !it.valid {
		return ErrExhausted
	}
	it.advance()
	return nil
}

// Close releases the underlying pull goroutine if the sequence was not
// fully drained.
func (it *MemtableIterator) Close() {
	if it.valid {
		it.stop()
	}
}
