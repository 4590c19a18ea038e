package iterator

import (
	"bytes"

	"github.com/flashlogdb/lsm/block"
	"github.com/flashlogdb/lsm/record"
)

// DataBlockIterator walks one data block in key order, optionally bounded
// to [lower, upper]. It seeks to the first key >= lower via the block's
// binary search and stops once the current key exceeds upper.
type DataBlockIterator struct {
	b     *block.DataBlock
	idx   int
	upper []byte
	cur   record.Record
	valid bool
}

// NewDataBlockIterator positions an iterator over b. A nil bound is
// unbounded on that side.
func NewDataBlockIterator(b *block.DataBlock, lower, upper []byte) (*DataBlockIterator, error) {
	idx := 0
	if lower != nil {
		idx = b.SeekGE(lower)
	}
	it := &DataBlockIterator{b: b, idx: idx, upper: upper}
	if err := it.load(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *DataBlockIterator) load() error {
	if it.idx >= it.b.NumRecords() {
		it.valid = false
		return nil
	}
	rec, err := it.b.RecordAt(it.idx)
	if err != nil {
		return err
	}
	if it.upper != nil && bytes.Compare(rec.Key, it.upper) > 0 {
		it.valid = false
		return nil
	}
	it.cur = rec
	it.valid = true
	return nil
}

func (it *DataBlockIterator) Valid() bool   { return it.valid }
func (it *DataBlockIterator) Key() []byte   { return it.cur.Key }
func (it *DataBlockIterator) Value() []byte { return it.cur.Value }

func (it *DataBlockIterator) Next() error {
	if !it.valid {
		return ErrExhausted
	}
	it.idx++
	return it.load()
}
