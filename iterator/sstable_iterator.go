package iterator

import (
	"bytes"

	"github.com/flashlogdb/lsm/sstable"
)

// SSTableIterator composes a sequence of DataBlockIterators across a
// table's blocks, skipping any block whose key range falls entirely
// outside [lower, upper] without reading its bytes.
type SSTableIterator struct {
	sst   *sstable.SSTable
	lower []byte
	upper []byte

	blockIdx int
	cur      *DataBlockIterator
}

// NewSSTableIterator positions an iterator over sst. A nil bound is
// unbounded on that side.
func NewSSTableIterator(sst *sstable.SSTable, lower, upper []byte) (*SSTableIterator, error) {
	it := &SSTableIterator{sst: sst, lower: lower, upper: upper}
	if lower != nil {
		it.blockIdx = sst.BlockIndexAtOrAfter(lower)
	}
	if err := it.openBlock(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *SSTableIterator) openBlock() error {
	for it.blockIdx < it.sst.NumBlocks() {
		first, last := it.sst.BlockKeyRange(it.blockIdx)
		if it.lower != nil && bytes.Compare(last, it.lower) < 0 {
			it.blockIdx++
			continue
		}
		if it.upper != nil && bytes.Compare(first, it.upper) > 0 {
			break
		}

		db, err := it.sst.ReadDataBlock(it.blockIdx)
		if err != nil {
			return err
		}
		dbi, err := NewDataBlockIterator(db, it.lower, it.upper)
		if err != nil {
			return err
		}
		if dbi.Valid() {
			it.cur = dbi
			return nil
		}
		it.blockIdx++
	}
	it.cur = nil
	return nil
}

func (it *SSTableIterator) Valid() bool { return it.cur != nil && it.cur.Valid() }
func (it *SSTableIterator) Key() []byte { return it.cur.Key() }
func (it *SSTableIterator) Value() []byte {
	return it.cur.Value()
}

func (it *SSTableIterator) Next() error {
	if !it.Valid() {
		return ErrExhausted
	}
	if err := it.cur.Next(); err != nil {
		return err
	}
	if it.cur.Valid() {
		return nil
	}
	it.blockIdx++
	return it.openBlock()
}
