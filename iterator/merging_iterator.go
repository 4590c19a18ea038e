package iterator

import "bytes"

// MergingIterator performs a k-way ordered merge over its inputs. When two
// iterators expose the same key, the one at the lower index wins; the
// other is silently advanced past that key so its stale record is
// discarded. Callers must list iterators from newest to oldest so the
// lower-index-wins rule matches newest-wins semantics.
type MergingIterator struct {
	its   []Iterator
	idx   int
	valid bool
}

// NewMergingIterator merges its, ordered newest to oldest.
func NewMergingIterator(its []Iterator) *MergingIterator {
	m := &MergingIterator{its: its}
	m.findWinner()
	return m
}

func (m *MergingIterator) findWinner() {
	m.idx = -1
	for i, it := range m.its {
		if !it.Valid() {
			continue
		}
		if m.idx == -1 || bytes.Compare(it.Key(), m.its[m.idx].Key()) < 0 {
			m.idx = i
		}
	}
	m.valid = m.idx != -1
}

func (m *MergingIterator) Valid() bool   { return m.valid }
func (m *MergingIterator) Key() []byte   { return m.its[m.idx].Key() }
func (m *MergingIterator) Value() []byte { return m.its[m.idx].Value() }

func (m *MergingIterator) Next() error {
	if !m.valid {
		return ErrExhausted
	}

	key := append([]byte(nil), m.its[m.idx].Key()...)
	for _, it := range m.its {
		if it.Valid() && bytes.Equal(it.Key(), key) {
			if err := it.Next(); err != nil {
				return err
			}
		}
	}

	m.findWinner()
	return nil
}
