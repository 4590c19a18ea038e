// Package memtable implements the in-memory mutable/immutable memtable: an
// ordered map of key to value backed by a write-ahead log, with a running
// approximate byte size used to trigger freezes.
package memtable

import (
	"fmt"
	"iter"
	"path/filepath"
	"strings"

	"github.com/flashlogdb/lsm/record"
	"github.com/flashlogdb/lsm/wal"
)

// Memtable is a mutable (while active) or immutable (once frozen) ordered
// map of records, with its own write-ahead log for durability.
type Memtable struct {
	ID              string
	table           *skipList
	approximateSize int
	wal             *wal.WAL
}

// Create allocates an empty memtable and creates a new WAL at walPath,
// failing with wal.ErrPathExists if one is already there.
func Create(walPath string) (*Memtable, error) {
	w, err := wal.Create(walPath)
	if err != nil {
		return nil, err
	}
	return &Memtable{ID: idFromPath(walPath), table: newSkipList(), wal: w}, nil
}

// CreateFromWAL opens an existing WAL read-only and replays its records
// into a fresh ordered map, recomputing approximate_size. The resulting
// memtable is treated as immutable: writes to it are undefined.
func CreateFromWAL(walPath string) (*Memtable, error) {
	w, err := wal.Open(walPath)
	if err != nil {
		return nil, err
	}

	mt := &Memtable{ID: idFromPath(walPath), table: newSkipList(), wal: w}
	for rec, err := range w.ReadRecords() {
		if err != nil {
			return nil, fmt.Errorf("memtable: replaying %s: %w", walPath, err)
		}
		mt.insert(rec)
	}
	return mt, nil
}

func idFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Put encodes (key, value), appends it durably to the WAL, then inserts it
// into the ordered map. Last writer wins per key.
func (m *Memtable) Put(key, value []byte) error {
	rec := record.New(key, value)
	if err := m.wal.Insert(rec); err != nil {
		return err
	}
	m.insert(rec)
	return nil
}

func (m *Memtable) insert(rec record.Record) {
	m.table.Put(string(rec.Key), rec.Value)
	m.approximateSize += rec.Size()
}

// Get looks up key, returning (value, true) if present.
func (m *Memtable) Get(key []byte) ([]byte, bool) {
	return m.table.Get(string(key))
}

// Scan returns an ordered iterator over keys in [lower, upper]; a nil bound
// is unbounded on that side.
func (m *Memtable) Scan(lower, upper []byte) iter.Seq[record.Record] {
	return func(yield func(record.Record) bool) {
		for key, value := range m.table.Range(lower, upper) {
			if !yield(record.New([]byte(key), value)) {
				return
			}
		}
	}
}

// All returns an ordered iterator over every record in the memtable.
func (m *Memtable) All() iter.Seq[record.Record] {
	return m.Scan(nil, nil)
}

// ApproximateSize returns the running sum of encoded record sizes of all
// inserts. It over-counts on key updates, which is acceptable: it only
// gates freeze decisions.
func (m *Memtable) ApproximateSize() int {
	return m.approximateSize
}

// Len returns the number of distinct keys currently stored.
func (m *Memtable) Len() int {
	return m.table.Len()
}

// WALPath returns the path of the memtable's backing WAL.
func (m *Memtable) WALPath() string {
	return m.wal.Path
}

// DeleteWAL removes the memtable's WAL. Valid only after the memtable has
// been durably flushed to an SSTable.
func (m *Memtable) DeleteWAL() error {
	return m.wal.RemoveSelf()
}

// CloseWAL releases the WAL's file descriptor without deleting it.
func (m *Memtable) CloseWAL() error {
	return m.wal.Close()
}
