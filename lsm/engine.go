// Package lsm implements the LSM-tree engine: the in-memory memtable
// pipeline, the on-disk SSTable levels, and the puts/freezes/flushes/
// compactions/reads/scans that tie them together under a two-lock
// concurrency model.
package lsm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flashlogdb/lsm/iterator"
	"github.com/flashlogdb/lsm/manifest"
	"github.com/flashlogdb/lsm/memtable"
	"github.com/flashlogdb/lsm/sstable"
)

const manifestFileName = "manifest.txt"

// Engine is one embedded, single-process, ordered key-value store.
type Engine struct {
	directory string
	config    Config
	manifest  *manifest.Manifest
	ids       idGenerator

	// stateMutex serializes state-mutating orchestration: freezes,
	// flushes and compactions. At most one such operation runs at a
	// time.
	stateMutex sync.Mutex

	// stateLock guards active/immutable/l0/levels against concurrent
	// readers and writers. Many readers may observe state concurrently;
	// a writer excludes all readers and other writers.
	stateLock sync.RWMutex

	active    *memtable.Memtable
	immutable []*memtable.Memtable // newest at index 0
	l0        []*sstable.SSTable   // newest at index 0
	levels    [][]*sstable.SSTable // levels[i] is level i+1, newest at index 0

	readOnly bool
}

// Create creates directory if missing, installs a fresh manifest and
// active memtable, and returns a new, empty store.
func Create(directory string, opts ...Option) (*Engine, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("lsm: creating directory %s: %w", directory, err)
	}

	config := newConfig(opts...)

	m, err := manifest.Create(filepath.Join(directory, manifestFileName), config.header())
	if err != nil {
		return nil, err
	}

	e := &Engine{directory: directory, config: config, manifest: m, levels: make([][]*sstable.SSTable, config.NbLevels)}

	active, err := memtable.Create(filepath.Join(directory, e.ids.next()+".wal"))
	if err != nil {
		m.Close()
		return nil, err
	}
	e.active = active

	return e, nil
}

// Open decodes the manifest and rebuilds (l0, levels), then installs a
// fresh active memtable. WALs left behind by memtables that were never
// flushed are replayed into immutable memtables ordered oldest to newest
// (so the newest replayed WAL ends up at the head of immutable), since
// their content would otherwise be durable but invisible to reads.
func Open(directory string) (*Engine, error) {
	m, err := manifest.Open(filepath.Join(directory, manifestFileName))
	if err != nil {
		return nil, err
	}

	header, events, err := m.Decode()
	if err != nil {
		m.Close()
		return nil, err
	}

	l0Paths, levelPaths, err := manifest.ReconstructSSTables(header, events)
	if err != nil {
		m.Close()
		return nil, err
	}

	e := &Engine{
		directory: directory,
		config:    configFromHeader(header),
		manifest:  m,
		levels:    make([][]*sstable.SSTable, len(levelPaths)),
	}

	for _, p := range l0Paths {
		e.observeID(p)
	}

	e.l0, err = openSSTables(directory, l0Paths)
	if err != nil {
		m.Close()
		return nil, err
	}
	for i, paths := range levelPaths {
		for _, p := range paths {
			e.observeID(p)
		}
		sstables, err := openSSTables(directory, paths)
		if err != nil {
			m.Close()
			return nil, err
		}
		e.levels[i] = sstables
	}

	immutable, err := recoverUnflushedMemtables(directory, &e.ids)
	if err != nil {
		m.Close()
		return nil, err
	}
	e.immutable = immutable

	active, err := memtable.Create(filepath.Join(directory, e.ids.next()+".wal"))
	if err != nil {
		m.Close()
		return nil, err
	}
	e.active = active

	return e, nil
}

func (e *Engine) observeID(path string) {
	id := idFromSSTablePath(path)
	if id > 0 {
		e.ids.observe(id)
	}
}

func openSSTables(directory string, paths []string) ([]*sstable.SSTable, error) {
	out := make([]*sstable.SSTable, 0, len(paths))
	for _, p := range paths {
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(directory, p)
		}
		sst, err := sstable.BuildFromPath(full)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrManifestInconsistent, p, err)
		}
		out = append(out, sst)
	}
	return out, nil
}

// Close freezes the active memtable if non-empty, then flushes every
// immutable memtable to disk in order.
func (e *Engine) Close() error {
	e.stateMutex.Lock()
	if e.active.Len() > 0 {
		e.freezeLocked()
	}
	e.stateMutex.Unlock()

	for {
		e.stateLock.RLock()
		remaining := len(e.immutable)
		e.stateLock.RUnlock()
		if remaining == 0 {
			break
		}
		if err := e.FlushNextImmutableMemtable(); err != nil {
			return err
		}
	}

	return e.manifest.Close()
}

// Put appends key/value to the active memtable's WAL and ordered map, then
// triggers a freeze if the memtable has grown past the configured
// threshold.
func (e *Engine) Put(key, value []byte) error {
	if e.isReadOnly() {
		return ErrReadOnly
	}

	// The write lock serializes concurrent writers on the active
	// memtable, whose skip list is not safe for concurrent inserts.
	e.stateLock.Lock()
	err := e.active.Put(key, value)
	e.stateLock.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	e.tryFreeze()
	return nil
}

func (e *Engine) tryFreeze() {
	e.stateLock.RLock()
	size := e.active.ApproximateSize()
	e.stateLock.RUnlock()

	if size < e.config.MaxSSTableSize {
		return
	}

	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.active.ApproximateSize() < e.config.MaxSSTableSize {
		return
	}
	e.freezeLocked()
}

// freezeLocked must be called with stateMutex held. It prepends the
// current active memtable to immutable and installs a fresh one.
func (e *Engine) freezeLocked() {
	fresh, err := memtable.Create(filepath.Join(e.directory, e.ids.next()+".wal"))
	if err != nil {
		// Keep serving reads/writes against the existing active memtable;
		// a transient WAL-creation failure does not corrupt state.
		return
	}

	e.stateLock.Lock()
	old := e.active
	e.immutable = append([]*memtable.Memtable{old}, e.immutable...)
	e.active = fresh
	e.stateLock.Unlock()
}

// Get walks active memtable, immutable memtables (newest to oldest),
// level-0 SSTables (newest to oldest, Bloom-filtered) and levels 1..N
// (range- and Bloom-filtered), returning the first hit.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	e.stateLock.RLock()
	active := e.active
	immutable := append([]*memtable.Memtable(nil), e.immutable...)
	l0 := append([]*sstable.SSTable(nil), e.l0...)
	levels := make([][]*sstable.SSTable, len(e.levels))
	for i, lvl := range e.levels {
		levels[i] = append([]*sstable.SSTable(nil), lvl...)
	}
	e.stateLock.RUnlock()

	if v, ok := active.Get(key); ok {
		return v, true, nil
	}
	for _, mt := range immutable {
		if v, ok := mt.Get(key); ok {
			return v, true, nil
		}
	}

	for _, sst := range l0 {
		if !sst.MayContain(key) {
			continue
		}
		v, ok, err := sst.Get(key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return v, true, nil
		}
	}

	for _, level := range levels {
		for _, sst := range level {
			if !sst.InRange(key) || !sst.MayContain(key) {
				continue
			}
			v, ok, err := sst.Get(key)
			if err != nil {
				return nil, false, err
			}
			if ok {
				return v, true, nil
			}
			break // ranges are disjoint within a level >= 1
		}
	}

	return nil, false, nil
}

// Scan returns a MergingIterator over active memtable, immutable
// memtables (newest to oldest), l0 SSTables (newest to oldest), and each
// level >= 1 as a ConcatenatingIterator over its range-overlapping
// SSTables.
func (e *Engine) Scan(lower, upper []byte) (iterator.Iterator, error) {
	if lower != nil && upper != nil && bytes.Compare(upper, lower) < 0 {
		return nil, ErrRangeInvalid
	}

	e.stateLock.RLock()
	active := e.active
	immutable := append([]*memtable.Memtable(nil), e.immutable...)
	l0 := append([]*sstable.SSTable(nil), e.l0...)
	levels := make([][]*sstable.SSTable, len(e.levels))
	for i, lvl := range e.levels {
		levels[i] = append([]*sstable.SSTable(nil), lvl...)
	}
	e.stateLock.RUnlock()

	var its []iterator.Iterator
	its = append(its, iterator.NewMemtableIterator(active.Scan(lower, upper)))
	for _, mt := range immutable {
		its = append(its, iterator.NewMemtableIterator(mt.Scan(lower, upper)))
	}
	for _, sst := range l0 {
		it, err := iterator.NewSSTableIterator(sst, lower, upper)
		if err != nil {
			return nil, err
		}
		its = append(its, it)
	}
	for _, level := range levels {
		var levelIts []iterator.Iterator
		for _, sst := range level {
			if !overlaps(sst, lower, upper) {
				continue
			}
			it, err := iterator.NewSSTableIterator(sst, lower, upper)
			if err != nil {
				return nil, err
			}
			levelIts = append(levelIts, it)
		}
		if len(levelIts) > 0 {
			its = append(its, iterator.NewConcatenatingIterator(levelIts))
		}
	}

	return iterator.NewMergingIterator(its), nil
}

func overlaps(sst *sstable.SSTable, lower, upper []byte) bool {
	if lower != nil && bytes.Compare(sst.LastKey(), lower) < 0 {
		return false
	}
	if upper != nil && bytes.Compare(sst.FirstKey(), upper) > 0 {
		return false
	}
	return true
}

func (e *Engine) isReadOnly() bool {
	e.stateLock.RLock()
	defer e.stateLock.RUnlock()
	return e.readOnly
}

func (e *Engine) setReadOnly() {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	e.readOnly = true
}
