package lsm

import (
	"fmt"
	"path/filepath"

	"github.com/flashlogdb/lsm/manifest"
	"github.com/flashlogdb/lsm/memtable"
	"github.com/flashlogdb/lsm/sstable"
)

// FlushNextImmutableMemtable builds an SSTable from the oldest immutable
// memtable, installs it at the head of level 0, records a Flush event, and
// deletes the flushed memtable's WAL. It holds the state mutex for the
// duration of build and install, then triggers try_compact outside it.
func (e *Engine) FlushNextImmutableMemtable() error {
	if e.isReadOnly() {
		return ErrReadOnly
	}

	e.stateMutex.Lock()

	e.stateLock.RLock()
	n := len(e.immutable)
	var oldest *memtable.Memtable
	if n > 0 {
		oldest = e.immutable[n-1]
	}
	e.stateLock.RUnlock()

	if oldest == nil {
		e.stateMutex.Unlock()
		return nil
	}

	sstPath := filepath.Join(e.directory, e.ids.next()+".sst")
	sst, err := buildSSTableFromMemtable(oldest, sstPath, e.config)
	if err != nil {
		e.stateMutex.Unlock()
		return fmt.Errorf("lsm: flushing: %w", err)
	}

	e.stateLock.Lock()
	e.immutable = e.immutable[:len(e.immutable)-1]
	e.l0 = append([]*sstable.SSTable{sst}, e.l0...)
	e.stateLock.Unlock()

	event := manifest.FlushEvent{SSTable: manifest.SSTableRef{Path: filepath.Base(sstPath)}}
	if err := e.manifest.WriteEvent(event); err != nil {
		e.setReadOnly()
		e.stateMutex.Unlock()
		return fmt.Errorf("%w: %v", ErrManifestWriteFailed, err)
	}

	if err := oldest.DeleteWAL(); err != nil {
		e.stateMutex.Unlock()
		return fmt.Errorf("lsm: deleting flushed wal: %w", err)
	}

	e.stateMutex.Unlock()

	return e.tryCompact()
}

func buildSSTableFromMemtable(mt *memtable.Memtable, path string, config Config) (*sstable.SSTable, error) {
	b := sstable.NewBuilder(config.MaxSSTableSize, config.BlockSize)
	for rec := range mt.All() {
		if err := b.Add(rec.Key, rec.Value); err != nil {
			return nil, err
		}
	}
	return b.Build(path)
}
