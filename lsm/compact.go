package lsm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/flashlogdb/lsm/iterator"
	"github.com/flashlogdb/lsm/manifest"
	"github.com/flashlogdb/lsm/sstable"
)

// ForceCompactionL0 merges the full level-0 set (newest-first) into new
// level-1 SSTables.
func (e *Engine) ForceCompactionL0() error {
	if e.isReadOnly() {
		return ErrReadOnly
	}

	e.stateLock.RLock()
	inputs := append([]*sstable.SSTable(nil), e.l0...)
	e.stateLock.RUnlock()

	if len(inputs) == 0 {
		return nil
	}

	its := make([]iterator.Iterator, 0, len(inputs))
	for _, sst := range inputs {
		it, err := iterator.NewSSTableIterator(sst, nil, nil)
		if err != nil {
			return err
		}
		its = append(its, it)
	}
	merged := iterator.NewMergingIterator(its)

	outputs, err := e.compact(merged)
	if err != nil {
		return fmt.Errorf("lsm: compacting level 0: %w", err)
	}

	return e.installCompaction(0, inputs, outputs)
}

// ForceCompactionLevel merges level L (L >= 1) in level order into new
// SSTables at level min(L+1, N).
func (e *Engine) ForceCompactionLevel(level int) error {
	if e.isReadOnly() {
		return ErrReadOnly
	}
	if level < 1 || level > len(e.levels) {
		return fmt.Errorf("lsm: level %d out of range", level)
	}

	e.stateLock.RLock()
	inputs := append([]*sstable.SSTable(nil), e.levels[level-1]...)
	e.stateLock.RUnlock()

	if len(inputs) == 0 {
		return nil
	}

	its := make([]iterator.Iterator, 0, len(inputs))
	for _, sst := range inputs {
		it, err := iterator.NewSSTableIterator(sst, nil, nil)
		if err != nil {
			return err
		}
		its = append(its, it)
	}
	concatenated := iterator.NewConcatenatingIterator(its)

	outputs, err := e.compact(concatenated)
	if err != nil {
		return fmt.Errorf("lsm: compacting level %d: %w", level, err)
	}

	return e.installCompaction(level, inputs, outputs)
}

// installCompaction prepends outputs to level min(level+1, N) and removes
// inputs from level (0 meaning l0), under the state mutex and write lock,
// then records the Compaction event. Input SSTable files are only deleted
// once the event is durable, so a manifest write failure leaves them
// intact.
func (e *Engine) installCompaction(level int, inputs, outputs []*sstable.SSTable) error {
	e.stateMutex.Lock()

	destLevel := level + 1
	if destLevel > len(e.levels) {
		destLevel = level
	}

	e.stateLock.Lock()
	if level == 0 {
		e.l0 = removeSSTables(e.l0, inputs)
	} else {
		e.levels[level-1] = removeSSTables(e.levels[level-1], inputs)
	}
	if destLevel > 0 {
		e.levels[destLevel-1] = append(append([]*sstable.SSTable(nil), outputs...), e.levels[destLevel-1]...)
	}
	e.stateLock.Unlock()

	event := compactionEvent(level, inputs, outputs)
	if err := e.manifest.WriteEvent(event); err != nil {
		e.setReadOnly()
		e.stateMutex.Unlock()
		return fmt.Errorf("%w: %v", ErrManifestWriteFailed, err)
	}

	e.stateMutex.Unlock()

	for _, sst := range inputs {
		path := sst.Path()
		sst.Close()
		os.Remove(path)
	}

	return nil
}

func compactionEvent(level int, inputs, outputs []*sstable.SSTable) manifest.CompactionEvent {
	in := make([]manifest.SSTableRef, len(inputs))
	for i, sst := range inputs {
		in[i] = manifest.SSTableRef{Path: filepath.Base(sst.Path())}
	}
	out := make([]manifest.SSTableRef, len(outputs))
	for i, sst := range outputs {
		out[i] = manifest.SSTableRef{Path: filepath.Base(sst.Path())}
	}
	return manifest.CompactionEvent{Level: level, InSSTables: in, OutSSTables: out}
}

func removeSSTables(list, remove []*sstable.SSTable) []*sstable.SSTable {
	drop := make(map[string]bool, len(remove))
	for _, sst := range remove {
		drop[sst.Path()] = true
	}
	var kept []*sstable.SSTable
	for _, sst := range list {
		if !drop[sst.Path()] {
			kept = append(kept, sst)
		}
	}
	return kept
}

// compact drains it, filling SSTableBuilders sized to max_sstable_size/
// block_size and rotating to a fresh builder once the in-progress buffer
// reaches max_sstable_size. Duplicates are already filtered out by the
// MergingIterator's newest-wins rule before reaching the builder.
func (e *Engine) compact(it iterator.Iterator) ([]*sstable.SSTable, error) {
	var outputs []*sstable.SSTable
	builder := sstable.NewBuilder(e.config.MaxSSTableSize, e.config.BlockSize)
	hasRecords := false

	flush := func() error {
		if !hasRecords {
			return nil
		}
		path := filepath.Join(e.directory, e.ids.next()+".sst")
		sst, err := builder.Build(path)
		if err != nil {
			return err
		}
		outputs = append(outputs, sst)
		return nil
	}

	for it.Valid() {
		if builder.CurrentBufferPosition() >= e.config.MaxSSTableSize {
			if err := flush(); err != nil {
				return nil, err
			}
			builder = sstable.NewBuilder(e.config.MaxSSTableSize, e.config.BlockSize)
			hasRecords = false
		}

		if err := builder.Add(it.Key(), it.Value()); err != nil {
			return nil, err
		}
		hasRecords = true

		if err := it.Next(); err != nil {
			return nil, err
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// tryCompact evaluates the compaction triggers: level 0 compacts once it
// holds at least max_l0_sstables tables; each level L from 1 to N-1
// compacts once it is non-empty and at least levels_ratio * |level L+1|.
// A single call can cascade through multiple levels.
func (e *Engine) tryCompact() error {
	e.stateLock.RLock()
	l0Size := len(e.l0)
	e.stateLock.RUnlock()

	if l0Size >= e.config.MaxL0SSTables {
		if err := e.ForceCompactionL0(); err != nil {
			return err
		}
	}

	for level := 1; level < len(e.levels); level++ {
		e.stateLock.RLock()
		size := len(e.levels[level-1])
		nextSize := len(e.levels[level])
		e.stateLock.RUnlock()

		if size > 0 && float64(size) >= e.config.LevelsRatio*float64(nextSize) {
			if err := e.ForceCompactionLevel(level); err != nil {
				return err
			}
		}
	}

	return nil
}
