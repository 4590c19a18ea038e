package lsm

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/flashlogdb/lsm/memtable"
)

var walFileNamePattern = regexp.MustCompile(`^(\d+)\.wal$`)

// idFromSSTablePath extracts the numeric id stem from an SSTable or WAL
// file name (e.g. "1690000000000000.sst" -> 1690000000000000), returning 0
// if the name does not match that shape.
func idFromSSTablePath(path string) int64 {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	id, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

type walEntry struct {
	id   int64
	path string
}

// recoverUnflushedMemtables scans directory for WAL files left behind by
// memtables that were never flushed (their SSTable, if any, would have
// been referenced by the manifest and opened already; a WAL surviving on
// disk on its own means its memtable never made it into a Flush event) and
// replays each into an immutable memtable. The result is ordered oldest to
// newest replayed, then reversed so the newest sits at index 0 (the deque
// head), matching every other in-memory state list in the engine.
func recoverUnflushedMemtables(directory string, ids *idGenerator) ([]*memtable.Memtable, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, fmt.Errorf("lsm: scanning %s for wal files: %w", directory, err)
	}

	var wals []walEntry
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		matches := walFileNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			continue
		}
		wals = append(wals, walEntry{id: id, path: filepath.Join(directory, entry.Name())})
	}

	sort.Slice(wals, func(i, j int) bool { return wals[i].id < wals[j].id })

	immutable := make([]*memtable.Memtable, 0, len(wals))
	for _, w := range wals {
		mt, err := memtable.CreateFromWAL(w.path)
		if err != nil {
			return nil, fmt.Errorf("lsm: replaying %s: %w", w.path, err)
		}
		ids.observe(w.id)
		immutable = append(immutable, mt)
	}

	// Reverse in place: oldest-to-newest becomes newest-at-head.
	for i, j := 0, len(immutable)-1; i < j; i, j = i+1, j-1 {
		immutable[i], immutable[j] = immutable[j], immutable[i]
	}

	return immutable, nil
}
