// Package sstable implements the on-disk sorted string table format: data
// blocks followed by meta blocks, a Bloom filter, and a fixed footer.
package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/flashlogdb/lsm/block"
	"github.com/flashlogdb/lsm/bloomfilter"
)

// ErrMalformedSSTable is returned when an on-disk file cannot be decoded as
// a valid SSTable.
var ErrMalformedSSTable = errors.New("sstable: malformed")

// footerSize is the width, in bytes, of the trailing meta_offset ‖
// bloom_offset pair.
const footerSize = 8

// SSTable is a read handle over one immutable, sorted run of records on
// disk. Data blocks are read lazily and individually; the handle keeps the
// meta blocks and Bloom filter decoded in memory, and its File holds the
// whole file in memory when it is no larger than inlineReadLimit.
type SSTable struct {
	file            *File
	metaBlocks      []block.MetaBlock
	metaBlockOffset int32
	bloomOffset     int32
	bloomFilter     *bloomfilter.Filter
	firstKey        []byte
	lastKey         []byte
}

// FirstKey returns the smallest key stored in the table.
func (s *SSTable) FirstKey() []byte { return s.firstKey }

// LastKey returns the largest key stored in the table.
func (s *SSTable) LastKey() []byte { return s.lastKey }

// Path returns the backing file's path.
func (s *SSTable) Path() string { return s.file.Path }

// NumBlocks returns the number of data blocks in the table.
func (s *SSTable) NumBlocks() int { return len(s.metaBlocks) }

// MayContain reports whether key could be present, consulting the Bloom
// filter only. A false positive is possible; a false negative is not.
func (s *SSTable) MayContain(key []byte) bool {
	return s.bloomFilter.MayContain(key)
}

// InRange reports whether key falls within [FirstKey, LastKey].
func (s *SSTable) InRange(key []byte) bool {
	if s.firstKey == nil {
		return false
	}
	return bytes.Compare(key, s.firstKey) >= 0 && bytes.Compare(key, s.lastKey) <= 0
}

// FindBlockID returns the index of the data block that could contain key,
// and whether one was found. Meta blocks are ordered by key range, so a
// binary search over last keys suffices.
func (s *SSTable) FindBlockID(key []byte) (int, bool) {
	if len(s.metaBlocks) == 0 || !s.InRange(key) {
		return 0, false
	}

	idx := s.BlockIndexAtOrAfter(key)
	if idx >= len(s.metaBlocks) {
		return 0, false
	}
	if bytes.Compare(key, s.metaBlocks[idx].FirstKey) < 0 {
		return 0, false
	}
	return idx, true
}

// BlockIndexAtOrAfter returns the index of the first data block whose
// LastKey >= key, or NumBlocks() if none. Used by scans to locate the
// starting block even when key falls in a gap between blocks or before the
// first one.
func (s *SSTable) BlockIndexAtOrAfter(key []byte) int {
	return sort.Search(len(s.metaBlocks), func(i int) bool {
		return bytes.Compare(s.metaBlocks[i].LastKey, key) >= 0
	})
}

// BlockKeyRange returns the [FirstKey, LastKey] range of block i without
// reading its data bytes, so a scan can skip blocks entirely outside its
// bounds cheaply.
func (s *SSTable) BlockKeyRange(i int) ([]byte, []byte) {
	return s.metaBlocks[i].FirstKey, s.metaBlocks[i].LastKey
}

// ReadDataBlock reads and decodes the data block at index i.
func (s *SSTable) ReadDataBlock(i int) (*block.DataBlock, error) {
	if i < 0 || i >= len(s.metaBlocks) {
		return nil, fmt.Errorf("sstable: block index %d out of range", i)
	}

	start := int64(s.metaBlocks[i].Offset)
	var end int64
	if i+1 < len(s.metaBlocks) {
		end = int64(s.metaBlocks[i+1].Offset)
	} else {
		end = int64(s.metaBlockOffset)
	}

	raw, err := s.file.ReadRange(start, end)
	if err != nil {
		return nil, err
	}
	return block.FromBytes(raw)
}

// Get performs a point lookup, consulting the Bloom filter before touching
// any data block.
func (s *SSTable) Get(key []byte) ([]byte, bool, error) {
	if !s.MayContain(key) {
		return nil, false, nil
	}

	id, ok := s.FindBlockID(key)
	if !ok {
		return nil, false, nil
	}

	db, err := s.ReadDataBlock(id)
	if err != nil {
		return nil, false, err
	}

	value, found := db.Get(key)
	return value, found, nil
}

// Close releases the backing file handle.
func (s *SSTable) Close() error {
	return s.file.Close()
}

// build assembles an SSTable from an already-written file handle by
// decoding its footer, meta blocks and Bloom filter. It does not read any
// data block eagerly.
func build(file *File) (*SSTable, error) {
	if file.Size() < footerSize {
		return nil, ErrMalformedSSTable
	}

	footer, err := file.ReadRange(file.Size()-footerSize, file.Size())
	if err != nil {
		return nil, err
	}
	metaOffset := int32(binary.LittleEndian.Uint32(footer[0:4]))
	bloomOffset := int32(binary.LittleEndian.Uint32(footer[4:8]))

	if metaOffset < 0 || bloomOffset < metaOffset || int64(bloomOffset) > file.Size()-footerSize {
		return nil, ErrMalformedSSTable
	}

	metaRaw, err := file.ReadRange(int64(metaOffset), int64(bloomOffset))
	if err != nil {
		return nil, err
	}

	var metaBlocks []block.MetaBlock
	for len(metaRaw) > 0 {
		mb, n, err := block.MetaBlockFromBytes(metaRaw)
		if err != nil {
			return nil, fmt.Errorf("sstable: decoding meta blocks: %w", err)
		}
		metaBlocks = append(metaBlocks, mb)
		metaRaw = metaRaw[n:]
	}
	if len(metaBlocks) == 0 {
		return nil, ErrMalformedSSTable
	}

	bloomRaw, err := file.ReadRange(int64(bloomOffset), file.Size()-footerSize)
	if err != nil {
		return nil, err
	}
	filter, err := bloomfilter.Decode(bloomRaw)
	if err != nil {
		return nil, fmt.Errorf("sstable: decoding bloom filter: %w", err)
	}

	return &SSTable{
		file:            file,
		metaBlocks:      metaBlocks,
		metaBlockOffset: metaOffset,
		bloomOffset:     bloomOffset,
		bloomFilter:     filter,
		firstKey:        metaBlocks[0].FirstKey,
		lastKey:         metaBlocks[len(metaBlocks)-1].LastKey,
	}, nil
}

// BuildFromPath opens path and decodes it as an SSTable.
func BuildFromPath(path string) (*SSTable, error) {
	file, err := Open(path)
	if err != nil {
		return nil, err
	}
	sst, err := build(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return sst, nil
}
