// Package block implements the data block and meta block formats that make
// up an SSTable: a fixed-budget batch of ordered records with an in-block
// offset index, and the per-block descriptor that indexes it.
package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/flashlogdb/lsm/record"
)

// ErrMalformedBlock is returned when a buffer cannot be decoded as a data
// block or a meta block.
var ErrMalformedBlock = errors.New("block: malformed")

// ErrBlockOverflow is returned when a single record is larger than the
// block's target size, so it could never fit regardless of rollover.
var ErrBlockOverflow = errors.New("block: record larger than target size")

// DataBlock is an immutable, ordered run of encoded records plus the
// per-record byte offsets needed to binary-search and iterate them.
//
// On-disk layout: records ‖ offset_i (u16 LE) * n ‖ n (u16 LE).
type DataBlock struct {
	data    []byte
	offsets []uint16
}

// NumRecords returns the number of records in the block.
func (b *DataBlock) NumRecords() int {
	return len(b.offsets)
}

// RecordAt decodes and returns the record at index i.
func (b *DataBlock) RecordAt(i int) (record.Record, error) {
	if i < 0 || i >= len(b.offsets) {
		return record.Record{}, ErrMalformedBlock
	}
	start := int(b.offsets[i])
	end := len(b.data)
	if i+1 < len(b.offsets) {
		end = int(b.offsets[i+1])
	}
	if start > len(b.data) || end > len(b.data) || start > end {
		return record.Record{}, ErrMalformedBlock
	}
	r, _, err := record.Decode(b.data[start:end])
	if err != nil {
		return record.Record{}, err
	}
	return r, nil
}

// SeekGE returns the index of the first record whose key is >= key, or
// NumRecords() if no such record exists. Keys are assumed non-decreasing,
// so a binary search suffices.
func (b *DataBlock) SeekGE(key []byte) int {
	n := len(b.offsets)
	return sort.Search(n, func(i int) bool {
		r, err := b.RecordAt(i)
		if err != nil {
			return true
		}
		return bytes.Compare(r.Key, key) >= 0
	})
}

// Get performs a point lookup for key within the block.
func (b *DataBlock) Get(key []byte) ([]byte, bool) {
	idx := b.SeekGE(key)
	if idx >= len(b.offsets) {
		return nil, false
	}
	r, err := b.RecordAt(idx)
	if err != nil || !bytes.Equal(r.Key, key) {
		return nil, false
	}
	return r.Value, true
}

// Size returns the number of bytes ToBytes would produce.
func (b *DataBlock) Size() int {
	return len(b.data) + 2*len(b.offsets) + 2
}

// ToBytes encodes the block as records ‖ offsets ‖ count.
func (b *DataBlock) ToBytes() []byte {
	buf := make([]byte, b.Size())
	n := copy(buf, b.data)
	for _, off := range b.offsets {
		binary.LittleEndian.PutUint16(buf[n:n+2], off)
		n += 2
	}
	binary.LittleEndian.PutUint16(buf[n:n+2], uint16(len(b.offsets)))
	return buf
}

// FromBytes decodes a block previously produced by ToBytes.
func FromBytes(data []byte) (*DataBlock, error) {
	if len(data) < 2 {
		return nil, ErrMalformedBlock
	}

	countOffset := len(data) - 2
	numRecords := int(binary.LittleEndian.Uint16(data[countOffset:]))

	offsetsSize := numRecords * 2
	if offsetsSize+2 > len(data) {
		return nil, ErrMalformedBlock
	}
	offsetsStart := countOffset - offsetsSize

	offsets := make([]uint16, numRecords)
	for i := 0; i < numRecords; i++ {
		offsets[i] = binary.LittleEndian.Uint16(data[offsetsStart+2*i : offsetsStart+2*i+2])
	}

	return &DataBlock{data: data[:offsetsStart], offsets: offsets}, nil
}

// Builder accumulates records into a single DataBlock, refusing any record
// that would push the block past its target size.
type Builder struct {
	targetSize int
	buf        bytes.Buffer
	offsets    []uint16
	firstKey   []byte
	lastKey    []byte
}

// NewBuilder returns a Builder whose finished block, encoded by ToBytes
// (records, offsets and count), will not exceed targetSize bytes.
func NewBuilder(targetSize int) *Builder {
	return &Builder{targetSize: targetSize}
}

// FirstKey returns the key of the first record added, or nil if empty.
func (bb *Builder) FirstKey() []byte { return bb.firstKey }

// LastKey returns the key of the most recently added record, or nil if
// empty.
func (bb *Builder) LastKey() []byte { return bb.lastKey }

// IsEmpty reports whether no record has been added yet.
func (bb *Builder) IsEmpty() bool { return len(bb.offsets) == 0 }

// Add appends (key, value) to the block if it fits. It returns false,
// leaving the builder unchanged, when the post-add size would exceed the
// target size.
func (bb *Builder) Add(key, value []byte) bool {
	encoded := record.Encode(key, value)
	newSize := bb.buf.Len() + len(encoded) + 2*(len(bb.offsets)+1) + 2
	if newSize > bb.targetSize {
		return false
	}

	bb.offsets = append(bb.offsets, uint16(bb.buf.Len()))
	bb.buf.Write(encoded)
	if bb.firstKey == nil {
		bb.firstKey = append([]byte(nil), key...)
	}
	bb.lastKey = append([]byte(nil), key...)

	return true
}

// CreateBlock finalizes the builder's contents into an immutable DataBlock.
// CreateBlock is idempotent: calling it repeatedly without further Adds
// returns equivalent blocks.
func (bb *Builder) CreateBlock() *DataBlock {
	data := make([]byte, bb.buf.Len())
	copy(data, bb.buf.Bytes())
	offsets := make([]uint16, len(bb.offsets))
	copy(offsets, bb.offsets)
	return &DataBlock{data: data, offsets: offsets}
}

// MetaBlock describes one data block within an SSTable: its key range and
// its byte offset in the file.
//
// On-disk layout: first_key_len(u16) ‖ first_key ‖ last_key_len(u16) ‖
// last_key ‖ offset(i32).
type MetaBlock struct {
	FirstKey []byte
	LastKey  []byte
	Offset   int32
}

// Size returns the number of bytes ToBytes would produce.
func (m MetaBlock) Size() int {
	return 2 + len(m.FirstKey) + 2 + len(m.LastKey) + 4
}

// ToBytes encodes the meta block.
func (m MetaBlock) ToBytes() []byte {
	buf := make([]byte, m.Size())
	n := 0
	binary.LittleEndian.PutUint16(buf[n:n+2], uint16(len(m.FirstKey)))
	n += 2
	n += copy(buf[n:], m.FirstKey)
	binary.LittleEndian.PutUint16(buf[n:n+2], uint16(len(m.LastKey)))
	n += 2
	n += copy(buf[n:], m.LastKey)
	binary.LittleEndian.PutUint32(buf[n:n+4], uint32(m.Offset))
	return buf
}

// MetaBlockFromBytes decodes a single meta block from the front of data and
// returns it along with the number of bytes consumed.
func MetaBlockFromBytes(data []byte) (MetaBlock, int, error) {
	if len(data) < 2 {
		return MetaBlock{}, 0, ErrMalformedBlock
	}
	pos := 0
	firstKeyLen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+firstKeyLen+2 > len(data) {
		return MetaBlock{}, 0, ErrMalformedBlock
	}
	firstKey := data[pos : pos+firstKeyLen]
	pos += firstKeyLen

	lastKeyLen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+lastKeyLen+4 > len(data) {
		return MetaBlock{}, 0, ErrMalformedBlock
	}
	lastKey := data[pos : pos+lastKeyLen]
	pos += lastKeyLen

	offset := int32(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4

	return MetaBlock{
		FirstKey: append([]byte(nil), firstKey...),
		LastKey:  append([]byte(nil), lastKey...),
		Offset:   offset,
	}, pos, nil
}
