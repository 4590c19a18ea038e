package sstable

import (
	"encoding/binary"

	"github.com/flashlogdb/lsm/block"
	"github.com/flashlogdb/lsm/bloomfilter"
)

// DefaultBloomFPRate is the false positive rate targeted when a builder's
// Bloom filter is not otherwise configured.
const DefaultBloomFPRate = 0.001

// Builder streams records into data blocks and, once finished, emits a
// single immutable SSTable file.
type Builder struct {
	sstableSize int
	blockSize   int
	fpRate      float64

	blockBuilder *block.Builder
	buffer       []byte
	metaBlocks   []block.MetaBlock
	keys         [][]byte
	firstKey     []byte
	lastKey      []byte
}

// NewBuilder returns a Builder whose data blocks are each capped at
// blockSize bytes. sstableSize is recorded but not enforced: Add never
// refuses a record because of the table's total size, and callers rotate
// to a new Builder using CurrentBufferPosition.
func NewBuilder(sstableSize, blockSize int) *Builder {
	return &Builder{
		sstableSize:  sstableSize,
		blockSize:    blockSize,
		fpRate:       DefaultBloomFPRate,
		blockBuilder: block.NewBuilder(blockSize),
	}
}

// CurrentBufferPosition returns how many data-block bytes have been
// finalized into the builder's in-progress buffer so far. The engine uses
// this to decide when to roll a compaction output over into a new
// SSTable.
func (b *Builder) CurrentBufferPosition() int {
	return len(b.buffer)
}

// Add appends (key, value) to the SSTable under construction. If the
// current block refuses the record, the block is finalized, a new block is
// started, and the record is retried. ErrBlockOverflow is returned if the
// record does not fit even in a fresh, empty block.
func (b *Builder) Add(key, value []byte) error {
	if b.blockBuilder.Add(key, value) {
		b.trackKey(key)
		return nil
	}

	if !b.blockBuilder.IsEmpty() {
		b.finishBlock()
		b.blockBuilder = block.NewBuilder(b.blockSize)
	}

	if !b.blockBuilder.Add(key, value) {
		return block.ErrBlockOverflow
	}
	b.trackKey(key)
	return nil
}

func (b *Builder) trackKey(key []byte) {
	keyCopy := append([]byte(nil), key...)
	b.keys = append(b.keys, keyCopy)
	if b.firstKey == nil {
		b.firstKey = keyCopy
	}
	b.lastKey = keyCopy
}

// finishBlock is idempotent when the current block is empty: it is a no-op
// in that case so callers may call it freely at the tail of Build.
func (b *Builder) finishBlock() {
	if b.blockBuilder.IsEmpty() {
		return
	}

	data := b.blockBuilder.CreateBlock()
	encoded := data.ToBytes()

	b.metaBlocks = append(b.metaBlocks, block.MetaBlock{
		FirstKey: b.blockBuilder.FirstKey(),
		LastKey:  b.blockBuilder.LastKey(),
		Offset:   int32(len(b.buffer)),
	})

	b.buffer = append(b.buffer, encoded...)
}

// Build finalizes the last in-progress block, constructs the Bloom filter
// over all written keys and writes the full on-disk layout to path.
func (b *Builder) Build(path string) (*SSTable, error) {
	b.finishBlock()

	filter := bloomfilter.FromKeys(b.keys, b.fpRate)

	metaOffset := int32(len(b.buffer))
	var encodedMeta []byte
	for _, mb := range b.metaBlocks {
		encodedMeta = append(encodedMeta, mb.ToBytes()...)
	}

	bloomOffset := metaOffset + int32(len(encodedMeta))
	encodedBloom := filter.Encode()

	footer := make([]byte, 8)
	binary.LittleEndian.PutUint32(footer[0:4], uint32(metaOffset))
	binary.LittleEndian.PutUint32(footer[4:8], uint32(bloomOffset))

	full := make([]byte, 0, len(b.buffer)+len(encodedMeta)+len(encodedBloom)+len(footer))
	full = append(full, b.buffer...)
	full = append(full, encodedMeta...)
	full = append(full, encodedBloom...)
	full = append(full, footer...)

	file, err := create(path, full)
	if err != nil {
		return nil, err
	}

	return &SSTable{
		file:            file,
		metaBlocks:      b.metaBlocks,
		metaBlockOffset: metaOffset,
		bloomOffset:     bloomOffset,
		bloomFilter:     filter,
		firstKey:        b.firstKey,
		lastKey:         b.lastKey,
	}, nil
}
