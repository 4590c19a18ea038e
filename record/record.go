// Package record handles encoding and decoding of the (key, value) pairs
// that flow through every layer of the store: the memtable, the
// write-ahead log and the SSTable data blocks.
package record

import (
	"encoding/binary"
	"errors"
)

// ErrMalformedRecord is returned when a buffer claims a key or value length
// that exceeds the bytes actually available.
var ErrMalformedRecord = errors.New("record: malformed")

const lengthPrefixSize = 4

// Record is a single key-value pair. Keys order lexicographically as raw
// byte strings; values are opaque.
type Record struct {
	Key   []byte
	Value []byte
}

// New builds a Record, copying neither key nor value.
func New(key, value []byte) Record {
	return Record{Key: key, Value: value}
}

// IsDuplicate reports whether r and other share the same key. Equality of a
// Record as a whole additionally requires equal values; duplicate-ness only
// cares about the key, which is what the merging iterator needs to decide
// which of two records with the same key should win.
func (r Record) IsDuplicate(other Record) bool {
	return string(r.Key) == string(other.Key)
}

// Equal reports whether r and other have the same key and value.
func (r Record) Equal(other Record) bool {
	return string(r.Key) == string(other.Key) && string(r.Value) == string(other.Value)
}

// Size returns the number of bytes Encode would produce for r.
func (r Record) Size() int {
	return lengthPrefixSize + len(r.Key) + lengthPrefixSize + len(r.Value)
}

// Encode serializes r as key_len(4B LE) ‖ key ‖ value_len(4B LE) ‖ value.
func Encode(key, value []byte) []byte {
	buf := make([]byte, lengthPrefixSize+len(key)+lengthPrefixSize+len(value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	n := 4
	n += copy(buf[n:], key)
	binary.LittleEndian.PutUint32(buf[n:n+4], uint32(len(value)))
	n += 4
	copy(buf[n:], value)
	return buf
}

// Decode reads a single record from the front of data and returns it along
// with the number of bytes consumed. It fails with ErrMalformedRecord when
// the declared key or value length runs past the end of data.
func Decode(data []byte) (Record, int, error) {
	if len(data) < lengthPrefixSize {
		return Record{}, 0, ErrMalformedRecord
	}
	keyLen := binary.LittleEndian.Uint32(data[0:4])
	pos := uint32(lengthPrefixSize)
	if uint64(pos)+uint64(keyLen) > uint64(len(data)) {
		return Record{}, 0, ErrMalformedRecord
	}
	key := data[pos : pos+keyLen]
	pos += keyLen

	if uint64(pos)+lengthPrefixSize > uint64(len(data)) {
		return Record{}, 0, ErrMalformedRecord
	}
	valueLen := binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += lengthPrefixSize
	if uint64(pos)+uint64(valueLen) > uint64(len(data)) {
		return Record{}, 0, ErrMalformedRecord
	}
	value := data[pos : pos+valueLen]
	pos += valueLen

	return Record{Key: key, Value: value}, int(pos), nil
}
