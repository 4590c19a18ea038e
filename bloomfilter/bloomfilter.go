// Package bloomfilter implements the probabilistic key-set used to skip
// SSTables that cannot possibly contain a given key. It is a thin,
// format-controlling wrapper around github.com/bits-and-blooms/bloom/v3.
package bloomfilter

import (
	"bytes"
	"errors"
	"math"

	"github.com/bits-and-blooms/bloom/v3"
)

// ErrMalformedFilter is returned when a byte slice is too short to hold an
// encoded filter.
var ErrMalformedFilter = errors.New("bloomfilter: malformed")

// Filter is a Bloom filter over byte-string keys.
type Filter struct {
	bf *bloom.BloomFilter
}

// New allocates a filter with nbBytes*8 bits and k hash functions.
func New(nbBytes, k uint32) *Filter {
	return &Filter{bf: bloom.New(uint(nbBytes)*8, uint(k))}
}

// FromKeys builds a filter sized for the given keys at the target false
// positive rate, using the standard formulas:
//
//	m = -n * ln(p) / (ln 2)^2
//	k = (m / n) * ln 2
func FromKeys(keys [][]byte, fpRate float64) *Filter {
	n := len(keys)
	if n == 0 {
		n = 1
	}

	m := (-float64(n) * math.Log(fpRate)) / (math.Ln2 * math.Ln2)
	k := (m / float64(n)) * math.Ln2

	nbBytes := uint32(math.Ceil(m / 8))
	if nbBytes == 0 {
		nbBytes = 1
	}
	nbHashFuncs := uint32(math.Round(k))
	if nbHashFuncs == 0 {
		nbHashFuncs = 1
	}

	f := New(nbBytes, nbHashFuncs)
	for _, key := range keys {
		f.Add(key)
	}
	return f
}

// Add records key as present in the filter.
func (f *Filter) Add(key []byte) {
	f.bf.Add(key)
}

// MayContain returns true for every key that was Added. For keys that were
// never added, it returns true with probability approximately equal to the
// false positive rate the filter was built for.
func (f *Filter) MayContain(key []byte) bool {
	return f.bf.Test(key)
}

// NumHashFunctions returns k, the number of hash functions used.
func (f *Filter) NumHashFunctions() uint32 {
	return uint32(f.bf.K())
}

// NumBits returns m, the number of bits backing the filter.
func (f *Filter) NumBits() uint32 {
	return uint32(f.bf.Cap())
}

// Encode serializes the filter as a little-endian byte array of nb_bytes
// bits followed by k as a single trailing byte.
func (f *Filter) Encode() []byte {
	nbBits := f.bf.Cap()
	nbBytes := int(nbBits / 8)
	if nbBits%8 != 0 {
		nbBytes++
	}

	bits := f.bf.BitSet()
	buf := make([]byte, nbBytes+1)
	for i := 0; i < nbBytes; i++ {
		var b byte
		for bit := 0; bit < 8; bit++ {
			if bits.Test(uint(i*8 + bit)) {
				b |= 1 << uint(bit)
			}
		}
		buf[i] = b
	}
	buf[nbBytes] = byte(f.NumHashFunctions())

	return buf
}

// Decode parses a filter encoded by Encode.
func Decode(data []byte) (*Filter, error) {
	if len(data) < 1 {
		return nil, ErrMalformedFilter
	}

	nbBytes := len(data) - 1
	k := uint32(data[nbBytes])

	f := New(uint32(nbBytes), k)
	for i := 0; i < nbBytes; i++ {
		b := data[i]
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) != 0 {
				f.bf.BitSet().Set(uint(i*8 + bit))
			}
		}
	}

	return f, nil
}

// Equal reports whether f and other encode to the same bits and the same
// number of hash functions.
func (f *Filter) Equal(other *Filter) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(f.Encode(), other.Encode())
}
