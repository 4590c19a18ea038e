package lsm

import "github.com/flashlogdb/lsm/manifest"

// Config holds a store's configuration. Every field except BloomFPRate is
// written to the manifest header at creation time; the configuration is
// immutable for the store's lifetime.
type Config struct {
	NbLevels       int
	LevelsRatio    float64
	MaxL0SSTables  int
	MaxSSTableSize int
	BlockSize      int
	BloomFPRate    float64
}

// DefaultConfig returns the configuration defaults named in the external
// interface: 256 MiB SSTables, 64 KiB blocks, 6 levels, a 0.1 fan-out
// ratio, up to 10 level-0 tables before compacting, and a 0.1% Bloom
// false-positive budget.
func DefaultConfig() Config {
	return Config{
		NbLevels:       6,
		LevelsRatio:    0.1,
		MaxL0SSTables:  10,
		MaxSSTableSize: 256 << 20,
		BlockSize:      64 << 10,
		BloomFPRate:    0.001,
	}
}

// Option customizes a Config.
type Option func(*Config)

// WithNbLevels sets the number of levels beyond level 0.
func WithNbLevels(n int) Option {
	return func(c *Config) { c.NbLevels = n }
}

// WithLevelsRatio sets the fan-out ratio used by the compaction trigger.
func WithLevelsRatio(ratio float64) Option {
	return func(c *Config) { c.LevelsRatio = ratio }
}

// WithMaxL0SSTables sets how many level-0 SSTables accumulate before
// compaction is triggered.
func WithMaxL0SSTables(n int) Option {
	return func(c *Config) { c.MaxL0SSTables = n }
}

// WithMaxSSTableSize sets the size, in bytes, at which a memtable is frozen
// and an SSTable builder rotates to a new output file.
func WithMaxSSTableSize(n int) Option {
	return func(c *Config) { c.MaxSSTableSize = n }
}

// WithBlockSize sets the target size, in bytes, of one data block.
func WithBlockSize(n int) Option {
	return func(c *Config) { c.BlockSize = n }
}

// WithBloomFPRate sets Config.BloomFPRate. The SSTable builder does not
// read it: new SSTables' Bloom filters always target
// sstable.DefaultBloomFPRate.
func WithBloomFPRate(rate float64) Option {
	return func(c *Config) { c.BloomFPRate = rate }
}

func newConfig(opts ...Option) Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c Config) header() manifest.Header {
	return manifest.Header{
		NbLevels:       int32(c.NbLevels),
		LevelsRatio:    c.LevelsRatio,
		MaxL0SSTables:  int32(c.MaxL0SSTables),
		MaxSSTableSize: int32(c.MaxSSTableSize),
		BlockSize:      int32(c.BlockSize),
	}
}

func configFromHeader(h manifest.Header) Config {
	return Config{
		NbLevels:       int(h.NbLevels),
		LevelsRatio:    h.LevelsRatio,
		MaxL0SSTables:  int(h.MaxL0SSTables),
		MaxSSTableSize: int(h.MaxSSTableSize),
		BlockSize:      int(h.BlockSize),
		BloomFPRate:    DefaultConfig().BloomFPRate,
	}
}
