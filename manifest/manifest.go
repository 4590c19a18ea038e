// Package manifest implements the durable, append-only log of
// configuration and flush/compaction events that lets the engine
// reconstruct its on-disk level state after a restart.
package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ErrPathExists is returned by Create when path already has a file.
var ErrPathExists = errors.New("manifest: path already exists")

// ErrPathMissing is returned by Open when path has no file.
var ErrPathMissing = errors.New("manifest: path does not exist")

// ErrMalformedManifest is returned when the file cannot be decoded.
var ErrMalformedManifest = errors.New("manifest: malformed")

// ErrInconsistent is returned by ReconstructSSTables when a compaction
// event references a level outside the configured range. SSTable files
// themselves are not checked here.
var ErrInconsistent = errors.New("manifest: sstable reference is inconsistent")

const (
	tagFlush      byte = 0
	tagCompaction byte = 1
)

// Header carries the store's immutable configuration, written once at
// manifest creation time.
//
// On-disk layout: nb_levels(i32) ‖ levels_ratio(f64) ‖ max_l0_sstables(i32)
// ‖ max_sstable_size(i32) ‖ block_size(i32).
type Header struct {
	NbLevels       int32
	LevelsRatio    float64
	MaxL0SSTables  int32
	MaxSSTableSize int32
	BlockSize      int32
}

const headerSize = 4 + 8 + 4 + 4 + 4

func (h Header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.NbLevels))
	binary.LittleEndian.PutUint64(buf[4:12], math.Float64bits(h.LevelsRatio))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.MaxL0SSTables))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.MaxSSTableSize))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.BlockSize))
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, ErrMalformedManifest
	}
	return Header{
		NbLevels:       int32(binary.LittleEndian.Uint32(buf[0:4])),
		LevelsRatio:    math.Float64frombits(binary.LittleEndian.Uint64(buf[4:12])),
		MaxL0SSTables:  int32(binary.LittleEndian.Uint32(buf[12:16])),
		MaxSSTableSize: int32(binary.LittleEndian.Uint32(buf[16:20])),
		BlockSize:      int32(binary.LittleEndian.Uint32(buf[20:24])),
	}, nil
}

// SSTableRef names one SSTable file by its relative path.
//
// On-disk layout: path_len(1B) ‖ path_bytes.
type SSTableRef struct {
	Path string
}

func (s SSTableRef) encode() []byte {
	buf := make([]byte, 1+len(s.Path))
	buf[0] = byte(len(s.Path))
	copy(buf[1:], s.Path)
	return buf
}

func decodeSSTableRef(buf []byte) (SSTableRef, int, error) {
	if len(buf) < 1 {
		return SSTableRef{}, 0, ErrMalformedManifest
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return SSTableRef{}, 0, ErrMalformedManifest
	}
	return SSTableRef{Path: string(buf[1 : 1+n])}, 1 + n, nil
}

// Event is a Flush or Compaction record.
type Event interface {
	isEvent()
}

// FlushEvent records that a memtable was flushed into one new level-0
// SSTable.
type FlushEvent struct {
	SSTable SSTableRef
}

func (FlushEvent) isEvent() {}

// CompactionEvent records that the SSTables in InSSTables (at Level) were
// merged into OutSSTables.
type CompactionEvent struct {
	Level       int
	InSSTables  []SSTableRef
	OutSSTables []SSTableRef
}

func (CompactionEvent) isEvent() {}

func encodeEvent(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case FlushEvent:
		body := ev.SSTable.encode()
		if len(body) > math.MaxUint8 {
			return nil, fmt.Errorf("manifest: flush record too large to encode")
		}
		buf := make([]byte, 0, 2+len(body))
		buf = append(buf, tagFlush, byte(len(body)))
		buf = append(buf, body...)
		return buf, nil

	case CompactionEvent:
		var inBuf, outBuf []byte
		for _, s := range ev.InSSTables {
			inBuf = append(inBuf, s.encode()...)
		}
		for _, s := range ev.OutSSTables {
			outBuf = append(outBuf, s.encode()...)
		}
		if len(inBuf) > math.MaxUint16 || len(outBuf) > math.MaxUint16 {
			return nil, fmt.Errorf("manifest: compaction record too large to encode")
		}

		buf := make([]byte, 0, 6+len(inBuf)+len(outBuf))
		buf = append(buf, tagCompaction, byte(ev.Level))
		sizeBuf := make([]byte, 4)
		binary.LittleEndian.PutUint16(sizeBuf[0:2], uint16(len(inBuf)))
		binary.LittleEndian.PutUint16(sizeBuf[2:4], uint16(len(outBuf)))
		buf = append(buf, sizeBuf...)
		buf = append(buf, inBuf...)
		buf = append(buf, outBuf...)
		return buf, nil

	default:
		return nil, fmt.Errorf("manifest: unknown event type %T", e)
	}
}

func decodeEvent(buf []byte) (Event, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrMalformedManifest
	}

	switch buf[0] {
	case tagFlush:
		if len(buf) < 2 {
			return nil, 0, ErrMalformedManifest
		}
		size := int(buf[1])
		if len(buf) < 2+size {
			return nil, 0, ErrMalformedManifest
		}
		ref, _, err := decodeSSTableRef(buf[2 : 2+size])
		if err != nil {
			return nil, 0, err
		}
		return FlushEvent{SSTable: ref}, 2 + size, nil

	case tagCompaction:
		if len(buf) < 6 {
			return nil, 0, ErrMalformedManifest
		}
		level := int(buf[1])
		inSize := int(binary.LittleEndian.Uint16(buf[2:4]))
		outSize := int(binary.LittleEndian.Uint16(buf[4:6]))
		if len(buf) < 6+inSize+outSize {
			return nil, 0, ErrMalformedManifest
		}

		inRaw := buf[6 : 6+inSize]
		outRaw := buf[6+inSize : 6+inSize+outSize]

		var inRefs, outRefs []SSTableRef
		for len(inRaw) > 0 {
			ref, n, err := decodeSSTableRef(inRaw)
			if err != nil {
				return nil, 0, err
			}
			inRefs = append(inRefs, ref)
			inRaw = inRaw[n:]
		}
		for len(outRaw) > 0 {
			ref, n, err := decodeSSTableRef(outRaw)
			if err != nil {
				return nil, 0, err
			}
			outRefs = append(outRefs, ref)
			outRaw = outRaw[n:]
		}

		return CompactionEvent{Level: level, InSSTables: inRefs, OutSSTables: outRefs}, 6 + inSize + outSize, nil

	default:
		return nil, 0, ErrMalformedManifest
	}
}

// Manifest is an append-only handle over the store's event log.
type Manifest struct {
	Path string
	f    *os.File
}

// Create writes a fresh manifest with header at path, failing with
// ErrPathExists if one is already there.
func Create(path string, header Header) (*Manifest, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrPathExists
		}
		return nil, fmt.Errorf("manifest: creating %s: %w", path, err)
	}

	if _, err := f.Write(header.encode()); err != nil {
		f.Close()
		return nil, fmt.Errorf("manifest: writing header to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("manifest: syncing %s: %w", path, err)
	}

	return &Manifest{Path: path, f: f}, nil
}

// Open opens an existing manifest for appending, failing with
// ErrPathMissing if absent.
func Open(path string) (*Manifest, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrPathMissing
		}
		return nil, fmt.Errorf("manifest: opening %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("manifest: seeking %s: %w", path, err)
	}
	return &Manifest{Path: path, f: f}, nil
}

// WriteEvent appends the encoded event and fsyncs before returning.
func (m *Manifest) WriteEvent(e Event) error {
	encoded, err := encodeEvent(e)
	if err != nil {
		return err
	}
	if _, err := m.f.Write(encoded); err != nil {
		return fmt.Errorf("manifest: writing %s: %w", m.Path, err)
	}
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("manifest: syncing %s: %w", m.Path, err)
	}
	return nil
}

// Close releases the underlying file descriptor.
func (m *Manifest) Close() error {
	return m.f.Close()
}

// Decode reads the header and all events from the manifest file, from the
// beginning, independent of the handle's current append position.
func (m *Manifest) Decode() (Header, []Event, error) {
	raw, err := os.ReadFile(m.Path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("manifest: reading %s: %w", m.Path, err)
	}
	if len(raw) < headerSize {
		return Header{}, nil, ErrMalformedManifest
	}

	header, err := decodeHeader(raw[:headerSize])
	if err != nil {
		return Header{}, nil, err
	}

	var events []Event
	buf := raw[headerSize:]
	for len(buf) > 0 {
		e, n, err := decodeEvent(buf)
		if err != nil {
			return Header{}, nil, err
		}
		events = append(events, e)
		buf = buf[n:]
	}

	return header, events, nil
}

// ReconstructSSTables replays events into (l0, levels) per the flush and
// compaction rules: a Flush inserts at the head of level-0; a Compaction
// at level L removes its inputs from level L (preserving the order of the
// remainder) and inserts its outputs at the head of level L+1, or level L
// itself if L is the last level. levels[i] holds the paths for level i+1,
// newest (deque head) first.
func ReconstructSSTables(header Header, events []Event) (l0 []string, levels [][]string, err error) {
	levels = make([][]string, header.NbLevels)

	removeFrom := func(level []string, remove []string) []string {
		drop := make(map[string]bool, len(remove))
		for _, p := range remove {
			drop[p] = true
		}
		var kept []string
		for _, p := range level {
			if !drop[p] {
				kept = append(kept, p)
			}
		}
		return kept
	}

	for _, e := range events {
		switch ev := e.(type) {
		case FlushEvent:
			l0 = append([]string{ev.SSTable.Path}, l0...)

		case CompactionEvent:
			inPaths := make([]string, len(ev.InSSTables))
			for i, s := range ev.InSSTables {
				inPaths[i] = s.Path
			}
			outPaths := make([]string, len(ev.OutSSTables))
			for i, s := range ev.OutSSTables {
				outPaths[i] = s.Path
			}

			if ev.Level == 0 {
				l0 = removeFrom(l0, inPaths)
			} else {
				idx := ev.Level - 1
				if idx < 0 || idx >= len(levels) {
					return nil, nil, fmt.Errorf("%w: compaction references out-of-range level %d", ErrInconsistent, ev.Level)
				}
				levels[idx] = removeFrom(levels[idx], inPaths)
			}

			destLevel := ev.Level + 1
			if destLevel > len(levels) {
				destLevel = ev.Level
			}
			destIdx := destLevel - 1
			if destIdx < 0 || destIdx >= len(levels) {
				return nil, nil, fmt.Errorf("%w: compaction targets out-of-range level %d", ErrInconsistent, destLevel)
			}
			levels[destIdx] = append(outPaths, levels[destIdx]...)
		}
	}

	return l0, levels, nil
}
