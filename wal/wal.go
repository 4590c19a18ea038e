// Package wal implements the per-memtable write-ahead log: an append-only
// sequence of encoded records that is replayed to rebuild a memtable after
// a crash.
package wal

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/flashlogdb/lsm/record"
)

// ErrPathExists is returned by Create when path already has a file.
var ErrPathExists = errors.New("wal: path already exists")

// ErrPathMissing is returned by Open when path has no file.
var ErrPathMissing = errors.New("wal: path does not exist")

// WAL is an append-only log backing one memtable.
type WAL struct {
	Path string
	f    *os.File
}

// Create creates a new WAL file at path, failing with ErrPathExists if one
// is already there. Writes are unbuffered so Insert can fsync precisely.
func Create(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrPathExists
		}
		return nil, fmt.Errorf("wal: creating %s: %w", path, err)
	}
	return &WAL{Path: path, f: f}, nil
}

// Open opens an existing WAL file read-only, failing with ErrPathMissing if
// absent.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrPathMissing
		}
		return nil, fmt.Errorf("wal: opening %s: %w", path, err)
	}
	return &WAL{Path: path, f: f}, nil
}

// Insert appends the encoded record and fsyncs before returning, so a
// caller observing success knows the record survives a crash.
func (w *WAL) Insert(rec record.Record) error {
	encoded := record.Encode(rec.Key, rec.Value)
	if _, err := w.f.Write(encoded); err != nil {
		return fmt.Errorf("wal: writing %s: %w", w.Path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("wal: syncing %s: %w", w.Path, err)
	}
	return nil
}

// ReadRecords streams the records in the log in append order. A run of
// trailing bytes that cannot be decoded as a full record is treated as the
// (unsynced) end of the log, not an error: the caller only sees the
// records written durably before a crash.
func (w *WAL) ReadRecords() iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		if _, err := w.f.Seek(0, io.SeekStart); err != nil {
			yield(record.Record{}, fmt.Errorf("wal: seeking %s: %w", w.Path, err))
			return
		}

		raw, err := io.ReadAll(w.f)
		if err != nil {
			yield(record.Record{}, fmt.Errorf("wal: reading %s: %w", w.Path, err))
			return
		}

		for len(raw) > 0 {
			rec, n, err := record.Decode(raw)
			if err != nil {
				// Truncated tail: the log ends here.
				return
			}
			if !yield(rec, nil) {
				return
			}
			raw = raw[n:]
		}
	}
}

// RemoveSelf closes and deletes the backing file. Called once a memtable
// has been durably flushed and no longer needs its WAL.
func (w *WAL) RemoveSelf() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("wal: closing %s: %w", w.Path, err)
	}
	if err := os.Remove(w.Path); err != nil {
		return fmt.Errorf("wal: removing %s: %w", w.Path, err)
	}
	return nil
}

// Close releases the underlying file descriptor without deleting it.
func (w *WAL) Close() error {
	return w.f.Close()
}
