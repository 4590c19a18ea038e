package lsm

import "errors"

// ErrRangeInvalid is returned by Scan when upper < lower.
var ErrRangeInvalid = errors.New("lsm: scan range is invalid (upper < lower)")

// ErrWriteFailed is returned by Put when the active WAL append could not
// be made durable. In-memory state is left unmodified.
var ErrWriteFailed = errors.New("lsm: write failed")

// ErrManifestWriteFailed is returned by flush/compaction when the manifest
// append fails. Once returned, the engine refuses further mutations.
var ErrManifestWriteFailed = errors.New("lsm: manifest write failed")

// ErrReadOnly is returned by mutating operations once a prior manifest
// write failure has put the engine into a read-only state.
var ErrReadOnly = errors.New("lsm: engine is read-only after a manifest write failure")

// ErrManifestInconsistent is returned during recovery when the manifest
// references an SSTable that cannot be found or decoded on disk.
var ErrManifestInconsistent = errors.New("lsm: manifest references an inconsistent sstable")
