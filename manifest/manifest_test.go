package manifest

import (
	"path/filepath"
	"testing"
)

func testHeader() Header {
	return Header{
		NbLevels:       4,
		LevelsRatio:    0.25,
		MaxL0SSTables:  4,
		MaxSSTableSize: 1 << 20,
		BlockSize:      4096,
	}
}

func TestCreateFailsWhenPathExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.txt")
	m, err := Create(path, testHeader())
	if err != nil {
		t.Fatal(err)
	}
	m.Close()

	if _, err := Create(path, testHeader()); err != ErrPathExists {
		t.Fatalf("got %v, want ErrPathExists", err)
	}
}

func TestOpenFailsWhenPathMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.txt")
	if _, err := Open(path); err != ErrPathMissing {
		t.Fatalf("got %v, want ErrPathMissing", err)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.txt")
	header := testHeader()
	m, err := Create(path, header)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	gotHeader, events, err := m.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if gotHeader != header {
		t.Fatalf("got %+v, want %+v", gotHeader, header)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events, want 0", len(events))
	}
}

func TestWriteEventAndDecode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.txt")
	m, err := Create(path, testHeader())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	flush := FlushEvent{SSTable: SSTableRef{Path: "000001.sst"}}
	compaction := CompactionEvent{
		Level:       0,
		InSSTables:  []SSTableRef{{Path: "000001.sst"}, {Path: "000002.sst"}},
		OutSSTables: []SSTableRef{{Path: "000003.sst"}},
	}

	if err := m.WriteEvent(flush); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteEvent(compaction); err != nil {
		t.Fatal(err)
	}

	_, events, err := m.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	gotFlush, ok := events[0].(FlushEvent)
	if !ok || gotFlush.SSTable.Path != "000001.sst" {
		t.Fatalf("event 0 = %+v", events[0])
	}
	gotCompaction, ok := events[1].(CompactionEvent)
	if !ok || gotCompaction.Level != 0 || len(gotCompaction.InSSTables) != 2 || len(gotCompaction.OutSSTables) != 1 {
		t.Fatalf("event 1 = %+v", events[1])
	}
}

func TestReconstructFlushesGoToL0Head(t *testing.T) {
	header := testHeader()
	events := []Event{
		FlushEvent{SSTable: SSTableRef{Path: "1.sst"}},
		FlushEvent{SSTable: SSTableRef{Path: "2.sst"}},
	}

	l0, _, err := ReconstructSSTables(header, events)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2.sst", "1.sst"}
	if len(l0) != len(want) {
		t.Fatalf("got %v, want %v", l0, want)
	}
	for i := range want {
		if l0[i] != want[i] {
			t.Fatalf("got %v, want %v", l0, want)
		}
	}
}

func TestReconstructL0CompactionMovesToLevel1(t *testing.T) {
	header := testHeader()
	events := []Event{
		FlushEvent{SSTable: SSTableRef{Path: "1.sst"}},
		FlushEvent{SSTable: SSTableRef{Path: "2.sst"}},
		CompactionEvent{
			Level:       0,
			InSSTables:  []SSTableRef{{Path: "1.sst"}, {Path: "2.sst"}},
			OutSSTables: []SSTableRef{{Path: "3.sst"}},
		},
	}

	l0, levels, err := ReconstructSSTables(header, events)
	if err != nil {
		t.Fatal(err)
	}
	if len(l0) != 0 {
		t.Fatalf("l0 should be empty after compaction, got %v", l0)
	}
	if len(levels[0]) != 1 || levels[0][0] != "3.sst" {
		t.Fatalf("levels[0] = %v, want [3.sst]", levels[0])
	}
}

func TestReconstructLastLevelCompactsIntoItself(t *testing.T) {
	header := Header{NbLevels: 1, LevelsRatio: 0.5, MaxL0SSTables: 4, MaxSSTableSize: 1024, BlockSize: 256}
	events := []Event{
		CompactionEvent{
			Level:       1,
			InSSTables:  []SSTableRef{{Path: "a.sst"}, {Path: "b.sst"}},
			OutSSTables: []SSTableRef{{Path: "c.sst"}},
		},
	}

	_, levels, err := ReconstructSSTables(header, events)
	if err != nil {
		t.Fatal(err)
	}
	if len(levels[0]) != 1 || levels[0][0] != "c.sst" {
		t.Fatalf("levels[0] = %v, want [c.sst]", levels[0])
	}
}

func TestReconstructRejectsOutOfRangeLevel(t *testing.T) {
	header := Header{NbLevels: 1, LevelsRatio: 0.5, MaxL0SSTables: 4, MaxSSTableSize: 1024, BlockSize: 256}
	events := []Event{
		CompactionEvent{Level: 5, InSSTables: nil, OutSSTables: []SSTableRef{{Path: "x.sst"}}},
	}

	if _, _, err := ReconstructSSTables(header, events); err == nil {
		t.Fatal("expected error for out-of-range level")
	}
}
