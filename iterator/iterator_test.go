package iterator

import (
	"path/filepath"
	"testing"

	"github.com/flashlogdb/lsm/memtable"
	"github.com/flashlogdb/lsm/sstable"
)

func drain(t *testing.T, it Iterator) []string {
	t.Helper()
	var got []string
	for it.Valid() {
		got = append(got, string(it.Key())+"="+string(it.Value()))
		if err := it.Next(); err != nil {
			t.Fatal(err)
		}
	}
	return got
}

func newTestMemtable(t *testing.T, entries map[string]string) *memtable.Memtable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "1.wal")
	mt, err := memtable.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range entries {
		if err := mt.Put([]byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	return mt
}

func TestMemtableIteratorOrdering(t *testing.T) {
	mt := newTestMemtable(t, map[string]string{"c": "3", "a": "1", "b": "2"})
	it := NewMemtableIterator(mt.All())
	got := drain(t, it)
	want := []string{"a=1", "b=2", "c=3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func buildTestSSTable(t *testing.T, keys []string) *sstable.SSTable {
	t.Helper()
	b := sstable.NewBuilder(4096, 128)
	for _, k := range keys {
		if err := b.Add([]byte(k), []byte(k+"v")); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "1.sst")
	sst, err := b.Build(path)
	if err != nil {
		t.Fatal(err)
	}
	return sst
}

func TestSSTableIteratorFullScan(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	sst := buildTestSSTable(t, keys)
	defer sst.Close()

	it, err := NewSSTableIterator(sst, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, it)
	if len(got) != len(keys) {
		t.Fatalf("got %d records, want %d: %v", len(got), len(keys), got)
	}
}

func TestSSTableIteratorBoundedScan(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	sst := buildTestSSTable(t, keys)
	defer sst.Close()

	it, err := NewSSTableIterator(sst, []byte("c"), []byte("f"))
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, it)
	want := []string{"c=cv", "d=dv", "e=ev", "f=fv"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMergingIteratorNewestWins(t *testing.T) {
	newer := newTestMemtable(t, map[string]string{"a": "new-a", "b": "new-b"})
	older := newTestMemtable(t, map[string]string{"a": "old-a", "c": "old-c"})

	m := NewMergingIterator([]Iterator{
		NewMemtableIterator(newer.All()),
		NewMemtableIterator(older.All()),
	})

	got := drain(t, m)
	want := []string{"a=new-a", "b=new-b", "c=old-c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestConcatenatingIteratorSequential(t *testing.T) {
	first := newTestMemtable(t, map[string]string{"a": "1", "b": "2"})
	second := newTestMemtable(t, map[string]string{"c": "3", "d": "4"})

	c := NewConcatenatingIterator([]Iterator{
		NewMemtableIterator(first.All()),
		NewMemtableIterator(second.All()),
	})

	got := drain(t, c)
	want := []string{"a=1", "b=2", "c=3", "d=4"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
