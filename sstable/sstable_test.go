package sstable

import (
	"fmt"
	"path/filepath"
	"testing"
)

func buildTestTable(t *testing.T, n int) (*SSTable, []string) {
	t.Helper()

	b := NewBuilder(4096, 256)
	var keys []string
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		value := fmt.Sprintf("value-%04d", i)
		if err := b.Add([]byte(key), []byte(value)); err != nil {
			t.Fatalf("Add(%q): %v", key, err)
		}
		keys = append(keys, key)
	}

	path := filepath.Join(t.TempDir(), "000001.sst")
	sst, err := b.Build(path)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return sst, keys
}

func TestBuildAndGet(t *testing.T) {
	sst, keys := buildTestTable(t, 200)
	defer sst.Close()

	for i, key := range keys {
		value, ok, err := sst.Get([]byte(key))
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		if !ok {
			t.Fatalf("Get(%q) missing", key)
		}
		want := fmt.Sprintf("value-%04d", i)
		if string(value) != want {
			t.Fatalf("Get(%q) = %q, want %q", key, value, want)
		}
	}

	if _, ok, err := sst.Get([]byte("key-9999")); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v, want false, nil", ok, err)
	}
}

func TestBuildFromPathRoundTrip(t *testing.T) {
	sst, keys := buildTestTable(t, 50)
	path := sst.Path()
	sst.Close()

	reopened, err := BuildFromPath(path)
	if err != nil {
		t.Fatalf("BuildFromPath: %v", err)
	}
	defer reopened.Close()

	for i, key := range keys {
		value, ok, err := reopened.Get([]byte(key))
		if err != nil || !ok {
			t.Fatalf("Get(%q) = %q, %v, %v", key, value, ok, err)
		}
		want := fmt.Sprintf("value-%04d", i)
		if string(value) != want {
			t.Fatalf("Get(%q) = %q, want %q", key, value, want)
		}
	}
}

func TestBuildFromPathMissing(t *testing.T) {
	if _, err := BuildFromPath(filepath.Join(t.TempDir(), "absent.sst")); err != ErrPathMissing {
		t.Fatalf("got %v, want ErrPathMissing", err)
	}
}

func TestFirstLastKey(t *testing.T) {
	sst, keys := buildTestTable(t, 10)
	defer sst.Close()

	if string(sst.FirstKey()) != keys[0] {
		t.Fatalf("FirstKey() = %q, want %q", sst.FirstKey(), keys[0])
	}
	if string(sst.LastKey()) != keys[len(keys)-1] {
		t.Fatalf("LastKey() = %q, want %q", sst.LastKey(), keys[len(keys)-1])
	}
}

func TestMultipleBlocksSpanCorrectly(t *testing.T) {
	sst, keys := buildTestTable(t, 500)
	defer sst.Close()

	if sst.NumBlocks() < 2 {
		t.Fatalf("expected multiple data blocks for %d records, got %d", len(keys), sst.NumBlocks())
	}

	for i, key := range keys {
		id, ok := sst.FindBlockID([]byte(key))
		if !ok {
			t.Fatalf("FindBlockID(%q) not found", key)
		}
		db, err := sst.ReadDataBlock(id)
		if err != nil {
			t.Fatalf("ReadDataBlock(%d): %v", id, err)
		}
		if _, found := db.Get([]byte(key)); !found {
			t.Fatalf("block %d does not contain key %q (record %d)", id, key, i)
		}
	}
}

func TestInRangeAndGetRejectObviousAbsentees(t *testing.T) {
	sst, _ := buildTestTable(t, 100)
	defer sst.Close()

	if sst.InRange([]byte("zzz-not-a-key")) {
		t.Fatal("InRange should reject a key far outside the table's range")
	}
	if _, ok, _ := sst.Get([]byte("zzz-not-a-key")); ok {
		t.Fatal("Get should miss for a key outside the table's range")
	}
}
