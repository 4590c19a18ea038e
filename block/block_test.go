package block

import (
	"bytes"
	"testing"
)

func TestBuilderRoundTrip(t *testing.T) {
	bb := NewBuilder(4096)
	entries := [][2]string{
		{"a", "1"}, {"b", "2"}, {"c", "3"},
	}
	for _, e := range entries {
		if !bb.Add([]byte(e[0]), []byte(e[1])) {
			t.Fatalf("Add(%q) refused unexpectedly", e[0])
		}
	}

	block := bb.CreateBlock()
	if block.NumRecords() != len(entries) {
		t.Fatalf("NumRecords() = %d, want %d", block.NumRecords(), len(entries))
	}

	decoded, err := FromBytes(block.ToBytes())
	if err != nil {
		t.Fatal(err)
	}
	if decoded.NumRecords() != len(entries) {
		t.Fatalf("decoded NumRecords() = %d, want %d", decoded.NumRecords(), len(entries))
	}

	for i, e := range entries {
		r, err := decoded.RecordAt(i)
		if err != nil {
			t.Fatal(err)
		}
		if string(r.Key) != e[0] || string(r.Value) != e[1] {
			t.Fatalf("record %d = %q/%q, want %q/%q", i, r.Key, r.Value, e[0], e[1])
		}
	}
}

func TestBuilderRefusesOverflow(t *testing.T) {
	bb := NewBuilder(16)
	if !bb.Add([]byte("a"), []byte("1")) {
		t.Fatal("first small record should fit")
	}
	if bb.Add([]byte("this key is far too long to fit"), []byte("value")) {
		t.Fatal("oversized record should be refused")
	}
	if n := bb.CreateBlock().NumRecords(); n != 1 {
		t.Fatalf("builder should be unchanged after refusal, got %d records", n)
	}
}

func TestGet(t *testing.T) {
	bb := NewBuilder(4096)
	bb.Add([]byte("apple"), []byte("fruit"))
	bb.Add([]byte("carrot"), []byte("vegetable"))
	bb.Add([]byte("mango"), []byte("fruit"))
	block := bb.CreateBlock()

	if v, ok := block.Get([]byte("carrot")); !ok || string(v) != "vegetable" {
		t.Fatalf("Get(carrot) = %q, %v", v, ok)
	}
	if _, ok := block.Get([]byte("zucchini")); ok {
		t.Fatal("Get(zucchini) should miss")
	}
}

func TestSeekGE(t *testing.T) {
	bb := NewBuilder(4096)
	keys := []string{"b", "d", "f", "h"}
	for _, k := range keys {
		bb.Add([]byte(k), []byte("v"))
	}
	block := bb.CreateBlock()

	tests := []struct {
		key  string
		want int
	}{
		{"a", 0}, {"b", 0}, {"c", 1}, {"h", 3}, {"i", 4},
	}
	for _, tt := range tests {
		if got := block.SeekGE([]byte(tt.key)); got != tt.want {
			t.Fatalf("SeekGE(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}
}

func TestMetaBlockRoundTrip(t *testing.T) {
	m := MetaBlock{FirstKey: []byte("a"), LastKey: []byte("z"), Offset: 1234}
	decoded, n, err := MetaBlockFromBytes(m.ToBytes())
	if err != nil {
		t.Fatal(err)
	}
	if n != m.Size() {
		t.Fatalf("consumed %d bytes, want %d", n, m.Size())
	}
	if !bytes.Equal(decoded.FirstKey, m.FirstKey) || !bytes.Equal(decoded.LastKey, m.LastKey) || decoded.Offset != m.Offset {
		t.Fatalf("got %+v, want %+v", decoded, m)
	}
}

func TestMetaBlockSequenceRoundTrip(t *testing.T) {
	blocks := []MetaBlock{
		{FirstKey: []byte("a"), LastKey: []byte("b"), Offset: 0},
		{FirstKey: []byte("c"), LastKey: []byte("d"), Offset: 100},
	}

	var buf []byte
	for _, m := range blocks {
		buf = append(buf, m.ToBytes()...)
	}

	var got []MetaBlock
	for len(buf) > 0 {
		m, n, err := MetaBlockFromBytes(buf)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, m)
		buf = buf[n:]
	}

	if len(got) != len(blocks) {
		t.Fatalf("got %d meta blocks, want %d", len(got), len(blocks))
	}
}
