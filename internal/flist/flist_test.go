package flist

import (
	"testing"

	"github.com/blocksync/rsync27/internal/rsyncwire"
	"github.com/google/go-cmp/cmp"
)

type pipe struct {
	buf []byte
}

func (p *pipe) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	return len(b), nil
}

func (p *pipe) Read(b []byte) (int, error) {
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	list := &List{Entries: []*Entry{
		{Name: ".", Mode: sIFDIR | 0o755, Mtime: 1000},
		{Name: "a", Mode: sIFREG | 0o644, Size: 5, Mtime: 1000},
		{Name: "a/b.txt", Mode: sIFREG | 0o644, Size: 0, Mtime: 1001},
		{Name: "a/c.txt", Mode: sIFREG | 0o644, Size: 1 << 20, Mtime: 1001},
		{Name: "z-unrelated", Mode: sIFREG | 0o600, Size: 3, Mtime: 999},
	}}

	opts := Options{PreserveUID: true, PreserveGID: true}
	list.Entries[1].UID, list.Entries[1].GID = 1000, 1000
	list.Entries[2].UID, list.Entries[2].GID = 1000, 1000
	list.Entries[3].UID, list.Entries[3].GID = 0, 0

	p := &pipe{}
	c := &rsyncwire.Conn{Reader: p, Writer: p}
	if err := list.EncodeTo(c, opts); err != nil {
		t.Fatal(err)
	}

	got, err := DecodeFrom(c, opts)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(list.Entries, got.Entries); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestSortIsByteWise(t *testing.T) {
	list := &List{Entries: []*Entry{
		{Name: "b"}, {Name: "a"}, {Name: "."}, {Name: "a/z"},
	}}
	list.Sort()
	var names []string
	for _, e := range list.Entries {
		names = append(names, e.Name)
	}
	want := []string{".", "a", "a/z", "b"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("sorted order = %q, want %q", names, want)
		}
	}
}

func TestCommonPrefixLen(t *testing.T) {
	cases := []struct{ a, b string; want int }{
		{"", "", 0},
		{"abc", "abd", 2},
		{"abc", "xyz", 0},
		{"abc", "abc", 3},
		{"abc", "ab", 2},
	}
	for _, c := range cases {
		if got := commonPrefixLen(c.a, c.b); got != c.want {
			t.Errorf("commonPrefixLen(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
