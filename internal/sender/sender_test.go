package sender

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/blocksync/rsync27/internal/blockset"
	"github.com/blocksync/rsync27/internal/rsynclog"
	"github.com/blocksync/rsync27/internal/rsyncwire"
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

func newTransfer() (*Transfer, *pipe) {
	p := &pipe{}
	return &Transfer{
		Logger: rsynclog.Discard,
		Conn:   &rsyncwire.Conn{Reader: p, Writer: p},
		Seed:   11,
	}, p
}

// decodeTokens replays the token stream emitTokens wrote, reassembling the
// literal/match bytes the way a receiver would given basis.
func decodeTokens(t *testing.T, c *rsyncwire.Conn, basis *blockset.Set) []byte {
	t.Helper()
	var out []byte
	for {
		tok, err := c.ReadInt32()
		if err != nil {
			t.Fatalf("ReadInt32: %v", err)
		}
		if tok == 0 {
			if _, err := c.ReadN(16); err != nil { // whole-file digest trailer
				t.Fatalf("reading digest trailer: %v", err)
			}
			break
		}
		if tok > 0 {
			lit, err := c.ReadN(int(tok))
			if err != nil {
				t.Fatalf("ReadN literal: %v", err)
			}
			out = append(out, lit...)
			continue
		}
		blockIdx := -(tok + 1)
		b := basis.Blocks[blockIdx]
		n := int(basis.BlockLength)
		if b.Index == int32(len(basis.Blocks)-1) && basis.RemainderLength != 0 {
			n = int(basis.RemainderLength)
		}
		out = append(out, bytes.Repeat([]byte{'x'}, n)...)
	}
	return out
}

func TestEmitTokensNoBasisIsAllLiteral(t *testing.T) {
	st, p := newTransfer()
	data := []byte("hello, world")
	if err := st.emitTokens(bytesFile(t, data), &blockset.Set{}); err != nil {
		t.Fatal(err)
	}

	c := &rsyncwire.Conn{Reader: p, Writer: p}
	tok, err := c.ReadInt32()
	if err != nil {
		t.Fatal(err)
	}
	if int(tok) != len(data) {
		t.Fatalf("first token = %d, want literal length %d", tok, len(data))
	}
	lit, err := c.ReadN(len(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(lit, data) {
		t.Fatalf("literal = %q, want %q", lit, data)
	}
}

func TestEmitTokensMatchesIdenticalBasis(t *testing.T) {
	st, p := newTransfer()
	data := bytes.Repeat([]byte("x"), 2100) // 3 blocks of 700

	basis, err := blockset.Generate(bytes.NewReader(data), int64(len(data)), st.Seed)
	if err != nil {
		t.Fatal(err)
	}

	if err := st.emitTokens(bytesFile(t, data), basis); err != nil {
		t.Fatal(err)
	}

	c := &rsyncwire.Conn{Reader: p, Writer: p}
	got := decodeTokens(t, c, basis)
	if !bytes.Equal(got, data) {
		t.Fatalf("reassembled %d bytes, want %d matching original", len(got), len(data))
	}
}

func bytesFile(t *testing.T, data []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "sender-test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(filepath.Join(f.Name())) })
	return f
}
