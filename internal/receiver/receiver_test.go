package receiver

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	rsyncproto "github.com/blocksync/rsync27"
	"github.com/blocksync/rsync27/internal/flist"
	"github.com/blocksync/rsync27/internal/rsynchash"
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

func newTransfer(t *testing.T) (*Transfer, *pipe) {
	t.Helper()
	p := &pipe{}
	return &Transfer{
		Logger: rsynclog.Discard,
		Opts:   &TransferOpts{PreservePerms: true},
		Dest:   t.TempDir(),
		Conn:   &rsyncwire.Conn{Reader: p, Writer: p},
		Seed:   9,
	}, p
}

func TestGenerateFilesSkipsDirectoriesAndEmitsBlockSetsForFiles(t *testing.T) {
	rt, p := newTransfer(t)
	fileList := []*flist.Entry{
		{Name: ".", Mode: 0o40755},
		{Name: "a", Mode: 0o100644, Size: 0},
	}
	if err := rt.GenerateFiles(fileList); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(rt.Dest)); err != nil {
		t.Fatalf("top-level dir should exist: %v", err)
	}

	c := &rsyncwire.Conn{Reader: p, Writer: p}
	idx, err := c.ReadInt32()
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Fatalf("first emitted block-set request = index %d, want 1 (the regular file)", idx)
	}
	var head rsyncproto.SumHead
	if err := head.ReadFrom(c); err != nil {
		t.Fatal(err)
	}
	if head.ChecksumCount != 0 {
		t.Errorf("no local copy exists, want an empty block set, got %d blocks", head.ChecksumCount)
	}

	term, err := c.ReadInt32()
	if err != nil {
		t.Fatal(err)
	}
	if term != -1 {
		t.Errorf("GenerateFiles should terminate with -1, got %d", term)
	}
}

func TestReceiveDataReconstructsLiteralOnlyFile(t *testing.T) {
	rt, p := newTransfer(t)
	f := &flist.Entry{Name: "greeting", Mode: 0o100644}

	c := &rsyncwire.Conn{Reader: p, Writer: p}
	head := rsyncproto.SumHead{BlockLength: 700, ChecksumLength: rsynchash.DigestLength}
	if err := head.WriteTo(c); err != nil {
		t.Fatal(err)
	}
	payload := []byte("hello from the sender")
	if err := c.WriteInt32(int32(len(payload))); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteN(payload); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteInt32(0); err != nil { // end of token stream
		t.Fatal(err)
	}
	fh := rsynchash.NewFileHasher()
	fh.Write(payload)
	if err := c.WriteN(fh.Sum(rt.Seed)); err != nil {
		t.Fatal(err)
	}

	if err := rt.receiveData(f, nil); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(rt.localPath(f))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("reconstructed file = %q, want %q", got, payload)
	}
}

func TestReceiveDataDetectsCorruption(t *testing.T) {
	rt, p := newTransfer(t)
	f := &flist.Entry{Name: "corrupt", Mode: 0o100644}

	c := &rsyncwire.Conn{Reader: p, Writer: p}
	head := rsyncproto.SumHead{BlockLength: 700, ChecksumLength: rsynchash.DigestLength}
	if err := head.WriteTo(c); err != nil {
		t.Fatal(err)
	}
	payload := []byte("data")
	if err := c.WriteInt32(int32(len(payload))); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteN(payload); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteInt32(0); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteN(bytes.Repeat([]byte{0}, rsynchash.DigestLength)); err != nil { // wrong digest
		t.Fatal(err)
	}

	if err := rt.receiveData(f, nil); err == nil {
		t.Fatal("expected a corruption error for a mismatched whole-file digest")
	}
}
