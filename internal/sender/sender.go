// Package sender implements the sending side of a transfer: walking the
// source tree, sending the file list, then for each file requested by the
// receiver, scanning it against the receiver-supplied block set and
// emitting the resulting literal/match token stream.
package sender

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	rsyncproto "github.com/blocksync/rsync27"
	"github.com/blocksync/rsync27/internal/blockset"
	"github.com/blocksync/rsync27/internal/flist"
	"github.com/blocksync/rsync27/internal/rsynchash"
	"github.com/blocksync/rsync27/internal/rsynclog"
	"github.com/blocksync/rsync27/internal/rsyncopts"
	"github.com/blocksync/rsync27/internal/rsyncstats"
	"github.com/blocksync/rsync27/internal/rsyncwire"
)

// FilterList is the (always-empty, in this implementation) exclusion list
// exchanged ahead of the file list. Filters/includes are out of scope.
type FilterList struct {
	Filters []string
}

// RecvFilterList reads the exclusion list the peer sends immediately after
// the handshake. Real filter rules are never produced by this module, but
// the exchange itself — a run of length-prefixed strings terminated by a
// zero length — is still part of the wire protocol and must be drained.
func RecvFilterList(c *rsyncwire.Conn) (*FilterList, error) {
	var fl FilterList
	for {
		n, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		data, err := c.ReadN(int(n))
		if err != nil {
			return nil, err
		}
		fl.Filters = append(fl.Filters, string(data))
	}
	return &fl, nil
}

// Transfer holds everything the sending role needs for the lifetime of one
// connection.
type Transfer struct {
	Logger rsynclog.Logger
	Opts   *rsyncopts.Options
	Conn   *rsyncwire.Conn
	Seed   int32
}

// Do is the sender's half of the session: read the (always empty)
// exclusion list the receiving side writes, send the file list, then answer
// the receiver's per-file block-set requests with a token stream until the
// receiver signals no more files remain. When running as the protocol
// server it then sends the final statistics, which only the client-side
// receiver reads.
func (st *Transfer) Do(crd *rsyncwire.CountingReader, cwr *rsyncwire.CountingWriter, root string) (*rsyncstats.TransferStats, error) {
	// The (always empty, filters are out of scope) exclusion list the
	// receiving side writes right after the handshake.
	if _, err := RecvFilterList(st.Conn); err != nil {
		return nil, err
	}

	flistOpts := flist.Options{
		PreserveUID:   st.Opts.PreserveUid(),
		PreserveGID:   st.Opts.PreserveGid(),
		PreserveLinks: st.Opts.PreserveLinks(),
	}

	list, err := flist.Generate(root, flistOpts)
	if err != nil {
		return nil, err
	}
	list.Sort()
	if err := list.EncodeTo(st.Conn, flistOpts); err != nil {
		return nil, err
	}
	// io-errors trailer, rsync/flist.c: always zero, this role never fails
	// to stat a source file it already walked successfully.
	if err := st.Conn.WriteInt32(0); err != nil {
		return nil, err
	}
	if st.Opts.Verbose() {
		st.Logger.Printf("sent file list (%d entries)", len(list.Entries))
	}

	for {
		idx, err := st.Conn.ReadInt32()
		if err != nil {
			return nil, err
		}
		if idx == -1 {
			if err := st.Conn.WriteInt32(-1); err != nil {
				return nil, err
			}
			break
		}
		if idx < 0 || int(idx) >= len(list.Entries) {
			return nil, fmt.Errorf("sender: protocol error: file index %d out of range", idx)
		}

		var head rsyncproto.SumHead
		if err := head.ReadFrom(st.Conn); err != nil {
			return nil, err
		}
		basis := blockset.FromHead(head)
		if head.ChecksumCount > 0 {
			decoded, err := readBlocks(st.Conn, head)
			if err != nil {
				return nil, err
			}
			basis = decoded
		}

		if err := st.sendFile1(root, idx, list.Entries[idx], basis); err != nil {
			return nil, err
		}
	}

	stats := &rsyncstats.TransferStats{
		Read:    crd.Count(),
		Written: cwr.Count(),
		Size:    totalSize(list),
	}
	if st.Opts.Server() {
		if err := st.Conn.WriteInt64(stats.Read); err != nil {
			return nil, err
		}
		if err := st.Conn.WriteInt64(stats.Written); err != nil {
			return nil, err
		}
		if err := st.Conn.WriteInt64(stats.Size); err != nil {
			return nil, err
		}
	}
	if _, err := st.Conn.ReadInt32(); err != nil { // final goodbye
		return nil, err
	}
	return stats, nil
}

// readBlocks reads head.ChecksumCount (weak, strong) pairs following an
// already-consumed SumHead.
func readBlocks(c *rsyncwire.Conn, head rsyncproto.SumHead) (*blockset.Set, error) {
	s := blockset.FromHead(head)
	for i := int32(0); i < head.ChecksumCount; i++ {
		weak, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		strong, err := c.ReadN(int(head.ChecksumLength))
		if err != nil {
			return nil, err
		}
		s.Blocks = append(s.Blocks, blockset.Block{Index: i, Weak: uint32(weak), Strong: strong})
	}
	return s, nil
}

func totalSize(l *flist.List) int64 {
	var total int64
	for _, e := range l.Entries {
		total += e.Size
	}
	return total
}

// sendFile1 is rsync/sender.c:send_files for a single file: the index, the
// block-set header echoed back, then the token stream.
func (st *Transfer) sendFile1(root string, idx int32, e *flist.Entry, basis *blockset.Set) error {
	if err := st.Conn.WriteInt32(idx); err != nil {
		return err
	}
	head := basis.Head()
	if err := head.WriteTo(st.Conn); err != nil {
		return err
	}

	if !e.IsRegular() {
		return st.finishTokens(rsynchash.NewFileHasher())
	}

	f, err := os.Open(filepath.Join(root, e.Name))
	if err != nil {
		st.Logger.Printf("skipping unreadable file %s: %v", e.Name, err)
		return st.finishTokens(rsynchash.NewFileHasher())
	}
	defer f.Close()

	return st.emitTokens(f, basis)
}

// emitTokens implements rsync/match.c:match_sums: a byte-by-byte rolling
// scan of src against basis's two-level weak/strong index, interleaving
// literal runs with match-reference tokens.
func (st *Transfer) emitTokens(f *os.File, basis *blockset.Set) error {
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	fh := rsynchash.NewFileHasher()

	if len(basis.Blocks) == 0 || len(data) == 0 {
		if err := st.writeLiteral(data, fh); err != nil {
			return err
		}
		return st.finishTokens(fh)
	}

	idx := basis.BuildIndex()
	blockLen := int(basis.BlockLength)
	lastLen := int(basis.LastBlockLength())
	lastIdx := int32(len(basis.Blocks) - 1)
	roller := rsynchash.NewRoller()

	literalStart := 0
	pos := 0
	curWindow := -1 // forces a Reset on the first iteration
	for pos < len(data) {
		remaining := len(data) - pos
		window := blockLen
		if window > remaining {
			window = remaining
		}
		chunk := data[pos : pos+window]
		if window != curWindow {
			roller.Reset(chunk)
			curWindow = window
		} else {
			roller.Roll(data[pos-1], data[pos+window-1])
		}
		weak := roller.Digest()

		matched := int32(-1)
		for _, cand := range idx.Candidates(weak) {
			wantLen := blockLen
			if cand.Index == lastIdx {
				wantLen = lastLen
			}
			if window != wantLen {
				continue
			}
			strong := rsynchash.BlockDigest(st.Seed, chunk)
			if bytesEqual(strong, cand.Strong) {
				matched = cand.Index
				break
			}
		}

		if matched == -1 {
			pos++
			continue
		}

		if pos > literalStart {
			if err := st.writeLiteral(data[literalStart:pos], fh); err != nil {
				return err
			}
		}
		if err := st.Conn.WriteInt32(-(matched + 1)); err != nil {
			return err
		}
		fh.Write(chunk)
		pos += window
		literalStart = pos
		curWindow = -1 // next window starts fresh, non-overlapping with this one
	}

	if literalStart < len(data) {
		if err := st.writeLiteral(data[literalStart:], fh); err != nil {
			return err
		}
	}

	return st.finishTokens(fh)
}

// writeLiteral emits p as one or more positive-length literal tokens,
// chunked to rsync's file I/O buffer size.
func (st *Transfer) writeLiteral(p []byte, fh *rsynchash.FileHasher) error {
	const chunkSize = 32 * 1024 // rsync/rsync.h
	for len(p) > 0 {
		n := len(p)
		if n > chunkSize {
			n = chunkSize
		}
		if err := st.Conn.WriteInt32(int32(n)); err != nil {
			return err
		}
		if err := st.Conn.WriteN(p[:n]); err != nil {
			return err
		}
		fh.Write(p[:n])
		p = p[n:]
	}
	return nil
}

// finishTokens writes the zero (EOF) token followed by the whole-file
// digest trailer.
func (st *Transfer) finishTokens(fh *rsynchash.FileHasher) error {
	if err := st.Conn.WriteInt32(0); err != nil {
		return err
	}
	return st.Conn.WriteN(fh.Sum(st.Seed))
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
