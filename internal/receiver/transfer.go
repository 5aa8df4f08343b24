// Package receiver implements the receiving side of a transfer: decoding
// the incoming file list, generating and sending a block set for each
// local file the sender needs to diff against, and reconstructing each
// file from the resulting token stream.
package receiver

import (
	"os"

	"github.com/blocksync/rsync27/internal/blockset"
	"github.com/blocksync/rsync27/internal/flist"
	"github.com/blocksync/rsync27/internal/rsynchash"
	"github.com/blocksync/rsync27/internal/rsynclog"
	"github.com/blocksync/rsync27/internal/rsyncos"
	"github.com/blocksync/rsync27/internal/rsyncwire"
)

// TransferOpts is the subset of rsyncopts.Options the receiving role reads.
// It is its own type (rather than a dependency on rsyncopts.Options
// directly) so the receiver package stays usable from tests that never
// construct a full CLI option set.
type TransferOpts struct {
	Verbose bool
	DryRun  bool
	Server  bool

	DeleteMode        bool
	PreserveGid       bool
	PreserveUid       bool
	PreserveLinks     bool
	PreservePerms     bool
	PreserveDevices   bool
	PreserveSpecials  bool
	PreserveTimes     bool
	PreserveHardlinks bool
}

// Transfer holds everything the receiving role needs for the lifetime of
// one connection.
type Transfer struct {
	Logger rsynclog.Logger
	Opts   *TransferOpts
	Dest   string
	Env    rsyncos.Std
	Conn   *rsyncwire.Conn
	Seed   int32

	IOErrors  int
	corrupted int
}

// Corrupted reports how many files RecvFiles skipped due to a whole-file
// checksum mismatch.
func (rt *Transfer) Corrupted() int { return rt.corrupted }

func (rt *Transfer) flistOpts() flist.Options {
	return flist.Options{
		PreserveUID:   rt.Opts.PreserveUid,
		PreserveGID:   rt.Opts.PreserveGid,
		PreserveLinks: rt.Opts.PreserveLinks,
	}
}

// SendEmptyFilterList writes the (always empty, since filters/includes are
// out of scope) exclusion-list terminator the sending role expects to read
// right after the handshake.
func (rt *Transfer) SendEmptyFilterList() error {
	return rt.Conn.WriteInt32(0)
}

// ReceiveFileList decodes the incoming file list and the io-errors trailer
// that follows it.
func (rt *Transfer) ReceiveFileList() ([]*flist.Entry, error) {
	list, err := flist.DecodeFrom(rt.Conn, rt.flistOpts())
	if err != nil {
		return nil, err
	}
	ioErrors, err := rt.Conn.ReadInt32()
	if err != nil {
		return nil, err
	}
	rt.IOErrors = int(ioErrors)
	return list.Entries, nil
}

// rsync/generator.c:generate_files
//
// GenerateFiles walks the file list, recreating directories and symlinks
// directly (they carry no data phase) and, for every regular file,
// generating a block set against whatever local copy already exists (an
// empty set if none does) and sending it to the sender, tagged with the
// file's index. The phase ends with a -1 index sentinel.
func (rt *Transfer) GenerateFiles(fileList []*flist.Entry) error {
	for idx, f := range fileList {
		if rt.Opts.DryRun {
			continue
		}

		switch {
		case f.IsDir():
			if err := rt.generateDir(f); err != nil {
				return err
			}
			continue
		case f.IsSymlink():
			if rt.Opts.PreserveLinks {
				if err := rt.generateSymlink(f); err != nil {
					return err
				}
			}
			continue
		case !f.IsRegular():
			continue
		}

		set, err := rt.localBlockSet(f)
		if err != nil {
			return err
		}

		if err := rt.Conn.WriteInt32(int32(idx)); err != nil {
			return err
		}
		if err := set.EncodeTo(rt.Conn); err != nil {
			return err
		}
	}
	return rt.Conn.WriteInt32(-1)
}

func (rt *Transfer) localBlockSet(f *flist.Entry) (*blockset.Set, error) {
	local := rt.localPath(f)
	basis, err := os.Open(local)
	if err != nil {
		// No local copy: an empty block set forces the sender to transmit
		// the whole file as one literal run.
		return &blockset.Set{BlockLength: 700, ChecksumLength: rsynchash.DigestLength}, nil
	}
	defer basis.Close()

	st, err := basis.Stat()
	if err != nil {
		return nil, err
	}
	return blockset.Generate(basis, st.Size(), rt.Seed)
}
