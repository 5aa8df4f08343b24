package receiver

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	rsyncproto "github.com/blocksync/rsync27"
	"github.com/blocksync/rsync27/internal/flist"
	"github.com/blocksync/rsync27/internal/rsynchash"
	"github.com/google/renameio/v2"
)

// ErrChecksumMismatch reports that a reconstructed file's whole-file digest
// didn't match the sender's, per spec.md's requirement that corruption in
// one file not abort the files around it.
type ErrChecksumMismatch struct {
	Name string
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("file corruption in %s", e.Name)
}

// rsync/receiver.c:recv_files
//
// RecvFiles consumes the sender's token streams in the order the sender
// emits them (an index, then that file's tokens), until a -1 index marks
// the end of the (single-phase) transfer. A per-file checksum mismatch is
// logged and counted rather than aborting the remaining files.
func (rt *Transfer) RecvFiles(fileList []*flist.Entry) error {
	for {
		idx, err := rt.Conn.ReadInt32()
		if err != nil {
			return err
		}
		if idx == -1 {
			break
		}
		if idx < 0 || int(idx) >= len(fileList) {
			return fmt.Errorf("receiver: protocol error: file index %d out of range", idx)
		}
		if err := rt.recvFile1(fileList[idx]); err != nil {
			var mismatch *ErrChecksumMismatch
			if !errors.As(err, &mismatch) {
				return err
			}
			rt.Logger.Printf("%v", mismatch)
			rt.corrupted++
			continue
		}
	}
	return nil
}

func (rt *Transfer) recvFile1(f *flist.Entry) error {
	if rt.Opts.DryRun {
		if !rt.Opts.Server && rt.Env.Stdout != nil {
			fmt.Fprintln(rt.Env.Stdout, f.Name)
		}
		return nil
	}

	localFile, err := rt.openLocalFile(f)
	if err != nil && !os.IsNotExist(err) {
		rt.Logger.Printf("opening local file failed, continuing: %v", err)
	}
	if localFile != nil {
		defer localFile.Close()
	}
	return rt.receiveData(f, localFile)
}

func (rt *Transfer) openLocalFile(f *flist.Entry) (*os.File, error) {
	local := rt.localPath(f)
	in, err := os.Open(local)
	if err != nil {
		return nil, err
	}

	st, err := in.Stat()
	if err != nil {
		in.Close()
		return nil, err
	}

	if st.IsDir() {
		in.Close()
		return nil, fmt.Errorf("%s is a directory", local)
	}
	if !st.Mode().IsRegular() {
		in.Close()
		return nil, nil
	}

	if !rt.Opts.PreservePerms {
		// If the file exists already and we are not preserving permissions,
		// act as though the sender sent us our own existing permissions.
		f.Mode = int32(st.Mode().Perm())
	}

	return in, nil
}

// rsync/receiver.c:receive_data
//
// receiveData reconstructs one file from its token stream: positive tokens
// are literal byte runs, negative tokens are block references read back
// from the local basis file, and a zero token ends the stream and is
// followed by the whole-file digest trailer.
func (rt *Transfer) receiveData(f *flist.Entry, localFile *os.File) error {
	var head rsyncproto.SumHead
	if err := head.ReadFrom(rt.Conn); err != nil {
		return err
	}

	local := rt.localPath(f)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}

	out, err := renameio.NewPendingFile(local,
		renameio.WithExistingPermissions(),
		renameio.WithPermissions(os.FileMode(f.Mode&0o777)))
	if err != nil {
		return err
	}
	defer out.Cleanup()

	fh := rsynchash.NewFileHasher()

	for {
		token, data, err := rt.recvToken()
		if err != nil {
			return err
		}
		if token == 0 {
			break
		}
		if token > 0 {
			if _, err := out.Write(data); err != nil {
				return err
			}
			fh.Write(data)
			continue
		}
		if localFile == nil {
			return fmt.Errorf("receiver: BUG: local file %s not open for copying chunk", local)
		}
		blockIdx := -(token + 1)
		offset := int64(blockIdx) * int64(head.BlockLength)
		dataLen := head.BlockLength
		if blockIdx == head.ChecksumCount-1 && head.RemainderLength != 0 {
			dataLen = head.RemainderLength
		}
		chunk := make([]byte, dataLen)
		if _, err := localFile.ReadAt(chunk, offset); err != nil {
			return err
		}
		if _, err := out.Write(chunk); err != nil {
			return err
		}
		fh.Write(chunk)
	}

	localSum := fh.Sum(rt.Seed)
	remoteSum, err := rt.Conn.ReadN(len(localSum))
	if err != nil {
		return err
	}
	if !bytes.Equal(localSum, remoteSum) {
		return &ErrChecksumMismatch{Name: f.Name}
	}

	if err := out.CloseAtomicallyReplace(); err != nil {
		return err
	}

	if err := rt.setPerms(f); err != nil {
		return err
	}
	return rt.setUid(f, local)
}

func (rt *Transfer) recvToken() (int32, []byte, error) {
	token, err := rt.Conn.ReadInt32()
	if err != nil {
		return 0, nil, err
	}
	if token <= 0 {
		return token, nil, nil
	}
	data, err := rt.Conn.ReadN(int(token))
	if err != nil {
		return 0, nil, err
	}
	return token, data, nil
}

func (rt *Transfer) setPerms(f *flist.Entry) error {
	if !rt.Opts.PreservePerms {
		return nil
	}
	local := rt.localPath(f)
	if err := os.Chmod(local, fs.FileMode(f.Mode&0o7777)); err != nil {
		return err
	}
	if rt.Opts.PreserveTimes {
		mtime := time.Unix(int64(f.Mtime), 0)
		if err := os.Chtimes(local, mtime, mtime); err != nil {
			return err
		}
	}
	return nil
}
