package receiver

import (
	"os"
	"path/filepath"

	"github.com/blocksync/rsync27/internal/flist"
)

func (rt *Transfer) localPath(f *flist.Entry) string {
	return filepath.Join(rt.Dest, f.Name)
}

func (rt *Transfer) generateDir(f *flist.Entry) error {
	local := rt.localPath(f)
	if err := os.MkdirAll(local, os.FileMode(f.Mode&0o777)|0o700); err != nil {
		return err
	}
	return rt.setPerms(f)
}

func (rt *Transfer) generateSymlink(f *flist.Entry) error {
	local := rt.localPath(f)
	if _, err := os.Lstat(local); err == nil {
		os.Remove(local)
	}
	return symlink(f.LinkTarget, local)
}
