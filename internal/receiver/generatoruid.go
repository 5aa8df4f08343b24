//go:build linux || darwin

package receiver

import (
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/blocksync/rsync27/internal/flist"
)

var amRoot = os.Getuid() == 0

var inGroup = func() map[uint32]bool {
	m := make(map[uint32]bool)
	u, err := user.Current()
	if err != nil {
		return m
	}
	gids, err := u.GroupIds()
	if err != nil {
		return m
	}
	for _, gidString := range gids {
		gid64, err := strconv.ParseInt(gidString, 0, 64)
		if err != nil {
			return m
		}
		m[uint32(gid64)] = true
	}
	return m
}()

// setUid restores uid/gid on local to match f, when requested and
// permitted: changing owner requires privilege, changing group requires
// either privilege or membership in the target group.
func (rt *Transfer) setUid(f *flist.Entry, local string) error {
	st, err := os.Lstat(local)
	if err != nil {
		return err
	}
	stt, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}

	changeUid := rt.Opts.PreserveUid &&
		amRoot &&
		stt.Uid != uint32(f.UID)

	changeGid := rt.Opts.PreserveGid &&
		(amRoot || inGroup[uint32(f.GID)]) &&
		stt.Gid != uint32(f.GID)

	if !changeUid && !changeGid {
		return nil
	}

	uid := stt.Uid
	if changeUid {
		uid = uint32(f.UID)
	}
	gid := stt.Gid
	if changeGid {
		gid = uint32(f.GID)
	}
	return os.Lchown(local, int(uid), int(gid))
}
