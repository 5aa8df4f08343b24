//go:build !linux

package restrict

import "github.com/blocksync/rsync27/internal/rsynclog"

// MaybeFileSystem is a no-op outside Linux: Landlock is a Linux-only
// syscall, and this module has no other sandboxing backend to fall back
// to on other platforms.
func MaybeFileSystem(logger rsynclog.Logger, roDirs, rwDirs []string) error {
	return nil
}
