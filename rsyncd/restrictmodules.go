package rsyncd

import (
	"fmt"
	"os"

	"github.com/blocksync/rsync27/internal/restrict"
	"github.com/blocksync/rsync27/internal/rsynclog"
)

// restrictToModules narrows the server process's own filesystem access to
// the configured module paths, so a protocol bug or a crafted request
// can't walk the rest of the filesystem. A no-op when modules is empty,
// since the command-line calling convention (no modules, an explicit path
// argument instead) has no fixed set of paths to restrict to ahead of
// the request.
func restrictToModules(logger rsynclog.Logger, modules []Module) error {
	if len(modules) == 0 {
		return nil
	}
	var roDirs, rwDirs []string
	for _, mod := range modules {
		if mod.Writable {
			if err := os.MkdirAll(mod.Path, 0755); err != nil {
				return fmt.Errorf("MkdirAll(mod=%s): %v", mod.Name, err)
			}
			rwDirs = append(rwDirs, mod.Path)
		} else {
			roDirs = append(roDirs, mod.Path)
		}
	}
	return restrict.MaybeFileSystem(logger, roDirs, rwDirs)
}
