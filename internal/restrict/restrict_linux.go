//go:build linux

// Package restrict narrows the process's own filesystem access to the
// module paths it was configured to serve, using Landlock where the
// running kernel supports it.
package restrict

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blocksync/rsync27/internal/rsynclog"
	"github.com/landlock-lsm/go-landlock/landlock"
)

// ExtraHook is set in tests to make the landlock rule set more permissive.
var ExtraHook func() []landlock.Rule

// As of Go 1.24, the net package resolver reads these files.
var dnsLookup = []string{
	"/etc/resolv.conf",
	"/etc/hosts",
	"/etc/services",
	"/etc/nsswitch.conf",
}

var userLookup = []string{
	"/etc/passwd",
	"/etc/group",
}

// ssh(1) needs its config and key files when this process spawns it as a
// remote-shell transport.
var sshConfigDirs = []string{
	filepath.Join(os.Getenv("HOME"), ".ssh"),
	"/etc/ssh",
}
var sshDirs = []string{"/usr"}
var sshDevices = []string{"/dev/null"}

// MaybeFileSystem restricts the process to roDirs read-only and rwDirs
// read-write, plus the ambient paths the resolver and ssh(1) need. Errors
// from the underlying landlock syscall are swallowed by BestEffort: older
// kernels without Landlock support run unrestricted rather than fail.
func MaybeFileSystem(logger rsynclog.Logger, roDirs, rwDirs []string) error {
	re := ExtraHook
	if re == nil {
		re = func() []landlock.Rule { return nil }
	}
	logger.Printf("restricting filesystem access (ro: %d paths, rw: %d paths)", len(roDirs), len(rwDirs))
	err := landlock.V3.BestEffort().RestrictPaths(
		append(re(), []landlock.Rule{
			landlock.ROFiles(dnsLookup...).IgnoreIfMissing(),
			landlock.ROFiles(userLookup...).IgnoreIfMissing(),
			landlock.RODirs(sshConfigDirs...).IgnoreIfMissing(),
			landlock.RODirs(sshDirs...).IgnoreIfMissing(),
			landlock.RWFiles(sshDevices...).IgnoreIfMissing(),
			landlock.RODirs(roDirs...).IgnoreIfMissing(),
			landlock.RWDirs(rwDirs...).WithRefer(),
		}...)...)
	if err != nil {
		return fmt.Errorf("landlock: %v", err)
	}
	return nil
}
