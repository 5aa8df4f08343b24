// Package clientrun contains the collaborator-grade glue the command-line
// entry point needs to turn a source/destination argument pair into a
// running transfer: deciding which side is remote, spawning the remote
// shell command, and handing the resulting pipe to rsyncclient. It is
// intentionally thin: no daemon socket client, no multi-host fan-out, no
// retry.
package clientrun

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/blocksync/rsync27/internal/rsyncopts"
	"github.com/blocksync/rsync27/internal/rsynclog"
	"github.com/google/shlex"
)

// BuildServerArgs reconstructs the flag subset the --server side needs
// from an already-parsed Options, the way rsync/main.c:server_options
// re-derives the remote invocation's argv from the local one.
func BuildServerArgs(opts *rsyncopts.Options, sender bool) []string {
	args := []string{"--server"}
	if sender {
		args = append(args, "--sender")
	}
	if opts.Verbose() {
		args = append(args, "-v")
	}
	if opts.Recurse() {
		args = append(args, "-r")
	}
	if opts.PreservePerms() {
		args = append(args, "-p")
	}
	if opts.PreserveMTimes() {
		args = append(args, "-t")
	}
	if opts.PreserveLinks() {
		args = append(args, "-l")
	}
	if opts.DeleteMode() {
		args = append(args, "--delete")
	}
	if opts.DryRun() {
		args = append(args, "-n")
	}
	return args
}

// FileArgs is the result of parsing a source/destination argument pair:
// which side (if any) is remote, and whether the local process ends up
// acting as the sending or receiving role.
type FileArgs struct {
	// Local is the path this process operates on directly.
	Local string
	// RemoteHost and RemotePath are the host:path the peer process operates
	// on. RemoteHost is "" for an entirely local transfer (both sides on
	// this machine), in which case RemotePath is the local source path.
	RemoteHost string
	RemotePath string
	// Sender reports whether the local side sends data (true) or receives
	// it (false).
	Sender bool
}

// ParseFileArgs mirrors rsync/main.c:start_client's source/dest
// classification: whichever argument carries a host: prefix is remote,
// and the local side's role follows from which one that is.
func ParseFileArgs(src, dest string) (*FileArgs, error) {
	if host, path, ok := splitHostspec(dest); ok {
		return &FileArgs{Local: src, RemoteHost: host, RemotePath: path, Sender: true}, nil
	}
	if host, path, ok := splitHostspec(src); ok {
		return &FileArgs{Local: dest, RemoteHost: host, RemotePath: path, Sender: false}, nil
	}
	// Both local: the destination side drives the (loopback) receiver.
	return &FileArgs{Local: dest, RemoteHost: "", RemotePath: src, Sender: false}, nil
}

// splitHostspec recognizes the "[user@]host:path" remote-shell syntax.
// A colon preceded by a path separator (e.g. a relative "./a:b") is not a
// hostspec, and neither is a leading colon; a Windows drive letter such as
// "C:x" is read as host "C". rsync:// daemon URLs are out of scope, per
// this module's non-goals.
func splitHostspec(arg string) (host, path string, ok bool) {
	if strings.HasPrefix(arg, "rsync://") {
		return "", "", false
	}
	idx := strings.IndexByte(arg, ':')
	if idx <= 0 {
		return "", "", false
	}
	if strings.ContainsAny(arg[:idx], "/\\") {
		return "", "", false
	}
	return arg[:idx], arg[idx+1:], true
}

// SpawnSSH is rsync/main.c:do_cmd, restricted to the remote-shell case:
// it starts rsh (ssh by default, or $RSYNC_RSH) with the given
// server-mode arguments and returns its stdio pipes. rsyncPath names the
// rsync binary to invoke on the remote end ("rsync" if empty).
func SpawnSSH(logger rsynclog.Logger, stderr io.Writer, rsyncPath, host string, serverArgs []string) (io.ReadCloser, io.WriteCloser, error) {
	cmd := "ssh"
	if e := os.Getenv("RSYNC_RSH"); e != "" {
		cmd = e
	}

	args, err := shlex.Split(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("clientrun: parsing shell command %q: %w", cmd, err)
	}
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("clientrun: empty shell command")
	}

	user, machine := "", host
	if idx := strings.IndexByte(host, '@'); idx > -1 {
		user, machine = host[:idx], host[idx+1:]
	}
	if user != "" {
		args = append(args, "-l", user)
	}
	if rsyncPath == "" {
		rsyncPath = "rsync"
	}
	args = append(args, machine, rsyncPath)
	args = append(args, serverArgs...)

	logger.Printf("clientrun: spawning %q", args)

	ssh := exec.Command(args[0], args[1:]...)
	wc, err := ssh.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	rc, err := ssh.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	ssh.Stderr = stderr
	if err := ssh.Start(); err != nil {
		return nil, nil, err
	}

	go func() {
		if err := ssh.Wait(); err != nil {
			logger.Printf("clientrun: remote shell exited: %v", err)
		}
	}()

	return rc, wc, nil
}
