// Command rsync27 is a minimal protocol-27 rsync client/server: invoked
// normally it copies SOURCE to DEST (one of which may be remote, as
// user@host:path); invoked with --server it is the remote end of that
// copy, reading/writing its own stdin/stdout.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/blocksync/rsync27/internal/clientrun"
	"github.com/blocksync/rsync27/internal/rsyncdconfig"
	"github.com/blocksync/rsync27/internal/rsynclog"
	"github.com/blocksync/rsync27/internal/rsyncopts"
	"github.com/blocksync/rsync27/internal/version"
	"github.com/blocksync/rsync27/rsyncclient"
	"github.com/blocksync/rsync27/rsyncd"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

type readWriter struct {
	io.Reader
	io.Writer
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	logger := rsynclog.New(stderr)

	pc, err := rsyncopts.ParseArguments(args)
	if err != nil {
		return err
	}
	opts := pc.Options
	remaining := pc.RemainingArgs

	if opts.Version() {
		fmt.Fprintln(stdout, version.Read())
		return nil
	}

	if opts.Server() {
		return runServer(stdin, stdout, stderr, logger, opts, remaining)
	}
	return runClient(stderr, logger, opts, remaining)
}

// runServer is the --server calling convention: remaining is "." followed
// by the paths the peer negotiated. When --config names a module file,
// the single remaining path is instead treated as a module name to look
// up, and the server sandboxes itself to the configured module paths.
func runServer(stdin io.Reader, stdout io.Writer, stderr io.Writer, logger rsynclog.Logger, opts *rsyncopts.Options, remaining []string) error {
	if len(remaining) < 2 || remaining[0] != "." {
		return fmt.Errorf("protocol error: expected \".\" followed by paths, got %q", remaining)
	}
	paths := remaining[1:]

	var modules []rsyncd.Module
	serverOpts := []rsyncd.Option{rsyncd.WithStderr(stderr), rsyncd.WithLogger(logger)}
	if opts.ConfigPath() != "" {
		cfg, err := rsyncdconfig.LoadFile(opts.ConfigPath())
		if err != nil {
			return err
		}
		for _, m := range cfg.Modules {
			modules = append(modules, rsyncd.Module{Name: m.Name, Path: m.Path, Writable: m.Writable})
		}
		serverOpts = append(serverOpts, rsyncd.WithFilesystemRestriction())
	}

	srv, err := rsyncd.NewServer(modules, serverOpts...)
	if err != nil {
		return err
	}
	conn := srv.NewConnection(stdin, stdout)
	const negotiate = true

	if len(modules) == 0 {
		return srv.HandleConn(nil, conn, paths, opts, negotiate)
	}
	if len(paths) != 1 {
		return fmt.Errorf("exactly one module name expected with --config, got %q", paths)
	}
	mod, err := srv.LookupModule(paths[0])
	if err != nil {
		return err
	}
	return srv.HandleConn(&mod, conn, nil, opts, negotiate)
}

// runClient is the ordinary "rsync27 [flags] SOURCE DEST" invocation.
func runClient(stderr io.Writer, logger rsynclog.Logger, opts *rsyncopts.Options, remaining []string) error {
	if len(remaining) < 2 {
		return fmt.Errorf("usage: rsync27 [flags] SOURCE DEST")
	}
	dest := remaining[len(remaining)-1]
	sources := remaining[:len(remaining)-1]
	if len(sources) != 1 {
		return fmt.Errorf("only a single source argument is supported")
	}

	fa, err := clientrun.ParseFileArgs(sources[0], dest)
	if err != nil {
		return err
	}
	if fa.Sender {
		opts.SetSender()
	}

	ctx := context.Background()
	client := rsyncclient.FromOptions(opts, rsyncclient.WithLogger(logger), rsyncclient.WithStderr(stderr))

	if fa.RemoteHost != "" {
		serverArgs := clientrun.BuildServerArgs(opts, !fa.Sender)
		serverArgs = append(serverArgs, ".", fa.RemotePath)
		rc, wc, err := clientrun.SpawnSSH(logger, stderr, opts.RsyncPath(), fa.RemoteHost, serverArgs)
		if err != nil {
			return err
		}
		defer rc.Close()
		defer wc.Close()
		return client.Run(ctx, &readWriter{rc, wc}, []string{fa.Local})
	}

	// Both paths are local: run the other half of the transfer in-process,
	// connected through a pair of pipes.
	srv, err := rsyncd.NewServer(nil, rsyncd.WithStderr(stderr), rsyncd.WithLogger(logger))
	if err != nil {
		return err
	}
	serverArgs := clientrun.BuildServerArgs(opts, true)
	serverArgs = append(serverArgs, ".", fa.RemotePath)
	spc, err := rsyncopts.ParseArguments(serverArgs)
	if err != nil {
		return err
	}

	stdinRd, stdinWr := io.Pipe()
	stdoutRd, stdoutWr := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		conn := srv.NewConnection(stdinRd, stdoutWr)
		errCh <- srv.HandleConn(nil, conn, spc.RemainingArgs[1:], spc.Options, true)
	}()

	if err := client.Run(ctx, &readWriter{stdoutRd, stdinWr}, []string{fa.Local}); err != nil {
		return err
	}
	return <-errCh
}
