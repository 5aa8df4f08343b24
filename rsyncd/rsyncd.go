// Package rsyncd implements the in-process protocol server half of a
// transfer: given an already-accepted connection (a subprocess pipe, an
// io.Pipe, or a net.Conn), it runs the handshake and dispatches to the
// sending or receiving role. Listening, module configuration beyond a
// name/path pair, MOTD, ACLs, and anonymous daemon auth are all out of
// scope; see DESIGN.md.
package rsyncd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/blocksync/rsync27/internal/receiver"
	"github.com/blocksync/rsync27/internal/rsyncopts"
	"github.com/blocksync/rsync27/internal/rsyncos"
	"github.com/blocksync/rsync27/internal/rsynclog"
	"github.com/blocksync/rsync27/internal/rsyncwire"
	"github.com/blocksync/rsync27/internal/sender"
	"github.com/blocksync/rsync27/internal/session"
)

// Module maps a name to a directory tree a protocol client may request by
// that name instead of a raw path. Writable gates whether the module may
// be used as a receiver destination.
type Module struct {
	Name     string
	Path     string
	Writable bool
}

// Option specifies the server options.
type Option interface {
	applyServer(*Server)
}

type serverOptionFunc func(server *Server)

func (f serverOptionFunc) applyServer(s *Server) {
	f(s)
}

// WithLogger specifies the logger to use for the server. It also sets the
// package-level default logger other packages fall back to.
func WithLogger(logger rsynclog.Logger) Option {
	return serverOptionFunc(func(s *Server) {
		s.logger = logger
		rsynclog.SetLogger(logger)
	})
}

func WithStderr(stderr io.Writer) Option {
	return serverOptionFunc(func(s *Server) {
		s.stderr = stderr
	})
}

// WithFilesystemRestriction makes NewServer sandbox this process to its
// modules' paths via Landlock (Linux only, best-effort on kernels without
// Landlock support, a no-op on other platforms; see internal/restrict). Off by default since it is irreversible for the
// lifetime of the process and a module-less, command-line-invoked server
// has no fixed path set to restrict to ahead of the request.
func WithFilesystemRestriction() Option {
	return serverOptionFunc(func(s *Server) {
		s.restrictFilesystem = true
	})
}

func NewServer(modules []Module, opts ...Option) (*Server, error) {
	for _, mod := range modules {
		if err := validateModule(mod); err != nil {
			return nil, err
		}
	}

	server := &Server{
		modules: modules,
	}

	for _, opt := range opts {
		opt.applyServer(server)
	}

	if server.stderr == nil {
		server.stderr = os.Stderr
	}
	if server.logger == nil {
		server.logger = rsynclog.New(server.stderr)
	}

	if server.restrictFilesystem {
		if err := restrictToModules(server.logger, modules); err != nil {
			return nil, err
		}
	}

	return server, nil
}

type Server struct {
	stderr io.Writer
	logger rsynclog.Logger

	modules            []Module
	restrictFilesystem bool
}

func (s *Server) getModule(requestedModule string) (Module, error) {
	for _, mod := range s.modules {
		if mod.Name == requestedModule {
			return mod, nil
		}
	}
	return Module{}, fmt.Errorf("no such module: %s", requestedModule)
}

// LookupModule resolves a configured module by name, for callers (such as
// a --config-driven server entry point) that receive a module name rather
// than a raw filesystem path on the command line.
func (s *Server) LookupModule(name string) (Module, error) {
	return s.getModule(name)
}

// Conn wraps a freshly-accepted connection ahead of the handshake.
type Conn struct {
	r io.Reader
	w io.Writer
}

func (s *Server) NewConnection(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: r, w: w}
}

type readWriter struct {
	io.Reader
	io.Writer
}

// HandleConn is rsync/main.c:start_server for one already-accepted
// connection: negotiate the session, then dispatch to the sending or
// receiving role depending on opts.Sender().
func (s *Server) HandleConn(module *Module, conn *Conn, paths []string, opts *rsyncopts.Options, negotiate bool) (err error) {
	sess, err := session.Negotiate(&readWriter{conn.r, conn.w}, opts, s.logger, negotiate)
	if err != nil {
		return err
	}
	c := sess.Conn

	if opts.Sender() {
		mpx, _ := c.Writer.(*rsyncwire.MultiplexWriter)
		defer func() {
			if err != nil && mpx != nil {
				mpx.WriteMsg(rsyncwire.MsgError, fmt.Appendf(nil, "rsync27 [sender]: %v\n", err))
			}
		}()
		return s.handleConnSender(module, sess, paths, opts)
	}

	mpx, _ := c.Writer.(*rsyncwire.MultiplexWriter)
	defer func() {
		if err != nil && mpx != nil {
			mpx.WriteMsg(rsyncwire.MsgError, fmt.Appendf(nil, "rsync27 [receiver]: %v\n", err))
		}
	}()
	return s.handleConnReceiver(module, sess, paths, opts)
}

// handleConnReceiver is rsync/main.c:do_server_recv
func (s *Server) handleConnReceiver(module *Module, sess *session.Session, paths []string, opts *rsyncopts.Options) error {
	if module == nil {
		if len(paths) != 1 {
			return fmt.Errorf("precisely one destination path required, got %q", paths)
		}
		module = &Module{
			Name:     "implicit",
			Path:     paths[0],
			Writable: true,
		}
	}
	if opts.Verbose() {
		s.logger.Printf("handleConnReceiver(module=%+v)", module)
	}
	if !module.Writable {
		return fmt.Errorf("ERROR: module is read only")
	}
	if opts.PreserveHardLinks() {
		return fmt.Errorf("support for hard links not yet implemented")
	}

	rt := &receiver.Transfer{
		Logger: s.logger,
		Opts: &receiver.TransferOpts{
			Verbose: opts.Verbose(),
			DryRun:  opts.DryRun(),
			Server:  opts.Server(),

			DeleteMode:        opts.DeleteMode(),
			PreserveGid:       opts.PreserveGid(),
			PreserveUid:       opts.PreserveUid(),
			PreserveLinks:     opts.PreserveLinks(),
			PreservePerms:     opts.PreservePerms(),
			PreserveDevices:   opts.PreserveDevices(),
			PreserveSpecials:  opts.PreserveSpecials(),
			PreserveTimes:     opts.PreserveMTimes(),
			PreserveHardlinks: opts.PreserveHardLinks(),
		},
		Dest: module.Path,
		Env: rsyncos.Std{
			Stderr: s.stderr,
		},
		Conn: sess.Conn,
		Seed: sess.Seed,
	}

	// Unconditional on both sides: whichever role is not the sender always
	// writes the exclusion-list terminator (as here) and the sender always
	// reads it, regardless of delete mode.
	if err := rt.SendEmptyFilterList(); err != nil {
		return err
	}

	if opts.Verbose() {
		s.logger.Printf("receiving file list")
	}
	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return err
	}
	if opts.Verbose() {
		s.logger.Printf("received %d names", len(fileList))
	}
	stats, err := rt.Do(sess.Conn, fileList, true)
	if err != nil {
		return err
	}
	if opts.Verbose() {
		s.logger.Printf("stats: %+v", stats)
	}
	return nil
}

// handleConnSender is rsync/main.c:do_server_sender
func (s *Server) handleConnSender(module *Module, sess *session.Session, paths []string, opts *rsyncopts.Options) error {
	if module == nil {
		if len(paths) != 1 {
			return fmt.Errorf("precisely one source path required, got %q", paths)
		}
		module = &Module{
			Name: "implicit",
			Path: paths[0],
		}
	}
	if opts.Verbose() {
		s.logger.Printf("handleConnSender(module=%+v)", module)
	}

	st := &sender.Transfer{
		Logger: s.logger,
		Opts:   opts,
		Conn:   sess.Conn,
		Seed:   sess.Seed,
	}

	stats, err := st.Do(sess.Read, sess.Write, module.Path)
	if err != nil {
		return err
	}
	s.logger.Printf("handleConnSender done. stats: %+v", stats)
	return nil
}

func validateModule(mod Module) error {
	if mod.Name == "" {
		return errors.New("module has no name")
	}
	if mod.Path == "" {
		return fmt.Errorf("module %q has empty path", mod.Name)
	}
	return nil
}
