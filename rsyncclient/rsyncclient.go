// Package rsyncclient is the public entry point for driving a transfer as
// the protocol client: the end that dials out (over a subprocess pipe, an
// io.Pipe, or a net.Conn) rather than the end reached via --server.
package rsyncclient

import (
	"context"
	"fmt"
	"io"

	"github.com/blocksync/rsync27/internal/receiver"
	"github.com/blocksync/rsync27/internal/rsyncopts"
	"github.com/blocksync/rsync27/internal/rsyncos"
	"github.com/blocksync/rsync27/internal/rsynclog"
	"github.com/blocksync/rsync27/internal/rsyncstats"
	"github.com/blocksync/rsync27/internal/sender"
	"github.com/blocksync/rsync27/internal/session"
)

// Option configures a Client at construction time.
type Option interface {
	apply(*Client)
}

type clientOptionFunc func(*Client)

func (f clientOptionFunc) apply(c *Client) { f(c) }

// WithSender makes the client drive the sending role (push local files to
// the peer) instead of the default receiving role (pull from the peer).
func WithSender() Option {
	return clientOptionFunc(func(c *Client) {
		c.opts.SetSender()
	})
}

// WithLogger overrides the client's logger, which otherwise logs nothing.
func WithLogger(logger rsynclog.Logger) Option {
	return clientOptionFunc(func(c *Client) {
		c.logger = logger
	})
}

// WithStderr sets the Stderr stream of the receiving role's environment.
// Log output goes to the logger set by WithLogger, not to this stream.
func WithStderr(stderr io.Writer) Option {
	return clientOptionFunc(func(c *Client) {
		c.stderr = stderr
	})
}

// Client drives one transfer as the dialing end of the connection. The
// flags in args are the same rsync(1)-style flags rsyncopts.ParseArguments
// accepts.
type Client struct {
	opts   *rsyncopts.Options
	logger rsynclog.Logger
	stderr io.Writer
}

// New parses args (e.g. []string{"-av"}) into a Client. It never treats
// args as carrying positional paths: those are supplied separately to
// Run, since the same parsed flag set can be reused for multiple runs.
func New(args []string, opts ...Option) (*Client, error) {
	pc, err := rsyncopts.ParseArguments(args)
	if err != nil {
		return nil, fmt.Errorf("rsyncclient: %w", err)
	}
	if len(pc.RemainingArgs) > 0 {
		return nil, fmt.Errorf("rsyncclient: unexpected positional arguments in flags: %q", pc.RemainingArgs)
	}

	return FromOptions(pc.Options, opts...), nil
}

// FromOptions builds a Client directly from an already-parsed Options,
// for callers (like cmd/rsync27) that parsed the command line themselves
// and need the same Options value on both the client and the in-process
// server side of a loopback transfer.
func FromOptions(parsed *rsyncopts.Options, opts ...Option) *Client {
	c := &Client{
		opts:   parsed,
		logger: rsynclog.Discard,
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// Run performs the handshake over rw and then the transfer: paths[0] is
// the local root, either the destination (receiving role) or the source
// (sending role).
func (c *Client) Run(ctx context.Context, rw io.ReadWriter, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("rsyncclient: at least one path required")
	}

	const negotiate = true
	sess, err := session.Negotiate(rw, c.opts, c.logger, negotiate)
	if err != nil {
		return err
	}

	if c.opts.Sender() {
		_, err := c.runSender(sess, paths[0])
		return err
	}
	_, err = c.runReceiver(ctx, sess, paths[0])
	return err
}

func (c *Client) runSender(sess *session.Session, root string) (*rsyncstats.TransferStats, error) {
	st := &sender.Transfer{
		Logger: c.logger,
		Opts:   c.opts,
		Conn:   sess.Conn,
		Seed:   sess.Seed,
	}
	return st.Do(sess.Read, sess.Write, root)
}

func (c *Client) runReceiver(ctx context.Context, sess *session.Session, dest string) (*rsyncstats.TransferStats, error) {
	rt := &receiver.Transfer{
		Logger: c.logger,
		Opts: &receiver.TransferOpts{
			Verbose: c.opts.Verbose(),
			DryRun:  c.opts.DryRun(),
			Server:  c.opts.Server(),

			DeleteMode:        c.opts.DeleteMode(),
			PreserveGid:       c.opts.PreserveGid(),
			PreserveUid:       c.opts.PreserveUid(),
			PreserveLinks:     c.opts.PreserveLinks(),
			PreservePerms:     c.opts.PreservePerms(),
			PreserveDevices:   c.opts.PreserveDevices(),
			PreserveSpecials:  c.opts.PreserveSpecials(),
			PreserveTimes:     c.opts.PreserveMTimes(),
			PreserveHardlinks: c.opts.PreserveHardLinks(),
		},
		Dest: dest,
		Env: rsyncos.Std{
			Stderr: c.stderr,
		},
		Conn: sess.Conn,
		Seed: sess.Seed,
	}

	if err := rt.SendEmptyFilterList(); err != nil {
		return nil, err
	}
	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return nil, err
	}
	return rt.Do(sess.Conn, fileList, false)
}
