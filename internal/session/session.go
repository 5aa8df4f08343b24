// Package session implements the protocol handshake: the version and seed
// exchange, and switching the connection into its asymmetric multiplex
// mode (only the protocol server's writes are ever framed).
package session

import (
	"bufio"
	"io"

	rsyncproto "github.com/blocksync/rsync27"
	"github.com/blocksync/rsync27/internal/rsynclog"
	"github.com/blocksync/rsync27/internal/rsyncopts"
	"github.com/blocksync/rsync27/internal/rsyncwire"
)

// Session is a negotiated connection: the wire codec ready to use, plus
// byte counters for the end-of-transfer statistics exchange.
type Session struct {
	Conn  *rsyncwire.Conn
	Read  *rsyncwire.CountingReader
	Write *rsyncwire.CountingWriter
	Seed  int32
}

// mplexReadBuffer is sized generously above any single out-of-band message
// this protocol emits.
const mplexReadBuffer = 256 * 1024

// sessionChecksumSeed is the per-connection seed mixed into every strong
// digest. rsync/main.c seeds this from time(NULL); a fixed value is enough
// since this core never runs two overlapping sessions that need to be
// distinguishable from each other.
const sessionChecksumSeed = 666

// Negotiate performs the handshake, in whichever direction opts.Server()
// calls for: the protocol server (the remote end reached over ssh, or the
// process started with --server) reads the peer's version before sending
// its own and always multiplexes its writes; the protocol client does the
// reverse and never multiplexes. Out-of-band channels the server
// multiplexes onto its writes (log/info/warning messages, and MsgError)
// are forwarded to logger; an MsgError terminates the transfer with the
// error its payload describes.
func Negotiate(conn io.ReadWriter, opts *rsyncopts.Options, logger rsynclog.Logger, negotiate bool) (*Session, error) {
	if opts.Server() {
		return acceptAsServer(conn, negotiate)
	}
	return dialAsClient(conn, logger, negotiate)
}

func dialAsClient(conn io.ReadWriter, logger rsynclog.Logger, negotiate bool) (*Session, error) {
	crd, cwr := rsyncwire.CounterPair(conn, conn)
	c := &rsyncwire.Conn{Reader: crd, Writer: cwr}

	if negotiate {
		if err := c.WriteInt32(rsyncproto.ProtocolVersion); err != nil {
			return nil, err
		}
		if _, err := c.ReadInt32(); err != nil { // remote protocol version
			return nil, err
		}
	}

	seed, err := c.ReadInt32()
	if err != nil {
		return nil, err
	}

	// Transmissions received from the protocol server are multiplexed;
	// transmissions sent by the client never are.
	mrd := &rsyncwire.MultiplexReader{Reader: conn, Sink: logSink(logger)}
	c.Reader = bufio.NewReaderSize(mrd, mplexReadBuffer)

	return &Session{Conn: c, Read: crd, Write: cwr, Seed: seed}, nil
}

// logSink builds a MultiplexReader.Sink that forwards channels 1-6
// (MsgErrorXfer through MsgClient) to logger, tagged by channel.
func logSink(logger rsynclog.Logger) func(rsyncwire.MsgType, []byte) {
	if logger == nil {
		logger = rsynclog.Discard
	}
	return func(tag rsyncwire.MsgType, payload []byte) {
		logger.Printf("[%d] %s", tag, payload)
	}
}

func acceptAsServer(conn io.ReadWriter, negotiate bool) (*Session, error) {
	crd, cwr := rsyncwire.CounterPair(conn, conn)
	c := &rsyncwire.Conn{Reader: crd, Writer: cwr}

	if negotiate {
		if _, err := c.ReadInt32(); err != nil { // remote protocol version
			return nil, err
		}
		if err := c.WriteInt32(rsyncproto.ProtocolVersion); err != nil {
			return nil, err
		}
	}

	if err := c.WriteInt32(sessionChecksumSeed); err != nil {
		return nil, err
	}

	mpx := &rsyncwire.MultiplexWriter{Writer: c.Writer}
	c.Writer = mpx

	return &Session{Conn: c, Read: crd, Write: cwr, Seed: sessionChecksumSeed}, nil
}
