// Package rsyncwire implements the framed duplex I/O every role speaks
// over: little-endian integer/size encoding, the long-integer escape
// ("-1, then 8 bytes"), and the multiplex channel that separates payload
// bytes from out-of-band log/error/done messages. There is no internal
// buffering loop or goroutine here — every call blocks the caller's own
// single-threaded cooperative role driver, by design.
package rsyncwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// CountingReader wraps an io.Reader and tracks the number of bytes read
// through it, for the end-of-transfer statistics exchange.
type CountingReader struct {
	r     io.Reader
	bytes int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.bytes += int64(n)
	return n, err
}

// Count returns the number of bytes read so far.
func (c *CountingReader) Count() int64 { return c.bytes }

// CountingWriter wraps an io.Writer and tracks the number of bytes written
// through it.
type CountingWriter struct {
	w     io.Writer
	bytes int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.bytes += int64(n)
	return n, err
}

// Count returns the number of bytes written so far.
func (c *CountingWriter) Count() int64 { return c.bytes }

// CounterPair wraps a transport's reader and writer halves in byte
// counters, for use in the final statistics exchange.
func CounterPair(r io.Reader, w io.Writer) (*CountingReader, *CountingWriter) {
	return &CountingReader{r: r}, &CountingWriter{w: w}
}

// Conn is the primitive duplex connection every component that speaks the
// wire protocol reads and writes through.
type Conn struct {
	Reader io.Reader
	Writer io.Writer
}

func (c *Conn) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (c *Conn) WriteByte(b byte) error {
	_, err := c.Writer.Write([]byte{b})
	return err
}

func (c *Conn) ReadInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (c *Conn) WriteInt32(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := c.Writer.Write(buf[:])
	return err
}

// ReadInt64 decodes the long-integer escape: a 32-bit value, or -1 followed
// by the real 64-bit value when the quantity does not fit in 31 bits.
func (c *Conn) ReadInt64() (int64, error) {
	v, err := c.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v != -1 {
		return int64(v), nil
	}
	var buf [8]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

func (c *Conn) WriteInt64(v int64) error {
	// Send as a plain 32-bit integer whenever it fits.
	if v >= 0 && v <= 0x7FFFFFFF {
		return c.WriteInt32(int32(v))
	}
	if err := c.WriteInt32(-1); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := c.Writer.Write(buf[:])
	return err
}

// ReadN reads exactly n bytes.
func (c *Conn) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteN writes p verbatim.
func (c *Conn) WriteN(p []byte) error {
	_, err := c.Writer.Write(p)
	return err
}

// ReadLine reads a newline-terminated line, returned with its newline. It
// requires c.Reader to be a *bufio.Reader; no role driver in this module
// calls it.
func (c *Conn) ReadLine() (string, error) {
	br, ok := c.Reader.(*bufio.Reader)
	if !ok {
		return "", fmt.Errorf("rsyncwire: ReadLine requires a buffered Reader")
	}
	return br.ReadString('\n')
}

// mplexBase is the tag offset of the plain-data channel; message tags below
// it do not occur, tags above it are out-of-band message types.
const mplexBase = 7

// MsgType identifies an out-of-band multiplex message.
type MsgType byte

const (
	MsgData MsgType = iota
	MsgErrorXfer
	MsgInfo
	MsgError
	MsgWarning
	MsgLog
	MsgClient
	MsgRedo
	MsgStats
	MsgIoError
	MsgIoTimeout
	MsgNoop
	MsgErrorSocket
	MsgErrorUtf8
	MsgFlist
	MsgFlistEof
	MsgIoDone
	MsgSuccess
	MsgDeleted
	MsgNoSend
)

// maxFrame bounds a single multiplexed data frame; longer writes are split
// into several frames.
const maxFrame = 1 << 17

// MultiplexWriter frames every Write on the data channel (tag MsgData);
// WriteMsg sends an out-of-band message on a different tag. Used only for
// server-to-client transmissions — the client's writes are never
// multiplexed.
type MultiplexWriter struct {
	Writer io.Writer
}

func (w *MultiplexWriter) frame(tag MsgType, p []byte) error {
	header := uint32(mplexBase+tag)<<24 | uint32(len(p))
	var hb [4]byte
	binary.LittleEndian.PutUint32(hb[:], header)
	if _, err := w.Writer.Write(hb[:]); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	_, err := w.Writer.Write(p)
	return err
}

func (w *MultiplexWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > maxFrame {
			n = maxFrame
		}
		if err := w.frame(MsgData, p[:n]); err != nil {
			return total, err
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

// WriteMsg sends an out-of-band message, e.g. MsgError for a fatal
// diagnostic the peer should display before the connection closes.
func (w *MultiplexWriter) WriteMsg(tag MsgType, p []byte) error {
	return w.frame(tag, p)
}

// MultiplexReader demultiplexes the data channel from out-of-band messages.
// Anything tagged other than MsgData is handed to Sink instead of being
// returned from Read. A MsgError message is fatal: it is still handed to
// Sink, then latched so every subsequent Read fails with it, ending the
// transfer.
type MultiplexReader struct {
	Reader io.Reader
	Sink   func(tag MsgType, payload []byte)

	remaining int
	err       error
}

func (r *MultiplexReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for r.remaining == 0 {
		var hb [4]byte
		if _, err := io.ReadFull(r.Reader, hb[:]); err != nil {
			return 0, err
		}
		header := binary.LittleEndian.Uint32(hb[:])
		tag := MsgType(header>>24) - mplexBase
		length := int(header & 0x00ffffff)
		if tag == MsgData {
			r.remaining = length
			continue
		}
		payload, err := io.ReadAll(io.LimitReader(r.Reader, int64(length)))
		if err != nil {
			return 0, err
		}
		if r.Sink != nil {
			r.Sink(tag, payload)
		}
		if tag == MsgError {
			r.err = fmt.Errorf("rsyncwire: peer reported fatal error: %s", payload)
			return 0, r.err
		}
	}
	n := len(p)
	if n > r.remaining {
		n = r.remaining
	}
	read, err := io.ReadFull(r.Reader, p[:n])
	r.remaining -= read
	return read, err
}
