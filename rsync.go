// Package rsync holds the wire-protocol-27 constants and records shared by
// every role (sender, receiver, client, server): the protocol version, the
// file-list status-byte flags, and the per-file block-set header.
package rsync

import "github.com/blocksync/rsync27/internal/rsyncwire"

// ProtocolVersion is the only wire protocol this module speaks. Negotiating
// down to, or up from, any other version is out of scope.
const ProtocolVersion = 27

// File-list status-byte flags, rsync/rsync.h. The status byte decides which
// of an entry's optional fields are present on the wire; 0x04 and 0x20 are
// deliberately asymmetric (0x20 signals field reuse for names, not absence).
const (
	FlistTopLevel      = 0x01 // matching local directory is in scope for deletion
	FlistSameMode      = 0x02 // mode is a repeat of the previous entry's
	FlistSameUID       = 0x08 // uid is a repeat of the previous entry's
	FlistSameGID       = 0x10 // gid is a repeat of the previous entry's
	FlistNameSame      = 0x20 // leading bytes of the name are shared with the previous entry
	FlistNameLong      = 0x40 // full-integer name length follows, not a single byte
	FlistSameTime      = 0x80 // mtime is a repeat of the previous entry's
)

// SumHead is the block-set header exchanged ahead of every file's token
// stream: how many blocks the receiver generated, how long each is, how
// long the strong checksums are truncated to, and the length of the final,
// short block.
type SumHead struct {
	ChecksumCount   int32
	BlockLength     int32
	ChecksumLength  int32
	RemainderLength int32
}

func (s *SumHead) ReadFrom(c *rsyncwire.Conn) error {
	var err error
	if s.ChecksumCount, err = c.ReadInt32(); err != nil {
		return err
	}
	if s.BlockLength, err = c.ReadInt32(); err != nil {
		return err
	}
	if s.ChecksumLength, err = c.ReadInt32(); err != nil {
		return err
	}
	if s.RemainderLength, err = c.ReadInt32(); err != nil {
		return err
	}
	return nil
}

func (s *SumHead) WriteTo(c *rsyncwire.Conn) error {
	if err := c.WriteInt32(s.ChecksumCount); err != nil {
		return err
	}
	if err := c.WriteInt32(s.BlockLength); err != nil {
		return err
	}
	if err := c.WriteInt32(s.ChecksumLength); err != nil {
		return err
	}
	return c.WriteInt32(s.RemainderLength)
}
