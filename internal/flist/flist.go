// Package flist implements the file list: the directory snapshot sender
// and receiver exchange before any file data flows, encoded with
// field-reuse flags and name-prefix sharing to keep large trees compact.
package flist

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blocksync/rsync27/internal/rsyncwire"
)

// Unix mode-type bits, since the wire transmits raw st_mode rather than
// Go's os.FileMode encoding.
const (
	sIFMT  = 0o170000
	sIFDIR = 0o040000
	sIFREG = 0o100000
	sIFLNK = 0o120000
)

// Entry is one file-list record.
type Entry struct {
	Name       string
	Size       int64
	Mtime      int32
	Mode       int32
	UID        int32
	GID        int32
	LinkTarget string
}

func (e *Entry) IsDir() bool     { return e.Mode&sIFMT == sIFDIR }
func (e *Entry) IsRegular() bool { return e.Mode&sIFMT == sIFREG }
func (e *Entry) IsSymlink() bool { return e.Mode&sIFMT == sIFLNK }

// List is an ordered collection of Entry records.
type List struct {
	Entries []*Entry
}

// Contains reports whether name is present in the list, used by deletion to
// decide whether a locally-found path survives.
func (l *List) Contains(name string) bool {
	for _, e := range l.Entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Sort orders entries the way flist_sort does: plain byte-wise name order.
func (l *List) Sort() {
	sort.Slice(l.Entries, func(i, j int) bool {
		return l.Entries[i].Name < l.Entries[j].Name
	})
}

// Options controls which optional fields Generate/EncodeTo/DecodeFrom
// carry, mirroring the corresponding rsyncopts.Options bits.
type Options struct {
	PreserveUID   bool
	PreserveGID   bool
	PreserveLinks bool
}

// Generate walks root and builds its file list. Symlinks are skipped
// unless PreserveLinks is set, matching plain rsync without -l.
func Generate(root string, opts Options) (*List, error) {
	var l List
	err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(path, root)
		name = strings.TrimPrefix(name, string(os.PathSeparator))
		if name == "" {
			name = "."
		}

		e := &Entry{
			Name:  name,
			Size:  info.Size(),
			Mtime: int32(info.ModTime().Unix()),
			Mode:  int32(info.Mode().Perm()),
		}

		switch {
		case info.IsDir():
			e.Mode |= sIFDIR
		case info.Mode()&os.ModeSymlink != 0:
			if !opts.PreserveLinks {
				return nil
			}
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			e.LinkTarget = target
			e.Mode |= sIFLNK
		case info.Mode().IsRegular():
			e.Mode |= sIFREG
		default:
			// Devices, sockets, FIFOs: special files are out of scope, skip.
			return nil
		}

		l.Entries = append(l.Entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// EncodeTo writes the list in wire form: one record per entry, terminated
// by a zero status byte.
func (l *List) EncodeTo(c *rsyncwire.Conn, opts Options) error {
	var prevName string
	var prevMode, prevMtime, prevUID, prevGID int32

	for _, e := range l.Entries {
		flags := byte(rsync27FlistNameLong)
		if e.Name == "." {
			flags |= rsync27FlistTopLevel
		}

		prefixLen := commonPrefixLen(prevName, e.Name)
		suffix := e.Name[prefixLen:]
		if prefixLen > 0 {
			flags |= rsync27FlistNameSame
		}
		if e.Mode == prevMode {
			flags |= rsync27FlistSameMode
		}
		if e.Mtime == prevMtime {
			flags |= rsync27FlistSameTime
		}
		if opts.PreserveUID && e.UID == prevUID {
			flags |= rsync27FlistSameUID
		}
		if opts.PreserveGID && e.GID == prevGID {
			flags |= rsync27FlistSameGID
		}

		if err := c.WriteByte(flags); err != nil {
			return err
		}
		if flags&rsync27FlistNameSame != 0 {
			if err := c.WriteByte(byte(prefixLen)); err != nil {
				return err
			}
		}
		if err := c.WriteInt32(int32(len(suffix))); err != nil {
			return err
		}
		if err := c.WriteN([]byte(suffix)); err != nil {
			return err
		}
		if err := c.WriteInt64(e.Size); err != nil {
			return err
		}
		if flags&rsync27FlistSameTime == 0 {
			if err := c.WriteInt32(e.Mtime); err != nil {
				return err
			}
		}
		if flags&rsync27FlistSameMode == 0 {
			if err := c.WriteInt32(e.Mode); err != nil {
				return err
			}
		}
		if opts.PreserveUID && flags&rsync27FlistSameUID == 0 {
			if err := c.WriteInt32(e.UID); err != nil {
				return err
			}
		}
		if opts.PreserveGID && flags&rsync27FlistSameGID == 0 {
			if err := c.WriteInt32(e.GID); err != nil {
				return err
			}
		}
		if opts.PreserveLinks && e.IsSymlink() {
			if err := c.WriteInt32(int32(len(e.LinkTarget))); err != nil {
				return err
			}
			if err := c.WriteN([]byte(e.LinkTarget)); err != nil {
				return err
			}
		}

		prevName, prevMode, prevMtime = e.Name, e.Mode, e.Mtime
		prevUID, prevGID = e.UID, e.GID
	}
	return c.WriteByte(0)
}

// DecodeFrom is EncodeTo's inverse.
func DecodeFrom(c *rsyncwire.Conn, opts Options) (*List, error) {
	var l List
	var prevName string
	var prevMode, prevMtime, prevUID, prevGID int32

	for {
		flags, err := c.ReadByte()
		if err != nil {
			return nil, err
		}
		if flags == 0 {
			break
		}

		prefixLen := 0
		if flags&rsync27FlistNameSame != 0 {
			pl, err := c.ReadByte()
			if err != nil {
				return nil, err
			}
			prefixLen = int(pl)
		}
		suffixLen, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		suffix, err := c.ReadN(int(suffixLen))
		if err != nil {
			return nil, err
		}
		name := prevName[:prefixLen] + string(suffix)

		size, err := c.ReadInt64()
		if err != nil {
			return nil, err
		}

		mtime := prevMtime
		if flags&rsync27FlistSameTime == 0 {
			if mtime, err = c.ReadInt32(); err != nil {
				return nil, err
			}
		}
		mode := prevMode
		if flags&rsync27FlistSameMode == 0 {
			if mode, err = c.ReadInt32(); err != nil {
				return nil, err
			}
		}
		uid := prevUID
		if opts.PreserveUID && flags&rsync27FlistSameUID == 0 {
			if uid, err = c.ReadInt32(); err != nil {
				return nil, err
			}
		}
		gid := prevGID
		if opts.PreserveGID && flags&rsync27FlistSameGID == 0 {
			if gid, err = c.ReadInt32(); err != nil {
				return nil, err
			}
		}

		e := &Entry{Name: name, Size: size, Mtime: mtime, Mode: mode, UID: uid, GID: gid}
		if opts.PreserveLinks && e.IsSymlink() {
			tlen, err := c.ReadInt32()
			if err != nil {
				return nil, err
			}
			target, err := c.ReadN(int(tlen))
			if err != nil {
				return nil, err
			}
			e.LinkTarget = string(target)
		}

		l.Entries = append(l.Entries, e)
		prevName, prevMode, prevMtime, prevUID, prevGID = name, mode, mtime, uid, gid
	}
	return &l, nil
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Local copies of the root package's Flist* wire constants, with the same
// values.
const (
	rsync27FlistTopLevel = 0x01
	rsync27FlistSameMode = 0x02
	rsync27FlistSameUID  = 0x08
	rsync27FlistSameGID  = 0x10
	rsync27FlistNameSame = 0x20
	rsync27FlistNameLong = 0x40
	rsync27FlistSameTime = 0x80
)
