// Package blockset implements the per-file block set: the checksums of a
// basis file's fixed-size blocks that let a sender emit a delta instead of
// the whole file.
package blockset

import (
	"io"
	"math"

	rsyncproto "github.com/blocksync/rsync27"
	"github.com/blocksync/rsync27/internal/rsynchash"
	"github.com/blocksync/rsync27/internal/rsyncwire"
)

// minBlockLength is the floor below which the square-root formula never
// goes, rsync/rsync.h.
const minBlockLength = 700

// Block is one basis-file block's pair of checksums.
type Block struct {
	Index  int32
	Weak   uint32
	Strong []byte
}

// Set is the ordered collection of Blocks for one file, plus the header
// fields needed to reconstruct block boundaries and the final short block.
type Set struct {
	BlockLength     int32
	RemainderLength int32
	ChecksumLength  int32
	Blocks          []Block
}

// blockLength rounds size's square root, floored at minBlockLength —
// rsync/generator.c:sum_sizes_sqroot.
func blockLength(size int64) int32 {
	l := int32(math.Sqrt(float64(size)))
	if l < minBlockLength {
		l = minBlockLength
	}
	return l
}

// Generate builds the block set for basis, reading it in BlockLength-sized
// chunks via ReaderAt so the caller can keep the basis file open without
// threading seek state through the generator.
func Generate(basis io.ReaderAt, size int64, seed int32) (*Set, error) {
	if size == 0 {
		return &Set{BlockLength: minBlockLength, ChecksumLength: rsynchash.DigestLength}, nil
	}

	bl := blockLength(size)
	count := (size + int64(bl) - 1) / int64(bl)
	remainder := int32(size % int64(bl))

	s := &Set{
		BlockLength:     bl,
		ChecksumLength:  rsynchash.DigestLength,
		RemainderLength: remainder,
	}

	roller := rsynchash.NewRoller()
	buf := make([]byte, bl)
	for i := int64(0); i < count; i++ {
		off := i * int64(bl)
		n := int(bl)
		if i == count-1 && remainder != 0 {
			n = int(remainder)
		}
		chunk := buf[:n]
		if _, err := basis.ReadAt(chunk, off); err != nil && err != io.EOF {
			return nil, err
		}
		roller.Reset(chunk)
		s.Blocks = append(s.Blocks, Block{
			Index:  int32(i),
			Weak:   roller.Digest(),
			Strong: rsynchash.BlockDigest(seed, chunk),
		})
	}
	return s, nil
}

// Head converts Set to the wire SumHead.
func (s *Set) Head() rsyncproto.SumHead {
	return rsyncproto.SumHead{
		ChecksumCount:   int32(len(s.Blocks)),
		BlockLength:     s.BlockLength,
		ChecksumLength:  s.ChecksumLength,
		RemainderLength: s.RemainderLength,
	}
}

// FromHead creates an empty Set whose header fields come from h, ready to
// have Blocks appended (by DecodeFrom) or consulted with zero blocks (an
// empty basis file).
func FromHead(h rsyncproto.SumHead) *Set {
	return &Set{
		BlockLength:     h.BlockLength,
		RemainderLength: h.RemainderLength,
		ChecksumLength:  h.ChecksumLength,
		Blocks:          make([]Block, 0, h.ChecksumCount),
	}
}

// EncodeTo writes the header followed by each block's weak checksum and
// truncated strong checksum.
func (s *Set) EncodeTo(c *rsyncwire.Conn) error {
	h := s.Head()
	if err := h.WriteTo(c); err != nil {
		return err
	}
	for _, b := range s.Blocks {
		if err := c.WriteInt32(int32(b.Weak)); err != nil {
			return err
		}
		if err := c.WriteN(b.Strong[:s.ChecksumLength]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFrom is EncodeTo's inverse.
func DecodeFrom(c *rsyncwire.Conn) (*Set, error) {
	var h rsyncproto.SumHead
	if err := h.ReadFrom(c); err != nil {
		return nil, err
	}
	s := FromHead(h)
	for i := int32(0); i < h.ChecksumCount; i++ {
		weak, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		strong, err := c.ReadN(int(h.ChecksumLength))
		if err != nil {
			return nil, err
		}
		s.Blocks = append(s.Blocks, Block{Index: i, Weak: uint32(weak), Strong: strong})
	}
	return s, nil
}

// LastBlockLength returns the length of the set's final block, which may
// be shorter than BlockLength.
func (s *Set) LastBlockLength() int32 {
	if s.RemainderLength != 0 {
		return s.RemainderLength
	}
	return s.BlockLength
}

// Index answers the delta matcher's two-phase lookup: candidate blocks
// sharing the low 16 bits of a weak checksum.
type Index struct {
	buckets map[uint16][]*Block
}

// BuildIndex buckets s's blocks by the low 16 bits of their weak checksum.
func (s *Set) BuildIndex() *Index {
	idx := &Index{buckets: make(map[uint16][]*Block, len(s.Blocks))}
	for i := range s.Blocks {
		b := &s.Blocks[i]
		key := uint16(b.Weak & 0xffff)
		idx.buckets[key] = append(idx.buckets[key], b)
	}
	return idx
}

// Candidates returns the blocks whose weak checksum shares weak's low 16
// bits, pending strong-checksum confirmation.
func (idx *Index) Candidates(weak uint32) []*Block {
	return idx.buckets[uint16(weak&0xffff)]
}
