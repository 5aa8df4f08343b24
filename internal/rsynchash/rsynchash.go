// Package rsynchash implements the two checksums the delta algorithm is
// built on: a cheap, O(1)-rolling weak checksum used to slide a window
// across the sender's data, and the MD4 strong digest used to confirm a
// weak match and to seal each reconstructed file.
package rsynchash

import (
	"encoding/binary"
	"hash"

	mmcmd4 "github.com/mmcloughlin/md4"
	xmd4 "golang.org/x/crypto/md4"
)

// DigestLength is the number of strong-checksum bytes actually placed on
// the wire. The protocol historically allowed truncating it further (see
// CSUM_LENGTH_PHASE1); this implementation never does.
const DigestLength = 16

// CSUM_LENGTH_PHASE1 is the protocol-27 constant for a once-proposed
// shorter first-phase checksum. It is preserved here, unused, because the
// open question of whether truncation should ever drop below DigestLength
// was decided against: every checksum this module emits is DigestLength
// bytes long.
const CSUM_LENGTH_PHASE1 = 2

// Roller is the weak rolling checksum: given a window's initial bytes it
// computes a 32-bit digest in O(n), and thereafter Roll updates it in O(1)
// as the window advances one byte at a time.
type Roller struct {
	a, b uint32
	n    uint32
}

// NewRoller returns a zero-valued Roller; call Reset before first use.
func NewRoller() *Roller { return &Roller{} }

// Reset seeds the roller with buf's initial window.
func (r *Roller) Reset(buf []byte) {
	r.a, r.b = 0, 0
	r.n = uint32(len(buf))
	for i, c := range buf {
		r.a += uint32(c)
		r.b += (r.n - uint32(i)) * uint32(c)
	}
}

// Roll slides the window forward by one byte: out leaves, in enters.
func (r *Roller) Roll(out, in byte) {
	r.a = r.a - uint32(out) + uint32(in)
	r.b = r.b - r.n*uint32(out) + r.a
}

// Digest returns the current 32-bit weak checksum.
func (r *Roller) Digest() uint32 {
	return r.b<<16 | (r.a & 0xffff)
}

// BlockDigest computes the seed-prefixed strong digest of a single block:
// MD4(seed_le32 || buf). Used on both sides of the wire — the receiver (or
// whichever role holds the basis file) when generating a block set, and
// the sender when confirming a weak-checksum match — so it must be, and
// is, the same deterministic function everywhere it's called.
func BlockDigest(seed int32, buf []byte) []byte {
	h := mmcmd4.New()
	binary.Write(h, binary.LittleEndian, seed)
	h.Write(buf)
	return h.Sum(nil)[:DigestLength]
}

// FileHasher accumulates a whole-file digest across a file's literal and
// matched chunks as they are written or reconstructed, sealing it with the
// session seed only at the end: MD4(buf || seed_le32). This is the
// deliberate asymmetry relative to BlockDigest the wire protocol mandates.
type FileHasher struct {
	h hash.Hash
}

// NewFileHasher returns a FileHasher ready to accumulate data.
func NewFileHasher() *FileHasher {
	return &FileHasher{h: xmd4.New()}
}

func (f *FileHasher) Write(p []byte) (int, error) { return f.h.Write(p) }

// Sum seals the digest with seed and returns the DigestLength-byte result.
// The hasher must not be reused afterwards.
func (f *FileHasher) Sum(seed int32) []byte {
	binary.Write(f.h, binary.LittleEndian, seed)
	return f.h.Sum(nil)[:DigestLength]
}
