// Package delta implements the binary diff/patch codec allowing an
// UPDATE image to ship as a patch against the running BOOT image
// instead of a full copy. The wire format and the forward/backward
// match search follow the original diff/patch routines this core's
// update engine was modeled on: an escape byte distinguishes literal
// data from 6-byte block-copy records, and match search never crosses a
// source-sector boundary so an in-place patch application can never
// reference a sector it has already overwritten.
package delta

import (
	"bytes"
	"encoding/binary"

	"github.com/wolfssl/wolfboot-core/werr"
)

// Esc is the escape byte; a literal Esc byte in the stream is doubled,
// and a single Esc followed by 5 more bytes introduces a block-copy
// record.
const Esc = 0x7F

// BlockHeaderSize is the length in bytes of a block-copy record: the
// escape byte, a 3-byte little-endian source offset, and a 2-byte
// little-endian length.
const BlockHeaderSize = 6

// MinMatchLen is the shortest match worth encoding as a block record;
// shorter matches cost more in the 6-byte header than they save versus
// emitting literals.
const MinMatchLen = 8

// MaxBlockLen is the largest length a single block record can encode.
const MaxBlockLen = 0xFFFF

var (
	ErrMalformedPatch = werr.New("malformed delta patch stream")
	ErrBaseOutOfRange = werr.New("delta patch references out-of-range base offset")
)

// Direction selects which way a patch transforms an image: Forward
// turns the current image into the new one; Inverse turns the new image
// back into the current one, and is carried inside the update image so
// a failed update can be rolled back without needing network access to
// the old image again.
type Direction int

const (
	Forward Direction = iota
	Inverse
)

// writeBlock appends a block-copy record to out.
func writeBlock(out *bytes.Buffer, off uint32, length int) {
	out.WriteByte(Esc)
	var hdr [5]byte
	hdr[0] = byte(off)
	hdr[1] = byte(off >> 8)
	hdr[2] = byte(off >> 16)
	binary.LittleEndian.PutUint16(hdr[3:5], uint16(length))
	out.Write(hdr[:])
}

// writeLiteral appends a single literal byte, escaping it if it equals
// Esc.
func writeLiteral(out *bytes.Buffer, b byte) {
	if b == Esc {
		out.WriteByte(Esc)
		out.WriteByte(Esc)
	} else {
		out.WriteByte(b)
	}
}

// Diff produces a patch stream that, applied to source via Patch,
// reproduces target. sectorSize bounds how far a single match may
// extend past the sector it started in, so the patch remains safe to
// apply in place: by the time the patcher overwrites target sector N,
// it must not need to read source bytes from a sector earlier sectors'
// writes may already have clobbered.
func Diff(source, target []byte, sectorSize uint32) []byte {
	out := &bytes.Buffer{}
	ti := 0
	for ti < len(target) {
		off, length := findMatch(source, target, ti, sectorSize)
		if length >= MinMatchLen {
			writeBlock(out, uint32(off), length)
			ti += length
			continue
		}
		writeLiteral(out, target[ti])
		ti++
	}
	return out.Bytes()
}

// findMatch looks for the longest run in source that matches target
// starting at ti, capped so the match never crosses beyond the sector
// of source it started in. The search starts at the source sector
// holding ti, so no earlier (already overwritten) sector is referenced.
func findMatch(source, target []byte, ti int, sectorSize uint32) (off int, length int) {
	bestLen := 0
	bestOff := 0
	limit := len(source)
	if limit > len(target)+MaxBlockLen {
		limit = len(target) + MaxBlockLen
	}
	for so := int((uint32(ti) / sectorSize) * sectorSize); so < limit; so++ {
		l := matchLen(source, target, so, ti, sectorSize)
		if l > bestLen {
			bestLen = l
			bestOff = so
			if bestLen >= MaxBlockLen {
				break
			}
		}
	}
	return bestOff, bestLen
}

func matchLen(source, target []byte, so, ti int, sectorSize uint32) int {
	sectorEnd := (uint32(so)/sectorSize + 1) * sectorSize
	max := int(sectorEnd) - so
	n := 0
	for so+n < len(source) && ti+n < len(target) && n < max {
		if source[so+n] != target[ti+n] {
			break
		}
		n++
		if n >= MaxBlockLen {
			break
		}
	}
	return n
}

// Patch applies patch against source, producing the reconstructed
// image. destLen, when nonzero, pre-sizes the output buffer; it is not
// a hard limit (Patch grows the buffer as needed).
func Patch(source, patch []byte, destLen int) ([]byte, error) {
	out := make([]byte, 0, destLen)
	i := 0
	for i < len(patch) {
		b := patch[i]
		if b != Esc {
			out = append(out, b)
			i++
			continue
		}
		if i+1 >= len(patch) {
			return nil, werr.Child(ErrMalformedPatch)
		}
		if patch[i+1] == Esc {
			out = append(out, Esc)
			i += 2
			continue
		}
		if i+BlockHeaderSize > len(patch) {
			return nil, werr.Child(ErrMalformedPatch)
		}
		off := uint32(patch[i+1]) | uint32(patch[i+2])<<8 | uint32(patch[i+3])<<16
		length := binary.LittleEndian.Uint16(patch[i+4 : i+6])
		if int(off)+int(length) > len(source) {
			return nil, werr.Child(ErrBaseOutOfRange)
		}
		out = append(out, source[off:int(off)+int(length)]...)
		i += BlockHeaderSize
	}
	return out, nil
}
