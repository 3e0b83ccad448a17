package delta

import (
	"github.com/wolfssl/wolfboot-core/werr"
)

// DeltaPatchBlockSize is the chunk size used to prefetch patch-stream
// bytes from external flash into an in-memory cache, matching the
// original patch context's cache granularity.
const DeltaPatchBlockSize = 1024

// Patcher streams a patch application without requiring the entire
// patch stream to be resident at once, for use by the update engine
// when the patch lives in external flash. It carries across Read calls
// whatever partial state a block-copy record left pending, mirroring
// the original patch context's matching/blkOff/blkSz fields.
type Patcher struct {
	source    []byte
	patchRead func(off uint32, buf []byte) (int, error)
	patchOff  uint32
	patchLen  uint32

	cache      []byte
	cacheStart uint32

	// pending copy-back state, carried across Read calls when a block
	// record's payload doesn't fit entirely in one caller-supplied
	// buffer.
	pendingOff uint32
	pendingLen uint32

	eof bool
}

// NewPatcher constructs a Patcher applying a patch of patchLen bytes,
// read via patchRead (offsets relative to the start of the patch
// stream), against source.
func NewPatcher(source []byte, patchLen uint32, patchRead func(off uint32, buf []byte) (int, error)) *Patcher {
	return &Patcher{
		source:    source,
		patchRead: patchRead,
		patchLen:  patchLen,
	}
}

func (p *Patcher) fill(off uint32, n uint32) ([]byte, error) {
	if p.cache != nil && off >= p.cacheStart && off+n <= p.cacheStart+uint32(len(p.cache)) {
		return p.cache[off-p.cacheStart : off-p.cacheStart+n], nil
	}
	chunk := DeltaPatchBlockSize
	if uint32(chunk) < n {
		chunk = int(n)
	}
	if off+uint32(chunk) > p.patchLen {
		chunk = int(p.patchLen - off)
	}
	buf := make([]byte, chunk)
	got, err := p.patchRead(off, buf)
	if err != nil {
		return nil, werr.Child(err)
	}
	buf = buf[:got]
	p.cache = buf
	p.cacheStart = off
	if uint32(got) < n {
		return nil, werr.Fmt("short read from patch stream at offset %d", off)
	}
	return buf[:n], nil
}

// Read fills dst with the next patched bytes, applying block-copy
// records against the Patcher's source image. A copy record longer than
// what is left of dst is carried over and finished by the next call, so
// a sector-sized caller buffer may be smaller than a single block
// record's payload; Read returns a short count only at the end of the
// patch stream.
func (p *Patcher) Read(dst []byte) (int, error) {
	n := 0
	for n < len(dst) {
		if p.pendingLen > 0 {
			take := p.pendingLen
			if take > uint32(len(dst)-n) {
				take = uint32(len(dst) - n)
			}
			if int(p.pendingOff+take) > len(p.source) {
				return n, werr.Child(ErrBaseOutOfRange)
			}
			copy(dst[n:n+int(take)], p.source[p.pendingOff:p.pendingOff+take])
			p.pendingOff += take
			p.pendingLen -= take
			n += int(take)
			continue
		}
		if p.patchOff >= p.patchLen {
			p.eof = true
			return n, nil
		}

		hdr, err := p.fill(p.patchOff, 1)
		if err != nil {
			return n, err
		}
		b := hdr[0]
		if b != Esc {
			dst[n] = b
			n++
			p.patchOff++
			continue
		}

		esc2, err := p.fill(p.patchOff, 2)
		if err != nil {
			return n, err
		}
		if esc2[1] == Esc {
			dst[n] = Esc
			n++
			p.patchOff += 2
			continue
		}

		rec, err := p.fill(p.patchOff, BlockHeaderSize)
		if err != nil {
			return n, err
		}
		off := uint32(rec[1]) | uint32(rec[2])<<8 | uint32(rec[3])<<16
		length := uint32(rec[4]) | uint32(rec[5])<<8
		p.patchOff += BlockHeaderSize
		p.pendingOff = off
		p.pendingLen = length
	}
	return n, nil
}

// Done reports whether the patch stream has been fully consumed and no
// copy-back record is still pending.
func (p *Patcher) Done() bool {
	return p.eof && p.pendingLen == 0
}
