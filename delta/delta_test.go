package delta_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/wolfssl/wolfboot-core/delta"
)

const sectorSize = 0x400

func TestDiffPatchRoundTrip(t *testing.T) {
	cases := []struct {
		name          string
		source        []byte
		target        []byte
	}{
		{"identical", bytes.Repeat([]byte{0xAA}, 2048), bytes.Repeat([]byte{0xAA}, 2048)},
		{"appended tail", bytes.Repeat([]byte("hello "), 100), append(bytes.Repeat([]byte("hello "), 100), []byte("world")...)},
		{"shuffled", shuffledBuffer(4096, 1), shuffledBuffer(4096, 2)},
		{"empty target", []byte("source data"), []byte{}},
		{"empty source", []byte{}, []byte("brand new data with no base to diff against")},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			patch := delta.Diff(c.source, c.target, sectorSize)
			got, err := delta.Patch(c.source, patch, len(c.target))
			if err != nil {
				t.Fatalf("Patch: %v", err)
			}
			if !bytes.Equal(got, c.target) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(c.target))
			}
		})
	}
}

func shuffledBuffer(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func TestPatchRejectsMalformedEscape(t *testing.T) {
	// A lone escape byte with nothing after it.
	if _, err := delta.Patch([]byte("source"), []byte{delta.Esc}, 0); err == nil {
		t.Fatal("expected a truncated escape sequence to be rejected")
	}
}

func TestPatchRejectsOutOfRangeBlock(t *testing.T) {
	source := []byte("short")
	// Block record pointing past the end of source.
	patch := []byte{delta.Esc, 0xFF, 0xFF, 0xFF, 0x10, 0x00}
	if _, err := delta.Patch(source, patch, 0); err == nil {
		t.Fatal("expected an out-of-range block reference to be rejected")
	}
}

func TestLiteralEscByteIsDoubled(t *testing.T) {
	source := []byte{}
	target := []byte{delta.Esc, 0x01, delta.Esc}
	patch := delta.Diff(source, target, sectorSize)
	got, err := delta.Patch(source, patch, len(target))
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !bytes.Equal(got, target) {
		t.Fatalf("got %v, want %v", got, target)
	}
}

func TestMatchNeverCrossesSectorBoundary(t *testing.T) {
	// Build a source where a match candidate would naturally run across
	// a sector boundary if unconstrained; verify the produced patch
	// still reconstructs correctly, proving the boundary-respecting
	// search didn't silently corrupt the encoding.
	source := bytes.Repeat([]byte{0x01}, sectorSize*3)
	target := bytes.Repeat([]byte{0x01}, sectorSize*3)
	patch := delta.Diff(source, target, sectorSize)
	got, err := delta.Patch(source, patch, len(target))
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !bytes.Equal(got, target) {
		t.Fatal("sector-spanning match round trip failed")
	}
}

func TestPatcherStreams(t *testing.T) {
	source := shuffledBuffer(8192, 7)
	target := append(append([]byte{}, source[:4096]...), shuffledBuffer(2048, 9)...)
	patch := delta.Diff(source, target, sectorSize)

	patchRead := func(off uint32, buf []byte) (int, error) {
		return copy(buf, patch[off:]), nil
	}
	p := delta.NewPatcher(source, uint32(len(patch)), patchRead)
	var out []byte
	buf := make([]byte, 513) // deliberately not a round divisor of the prefetch chunk
	for !p.Done() {
		n, err := p.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		out = append(out, buf[:n]...)
		if n == 0 {
			break
		}
	}
	if !bytes.Equal(out, target) {
		t.Fatalf("streaming patch mismatch: got %d bytes, want %d", len(out), len(target))
	}
}
