// Package image implements the wolfBoot image header format: a fixed-size
// TLV region preceding the firmware payload, plus the integrity and
// authenticity checks a candidate image must pass before the update
// engine will install or boot it.
//
// The on-disk layout and TLV walk mirror the struct/TLV parsing idiom
// this core was bootstrapped from (fixed headers decoded with
// encoding/binary, a type+length+value record stream with a magic and a
// terminator), generalized to wolfBoot's header shape.
package image

import (
	"bytes"
	"encoding/binary"

	"github.com/wolfssl/wolfboot-core/werr"
)

// Magic is the 4-byte sentinel at offset 0 of every image header.
var Magic = [4]byte{'W', 'O', 'L', 'F'}

// TLV type identifiers recognized in the header region.
const (
	TlvVersion          uint16 = 0x01
	TlvTimestamp        uint16 = 0x02
	TlvImageType        uint16 = 0x04
	TlvSHA256           uint16 = 0x10
	TlvSHA384           uint16 = 0x11
	TlvSHA3_384         uint16 = 0x12
	TlvPubKeyHash       uint16 = 0x20
	TlvSigRSA2048       uint16 = 0x30
	TlvSigRSA4096       uint16 = 0x31
	TlvSigECC256        uint16 = 0x32
	TlvSigECC384        uint16 = 0x33
	TlvSigEd25519       uint16 = 0x34
	TlvDeltaBase        uint16 = 0x40
	TlvDeltaBaseHash    uint16 = 0x41
	TlvDeltaSize        uint16 = 0x42
	TlvDeltaInverse     uint16 = 0x43
	TlvDeltaInverseSize uint16 = 0x44
	TlvPolicy           uint16 = 0x50
	tlvTerminator       uint16 = 0x00
	tlvPadding          byte   = 0xFF
)

// ImageType packs an authentication algorithm into the high byte and a
// payload role into the low byte.
type ImageType uint16

const (
	RoleApp      = 0x01
	RoleWolfBoot = 0x02
)

func (t ImageType) Role() uint16      { return uint16(t) & 0x00FF }
func (t ImageType) AuthAlgo() uint16  { return (uint16(t) >> 8) & 0x00FF }
func (t ImageType) IsApp() bool       { return t.Role() == RoleApp }
func (t ImageType) IsWolfBoot() bool  { return t.Role() == RoleWolfBoot }

// Header is the parsed form of the fixed-size region preceding an
// image's payload.
type Header struct {
	// Region is the raw header bytes, HeaderSize long, kept around so
	// TLV values returned by Find alias stable storage.
	Region      []byte
	PayloadSize uint32
}

var (
	ErrBadMagic  = werr.New("image header magic mismatch")
	ErrTruncated = werr.New("image header truncated")
)

// Parse validates the magic and payload-size prefix of region and
// returns a Header ready for TLV lookups. region must be exactly
// headerSize bytes (the caller reads that much from flash up front).
func Parse(region []byte, headerSize uint32) (*Header, error) {
	if uint32(len(region)) != headerSize {
		return nil, werr.Fmt("header region is %d bytes, want %d", len(region), headerSize)
	}
	if len(region) < 8 {
		return nil, werr.Child(ErrTruncated)
	}
	if !bytes.Equal(region[0:4], Magic[:]) {
		return nil, werr.Child(ErrBadMagic)
	}
	return &Header{
		Region:      region,
		PayloadSize: binary.LittleEndian.Uint32(region[4:8]),
	}, nil
}

// Find walks the TLV stream starting at byte offset 8 and returns the
// value bytes of the first record matching typ. The returned slice
// aliases h.Region; callers must not retain it past the Header's
// lifetime if the backing buffer is reused.
//
// A padding byte (0xFF) where a record would start is skipped, at any
// position. The walk stops, returning not-found, as soon as it hits the
// terminator type, a record whose declared length would run past the
// end of the header region, or the end of the region -- the length case is a safety bound against a corrupted or
// adversarial header, mirroring the bounds checks the original C TLV
// walk performs before trusting a length field.
func (h *Header) Find(typ uint16) ([]byte, bool) {
	off := 8
	region := h.Region
	for off+4 <= len(region) {
		if region[off] == tlvPadding {
			off++
			continue
		}
		t := binary.LittleEndian.Uint16(region[off : off+2])
		if t == tlvTerminator {
			return nil, false
		}
		l := binary.LittleEndian.Uint16(region[off+2 : off+4])
		valStart := off + 4
		valEnd := valStart + int(l)
		if valEnd > len(region) {
			return nil, false
		}
		if t == typ {
			return region[valStart:valEnd], true
		}
		off = valEnd
	}
	return nil, false
}

// FindAll returns every TLV record of type typ, in header order. Used
// for TLVs that may legally repeat (signature TLVs across algorithms are
// not expected to repeat, but policy blobs and future extensions might).
func (h *Header) FindAll(typ uint16) [][]byte {
	var out [][]byte
	off := 8
	region := h.Region
	for off+4 <= len(region) {
		if region[off] == tlvPadding {
			off++
			continue
		}
		t := binary.LittleEndian.Uint16(region[off : off+2])
		if t == tlvTerminator {
			break
		}
		l := binary.LittleEndian.Uint16(region[off+2 : off+4])
		valStart := off + 4
		valEnd := valStart + int(l)
		if valEnd > len(region) {
			break
		}
		if t == typ {
			out = append(out, region[valStart:valEnd])
		}
		off = valEnd
	}
	return out
}

// Version returns the TlvVersion field, or 0 if absent.
func (h *Header) Version() uint32 {
	v, ok := h.Find(TlvVersion)
	if !ok || len(v) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(v)
}

// Type returns the TlvImageType field, or 0 if absent.
func (h *Header) Type() ImageType {
	v, ok := h.Find(TlvImageType)
	if !ok || len(v) < 2 {
		return 0
	}
	return ImageType(binary.LittleEndian.Uint16(v))
}

// Build serializes a sequence of (type, value) TLV records into a
// headerSize-long region, magic + payloadSize prefix included, for use
// by test fixtures constructing synthetic images. Real images are
// produced by an external signing tool; this core only ever parses.
func Build(headerSize uint32, payloadSize uint32, tlvs [][2]interface{}) ([]byte, error) {
	region := make([]byte, headerSize)
	copy(region[0:4], Magic[:])
	binary.LittleEndian.PutUint32(region[4:8], payloadSize)

	off := 8
	for _, kv := range tlvs {
		typ := kv[0].(uint16)
		val := kv[1].([]byte)
		need := 4 + len(val)
		if off+need > len(region) {
			return nil, werr.Fmt("tlv stream overflows header region (need %d more bytes at offset %d)", need, off)
		}
		binary.LittleEndian.PutUint16(region[off:off+2], typ)
		binary.LittleEndian.PutUint16(region[off+2:off+4], uint16(len(val)))
		copy(region[off+4:off+4+len(val)], val)
		off += need
	}
	for off < len(region) {
		region[off] = tlvPadding
		off++
	}
	return region, nil
}
