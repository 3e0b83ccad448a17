package keystore

import (
	"bytes"
	"encoding/binary"

	"github.com/wolfssl/wolfboot-core/werr"
)

// otpMagic is the 8-byte sentinel at the start of an OTP key-store
// region, matching the original OTP header's magic string.
var otpMagic = [8]byte{'W', 'O', 'L', 'F', 'B', 'O', 'O', 'T'}

// otpHeaderSize is magic(8) + item_count(4) + flags(4) + version(4).
const otpHeaderSize = 20

// otpSlotHeaderSize is slot_id(4) + key_type(4) + part_id_mask(4) +
// pubkey_size(4), preceding each slot's variable-length pubkey.
const otpSlotHeaderSize = 16

// OTPStore reads a key table out of an OTP-backed flash region at
// manufacturing-provisioned addresses. OTP media is often only
// word-readable; Read is expected to go through flash.Manager so
// alignment is handled the same way any other flash read is.
type OTPStore struct {
	ItemCount uint32
	Flags     uint32
	Version   uint32

	slots []otpSlot
}

type otpSlot struct {
	slotID   uint32
	keyType  KeyType
	partMask uint32
	pub      []byte
}

// ParseOTP decodes region (the entire provisioned OTP key-store area)
// into an OTPStore. It does not itself handle alignment -- callers read
// region out of flash themselves; flash.Manager.Read applies no granule
// policy (its read-modify-write handling exists only on the Write path).
func ParseOTP(region []byte) (*OTPStore, error) {
	if len(region) < otpHeaderSize {
		return nil, werr.New("OTP region too small for header")
	}
	if !bytes.Equal(region[0:8], otpMagic[:]) {
		return nil, werr.New("OTP key store magic mismatch")
	}
	s := &OTPStore{
		ItemCount: binary.LittleEndian.Uint32(region[8:12]),
		Flags:     binary.LittleEndian.Uint32(region[12:16]),
		Version:   binary.LittleEndian.Uint32(region[16:20]),
	}
	off := otpHeaderSize
	for i := uint32(0); i < s.ItemCount; i++ {
		if off+otpSlotHeaderSize > len(region) {
			return nil, werr.Fmt("OTP region truncated at slot %d", i)
		}
		slotID := binary.LittleEndian.Uint32(region[off : off+4])
		keyType := binary.LittleEndian.Uint32(region[off+4 : off+8])
		partMask := binary.LittleEndian.Uint32(region[off+8 : off+12])
		pubSize := binary.LittleEndian.Uint32(region[off+12 : off+16])
		off += otpSlotHeaderSize
		if off+int(pubSize) > len(region) {
			return nil, werr.Fmt("OTP region truncated in slot %d pubkey", i)
		}
		s.slots = append(s.slots, otpSlot{
			slotID:   slotID,
			keyType:  KeyType(keyType),
			partMask: partMask,
			pub:      region[off : off+int(pubSize)],
		})
		off += int(pubSize)
	}
	return s, nil
}

func (s *OTPStore) NumKeys() int             { return len(s.slots) }
func (s *OTPStore) Buffer(i int) []byte      { return s.slots[i].pub }
func (s *OTPStore) Size(i int) int           { return len(s.slots[i].pub) }
func (s *OTPStore) KeyType(i int) KeyType    { return s.slots[i].keyType }
func (s *OTPStore) Mask(i int) uint32        { return s.slots[i].partMask }

var _ Store = (*OTPStore)(nil)

// MaxPubkeysForRegion returns how many fixed-size pubkeySize slots fit
// in an OTP region of the given total size, mirroring
// KEYSTORE_MAX_PUBKEYS's derivation from the reserved OTP length.
func MaxPubkeysForRegion(regionSize int, pubkeySize int) int {
	avail := regionSize - otpHeaderSize
	if avail <= 0 {
		return 0
	}
	return avail / (otpSlotHeaderSize + pubkeySize)
}
