package trailer

import (
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/werr"
	"github.com/wolfssl/wolfboot-core/wlog"
)

// GetState returns tag's partition state. A trailer with no valid magic
// is reported as StateNew rather than as an error -- an erased or
// never-initialized trailer is the expected steady state for a
// partition that has never been updated.
func (m *Manager) GetState(tag flash.Tag) (State, error) {
	buf, l, valid, err := m.readFreshBank(tag)
	if err != nil {
		return StateNew, err
	}
	if !valid {
		return StateNew, nil
	}
	return State(buf[l.stateOff]), nil
}

// SetState persists newState into tag's trailer, writing the magic if
// it was absent (lazily creating the trailer on first use).
func (m *Manager) SetState(tag flash.Tag, newState State) error {
	wlog.Verbose("trailer state transition", wlog.Fields{"partition": tag.String(), "state": int(newState)})
	return m.withFreshBank(tag, func(buf []byte, l layout) {
		buf[l.stateOff] = byte(newState)
	})
}

func sectorByteBit(sector uint32) (uint32, uint, bool) {
	return sector / 2, 4 * (sector % 2), sector%2 == 0
}

// GetSectorFlag returns the flag recorded for update-sector index
// sector within tag's trailer.
func (m *Manager) GetSectorFlag(tag flash.Tag, sector uint32) (SectorFlag, error) {
	buf, l, valid, err := m.readFreshBank(tag)
	if err != nil {
		return FlagNew, err
	}
	if !valid {
		return FlagNew, nil
	}
	byteIdx, shift, _ := sectorByteBit(sector)
	if l.flagsOff+byteIdx >= l.stateOff {
		return FlagNew, werr.Fmt("sector %d has no flag slot in this trailer", sector)
	}
	b := buf[l.flagsOff+byteIdx]
	return SectorFlag((b >> shift) & 0x0F), nil
}

// SetSectorFlag persists newFlag for update-sector index sector.
func (m *Manager) SetSectorFlag(tag flash.Tag, sector uint32, newFlag SectorFlag) error {
	wlog.Verbose("sector flag transition", wlog.Fields{
		"partition": tag.String(), "sector": sector, "flag": int(newFlag),
	})
	return m.withFreshBank(tag, func(buf []byte, l layout) {
		byteIdx, shift, _ := sectorByteBit(sector)
		idx := l.flagsOff + byteIdx
		mask := byte(0x0F) << shift
		buf[idx] = (buf[idx] &^ mask) | (byte(newFlag)<<shift)&mask
	})
}

// ErasePartition erases the entirety of tag, including its trailer
// bank(s), resetting it to StateNew with every sector flag FlagNew.
func (m *Manager) ErasePartition(tag flash.Tag) error {
	p, err := m.fm.Partition(tag)
	if err != nil {
		return err
	}
	if err := m.fm.Erase(tag, 0, p.Size); err != nil {
		return werr.Child(err)
	}
	return nil
}

// EraseTrailer erases the sector(s) holding the trailer bank(s) of tag,
// purging stale per-sector flags left by a previous, aborted update
// cycle without touching the payload -- used by UpdateTrigger before
// arming a new cycle. Without write-once media the bank shares the
// partition's last sector with the key slot, so that slot is erased too.
func (m *Manager) EraseTrailer(tag flash.Tag) error {
	bl := m.bankLen()
	off := m.regionOffset(bl)
	banks := uint32(1)
	if m.cfg.WriteOnce {
		banks = 2
	}
	start := (off / m.cfg.SectorSize) * m.cfg.SectorSize
	return m.fm.Erase(tag, start, off+banks*bl-start)
}

// KeySlotOffset returns the partition-relative offset of the reserved
// encryption key+nonce slot, which sits just below the trailer's
// physical footprint (one bank, or two on write-once media) the way
// ENCRYPT_TMP_SECRET_OFFSET is derived from partition size.
func (m *Manager) KeySlotOffset(keySize, nonceSize uint32) uint32 {
	bl := m.bankLen()
	banks := uint32(1)
	if m.cfg.WriteOnce {
		banks = 2
	}
	return m.cfg.PartitionSize - banks*bl - keySize - nonceSize
}
