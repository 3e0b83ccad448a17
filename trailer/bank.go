package trailer

import (
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/werr"
)

// regionOffset returns the partition-relative offset of the single
// trailer region (non-write-once mode) or the offset of the two-bank
// region (write-once mode); bankLen is the size of one bank (or of the
// single region).
func (m *Manager) regionOffset(bankLen uint32) uint32 {
	if m.cfg.WriteOnce {
		return m.cfg.PartitionSize - 2*bankLen
	}
	return m.cfg.PartitionSize - bankLen
}

func (m *Manager) bankLen() uint32 {
	if m.cfg.WriteOnce {
		return m.cfg.SectorSize
	}
	return m.cfg.TrailerOverhead()
}

// readBank reads bank index idx (0 or 1; idx must be 0 in non-write-once
// mode) for tag.
func (m *Manager) readBank(tag flash.Tag, idx int) ([]byte, error) {
	bl := m.bankLen()
	base := m.regionOffset(bl)
	off := base + uint32(idx)*bl
	buf := make([]byte, bl)
	if err := m.fm.Read(tag, off, buf); err != nil {
		return nil, werr.Child(err)
	}
	return buf, nil
}

func (m *Manager) bankOffset(idx int) uint32 {
	bl := m.bankLen()
	base := m.regionOffset(bl)
	return base + uint32(idx)*bl
}

// selectFresh picks which of two valid-or-not banks is authoritative.
// If exactly one carries the magic, it wins outright. If both do, the
// bank with fewer erased bytes from the flags offset onward has made
// more progress and is considered fresher -- mirroring the original
// fresh-sector selector's erased-byte count. If neither carries the
// magic, bank 0 is returned as a (state=NEW) default.
func selectFresh(bank0, bank1 []byte, l layout) int {
	m0 := hasMagic(bank0, l)
	m1 := hasMagic(bank1, l)
	switch {
	case m0 && !m1:
		return 0
	case m1 && !m0:
		return 1
	case !m0 && !m1:
		return 0
	default:
		e0 := erasedCount(bank0, l.flagsOff)
		e1 := erasedCount(bank1, l.flagsOff)
		if e1 < e0 {
			return 1
		}
		return 0
	}
}

// withFreshBank loads the fresh trailer bank (or the single region in
// non-write-once mode) into a caller-owned buffer, invokes mutate to
// apply logical changes, and persists the result following the
// power-fail-safe rotation protocol for write-once media.
func (m *Manager) withFreshBank(tag flash.Tag, mutate func(buf []byte, l layout)) error {
	bl := m.bankLen()
	l, err := m.layoutFor(bl)
	if err != nil {
		return err
	}

	if !m.cfg.WriteOnce {
		buf, err := m.readBank(tag, 0)
		if err != nil {
			return err
		}
		mutate(buf, l)
		writeMagic(buf, l)
		if err := m.fm.Write(tag, m.bankOffset(0), buf); err != nil {
			return werr.Child(err)
		}
		return nil
	}

	bank0, err := m.readBank(tag, 0)
	if err != nil {
		return err
	}
	bank1, err := m.readBank(tag, 1)
	if err != nil {
		return err
	}
	freshIdx := selectFresh(bank0, bank1, l)
	staleIdx := 1 - freshIdx
	fresh := bank0
	if freshIdx == 1 {
		fresh = bank1
	}

	copy(m.scratch[:bl], fresh)
	scratch := m.scratch[:bl]
	mutate(scratch, l)
	writeMagic(scratch, l)

	staleOff := m.bankOffset(staleIdx)
	freshOff := m.bankOffset(freshIdx)

	if err := m.fm.Erase(tag, staleOff, m.cfg.SectorSize); err != nil {
		return werr.Child(err)
	}
	if err := m.fm.Write(tag, staleOff, scratch); err != nil {
		return werr.Child(err)
	}
	if err := m.fm.Erase(tag, freshOff, m.cfg.SectorSize); err != nil {
		return werr.Child(err)
	}
	return nil
}

// readFreshBank returns a read-only snapshot of whichever bank (or the
// single region) currently holds the authoritative trailer, along with
// its layout and whether it carries a valid magic.
func (m *Manager) readFreshBank(tag flash.Tag) ([]byte, layout, bool, error) {
	bl := m.bankLen()
	l, err := m.layoutFor(bl)
	if err != nil {
		return nil, layout{}, false, err
	}
	if !m.cfg.WriteOnce {
		buf, err := m.readBank(tag, 0)
		if err != nil {
			return nil, layout{}, false, err
		}
		return buf, l, hasMagic(buf, l), nil
	}
	bank0, err := m.readBank(tag, 0)
	if err != nil {
		return nil, layout{}, false, err
	}
	bank1, err := m.readBank(tag, 1)
	if err != nil {
		return nil, layout{}, false, err
	}
	idx := selectFresh(bank0, bank1, l)
	fresh := bank0
	if idx == 1 {
		fresh = bank1
	}
	return fresh, l, hasMagic(fresh, l), nil
}
