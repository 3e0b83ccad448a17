package update

import (
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/trailer"
	"github.com/wolfssl/wolfboot-core/werr"
	"github.com/wolfssl/wolfboot-core/wlog"
)

// totalImageSize returns headerSize+payloadSize for whichever of
// BOOT/UPDATE currently has the larger declared size, used to bound the
// three-way swap loop. Read failures (e.g. an unparseable header before
// any swap has happened) are treated as 0, not fatal -- a fresh UPDATE
// partition with no header yet is a legitimate state.
func (e *Engine) totalImageSize() uint32 {
	max := uint32(0)
	for _, tag := range []flash.Tag{flash.TagBoot, flash.TagUpdate} {
		if h, err := e.readHeader(tag); err == nil {
			sz := e.headerSize + h.PayloadSize
			if sz > max {
				max = sz
			}
		}
	}
	return max
}

// runUpdate drives the power-fail-safe three-way swap to completion.
// When fallbackAllowed is true this is the emergency-rollback path: the
// version-ordering pre-flight check is skipped because the "candidate"
// in UPDATE is, by construction, the previously running image saved
// there during the forward update.
func (e *Engine) runUpdate(fallbackAllowed bool) error {
	c, err := e.preflight(fallbackAllowed)
	if err != nil {
		wlog.Error("update pre-flight failed", err, wlog.Fields{"fallback": fallbackAllowed})
		return err
	}

	if c.isDelta {
		if err := e.materializeDelta(c, fallbackAllowed); err != nil {
			wlog.Error("delta materialization failed", err, wlog.Fields{})
			return err
		}
	}

	total := e.totalImageSize()
	sectors := (total + e.cfg.SectorSize - 1) / e.cfg.SectorSize
	if sectors == 0 {
		sectors = 1
	}

	for i := uint32(0); i < sectors; i++ {
		if err := e.swapSector(i); err != nil {
			return err
		}
		if i == 0 {
			// Headers have now been exchanged; the true extent of the
			// image may differ from the estimate taken before the
			// swap started.
			total = e.totalImageSize()
			newSectors := (total + e.cfg.SectorSize - 1) / e.cfg.SectorSize
			if newSectors > sectors {
				sectors = newSectors
			}
		}
	}

	if err := e.eraseBeyond(flash.TagBoot, total); err != nil {
		return err
	}
	if err := e.eraseBeyond(flash.TagUpdate, total); err != nil {
		return err
	}

	return e.swapAndFinalErase()
}

// swapSector advances one update sector through its flag progression,
// persisting the flag before performing the corresponding copy so a
// reboot mid-sector resumes at the exact step in flight. When
// cfg.DisableBackup is set, the BACKUP flag is still recorded (so
// resumption logic stays uniform) but the copy that stashes BOOT's
// sector into UPDATE is skipped: UPDATE's old contents are simply
// gone once this sector advances, trading recoverability for one
// fewer flash write per sector.
func (e *Engine) swapSector(i uint32) error {
	flag, err := e.tm.GetSectorFlag(flash.TagUpdate, i)
	if err != nil {
		return err
	}
	off := i * e.cfg.SectorSize

	if flag == trailer.FlagNew {
		if err := e.copySector(flash.TagUpdate, flash.TagSwap, off, 0); err != nil {
			return err
		}
		if err := e.tm.SetSectorFlag(flash.TagUpdate, i, trailer.FlagSwapping); err != nil {
			return err
		}
		flag = trailer.FlagSwapping
	}

	if flag == trailer.FlagSwapping {
		if !e.cfg.DisableBackup {
			if err := e.copySector(flash.TagBoot, flash.TagUpdate, off, off); err != nil {
				return err
			}
		}
		if err := e.tm.SetSectorFlag(flash.TagUpdate, i, trailer.FlagBackup); err != nil {
			return err
		}
		flag = trailer.FlagBackup
	}

	if flag == trailer.FlagBackup {
		if err := e.copySector(flash.TagSwap, flash.TagBoot, 0, off); err != nil {
			return err
		}
		if err := e.tm.SetSectorFlag(flash.TagUpdate, i, trailer.FlagUpdated); err != nil {
			return err
		}
	}

	wlog.Verbose("sector swapped", wlog.Fields{"sector": i})
	return nil
}

// copySector erases destOff's sector in dstTag and copies SectorSize
// bytes from srcTag:srcOff into it.
func (e *Engine) copySector(srcTag, dstTag flash.Tag, srcOff, dstOff uint32) error {
	buf := make([]byte, e.cfg.SectorSize)
	if err := e.fm.Read(srcTag, srcOff, buf); err != nil {
		return werr.Child(err)
	}
	if err := e.fm.Erase(dstTag, dstOff, e.cfg.SectorSize); err != nil {
		return werr.Child(err)
	}
	if err := e.fm.Write(dstTag, dstOff, buf); err != nil {
		return werr.Child(err)
	}
	return nil
}

// eraseBeyond erases every sector of tag beyond byte offset total,
// leaving the trailer bank(s) at the very top of the partition intact.
func (e *Engine) eraseBeyond(tag flash.Tag, total uint32) error {
	trailerStart := e.cfg.PartitionSize - e.reservedFooter()
	start := ((total + e.cfg.SectorSize - 1) / e.cfg.SectorSize) * e.cfg.SectorSize
	for off := start; off < trailerStart; off += e.cfg.SectorSize {
		if err := e.fm.Erase(tag, off, e.cfg.SectorSize); err != nil {
			return werr.Child(err)
		}
	}
	return nil
}

// reservedFooter is the physical footprint at the top of a partition
// that swapSector/eraseBeyond must never touch: the trailer bank(s)
// plus, when encryption is enabled, the key slot below them.
func (e *Engine) reservedFooter() uint32 {
	footer := e.cfg.TrailerOverhead()
	if e.cfg.WriteOnce {
		footer = e.cfg.SectorSize * 2
	}
	if e.cipher != nil {
		footer += e.cipher.Footprint()
	}
	// round up to a full sector so eraseBeyond's loop stays
	// sector-aligned
	return ((footer + e.cfg.SectorSize - 1) / e.cfg.SectorSize) * e.cfg.SectorSize
}
