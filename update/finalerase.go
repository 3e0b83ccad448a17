package update

import (
	"bytes"

	"github.com/wolfssl/wolfboot-core/encrypt"
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/trailer"
	"github.com/wolfssl/wolfboot-core/werr"
	"github.com/wolfssl/wolfboot-core/wlog"
)

// stagingSentinelMagic marks the staging sector as carrying a
// commit-in-flight marker rather than its usual contents, so a reboot
// partway through swapAndFinalErase can tell whether the original
// staging bytes have already been parked in SWAP (in which case
// re-reading BOOT's staging sector and copying it into SWAP again
// would overwrite that good copy with whatever garbage the subsequent
// erase left behind).
var stagingSentinelMagic = [4]byte{'C', 'M', 'I', 'T'}

// swapAndFinalErase commits the just-completed three-way swap by
// replacing BOOT's trailer with a fresh TESTING state and resetting
// UPDATE back to NEW. UPDATE's trailer is marked FINAL_FLAGS as the
// very first step so a reboot anywhere in this function re-enters
// here (see Run); the staging sector (the sector directly below the
// trailer) doubles as a commit-in-flight marker for everything this
// function does between copying it to SWAP and restoring it, so a
// resumed call can tell which of those steps already happened instead
// of blindly redoing them.
//
// When encryption is enabled, the current key+nonce are folded into
// that same marker before the trailer (and the key slot beneath it)
// are erased, since neither the in-memory Cipher nor BOOT's own key
// slot survives a reboot between here and the point where the key
// slot is rewritten below.
func (e *Engine) swapAndFinalErase() error {
	wlog.Info("committing update", wlog.Fields{})

	stagingOff := e.stagingSectorOffset()

	resuming, savedKey, savedNonce, err := e.readStagingSentinel(stagingOff)
	if err != nil {
		return err
	}

	if !resuming {
		if err := e.tm.SetState(flash.TagUpdate, trailer.StateFinalFlags); err != nil {
			return err
		}

		staging := make([]byte, e.cfg.SectorSize)
		if err := e.fm.Read(flash.TagBoot, stagingOff, staging); err != nil {
			return werr.Child(err)
		}
		if err := e.fm.Erase(flash.TagSwap, 0, e.cfg.SectorSize); err != nil {
			return werr.Child(err)
		}
		if err := e.fm.Write(flash.TagSwap, 0, staging); err != nil {
			return werr.Child(err)
		}

		if e.cipher != nil && e.cipher.HasKey() {
			savedKey, savedNonce = e.cipher.KeyMaterial()
		}
		if err := e.writeStagingSentinel(stagingOff, savedKey, savedNonce); err != nil {
			return err
		}
	}

	// Erase BOOT's trailer bank(s) and key slot, but never the staging
	// sector itself: it is still carrying the sentinel (or, on this
	// call's first pass, was just given one above).
	trailerOff := stagingOff + e.cfg.SectorSize
	if err := e.fm.Erase(flash.TagBoot, trailerOff, e.cfg.PartitionSize-trailerOff); err != nil {
		return werr.Child(err)
	}

	buf := make([]byte, e.cfg.SectorSize)
	if err := e.fm.Read(flash.TagSwap, 0, buf); err != nil {
		return werr.Child(err)
	}
	if err := e.fm.Erase(flash.TagBoot, stagingOff, e.cfg.SectorSize); err != nil {
		return werr.Child(err)
	}
	if err := e.fm.Write(flash.TagBoot, stagingOff, buf); err != nil {
		return werr.Child(err)
	}

	if err := e.tm.SetState(flash.TagBoot, trailer.StateTesting); err != nil {
		return err
	}

	if savedKey != nil {
		if err := e.tm.WriteKeySlot(flash.TagBoot, append(append([]byte{}, savedKey...), savedNonce...)); err != nil {
			return err
		}
	}

	if err := e.tm.EraseTrailer(flash.TagUpdate); err != nil {
		return err
	}

	wlog.Info("update committed, BOOT now TESTING", wlog.Fields{})
	return nil
}

// stagingSentinelLen is the byte length of the commit-in-flight marker:
// a fixed magic, a one-byte has-key flag, and (only when set) the
// cipher's key+nonce.
func (e *Engine) stagingSentinelLen() uint32 {
	n := uint32(len(stagingSentinelMagic)) + 1
	if e.cipher != nil {
		n += e.cipher.Footprint()
	}
	return n
}

// readStagingSentinel reports whether BOOT's staging sector currently
// holds a commit-in-flight marker rather than ordinary sector data,
// and if so, the key+nonce it was carrying (nil if the commit never
// had one to carry).
func (e *Engine) readStagingSentinel(stagingOff uint32) (present bool, key, nonce []byte, err error) {
	buf := make([]byte, e.stagingSentinelLen())
	if err := e.fm.Read(flash.TagBoot, stagingOff, buf); err != nil {
		return false, nil, nil, werr.Child(err)
	}
	if !bytes.Equal(buf[:4], stagingSentinelMagic[:]) {
		return false, nil, nil, nil
	}
	if buf[4] == 0 || e.cipher == nil {
		return true, nil, nil, nil
	}
	rest := buf[5:]
	nonceOff := len(rest) - encrypt.NonceSize
	return true, append([]byte{}, rest[:nonceOff]...), append([]byte{}, rest[nonceOff:]...), nil
}

// writeStagingSentinel erases BOOT's staging sector and replaces it
// with the commit-in-flight marker, optionally carrying key+nonce
// across a reboot that lands after the original staging bytes have
// already been copied to SWAP but before BOOT's trailer and key slot
// have been rewritten.
func (e *Engine) writeStagingSentinel(stagingOff uint32, key, nonce []byte) error {
	buf := make([]byte, e.stagingSentinelLen())
	copy(buf[:4], stagingSentinelMagic[:])
	if key != nil {
		buf[4] = 1
		copy(buf[5:], key)
		copy(buf[5+len(key):], nonce)
	}
	if err := e.fm.Erase(flash.TagBoot, stagingOff, e.cfg.SectorSize); err != nil {
		return werr.Child(err)
	}
	return werr.Child(e.fm.Write(flash.TagBoot, stagingOff, buf))
}

// stagingSectorOffset is the sector directly below the reserved footer
// (the trailer bank(s), plus the key slot when a cipher is set). It
// carries the commit marker across the critical section of
// swapAndFinalErase while its own contents are parked in SWAP.
func (e *Engine) stagingSectorOffset() uint32 {
	return e.cfg.PartitionSize - e.reservedFooter() - e.cfg.SectorSize
}
