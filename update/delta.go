package update

import (
	"encoding/binary"

	"github.com/wolfssl/wolfboot-core/delta"
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/image"
	"github.com/wolfssl/wolfboot-core/werr"
)

// materializeDelta reconstructs a delta candidate's full payload against
// BOOT's current payload as the patch base, verifies the reconstructed
// content against the header's ordinary integrity/authenticity TLVs
// (the header was signed over the final reconstructed image, not over
// the patch stream), and overwrites UPDATE in place with the
// reconstructed header+payload so the three-way swap loop that follows
// can treat it exactly like a non-delta candidate.
//
// Direction selection follows the version comparison: a candidate
// version greater than BOOT's applies the forward patch (BOOT -> new);
// a candidate version lower than BOOT's -- only reachable when
// fallbackAllowed, i.e. during emergency rollback -- applies the
// inverse patch carried in the TlvDeltaInverse/TlvDeltaInverseSize
// TLVs.
func (e *Engine) materializeDelta(c *candidate, fallbackAllowed bool) error {
	bootHeader, err := e.readHeader(flash.TagBoot)
	if err != nil {
		return werr.FmtChild(err, "delta update requires a readable BOOT base image")
	}
	baseHash, ok := c.header.Find(image.TlvDeltaBaseHash)
	if !ok {
		return werr.New("delta image missing base hash TLV")
	}
	bootPayload, err := e.readPayload(flash.TagBoot, bootHeader)
	if err != nil {
		return err
	}
	actualBaseHash, err := image.Digest(bootHeader, bootPayload, e.cfg.Hash)
	if err != nil {
		return err
	}
	if !bytesEqual(actualBaseHash, baseHash) {
		return werr.New("delta base hash does not match current BOOT image")
	}

	patchBytes := c.payload
	destLen := int(e.maxUsableSize())
	if fallbackAllowed {
		invOff, ok1 := c.header.Find(image.TlvDeltaInverse)
		invSz, ok2 := c.header.Find(image.TlvDeltaInverseSize)
		if !ok1 || !ok2 {
			return werr.New("inverse delta requested but TLVs absent")
		}
		off := le32(invOff)
		sz := le32(invSz)
		region := make([]byte, sz)
		if err := e.fm.Read(flash.TagUpdate, e.headerSize+off, region); err != nil {
			return werr.Child(err)
		}
		patchBytes = region
	}

	reconstructed, err := delta.Patch(bootPayload, patchBytes, destLen)
	if err != nil {
		return err
	}

	if err := image.VerifyIntegrity(c.header, reconstructed, e.cfg.Hash); err != nil {
		return err
	}
	digest, err := image.Digest(c.header, reconstructed, e.cfg.Hash)
	if err != nil {
		return err
	}
	if err := image.VerifyAuthenticity(c.header, digest, e.cfg.Hash, e.ks, e.verify); err != nil {
		return err
	}

	newRegion := make([]byte, e.headerSize)
	copy(newRegion, c.header.Region)
	binary.LittleEndian.PutUint32(newRegion[4:8], uint32(len(reconstructed)))

	if err := e.fm.Write(flash.TagUpdate, 0, newRegion); err != nil {
		return werr.Child(err)
	}
	if err := e.fm.Write(flash.TagUpdate, e.headerSize, reconstructed); err != nil {
		return werr.Child(err)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
