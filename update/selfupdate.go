package update

import (
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/image"
	"github.com/wolfssl/wolfboot-core/werr"
)

// CheckSelfUpdate inspects UPDATE for a candidate whose declared role
// is the bootloader itself (image.RoleWolfBoot) rather than an
// application (image.RoleApp). Boards that can safely re-flash their
// own running code region (a second, inactive copy of the boot code, or
// a RAM-resident update routine) use this distinct, simpler path: there
// is no SWAP partition involved and no resumable three-way swap,
// because unlike an application image the engine cannot run out of the
// partition it is about to overwrite while the overwrite is in
// progress -- the caller is expected to reboot into an unaffected
// instance of itself first (or execute entirely from RAM), which is
// outside this package's contract and left to the HAL.
//
// It returns (false, nil) when UPDATE holds an ordinary application
// image or no image at all, so callers can treat it as a plain
// pre-check ahead of the normal application update path.
func (e *Engine) CheckSelfUpdate() (bool, error) {
	h, err := e.readHeader(flash.TagUpdate)
	if err != nil {
		return false, nil
	}
	if !h.Type().IsWolfBoot() {
		return false, nil
	}
	payload, err := e.readPayload(flash.TagUpdate, h)
	if err != nil {
		return false, err
	}
	if err := image.VerifyIntegrity(h, payload, e.cfg.Hash); err != nil {
		return false, err
	}
	digest, err := image.Digest(h, payload, e.cfg.Hash)
	if err != nil {
		return false, err
	}
	if err := image.VerifyAuthenticity(h, digest, e.cfg.Hash, e.ks, e.verify); err != nil {
		return false, err
	}
	return true, nil
}

// SelfUpdatePayload returns the verified bootloader payload staged in
// UPDATE, ready for the HAL to write over the engine's own code region
// and reboot. CheckSelfUpdate must have returned (true, nil) first.
func (e *Engine) SelfUpdatePayload() ([]byte, error) {
	ok, err := e.CheckSelfUpdate()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, werr.New("UPDATE does not hold a verified bootloader self-update image")
	}
	h, err := e.readHeader(flash.TagUpdate)
	if err != nil {
		return nil, err
	}
	return e.readPayload(flash.TagUpdate, h)
}
