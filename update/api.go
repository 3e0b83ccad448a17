package update

import (
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/image"
	"github.com/wolfssl/wolfboot-core/trailer"
	"github.com/wolfssl/wolfboot-core/werr"
)

// CurrentFirmwareVersion returns BOOT's declared version, or 0 if BOOT
// has no parseable header.
func (e *Engine) CurrentFirmwareVersion() uint32 {
	h, err := e.readHeader(flash.TagBoot)
	if err != nil {
		return 0
	}
	return h.Version()
}

// UpdateFirmwareVersion returns UPDATE's declared version, or 0 if
// UPDATE has no parseable header.
func (e *Engine) UpdateFirmwareVersion() uint32 {
	h, err := e.readHeader(flash.TagUpdate)
	if err != nil {
		return 0
	}
	return h.Version()
}

// GetImageVersion returns tag's declared version, or 0 if unparseable.
func (e *Engine) GetImageVersion(tag flash.Tag) uint32 {
	h, err := e.readHeader(tag)
	if err != nil {
		return 0
	}
	return h.Version()
}

// GetImageType returns tag's declared image type.
func (e *Engine) GetImageType(tag flash.Tag) (image.ImageType, error) {
	h, err := e.readHeader(tag)
	if err != nil {
		return 0, err
	}
	return h.Type(), nil
}

// GetPartitionState returns tag's trailer state.
func (e *Engine) GetPartitionState(tag flash.Tag) (trailer.State, error) {
	return e.tm.GetState(tag)
}

// SetPartitionState forces tag's trailer state, for board bring-up and
// test fixtures; application code should prefer UpdateTrigger/Success.
func (e *Engine) SetPartitionState(tag flash.Tag, s trailer.State) error {
	return e.tm.SetState(tag, s)
}

// ErasePartition erases tag in its entirety.
func (e *Engine) ErasePartition(tag flash.Tag) error {
	return e.tm.ErasePartition(tag)
}

// UpdateTrigger arms the state machine to run a normal update on the
// next boot: it purges any sector flags left by a previous aborted
// cycle before marking UPDATE as UPDATING, so the three-way swap starts
// from a clean slate.
func (e *Engine) UpdateTrigger() error {
	if err := e.tm.EraseTrailer(flash.TagUpdate); err != nil {
		return err
	}
	return e.tm.SetState(flash.TagUpdate, trailer.StateUpdating)
}

// VerifyImage reads, integrity-checks, and authenticity-checks tag's
// image, returning the parsed header and payload on success. This is
// the entry point boot.Boot uses to decide whether BOOT is safe to run.
func (e *Engine) VerifyImage(tag flash.Tag) (*image.Header, []byte, error) {
	h, err := e.readHeader(tag)
	if err != nil {
		return nil, nil, err
	}
	payload, err := e.readPayload(tag, h)
	if err != nil {
		return nil, nil, err
	}
	if err := image.VerifyIntegrity(h, payload, e.cfg.Hash); err != nil {
		return nil, nil, err
	}
	digest, err := image.Digest(h, payload, e.cfg.Hash)
	if err != nil {
		return nil, nil, err
	}
	if err := image.VerifyAuthenticity(h, digest, e.cfg.Hash, e.ks, e.verify); err != nil {
		return nil, nil, err
	}
	return h, payload, nil
}

// Success confirms the currently running BOOT image, moving it from
// TESTING to SUCCESS. The backup image parked in UPDATE during the
// forward swap is no longer a rollback target once confirmed, so its
// key slot (if encryption is configured) is wiped to the erased
// sentinel rather than left holding recoverable key material for an
// image nothing will ever decrypt again. Calling Success again when
// BOOT is already SUCCESS is allowed (idempotent, matching the public
// API's "call this once you trust yourself" contract); from any other
// state it returns an error.
func (e *Engine) Success() error {
	state, err := e.tm.GetState(flash.TagBoot)
	if err != nil {
		return err
	}
	if state != trailer.StateTesting && state != trailer.StateSuccess {
		return werr.Fmt("cannot confirm success from state %d", state)
	}
	if err := e.tm.SetState(flash.TagBoot, trailer.StateSuccess); err != nil {
		return err
	}
	if e.cipher != nil {
		if err := e.tm.EraseKeySlot(flash.TagUpdate, e.cipher.Footprint()); err != nil {
			return err
		}
	}
	return nil
}
