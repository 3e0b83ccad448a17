// Package boot is the top-level orchestration this core exposes to a
// board's reset handler: drive the update state machine, verify the
// resulting BOOT image, and hand control to the application. Since this
// is a Go port with no machine code to jump to, "handing control" means
// returning the verified image's payload and parsed header to the
// caller (no load address is returned), which is expected to be the
// last thing its own init code does before transferring control for
// real.
package boot

import (
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/image"
	"github.com/wolfssl/wolfboot-core/update"
	"github.com/wolfssl/wolfboot-core/werr"
	"github.com/wolfssl/wolfboot-core/wlog"
)

// PanicPolicy is invoked when BOOT cannot be verified even after an
// emergency rollback attempt. The default, Hang, blocks forever; a
// board package may instead supply a HAL reset callback. This is
// intentionally a configuration knob rather than a hard-coded behavior.
type PanicPolicy func(cause error)

// Hang is the default PanicPolicy: block forever. A real target's
// watchdog will eventually reset it; this package does not assume one
// exists.
func Hang(error) {
	select {}
}

// Scatterer disperses a verified image to its ELF load-segment target
// addresses before the caller jumps to it, for boards using scattered
// (non-contiguous) load layouts. Most boards run contiguously out of
// the partition and never need one; boot.Boot accepts a nil Scatterer.
type Scatterer interface {
	Scatter(payload []byte) error
}

// LoadedImage is returned by Boot on success: the verified payload and
// its parsed header. It carries no entry-point or load-address
// metadata.
type LoadedImage struct {
	Header  *image.Header
	Payload []byte
}

var (
	// ErrFatal is returned (after PanicPolicy has already been
	// invoked, if set) when BOOT could not be verified even after an
	// emergency rollback.
	ErrFatal = werr.New("BOOT partition unbootable even after emergency rollback")
)

// Boot runs the update engine's state machine, opens and verifies the
// resulting BOOT image, and returns it ready for the caller to jump to.
// On verification failure it attempts one emergency rollback and
// re-verifies; on a second failure it invokes policy (defaulting to
// Hang if nil) and then returns ErrFatal so a caller with a policy that
// does return (e.g. one that itself panics or longjmps) still observes
// a well-defined error.
func Boot(eng *update.Engine, scatter Scatterer, policy PanicPolicy) (*LoadedImage, error) {
	if policy == nil {
		policy = Hang
	}

	if err := eng.Run(); err != nil {
		wlog.Error("update engine run failed", err, wlog.Fields{})
	}

	h, payload, err := eng.VerifyImage(flash.TagBoot)
	if err == nil {
		return finish(&LoadedImage{Header: h, Payload: payload}, scatter)
	}

	wlog.Error("BOOT verification failed, attempting emergency rollback", err, wlog.Fields{})
	if rbErr := eng.EmergencyRollback(); rbErr != nil {
		wlog.Error("emergency rollback failed", rbErr, wlog.Fields{})
		policy(werr.Child(rbErr))
		return nil, werr.Child(ErrFatal)
	}

	h, payload, err = eng.VerifyImage(flash.TagBoot)
	if err != nil {
		wlog.Error("BOOT still unverifiable after rollback", err, wlog.Fields{})
		policy(werr.Child(err))
		return nil, werr.Child(ErrFatal)
	}
	return finish(&LoadedImage{Header: h, Payload: payload}, scatter)
}

func finish(img *LoadedImage, scatter Scatterer) (*LoadedImage, error) {
	if scatter != nil {
		if err := scatter.Scatter(img.Payload); err != nil {
			return nil, werr.FmtChild(err, "ELF scatter failed")
		}
	}
	return img, nil
}
