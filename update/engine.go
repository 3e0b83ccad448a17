// Package update implements the power-fail-safe three-way swap that
// moves a verified candidate image from UPDATE into BOOT, the emergency
// rollback that reverses it when a newly installed image never
// self-confirms, and the supporting pre-flight checks. This is the
// centerpiece of the update engine; every other package in this module
// exists to serve it.
package update

import (
	"github.com/wolfssl/wolfboot-core/config"
	"github.com/wolfssl/wolfboot-core/encrypt"
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/image"
	"github.com/wolfssl/wolfboot-core/keystore"
	"github.com/wolfssl/wolfboot-core/trailer"
	"github.com/wolfssl/wolfboot-core/werr"
)

// Engine orchestrates the update state machine over one BOOT/UPDATE/SWAP
// partition triple. A board package constructs one Engine per boot and
// drives it via Run, then the application-facing entry points
// (UpdateTrigger, Success, ...) as needed afterward.
type Engine struct {
	fm      *flash.Manager
	tm      *trailer.Manager
	cfg     config.Config
	ks      keystore.Store
	verify  image.Verifier
	cipher  *encrypt.Cipher // nil when cfg.Cipher == config.CipherNone
	headerSize uint32
}

// New constructs an Engine. cipher may be nil when cfg.Cipher is
// CipherNone; it must be non-nil and already keyed (via SetKey)
// otherwise.
func New(fm *flash.Manager, tm *trailer.Manager, cfg config.Config, ks keystore.Store, verify image.Verifier, cipher *encrypt.Cipher, headerSize uint32) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Cipher != config.CipherNone && cipher == nil {
		return nil, werr.New("cfg selects a cipher but no encrypt.Cipher was provided")
	}
	e := &Engine{
		fm:         fm,
		tm:         tm,
		cfg:        cfg,
		ks:         ks,
		verify:     verify,
		cipher:     cipher,
		headerSize: headerSize,
	}

	// The trailer and key slot must never be routed through the cipher:
	// the key slot is what makes the rest of an encrypted partition's
	// ciphertext recoverable at all, so it can't itself be stored
	// encrypted under that same key. SWAP carries only scratch sector
	// data addressed relative to its own start, never trailer-relative
	// offsets, so it keeps no plaintext footer.
	footer := e.reservedFooter()
	if err := fm.SetPlaintextFooter(flash.TagBoot, footer); err != nil {
		return nil, err
	}
	if err := fm.SetPlaintextFooter(flash.TagUpdate, footer); err != nil {
		return nil, err
	}

	return e, nil
}

// sectorCount returns how many update-granularity sectors a partition
// of the engine's configured size spans.
func (e *Engine) sectorCount() uint32 {
	return e.cfg.PartitionSize / e.cfg.SectorSize
}

// readHeader reads and parses the header region of tag.
func (e *Engine) readHeader(tag flash.Tag) (*image.Header, error) {
	region := make([]byte, e.headerSize)
	if err := e.fm.Read(tag, 0, region); err != nil {
		return nil, werr.Child(err)
	}
	return image.Parse(region, e.headerSize)
}

// readPayload reads h.PayloadSize bytes after the header of tag. It does
// not check that size against the partition's usable size (preflight
// does that for UPDATE); the flash read is bounded only by the
// partition size.
func (e *Engine) readPayload(tag flash.Tag, h *image.Header) ([]byte, error) {
	buf := make([]byte, h.PayloadSize)
	if err := e.fm.Read(tag, e.headerSize, buf); err != nil {
		return nil, werr.Child(err)
	}
	return buf, nil
}

// maxUsableSize is the largest header+payload size that fits in a
// partition alongside its trailer.
func (e *Engine) maxUsableSize() uint32 {
	return e.cfg.PartitionSize - e.cfg.TrailerOverhead()
}
