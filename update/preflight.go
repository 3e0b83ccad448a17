package update

import (
	"github.com/wolfssl/wolfboot-core/delta"
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/image"
	"github.com/wolfssl/wolfboot-core/werr"
)

// ErrVersionPolicy is returned when a candidate image fails the
// downgrade/version-ordering check.
var ErrVersionPolicy = werr.New("image version policy check failed")

// candidate bundles the outcome of opening and checking an UPDATE
// image, including whether it is a delta patch and which direction.
type candidate struct {
	header    *image.Header
	payload   []byte // for a non-delta image, the final payload; for a delta image, the patch stream
	isDelta   bool
	direction delta.Direction
}

// preflight validates the UPDATE partition's image per section 4.8:
// the type's payload role (the auth-algorithm bits of the type are not
// checked), size bound, integrity, authenticity, and (unless
// fallbackAllowed) a strictly increasing version versus BOOT.
func (e *Engine) preflight(fallbackAllowed bool) (*candidate, error) {
	h, err := e.readHeader(flash.TagUpdate)
	if err != nil {
		return nil, err
	}

	t := h.Type()
	if !t.IsApp() {
		return nil, werr.Fmt("UPDATE image type 0x%x is not an application image", uint16(t))
	}

	isDelta := false
	dir := delta.Forward
	if _, ok := h.Find(image.TlvDeltaSize); ok {
		isDelta = true
	}

	var payload []byte
	var payloadSize uint32
	if isDelta {
		sz, ok := h.Find(image.TlvDeltaSize)
		if !ok {
			return nil, werr.New("delta image missing size TLV")
		}
		payloadSize = le32(sz)
	} else {
		payloadSize = h.PayloadSize
	}
	if e.headerSize+payloadSize > e.maxUsableSize() {
		return nil, werr.Fmt("image size %d exceeds usable partition space %d",
			e.headerSize+payloadSize, e.maxUsableSize())
	}

	payload, err = e.readPayload(flash.TagUpdate, h)
	if err != nil {
		return nil, err
	}
	if !isDelta {
		if err := image.VerifyIntegrity(h, payload, e.cfg.Hash); err != nil {
			return nil, err
		}
		digest, err := image.Digest(h, payload, e.cfg.Hash)
		if err != nil {
			return nil, err
		}
		if err := image.VerifyAuthenticity(h, digest, e.cfg.Hash, e.ks, e.verify); err != nil {
			return nil, err
		}
	}
	// A delta image's integrity/authenticity is checked over the
	// reconstructed payload once applied against BOOT, in
	// materializeDelta; the patch stream itself is opaque until then.

	if !fallbackAllowed && !e.cfg.AllowDowngrade {
		bootHeader, err := e.readHeader(flash.TagBoot)
		if err == nil {
			if h.Version() <= bootHeader.Version() {
				return nil, werr.Child(ErrVersionPolicy)
			}
		}
	}

	return &candidate{header: h, payload: payload, isDelta: isDelta, direction: dir}, nil
}

func le32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
