package image

import (
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/crypto/sha3"

	"github.com/wolfssl/wolfboot-core/config"
	"github.com/wolfssl/wolfboot-core/keystore"
	"github.com/wolfssl/wolfboot-core/werr"
)

// hashPrefixLen is the number of leading header bytes covered by the
// integrity hash: magic + payload size + the image-type/version TLVs
// laid out in the header's fixed prefix, but never the hash or
// signature TLVs themselves.
const hashPrefixLen = 28

var (
	// ErrIntegrity is returned when the computed payload hash does not
	// match the header's declared digest.
	ErrIntegrity = werr.New("image integrity check failed")
	// ErrAuthenticity is returned when signature verification fails or
	// the required TLVs are absent.
	ErrAuthenticity = werr.New("image authenticity check failed")
)

// Verifier checks a signature over a digest using a public key resolved
// from the key store. Concrete algorithms (RSA-PSS, ECDSA, Ed25519) are
// supplied by the keystore package's key-type-dispatching implementation;
// this package only consumes the contract.
type Verifier interface {
	Verify(hash []byte, sig []byte, pubkey []byte, keyType keystore.KeyType, hashAlg crypto.Hash) (bool, error)
}

func newHash(alg config.HashAlgorithm) (hash.Hash, uint16, error) {
	switch alg {
	case config.HashSHA256:
		return sha256.New(), TlvSHA256, nil
	case config.HashSHA384:
		return sha512.New384(), TlvSHA384, nil
	case config.HashSHA3_384:
		return sha3.New384(), TlvSHA3_384, nil
	default:
		return nil, 0, werr.Fmt("unknown hash algorithm %v", alg)
	}
}

// cryptoHashFor maps alg to the stdlib crypto.Hash identifier a
// Verifier needs for RSA-PSS, which hashes its salt under the same
// algorithm the digest itself was computed with.
func cryptoHashFor(alg config.HashAlgorithm) (crypto.Hash, error) {
	switch alg {
	case config.HashSHA256:
		return crypto.SHA256, nil
	case config.HashSHA384:
		return crypto.SHA384, nil
	case config.HashSHA3_384:
		return crypto.SHA3_384, nil
	default:
		return 0, werr.Fmt("unknown hash algorithm %v", alg)
	}
}

// VerifyIntegrity recomputes the payload digest (hashPrefixLen header
// bytes followed by the entire payload) and compares it to the TLV
// declared by alg. payload need not be contiguous with h.Region in
// memory; callers on external flash read it separately.
func VerifyIntegrity(h *Header, payload []byte, alg config.HashAlgorithm) error {
	hasher, tlvType, err := newHash(alg)
	if err != nil {
		return err
	}
	declared, ok := h.Find(tlvType)
	if !ok {
		return werr.FmtChild(ErrIntegrity, "no hash TLV of type 0x%x present", tlvType)
	}
	if len(h.Region) < hashPrefixLen {
		return werr.Child(ErrIntegrity)
	}
	hasher.Write(h.Region[:hashPrefixLen])
	hasher.Write(payload)
	sum := hasher.Sum(nil)

	if !constantTimeEqual(sum, declared) {
		return werr.Child(ErrIntegrity)
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

// sigTlvFor returns the TLV type expected for a given key type, mirroring
// the auth-algorithm nibble encoded in the image type field.
func sigTlvFor(kt keystore.KeyType) (uint16, error) {
	switch kt {
	case keystore.KeyTypeRSA2048:
		return TlvSigRSA2048, nil
	case keystore.KeyTypeRSA4096:
		return TlvSigRSA4096, nil
	case keystore.KeyTypeECC256:
		return TlvSigECC256, nil
	case keystore.KeyTypeECC384:
		return TlvSigECC384, nil
	case keystore.KeyTypeEd25519:
		return TlvSigEd25519, nil
	default:
		return 0, werr.Fmt("unsupported key type %v", kt)
	}
}

// VerifyAuthenticity resolves the image's declared public-key hint
// against ks, locates the matching signature TLV, and asks v to verify
// it over the already-computed integrity digest. Both integrity and
// authenticity must pass before a caller honors the image; callers
// run VerifyIntegrity first and pass the digest computed by Digest
// here (VerifyIntegrity itself returns only an error).
func VerifyAuthenticity(h *Header, digest []byte, alg config.HashAlgorithm, ks keystore.Store, v Verifier) error {
	hint, ok := h.Find(TlvPubKeyHash)
	if !ok {
		return werr.FmtChild(ErrAuthenticity, "no public key hint TLV present")
	}
	idx, kt, err := keystore.Resolve(ks, hint)
	if err != nil {
		return werr.FmtChild(ErrAuthenticity, "key hint not found in key store: %v", err)
	}
	sigTlv, err := sigTlvFor(kt)
	if err != nil {
		return werr.Child(err)
	}
	sig, ok := h.Find(sigTlv)
	if !ok {
		return werr.FmtChild(ErrAuthenticity, "no signature TLV of type 0x%x for key type %v", sigTlv, kt)
	}
	hashAlg, err := cryptoHashFor(alg)
	if err != nil {
		return werr.Child(err)
	}
	pub := ks.Buffer(idx)[:ks.Size(idx)]
	ok2, err := v.Verify(digest, sig, pub, kt, hashAlg)
	if err != nil {
		return werr.FmtChild(ErrAuthenticity, "signature verification error: %v", err)
	}
	if !ok2 {
		return werr.Child(ErrAuthenticity)
	}
	return nil
}

// Digest recomputes the integrity hash without comparing it to any TLV,
// for use by VerifyAuthenticity callers and by the update engine's
// version/base-hash pre-flight checks on delta patches.
func Digest(h *Header, payload []byte, alg config.HashAlgorithm) ([]byte, error) {
	hasher, _, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	if len(h.Region) < hashPrefixLen {
		return nil, werr.Child(ErrIntegrity)
	}
	hasher.Write(h.Region[:hashPrefixLen])
	hasher.Write(payload)
	return hasher.Sum(nil), nil
}
