// Package keystore resolves a public-key hint digest (carried in an
// image header TLV) to a full public key and its algorithm, behind one
// Store interface with two concrete shapes: a compile-time embedded
// table, and an OTP-flash-backed region laid out the way wolfBoot's
// OTP keystore header does. Key parsing itself follows the PEM/PKCS#1/
// PKCS#8 handling this core was bootstrapped from.
package keystore

import (
	"crypto/sha256"

	"github.com/wolfssl/wolfboot-core/werr"
)

// KeyType identifies the signature algorithm a stored public key is
// used with.
type KeyType int

const (
	KeyTypeRSA2048 KeyType = iota
	KeyTypeRSA4096
	KeyTypeECC256
	KeyTypeECC384
	KeyTypeEd25519
)

// Store is the uniform interface both key-store shapes implement,
// mirroring the original C keystore API (keystore_num_pubkeys,
// keystore_get_buffer/size/key_type/mask).
type Store interface {
	NumKeys() int
	Buffer(i int) []byte
	Size(i int) int
	KeyType(i int) KeyType
	// Mask restricts a key to signing specific partition IDs; a zero
	// mask means "any partition".
	Mask(i int) uint32
}

// HashLen is the size, in bytes, of the public-key-hint digest stored in
// an image header's TlvPubKeyHash TLV -- the SHA-256 digest of the raw
// public key bytes.
const HashLen = sha256.Size

// RawKeyHash returns the SHA-256 hint used by TlvPubKeyHash for pubkey.
func RawKeyHash(pubkey []byte) []byte {
	sum := sha256.Sum256(pubkey)
	return sum[:HashLen]
}

// Resolve finds the key in ks whose hash matches hint, returning its
// index and key type. Errors if hint does not match any stored key or
// matches more than one (a store with colliding hashes is
// misconfigured and must be rejected rather than guessed at).
func Resolve(ks Store, hint []byte) (int, KeyType, error) {
	found := -1
	for i := 0; i < ks.NumKeys(); i++ {
		buf := ks.Buffer(i)[:ks.Size(i)]
		h := RawKeyHash(buf)
		if string(h) == string(hint) {
			if found != -1 {
				return 0, 0, werr.Fmt("key hint collides between slots %d and %d", found, i)
			}
			found = i
		}
	}
	if found == -1 {
		return 0, 0, werr.Fmt("no key in store matches hint")
	}
	return found, ks.KeyType(found), nil
}

// EmbeddedStore is a fixed, code-resident key table, analogous to the
// generated public-key array a board's build normally compiles in.
type EmbeddedStore struct {
	Keys []EmbeddedKey
}

// EmbeddedKey is one compile-time key-table entry.
type EmbeddedKey struct {
	Pub     []byte
	Type    KeyType
	PartMask uint32
}

func (s *EmbeddedStore) NumKeys() int { return len(s.Keys) }
func (s *EmbeddedStore) Buffer(i int) []byte { return s.Keys[i].Pub }
func (s *EmbeddedStore) Size(i int) int { return len(s.Keys[i].Pub) }
func (s *EmbeddedStore) KeyType(i int) KeyType { return s.Keys[i].Type }
func (s *EmbeddedStore) Mask(i int) uint32 { return s.Keys[i].PartMask }

var _ Store = (*EmbeddedStore)(nil)
