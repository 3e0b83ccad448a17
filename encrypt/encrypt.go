// Package encrypt implements the transparent CTR-mode encryption layer
// for external flash. It derives a per-block counter from the block's
// offset within the partition plus a stored nonce, so random-access
// reads and writes never need to decrypt/re-encrypt anything but the
// blocks actually touched.
//
// The chunked streaming style here (read a block's worth of plaintext,
// XOR it through a cipher.Stream, write the result) follows the CTR
// helper this core was bootstrapped from; the difference is the IV is
// derived per-block from an address instead of fixed at zero, and the
// cipher is generic over AES-128, AES-256, and ChaCha20.
package encrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"golang.org/x/crypto/chacha20"

	"github.com/wolfssl/wolfboot-core/config"
	"github.com/wolfssl/wolfboot-core/werr"
)

// BlockSize is the addressing granularity for IV derivation, matching
// the AES block size; ChaCha20 internally steps by its own 64-byte
// block but is only ever asked to produce counter-aligned 16-byte
// sub-ranges through this layer, keeping one addressing scheme for both
// ciphers.
const BlockSize = 16

// NonceSize is the length of the stored nonce persisted alongside the
// key in the partition trailer's reserved key slot.
const NonceSize = 12

// fallbackIVOffset is added to the block counter for one operation when
// EnableFallbackIV is armed, recovering reads of a sector that was
// encrypted under a different counter base during an aborted swap.
const fallbackIVOffset = 0x00100000

var (
	ErrNoKey = werr.New("no encryption key installed")
)

// Cipher performs block-addressed CTR encryption/decryption over a
// single partition's external-flash contents, keyed by a symmetric key
// and nonce that SetKey installs.
type Cipher struct {
	alg   config.Cipher
	key   []byte
	nonce []byte

	fallbackArmed bool
}

// New constructs a Cipher for alg. Call SetKey before Encrypt/Decrypt.
func New(alg config.Cipher) (*Cipher, error) {
	if alg == config.CipherNone {
		return nil, werr.New("encryption layer constructed with CipherNone")
	}
	return &Cipher{alg: alg}, nil
}

// SetKey installs the symmetric key and nonce used for subsequent
// operations. key must be alg.KeySize() bytes; nonce must be NonceSize
// bytes.
func (c *Cipher) SetKey(key []byte, nonce []byte) error {
	if len(key) != c.alg.KeySize() {
		return werr.Fmt("key must be %d bytes for this cipher, got %d", c.alg.KeySize(), len(key))
	}
	if len(nonce) != NonceSize {
		return werr.Fmt("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	c.key = append([]byte(nil), key...)
	c.nonce = append([]byte(nil), nonce...)
	return nil
}

// HasKey reports whether a key/nonce pair has been installed.
func (c *Cipher) HasKey() bool {
	return c.key != nil
}

// KeyMaterial returns the currently installed key and nonce, for
// callers (the update engine's commit path) that need to persist them
// across a trailer rewrite.
func (c *Cipher) KeyMaterial() (key []byte, nonce []byte) {
	return c.key, c.nonce
}

// Footprint returns the byte length of the key+nonce slot this cipher
// needs persisted in a partition trailer's reserved key slot.
func (c *Cipher) Footprint() uint32 {
	return uint32(c.alg.KeySize()) + NonceSize
}

// EnableFallbackIV arms or disarms the one-shot counter offset used to
// recover a sector encrypted under a stale counter base after a resumed
// swap. It must be re-armed for every such operation; a normal
// operation always starts disarmed.
func (c *Cipher) EnableFallbackIV(on bool) {
	c.fallbackArmed = on
}

func (c *Cipher) streamAt(blockOffset uint32) (cipher.Stream, error) {
	if !c.HasKey() {
		return nil, werr.Child(ErrNoKey)
	}
	counter := blockOffset / BlockSize
	if c.fallbackArmed {
		counter += fallbackIVOffset
		c.fallbackArmed = false
	}

	switch c.alg {
	case config.CipherAES128CTR, config.CipherAES256CTR:
		block, err := aes.NewCipher(c.key)
		if err != nil {
			return nil, werr.FmtChild(err, "failed to create AES cipher")
		}
		iv := make([]byte, aes.BlockSize)
		copy(iv, c.nonce)
		addCounter(iv, counter)
		return cipher.NewCTR(block, iv), nil

	case config.CipherChaCha20:
		nonce12 := make([]byte, chacha20.NonceSize)
		copy(nonce12, c.nonce)
		s, err := chacha20.NewUnauthenticatedCipher(c.key, nonce12)
		if err != nil {
			return nil, werr.FmtChild(err, "failed to create ChaCha20 cipher")
		}
		// One ChaCha20 block covers four 16-byte counter steps: start at
		// the enclosing 64-byte block and discard the keystream before
		// the requested step.
		s.SetCounter(counter / 4)
		if skip := (counter % 4) * BlockSize; skip > 0 {
			discard := make([]byte, skip)
			s.XORKeyStream(discard, discard)
		}
		return s, nil

	default:
		return nil, werr.Fmt("unsupported cipher %v", c.alg)
	}
}

// addCounter adds counter into the low bytes of a 16-byte IV, matching
// the AES-CTR convention of treating the IV as a 128-bit big-endian
// integer.
func addCounter(iv []byte, counter uint32) {
	v := binary.BigEndian.Uint64(iv[8:16])
	v += uint64(counter)
	binary.BigEndian.PutUint64(iv[8:16], v)
}

// Decrypt decrypts ciphertext read from blockOffset (partition-relative,
// block-aligned) in place semantics: returns plaintext the same length
// as ciphertext.
func (c *Cipher) Decrypt(blockOffset uint32, ciphertext []byte) ([]byte, error) {
	s, err := c.streamAt(blockOffset)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ciphertext))
	s.XORKeyStream(plain, ciphertext)
	return plain, nil
}

// Encrypt encrypts plaintext to be stored at blockOffset.
func (c *Cipher) Encrypt(blockOffset uint32, plaintext []byte) ([]byte, error) {
	s, err := c.streamAt(blockOffset)
	if err != nil {
		return nil, err
	}
	cipherOut := make([]byte, len(plaintext))
	s.XORKeyStream(cipherOut, plaintext)
	return cipherOut, nil
}
