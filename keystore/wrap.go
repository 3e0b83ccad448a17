package keystore

import (
	"crypto/aes"

	keywrap "github.com/NickBall/go-aes-key-wrap"

	"github.com/wolfssl/wolfboot-core/werr"
)

// UnwrapSeed unwraps a device-unique seed that was wrapped (RFC 3394,
// AES key-wrap) under a manufacturing-time transport KEK, for boards
// that provision their embedded key-store table at manufacturing time
// rather than baking it in at compile time. The unwrapped seed is the
// raw key material an EmbeddedStore entry is built from; this function
// does not itself construct the Store.
func UnwrapSeed(kek []byte, wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, werr.FmtChild(err, "error creating keywrap cipher")
	}
	seed, err := keywrap.Unwrap(block, wrapped)
	if err != nil {
		return nil, werr.FmtChild(err, "key-wrap unwrap failed")
	}
	return seed, nil
}

// WrapSeed wraps seed under kek, for use by provisioning tooling that
// writes an EmbeddedStore's backing table into manufacturing flash.
func WrapSeed(kek []byte, seed []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, werr.FmtChild(err, "error creating keywrap cipher")
	}
	wrapped, err := keywrap.Wrap(block, seed)
	if err != nil {
		return nil, werr.FmtChild(err, "key-wrap wrap failed")
	}
	return wrapped, nil
}
