package update

import (
	"github.com/wolfssl/wolfboot-core/encrypt"
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/trailer"
)

// WireCipher attaches cipher to fm's DecryptRead/EncryptWrite hooks, so
// every read/write Manager performs against an External partition is
// transparently decrypted/encrypted. This is the glue a board's setup
// code runs once, before constructing an Engine, to turn a keyed but
// otherwise inert Cipher into the flash layer's active encryption path.
func WireCipher(fm *flash.Manager, cipher *encrypt.Cipher) {
	fm.DecryptRead = func(dev flash.Device, addr uint32, buf []byte) error {
		return cipher.AlignedRead(addr, buf, dev.Read)
	}
	fm.EncryptWrite = func(dev flash.Device, addr uint32, data []byte) error {
		return cipher.AlignedWrite(addr, data, dev.Read, dev.Write)
	}
}

// LoadCipherKey reads the key+nonce previously persisted in tag's
// reserved key slot and installs it into cipher, returning false
// without error when the slot holds the erased sentinel (no key has
// ever been written -- the normal state before the first encrypted
// update).
func LoadCipherKey(tm *trailer.Manager, tag flash.Tag, cipher *encrypt.Cipher) (bool, error) {
	size := cipher.Footprint()
	data, err := tm.ReadKeySlot(tag, size)
	if err != nil {
		return false, err
	}
	if trailer.IsKeySlotErased(data) {
		return false, nil
	}
	nonceOff := len(data) - encrypt.NonceSize
	if err := cipher.SetKey(data[:nonceOff], data[nonceOff:]); err != nil {
		return false, err
	}
	return true, nil
}
