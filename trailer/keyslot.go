package trailer

import (
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/werr"
)

// WriteKeySlot persists data (key||nonce) into the reserved key slot
// below tag's trailer. data is written as-is; the encrypt package
// decides the key/nonce split.
func (m *Manager) WriteKeySlot(tag flash.Tag, data []byte) error {
	off := m.KeySlotOffset(uint32(len(data)), 0)
	if err := m.fm.Write(tag, off, data); err != nil {
		return werr.Child(err)
	}
	return nil
}

// ReadKeySlot reads size bytes from tag's reserved key slot.
func (m *Manager) ReadKeySlot(tag flash.Tag, size uint32) ([]byte, error) {
	off := m.KeySlotOffset(size, 0)
	buf := make([]byte, size)
	if err := m.fm.Read(tag, off, buf); err != nil {
		return nil, werr.Child(err)
	}
	return buf, nil
}

// EraseKeySlot overwrites the key slot with the all-ones sentinel
// meaning "no key installed", without requiring a full sector erase:
// on non-write-once media this is a direct write; on write-once media
// the slot must already be erased or within a sector the caller has
// scheduled for erase (the key slot is never mutated independently of
// a full trailer-bank rotation on such media).
func (m *Manager) EraseKeySlot(tag flash.Tag, size uint32) error {
	sentinel := make([]byte, size)
	for i := range sentinel {
		sentinel[i] = 0xFF
	}
	return m.WriteKeySlot(tag, sentinel)
}

// IsKeySlotErased reports whether data is the all-ones sentinel.
func IsKeySlotErased(data []byte) bool {
	for _, b := range data {
		if b != 0xFF {
			return false
		}
	}
	return true
}
