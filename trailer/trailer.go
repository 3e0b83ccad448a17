// Package trailer implements the partition trailer: per-partition state
// plus per-sector flags, stored at the top of each partition. On flash
// that forbids rewriting a word without an erase, the trailer is kept in
// two adjacent sectors and mutations follow a read-scratch/erase-write/
// erase-old protocol so a crash at any point leaves exactly one bank
// valid.
package trailer

import (
	"github.com/wolfssl/wolfboot-core/config"
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/werr"
	"github.com/wolfssl/wolfboot-core/wlog"
)

// State is the partition-level lifecycle value. Each later value only
// clears bits of the one before it, and the erased byte (0xFF) reads as
// StateNew.
type State byte

const (
	StateNew        State = 0xFF
	StateUpdating   State = 0x70
	StateFinalFlags State = 0x30
	StateTesting    State = 0x10
	StateSuccess    State = 0x00
)

// SectorFlag is the per-update-sector progress marker used by the
// three-way swap. Like State, each later value only clears bits of the
// one before it, and the erased nibble (0xF) reads as FlagNew.
type SectorFlag byte

const (
	FlagNew      SectorFlag = 0x0F
	FlagSwapping SectorFlag = 0x07
	FlagBackup   SectorFlag = 0x03
	FlagUpdated  SectorFlag = 0x00
)

var magic = [4]byte{'B', 'O', 'O', 'T'}

var (
	// errNoMagic describes a bank with no valid magic. Nothing returns
	// it: GetState and GetSectorFlag report such a trailer as StateNew /
	// FlagNew, not as an error.
	errNoMagic = werr.New("trailer magic not present")
)

// Manager owns trailer read/write for every registered partition. One
// Manager instance is constructed per boot and threaded through the
// update state machine; it is not safe for concurrent use.
type Manager struct {
	fm  *flash.Manager
	cfg config.Config

	// scratch is reused across mutating calls the way the original's
	// statically allocated NVM cache buffer was; it must not be
	// retained by callers past the next mutation.
	scratch []byte
}

// New constructs a Manager bound to fm using cfg's sector/partition
// sizing and write-once policy.
func New(fm *flash.Manager, cfg config.Config) *Manager {
	return &Manager{
		fm:      fm,
		cfg:     cfg,
		scratch: make([]byte, cfg.SectorSize),
	}
}

func (m *Manager) numSectors() uint32 {
	return m.cfg.PartitionSize / m.cfg.SectorSize
}

func (m *Manager) flagBytes() uint32 {
	return (m.numSectors() + 1) / 2
}

// layout describes where, within a single bank buffer of length
// bankLen, the trailer fields live: flags occupy [0,flagBytes), state is
// the next byte, magic is the last 4 bytes. The bank buffer's final 4
// bytes are always the magic regardless of bank size, so an
// under-sized bank (shouldn't happen given config validation) fails
// loudly rather than silently misreading.
type layout struct {
	flagsOff  uint32
	stateOff  uint32
	magicOff  uint32
	bankLen   uint32
}

func (m *Manager) layoutFor(bankLen uint32) (layout, error) {
	need := m.flagBytes() + 1 + 4
	if bankLen < need {
		return layout{}, werr.Fmt("trailer bank of %d bytes too small for %d flag bytes", bankLen, m.flagBytes())
	}
	return layout{
		flagsOff: bankLen - need,
		stateOff: bankLen - 5,
		magicOff: bankLen - 4,
		bankLen:  bankLen,
	}, nil
}

func hasMagic(buf []byte, l layout) bool {
	return buf[l.magicOff] == magic[0] && buf[l.magicOff+1] == magic[1] &&
		buf[l.magicOff+2] == magic[2] && buf[l.magicOff+3] == magic[3]
}

func writeMagic(buf []byte, l layout) {
	copy(buf[l.magicOff:l.magicOff+4], magic[:])
}

func erasedCount(buf []byte, from uint32) int {
	n := 0
	for i := int(from); i < len(buf); i++ {
		if buf[i] == 0xFF {
			n++
		}
	}
	return n
}
