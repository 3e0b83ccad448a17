// Package config holds the board/build-time configuration that, in the
// original C sources, was expressed as preprocessor defines
// (WOLFBOOT_SECTOR_SIZE, WOLFBOOT_PARTITION_SIZE, DISABLE_BACKUP,
// WOLFBOOT_FLAGS_HOME, …). Here it is a plain validated struct so a board
// package can construct one literal and hand it to update.New (and
// trailer.New).
package config

import "github.com/wolfssl/wolfboot-core/werr"

// HashAlgorithm selects the digest used for image integrity TLVs.
type HashAlgorithm int

const (
	HashSHA256 HashAlgorithm = iota
	HashSHA384
	HashSHA3_384
)

// DigestSize returns the on-disk byte length of the configured hash.
func (h HashAlgorithm) DigestSize() int {
	switch h {
	case HashSHA384, HashSHA3_384:
		return 48
	default:
		return 32
	}
}

// Cipher selects the external-flash encryption primitive, or None to
// disable the encryption layer entirely.
type Cipher int

const (
	CipherNone Cipher = iota
	CipherAES128CTR
	CipherAES256CTR
	CipherChaCha20
)

// KeySize returns the symmetric key length in bytes for the cipher.
func (c Cipher) KeySize() int {
	switch c {
	case CipherAES128CTR:
		return 16
	case CipherAES256CTR:
		return 32
	case CipherChaCha20:
		return 32
	default:
		return 0
	}
}

// Config is the full set of knobs the update engine and boot entry are
// parameterized over. A board package builds exactly one of these and
// validates it before constructing the flash/trailer/update managers.
type Config struct {
	// SectorSize is the smallest erasable flash unit, shared by all
	// partitions.
	SectorSize uint32
	// PartitionSize is the size of BOOT and UPDATE (equal by construction).
	PartitionSize uint32
	// Hash is the image integrity digest algorithm.
	Hash HashAlgorithm
	// Cipher selects external-flash encryption, or CipherNone.
	Cipher Cipher
	// WriteOnce, when true, selects the redundant-sector trailer encoding
	// for flash media that forbid rewriting a word without an erase.
	WriteOnce bool
	// DisableBackup skips the three-way swap's BACKUP step (the running
	// image is allowed to be overwritten directly); mutually exclusive
	// with FlagsHome.
	DisableBackup bool
	// FlagsHome is checked only by Validate (against DisableBackup);
	// trailer placement does not depend on it, and each partition keeps
	// its own trailer.
	FlagsHome bool
	// AllowDowngrade disables the version-must-increase pre-flight check,
	// used by emergency rollback and by boards that explicitly support
	// reverting to an older signed image.
	AllowDowngrade bool
}

// Validate rejects configurations the update engine cannot support.
func (c Config) Validate() error {
	if c.SectorSize == 0 || c.PartitionSize == 0 {
		return werr.New("sector size and partition size must be nonzero")
	}
	if c.PartitionSize%c.SectorSize != 0 {
		return werr.New("partition size must be a multiple of sector size")
	}
	if c.DisableBackup && c.FlagsHome {
		return werr.New("DisableBackup combined with FlagsHome is not supported: " +
			"FlagsHome requires the three-way backup step to preserve a " +
			"recoverable image in UPDATE")
	}
	return nil
}

// TrailerOverhead returns the number of bytes at the top of a partition
// reserved for sector flags + state byte + magic, given the number of
// update sectors the partition holds.
func (c Config) TrailerOverhead() uint32 {
	sectors := c.PartitionSize / c.SectorSize
	flagBytes := (sectors + 1) / 2 // 4 bits per sector, packed two per byte
	return flagBytes + 1 /*state*/ + 4 /*magic*/
}
