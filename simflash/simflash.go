// Package simflash implements flash.Device over a memory-mapped file, for
// use in tests and scenario fixtures. It enforces the "a bit can only go
// from 1 to 0 between erases" constraint that a plain os.File write
// would otherwise silently violate, so property tests exercising the
// redundant-sector trailer encoding are not vacuous.
package simflash

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/werr"
)

// Device is a mmap-backed flash.Device. Erased bytes read as 0xFF.
// WriteOnce, when true, makes Write reject any attempt to flip a bit
// 0->1 instead of silently allowing it, and RewriteAllowed implements
// flash.RewriteChecker accordingly.
type Device struct {
	f         *os.File
	data      []byte
	sector    uint32
	writeOnce bool
	locked    bool

	// CrashAfter, when >= 0, is the zero-based index, among the mutating
	// calls (Write or Erase) made while it is armed, of the call that
	// applies its effect and then returns ErrSimulatedCrash, modeling a
	// power loss immediately after the flash controller latches the
	// operation. CrashAfter itself is not decremented and the call count
	// is not reset; a negative value (the default) disables it.
	CrashAfter int
	ops        int
}

// ErrSimulatedCrash is returned by a mutating call once CrashAfter has
// been reached, for tests that want to resume the state machine
// mid-operation.
var ErrSimulatedCrash = werr.New("simulated power loss")

// New creates (or truncates) a backing file of the given size at path and
// memory-maps it read/write. sectorSize is used only for Erase-length
// validation. The region starts fully erased (0xFF).
func New(path string, size uint32, sectorSize uint32, writeOnce bool) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, werr.Child(err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, werr.Child(err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, werr.Child(err)
	}
	d := &Device{f: f, data: data, sector: sectorSize, writeOnce: writeOnce, CrashAfter: -1}
	allFF := true
	for _, b := range data {
		if b != 0xFF {
			allFF = false
			break
		}
	}
	if !allFF {
		for i := range data {
			data[i] = 0xFF
		}
	}
	return d, nil
}

// Close unmaps and closes the backing file.
func (d *Device) Close() error {
	if err := unix.Munmap(d.data); err != nil {
		return werr.Child(err)
	}
	return d.f.Close()
}

func (d *Device) Read(addr uint32, buf []byte) error {
	if int(addr)+len(buf) > len(d.data) {
		return werr.Fmt("read out of range: addr=%d len=%d size=%d", addr, len(buf), len(d.data))
	}
	copy(buf, d.data[addr:int(addr)+len(buf)])
	return nil
}

func (d *Device) RewriteAllowed(addr uint32, data []byte) bool {
	if !d.writeOnce {
		return true
	}
	for i, b := range data {
		cur := d.data[int(addr)+i]
		// A bit set to 0 in cur but 1 (erased) in b is fine (no-op on
		// that bit); a bit set to 1 in cur and 0 in b is the
		// write-to-zero we allow. What's forbidden is flipping a bit
		// from 0 to 1: cur bit 0, b bit 1.
		if (^cur)&b != 0 {
			return false
		}
	}
	return true
}

func (d *Device) Write(addr uint32, data []byte) error {
	if int(addr)+len(data) > len(d.data) {
		return werr.Fmt("write out of range: addr=%d len=%d size=%d", addr, len(data), len(d.data))
	}
	if !d.RewriteAllowed(addr, data) {
		return werr.Child(flash.ErrRewriteForbidden)
	}
	for i, b := range data {
		d.data[int(addr)+i] &= b
	}
	return d.maybeCrash()
}

func (d *Device) Erase(addr uint32, length uint32) error {
	if length == 0 || length%d.sector != 0 {
		return werr.Fmt("erase length %d is not sector-aligned (%d)", length, d.sector)
	}
	if int(addr)+int(length) > len(d.data) {
		return werr.Fmt("erase out of range: addr=%d len=%d size=%d", addr, length, len(d.data))
	}
	region := d.data[addr : int(addr)+int(length)]
	for i := range region {
		region[i] = 0xFF
	}
	return d.maybeCrash()
}

func (d *Device) maybeCrash() error {
	if d.CrashAfter < 0 {
		return nil
	}
	if d.ops == d.CrashAfter {
		d.ops++
		return ErrSimulatedCrash
	}
	d.ops++
	return nil
}

func (d *Device) Unlock() error {
	d.locked = false
	return nil
}

func (d *Device) Lock() error {
	d.locked = true
	return nil
}

func (d *Device) WriteGranule() uint32 {
	return 1
}

var _ flash.Device = (*Device)(nil)
var _ flash.RewriteChecker = (*Device)(nil)
