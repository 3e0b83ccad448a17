// Package flash provides the unified flash abstraction the rest of the
// update engine builds on: a Device interface each platform HAL
// implements, a Partition layout type, and a Manager that routes
// Read/Write/Erase calls to the right device (internal, external, or
// transparently encrypted external) based on address range.
package flash

import (
	"fmt"
	"sort"
)

// Tag identifies one of the three logical partitions the update engine
// operates on.
type Tag int

const (
	TagBoot Tag = iota
	TagUpdate
	TagSwap
)

func (t Tag) String() string {
	switch t {
	case TagBoot:
		return "BOOT"
	case TagUpdate:
		return "UPDATE"
	case TagSwap:
		return "SWAP"
	default:
		return fmt.Sprintf("Tag(%d)", int(t))
	}
}

// Partition describes one contiguous, sector-aligned flash range.
type Partition struct {
	Tag      Tag
	Device   int // index into Manager.devices; which physical device backs this partition
	Offset   uint32
	Size     uint32
	External bool // true when Offset/Size address an external-flash device

	// PlaintextFooter is the byte length, counted back from the end of
	// the partition, that Manager never routes through DecryptRead/
	// EncryptWrite even when External is set. The trailer and key slot
	// live there, and the key slot is what makes the rest of the
	// partition's ciphertext recoverable in the first place, so it can
	// never be encrypted under its own key.
	PlaintextFooter uint32
}

type partitionOffSorter struct {
	parts []Partition
}

func (s partitionOffSorter) Len() int      { return len(s.parts) }
func (s partitionOffSorter) Swap(i, j int) { s.parts[i], s.parts[j] = s.parts[j], s.parts[i] }
func (s partitionOffSorter) Less(i, j int) bool {
	pi, pj := s.parts[i], s.parts[j]
	if pi.Device != pj.Device {
		return pi.Device < pj.Device
	}
	return pi.Offset < pj.Offset
}

// SortByDeviceOffset returns parts sorted by (device, offset), leaving the
// input slice untouched.
func SortByDeviceOffset(parts []Partition) []Partition {
	sorted := make([]Partition, len(parts))
	copy(sorted, parts)
	sort.Sort(partitionOffSorter{sorted})
	return sorted
}

func distinct(a, b Partition) bool {
	lo, hi := a, b
	if b.Offset < a.Offset {
		lo, hi = b, a
	}
	return lo.Device != hi.Device || lo.Offset+lo.Size <= hi.Offset
}

// DetectOverlaps reports every pair of partitions that share a device and
// overlap in address range. A correctly configured board never produces
// any. Nothing calls it automatically: config.Validate does not check
// partition layouts.
func DetectOverlaps(parts []Partition) [][2]Partition {
	var overlaps [][2]Partition
	for i := 0; i < len(parts)-1; i++ {
		for j := i + 1; j < len(parts); j++ {
			if !distinct(parts[i], parts[j]) {
				overlaps = append(overlaps, [2]Partition{parts[i], parts[j]})
			}
		}
	}
	return overlaps
}
