// Package memory provides the physical memory seen by the processor core.
//
// The core only depends on the Physical interface. The concrete pieces here,
// sparse Ram, read-only Rom and an address-decoding Bus, are what the host
// uses to build a machine. Unmapped reads return all-ones and unmapped
// writes are dropped, like an open data bus.
package memory

import (
	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

// Physical is little-endian physical memory, addressed in bytes.
type Physical interface {
	// Read returns width bytes at address, zero extended.
	Read(address uint64, width arch.Width) (value uint64)
	// Write stores the low width bytes of value at address.
	Write(address uint64, width arch.Width, value uint64)
}

// Chip is a byte-addressed backing store. Offsets are relative to the
// base the chip is mapped at, and are always less than its size.
type Chip interface {
	Peek(offset uint64) (value uint8)
	Poke(offset uint64, value uint8)
}

// UNMAPPED is the value of a byte read from nowhere.
const UNMAPPED = uint8(0xff)

// readLE assembles a little-endian value byte by byte.
func readLE(peek func(address uint64) uint8, address uint64, width arch.Width) (value uint64) {
	for n := range uint64(width) {
		value |= uint64(peek(address+n)) << (8 * n)
	}
	return
}

// writeLE scatters a little-endian value byte by byte.
func writeLE(poke func(address uint64, value uint8), address uint64, width arch.Width, value uint64) {
	for n := range uint64(width) {
		poke(address+n, uint8(value>>(8*n)))
	}
}
