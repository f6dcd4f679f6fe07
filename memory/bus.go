package memory

import (
	"log"
	"slices"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

// Region is a chip mapped onto the bus.
type Region struct {
	Base uint64
	Size uint64
	Chip Chip
}

// Contains reports whether address is within the region.
func (region *Region) Contains(address uint64) bool {
	return address >= region.Base && address-region.Base < region.Size
}

// Bus decodes physical addresses onto non-overlapping regions.
type Bus struct {
	Verbose bool

	regions []Region
}

var _ Physical = (*Bus)(nil)

// Add maps chip at [base, base+size).
func (bus *Bus) Add(base uint64, size uint64, chip Chip) (err error) {
	switch {
	case size == 0:
		err = ErrEmpty
	case base+size-1 < base:
		err = ErrOverflow
	}
	if err == nil {
		for _, region := range bus.regions {
			if base < region.Base+region.Size && region.Base < base+size {
				err = ErrOverlap
				break
			}
		}
	}
	if err != nil {
		err = &ErrRange{Base: base, Size: size, Err: err}
		return
	}

	bus.regions = append(bus.regions, Region{Base: base, Size: size, Chip: chip})
	slices.SortFunc(bus.regions, func(a, b Region) int {
		switch {
		case a.Base < b.Base:
			return -1
		case a.Base > b.Base:
			return 1
		}
		return 0
	})

	if bus.Verbose {
		log.Printf("memory: map %v+%#x", translate.Hex(base), size)
	}

	return
}

// Regions returns the mapped regions in address order.
func (bus *Bus) Regions() []Region {
	return slices.Clone(bus.regions)
}

// find the region for address, or nil.
func (bus *Bus) find(address uint64) *Region {
	index, found := slices.BinarySearchFunc(bus.regions, address, func(region Region, address uint64) int {
		switch {
		case address < region.Base:
			return 1
		case region.Contains(address):
			return 0
		}
		return -1
	})
	if !found {
		return nil
	}
	return &bus.regions[index]
}

func (bus *Bus) peek(address uint64) uint8 {
	region := bus.find(address)
	if region == nil {
		if bus.Verbose {
			log.Printf("memory: unmapped read %v", translate.Hex(address))
		}
		return UNMAPPED
	}
	return region.Chip.Peek(address - region.Base)
}

func (bus *Bus) poke(address uint64, value uint8) {
	region := bus.find(address)
	if region == nil {
		if bus.Verbose {
			log.Printf("memory: unmapped write %v", translate.Hex(address))
		}
		return
	}
	region.Chip.Poke(address-region.Base, value)
}

// Read implements Physical.
func (bus *Bus) Read(address uint64, width arch.Width) uint64 {
	return readLE(bus.peek, address, width)
}

// Write implements Physical.
func (bus *Bus) Write(address uint64, width arch.Width, value uint64) {
	writeLE(bus.poke, address, width, value)
}
