package memory

import (
	"iter"
	"maps"
	"slices"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

// Page is the unit of Ram allocation.
type Page [arch.PAGE_SIZE]uint8

// Ram is sparse read/write memory. Pages are allocated on first write and
// read as zero until then.
type Ram struct {
	pages map[uint64]*Page
}

var _ Chip = (*Ram)(nil)
var _ Physical = (*Ram)(nil)

// NewRam creates empty memory.
func NewRam() (ram *Ram) {
	ram = &Ram{
		pages: make(map[uint64]*Page),
	}
	return
}

// page returns the page holding offset, allocating it if create is set.
func (ram *Ram) page(offset uint64, create bool) (page *Page) {
	number := offset >> arch.PAGE_SHIFT
	page = ram.pages[number]
	if page == nil && create {
		if ram.pages == nil {
			ram.pages = make(map[uint64]*Page)
		}
		page = &Page{}
		ram.pages[number] = page
	}
	return
}

// Peek reads a single byte.
func (ram *Ram) Peek(offset uint64) uint8 {
	page := ram.page(offset, false)
	if page == nil {
		return 0
	}
	return page[offset&arch.PAGE_MASK]
}

// Poke writes a single byte.
func (ram *Ram) Poke(offset uint64, value uint8) {
	ram.page(offset, true)[offset&arch.PAGE_MASK] = value
}

// Read implements Physical.
func (ram *Ram) Read(address uint64, width arch.Width) uint64 {
	return readLE(ram.Peek, address, width)
}

// Write implements Physical.
func (ram *Ram) Write(address uint64, width arch.Width, value uint64) {
	writeLE(ram.Poke, address, width, value)
}

// Load copies data into memory starting at offset.
func (ram *Ram) Load(offset uint64, data []byte) {
	for n, value := range data {
		ram.Poke(offset+uint64(n), value)
	}
}

// Pages iterates over the allocated pages in address order.
func (ram *Ram) Pages() iter.Seq2[uint64, *Page] {
	return func(yield func(number uint64, page *Page) bool) {
		for _, number := range slices.Sorted(maps.Keys(ram.pages)) {
			if !yield(number, ram.pages[number]) {
				return
			}
		}
	}
}

// Reset releases all pages.
func (ram *Ram) Reset() {
	clear(ram.pages)
}
