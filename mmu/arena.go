package mmu

import (
	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/memory"
)

// PTE_TABLE is the flag set of intermediate entries created by Arena.Map;
// the leaf entry alone narrows the permission.
const PTE_TABLE = PTE_PRESENT | PTE_WRITABLE | PTE_USER

// Arena builds page tables in a physical range [Base, Limit), allocating
// one frame per table. Tables are addressed by frame, never by pointer.
// The first frame allocated is the root.
type Arena struct {
	Memory memory.Physical
	Levels int
	Base   uint64
	Limit  uint64

	next uint64
	used bool
}

// Alloc returns a zero filled frame.
func (arena *Arena) Alloc() (frame uint64, err error) {
	if !arena.used {
		arena.next = (arena.Base + arch.PAGE_MASK) &^ arch.PAGE_MASK
		arena.used = true
	}
	if arena.next < arena.Base || arena.next+arch.PAGE_SIZE > arena.Limit {
		err = ErrArenaFull
		return
	}

	frame = arena.next
	arena.next += arch.PAGE_SIZE
	for offset := uint64(0); offset < arch.PAGE_SIZE; offset += arch.ENTRY_BYTES {
		arena.Memory.Write(frame+offset, arch.WIDTH_64, 0)
	}
	return
}

// Root returns the top level table, allocating it on first use.
func (arena *Arena) Root() (root uint64, err error) {
	if !arena.used {
		return arena.Alloc()
	}
	root = (arena.Base + arch.PAGE_MASK) &^ arch.PAGE_MASK
	return
}

// Used returns the number of bytes allocated so far.
func (arena *Arena) Used() uint64 {
	if !arena.used {
		return 0
	}
	return arena.next - ((arena.Base + arch.PAGE_MASK) &^ arch.PAGE_MASK)
}

// slot returns the physical address of the leaf entry for va, creating
// missing intermediate tables if create is set.
func (arena *Arena) slot(va uint64, create bool) (address uint64, ok bool, err error) {
	table, err := arena.Root()
	if err != nil {
		return
	}
	for level := arena.Levels; level > 1; level-- {
		address = table + index(va, level)*arch.ENTRY_BYTES
		entry := Entry(arena.Memory.Read(address, arch.WIDTH_64))
		if !entry.Present() {
			if !create {
				return
			}
			var frame uint64
			frame, err = arena.Alloc()
			if err != nil {
				return
			}
			entry = NewEntry(frame, PTE_TABLE)
			arena.Memory.Write(address, arch.WIDTH_64, uint64(entry))
		}
		table = entry.Frame()
	}
	address = table + index(va, 1)*arch.ENTRY_BYTES
	ok = true
	return
}

// Map the page holding va to the frame holding pa. PTE_PRESENT is implied.
func (arena *Arena) Map(va uint64, pa uint64, flags Entry) (err error) {
	address, _, err := arena.slot(va, true)
	if err != nil {
		return
	}
	arena.Memory.Write(address, arch.WIDTH_64, uint64(NewEntry(pa, flags|PTE_PRESENT)))
	return
}

// MapRange maps size bytes, rounded out to whole pages, starting at va.
func (arena *Arena) MapRange(va uint64, pa uint64, size uint64, flags Entry) (err error) {
	for offset := uint64(0); offset < size; offset += arch.PAGE_SIZE {
		err = arena.Map(va+offset, pa+offset, flags)
		if err != nil {
			return
		}
	}
	return
}

// Unmap clears the leaf entry for va. The caller must invalidate any TLB
// holding it.
func (arena *Arena) Unmap(va uint64) (err error) {
	address, ok, err := arena.slot(va, false)
	if err != nil || !ok {
		return
	}
	arena.Memory.Write(address, arch.WIDTH_64, 0)
	return
}
