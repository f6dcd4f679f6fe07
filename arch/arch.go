// Package arch holds the architectural vocabulary shared by the translator,
// the processor core and the reference instruction encoding: privilege
// rings, access kinds, operand widths, interrupt vectors, configuration
// registers and page geometry.
package arch

const (
	PAGE_SHIFT  = 12                      // log2 of the page size.
	PAGE_SIZE   = uint64(1) << PAGE_SHIFT // Size of a page, and of each page table.
	PAGE_MASK   = PAGE_SIZE - 1           // Offset bits within a page.
	LEVEL_BITS  = 9                       // Linear address bits consumed per table level.
	LEVEL_SIZE  = 1 << LEVEL_BITS         // Entries per table.
	ENTRY_BYTES = 8                       // Bytes per page table entry.
)

// Flags register bits. The flags register is 32 bits wide.
const (
	FLAG_CF   = uint64(1) << 0 // Carry, or borrow on subtract.
	FLAG_ZF   = uint64(1) << 6 // Zero result.
	FLAG_SF   = uint64(1) << 7 // Negative result.
	FLAG_IF   = uint64(1) << 9 // External interrupts enabled.
	FLAG_MASK = uint64(0xffff_ffff)

	FLAG_ARITH = FLAG_CF | FLAG_ZF | FLAG_SF
)

// Register file layout.
const (
	REGISTER_COUNT = 16
	REGISTER_SP    = 4 // Stack pointer, as on x86-64.
)
