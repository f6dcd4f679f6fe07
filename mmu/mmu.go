// Package mmu translates linear addresses to physical addresses by walking
// a four or five level page table tree, caching results in a TLB.
package mmu

import (
	"log"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/memory"
	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

const (
	LEVELS_4 = 4 // 48 bit linear addresses.
	LEVELS_5 = 5 // 57 bit linear addresses.
)

// Options configures a new Mmu.
type Options struct {
	Levels      int // LEVELS_4 or LEVELS_5
	TlbEntries  int // Zero disables the TLB.
	Replacement Replacement
}

// Stats counts translation cache activity.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Flushes uint64
}

// Mmu is the address translator. Page tables live in Memory and are
// addressed physically.
type Mmu struct {
	Memory  memory.Physical
	Verbose bool

	levels int
	root   uint64
	tlb    Tlb
	stats  Stats
}

// NewMmu creates a translator over physical memory.
func NewMmu(mem memory.Physical, options Options) (mmu *Mmu, err error) {
	switch {
	case options.Levels != LEVELS_4 && options.Levels != LEVELS_5:
		err = ErrLevels
	case options.TlbEntries < 0:
		err = ErrTlbEntries
	case options.Replacement != REPLACEMENT_LRU && options.Replacement != REPLACEMENT_FIFO:
		err = ErrReplacement
	}
	if err != nil {
		return
	}

	mmu = &Mmu{
		Memory: mem,
		levels: options.Levels,
		tlb: Tlb{
			Capacity:    options.TlbEntries,
			Replacement: options.Replacement,
		},
	}
	return
}

// Levels returns the depth of the page table tree.
func (mmu *Mmu) Levels() int {
	return mmu.levels
}

// AddressBits returns the number of significant linear address bits.
func (mmu *Mmu) AddressBits() int {
	return arch.PAGE_SHIFT + arch.LEVEL_BITS*mmu.levels
}

// Canonical returns true if the bits above AddressBits() are a sign
// extension of the top significant bit.
func (mmu *Mmu) Canonical(va uint64) bool {
	shift := 64 - mmu.AddressBits()
	return uint64(int64(va<<shift)>>shift) == va
}

// Root returns the physical address of the top level table.
func (mmu *Mmu) Root() uint64 {
	return mmu.root
}

// SetRoot changes the top level table and flushes the TLB, even when the
// root is unchanged.
func (mmu *Mmu) SetRoot(root uint64) {
	if mmu.Verbose {
		log.Printf("mmu: root %v", translate.Hex(root))
	}
	mmu.root = root & uint64(PTE_FRAME_MASK)
	mmu.Flush()
}

// Flush drops every cached translation.
func (mmu *Mmu) Flush() {
	mmu.tlb.Flush()
	mmu.stats.Flushes++
}

// Invalidate drops the cached translations of the page holding va.
func (mmu *Mmu) Invalidate(va uint64) {
	if mmu.Verbose {
		log.Printf("mmu: invalidate %v", translate.Hex(va))
	}
	mmu.tlb.Invalidate(mmu.page(va))
}

// Stats returns the cache counters.
func (mmu *Mmu) Stats() Stats {
	return mmu.stats
}

// Cached returns the number of cached translations.
func (mmu *Mmu) Cached() int {
	return mmu.tlb.Len()
}

func (mmu *Mmu) page(va uint64) uint64 {
	bits := uint(mmu.AddressBits())
	return (va & (uint64(1)<<bits - 1)) >> arch.PAGE_SHIFT
}

// index of the level (levels..1) table entry for va.
func index(va uint64, level int) uint64 {
	shift := arch.PAGE_SHIFT + arch.LEVEL_BITS*(level-1)
	return (va >> shift) & (arch.LEVEL_SIZE - 1)
}

// Walk reads the table entries from the root towards the leaf, stopping
// after the first non-present entry. It does not use or fill the TLB.
func (mmu *Mmu) Walk(va uint64) (entries []Entry) {
	table := mmu.root
	for level := mmu.levels; level > 0; level-- {
		entry := Entry(mmu.Memory.Read(table+index(va, level)*arch.ENTRY_BYTES, arch.WIDTH_64))
		entries = append(entries, entry)
		if !entry.Present() {
			break
		}
		table = entry.Frame()
	}
	return
}

// resolve walks the tables for va, returning the leaf frame and the
// effective permission.
func (mmu *Mmu) resolve(va uint64) (frame uint64, perm Permission, present bool) {
	entries := mmu.Walk(va)
	if len(entries) != mmu.levels || !entries[len(entries)-1].Present() {
		return
	}

	perm = PERMISSION_ALL
	for _, entry := range entries {
		perm = perm.narrow(entry)
	}
	frame = entries[len(entries)-1].Frame()
	present = true
	return
}

// check an access against an effective permission.
func check(perm Permission, access arch.Access, ring arch.Ring) bool {
	switch {
	case access == arch.ACCESS_WRITE && !perm.Write:
		return false
	case ring == arch.RING_USER && !perm.User:
		return false
	case access == arch.ACCESS_FETCH && !perm.Execute:
		return false
	}
	return true
}

// Translate a linear address for an access from ring. Permission checks are
// repeated on TLB hits, so a cached entry never widens access.
func (mmu *Mmu) Translate(va uint64, access arch.Access, ring arch.Ring) (pa uint64, err error) {
	if !mmu.Canonical(va) {
		err = &ErrAddress{Address: va, Err: ErrNonCanonical}
		return
	}

	page := mmu.page(va)
	scope := ring.Scope()

	cached, ok := mmu.tlb.Lookup(page, scope)
	if ok {
		mmu.stats.Hits++
	} else {
		mmu.stats.Misses++
		var present bool
		cached.Frame, cached.Permission, present = mmu.resolve(va)
		if !present {
			err = &PageFault{Address: va, Access: access, Ring: ring}
			return
		}
		cached.Page = page
		cached.Scope = scope
	}

	if !check(cached.Permission, access, ring) {
		err = &PageFault{Address: va, Access: access, Ring: ring, Present: true}
		return
	}

	if !ok {
		mmu.tlb.Insert(cached)
	}

	pa = cached.Frame | (va & arch.PAGE_MASK)
	return
}
