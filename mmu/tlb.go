package mmu

import (
	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

// Replacement selects the TLB victim when it is full.
type Replacement int

//go:generate go tool stringer -linecomment -type=Replacement
const (
	REPLACEMENT_LRU  = Replacement(0) // lru
	REPLACEMENT_FIFO = Replacement(1) // fifo
)

// ParseReplacement parses a policy name as produced by Replacement.String().
func ParseReplacement(name string) (policy Replacement, err error) {
	switch name {
	case "", REPLACEMENT_LRU.String():
		policy = REPLACEMENT_LRU
	case REPLACEMENT_FIFO.String():
		policy = REPLACEMENT_FIFO
	default:
		err = ErrReplacement
	}
	return
}

// TlbEntry is a cached translation.
type TlbEntry struct {
	Page       uint64 // Virtual page number.
	Scope      arch.Scope
	Frame      uint64 // Physical frame address.
	Permission Permission
	LastUsed   uint64 // Insertion or last hit stamp, by policy.
}

// Tlb caches translations keyed by virtual page and ring scope. It is never
// authoritative; a miss always falls back to the walk.
type Tlb struct {
	Capacity    int
	Replacement Replacement

	entries []TlbEntry
	counter uint64
}

// Lookup finds a cached translation.
func (tlb *Tlb) Lookup(page uint64, scope arch.Scope) (entry TlbEntry, ok bool) {
	for n := range tlb.entries {
		cached := &tlb.entries[n]
		if cached.Page == page && cached.Scope == scope {
			if tlb.Replacement == REPLACEMENT_LRU {
				tlb.counter++
				cached.LastUsed = tlb.counter
			}
			return *cached, true
		}
	}
	return
}

// Insert caches a translation, evicting a victim if the TLB is full.
func (tlb *Tlb) Insert(entry TlbEntry) {
	if tlb.Capacity <= 0 {
		return
	}

	tlb.counter++
	entry.LastUsed = tlb.counter

	for n := range tlb.entries {
		if tlb.entries[n].Page == entry.Page && tlb.entries[n].Scope == entry.Scope {
			tlb.entries[n] = entry
			return
		}
	}

	if len(tlb.entries) < tlb.Capacity {
		tlb.entries = append(tlb.entries, entry)
		return
	}

	// Both policies evict the oldest stamp; only LRU refreshes it on a hit.
	victim := 0
	for n := range tlb.entries {
		if tlb.entries[n].LastUsed < tlb.entries[victim].LastUsed {
			victim = n
		}
	}
	tlb.entries[victim] = entry
}

// Invalidate drops the translations of page in every scope.
func (tlb *Tlb) Invalidate(page uint64) {
	kept := tlb.entries[:0]
	for _, entry := range tlb.entries {
		if entry.Page != page {
			kept = append(kept, entry)
		}
	}
	tlb.entries = kept
}

// Flush drops every translation.
func (tlb *Tlb) Flush() {
	tlb.entries = tlb.entries[:0]
}

// Len returns the number of cached translations.
func (tlb *Tlb) Len() int {
	return len(tlb.entries)
}
