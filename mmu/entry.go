package mmu

import (
	"fmt"
	"iter"
	"maps"
	"strings"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

// Entry is a page table entry, at any level of the tree.
type Entry uint64

const (
	PTE_PRESENT    = Entry(1 << 0)
	PTE_WRITABLE   = Entry(1 << 1)
	PTE_USER       = Entry(1 << 2)
	PTE_NO_EXECUTE = Entry(1 << 63)

	PTE_FRAME_MASK = Entry(0x7fff_ffff_ffff_f000) // Physical frame address.
	PTE_FLAG_MASK  = PTE_PRESENT | PTE_WRITABLE | PTE_USER | PTE_NO_EXECUTE
)

// NewEntry builds an entry pointing at frame. Offset bits of frame are
// discarded.
func NewEntry(frame uint64, flags Entry) Entry {
	return (Entry(frame) & PTE_FRAME_MASK) | (flags &^ PTE_FRAME_MASK)
}

func (e Entry) Present() bool   { return e&PTE_PRESENT != 0 }
func (e Entry) Writable() bool  { return e&PTE_WRITABLE != 0 }
func (e Entry) User() bool      { return e&PTE_USER != 0 }
func (e Entry) NoExecute() bool { return e&PTE_NO_EXECUTE != 0 }
func (e Entry) Frame() uint64   { return uint64(e & PTE_FRAME_MASK) }

func (e Entry) String() string {
	var flags strings.Builder
	for _, bit := range []struct {
		set  bool
		name byte
	}{
		{e.Present(), 'p'},
		{e.Writable(), 'w'},
		{e.User(), 'u'},
		{e.NoExecute(), 'x'},
	} {
		if bit.set {
			flags.WriteByte(bit.name)
		} else {
			flags.WriteByte('-')
		}
	}
	return translate.Hex(e.Frame()) + " " + flags.String()
}

// Permission is the effective permission of a translation, narrowed across
// every level of the walk.
type Permission struct {
	Write   bool
	User    bool
	Execute bool
}

// narrow intersects perm with a table entry.
func (perm Permission) narrow(e Entry) Permission {
	return Permission{
		Write:   perm.Write && e.Writable(),
		User:    perm.User && e.User(),
		Execute: perm.Execute && !e.NoExecute(),
	}
}

// PERMISSION_ALL is the identity for narrowing.
var PERMISSION_ALL = Permission{Write: true, User: true, Execute: true}

var _mmu_defines = map[string]string{
	"PTE_PRESENT":    fmt.Sprintf("0x%x", uint64(PTE_PRESENT)),
	"PTE_WRITABLE":   fmt.Sprintf("0x%x", uint64(PTE_WRITABLE)),
	"PTE_USER":       fmt.Sprintf("0x%x", uint64(PTE_USER)),
	"PTE_NO_EXECUTE": fmt.Sprintf("0x%x", uint64(PTE_NO_EXECUTE)),
	"PTE_FRAME_MASK": fmt.Sprintf("0x%x", uint64(PTE_FRAME_MASK)),
	"PAGE_SIZE":      fmt.Sprintf("0x%x", arch.PAGE_SIZE),
}

// Defines returns the page table entry bits as assembler equates.
func Defines() iter.Seq2[string, string] {
	return maps.All(_mmu_defines)
}
