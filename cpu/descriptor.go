package cpu

import (
	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

// Descriptor table layout. Each vector has a 16 byte entry at
// IdtBase + 16*vector.
const (
	DESCRIPTOR_BYTES = 16

	DESC_PRESENT     = uint64(1) << 0 // byte 0
	DESC_DISABLE_IF  = uint64(1) << 8 // byte 1, clear FLAG_IF on entry
	DESC_RPL_SHIFT   = 16             // byte 2, least privileged ring allowed to INT
	DESC_RING_SHIFT  = 24             // byte 3, ring of the service routine
	DESC_ROUTINE_OFF = 8              // bytes 8..15, service routine address
)

// Descriptor is a decoded descriptor table entry.
type Descriptor struct {
	Present           bool
	DisableInterrupts bool
	Rpl               arch.Ring
	Ring              arch.Ring
	Routine           uint64
}

// DecodeDescriptor decodes the two words of an entry.
func DecodeDescriptor(lo uint64, hi uint64) (desc Descriptor) {
	desc.Present = lo&DESC_PRESENT != 0
	desc.DisableInterrupts = lo&DESC_DISABLE_IF != 0
	desc.Rpl = arch.Ring(int8(lo >> DESC_RPL_SHIFT))
	desc.Ring = arch.Ring(int8(lo >> DESC_RING_SHIFT))
	desc.Routine = hi
	return
}

// Encode returns the two words of the entry.
func (desc Descriptor) Encode() (lo uint64, hi uint64) {
	if desc.Present {
		lo |= DESC_PRESENT
	}
	if desc.DisableInterrupts {
		lo |= DESC_DISABLE_IF
	}
	lo |= uint64(uint8(desc.Rpl)) << DESC_RPL_SHIFT
	lo |= uint64(uint8(desc.Ring)) << DESC_RING_SHIFT
	hi = desc.Routine
	return
}

// Saved context frame layout, as offsets from the stack pointer after
// dispatch. FRAME_SP is only present if META_SP_SAVED is set, which is
// whenever the dispatch switched stacks: on every ring change, and on
// user to user dispatch.
const (
	FRAME_ERROR_CODE = 0
	FRAME_IP         = 8
	FRAME_META       = 16
	FRAME_SP         = 24

	META_FLAGS_MASK = arch.FLAG_MASK
	META_RING_SHIFT = 32
	META_SP_SAVED   = uint64(1) << 40
)

// packMeta builds the frame word holding the prior flags and ring.
func packMeta(flags uint64, ring arch.Ring, saved bool) (meta uint64) {
	meta = flags & META_FLAGS_MASK
	meta |= uint64(uint8(ring)) << META_RING_SHIFT
	if saved {
		meta |= META_SP_SAVED
	}
	return
}

// unpackMeta is the inverse of packMeta.
func unpackMeta(meta uint64) (flags uint64, ring arch.Ring, saved bool) {
	flags = meta & META_FLAGS_MASK
	ring = arch.Ring(int8(meta >> META_RING_SHIFT))
	saved = meta&META_SP_SAVED != 0
	return
}
