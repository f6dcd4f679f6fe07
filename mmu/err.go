package mmu

import (
	"errors"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

var f = translate.From

var (
	ErrPageFault    = errors.New(f("page fault"))
	ErrNonCanonical = errors.New(f("non-canonical address"))
	ErrLevels       = errors.New(f("paging levels must be 4 or 5"))
	ErrTlbEntries   = errors.New(f("tlb entries must not be negative"))
	ErrReplacement  = errors.New(f("unknown tlb replacement policy"))
	ErrArenaFull    = errors.New(f("page table arena exhausted"))
)

// Page fault error code bits, as pushed by the dispatcher.
const (
	FAULT_PROTECTION = uint64(1 << 0) // Set for permission faults, clear for not-present.
	FAULT_WRITE      = uint64(1 << 1)
	FAULT_USER       = uint64(1 << 2)
	FAULT_FETCH      = uint64(1 << 4)
)

// PageFault is a failed translation.
type PageFault struct {
	Address uint64
	Access  arch.Access
	Ring    arch.Ring
	Present bool // All levels were present; a permission check failed.
}

func (err *PageFault) Error() string {
	reason := f("not present")
	if err.Present {
		reason = f("protection")
	}
	return f("%v at %v (%v, %v): %v", ErrPageFault, translate.Hex(err.Address), err.Access, err.Ring, reason)
}

func (err *PageFault) Unwrap() error {
	return ErrPageFault
}

// ErrorCode is the x86 style page fault error code.
func (err *PageFault) ErrorCode() (code uint64) {
	if err.Present {
		code |= FAULT_PROTECTION
	}
	switch err.Access {
	case arch.ACCESS_WRITE:
		code |= FAULT_WRITE
	case arch.ACCESS_FETCH:
		code |= FAULT_FETCH
	}
	if err.Ring == arch.RING_USER {
		code |= FAULT_USER
	}
	return
}

// ErrAddress is an address rejected before any table walk.
type ErrAddress struct {
	Address uint64
	Err     error
}

func (err *ErrAddress) Error() string {
	return f("%v: %v", translate.Hex(err.Address), err.Err)
}

func (err *ErrAddress) Unwrap() error {
	return err.Err
}
