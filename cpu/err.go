package cpu

import (
	"errors"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

var f = translate.From

var (
	// Recoverable conditions, dispatched to the guest.
	ErrGeneralProtection = errors.New(f("general protection"))
	ErrDecodeFault       = errors.New(f("invalid instruction"))

	// Fatal conditions, reported to the host.
	ErrDoubleFault = errors.New(f("double fault"))
	ErrBootFault   = errors.New(f("boot fault"))

	// Dispatch failures.
	ErrNoDescriptor   = errors.New(f("vector has no descriptor"))
	ErrDescriptorRing = errors.New(f("descriptor target ring not permitted"))
	ErrNoStack        = errors.New(f("interrupt stack pointer not set"))

	// Step results.
	ErrHalted    = errors.New(f("halted"))
	ErrInterrupt = errors.New(f("interrupt"))

	// Host errors.
	ErrNoDecoder    = errors.New(f("no decoder"))
	ErrRingInvalid  = errors.New(f("ring invalid"))
	ErrRingDisabled = errors.New(f("hypervisor ring disabled"))

	// Operation errors, raised as a decode fault.
	ErrOperand      = errors.New(f("operand invalid"))
	ErrWidth        = errors.New(f("width invalid"))
	ErrLength       = errors.New(f("instruction length invalid"))
	ErrConfigReg    = errors.New(f("config register invalid"))
	ErrIretFrame    = errors.New(f("iret frame invalid"))
	ErrSoftwareGate = errors.New(f("software interrupt not permitted"))
)

// ErrFault is a recoverable fault, dispatched through the descriptor table.
type ErrFault struct {
	Vector    arch.Vector
	ErrorCode uint64
	Ip        uint64 // Instruction pointer saved in the context frame.
	Err       error  // Underlying condition.
}

func (err *ErrFault) Error() string {
	return f("%v at %v (code %#x): %v", err.Vector, translate.Hex(err.Ip), err.ErrorCode, err.Err)
}

func (err *ErrFault) Unwrap() error {
	return err.Err
}

// ErrFatal halts the core. Kind is ErrDoubleFault or ErrBootFault; Fault is
// the condition whose dispatch failed, Err why it failed.
type ErrFatal struct {
	Kind  error
	Fault *ErrFault
	Err   error
}

func (err *ErrFatal) Error() string {
	return f("%v: dispatching %v: %v", err.Kind, err.Fault, err.Err)
}

func (err *ErrFatal) Unwrap() []error {
	return []error{err.Kind, err.Err}
}
