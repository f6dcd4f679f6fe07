package isa

import (
	"errors"

	"github.com/Daniel-Anker-Hermansen/x86rs/cpu"
	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

var f = translate.From

var (
	// Decode errors
	ErrOpcode    = errors.New(f("unknown opcode"))
	ErrExtension = errors.New(f("unknown opcode extension"))
	ErrPrefix    = errors.New(f("unsupported prefix"))
	ErrTooLong   = errors.New(f("instruction too long"))
	ErrMemory    = errors.New(f("memory operand required"))
	ErrTruncated = errors.New(f("instruction truncated"))

	// Encode errors
	ErrKind         = errors.New(f("operation has no encoding"))
	ErrOperand      = errors.New(f("operand has no encoding"))
	ErrWidth        = errors.New(f("width has no encoding"))
	ErrImmediate    = errors.New(f("immediate out of range"))
	ErrDisplacement = errors.New(f("displacement out of range"))
)

// ErrDecode is an undecodable instruction. It is a cpu.ErrDecodeFault.
type ErrDecode struct {
	Offset uint64 // Offset of the offending byte.
	Code   uint8  // Offending byte.
	Err    error
}

func (err *ErrDecode) Error() string {
	return f("%v: byte 0x%02x at +%d: %v", cpu.ErrDecodeFault, err.Code, err.Offset, err.Err)
}

func (err *ErrDecode) Unwrap() []error {
	return []error{cpu.ErrDecodeFault, err.Err}
}

// ErrEncode is an operation with no encoding.
type ErrEncode struct {
	Op  cpu.Operation
	Err error
}

func (err *ErrEncode) Error() string {
	return f("%v: %v", err.Op, err.Err)
}

func (err *ErrEncode) Unwrap() error {
	return err.Err
}
