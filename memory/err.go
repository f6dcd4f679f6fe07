package memory

import (
	"errors"

	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

var f = translate.From

var (
	// Bus errors
	ErrOverlap  = errors.New(f("memory range overlaps"))
	ErrOverflow = errors.New(f("memory range overflows address space"))
	ErrEmpty    = errors.New(f("memory range empty"))
	ErrTooLarge = errors.New(f("image larger than memory range"))
)

// ErrRange describes a rejected memory range.
type ErrRange struct {
	Base uint64
	Size uint64
	Err  error
}

func (err *ErrRange) Error() string {
	return f("range %v+%#x: %v", translate.Hex(err.Base), err.Size, err.Err)
}

func (err *ErrRange) Unwrap() error {
	return err.Err
}
