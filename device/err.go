package device

import (
	"errors"

	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

var f = translate.From

var (
	ErrPortOverlap = errors.New(f("port already in use"))
	ErrPortRange   = errors.New(f("ports past the end of the port space"))
	ErrPortEmpty   = errors.New(f("device has no ports"))
)

// ErrPort describes a rejected port range.
type ErrPort struct {
	Port  uint16
	Count int
	Err   error
}

func (err *ErrPort) Error() string {
	return f("ports %#04x+%d: %v", err.Port, err.Count, err.Err)
}

func (err *ErrPort) Unwrap() error {
	return err.Err
}
