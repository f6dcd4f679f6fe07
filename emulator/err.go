package emulator

import (
	"errors"

	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

var f = translate.From

var (
	ErrUnmapped = errors.New(f("no memory at load address"))
)

// ErrRuntime indicates the location of a runtime error.
type ErrRuntime struct {
	LineNo int
	Ip     uint64
	Err    error
}

func (err *ErrRuntime) Error() string {
	if err.LineNo == 0 {
		return f("ip %v %v", translate.Hex(err.Ip), err.Err)
	}
	return f("line %d ip %v %v", err.LineNo, translate.Hex(err.Ip), err.Err)
}

func (err *ErrRuntime) Unwrap() error {
	return err.Err
}
