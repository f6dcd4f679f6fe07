package arch

import (
	"strconv"
)

// Width is an operand width in bytes.
type Width uint8

const (
	WIDTH_8  = Width(1)
	WIDTH_16 = Width(2)
	WIDTH_32 = Width(4)
	WIDTH_64 = Width(8)
)

// Valid returns true for 1, 2, 4 and 8 byte widths.
func (w Width) Valid() bool {
	switch w {
	case WIDTH_8, WIDTH_16, WIDTH_32, WIDTH_64:
		return true
	}
	return false
}

// Bits returns the width in bits.
func (w Width) Bits() int {
	return int(w) * 8
}

// Mask returns the value mask for the width.
func (w Width) Mask() uint64 {
	if w >= WIDTH_64 {
		return ^uint64(0)
	}
	return (uint64(1) << w.Bits()) - 1
}

// Suffix is the assembler mnemonic suffix for the width.
func (w Width) Suffix() string {
	switch w {
	case WIDTH_8:
		return "b"
	case WIDTH_16:
		return "w"
	case WIDTH_32:
		return "d"
	case WIDTH_64:
		return "q"
	}
	return "Width(" + strconv.Itoa(int(w)) + ")"
}

func (w Width) String() string {
	return w.Suffix()
}
