package arch

import (
	"fmt"
)

// Vector is an interrupt or exception vector number.
type Vector uint8

// Exception vectors raised by the core. Every other vector is available to
// external interrupts and software INT.
const (
	VECTOR_UD = Vector(0x06) // Undefined instruction.
	VECTOR_DF = Vector(0x08) // Double fault. Never dispatched, reported to the host.
	VECTOR_GP = Vector(0x0d) // General protection.
	VECTOR_PF = Vector(0x0e) // Page fault.
)

// VECTOR_COUNT is the number of descriptor table entries.
const VECTOR_COUNT = 256

// Exception returns true if the vector is one the core raises itself.
func (v Vector) Exception() bool {
	switch v {
	case VECTOR_UD, VECTOR_DF, VECTOR_GP, VECTOR_PF:
		return true
	}
	return false
}

func (v Vector) String() string {
	switch v {
	case VECTOR_UD:
		return "#UD"
	case VECTOR_DF:
		return "#DF"
	case VECTOR_GP:
		return "#GP"
	case VECTOR_PF:
		return "#PF"
	}
	return fmt.Sprintf("0x%02x", uint8(v))
}
