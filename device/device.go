// Package device provides the port I/O space of the machine and the
// devices attached to it: a byte console and an interval timer.
package device

import (
	"fmt"
	"iter"
	"maps"
)

// Device is a byte-wide port device. Ports are numbered from zero at the
// base port the device is attached to.
type Device interface {
	In(port uint16) uint8
	Out(port uint16, value uint8)
}

const (
	UNMAPPED = 0xff // Value read from a port with no device.

	CONSOLE_PORTS = 1

	TIMER_PORTS    = 5
	TIMER_COUNTER  = 0    // Four ports, little-endian period in microseconds.
	TIMER_MODE     = 4    // Writing the mode (re)arms the timer.
	TIMER_PERIODIC = 0x01 // Mode bit: fire every period.
	TIMER_ONESHOT  = 0x02 // Mode bit: fire once after the period.
)

var _device_defines = map[string]string{
	"TIMER_COUNTER":  fmt.Sprintf("%d", TIMER_COUNTER),
	"TIMER_MODE":     fmt.Sprintf("%d", TIMER_MODE),
	"TIMER_PERIODIC": fmt.Sprintf("0x%x", TIMER_PERIODIC),
	"TIMER_ONESHOT":  fmt.Sprintf("0x%x", TIMER_ONESHOT),
}

// Defines returns the port layout constants for the assembler.
func Defines() iter.Seq2[string, string] {
	return maps.All(_device_defines)
}
