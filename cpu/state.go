package cpu

import (
	"fmt"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

// State is the architectural processor state.
type State struct {
	Ip       uint64                      // Linear address of the next instruction.
	Register [arch.REGISTER_COUNT]uint64 // r4 is the stack pointer.
	Flags    uint64                      // Lower 32 bits significant.
	Ring     arch.Ring                   // Current privilege level.

	Root         uint64 // Page table root, physical.
	IdtBase      uint64 // Descriptor table, linear.
	FaultAddress uint64 // Linear address of the last page fault.

	InterruptStack      [arch.RING_COUNT]uint64 // Indexed by Ring.Index().
	InterruptStackValid [arch.RING_COUNT]bool
}

// Sp returns the stack pointer.
func (state State) Sp() uint64 {
	return state.Register[arch.REGISTER_SP]
}

// SetSp sets the stack pointer.
func (state *State) SetSp(sp uint64) {
	state.Register[arch.REGISTER_SP] = sp
}

// String renders a register dump.
func (state *State) String() (text string) {
	line := func(name string, value string) {
		text += fmt.Sprintf("% 6s: %v\n", name, value)
	}

	line("ip", translate.Hex(state.Ip))
	line("ring", state.Ring.String())
	flags := ""
	for _, bit := range []struct {
		mask uint64
		name string
	}{
		{arch.FLAG_IF, "if "},
		{arch.FLAG_SF, "sf "},
		{arch.FLAG_ZF, "zf "},
		{arch.FLAG_CF, "cf "},
	} {
		if state.Flags&bit.mask != 0 {
			flags += bit.name
		} else {
			flags += "-- "
		}
	}
	line("flags", fmt.Sprintf("%08x %v", state.Flags&arch.FLAG_MASK, flags))
	for n, value := range state.Register {
		name := fmt.Sprintf("r%d", n)
		if n == arch.REGISTER_SP {
			name = "sp"
		}
		line(name, translate.Hex(value))
	}
	line("root", translate.Hex(state.Root))
	line("idt", translate.Hex(state.IdtBase))
	line("fault", translate.Hex(state.FaultAddress))
	for _, ring := range []arch.Ring{arch.RING_HYPERVISOR, arch.RING_SUPERVISOR, arch.RING_USER} {
		value := "----_----_----_----"
		if state.InterruptStackValid[ring.Index()] {
			value = translate.Hex(state.InterruptStack[ring.Index()])
		}
		line(arch.InterruptStack(ring).String(), value)
	}

	return
}
