package cpu

import (
	"log"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

// CurrentRing returns the current privilege level.
func (cpu *Cpu) CurrentRing() arch.Ring {
	return cpu.state.Ring
}

// MayExecutePrivileged returns false if op is privileged and the current
// ring is the user ring.
func (cpu *Cpu) MayExecutePrivileged(op Operation) bool {
	return !op.Kind.Privileged() || cpu.state.Ring != arch.RING_USER
}

// ringPermitted returns nil if r may be entered.
func (cpu *Cpu) ringPermitted(r arch.Ring) error {
	if !r.Valid() {
		return ErrRingInvalid
	}
	if r == arch.RING_HYPERVISOR && !cpu.HypervisorRing {
		return ErrRingDisabled
	}
	return nil
}

// setRing is only used by the dispatcher, IRET and boot.
func (cpu *Cpu) setRing(r arch.Ring) {
	if cpu.Verbose && r != cpu.state.Ring {
		log.Printf("cpu: ring %v -> %v", cpu.state.Ring, r)
	}
	cpu.state.Ring = r
}

// InterruptStack returns the interrupt stack pointer for entering ring r,
// and whether it has been loaded.
func (cpu *Cpu) InterruptStack(r arch.Ring) (sp uint64, ok bool) {
	if !r.Valid() {
		return
	}
	return cpu.state.InterruptStack[r.Index()], cpu.state.InterruptStackValid[r.Index()]
}

// writeConfig implements the write config register operation. Loading an
// interrupt stack pointer marks it valid.
func (cpu *Cpu) writeConfig(cr arch.ConfigReg, value uint64) (err error) {
	if !cr.Writable() {
		return ErrConfigReg
	}

	if r, ok := cr.StackRing(); ok {
		err = cpu.ringPermitted(r)
		if err != nil {
			return
		}
		cpu.state.InterruptStack[r.Index()] = value
		cpu.state.InterruptStackValid[r.Index()] = true
	} else if cr == arch.CR_ROOT {
		cpu.Mmu.SetRoot(value)
	}

	if cpu.Verbose {
		log.Printf("cpu: %v = %v", cr, translate.Hex(value))
	}
	return
}

// readConfig implements the read config register operation.
func (cpu *Cpu) readConfig(cr arch.ConfigReg) (value uint64, err error) {
	if r, ok := cr.StackRing(); ok {
		err = cpu.ringPermitted(r)
		if err != nil {
			return
		}
		value = cpu.state.InterruptStack[r.Index()]
		return
	}

	switch cr {
	case arch.CR_FAULT_ADDRESS:
		value = cpu.state.FaultAddress
	case arch.CR_ROOT:
		value = cpu.Mmu.Root()
	default:
		err = ErrConfigReg
	}
	return
}
