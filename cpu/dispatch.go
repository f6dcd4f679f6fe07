package cpu

import (
	"errors"
	"log"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/mmu"
	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

// DispatchState is the state of the interrupt/exception dispatcher.
type DispatchState int

//go:generate go tool stringer -linecomment -type=DispatchState
const (
	DISPATCH_RUNNING        = DispatchState(iota) // running
	DISPATCH_DISPATCHING                          // dispatching
	DISPATCH_SERVICE_ACTIVE                       // service-active
)

// descriptor reads the descriptor table entry for v with supervisor
// privilege.
func (cpu *Cpu) descriptor(v arch.Vector) (desc Descriptor, err error) {
	address := cpu.state.IdtBase + uint64(v)*DESCRIPTOR_BYTES
	lo, err := cpu.load(address, arch.WIDTH_64, arch.ACCESS_READ, arch.RING_SUPERVISOR)
	if err != nil {
		return
	}
	hi, err := cpu.load(address+DESC_ROUTINE_OFF, arch.WIDTH_64, arch.ACCESS_READ, arch.RING_SUPERVISOR)
	if err != nil {
		return
	}
	desc = DecodeDescriptor(lo, hi)
	return
}

// classify maps a failed step onto the fault it raises.
func classify(err error, ip uint64) (fault *ErrFault) {
	if errors.As(err, &fault) {
		return
	}

	fault = &ErrFault{Ip: ip, Err: err}

	var pf *mmu.PageFault
	switch {
	case errors.As(err, &pf):
		fault.Vector = arch.VECTOR_PF
		fault.ErrorCode = pf.ErrorCode()
	case errors.Is(err, mmu.ErrNonCanonical), errors.Is(err, ErrGeneralProtection):
		fault.Vector = arch.VECTOR_GP
	default:
		fault.Vector = arch.VECTOR_UD
	}
	return
}

// raise routes a failed step to the dispatcher. The saved instruction
// pointer is that of the faulting instruction.
func (cpu *Cpu) raise(err error, ip uint64) error {
	fault := classify(err, ip)

	cpu.lastFault = fault
	if cpu.Verbose {
		log.Printf("cpu: fault %v", fault)
	}

	err = cpu.dispatch(fault)
	if err != nil {
		return err
	}

	var pf *mmu.PageFault
	if errors.As(fault.Err, &pf) {
		cpu.state.FaultAddress = pf.Address
	}
	return nil
}

// halt records a fatal failure to dispatch fault.
func (cpu *Cpu) halt(fault *ErrFault, cause error) error {
	kind := ErrDoubleFault
	var pf *mmu.PageFault
	if cpu.retired == 0 && errors.As(fault.Err, &pf) && pf.Access == arch.ACCESS_FETCH {
		kind = ErrBootFault
	}

	cpu.fatal = &ErrFatal{Kind: kind, Fault: fault, Err: cause}
	if cpu.Verbose {
		log.Printf("cpu: %v", cpu.fatal)
	}
	return cpu.fatal
}

// dispatch enters the service routine for fault.Vector. Any failure is
// fatal and leaves the processor state untouched.
func (cpu *Cpu) dispatch(fault *ErrFault) (err error) {
	cpu.dispatchState = DISPATCH_DISPATCHING
	defer func() {
		if err != nil {
			err = cpu.halt(fault, err)
		}
	}()

	from := cpu.state.Ring

	desc, err := cpu.descriptor(fault.Vector)
	if err != nil {
		return
	}
	if !desc.Present {
		err = ErrNoDescriptor
		return
	}
	err = cpu.ringPermitted(desc.Ring)
	if err != nil {
		err = errors.Join(ErrDescriptorRing, err)
		return
	}
	if from.MorePrivileged(desc.Ring) {
		err = ErrDescriptorRing
		return
	}

	// Staying in the supervisor or hypervisor ring keeps the current stack.
	switched := desc.Ring != from || desc.Ring == arch.RING_USER
	sp := cpu.state.Sp()
	if switched {
		var ok bool
		sp, ok = cpu.InterruptStack(desc.Ring)
		if !ok {
			err = ErrNoStack
			return
		}
	}

	frame := []uint64{
		FRAME_ERROR_CODE / 8: fault.ErrorCode,
		FRAME_IP / 8:         fault.Ip,
		FRAME_META / 8:       packMeta(cpu.state.Flags, from, switched),
	}
	if switched {
		frame = append(frame, cpu.state.Sp())
	}
	top := sp - uint64(8*len(frame))

	err = cpu.storeWords(top, frame, desc.Ring)
	if err != nil {
		return
	}

	cpu.setRing(desc.Ring)
	cpu.state.SetSp(top)
	cpu.state.Ip = desc.Routine
	if desc.DisableInterrupts {
		cpu.state.Flags &^= arch.FLAG_IF
	}

	cpu.services.Push(Service{Vector: fault.Vector, Ring: desc.Ring, Frame: top})
	cpu.dispatchState = DISPATCH_SERVICE_ACTIVE

	if cpu.Verbose {
		log.Printf("cpu: dispatch %v -> %v %v sp %v", fault.Vector, desc.Ring, translate.Hex(desc.Routine), translate.Hex(top))
	}

	return
}

// iret consumes the saved context frame at the stack pointer.
func (cpu *Cpu) iret() (err error) {
	ring := cpu.state.Ring
	sp := cpu.state.Sp()

	ip, err := cpu.load(sp+FRAME_IP, arch.WIDTH_64, arch.ACCESS_READ, ring)
	if err != nil {
		return
	}
	meta, err := cpu.load(sp+FRAME_META, arch.WIDTH_64, arch.ACCESS_READ, ring)
	if err != nil {
		return
	}

	flags, to, saved := unpackMeta(meta)
	if perr := cpu.ringPermitted(to); perr != nil {
		err = errors.Join(ErrGeneralProtection, ErrIretFrame, perr)
		return
	}
	if to.MorePrivileged(ring) || (to != ring && !saved) {
		err = errors.Join(ErrGeneralProtection, ErrIretFrame)
		return
	}

	next_sp := sp + FRAME_SP
	if saved {
		next_sp, err = cpu.load(sp+FRAME_SP, arch.WIDTH_64, arch.ACCESS_READ, ring)
		if err != nil {
			return
		}
	}

	cpu.state.Flags = (cpu.state.Flags &^ arch.FLAG_MASK) | flags
	cpu.state.Ip = ip
	cpu.setRing(to)
	cpu.state.SetSp(next_sp)

	cpu.services.Pop()
	if cpu.services.Empty() {
		cpu.dispatchState = DISPATCH_RUNNING
	}

	if cpu.Verbose {
		log.Printf("cpu: iret -> %v %v", to, translate.Hex(ip))
	}
	return
}

// deliverable returns the next external interrupt, if one may be taken.
func (cpu *Cpu) deliverable() (v arch.Vector, ok bool) {
	if len(cpu.pending) == 0 || cpu.state.Flags&arch.FLAG_IF == 0 {
		return
	}
	v = cpu.pending[0]
	cpu.pending = cpu.pending[1:]
	ok = true
	return
}
