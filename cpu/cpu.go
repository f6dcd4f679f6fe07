package cpu

import (
	"errors"
	"fmt"
	"iter"
	"log"
	"maps"
	"slices"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/internal"
	"github.com/Daniel-Anker-Hermansen/x86rs/mmu"
	"github.com/Daniel-Anker-Hermansen/x86rs/translate"
)

var _cpu_defines = map[string]string{
	"RING_HYPERVISOR": fmt.Sprintf("%d", arch.RING_HYPERVISOR),
	"RING_SUPERVISOR": fmt.Sprintf("%d", arch.RING_SUPERVISOR),
	"RING_USER":       fmt.Sprintf("%d", arch.RING_USER),

	"VECTOR_UD": fmt.Sprintf("0x%x", uint8(arch.VECTOR_UD)),
	"VECTOR_DF": fmt.Sprintf("0x%x", uint8(arch.VECTOR_DF)),
	"VECTOR_GP": fmt.Sprintf("0x%x", uint8(arch.VECTOR_GP)),
	"VECTOR_PF": fmt.Sprintf("0x%x", uint8(arch.VECTOR_PF)),

	"FLAG_CF": fmt.Sprintf("0x%x", arch.FLAG_CF),
	"FLAG_ZF": fmt.Sprintf("0x%x", arch.FLAG_ZF),
	"FLAG_SF": fmt.Sprintf("0x%x", arch.FLAG_SF),
	"FLAG_IF": fmt.Sprintf("0x%x", arch.FLAG_IF),

	"CR_ISP_SUPERVISOR": fmt.Sprintf("%d", arch.CR_ISP_SUPERVISOR),
	"CR_ISP_USER":       fmt.Sprintf("%d", arch.CR_ISP_USER),
	"CR_ISP_HYPERVISOR": fmt.Sprintf("%d", arch.CR_ISP_HYPERVISOR),
	"CR_FAULT_ADDRESS":  fmt.Sprintf("%d", arch.CR_FAULT_ADDRESS),
	"CR_ROOT":           fmt.Sprintf("%d", arch.CR_ROOT),

	"DESCRIPTOR_BYTES": fmt.Sprintf("%d", DESCRIPTOR_BYTES),
	"DESC_PRESENT":     fmt.Sprintf("0x%x", DESC_PRESENT),
	"DESC_DISABLE_IF":  fmt.Sprintf("0x%x", DESC_DISABLE_IF),
	"DESC_RPL_SHIFT":   fmt.Sprintf("%d", DESC_RPL_SHIFT),
	"DESC_RING_SHIFT":  fmt.Sprintf("%d", DESC_RING_SHIFT),
	"DESC_ROUTINE_OFF": fmt.Sprintf("%d", DESC_ROUTINE_OFF),

	"FRAME_ERROR_CODE": fmt.Sprintf("%d", FRAME_ERROR_CODE),
	"FRAME_IP":         fmt.Sprintf("%d", FRAME_IP),
	"FRAME_META":       fmt.Sprintf("%d", FRAME_META),
	"FRAME_SP":         fmt.Sprintf("%d", FRAME_SP),
	"META_RING_SHIFT":  fmt.Sprintf("%d", META_RING_SHIFT),
	"META_SP_SAVED":    fmt.Sprintf("0x%x", META_SP_SAVED),
}

// Cpu is the execution core. The zero value is not usable; see NewCpu.
type Cpu struct {
	Verbose bool // Set to enable verbose logging.

	Mmu     *mmu.Mmu // Address translator; its Memory is physical memory.
	Decoder Decoder  // Instruction set.
	Ports   Ports    // Port I/O space, or nil.

	InitialRing    arch.Ring // Ring entered by Boot.
	IdtBase        uint64    // Descriptor table address loaded by Boot.
	HypervisorRing bool      // Permit entry to RING_HYPERVISOR.

	Ticks int // Steps taken since boot, including dispatches.

	state         State
	dispatchState DispatchState
	services      Services
	pending       []arch.Vector
	halted        bool
	retired       uint64
	lastFault     *ErrFault
	fatal         *ErrFatal
}

// NewCpu creates a core over a translator and decoder, booting in the
// supervisor ring.
func NewCpu(translator *mmu.Mmu, decoder Decoder) (cpu *Cpu) {
	cpu = &Cpu{
		Mmu:         translator,
		Decoder:     decoder,
		InitialRing: arch.RING_SUPERVISOR,
	}

	return
}

// Defines for the cpu, and the page table entry bits.
func (cpu *Cpu) Defines() iter.Seq2[string, string] {
	return internal.IterSeq2Concat(maps.All(_cpu_defines), mmu.Defines())
}

// Boot resets the core: page table root 0, instruction pointer 0, ring
// InitialRing, TLB flushed, interrupts disabled. No memory is touched until
// the first Step.
func (cpu *Cpu) Boot() (err error) {
	err = cpu.ringPermitted(cpu.InitialRing)
	if err != nil {
		return
	}

	if cpu.Verbose {
		log.Printf("cpu: boot %v", cpu.InitialRing)
	}

	cpu.state = State{
		Ring:    cpu.InitialRing,
		IdtBase: cpu.IdtBase,
	}
	cpu.Mmu.SetRoot(0)

	cpu.dispatchState = DISPATCH_RUNNING
	cpu.services.Reset()
	cpu.pending = nil
	cpu.halted = false
	cpu.retired = 0
	cpu.lastFault = nil
	cpu.fatal = nil
	cpu.Ticks = 0

	return
}

// State returns a copy of the processor state.
func (cpu *Cpu) State() (state State) {
	state = cpu.state
	state.Root = cpu.Mmu.Root()
	return
}

// SetState replaces the processor state, for host debugging. The TLB is
// flushed.
func (cpu *Cpu) SetState(state State) (err error) {
	err = cpu.ringPermitted(state.Ring)
	if err != nil {
		return
	}

	cpu.state = state
	cpu.Mmu.SetRoot(state.Root)
	return
}

// DispatchState returns the dispatcher state.
func (cpu *Cpu) DispatchState() DispatchState {
	return cpu.dispatchState
}

// Services returns the active service routines, innermost last.
func (cpu *Cpu) Services() []Service {
	return slices.Clone(cpu.services.Data)
}

// Halted returns true while idle in HLT.
func (cpu *Cpu) Halted() bool {
	return cpu.halted
}

// Fatal returns the condition that stopped the core, or nil.
func (cpu *Cpu) Fatal() error {
	if cpu.fatal == nil {
		return nil
	}
	return cpu.fatal
}

// LastFault returns the most recently raised fault, or nil.
func (cpu *Cpu) LastFault() *ErrFault {
	return cpu.lastFault
}

// Retired returns the number of instructions completed since boot.
func (cpu *Cpu) Retired() uint64 {
	return cpu.retired
}

// Pending returns the number of queued external interrupts.
func (cpu *Cpu) Pending() int {
	return len(cpu.pending)
}

// InjectInterrupt queues an external interrupt. It is delivered at a step
// boundary once FLAG_IF is set, and wakes the core from HLT.
func (cpu *Cpu) InjectInterrupt(v arch.Vector) {
	if cpu.Verbose {
		log.Printf("cpu: irq %v", v)
	}
	cpu.pending = append(cpu.pending, v)
}

// Step executes one instruction, or delivers one pending external
// interrupt. Recoverable faults are dispatched to the guest and are not
// returned. It returns ErrHalted while idle in HLT, and an *ErrFatal once
// the core has stopped.
func (cpu *Cpu) Step() (err error) {
	if cpu.fatal != nil {
		return cpu.fatal
	}
	if cpu.Decoder == nil {
		return ErrNoDecoder
	}

	cpu.Mmu.Verbose = cpu.Verbose

	if v, ok := cpu.deliverable(); ok {
		cpu.halted = false
		cpu.Ticks++
		return cpu.dispatch(&ErrFault{Vector: v, Ip: cpu.state.Ip, Err: ErrInterrupt})
	}

	if cpu.halted {
		return ErrHalted
	}

	cpu.Ticks++

	ip := cpu.state.Ip
	op, length, err := cpu.Decoder.Decode(&fetchStream{cpu: cpu, ip: ip}, cpu.state.Ring)
	if err == nil && (length == 0 || length > MAX_INSTRUCTION) {
		err = errors.Join(ErrDecodeFault, ErrLength)
	}
	if err == nil && !cpu.MayExecutePrivileged(op) {
		err = ErrGeneralProtection
	}
	if err == nil {
		if cpu.Verbose {
			log.Printf("cpu: %v: %v", translate.Hex(ip), op)
		}
		err = cpu.execute(op, ip+length)
	}
	if err != nil {
		if cpu.fatal != nil {
			return cpu.fatal
		}
		return cpu.raise(err, ip)
	}

	cpu.retired++
	return
}

// Peek reads virtual memory with supervisor privilege, for host inspection.
func (cpu *Cpu) Peek(va uint64, width arch.Width) (value uint64, err error) {
	return cpu.load(va, width, arch.ACCESS_READ, arch.RING_SUPERVISOR)
}

// String returns the current processor state as a string.
func (cpu *Cpu) String() string {
	state := cpu.State()
	return state.String() + fmt.Sprintf("% 6s: %v\n", "mode", cpu.dispatchState)
}

// resolve translates every byte of an access before any byte is accessed.
func (cpu *Cpu) resolve(va uint64, width arch.Width, access arch.Access, ring arch.Ring) (pa [arch.WIDTH_64]uint64, contiguous bool, err error) {
	if !width.Valid() {
		err = ErrWidth
		return
	}

	contiguous = true
	for n := range uint64(width) {
		if n > 0 && (va+n)&arch.PAGE_MASK != 0 {
			pa[n] = pa[n-1] + 1
			continue
		}
		pa[n], err = cpu.Mmu.Translate(va+n, access, ring)
		if err != nil {
			return
		}
		if n > 0 && pa[n] != pa[n-1]+1 {
			contiguous = false
		}
	}
	return
}

// load reads width bytes of virtual memory.
func (cpu *Cpu) load(va uint64, width arch.Width, access arch.Access, ring arch.Ring) (value uint64, err error) {
	pa, contiguous, err := cpu.resolve(va, width, access, ring)
	if err != nil {
		return
	}

	if contiguous {
		value = cpu.Mmu.Memory.Read(pa[0], width)
		return
	}
	for n := range uint64(width) {
		value |= cpu.Mmu.Memory.Read(pa[n], arch.WIDTH_8) << (8 * n)
	}
	return
}

// store writes width bytes of virtual memory. Nothing is written unless
// every byte translates.
func (cpu *Cpu) store(va uint64, width arch.Width, value uint64, ring arch.Ring) (err error) {
	pa, contiguous, err := cpu.resolve(va, width, arch.ACCESS_WRITE, ring)
	if err != nil {
		return
	}

	if contiguous {
		cpu.Mmu.Memory.Write(pa[0], width, value)
		return
	}
	for n := range uint64(width) {
		cpu.Mmu.Memory.Write(pa[n], arch.WIDTH_8, value>>(8*n))
	}
	return
}

// storeWords writes consecutive 64-bit words starting at va, after
// translating all of them.
func (cpu *Cpu) storeWords(va uint64, words []uint64, ring arch.Ring) (err error) {
	for n := range words {
		_, _, err = cpu.resolve(va+uint64(8*n), arch.WIDTH_64, arch.ACCESS_WRITE, ring)
		if err != nil {
			return
		}
	}
	for n, word := range words {
		err = cpu.store(va+uint64(8*n), arch.WIDTH_64, word, ring)
		if err != nil {
			return
		}
	}
	return
}
