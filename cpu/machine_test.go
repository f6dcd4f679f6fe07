package cpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/memory"
	"github.com/Daniel-Anker-Hermansen/x86rs/mmu"
)

// Virtual layout of the test machine. Page tables occupy the first MiB of
// physical memory, rooted at 0.
const (
	CODE       = uint64(0x0000_0000)
	HANDLER    = uint64(0x0040_0000)
	IDT        = uint64(0x0020_0000)
	KSTACK     = uint64(0x0080_0000)
	KSTACK_TOP = KSTACK + arch.PAGE_SIZE
	USTACK     = uint64(0x0090_0000)
	USTACK_TOP = USTACK + arch.PAGE_SIZE
	DATA       = uint64(0x00a0_0000)
)

// testOp is a one byte opcode of the test decoder.
type testOp struct {
	op     Operation
	length uint64
}

var testOps = map[uint8]testOp{
	0x00: {Operation{Kind: OP_NOP}, 1},
	0x01: {Operation{Kind: OP_MOV, Dst: Reg(0), Src: Imm(0x1234)}, 1},
	0x02: {Operation{Kind: OP_CLI}, 1},
	0x03: {Operation{Kind: OP_INT, Src: Imm(0x80)}, 2},
	0x04: {Operation{Kind: OP_IRET}, 1},
	0x05: {Operation{Kind: OP_HLT}, 1},
	0x06: {Operation{Kind: OP_STI}, 1},
	0x07: {Operation{Kind: OP_MOV, Dst: Abs(int64(DATA)), Src: Reg(0)}, 1},
	0x08: {Operation{Kind: OP_MOV, Dst: Reg(1), Src: Abs(int64(DATA))}, 1},
	0x09: {Operation{Kind: OP_PUSH, Src: Reg(0)}, 1},
	0x0a: {Operation{Kind: OP_POP, Dst: Reg(2)}, 1},
	0x0b: {Operation{Kind: OP_CALL, Src: Rel(1)}, 1},
	0x0c: {Operation{Kind: OP_RET}, 1},
	0x0d: {Operation{Kind: OP_JMP, Src: Imm(HANDLER)}, 1},
	0x0e: {Operation{Kind: OP_LOAD_CONFIG, Dst: Imm(uint64(arch.CR_ISP_SUPERVISOR)), Src: Reg(3)}, 1},
	0x0f: {Operation{Kind: OP_ADD, Dst: Reg(0), Src: Imm(1)}, 1},
	0x10: {Operation{Kind: OP_MOV, Dst: Abs(int64(HANDLER)), Src: Reg(0)}, 1},
	0x11: {Operation{Kind: OP_INC, Dst: Abs(int64(DATA))}, 1},
	0x12: {Operation{Kind: OP_OUT, Width: arch.WIDTH_8, Dst: Imm(0x10), Src: Reg(0)}, 1},
	0x13: {Operation{Kind: OP_IN, Width: arch.WIDTH_8, Dst: Reg(5), Src: Imm(0x10)}, 1},
	0x14: {Operation{Kind: OP_READ_CONFIG, Dst: Reg(6), Src: Imm(uint64(arch.CR_FAULT_ADDRESS))}, 1},
	0x15: {Operation{Kind: OP_LOAD_ROOT, Src: Reg(7)}, 1},
	0x16: {Operation{Kind: OP_INVALIDATE, Src: Mem(8, NO_REGISTER, 1, 0)}, 1},
	0x17: {Operation{Kind: OP_SUB, Dst: Reg(0), Src: Imm(1)}, 1},
	0x18: {Operation{Kind: OP_JNZ, Src: Rel(-2)}, 1},
	0x19: {Operation{Kind: OP_MOV, Dst: Abs(int64(DATA + 0xffc)), Src: Reg(0)}, 1},
	0x1a: {Operation{Kind: OP_INT, Src: Imm(0x81)}, 2},
	0x1b: {Operation{Kind: OP_MOV, Dst: Reg(9), Src: Abs(0xdead_0000)}, 1},
	0x1c: {Operation{Kind: OP_MOV, Dst: Reg(0), Src: Abs(0x8000_0000_0000)}, 1},
	0x1d: {Operation{Kind: OP_LOAD_CONFIG, Dst: Imm(uint64(arch.CR_FAULT_ADDRESS)), Src: Reg(0)}, 1},
	0x1e: {Operation{Kind: OP_MOV, Width: arch.WIDTH_16, Dst: Reg(0), Src: Imm(0xbeef)}, 1},
	0x1f: {Operation{Kind: OP_MOV, Width: arch.WIDTH_32, Dst: Reg(0), Src: Imm(0xffff_ffff)}, 1},
	0x20: {Operation{Kind: OP_CMP, Dst: Reg(0), Src: Imm(0x1234)}, 1},
	0x21: {Operation{Kind: OP_JZ, Src: Rel(1)}, 1},
	0x22: {Operation{Kind: OP_MOV, Dst: Imm(1), Src: Reg(0)}, 1},
}

// testDecoder decodes testOps, fetching every byte of the instruction.
type testDecoder struct{}

func (testDecoder) Decode(stream ByteStream, ring arch.Ring) (op Operation, length uint64, err error) {
	code, err := stream.Byte(0)
	if err != nil {
		return
	}
	entry, ok := testOps[code]
	if !ok {
		err = ErrDecodeFault
		return
	}
	for n := uint64(1); n < entry.length; n++ {
		_, err = stream.Byte(n)
		if err != nil {
			return
		}
	}
	op, length = entry.op, entry.length
	return
}

// testPorts records port writes, and reads back the last value written.
type testPorts struct {
	out map[uint16]uint64
}

func (ports *testPorts) In(port uint16, width arch.Width) uint64 {
	return ports.out[port] & width.Mask()
}

func (ports *testPorts) Out(port uint16, width arch.Width, value uint64) {
	if ports.out == nil {
		ports.out = make(map[uint16]uint64)
	}
	ports.out[port] = value & width.Mask()
}

type machine struct {
	t     *testing.T
	ram   *memory.Ram
	arena *mmu.Arena
	cpu   *Cpu
	ports *testPorts
}

// newMachine boots a machine with code, handler, descriptor table, stacks
// and data mapped. Code and data are user accessible.
func newMachine(t *testing.T, ring arch.Ring) (m *machine) {
	ram := memory.NewRam()
	arena := &mmu.Arena{Memory: ram, Levels: mmu.LEVELS_4, Base: 0, Limit: 0x10_0000}
	root, err := arena.Root()
	require.NoError(t, err)
	require.Equal(t, uint64(0), root)

	for _, mapping := range []struct {
		va    uint64
		pa    uint64
		flags mmu.Entry
	}{
		{CODE, 0x10_0000, mmu.PTE_USER},
		{HANDLER, 0x10_1000, 0},
		{IDT, 0x10_2000, mmu.PTE_NO_EXECUTE},
		{KSTACK, 0x10_3000, mmu.PTE_WRITABLE | mmu.PTE_NO_EXECUTE},
		{USTACK, 0x10_4000, mmu.PTE_USER | mmu.PTE_WRITABLE | mmu.PTE_NO_EXECUTE},
		{DATA, 0x10_5000, mmu.PTE_USER | mmu.PTE_WRITABLE | mmu.PTE_NO_EXECUTE},
	} {
		require.NoError(t, arena.Map(mapping.va, mapping.pa, mapping.flags))
	}

	translator, err := mmu.NewMmu(ram, mmu.Options{Levels: mmu.LEVELS_4, TlbEntries: 16})
	require.NoError(t, err)

	m = &machine{
		t:     t,
		ram:   ram,
		arena: arena,
		cpu:   NewCpu(translator, testDecoder{}),
		ports: &testPorts{},
	}
	m.cpu.Ports = m.ports
	m.cpu.InitialRing = ring
	m.cpu.IdtBase = IDT
	require.NoError(t, m.cpu.Boot())

	state := m.cpu.State()
	state.SetSp(KSTACK_TOP)
	if ring == arch.RING_USER {
		state.SetSp(USTACK_TOP)
	}
	require.NoError(t, m.cpu.SetState(state))

	return
}

// pa translates va with supervisor privilege.
func (m *machine) pa(va uint64) uint64 {
	pa, err := m.cpu.Mmu.Translate(va, arch.ACCESS_READ, arch.RING_SUPERVISOR)
	require.NoError(m.t, err)
	return pa
}

// code places instruction bytes at va.
func (m *machine) code(va uint64, code ...uint8) {
	m.ram.Load(m.pa(va), code)
}

// vector installs a descriptor table entry.
func (m *machine) vector(v arch.Vector, desc Descriptor) {
	lo, hi := desc.Encode()
	base := m.pa(IDT) + uint64(v)*DESCRIPTOR_BYTES
	m.ram.Write(base, arch.WIDTH_64, lo)
	m.ram.Write(base+8, arch.WIDTH_64, hi)
}

// handlers installs supervisor handlers for the exceptions and for INT
// 0x80 (user callable) and 0x81 (supervisor only), all at HANDLER.
func (m *machine) handlers() {
	for _, v := range []arch.Vector{arch.VECTOR_UD, arch.VECTOR_GP, arch.VECTOR_PF, 0x20, 0x81} {
		m.vector(v, Descriptor{Present: true, Rpl: arch.RING_SUPERVISOR, Ring: arch.RING_SUPERVISOR, Routine: HANDLER})
	}
	m.vector(0x80, Descriptor{Present: true, DisableInterrupts: true, Rpl: arch.RING_USER, Ring: arch.RING_SUPERVISOR, Routine: HANDLER})
}

// setIsp loads the supervisor interrupt stack pointer.
func (m *machine) setIsp(sp uint64) {
	state := m.cpu.State()
	state.InterruptStack[arch.RING_SUPERVISOR.Index()] = sp
	state.InterruptStackValid[arch.RING_SUPERVISOR.Index()] = true
	require.NoError(m.t, m.cpu.SetState(state))
}

// word reads virtual memory with supervisor privilege.
func (m *machine) word(va uint64) uint64 {
	value, err := m.cpu.Peek(va, arch.WIDTH_64)
	require.NoError(m.t, err)
	return value
}

// step runs n instructions, which must not fail.
func (m *machine) step(n int) {
	for range n {
		require.NoError(m.t, m.cpu.Step())
	}
}
