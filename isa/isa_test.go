package isa

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/cpu"
)

const none = cpu.NO_REGISTER

var testIsa = [](struct {
	name  string
	op    cpu.Operation
	bytes []byte
}){
	{"mov r15, 0",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_64, Dst: cpu.Reg(15), Src: cpu.Imm(0)},
		[]byte{0x49, 0xbf, 0, 0, 0, 0, 0, 0, 0, 0}},
	{"mov rdx, 9993",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_64, Dst: cpu.Reg(2), Src: cpu.Imm(9993)},
		[]byte{0x48, 0xba, 0x09, 0x27, 0, 0, 0, 0, 0, 0}},
	{"mov cl, 0x7f",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_8, Dst: cpu.Reg(1), Src: cpu.Imm(0x7f)},
		[]byte{0xb1, 0x7f}},
	{"mov [rsp+8], rax",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_64, Dst: cpu.Mem(4, none, 1, 8), Src: cpu.Reg(0)},
		[]byte{0x48, 0x89, 0x44, 0x24, 0x08}},
	{"mov eax, [rbp]",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_32, Dst: cpu.Reg(0), Src: cpu.Mem(5, none, 1, 0)},
		[]byte{0x8b, 0x45, 0x00}},
	{"mov rax, [rip+0x10]",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_64, Dst: cpu.Reg(0), Src: cpu.IpRel(0x10)},
		[]byte{0x48, 0x8b, 0x05, 0x10, 0, 0, 0}},
	{"mov r8d, [r12+r13*4-8]",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_32, Dst: cpu.Reg(8), Src: cpu.Mem(12, 13, 4, -8)},
		[]byte{0x47, 0x8b, 0x44, 0xac, 0xf8}},
	{"mov rax, [0x1000]",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_64, Dst: cpu.Reg(0), Src: cpu.Abs(0x1000)},
		[]byte{0x48, 0x8b, 0x04, 0x25, 0x00, 0x10, 0, 0}},
	{"mov byte [rbx], 0x7f",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_8, Dst: cpu.Mem(3, none, 1, 0), Src: cpu.Imm(0x7f)},
		[]byte{0xc6, 0x03, 0x7f}},
	{"mov word [rbx], 0x1234",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_16, Dst: cpu.Mem(3, none, 1, 0), Src: cpu.Imm(0x1234)},
		[]byte{0x66, 0xc7, 0x03, 0x34, 0x12}},
	{"mov qword [rax+0x100], -1",
		cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_64, Dst: cpu.Mem(0, none, 1, 0x100), Src: cpu.Imm(^uint64(0))},
		[]byte{0x48, 0xc7, 0x80, 0x00, 0x01, 0, 0, 0xff, 0xff, 0xff, 0xff}},
	{"add rax, rbx",
		cpu.Operation{Kind: cpu.OP_ADD, Width: arch.WIDTH_64, Dst: cpu.Reg(0), Src: cpu.Reg(3)},
		[]byte{0x48, 0x01, 0xd8}},
	{"sub rcx, 1",
		cpu.Operation{Kind: cpu.OP_SUB, Width: arch.WIDTH_64, Dst: cpu.Reg(1), Src: cpu.Imm(1)},
		[]byte{0x48, 0x83, 0xe9, 0x01}},
	{"xor eax, eax",
		cpu.Operation{Kind: cpu.OP_XOR, Width: arch.WIDTH_32, Dst: cpu.Reg(0), Src: cpu.Reg(0)},
		[]byte{0x31, 0xc0}},
	{"and rax, -16",
		cpu.Operation{Kind: cpu.OP_AND, Width: arch.WIDTH_64, Dst: cpu.Reg(0), Src: cpu.Imm(^uint64(15))},
		[]byte{0x48, 0x83, 0xe0, 0xf0}},
	{"or r9, 0x12345678",
		cpu.Operation{Kind: cpu.OP_OR, Width: arch.WIDTH_64, Dst: cpu.Reg(9), Src: cpu.Imm(0x12345678)},
		[]byte{0x49, 0x81, 0xc9, 0x78, 0x56, 0x34, 0x12}},
	{"cmp al, 5",
		cpu.Operation{Kind: cpu.OP_CMP, Width: arch.WIDTH_8, Dst: cpu.Reg(0), Src: cpu.Imm(5)},
		[]byte{0x80, 0xf8, 0x05}},
	{"cmp ecx, [rdx]",
		cpu.Operation{Kind: cpu.OP_CMP, Width: arch.WIDTH_32, Dst: cpu.Reg(1), Src: cpu.Mem(2, none, 1, 0)},
		[]byte{0x3b, 0x0a}},
	{"inc byte [rax]",
		cpu.Operation{Kind: cpu.OP_INC, Width: arch.WIDTH_8, Dst: cpu.Mem(0, none, 1, 0)},
		[]byte{0xfe, 0x00}},
	{"inc rcx",
		cpu.Operation{Kind: cpu.OP_INC, Width: arch.WIDTH_64, Dst: cpu.Reg(1)},
		[]byte{0x48, 0xff, 0xc1}},
	{"jmp short -2",
		cpu.Operation{Kind: cpu.OP_JMP, Src: cpu.Rel(-2)},
		[]byte{0xeb, 0xfe}},
	{"jmp rax",
		cpu.Operation{Kind: cpu.OP_JMP, Src: cpu.Reg(0)},
		[]byte{0xff, 0xe0}},
	{"jz 0x100",
		cpu.Operation{Kind: cpu.OP_JZ, Src: cpu.Rel(0x100)},
		[]byte{0x0f, 0x84, 0x00, 0x01, 0, 0}},
	{"jnz -4",
		cpu.Operation{Kind: cpu.OP_JNZ, Src: cpu.Rel(-4)},
		[]byte{0x75, 0xfc}},
	{"call 0",
		cpu.Operation{Kind: cpu.OP_CALL, Src: cpu.Rel(0)},
		[]byte{0xe8, 0, 0, 0, 0}},
	{"call [rax]",
		cpu.Operation{Kind: cpu.OP_CALL, Src: cpu.Mem(0, none, 1, 0)},
		[]byte{0xff, 0x10}},
	{"ret",
		cpu.Operation{Kind: cpu.OP_RET},
		[]byte{0xc3}},
	{"push rbp",
		cpu.Operation{Kind: cpu.OP_PUSH, Src: cpu.Reg(5)},
		[]byte{0x55}},
	{"push r12",
		cpu.Operation{Kind: cpu.OP_PUSH, Src: cpu.Reg(12)},
		[]byte{0x41, 0x54}},
	{"push qword [rbx]",
		cpu.Operation{Kind: cpu.OP_PUSH, Src: cpu.Mem(3, none, 1, 0)},
		[]byte{0xff, 0x33}},
	{"push 1",
		cpu.Operation{Kind: cpu.OP_PUSH, Src: cpu.Imm(1)},
		[]byte{0x6a, 0x01}},
	{"push 0x1000",
		cpu.Operation{Kind: cpu.OP_PUSH, Src: cpu.Imm(0x1000)},
		[]byte{0x68, 0x00, 0x10, 0, 0}},
	{"pop rbx",
		cpu.Operation{Kind: cpu.OP_POP, Dst: cpu.Reg(3)},
		[]byte{0x5b}},
	{"pop qword [rsi]",
		cpu.Operation{Kind: cpu.OP_POP, Dst: cpu.Mem(6, none, 1, 0)},
		[]byte{0x8f, 0x06}},
	{"in al, 0x60",
		cpu.Operation{Kind: cpu.OP_IN, Width: arch.WIDTH_8, Dst: cpu.Reg(0), Src: cpu.Imm(0x60)},
		[]byte{0xe4, 0x60}},
	{"in ax, dx",
		cpu.Operation{Kind: cpu.OP_IN, Width: arch.WIDTH_16, Dst: cpu.Reg(0), Src: cpu.Reg(2)},
		[]byte{0x66, 0xed}},
	{"out dx, eax",
		cpu.Operation{Kind: cpu.OP_OUT, Width: arch.WIDTH_32, Dst: cpu.Reg(2), Src: cpu.Reg(0)},
		[]byte{0xef}},
	{"out 0x80, al",
		cpu.Operation{Kind: cpu.OP_OUT, Width: arch.WIDTH_8, Dst: cpu.Imm(0x80), Src: cpu.Reg(0)},
		[]byte{0xe6, 0x80}},
	{"int 0x80",
		cpu.Operation{Kind: cpu.OP_INT, Src: cpu.Imm(0x80)},
		[]byte{0xcd, 0x80}},
	{"iret",
		cpu.Operation{Kind: cpu.OP_IRET},
		[]byte{0xcf}},
	{"hlt",
		cpu.Operation{Kind: cpu.OP_HLT},
		[]byte{0xf4}},
	{"cli",
		cpu.Operation{Kind: cpu.OP_CLI},
		[]byte{0xfa}},
	{"sti",
		cpu.Operation{Kind: cpu.OP_STI},
		[]byte{0xfb}},
	{"nop",
		cpu.Operation{Kind: cpu.OP_NOP},
		[]byte{0x90}},
	{"wrcr 1, rax",
		cpu.Operation{Kind: cpu.OP_LOAD_CONFIG, Dst: cpu.Imm(1), Src: cpu.Reg(0)},
		[]byte{0x3f, 0xc0, 0x01}},
	{"rdcr rbx, 3",
		cpu.Operation{Kind: cpu.OP_READ_CONFIG, Dst: cpu.Reg(3), Src: cpu.Imm(3)},
		[]byte{0x3f, 0xdb, 0x03}},
	{"ldroot r9",
		cpu.Operation{Kind: cpu.OP_LOAD_ROOT, Src: cpu.Reg(9)},
		[]byte{0x41, 0x3f, 0xc9}},
	{"invlpg [0x1000]",
		cpu.Operation{Kind: cpu.OP_INVALIDATE, Src: cpu.Abs(0x1000)},
		[]byte{0x3f, 0x14, 0x25, 0x00, 0x10, 0, 0}},
}

func TestEncode(t *testing.T) {
	assert := assert.New(t)

	for _, test := range testIsa {
		data, err := Encode(test.op)
		if !assert.NoError(err, test.name) {
			continue
		}
		assert.Equal(test.bytes, data, test.name)
	}
}

func TestDecode(t *testing.T) {
	assert := assert.New(t)

	dec := &Decoder{}
	for _, test := range testIsa {
		op, length, err := dec.Decode(Bytes(test.bytes), arch.RING_SUPERVISOR)
		if !assert.NoError(err, test.name) {
			continue
		}
		assert.Equal(test.op, op, test.name)
		assert.Equal(uint64(len(test.bytes)), length, test.name)
	}
}

func TestDecode_Prefixes(t *testing.T) {
	assert := assert.New(t)

	dec := &Decoder{}

	// REX only counts right before the opcode.
	op, length, err := dec.Decode(Bytes{0x48, 0x66, 0x01, 0xd8}, arch.RING_USER)
	assert.NoError(err)
	assert.Equal(uint64(4), length)
	assert.Equal(cpu.Operation{Kind: cpu.OP_ADD, Width: arch.WIDTH_16, Dst: cpu.Reg(0), Src: cpu.Reg(3)}, op)

	op, length, err = dec.Decode(Bytes{0x66, 0x48, 0x01, 0xd8}, arch.RING_USER)
	assert.NoError(err)
	assert.Equal(uint64(4), length)
	assert.Equal(arch.WIDTH_64, op.Width)

	op, length, err = dec.Decode(Bytes{0x2e, 0x67, 0x90}, arch.RING_USER)
	assert.NoError(err)
	assert.Equal(uint64(3), length)
	assert.Equal(cpu.OP_NOP, op.Kind)

	// Trailing bytes are not consumed.
	op, length, err = dec.Decode(Bytes{0xc3, 0x90, 0x90}, arch.RING_USER)
	assert.NoError(err)
	assert.Equal(uint64(1), length)
	assert.Equal(cpu.OP_RET, op.Kind)

	// No base with rbp as SIB base and mod 0.
	op, _, err = dec.Decode(Bytes{0x8b, 0x04, 0x2d, 0x00, 0x10, 0, 0}, arch.RING_USER)
	assert.NoError(err)
	assert.Equal(cpu.Mem(none, 5, 1, 0x1000), op.Src)
}

func TestDecode_Errors(t *testing.T) {
	assert := assert.New(t)

	long := make(Bytes, 16)
	for n := range 15 {
		long[n] = PREFIX_SIZE
	}
	long[15] = OPCODE_NOP

	table := [](struct {
		name   string
		bytes  Bytes
		err    error
		offset uint64
		code   uint8
	}){
		{"ud2", Bytes{0x0f, 0x0b}, ErrOpcode, 1, 0x0b},
		{"adc", Bytes{0x10, 0xc0}, ErrOpcode, 0, 0x10},
		{"push es", Bytes{0x06}, ErrOpcode, 0, 0x06},
		{"lock", Bytes{0xf0, 0x90}, ErrPrefix, 0, 0xf0},
		{"rep", Bytes{0xf3, 0x90}, ErrPrefix, 0, 0xf3},
		{"system /4", Bytes{0x3f, 0xe0}, ErrExtension, 1, 0xe0},
		{"invlpg register", Bytes{0x3f, 0xd0}, ErrMemory, 1, 0xd0},
		{"pop /1", Bytes{0x8f, 0xc8}, ErrExtension, 1, 0xc8},
		{"mov /1", Bytes{0xc7, 0xc8, 0, 0, 0, 0}, ErrExtension, 1, 0xc8},
		{"inc8 /2", Bytes{0xfe, 0xd0}, ErrExtension, 1, 0xd0},
		{"group /7", Bytes{0xff, 0xf8}, ErrExtension, 1, 0xf8},
		{"prefixes", long, ErrTooLong, 15, 0},
		{"truncated", Bytes{0x48}, ErrTruncated, 1, 0},
		{"truncated immediate", Bytes{0xb8, 0x01, 0x02}, ErrTruncated, 3, 0},
	}

	dec := &Decoder{}
	for _, test := range table {
		_, _, err := dec.Decode(test.bytes, arch.RING_SUPERVISOR)
		assert.ErrorIs(err, test.err, test.name)
		assert.ErrorIs(err, cpu.ErrDecodeFault, test.name)

		var decode *ErrDecode
		if assert.True(errors.As(err, &decode), test.name) {
			assert.Equal(test.offset, decode.Offset, test.name)
			assert.Equal(test.code, decode.Code, test.name)
		}
	}
}

func TestEncoder_Long(t *testing.T) {
	assert := assert.New(t)

	table := [](struct {
		name  string
		op    cpu.Operation
		bytes []byte
	}){
		{"jmp -2",
			cpu.Operation{Kind: cpu.OP_JMP, Src: cpu.Rel(-2)},
			[]byte{0xe9, 0xfe, 0xff, 0xff, 0xff}},
		{"jz 0",
			cpu.Operation{Kind: cpu.OP_JZ, Src: cpu.Rel(0)},
			[]byte{0x0f, 0x84, 0, 0, 0, 0}},
		{"mov eax, [rax]",
			cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_32, Dst: cpu.Reg(0), Src: cpu.Mem(0, none, 1, 0)},
			[]byte{0x8b, 0x80, 0, 0, 0, 0}},
		{"add rax, 1",
			cpu.Operation{Kind: cpu.OP_ADD, Width: arch.WIDTH_64, Dst: cpu.Reg(0), Src: cpu.Imm(1)},
			[]byte{0x48, 0x81, 0xc0, 0x01, 0, 0, 0}},
		{"push 1",
			cpu.Operation{Kind: cpu.OP_PUSH, Src: cpu.Imm(1)},
			[]byte{0x68, 0x01, 0, 0, 0}},
	}

	enc := &Encoder{Long: true}
	dec := &Decoder{}
	for _, test := range table {
		data, err := enc.Encode(test.op)
		if !assert.NoError(err, test.name) {
			continue
		}
		assert.Equal(test.bytes, data, test.name)

		op, _, err := dec.Decode(Bytes(data), arch.RING_SUPERVISOR)
		assert.NoError(err, test.name)
		assert.Equal(test.op, op, test.name)
	}
}

func TestEncode_Width(t *testing.T) {
	assert := assert.New(t)

	// A zero width is 64 bits.
	data, err := Encode(cpu.Operation{Kind: cpu.OP_ADD, Dst: cpu.Reg(0), Src: cpu.Reg(3)})
	assert.NoError(err)
	assert.Equal([]byte{0x48, 0x01, 0xd8}, data)
}

func TestEncode_Errors(t *testing.T) {
	assert := assert.New(t)

	table := [](struct {
		name string
		op   cpu.Operation
		err  error
	}){
		{"kind", cpu.Operation{Kind: cpu.OP_COUNT}, ErrKind},
		{"width", cpu.Operation{Kind: cpu.OP_MOV, Width: 3, Dst: cpu.Reg(0), Src: cpu.Reg(1)}, ErrWidth},
		{"immediate destination", cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_64, Dst: cpu.Imm(0), Src: cpu.Reg(1)}, ErrOperand},
		{"memory to memory", cpu.Operation{Kind: cpu.OP_ADD, Width: arch.WIDTH_64, Dst: cpu.Abs(0), Src: cpu.Abs(8)}, ErrOperand},
		{"register", cpu.Operation{Kind: cpu.OP_PUSH, Src: cpu.Reg(16)}, ErrOperand},
		{"stack index", cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_64, Dst: cpu.Reg(0), Src: cpu.Mem(0, arch.REGISTER_SP, 1, 0)}, ErrOperand},
		{"byte immediate", cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_8, Dst: cpu.Reg(0), Src: cpu.Imm(0x100)}, ErrImmediate},
		{"memory immediate", cpu.Operation{Kind: cpu.OP_MOV, Width: arch.WIDTH_64, Dst: cpu.Abs(0), Src: cpu.Imm(0x1_0000_0000)}, ErrImmediate},
		{"alu immediate", cpu.Operation{Kind: cpu.OP_SUB, Width: arch.WIDTH_64, Dst: cpu.Reg(0), Src: cpu.Imm(0x8000_0000)}, ErrImmediate},
		{"push immediate", cpu.Operation{Kind: cpu.OP_PUSH, Src: cpu.Imm(0x1_0000_0000)}, ErrImmediate},
		{"displacement", cpu.Operation{Kind: cpu.OP_INC, Width: arch.WIDTH_64, Dst: cpu.Abs(1 << 40)}, ErrDisplacement},
		{"branch", cpu.Operation{Kind: cpu.OP_JMP, Src: cpu.Rel(1 << 40)}, ErrDisplacement},
		{"conditional indirect", cpu.Operation{Kind: cpu.OP_JZ, Src: cpu.Reg(0)}, ErrOperand},
		{"port width", cpu.Operation{Kind: cpu.OP_IN, Width: arch.WIDTH_64, Dst: cpu.Reg(0), Src: cpu.Reg(2)}, ErrWidth},
		{"port register", cpu.Operation{Kind: cpu.OP_OUT, Width: arch.WIDTH_8, Dst: cpu.Reg(1), Src: cpu.Reg(0)}, ErrOperand},
		{"port", cpu.Operation{Kind: cpu.OP_IN, Width: arch.WIDTH_8, Dst: cpu.Reg(0), Src: cpu.Imm(0x100)}, ErrOperand},
		{"vector", cpu.Operation{Kind: cpu.OP_INT, Src: cpu.Imm(arch.VECTOR_COUNT)}, ErrOperand},
		{"invalidate register", cpu.Operation{Kind: cpu.OP_INVALIDATE, Src: cpu.Reg(0)}, ErrOperand},
		{"config register", cpu.Operation{Kind: cpu.OP_LOAD_CONFIG, Dst: cpu.Imm(0x100), Src: cpu.Reg(0)}, ErrOperand},
		{"operands", cpu.Operation{Kind: cpu.OP_HLT, Src: cpu.Reg(0)}, ErrOperand},
	}

	for _, test := range table {
		_, err := Encode(test.op)
		assert.ErrorIs(err, test.err, test.name)

		var encode *ErrEncode
		if assert.True(errors.As(err, &encode), test.name) {
			assert.Equal(test.op, encode.Op, test.name)
		}
	}
}

func TestDisassemble(t *testing.T) {
	assert := assert.New(t)

	ops, err := Disassemble([]byte{0x31, 0xc0, 0xff, 0xc0, 0xeb, 0xfc})
	assert.NoError(err)
	assert.Equal([]cpu.Operation{
		{Kind: cpu.OP_XOR, Width: arch.WIDTH_32, Dst: cpu.Reg(0), Src: cpu.Reg(0)},
		{Kind: cpu.OP_INC, Width: arch.WIDTH_32, Dst: cpu.Reg(0)},
		{Kind: cpu.OP_JMP, Src: cpu.Rel(-4)},
	}, ops)

	ops, err = Disassemble([]byte{0x90, 0x0f})
	assert.ErrorIs(err, ErrTruncated)
	assert.Len(ops, 1)
}
