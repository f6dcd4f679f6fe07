package isa

import (
	"math/bits"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/cpu"
)

// aluCode maps operations onto ALU_*.
var aluCode = map[cpu.OpKind]uint8{
	cpu.OP_ADD: ALU_ADD,
	cpu.OP_OR:  ALU_OR,
	cpu.OP_AND: ALU_AND,
	cpu.OP_SUB: ALU_SUB,
	cpu.OP_XOR: ALU_XOR,
	cpu.OP_CMP: ALU_CMP,
}

// Encoder encodes operations in the reference encoding.
type Encoder struct {
	// Long selects the 32 bit forms of displacements, branches and ALU
	// immediates, so the length of an instruction does not depend on
	// their values.
	Long bool
}

// Encode encodes op using the shortest forms.
func Encode(op cpu.Operation) (data []byte, err error) {
	return (&Encoder{}).Encode(op)
}

// Encode encodes op. Decoding the result yields op, with a zero width
// made explicit for the operations that have one.
func (enc *Encoder) Encode(op cpu.Operation) (data []byte, err error) {
	b := &builder{long: enc.Long}
	err = b.encode(op)
	if err != nil {
		err = &ErrEncode{Op: op, Err: err}
		return
	}

	data = b.bytes()
	return
}

// builder accumulates the parts of an instruction.
type builder struct {
	long   bool
	size   bool
	rex    uint8
	opcode []byte
	modrm  []byte
	imm    []byte
}

func (b *builder) bytes() (data []byte) {
	if b.size {
		data = append(data, PREFIX_SIZE)
	}
	if b.rex != 0 {
		data = append(data, PREFIX_REX|b.rex)
	}
	data = append(data, b.opcode...)
	data = append(data, b.modrm...)
	data = append(data, b.imm...)
	return
}

func (b *builder) op(codes ...uint8) {
	b.opcode = append(b.opcode, codes...)
}

// le returns the low width bytes of value, little endian.
func le(value uint64, width arch.Width) (data []byte) {
	for n := range uint64(width) {
		data = append(data, uint8(value>>(8*n)))
	}
	return
}

// fits returns true if value, as a width operand, is the sign extension
// of its low n bytes.
func fits(value uint64, n arch.Width, width arch.Width) bool {
	shift := 64 - n.Bits()
	return uint64(int64(value<<shift)>>shift)&width.Mask() == value&width.Mask()
}

// immediate returns true if value is representable as a width operand,
// either zero or sign extended.
func immediate(value uint64, width arch.Width) bool {
	return value&^width.Mask() == 0 || fits(value, width, arch.WIDTH_64)
}

// unused checks that operands are absent.
func unused(operands ...cpu.Operand) error {
	for _, operand := range operands {
		if operand.Kind != cpu.OPERAND_NONE {
			return ErrOperand
		}
	}
	return nil
}

// operandSize selects the prefixes for a full width operation.
func (b *builder) operandSize(width arch.Width) error {
	switch width {
	case arch.WIDTH_16:
		b.size = true
	case arch.WIDTH_32:
	case arch.WIDTH_64:
		b.rex |= REX_W
	default:
		return ErrWidth
	}
	return nil
}

// register returns the low three bits of register n, setting the REX bit
// for the rest.
func (b *builder) register(n int, bit uint8) (low uint8, err error) {
	if n < 0 || n >= arch.REGISTER_COUNT {
		err = ErrOperand
		return
	}
	if n >= 8 {
		b.rex |= bit
	}
	low = uint8(n & 7)
	return
}

// rm encodes the ModRM byte, and any SIB byte and displacement, for reg
// and a register or memory operand.
func (b *builder) rm(reg int, operand cpu.Operand) (err error) {
	r, err := b.register(reg, REX_R)
	if err != nil {
		return
	}

	modrm := func(mod uint8, rm uint8) uint8 {
		return mod<<6 | r<<3 | rm
	}

	switch operand.Kind {
	case cpu.OPERAND_REGISTER:
		var low uint8
		low, err = b.register(operand.Register, REX_B)
		if err != nil {
			return
		}
		b.modrm = []byte{modrm(MOD_REGISTER, low)}
		return
	case cpu.OPERAND_MEMORY:
		if !operand.Valid() {
			return ErrOperand
		}
	default:
		return ErrOperand
	}

	disp := operand.Disp
	if disp != int64(int32(disp)) {
		return ErrDisplacement
	}

	if operand.RipRelative {
		b.modrm = append([]byte{modrm(MOD_INDIRECT, RM_DISP32)}, le(uint64(disp), arch.WIDTH_32)...)
		return
	}

	index := uint8(SIB_NONE)
	if operand.Index != cpu.NO_REGISTER {
		index, err = b.register(operand.Index, REX_X)
		if err != nil {
			return
		}
	}
	sib := func(base uint8) uint8 {
		return uint8(bits.TrailingZeros8(operand.Scale))<<6 | index<<3 | base
	}

	if operand.Base == cpu.NO_REGISTER {
		b.modrm = []byte{modrm(MOD_INDIRECT, RM_SIB), sib(RM_DISP32)}
		b.modrm = append(b.modrm, le(uint64(disp), arch.WIDTH_32)...)
		return
	}

	base, err := b.register(operand.Base, REX_B)
	if err != nil {
		return
	}

	mod := uint8(MOD_DISP32)
	switch {
	case b.long:
	case disp == 0 && base != RM_DISP32:
		mod = MOD_INDIRECT
	case disp == int64(int8(disp)):
		mod = MOD_DISP8
	}

	if operand.Index != cpu.NO_REGISTER || base == RM_SIB {
		b.modrm = []byte{modrm(mod, RM_SIB), sib(base)}
	} else {
		b.modrm = []byte{modrm(mod, base)}
	}

	switch mod {
	case MOD_DISP8:
		b.modrm = append(b.modrm, le(uint64(disp), arch.WIDTH_8)...)
	case MOD_DISP32:
		b.modrm = append(b.modrm, le(uint64(disp), arch.WIDTH_32)...)
	}
	return
}

// encode dispatches on the operation kind.
func (b *builder) encode(op cpu.Operation) (err error) {
	width := op.Width
	if width == 0 {
		width = arch.WIDTH_64
	}
	if !width.Valid() {
		return ErrWidth
	}

	switch op.Kind {
	case cpu.OP_NOP, cpu.OP_RET, cpu.OP_IRET, cpu.OP_HLT, cpu.OP_CLI, cpu.OP_STI:
		err = unused(op.Dst, op.Src)
		if err != nil {
			return
		}
		b.op(map[cpu.OpKind]uint8{
			cpu.OP_NOP:  OPCODE_NOP,
			cpu.OP_RET:  OPCODE_RET,
			cpu.OP_IRET: OPCODE_IRET,
			cpu.OP_HLT:  OPCODE_HLT,
			cpu.OP_CLI:  OPCODE_CLI,
			cpu.OP_STI:  OPCODE_STI,
		}[op.Kind])
	case cpu.OP_MOV:
		err = b.mov(op.Dst, op.Src, width)
	case cpu.OP_ADD, cpu.OP_OR, cpu.OP_AND, cpu.OP_SUB, cpu.OP_XOR, cpu.OP_CMP:
		err = b.alu(aluCode[op.Kind], op.Dst, op.Src, width)
	case cpu.OP_INC:
		err = unused(op.Src)
		if err != nil {
			return
		}
		if width == arch.WIDTH_8 {
			b.op(OPCODE_GROUP_INC8)
		} else {
			err = b.operandSize(width)
			if err != nil {
				return
			}
			b.op(OPCODE_GROUP_INC)
		}
		err = b.rm(GROUP_INC, op.Dst)
	case cpu.OP_JMP:
		err = b.branch(op, OPCODE_JMP8, []byte{OPCODE_JMP32}, GROUP_JMP)
	case cpu.OP_JZ:
		err = b.branch(op, OPCODE_JZ8, []byte{OPCODE_ESCAPE, ESCAPE_JZ32}, -1)
	case cpu.OP_JNZ:
		err = b.branch(op, OPCODE_JNZ8, []byte{OPCODE_ESCAPE, ESCAPE_JNZ32}, -1)
	case cpu.OP_CALL:
		err = b.branch(op, -1, []byte{OPCODE_CALL}, GROUP_CALL)
	case cpu.OP_PUSH:
		err = b.push(op)
	case cpu.OP_POP:
		err = unused(op.Src)
		if err != nil {
			return
		}
		if op.Dst.Kind == cpu.OPERAND_REGISTER {
			var low uint8
			low, err = b.register(op.Dst.Register, REX_B)
			b.op(OPCODE_POP + low)
			return
		}
		b.op(OPCODE_POP_RM)
		err = b.rm(0, op.Dst)
	case cpu.OP_IN:
		if op.Dst.Kind != cpu.OPERAND_REGISTER || op.Dst.Register != 0 {
			return ErrOperand
		}
		err = b.port(op.Src, width, OPCODE_IN8_IMM)
	case cpu.OP_OUT:
		if op.Src.Kind != cpu.OPERAND_REGISTER || op.Src.Register != 0 {
			return ErrOperand
		}
		err = b.port(op.Dst, width, OPCODE_OUT8_IMM)
	case cpu.OP_INT:
		err = unused(op.Dst)
		if err != nil {
			return
		}
		if op.Src.Kind != cpu.OPERAND_IMMEDIATE || op.Src.Value >= arch.VECTOR_COUNT {
			return ErrOperand
		}
		b.op(OPCODE_INT)
		b.imm = le(op.Src.Value, arch.WIDTH_8)
	case cpu.OP_LOAD_ROOT:
		err = unused(op.Dst)
		if err != nil {
			return
		}
		b.op(OPCODE_SYSTEM)
		err = b.rm(SYSTEM_LDROOT, op.Src)
	case cpu.OP_INVALIDATE:
		err = unused(op.Dst)
		if err != nil {
			return
		}
		if op.Src.Kind != cpu.OPERAND_MEMORY {
			return ErrOperand
		}
		b.op(OPCODE_SYSTEM)
		err = b.rm(SYSTEM_INVLPG, op.Src)
	case cpu.OP_LOAD_CONFIG:
		if op.Dst.Kind != cpu.OPERAND_IMMEDIATE || op.Dst.Value > 0xff {
			return ErrOperand
		}
		b.op(OPCODE_SYSTEM)
		err = b.rm(SYSTEM_WRCR, op.Src)
		b.imm = le(op.Dst.Value, arch.WIDTH_8)
	case cpu.OP_READ_CONFIG:
		if op.Src.Kind != cpu.OPERAND_IMMEDIATE || op.Src.Value > 0xff {
			return ErrOperand
		}
		b.op(OPCODE_SYSTEM)
		err = b.rm(SYSTEM_RDCR, op.Dst)
		b.imm = le(op.Src.Value, arch.WIDTH_8)
	default:
		err = ErrKind
	}

	return
}

// mov encodes the register, memory and immediate forms of MOV.
func (b *builder) mov(dst cpu.Operand, src cpu.Operand, width arch.Width) (err error) {
	byteCode := func(code8 uint8, code uint8) uint8 {
		if width == arch.WIDTH_8 {
			return code8
		}
		err = b.operandSize(width)
		return code
	}

	switch {
	case src.Kind == cpu.OPERAND_IMMEDIATE && dst.Kind == cpu.OPERAND_REGISTER:
		if !immediate(src.Value, width) {
			return ErrImmediate
		}
		var low uint8
		low, err = b.register(dst.Register, REX_B)
		if err != nil {
			return
		}
		b.op(byteCode(OPCODE_MOV_R8_IMM, OPCODE_MOV_R_IMM) + low)
		b.imm = le(src.Value, width)
	case src.Kind == cpu.OPERAND_IMMEDIATE && dst.Kind == cpu.OPERAND_MEMORY:
		size := min(width, arch.WIDTH_32)
		if !immediate(src.Value, width) || !fits(src.Value, size, width) {
			return ErrImmediate
		}
		b.op(byteCode(OPCODE_MOV_RM8_IMM, OPCODE_MOV_RM_IMM))
		b.imm = le(src.Value, size)
		if err != nil {
			return
		}
		err = b.rm(0, dst)
	case src.Kind == cpu.OPERAND_REGISTER:
		b.op(byteCode(OPCODE_MOV_RM8_R8, OPCODE_MOV_RM_R))
		if err != nil {
			return
		}
		err = b.rm(src.Register, dst)
	case src.Kind == cpu.OPERAND_MEMORY && dst.Kind == cpu.OPERAND_REGISTER:
		b.op(byteCode(OPCODE_MOV_R8_RM8, OPCODE_MOV_R_RM))
		if err != nil {
			return
		}
		err = b.rm(dst.Register, src)
	default:
		err = ErrOperand
	}
	return
}

// alu encodes an ALU operation with the register forms, or the group 1
// immediate forms.
func (b *builder) alu(code uint8, dst cpu.Operand, src cpu.Operand, width arch.Width) (err error) {
	full := uint8(1)
	if width == arch.WIDTH_8 {
		full = 0
	} else {
		err = b.operandSize(width)
		if err != nil {
			return
		}
	}

	switch {
	case src.Kind == cpu.OPERAND_IMMEDIATE:
		value := src.Value
		if !immediate(value, width) {
			return ErrImmediate
		}
		switch {
		case width == arch.WIDTH_8:
			b.op(OPCODE_GROUP1_IMM8)
			b.imm = le(value, arch.WIDTH_8)
		case !b.long && fits(value, arch.WIDTH_8, width):
			b.op(OPCODE_GROUP1_SIMM8)
			b.imm = le(value, arch.WIDTH_8)
		case width == arch.WIDTH_16:
			b.op(OPCODE_GROUP1_IMM)
			b.imm = le(value, arch.WIDTH_16)
		case fits(value, arch.WIDTH_32, width):
			b.op(OPCODE_GROUP1_IMM)
			b.imm = le(value, arch.WIDTH_32)
		default:
			return ErrImmediate
		}
		err = b.rm(int(code>>3), dst)
	case src.Kind == cpu.OPERAND_REGISTER:
		b.op(code + OPCODE_ALU_RM8_R8 + full)
		err = b.rm(src.Register, dst)
	case src.Kind == cpu.OPERAND_MEMORY && dst.Kind == cpu.OPERAND_REGISTER:
		b.op(code + OPCODE_ALU_R8_RM8 + full)
		err = b.rm(dst.Register, src)
	default:
		err = ErrOperand
	}
	return
}

// branch encodes a relative branch with its short or long opcode, or an
// indirect one through OPCODE_GROUP_INC. Negative short and group select
// forms the operation lacks.
func (b *builder) branch(op cpu.Operation, short int, long []byte, group int) (err error) {
	err = unused(op.Dst)
	if err != nil {
		return
	}

	switch op.Src.Kind {
	case cpu.OPERAND_RELATIVE:
		disp := int64(op.Src.Value)
		if short >= 0 && !b.long && disp == int64(int8(disp)) {
			b.op(uint8(short))
			b.imm = le(op.Src.Value, arch.WIDTH_8)
			return
		}
		if disp != int64(int32(disp)) {
			return ErrDisplacement
		}
		b.op(long...)
		b.imm = le(op.Src.Value, arch.WIDTH_32)
	case cpu.OPERAND_REGISTER, cpu.OPERAND_MEMORY:
		if group < 0 {
			return ErrOperand
		}
		b.op(OPCODE_GROUP_INC)
		err = b.rm(group, op.Src)
	default:
		err = ErrOperand
	}
	return
}

// push encodes the register, memory and immediate forms of PUSH.
func (b *builder) push(op cpu.Operation) (err error) {
	err = unused(op.Dst)
	if err != nil {
		return
	}

	switch op.Src.Kind {
	case cpu.OPERAND_REGISTER:
		var low uint8
		low, err = b.register(op.Src.Register, REX_B)
		b.op(OPCODE_PUSH + low)
	case cpu.OPERAND_MEMORY:
		b.op(OPCODE_GROUP_INC)
		err = b.rm(GROUP_PUSH, op.Src)
	case cpu.OPERAND_IMMEDIATE:
		switch {
		case !b.long && fits(op.Src.Value, arch.WIDTH_8, arch.WIDTH_64):
			b.op(OPCODE_PUSH_IMM8)
			b.imm = le(op.Src.Value, arch.WIDTH_8)
		case fits(op.Src.Value, arch.WIDTH_32, arch.WIDTH_64):
			b.op(OPCODE_PUSH_IMM32)
			b.imm = le(op.Src.Value, arch.WIDTH_32)
		default:
			err = ErrImmediate
		}
	default:
		err = ErrOperand
	}
	return
}

// port encodes IN and OUT, whose port is an 8 bit immediate or DX.
func (b *builder) port(port cpu.Operand, width arch.Width, code uint8) (err error) {
	switch width {
	case arch.WIDTH_8:
	case arch.WIDTH_16:
		b.size = true
		code |= 1
	case arch.WIDTH_32:
		code |= 1
	default:
		return ErrWidth
	}

	switch {
	case port.Kind == cpu.OPERAND_IMMEDIATE && port.Value <= 0xff:
		b.op(code)
		b.imm = le(port.Value, arch.WIDTH_8)
	case port.Kind == cpu.OPERAND_REGISTER && port.Register == REGISTER_DX:
		b.op(code | 0x08)
	default:
		err = ErrOperand
	}
	return
}
