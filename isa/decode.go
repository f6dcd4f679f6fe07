package isa

import (
	"log"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/cpu"
)

// aluKind maps ALU_* onto operations.
var aluKind = map[uint8]cpu.OpKind{
	ALU_ADD: cpu.OP_ADD,
	ALU_OR:  cpu.OP_OR,
	ALU_AND: cpu.OP_AND,
	ALU_SUB: cpu.OP_SUB,
	ALU_XOR: cpu.OP_XOR,
	ALU_CMP: cpu.OP_CMP,
}

// Decoder decodes the reference encoding.
type Decoder struct {
	Verbose bool // Set to log every decoded instruction.
}

var _ cpu.Decoder = (*Decoder)(nil)

// prefix is the prefix state of an instruction. A REX prefix only counts
// if it immediately precedes the opcode.
type prefix struct {
	size bool
	rex  uint8
}

// ext returns 8 if the REX bit is set.
func (p prefix) ext(bit uint8) int {
	if p.rex&bit != 0 {
		return 8
	}
	return 0
}

// width is the operand size of the non-byte forms.
func (p prefix) width() arch.Width {
	switch {
	case p.rex&REX_W != 0:
		return arch.WIDTH_64
	case p.size:
		return arch.WIDTH_16
	}
	return arch.WIDTH_32
}

// reader fetches the bytes of one instruction.
type reader struct {
	stream cpu.ByteStream
	length uint64
	code   uint8 // Last byte read.
}

func (r *reader) next() (value uint8, err error) {
	if r.length >= cpu.MAX_INSTRUCTION {
		err = &ErrDecode{Offset: r.length, Err: ErrTooLong}
		return
	}

	value, err = r.stream.Byte(r.length)
	if err != nil {
		return
	}

	r.code = value
	r.length++
	return
}

// fail reports the last byte read as the offending one.
func (r *reader) fail(err error) error {
	return &ErrDecode{Offset: r.length - 1, Code: r.code, Err: err}
}

// unsigned reads a little endian immediate.
func (r *reader) unsigned(width arch.Width) (value uint64, err error) {
	for n := range uint64(width) {
		var b uint8
		b, err = r.next()
		if err != nil {
			return
		}
		value |= uint64(b) << (8 * n)
	}
	return
}

// signed reads a little endian immediate, sign extended to 64 bits.
func (r *reader) signed(width arch.Width) (value int64, err error) {
	raw, err := r.unsigned(width)
	if err != nil {
		return
	}
	shift := 64 - width.Bits()
	value = int64(raw<<shift) >> shift
	return
}

// modrm reads a ModRM byte, with any SIB byte and displacement. It returns
// the reg field and the r/m operand.
func (r *reader) modrm(p prefix) (reg int, rm cpu.Operand, err error) {
	b, err := r.next()
	if err != nil {
		return
	}

	mod := b >> 6
	low := b & 7
	reg = int(b>>3&7) | p.ext(REX_R)

	if mod == MOD_REGISTER {
		rm = cpu.Reg(int(low) | p.ext(REX_B))
		return
	}

	if mod == MOD_INDIRECT && low == RM_DISP32 {
		var disp int64
		disp, err = r.signed(arch.WIDTH_32)
		if err != nil {
			return
		}
		rm = cpu.IpRel(disp)
		return
	}

	base := int(low) | p.ext(REX_B)
	index := cpu.NO_REGISTER
	scale := uint8(1)
	if low == RM_SIB {
		var sib uint8
		sib, err = r.next()
		if err != nil {
			return
		}
		base = int(sib&7) | p.ext(REX_B)
		index = int(sib>>3&7) | p.ext(REX_X)
		scale = 1 << (sib >> 6)
		if index == SIB_NONE {
			index, scale = cpu.NO_REGISTER, 1
		}
		if mod == MOD_INDIRECT && sib&7 == RM_DISP32 {
			base = cpu.NO_REGISTER
			mod = MOD_DISP32
		}
	}

	var disp int64
	switch mod {
	case MOD_DISP8:
		disp, err = r.signed(arch.WIDTH_8)
	case MOD_DISP32:
		disp, err = r.signed(arch.WIDTH_32)
	}
	if err != nil {
		return
	}

	rm = cpu.Mem(base, index, scale, disp)
	return
}

// pair decodes the ModRM forms shared by MOV and the ALU operations. Bit 0
// of form selects the full width, bit 1 the register as destination.
func (r *reader) pair(op *cpu.Operation, p prefix, form uint8) (err error) {
	reg, rm, err := r.modrm(p)
	if err != nil {
		return
	}

	op.Width = arch.WIDTH_8
	if form&1 != 0 {
		op.Width = p.width()
	}

	if form&2 == 0 {
		op.Dst, op.Src = rm, cpu.Reg(reg)
	} else {
		op.Dst, op.Src = cpu.Reg(reg), rm
	}
	return
}

// relative reads a branch displacement.
func (r *reader) relative(op *cpu.Operation, kind cpu.OpKind, width arch.Width) (err error) {
	disp, err := r.signed(width)
	if err != nil {
		return
	}
	op.Kind = kind
	op.Src = cpu.Rel(disp)
	return
}

// Decode decodes one instruction. Errors from the stream, such as page
// faults on fetch, are returned as is; undecodable bytes are an *ErrDecode.
func (dec *Decoder) Decode(stream cpu.ByteStream, ring arch.Ring) (op cpu.Operation, length uint64, err error) {
	r := &reader{stream: stream}

	var p prefix
	var code uint8

prefixes:
	for {
		code, err = r.next()
		if err != nil {
			return
		}

		switch {
		case code == PREFIX_SIZE:
			p.size = true
			p.rex = 0
		case code == PREFIX_ADDRESS, segmentPrefix[code]:
			p.rex = 0
		case code == PREFIX_LOCK, code == PREFIX_REPNE, code == PREFIX_REP:
			err = r.fail(ErrPrefix)
			return
		case code&0xf0 == PREFIX_REX:
			p.rex = code
		default:
			break prefixes
		}
	}

	op, err = r.decode(p, code)
	if err != nil {
		return
	}

	length = r.length
	if dec.Verbose {
		log.Printf("isa: %v (%d bytes, %v)", op, length, ring)
	}
	return
}

// decode decodes the instruction following the prefixes.
func (r *reader) decode(p prefix, code uint8) (op cpu.Operation, err error) {
	width := p.width()

	if code < 0x40 && code&7 <= OPCODE_ALU_R_RM {
		kind, ok := aluKind[code&0x38]
		if !ok {
			err = r.fail(ErrOpcode)
			return
		}
		op.Kind = kind
		err = r.pair(&op, p, code&7)
		return
	}

	register := cpu.Reg(int(code&7) | p.ext(REX_B))
	switch code &^ 7 {
	case OPCODE_PUSH:
		op = cpu.Operation{Kind: cpu.OP_PUSH, Src: register}
		return
	case OPCODE_POP:
		op = cpu.Operation{Kind: cpu.OP_POP, Dst: register}
		return
	case OPCODE_MOV_R8_IMM:
		width = arch.WIDTH_8
		fallthrough
	case OPCODE_MOV_R_IMM:
		var value uint64
		value, err = r.unsigned(width)
		if err != nil {
			return
		}
		op = cpu.Operation{Kind: cpu.OP_MOV, Width: width, Dst: register, Src: cpu.Imm(value)}
		return
	}

	switch code {
	case OPCODE_NOP:
		op.Kind = cpu.OP_NOP
	case OPCODE_MOV_RM8_R8, OPCODE_MOV_RM_R, OPCODE_MOV_R8_RM8, OPCODE_MOV_R_RM:
		op.Kind = cpu.OP_MOV
		err = r.pair(&op, p, code&3)
	case OPCODE_GROUP1_IMM8, OPCODE_GROUP1_IMM, OPCODE_GROUP1_SIMM8:
		var reg int
		reg, op.Dst, err = r.modrm(p)
		if err != nil {
			return
		}
		kind, ok := aluKind[uint8(reg&7)<<3]
		if !ok {
			err = r.fail(ErrExtension)
			return
		}
		op.Kind = kind
		op.Width = width
		immediate := arch.WIDTH_8
		switch code {
		case OPCODE_GROUP1_IMM8:
			op.Width = arch.WIDTH_8
		case OPCODE_GROUP1_IMM:
			immediate = min(width, arch.WIDTH_32)
		}
		var value int64
		value, err = r.signed(immediate)
		if err != nil {
			return
		}
		op.Src = cpu.Imm(uint64(value) & op.Width.Mask())
	case OPCODE_MOV_RM8_IMM, OPCODE_MOV_RM_IMM:
		var reg int
		reg, op.Dst, err = r.modrm(p)
		if err != nil {
			return
		}
		if reg&7 != 0 {
			err = r.fail(ErrExtension)
			return
		}
		op.Kind = cpu.OP_MOV
		op.Width = width
		if code == OPCODE_MOV_RM8_IMM {
			op.Width = arch.WIDTH_8
		}
		var value int64
		value, err = r.signed(min(op.Width, arch.WIDTH_32))
		if err != nil {
			return
		}
		op.Src = cpu.Imm(uint64(value) & op.Width.Mask())
	case OPCODE_POP_RM:
		var reg int
		reg, op.Dst, err = r.modrm(p)
		if err != nil {
			return
		}
		if reg&7 != 0 {
			err = r.fail(ErrExtension)
			return
		}
		op.Kind = cpu.OP_POP
	case OPCODE_PUSH_IMM8, OPCODE_PUSH_IMM32:
		immediate := arch.WIDTH_32
		if code == OPCODE_PUSH_IMM8 {
			immediate = arch.WIDTH_8
		}
		var value int64
		value, err = r.signed(immediate)
		if err != nil {
			return
		}
		op = cpu.Operation{Kind: cpu.OP_PUSH, Src: cpu.Imm(uint64(value))}
	case OPCODE_JZ8:
		err = r.relative(&op, cpu.OP_JZ, arch.WIDTH_8)
	case OPCODE_JNZ8:
		err = r.relative(&op, cpu.OP_JNZ, arch.WIDTH_8)
	case OPCODE_JMP8:
		err = r.relative(&op, cpu.OP_JMP, arch.WIDTH_8)
	case OPCODE_JMP32:
		err = r.relative(&op, cpu.OP_JMP, arch.WIDTH_32)
	case OPCODE_CALL:
		err = r.relative(&op, cpu.OP_CALL, arch.WIDTH_32)
	case OPCODE_ESCAPE:
		var second uint8
		second, err = r.next()
		if err != nil {
			return
		}
		switch second {
		case ESCAPE_JZ32:
			err = r.relative(&op, cpu.OP_JZ, arch.WIDTH_32)
		case ESCAPE_JNZ32:
			err = r.relative(&op, cpu.OP_JNZ, arch.WIDTH_32)
		default:
			err = r.fail(ErrOpcode)
		}
	case OPCODE_RET:
		op.Kind = cpu.OP_RET
	case OPCODE_INT:
		var value uint64
		value, err = r.unsigned(arch.WIDTH_8)
		if err != nil {
			return
		}
		op = cpu.Operation{Kind: cpu.OP_INT, Src: cpu.Imm(value)}
	case OPCODE_IRET:
		op.Kind = cpu.OP_IRET
	case OPCODE_HLT:
		op.Kind = cpu.OP_HLT
	case OPCODE_CLI:
		op.Kind = cpu.OP_CLI
	case OPCODE_STI:
		op.Kind = cpu.OP_STI
	case OPCODE_IN8_IMM, OPCODE_IN_IMM, OPCODE_IN8_DX, OPCODE_IN_DX,
		OPCODE_OUT8_IMM, OPCODE_OUT_IMM, OPCODE_OUT8_DX, OPCODE_OUT_DX:
		op.Width = arch.WIDTH_8
		if code&1 != 0 {
			op.Width = arch.WIDTH_32
			if p.size {
				op.Width = arch.WIDTH_16
			}
		}
		port := cpu.Reg(REGISTER_DX)
		if code&0x08 == 0 {
			var value uint64
			value, err = r.unsigned(arch.WIDTH_8)
			if err != nil {
				return
			}
			port = cpu.Imm(value)
		}
		if code&0x02 == 0 {
			op.Kind = cpu.OP_IN
			op.Dst, op.Src = cpu.Reg(0), port
		} else {
			op.Kind = cpu.OP_OUT
			op.Dst, op.Src = port, cpu.Reg(0)
		}
	case OPCODE_GROUP_INC8, OPCODE_GROUP_INC:
		var reg int
		var rm cpu.Operand
		reg, rm, err = r.modrm(p)
		if err != nil {
			return
		}
		switch {
		case reg&7 == GROUP_INC:
			op = cpu.Operation{Kind: cpu.OP_INC, Width: width, Dst: rm}
			if code == OPCODE_GROUP_INC8 {
				op.Width = arch.WIDTH_8
			}
		case code == OPCODE_GROUP_INC && reg&7 == GROUP_CALL:
			op = cpu.Operation{Kind: cpu.OP_CALL, Src: rm}
		case code == OPCODE_GROUP_INC && reg&7 == GROUP_JMP:
			op = cpu.Operation{Kind: cpu.OP_JMP, Src: rm}
		case code == OPCODE_GROUP_INC && reg&7 == GROUP_PUSH:
			op = cpu.Operation{Kind: cpu.OP_PUSH, Src: rm}
		default:
			err = r.fail(ErrExtension)
		}
	case OPCODE_SYSTEM:
		var reg int
		var rm cpu.Operand
		reg, rm, err = r.modrm(p)
		if err != nil {
			return
		}
		switch reg & 7 {
		case SYSTEM_WRCR, SYSTEM_RDCR:
			var cr uint64
			cr, err = r.unsigned(arch.WIDTH_8)
			if err != nil {
				return
			}
			if reg&7 == SYSTEM_WRCR {
				op = cpu.Operation{Kind: cpu.OP_LOAD_CONFIG, Dst: cpu.Imm(cr), Src: rm}
			} else {
				op = cpu.Operation{Kind: cpu.OP_READ_CONFIG, Dst: rm, Src: cpu.Imm(cr)}
			}
		case SYSTEM_LDROOT:
			op = cpu.Operation{Kind: cpu.OP_LOAD_ROOT, Src: rm}
		case SYSTEM_INVLPG:
			if rm.Kind != cpu.OPERAND_MEMORY {
				err = r.fail(ErrMemory)
				return
			}
			op = cpu.Operation{Kind: cpu.OP_INVALIDATE, Src: rm}
		default:
			err = r.fail(ErrExtension)
		}
	default:
		err = r.fail(ErrOpcode)
	}

	return
}
