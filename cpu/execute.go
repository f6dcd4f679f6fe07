package cpu

import (
	"errors"
	"math/bits"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

// address computes the linear address of a memory operand.
func (cpu *Cpu) address(operand Operand, next uint64) (va uint64) {
	va = uint64(operand.Disp)
	if operand.RipRelative {
		va += next
	}
	if operand.Base != NO_REGISTER {
		va += cpu.state.Register[operand.Base]
	}
	if operand.Index != NO_REGISTER {
		va += cpu.state.Register[operand.Index] * uint64(operand.Scale)
	}
	return
}

// read the value of a source operand.
func (cpu *Cpu) read(operand Operand, width arch.Width, next uint64) (value uint64, err error) {
	switch operand.Kind {
	case OPERAND_REGISTER:
		value = cpu.state.Register[operand.Register] & width.Mask()
	case OPERAND_IMMEDIATE:
		value = operand.Value & width.Mask()
	case OPERAND_MEMORY:
		value, err = cpu.load(cpu.address(operand, next), width, arch.ACCESS_READ, cpu.state.Ring)
	default:
		err = ErrOperand
	}
	return
}

// writable returns true if the operand can be a destination.
func writable(operand Operand) bool {
	return operand.Kind == OPERAND_REGISTER || operand.Kind == OPERAND_MEMORY
}

// merge a register write. As on x86-64, 32-bit writes clear the upper half
// and narrower writes preserve it.
func merge(old uint64, value uint64, width arch.Width) uint64 {
	switch width {
	case arch.WIDTH_64:
		return value
	case arch.WIDTH_32:
		return value & 0xffff_ffff
	}
	return (old &^ width.Mask()) | (value & width.Mask())
}

// write a destination operand.
func (cpu *Cpu) write(operand Operand, width arch.Width, next uint64, value uint64) (err error) {
	switch operand.Kind {
	case OPERAND_REGISTER:
		reg := &cpu.state.Register[operand.Register]
		*reg = merge(*reg, value, width)
	case OPERAND_MEMORY:
		err = cpu.store(cpu.address(operand, next), width, value, cpu.state.Ring)
	default:
		err = ErrOperand
	}
	return
}

// target resolves a branch destination.
func (cpu *Cpu) target(operand Operand, next uint64) (ip uint64, err error) {
	switch operand.Kind {
	case OPERAND_RELATIVE:
		ip = next + operand.Value
	case OPERAND_IMMEDIATE:
		ip = operand.Value
	default:
		ip, err = cpu.read(operand, arch.WIDTH_64, next)
	}
	return
}

// port resolves an I/O port operand.
func (cpu *Cpu) port(operand Operand) (port uint16, err error) {
	switch operand.Kind {
	case OPERAND_IMMEDIATE:
		port = uint16(operand.Value)
	case OPERAND_REGISTER:
		port = uint16(cpu.state.Register[operand.Register])
	default:
		err = ErrOperand
	}
	return
}

// push a word onto the current stack.
func (cpu *Cpu) push(value uint64) (err error) {
	sp := cpu.state.Sp() - 8
	err = cpu.store(sp, arch.WIDTH_64, value, cpu.state.Ring)
	if err != nil {
		return
	}
	cpu.state.SetSp(sp)
	return
}

// pop a word from the current stack.
func (cpu *Cpu) pop() (value uint64, err error) {
	sp := cpu.state.Sp()
	value, err = cpu.load(sp, arch.WIDTH_64, arch.ACCESS_READ, cpu.state.Ring)
	if err != nil {
		return
	}
	cpu.state.SetSp(sp + 8)
	return
}

// doAlu performs the arithmetic or logic operation, returning the output
// value and the arithmetic flags it produces.
func doAlu(kind OpKind, input uint64, value uint64, width arch.Width) (output uint64, flags uint64) {
	mask := width.Mask()
	input &= mask
	value &= mask

	var carry bool
	switch kind {
	case OP_INC, OP_ADD:
		sum, c := bits.Add64(input, value, 0)
		output = sum & mask
		carry = c != 0 || sum > mask
	case OP_SUB, OP_CMP:
		output = (input - value) & mask
		carry = input < value
	case OP_AND:
		output = input & value
	case OP_OR:
		output = input | value
	case OP_XOR:
		output = input ^ value
	}

	if carry {
		flags |= arch.FLAG_CF
	}
	if output == 0 {
		flags |= arch.FLAG_ZF
	}
	if output&(uint64(1)<<(width.Bits()-1)) != 0 {
		flags |= arch.FLAG_SF
	}
	return
}

// execute applies one operation. The instruction pointer advances to next
// unless the operation redirects it; on error nothing has been modified.
func (cpu *Cpu) execute(op Operation, next uint64) (err error) {
	width := op.Width
	if width == 0 {
		width = arch.WIDTH_64
	}
	if !width.Valid() {
		return errors.Join(ErrDecodeFault, ErrWidth)
	}
	if !op.Dst.Valid() || !op.Src.Valid() {
		return errors.Join(ErrDecodeFault, ErrOperand)
	}

	next_ip := next
	var value uint64

	switch op.Kind {
	case OP_NOP:
		// pass
	case OP_MOV:
		value, err = cpu.read(op.Src, width, next)
		if err != nil {
			return
		}
		err = cpu.write(op.Dst, width, next, value)
	case OP_INC, OP_ADD, OP_SUB, OP_AND, OP_OR, OP_XOR, OP_CMP:
		var input uint64
		input, err = cpu.read(op.Dst, width, next)
		if err != nil {
			return
		}
		value = 1
		if op.Kind != OP_INC {
			value, err = cpu.read(op.Src, width, next)
			if err != nil {
				return
			}
		}
		output, flags := doAlu(op.Kind, input, value, width)
		if op.Kind != OP_CMP {
			err = cpu.write(op.Dst, width, next, output)
			if err != nil {
				return
			}
		}
		affected := arch.FLAG_ARITH
		if op.Kind == OP_INC {
			affected &^= arch.FLAG_CF
		}
		cpu.state.Flags = (cpu.state.Flags &^ affected) | (flags & affected)
	case OP_JMP:
		next_ip, err = cpu.target(op.Src, next)
	case OP_JZ, OP_JNZ:
		zero := cpu.state.Flags&arch.FLAG_ZF != 0
		if zero == (op.Kind == OP_JZ) {
			next_ip, err = cpu.target(op.Src, next)
		}
	case OP_CALL:
		next_ip, err = cpu.target(op.Src, next)
		if err != nil {
			return
		}
		err = cpu.push(next)
	case OP_RET:
		next_ip, err = cpu.pop()
	case OP_PUSH:
		value, err = cpu.read(op.Src, arch.WIDTH_64, next)
		if err != nil {
			return
		}
		err = cpu.push(value)
	case OP_POP:
		if !writable(op.Dst) {
			return errors.Join(ErrDecodeFault, ErrOperand)
		}
		sp := cpu.state.Sp()
		value, err = cpu.load(sp, arch.WIDTH_64, arch.ACCESS_READ, cpu.state.Ring)
		if err != nil {
			return
		}
		if op.Dst.Kind == OPERAND_MEMORY {
			err = cpu.write(op.Dst, arch.WIDTH_64, next, value)
			if err != nil {
				return
			}
			cpu.state.SetSp(sp + 8)
		} else {
			cpu.state.SetSp(sp + 8)
			err = cpu.write(op.Dst, arch.WIDTH_64, next, value)
		}
	case OP_IN:
		var port uint16
		port, err = cpu.port(op.Src)
		if err != nil {
			return
		}
		if op.Dst.Kind != OPERAND_REGISTER {
			return errors.Join(ErrDecodeFault, ErrOperand)
		}
		value = width.Mask()
		if cpu.Ports != nil {
			value = cpu.Ports.In(port, width)
		}
		err = cpu.write(op.Dst, width, next, value)
	case OP_OUT:
		var port uint16
		port, err = cpu.port(op.Dst)
		if err != nil {
			return
		}
		value, err = cpu.read(op.Src, width, next)
		if err != nil {
			return
		}
		if cpu.Ports != nil {
			cpu.Ports.Out(port, width, value)
		}
	case OP_INT:
		if op.Src.Kind != OPERAND_IMMEDIATE || op.Src.Value >= arch.VECTOR_COUNT {
			return errors.Join(ErrDecodeFault, ErrOperand)
		}
		v := arch.Vector(op.Src.Value)
		var desc Descriptor
		desc, err = cpu.descriptor(v)
		if err != nil {
			return
		}
		if !desc.Present || desc.Rpl.MorePrivileged(cpu.state.Ring) {
			return errors.Join(ErrGeneralProtection, ErrSoftwareGate)
		}
		return cpu.dispatch(&ErrFault{Vector: v, Ip: next, Err: ErrInterrupt})
	case OP_IRET:
		return cpu.iret()
	case OP_HLT:
		cpu.halted = true
	case OP_CLI:
		cpu.state.Flags &^= arch.FLAG_IF
	case OP_STI:
		cpu.state.Flags |= arch.FLAG_IF
	case OP_LOAD_ROOT:
		value, err = cpu.read(op.Src, arch.WIDTH_64, next)
		if err != nil {
			return
		}
		err = cpu.writeConfig(arch.CR_ROOT, value)
	case OP_LOAD_CONFIG:
		if op.Dst.Kind != OPERAND_IMMEDIATE || op.Dst.Value > 0xff {
			return errors.Join(ErrDecodeFault, ErrOperand)
		}
		value, err = cpu.read(op.Src, arch.WIDTH_64, next)
		if err != nil {
			return
		}
		err = cpu.writeConfig(arch.ConfigReg(op.Dst.Value), value)
		if err != nil {
			err = errors.Join(ErrGeneralProtection, err)
		}
	case OP_READ_CONFIG:
		if op.Src.Kind != OPERAND_IMMEDIATE || op.Src.Value > 0xff {
			return errors.Join(ErrDecodeFault, ErrOperand)
		}
		value, err = cpu.readConfig(arch.ConfigReg(op.Src.Value))
		if err != nil {
			return errors.Join(ErrGeneralProtection, err)
		}
		err = cpu.write(op.Dst, arch.WIDTH_64, next, value)
	case OP_INVALIDATE:
		if op.Src.Kind != OPERAND_MEMORY {
			return errors.Join(ErrDecodeFault, ErrOperand)
		}
		cpu.Mmu.Invalidate(cpu.address(op.Src, next))
	default:
		err = errors.Join(ErrDecodeFault, ErrOperand)
	}

	if err != nil {
		return
	}

	cpu.state.Ip = next_ip
	return
}
