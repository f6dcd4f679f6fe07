package cpu

import (
	"fmt"
	"strings"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

// OpKind is an abstract operation produced by a Decoder.
type OpKind int

//go:generate go tool stringer -linecomment -type=OpKind
const (
	OP_NOP         = OpKind(iota) // nop
	OP_MOV                        // mov
	OP_INC                        // inc
	OP_ADD                        // add
	OP_SUB                        // sub
	OP_AND                        // and
	OP_OR                         // or
	OP_XOR                        // xor
	OP_CMP                        // cmp
	OP_JMP                        // jmp
	OP_JZ                         // jz
	OP_JNZ                        // jnz
	OP_CALL                       // call
	OP_RET                        // ret
	OP_PUSH                       // push
	OP_POP                        // pop
	OP_IN                         // in
	OP_OUT                        // out
	OP_INT                        // int
	OP_IRET                       // iret
	OP_HLT                        // hlt
	OP_CLI                        // cli
	OP_STI                        // sti
	OP_LOAD_ROOT                  // ldroot
	OP_LOAD_CONFIG                // wrcr
	OP_READ_CONFIG                // rdcr
	OP_INVALIDATE                 // invlpg
	OP_COUNT                      // count
)

// Privileged returns true if the operation may not be executed from the
// user ring.
func (kind OpKind) Privileged() bool {
	switch kind {
	case OP_IN, OP_OUT, OP_HLT, OP_CLI, OP_STI,
		OP_LOAD_ROOT, OP_LOAD_CONFIG, OP_READ_CONFIG, OP_INVALIDATE:
		return true
	}
	return false
}

// Branch returns true if the operation may redirect the instruction pointer.
func (kind OpKind) Branch() bool {
	switch kind {
	case OP_JMP, OP_JZ, OP_JNZ, OP_CALL, OP_RET, OP_INT, OP_IRET:
		return true
	}
	return false
}

// ParseOpKind finds the operation with the mnemonic name.
func ParseOpKind(name string) (kind OpKind, ok bool) {
	for kind = range OP_COUNT {
		if kind.String() == name {
			ok = true
			return
		}
	}
	return
}

// OperandKind selects how an Operand is interpreted.
type OperandKind int

const (
	OPERAND_NONE      = OperandKind(iota)
	OPERAND_REGISTER  // Register[Register]
	OPERAND_IMMEDIATE // Value
	OPERAND_MEMORY    // [Base + Index*Scale + Disp], or [next ip + Disp]
	OPERAND_RELATIVE  // next ip + Value, for branches
)

// NO_REGISTER marks an absent base or index register.
const NO_REGISTER = -1

// Operand is a source or destination of an Operation.
type Operand struct {
	Kind        OperandKind
	Register    int
	Base        int
	Index       int
	Scale       uint8
	Disp        int64
	RipRelative bool
	Value       uint64
}

// Reg is a register operand.
func Reg(n int) Operand {
	return Operand{Kind: OPERAND_REGISTER, Register: n}
}

// Imm is an immediate operand.
func Imm(value uint64) Operand {
	return Operand{Kind: OPERAND_IMMEDIATE, Value: value}
}

// Rel is a branch displacement from the next instruction.
func Rel(disp int64) Operand {
	return Operand{Kind: OPERAND_RELATIVE, Value: uint64(disp)}
}

// Mem is a memory operand [base + index*scale + disp]. Either register may
// be NO_REGISTER.
func Mem(base int, index int, scale uint8, disp int64) Operand {
	if scale == 0 {
		scale = 1
	}
	return Operand{Kind: OPERAND_MEMORY, Base: base, Index: index, Scale: scale, Disp: disp}
}

// Abs is an absolute memory operand [disp].
func Abs(disp int64) Operand {
	return Mem(NO_REGISTER, NO_REGISTER, 1, disp)
}

// IpRel is an instruction pointer relative memory operand [ip + disp].
func IpRel(disp int64) Operand {
	operand := Abs(disp)
	operand.RipRelative = true
	return operand
}

// Valid checks register numbers and scale.
func (operand Operand) Valid() bool {
	reg := func(n int, optional bool) bool {
		return (optional && n == NO_REGISTER) || (n >= 0 && n < arch.REGISTER_COUNT)
	}
	switch operand.Kind {
	case OPERAND_REGISTER:
		return reg(operand.Register, false)
	case OPERAND_MEMORY:
		if operand.RipRelative {
			return operand.Base == NO_REGISTER && operand.Index == NO_REGISTER
		}
		switch operand.Scale {
		case 1, 2, 4, 8:
		default:
			return false
		}
		return reg(operand.Base, true) && reg(operand.Index, true) && operand.Index != arch.REGISTER_SP
	}
	return true
}

func (operand Operand) String() string {
	switch operand.Kind {
	case OPERAND_REGISTER:
		return fmt.Sprintf("r%d", operand.Register)
	case OPERAND_IMMEDIATE:
		return fmt.Sprintf("0x%x", operand.Value)
	case OPERAND_RELATIVE:
		return fmt.Sprintf("ip%+d", int64(operand.Value))
	case OPERAND_MEMORY:
		var parts []string
		if operand.RipRelative {
			parts = append(parts, "ip")
		}
		if operand.Base != NO_REGISTER {
			parts = append(parts, fmt.Sprintf("r%d", operand.Base))
		}
		if operand.Index != NO_REGISTER {
			parts = append(parts, fmt.Sprintf("r%d*%d", operand.Index, operand.Scale))
		}
		text := strings.Join(parts, "+")
		switch {
		case text == "":
			text = fmt.Sprintf("0x%x", uint64(operand.Disp))
		case operand.Disp > 0:
			text += fmt.Sprintf("+0x%x", operand.Disp)
		case operand.Disp < 0:
			text += fmt.Sprintf("-0x%x", -operand.Disp)
		}
		return "[" + text + "]"
	}
	return ""
}

// Operation is one decoded instruction.
//
// Operand use by kind:
//   - MOV, ADD, SUB, AND, OR, XOR, CMP: Dst, Src.
//   - INC, POP: Dst.
//   - PUSH, JMP, JZ, JNZ, CALL, LOAD_ROOT, INVALIDATE: Src.
//   - INT: Src immediate vector.
//   - IN: Dst register, Src port (immediate or register).
//   - OUT: Dst port (immediate or register), Src register.
//   - LOAD_CONFIG: Dst immediate config register, Src value.
//   - READ_CONFIG: Dst, Src immediate config register.
type Operation struct {
	Kind  OpKind
	Width arch.Width
	Dst   Operand
	Src   Operand
}

func (op Operation) String() string {
	text := op.Kind.String()
	if op.Width != 0 && op.Width != arch.WIDTH_64 {
		text += "." + op.Width.Suffix()
	}
	var args []string
	for _, operand := range []Operand{op.Dst, op.Src} {
		if operand.Kind != OPERAND_NONE {
			args = append(args, operand.String())
		}
	}
	if len(args) > 0 {
		text += " " + strings.Join(args, ", ")
	}
	return text
}
