package asm

import (
	"iter"
	"log"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/cpu"
)

// Opcode is one assembled instruction or data item.
type Opcode struct {
	LineNo    int            // Source line number.
	Ip        uint64         // Address of the first byte.
	Words     []string       // Source words, after expansion.
	Op        *cpu.Operation // Instruction, or nil for data.
	Data      []byte         // Encoded bytes.
	LinkLabel string         // Label resolved after parsing, if any.

	link   *cpu.Operand // Operand patched with the label.
	addend uint64       // Added to the label address.
}

// fixup patches the opcode with the address target and re-encodes it.
func (op *Opcode) fixup(target uint64) (err error) {
	if op.Op == nil {
		width := arch.Width(len(op.Data))
		if !fits(target, width) {
			err = ErrRange
			return
		}
		for n := range op.Data {
			op.Data[n] = uint8(target >> (8 * n))
		}
		return
	}

	next_ip := op.Ip + uint64(len(op.Data))
	switch {
	case op.link.Kind == cpu.OPERAND_RELATIVE:
		op.link.Value = target - next_ip
	case op.link.Kind == cpu.OPERAND_MEMORY && op.link.RipRelative:
		op.link.Disp = int64(target - next_ip)
	case op.link.Kind == cpu.OPERAND_MEMORY:
		op.link.Disp = int64(target)
	default:
		op.link.Value = target
	}

	data, err := linker.Encode(*op.Op)
	if err != nil {
		return
	}
	if len(data) != len(op.Data) {
		log.Fatalf("Link of line %d changed length: %v", op.LineNo, op.Words)
	}
	op.Data = data
	return
}

type Program struct {
	Opcodes []Opcode
}

type Debug struct {
	*Opcode
	Index int // Byte offset into the opcode.
}

// Debug finds the opcode covering the address ip.
func (prog *Program) Debug(ip uint64) (dbg Debug) {
	for n, op := range prog.Opcodes {
		if ip >= op.Ip && ip < op.Ip+uint64(len(op.Data)) {
			dbg = Debug{
				Opcode: &prog.Opcodes[n],
				Index:  int(ip - op.Ip),
			}
			break
		}
	}

	return
}

// Origin is the lowest address of the program.
func (prog *Program) Origin() (origin uint64) {
	first := true
	for _, op := range prog.Opcodes {
		if len(op.Data) == 0 {
			continue
		}
		if first || op.Ip < origin {
			origin = op.Ip
			first = false
		}
	}
	return
}

// Binary is the flat image of the program, starting at Origin. Gaps
// between opcodes are zero.
func (prog *Program) Binary() (data []byte) {
	origin := prog.Origin()
	for _, op := range prog.Opcodes {
		end := op.Ip - origin + uint64(len(op.Data))
		if end > uint64(len(data)) {
			data = append(data, make([]byte, end-uint64(len(data)))...)
		}
		copy(data[op.Ip-origin:], op.Data)
	}

	return
}

// Operations iterates over the instructions of the program, by address.
func (prog *Program) Operations() iter.Seq2[uint64, cpu.Operation] {
	return func(yield func(ip uint64, op cpu.Operation) bool) {
		for _, op := range prog.Opcodes {
			if op.Op == nil {
				continue
			}
			if !yield(op.Ip, *op.Op) {
				return
			}
		}
	}
}
