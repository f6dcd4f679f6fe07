package asm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/cpu"
)

func TestProgram_Debug(t *testing.T) {
	assert := assert.New(t)

	prog := &Program{
		Opcodes: []Opcode{
			{LineNo: 1, Ip: 0, Words: []string{"mov.d", "r0", "0x10"},
				Data: []byte{0xb8, 0x10, 0, 0, 0}},
			{LineNo: 2, Ip: 5, Words: []string{"inc", "r0"},
				Data: []byte{0x48, 0xff, 0xc0}},
			{LineNo: 3, Ip: 8, Words: []string{"hlt"},
				Data: []byte{0xf4}},
		},
	}

	dbg := prog.Debug(0)
	assert.NotNil(dbg.Opcode)
	assert.Equal(1, dbg.Opcode.LineNo)
	assert.Equal(0, dbg.Index)

	dbg = prog.Debug(4)
	assert.NotNil(dbg.Opcode)
	assert.Equal(1, dbg.Opcode.LineNo)
	assert.Equal(4, dbg.Index)

	dbg = prog.Debug(6)
	assert.NotNil(dbg.Opcode)
	assert.Equal(2, dbg.Opcode.LineNo)
	assert.Equal(1, dbg.Index)

	dbg = prog.Debug(8)
	assert.NotNil(dbg.Opcode)
	assert.Equal(3, dbg.Opcode.LineNo)
	assert.Equal(0, dbg.Index)
}

func TestProgram_Debug_NotFound(t *testing.T) {
	assert := assert.New(t)

	prog := &Program{
		Opcodes: []Opcode{
			{LineNo: 1, Ip: 0x100, Words: []string{"hlt"}, Data: []byte{0xf4}},
		},
	}

	dbg := prog.Debug(0x101)
	assert.Nil(dbg.Opcode)
	assert.Equal(0, dbg.Index)

	dbg = prog.Debug(0xff)
	assert.Nil(dbg.Opcode)
}

func TestProgram_Binary(t *testing.T) {
	assert := assert.New(t)

	prog := &Program{
		Opcodes: []Opcode{
			{LineNo: 1, Ip: 0x10, Data: []byte{0x90}},
			{LineNo: 2, Ip: 0x14, Data: []byte{0xc3}},
			{LineNo: 3, Ip: 0x11, Data: []byte{0xf4}},
		},
	}

	assert.Equal(uint64(0x10), prog.Origin())
	assert.Equal([]byte{0x90, 0xf4, 0, 0, 0xc3}, prog.Binary())
}

func TestProgram_Binary_Empty(t *testing.T) {
	assert := assert.New(t)

	prog := &Program{}

	assert.Equal(uint64(0), prog.Origin())
	assert.Empty(prog.Binary())
}

func TestProgram_Operations(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}
	prog, err := asm.Parse(strings.NewReader(strings.Join([]string{
		".org 0x40",
		"mov.w r1, 7",
		".byte 1, 2",
		"top: jmp top",
	}, "\n")))
	assert.NoError(err)

	var ips []uint64
	var ops []cpu.Operation
	for ip, op := range prog.Operations() {
		ips = append(ips, ip)
		ops = append(ops, op)
	}

	assert.Equal([]uint64{0x40, 0x46}, ips)
	assert.Equal([]cpu.Operation{
		{Kind: cpu.OP_MOV, Width: arch.WIDTH_16, Dst: cpu.Reg(1), Src: cpu.Imm(7)},
		{Kind: cpu.OP_JMP, Src: cpu.Rel(-5)},
	}, ops)
}

func TestProgram_Operations_EarlyReturn(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}
	prog, err := asm.Parse(strings.NewReader("nop\nnop\nnop\n"))
	assert.NoError(err)

	count := 0
	for range prog.Operations() {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(2, count)
}
