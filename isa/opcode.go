// Package isa is the reference instruction encoding: a subset of the
// x86-64 byte encoding, plus a small group of system instructions at the
// otherwise invalid opcode 0x3f.
package isa

// Prefix bytes.
const (
	PREFIX_SIZE    = 0x66 // Operand size override, 32 to 16 bits.
	PREFIX_ADDRESS = 0x67 // Accepted and ignored.
	PREFIX_REX     = 0x40 // 0x40..0x4f
	PREFIX_LOCK    = 0xf0 // Unsupported.
	PREFIX_REPNE   = 0xf2 // Unsupported.
	PREFIX_REP     = 0xf3 // Unsupported.

	REX_W = 0x08 // 64 bit operand size.
	REX_R = 0x04 // ModRM reg extension.
	REX_X = 0x02 // SIB index extension.
	REX_B = 0x01 // ModRM r/m, SIB base or opcode register extension.
)

// Segment override prefixes, accepted and ignored.
var segmentPrefix = map[uint8]bool{
	0x26: true,
	0x2e: true,
	0x36: true,
	0x3e: true,
	0x64: true,
	0x65: true,
}

// Primary opcodes.
const (
	OPCODE_ALU_RM8_R8   = 0x00 // + ALU_*
	OPCODE_ALU_RM_R     = 0x01 // + ALU_*
	OPCODE_ALU_R8_RM8   = 0x02 // + ALU_*
	OPCODE_ALU_R_RM     = 0x03 // + ALU_*
	OPCODE_ESCAPE       = 0x0f // Two byte opcodes.
	OPCODE_SYSTEM       = 0x3f // /SYSTEM_*
	OPCODE_PUSH         = 0x50 // +r
	OPCODE_POP          = 0x58 // +r
	OPCODE_PUSH_IMM32   = 0x68
	OPCODE_PUSH_IMM8    = 0x6a
	OPCODE_JZ8          = 0x74
	OPCODE_JNZ8         = 0x75
	OPCODE_GROUP1_IMM8  = 0x80 // /ALU_* ib, byte operand
	OPCODE_GROUP1_IMM   = 0x81 // /ALU_* iw or id
	OPCODE_GROUP1_SIMM8 = 0x83 // /ALU_* ib, sign extended
	OPCODE_MOV_RM8_R8   = 0x88
	OPCODE_MOV_RM_R     = 0x89
	OPCODE_MOV_R8_RM8   = 0x8a
	OPCODE_MOV_R_RM     = 0x8b
	OPCODE_POP_RM       = 0x8f // /0
	OPCODE_NOP          = 0x90
	OPCODE_MOV_R8_IMM   = 0xb0 // +r ib
	OPCODE_MOV_R_IMM    = 0xb8 // +r iw, id or iq
	OPCODE_RET          = 0xc3
	OPCODE_MOV_RM8_IMM  = 0xc6 // /0 ib
	OPCODE_MOV_RM_IMM   = 0xc7 // /0 iw or id
	OPCODE_INT          = 0xcd
	OPCODE_IRET         = 0xcf
	OPCODE_IN8_IMM      = 0xe4
	OPCODE_IN_IMM       = 0xe5
	OPCODE_OUT8_IMM     = 0xe6
	OPCODE_OUT_IMM      = 0xe7
	OPCODE_CALL         = 0xe8
	OPCODE_JMP32        = 0xe9
	OPCODE_JMP8         = 0xeb
	OPCODE_IN8_DX       = 0xec
	OPCODE_IN_DX        = 0xed
	OPCODE_OUT8_DX      = 0xee
	OPCODE_OUT_DX       = 0xef
	OPCODE_HLT          = 0xf4
	OPCODE_CLI          = 0xfa
	OPCODE_STI          = 0xfb
	OPCODE_GROUP_INC8   = 0xfe // /0
	OPCODE_GROUP_INC    = 0xff // /GROUP_*
)

// Second bytes after OPCODE_ESCAPE.
const (
	ESCAPE_JZ32  = 0x84
	ESCAPE_JNZ32 = 0x85
)

// ALU operations. Added to the OPCODE_ALU_* opcodes, and shifted right by
// three as the ModRM reg field of the OPCODE_GROUP1_* opcodes.
const (
	ALU_ADD = 0x00
	ALU_OR  = 0x08
	ALU_AND = 0x20
	ALU_SUB = 0x28
	ALU_XOR = 0x30
	ALU_CMP = 0x38
)

// ModRM reg field of OPCODE_GROUP_INC.
const (
	GROUP_INC  = 0
	GROUP_CALL = 2
	GROUP_JMP  = 4
	GROUP_PUSH = 6
)

// ModRM reg field of OPCODE_SYSTEM.
const (
	SYSTEM_WRCR   = 0 // /0 ib: config register ib = r/m64
	SYSTEM_LDROOT = 1 // /1: page table root = r/m64
	SYSTEM_INVLPG = 2 // /2: invalidate the page of m
	SYSTEM_RDCR   = 3 // /3 ib: r/m64 = config register ib
)

// ModRM and SIB fields.
const (
	MOD_INDIRECT = 0
	MOD_DISP8    = 1
	MOD_DISP32   = 2
	MOD_REGISTER = 3

	RM_SIB    = 4 // r/m selects a SIB byte.
	RM_DISP32 = 5 // With MOD_INDIRECT: ip relative, or no SIB base.
	SIB_NONE  = 4 // SIB index: no index register.
)

// REGISTER_DX is the implicit port register of the DX forms of IN and OUT.
const REGISTER_DX = 2
