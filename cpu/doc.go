// Package cpu implements the privilege and memory aware execution core of
// the x86rs processor.
//
// The core consists of the processor state (instruction pointer, sixteen
// 64-bit registers with r4 as the stack pointer, a 32-bit flags register and
// the current ring), the privilege state with its per-ring interrupt stack
// pointers, the interrupt/exception dispatcher and the fetch-execute loop.
// Every fetch, load and store is translated by an mmu.Mmu. Instruction
// encoding is left to a pluggable Decoder that produces abstract Operations.
package cpu
