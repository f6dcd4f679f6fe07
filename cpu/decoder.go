package cpu

import (
	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

// MAX_INSTRUCTION is the longest instruction, in bytes, the core accepts.
const MAX_INSTRUCTION = 15

// ByteStream is a view of the instruction bytes at the instruction pointer.
// Each byte is fetched through the translator with fetch access at the
// current ring, so reading past a mapped page may fail with a page fault.
type ByteStream interface {
	Byte(offset uint64) (value uint8, err error)
}

// Decoder turns instruction bytes into an Operation and its length.
// Decoders should wrap ErrDecodeFault for unknown encodings, and return
// ByteStream errors unchanged.
type Decoder interface {
	Decode(stream ByteStream, ring arch.Ring) (op Operation, length uint64, err error)
}

// Ports is the port I/O space used by IN and OUT.
type Ports interface {
	In(port uint16, width arch.Width) (value uint64)
	Out(port uint16, width arch.Width, value uint64)
}

// fetchStream reads instruction bytes starting at ip.
type fetchStream struct {
	cpu *Cpu
	ip  uint64
}

func (stream *fetchStream) Byte(offset uint64) (value uint8, err error) {
	if offset >= MAX_INSTRUCTION {
		err = ErrLength
		return
	}
	v, err := stream.cpu.load(stream.ip+offset, arch.WIDTH_8, arch.ACCESS_FETCH, stream.cpu.state.Ring)
	value = uint8(v)
	return
}
