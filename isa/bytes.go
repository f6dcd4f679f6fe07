package isa

import (
	"github.com/Daniel-Anker-Hermansen/x86rs/cpu"
)

// Bytes is a cpu.ByteStream over a byte slice.
type Bytes []byte

var _ cpu.ByteStream = Bytes(nil)

func (b Bytes) Byte(offset uint64) (value uint8, err error) {
	if offset >= uint64(len(b)) {
		err = &ErrDecode{Offset: offset, Err: ErrTruncated}
		return
	}
	value = b[offset]
	return
}

// Disassemble decodes the instructions of data, stopping at the first
// undecodable one.
func Disassemble(data []byte) (ops []cpu.Operation, err error) {
	dec := &Decoder{}
	for len(data) > 0 {
		var op cpu.Operation
		var length uint64
		op, length, err = dec.Decode(Bytes(data), 0)
		if err != nil {
			return
		}
		ops = append(ops, op)
		data = data[length:]
	}
	return
}
