package device

import (
	"io"
)

// Console is a byte stream on a single port. Reads take the next input
// byte, or UNMAPPED at end of input; writes go straight to Output.
type Console struct {
	Input  io.Reader
	Output io.Writer
}

var _ Device = (*Console)(nil)

func (con *Console) In(port uint16) uint8 {
	if con.Input == nil {
		return UNMAPPED
	}

	var one [1]byte
	_, err := io.ReadFull(con.Input, one[:])
	if err != nil {
		return UNMAPPED
	}
	return one[0]
}

func (con *Console) Out(port uint16, value uint8) {
	if con.Output == nil {
		return
	}
	con.Output.Write([]byte{value})
}
