package cpu

import (
	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

const (
	SERVICE_LIMIT = 32 // Maximum tracked service nesting.
)

// Service is an active interrupt service routine.
type Service struct {
	Vector arch.Vector
	Ring   arch.Ring // Ring the routine runs in.
	Frame  uint64    // Stack pointer at the saved context frame.
}

// Services tracks nested service routines, innermost last. A routine that
// never returns is forgotten once the nesting exceeds SERVICE_LIMIT.
// Tracking is best effort: every IRET pops an entry, including one through
// a hand-built frame that no dispatch pushed, so after the limit has
// dropped entries the depth may read empty while a routine is still active.
type Services struct {
	Data []Service
}

func (s *Services) Push(value Service) {
	if s.Full() {
		copy(s.Data, s.Data[1:])
		s.Data = s.Data[:len(s.Data)-1]
	}
	s.Data = append(s.Data, value)
}

func (s *Services) Pop() (value Service, ok bool) {
	value, ok = s.Peek()
	if ok {
		s.Data = s.Data[:len(s.Data)-1]
	}
	return
}

func (s *Services) Empty() bool {
	return len(s.Data) == 0
}

func (s *Services) Full() bool {
	return len(s.Data) == SERVICE_LIMIT
}

func (s *Services) Peek() (value Service, ok bool) {
	if s.Empty() {
		return
	}

	return s.Data[len(s.Data)-1], true
}

func (s *Services) Reset() {
	if len(s.Data) > 0 {
		s.Data = s.Data[:0]
	}
}
