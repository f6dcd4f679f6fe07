package arch

import (
	"strconv"
)

// Ring is a privilege level. Lower values are more privileged.
type Ring int8

const (
	RING_HYPERVISOR = Ring(-1) // Reserved for a virtualization extension.
	RING_SUPERVISOR = Ring(0)
	RING_USER       = Ring(3)
)

// RING_COUNT is the number of defined rings.
const RING_COUNT = 3

// Valid returns true for the three defined rings.
func (r Ring) Valid() bool {
	switch r {
	case RING_HYPERVISOR, RING_SUPERVISOR, RING_USER:
		return true
	}
	return false
}

// MorePrivileged returns true if r is strictly more trusted than other.
func (r Ring) MorePrivileged(other Ring) bool {
	return r < other
}

// Index maps a valid ring onto 0..RING_COUNT-1 for per-ring register banks.
func (r Ring) Index() int {
	switch r {
	case RING_HYPERVISOR:
		return 0
	case RING_SUPERVISOR:
		return 1
	case RING_USER:
		return 2
	}
	panic("arch: invalid ring " + strconv.Itoa(int(r)))
}

// Scope is the translation cache scope: user accesses and privileged
// accesses never share a cached translation.
func (r Ring) Scope() Scope {
	if r == RING_USER {
		return SCOPE_USER
	}
	return SCOPE_PRIVILEGED
}

func (r Ring) String() string {
	switch r {
	case RING_HYPERVISOR:
		return "hypervisor"
	case RING_SUPERVISOR:
		return "supervisor"
	case RING_USER:
		return "user"
	}
	return "Ring(" + strconv.Itoa(int(r)) + ")"
}

// ParseRing parses the name of a ring as produced by Ring.String().
func ParseRing(name string) (r Ring, ok bool) {
	for _, r = range []Ring{RING_HYPERVISOR, RING_SUPERVISOR, RING_USER} {
		if r.String() == name {
			ok = true
			return
		}
	}
	r = 0
	return
}

// Scope is a TLB scope.
type Scope int

//go:generate go tool stringer -linecomment -type=Scope
const (
	SCOPE_PRIVILEGED = Scope(0) // privileged
	SCOPE_USER       = Scope(1) // user
)
