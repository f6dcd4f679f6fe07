package arch

// ConfigReg selects a configuration register for the write/read config
// register operations.
type ConfigReg uint8

//go:generate go tool stringer -linecomment -type=ConfigReg
const (
	CR_ISP_SUPERVISOR = ConfigReg(0) // isp.supervisor
	CR_ISP_USER       = ConfigReg(1) // isp.user
	CR_ISP_HYPERVISOR = ConfigReg(2) // isp.hypervisor
	CR_FAULT_ADDRESS  = ConfigReg(3) // fault
	CR_ROOT           = ConfigReg(4) // root
)

// InterruptStack returns the config register holding the interrupt stack
// pointer used when entering ring r.
func InterruptStack(r Ring) ConfigReg {
	switch r {
	case RING_HYPERVISOR:
		return CR_ISP_HYPERVISOR
	case RING_USER:
		return CR_ISP_USER
	}
	return CR_ISP_SUPERVISOR
}

// StackRing returns the ring whose interrupt stack the register holds.
func (cr ConfigReg) StackRing() (r Ring, ok bool) {
	switch cr {
	case CR_ISP_SUPERVISOR:
		return RING_SUPERVISOR, true
	case CR_ISP_USER:
		return RING_USER, true
	case CR_ISP_HYPERVISOR:
		return RING_HYPERVISOR, true
	}
	return
}

// Writable returns false for registers only the core itself updates.
func (cr ConfigReg) Writable() bool {
	return cr != CR_FAULT_ADDRESS && cr <= CR_ROOT
}
