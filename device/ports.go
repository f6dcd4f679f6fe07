package device

import (
	"errors"
	"io"
	"log"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/cpu"
)

const PORT_COUNT = 0x10000

type binding struct {
	device Device
	offset uint16
}

// Ports is the port I/O space. Wide accesses are split into bytes on
// consecutive ports, least significant byte first.
type Ports struct {
	Verbose bool

	ports   map[uint16]binding
	devices []Device
}

var _ cpu.Ports = (*Ports)(nil)

// Add attaches a device to count ports starting at base.
func (p *Ports) Add(base uint16, count int, dev Device) (err error) {
	switch {
	case count <= 0:
		err = ErrPortEmpty
	case int(base)+count > PORT_COUNT:
		err = ErrPortRange
	default:
		for n := range count {
			if _, ok := p.ports[base+uint16(n)]; ok {
				err = ErrPortOverlap
				break
			}
		}
	}
	if err != nil {
		err = &ErrPort{Port: base, Count: count, Err: err}
		return
	}

	if p.ports == nil {
		p.ports = make(map[uint16]binding)
	}
	for n := range count {
		p.ports[base+uint16(n)] = binding{device: dev, offset: uint16(n)}
	}
	p.devices = append(p.devices, dev)

	return
}

// Devices returns the attached devices, in attach order.
func (p *Ports) Devices() []Device {
	return p.devices
}

func (p *Ports) in(port uint16) (value uint8) {
	bound, ok := p.ports[port]
	if !ok {
		return UNMAPPED
	}
	return bound.device.In(bound.offset)
}

func (p *Ports) out(port uint16, value uint8) {
	bound, ok := p.ports[port]
	if !ok {
		return
	}
	bound.device.Out(bound.offset, value)
}

// In reads width bytes from consecutive ports.
func (p *Ports) In(port uint16, width arch.Width) (value uint64) {
	for n := range int(width) {
		value |= uint64(p.in(port+uint16(n))) << (8 * n)
	}
	if p.Verbose {
		log.Printf("ports: in.%v %#04x = %#x", width, port, value)
	}
	return
}

// Out writes width bytes to consecutive ports.
func (p *Ports) Out(port uint16, width arch.Width, value uint64) {
	if p.Verbose {
		log.Printf("ports: out.%v %#04x, %#x", width, port, value)
	}
	for n := range int(width) {
		p.out(port+uint16(n), uint8(value>>(8*n)))
	}
}

// Close closes every device that is an io.Closer.
func (p *Ports) Close() (err error) {
	var errs []error
	for _, dev := range p.devices {
		if closer, ok := dev.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	err = errors.Join(errs...)
	return
}
