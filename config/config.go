// Package config describes a machine: paging, boot ring, physical memory
// layout and port devices. Machines are read from TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/device"
	"github.com/Daniel-Anker-Hermansen/x86rs/mmu"
)

const (
	MEMORY_RAM = "ram"
	MEMORY_ROM = "rom"

	DEVICE_CONSOLE = "console"
	DEVICE_TIMER   = "timer"

	DEFAULT_RAM_SIZE     = 0x100000
	DEFAULT_CONSOLE_PORT = 0x10
	DEFAULT_TLB_ENTRIES  = 64
)

// Memory is one physical memory range.
type Memory struct {
	Start uint64 `toml:"start"`
	Size  uint64 `toml:"size"`
	Type  string `toml:"type"`
	Path  string `toml:"path,omitempty"` // Image; required for rom, optional preload for ram.
}

// End returns the first address past the range.
func (mem Memory) End() uint64 {
	return mem.Start + mem.Size
}

// Device is one port device.
type Device struct {
	Type string `toml:"type"`
	Port uint16 `toml:"port"`
	Irq  uint8  `toml:"irq,omitempty"` // Timer only.
}

// Ports returns the number of consecutive ports the device occupies.
func (dev Device) Ports() int {
	switch dev.Type {
	case DEVICE_CONSOLE:
		return device.CONSOLE_PORTS
	case DEVICE_TIMER:
		return device.TIMER_PORTS
	}
	return 0
}

// Machine is a complete machine description.
type Machine struct {
	PagingLevels   int      `toml:"paging_levels"`
	HypervisorRing bool     `toml:"hypervisor_ring"`
	InitialRing    string   `toml:"initial_ring"`
	IdtBase        uint64   `toml:"idt_base"`
	TlbEntries     int      `toml:"tlb_entries"`
	TlbReplacement string   `toml:"tlb_replacement"`
	Memory         []Memory `toml:"memory"`
	Device         []Device `toml:"device"`

	// Dir resolves relative image paths. Set by Load.
	Dir string `toml:"-"`
}

// Default returns a usable machine: 1 MiB of RAM at address 0 and a console.
func Default() (m *Machine) {
	m = &Machine{
		PagingLevels:   mmu.LEVELS_4,
		InitialRing:    arch.RING_SUPERVISOR.String(),
		TlbEntries:     DEFAULT_TLB_ENTRIES,
		TlbReplacement: mmu.REPLACEMENT_LRU.String(),
		Memory: []Memory{
			{Start: 0, Size: DEFAULT_RAM_SIZE, Type: MEMORY_RAM},
		},
		Device: []Device{
			{Type: DEVICE_CONSOLE, Port: DEFAULT_CONSOLE_PORT},
		},
	}
	return
}

// decode fills in the keys of a TOML document over the defaults. Keys
// left out keep their default; unknown keys are an error.
func decode(md toml.MetaData, m *Machine) (err error) {
	def := Default()
	for key, apply := range map[string]func(){
		"paging_levels":   func() { m.PagingLevels = def.PagingLevels },
		"initial_ring":    func() { m.InitialRing = def.InitialRing },
		"tlb_entries":     func() { m.TlbEntries = def.TlbEntries },
		"tlb_replacement": func() { m.TlbReplacement = def.TlbReplacement },
		"memory":          func() { m.Memory = def.Memory },
		"device":          func() { m.Device = def.Device },
	} {
		if !md.IsDefined(key) {
			apply()
		}
	}

	undecoded := md.Undecoded()
	if len(undecoded) != 0 {
		var keys ErrUnknownKey
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		err = keys
	}
	return
}

// Parse reads a machine from TOML text.
func Parse(r io.Reader) (m *Machine, err error) {
	m = &Machine{}
	md, err := toml.NewDecoder(r).Decode(m)
	if err != nil {
		m = nil
		return
	}

	err = decode(md, m)
	if err != nil {
		m = nil
	}
	return
}

// Load reads a machine from a TOML file. Relative image paths are taken
// from the directory of the file.
func Load(path string) (m *Machine, err error) {
	m = &Machine{}
	md, err := toml.DecodeFile(path, m)
	if err != nil {
		m = nil
		return
	}

	err = decode(md, m)
	if err != nil {
		m = nil
		err = fmt.Errorf("%v: %w", path, err)
		return
	}

	m.Dir = filepath.Dir(path)
	return
}

// Encode writes the machine as TOML.
func (m *Machine) Encode(w io.Writer) (err error) {
	return toml.NewEncoder(w).Encode(m)
}

// Path resolves an image path against Dir.
func (m *Machine) Path(name string) string {
	if filepath.IsAbs(name) || len(m.Dir) == 0 {
		return name
	}
	return filepath.Join(m.Dir, name)
}

// Image reads the image of a memory range, or nil if it has none.
func (m *Machine) Image(mem Memory) (data []byte, err error) {
	if len(mem.Path) == 0 {
		return
	}
	return os.ReadFile(m.Path(mem.Path))
}

// Ring returns the boot ring.
func (m *Machine) Ring() (r arch.Ring, err error) {
	r, ok := arch.ParseRing(m.InitialRing)
	if !ok {
		err = &ErrConfig{Field: "initial_ring", Err: ErrRing}
	}
	return
}

// MmuOptions returns the translator options.
func (m *Machine) MmuOptions() (options mmu.Options, err error) {
	replacement, err := mmu.ParseReplacement(m.TlbReplacement)
	if err != nil {
		err = &ErrConfig{Field: "tlb_replacement", Err: ErrReplacement}
		return
	}

	options = mmu.Options{
		Levels:      m.PagingLevels,
		TlbEntries:  m.TlbEntries,
		Replacement: replacement,
	}
	return
}

// Validate reports every bad field, joined.
func (m *Machine) Validate() error {
	var errs []error
	bad := func(field string, err error) {
		errs = append(errs, &ErrConfig{Field: field, Err: err})
	}

	if m.PagingLevels != mmu.LEVELS_4 && m.PagingLevels != mmu.LEVELS_5 {
		bad("paging_levels", ErrLevels)
	}

	ring, err := m.Ring()
	if err != nil {
		errs = append(errs, err)
	} else if ring == arch.RING_HYPERVISOR && !m.HypervisorRing {
		bad("initial_ring", ErrHypervisor)
	}

	if m.TlbEntries < 0 {
		bad("tlb_entries", ErrTlbEntries)
	}

	_, err = mmu.ParseReplacement(m.TlbReplacement)
	if err != nil {
		bad("tlb_replacement", ErrReplacement)
	}

	if len(m.Memory) == 0 {
		bad("memory", ErrMemoryNone)
	}

	for n, mem := range m.Memory {
		field := fmt.Sprintf("memory[%d]", n)
		switch mem.Type {
		case MEMORY_RAM:
		case MEMORY_ROM:
			if len(mem.Path) == 0 {
				bad(field+".path", ErrMemoryPath)
			}
		default:
			bad(field+".type", ErrMemoryType)
		}
		if mem.Start&arch.PAGE_MASK != 0 {
			bad(field+".start", ErrMemoryAlign)
		}
		if mem.Size == 0 || mem.Size&arch.PAGE_MASK != 0 || mem.End() < mem.Start {
			bad(field+".size", ErrMemorySize)
			continue
		}
		for other, prior := range m.Memory[:n] {
			if prior.Size != 0 && mem.Start < prior.End() && prior.Start < mem.End() {
				bad(field, fmt.Errorf("%w: memory[%d]", ErrMemoryOverlap, other))
			}
		}
	}

	for n, dev := range m.Device {
		field := fmt.Sprintf("device[%d]", n)
		if dev.Ports() == 0 {
			bad(field+".type", ErrDeviceType)
			continue
		}
		if dev.Type == DEVICE_TIMER && arch.Vector(dev.Irq).Exception() {
			bad(field+".irq", ErrDeviceIrq)
		}
		for other, prior := range m.Device[:n] {
			lo, hi := int(dev.Port), int(dev.Port)+dev.Ports()
			if int(prior.Port) < hi && lo < int(prior.Port)+prior.Ports() {
				bad(field, fmt.Errorf("%w: device[%d]", ErrDeviceOverlap, other))
			}
		}
	}

	return errors.Join(errs...)
}

// String summarizes the machine on one line per component.
func (m *Machine) String() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("paging %d levels, %v ring, idt %#x, tlb %d %v",
		m.PagingLevels, m.InitialRing, m.IdtBase, m.TlbEntries, m.TlbReplacement))
	for _, mem := range m.Memory {
		line := fmt.Sprintf("%v %#x-%#x", mem.Type, mem.Start, mem.End()-1)
		if len(mem.Path) != 0 {
			line += " " + mem.Path
		}
		lines = append(lines, line)
	}
	sorted := slices.Clone(m.Device)
	slices.SortFunc(sorted, func(a, b Device) int { return int(a.Port) - int(b.Port) })
	for _, dev := range sorted {
		lines = append(lines, fmt.Sprintf("%v port %#x", dev.Type, dev.Port))
	}
	return strings.Join(lines, "\n")
}
