// Copyright 2025, Daniel Anker Hermansen

package emulator

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log"
	"maps"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
	"github.com/Daniel-Anker-Hermansen/x86rs/asm"
	"github.com/Daniel-Anker-Hermansen/x86rs/config"
	"github.com/Daniel-Anker-Hermansen/x86rs/cpu"
	"github.com/Daniel-Anker-Hermansen/x86rs/device"
	"github.com/Daniel-Anker-Hermansen/x86rs/internal"
	"github.com/Daniel-Anker-Hermansen/x86rs/isa"
	"github.com/Daniel-Anker-Hermansen/x86rs/memory"
	"github.com/Daniel-Anker-Hermansen/x86rs/mmu"
)

const (
	INTERRUPT_QUEUE = 64 // Interrupt requests buffered between ticks.
)

// ramChip is a RAM range and its preload image.
type ramChip struct {
	base  uint64
	ram   *memory.Ram
	image []byte
}

// Emulator state. CPU + physical memory + port devices.
type Emulator struct {
	Verbose  bool         // If set, enables verbose logging.
	*cpu.Cpu              // Reference to the CPU simulation.
	Program  *asm.Program // Reference to the currently loaded program listing.

	Machine *config.Machine // Description the emulator was built from.

	Bus     memory.Bus      // Physical address space.
	Io      device.Ports    // Port address space.
	Isa     isa.Decoder     // Instruction decoder.
	Console *device.Console // First console, or nil.

	Interrupt chan arch.Vector // External interrupt requests.

	rams    []ramChip
	timers  []*device.Timer
	defines map[string]string
}

// NewEmulator builds the machine described by m, or config.Default() if
// m is nil, and boots it.
func NewEmulator(m *config.Machine) (emu *Emulator, err error) {
	if m == nil {
		m = config.Default()
	}

	err = m.Validate()
	if err != nil {
		return
	}
	ring, err := m.Ring()
	if err != nil {
		return
	}
	options, err := m.MmuOptions()
	if err != nil {
		return
	}

	emu = &Emulator{
		Program:   &asm.Program{},
		Machine:   m,
		Interrupt: make(chan arch.Vector, INTERRUPT_QUEUE),
		defines: map[string]string{
			"IDT_BASE": fmt.Sprintf("0x%x", m.IdtBase),
		},
	}

	for n, mem := range m.Memory {
		var image []byte
		image, err = m.Image(mem)
		if err != nil {
			err = fmt.Errorf("memory[%d]: %w", n, err)
			return
		}
		if uint64(len(image)) > mem.Size {
			err = &memory.ErrRange{Base: mem.Start, Size: mem.Size, Err: memory.ErrTooLarge}
			return
		}

		var chip memory.Chip
		switch mem.Type {
		case config.MEMORY_RAM:
			ram := memory.NewRam()
			ram.Load(0, image)
			emu.rams = append(emu.rams, ramChip{base: mem.Start, ram: ram, image: image})
			chip = ram
		case config.MEMORY_ROM:
			chip = &memory.Rom{Data: image}
		}

		err = emu.Bus.Add(mem.Start, mem.Size, chip)
		if err != nil {
			return
		}
	}

	for _, dev := range m.Device {
		var port device.Device
		switch dev.Type {
		case config.DEVICE_CONSOLE:
			con := &device.Console{}
			if emu.Console == nil {
				emu.Console = con
				emu.defines["PORT_CONSOLE"] = fmt.Sprintf("0x%x", dev.Port)
			}
			port = con
		case config.DEVICE_TIMER:
			timer := device.NewTimer(arch.Vector(dev.Irq), emu.Interrupt)
			if len(emu.timers) == 0 {
				emu.defines["PORT_TIMER"] = fmt.Sprintf("0x%x", dev.Port)
				emu.defines["IRQ_TIMER"] = fmt.Sprintf("0x%x", dev.Irq)
			}
			emu.timers = append(emu.timers, timer)
			port = timer
		}

		err = emu.Io.Add(dev.Port, dev.Ports(), port)
		if err != nil {
			return
		}
	}

	translator, err := mmu.NewMmu(&emu.Bus, options)
	if err != nil {
		return
	}

	emu.Cpu = cpu.NewCpu(translator, &emu.Isa)
	emu.Cpu.Ports = &emu.Io
	emu.Cpu.InitialRing = ring
	emu.Cpu.IdtBase = m.IdtBase
	emu.Cpu.HypervisorRing = m.HypervisorRing

	err = emu.Cpu.Boot()
	return
}

// Defines returns an iterator over all of the defines
func (emu *Emulator) Defines() iter.Seq2[string, string] {
	return internal.IterSeq2Concat(maps.All(emu.defines),
		emu.Cpu.Defines(),
		device.Defines(),
	)
}

// Close the emulator, stopping the timers.
func (emu *Emulator) Close() (err error) {
	err = emu.Io.Close()

	return
}

// Load copies every opcode of the program to its physical address.
// Bytes landing in a ROM extend its image.
func (emu *Emulator) Load(prog *asm.Program) (err error) {
	for _, op := range prog.Opcodes {
		err = emu.LoadAt(op.Ip, op.Data)
		if err != nil {
			return
		}
	}

	return
}

// LoadAt copies data to physical memory at address.
func (emu *Emulator) LoadAt(address uint64, data []byte) (err error) {
	regions := emu.Bus.Regions()
	for n, value := range data {
		pa := address + uint64(n)
		var region *memory.Region
		for index := range regions {
			if regions[index].Contains(pa) {
				region = &regions[index]
				break
			}
		}
		if region == nil {
			err = &memory.ErrRange{Base: address, Size: uint64(len(data)), Err: ErrUnmapped}
			return
		}

		offset := pa - region.Base
		switch chip := region.Chip.(type) {
		case *memory.Rom:
			if offset >= uint64(len(chip.Data)) {
				chip.Data = append(chip.Data, make([]byte, offset+1-uint64(len(chip.Data)))...)
			}
			chip.Data[offset] = value
		default:
			chip.Poke(offset, value)
		}
	}

	return
}

// Reset restores the RAM preload images, loads the program and boots.
func (emu *Emulator) Reset() (err error) {
	emu.Cpu.Verbose = false

	for drained := false; !drained; {
		select {
		case <-emu.Interrupt:
		default:
			drained = true
		}
	}

	for _, chip := range emu.rams {
		chip.ram.Reset()
		chip.ram.Load(0, chip.image)
	}

	err = emu.Load(emu.Program)
	if err != nil {
		return
	}

	err = emu.Cpu.Boot()
	if err != nil {
		return
	}

	emu.Cpu.Verbose = emu.Verbose

	return
}

// Ticks returns the total ticks since a reset.
func (emu *Emulator) Ticks() int {
	return emu.Cpu.Ticks
}

// Ip returns current instruction pointer.
func (emu *Emulator) Ip() uint64 {
	return emu.Cpu.State().Ip
}

// Physical walks the page tables for va without touching the TLB.
func (emu *Emulator) Physical(va uint64) (pa uint64, ok bool) {
	entries := emu.Cpu.Mmu.Walk(va)
	if len(entries) != emu.Cpu.Mmu.Levels() || !entries[len(entries)-1].Present() {
		return
	}
	pa = entries[len(entries)-1].Frame() | va&arch.PAGE_MASK
	ok = true
	return
}

// LineNo returns the current line number for the executing opcode.
func (emu *Emulator) LineNo() int {
	pa, ok := emu.Physical(emu.Ip())
	if !ok {
		return 0
	}
	dbg := emu.Program.Debug(pa)
	if dbg.Opcode == nil {
		return 0
	}
	return dbg.LineNo
}

// ReadVirtual reads guest linear memory with supervisor privilege.
func (emu *Emulator) ReadVirtual(va uint64, width arch.Width) (value uint64, err error) {
	return emu.Cpu.Peek(va, width)
}

// ReadPhysical reads physical memory.
func (emu *Emulator) ReadPhysical(pa uint64, width arch.Width) (value uint64) {
	return emu.Bus.Read(pa, width)
}

// timing returns true while a timer may still raise an interrupt.
func (emu *Emulator) timing() bool {
	for _, timer := range emu.timers {
		if timer.Running() {
			return true
		}
	}
	return len(emu.Interrupt) != 0
}

// poll moves queued interrupt requests into the core.
func (emu *Emulator) poll() {
	for {
		select {
		case v := <-emu.Interrupt:
			emu.Cpu.InjectInterrupt(v)
		default:
			return
		}
	}
}

// Tick performs a single tick of the emulator. It is done once the core
// idles in HLT with no interrupt that could wake it.
func (emu *Emulator) Tick() (done bool, err error) {
	emu.Cpu.Verbose = emu.Verbose
	emu.Io.Verbose = emu.Verbose

	ip := emu.Ip()
	lineno := emu.LineNo()
	defer func() {
		if err != nil {
			err = &ErrRuntime{LineNo: lineno, Ip: ip, Err: err}
		}
	}()

	emu.poll()

	err = emu.Cpu.Step()
	if !errors.Is(err, cpu.ErrHalted) {
		return
	}
	err = nil

	if emu.Cpu.State().Flags&arch.FLAG_IF == 0 || !emu.timing() {
		done = true
		return
	}

	if emu.Verbose {
		log.Printf("emulator: idle at %v", emu.Cpu.Ticks)
	}

	// Sleep until a timer fires.
	emu.Cpu.InjectInterrupt(<-emu.Interrupt)

	return
}

// Save writes a snapshot of every RAM range, one directory per range.
func (emu *Emulator) Save(filesys memory.CreateFS) (err error) {
	for _, chip := range emu.rams {
		name := fmt.Sprintf("%016x.ram", chip.base)
		err = filesys.Mkdir(name, 0o755)
		if err != nil && !errors.Is(err, fs.ErrExist) {
			return
		}
		var sub memory.CreateFS
		sub, err = filesys.Sub(name)
		if err != nil {
			return
		}
		err = chip.ram.Marshal(sub)
		if err != nil {
			return
		}
	}

	return
}

// Restore loads a snapshot written by Save. Ranges missing from the
// snapshot are left as they are.
func (emu *Emulator) Restore(filesys fs.FS) (err error) {
	for _, chip := range emu.rams {
		name := fmt.Sprintf("%016x.ram", chip.base)
		var sub fs.FS
		sub, err = fs.Sub(filesys, name)
		if err != nil {
			return
		}
		err = chip.ram.Unmarshal(sub)
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
			continue
		}
		if err != nil {
			return
		}
	}

	return
}
