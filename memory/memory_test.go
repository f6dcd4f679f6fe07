package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

func TestRam(t *testing.T) {
	assert := assert.New(t)

	ram := NewRam()
	assert.Equal(uint64(0), ram.Read(0x1234, arch.WIDTH_64))

	ram.Write(0x1000, arch.WIDTH_32, 0x11223344)
	assert.Equal(uint8(0x44), ram.Peek(0x1000))
	assert.Equal(uint8(0x11), ram.Peek(0x1003))
	assert.Equal(uint64(0x3344), ram.Read(0x1000, arch.WIDTH_16))

	// Straddle a page boundary.
	ram.Write(0x1ffc, arch.WIDTH_64, 0x0102030405060708)
	assert.Equal(uint64(0x0102030405060708), ram.Read(0x1ffc, arch.WIDTH_64))

	count := 0
	for range ram.Pages() {
		count++
	}
	assert.Equal(2, count)

	ram.Reset()
	assert.Equal(uint64(0), ram.Read(0x1000, arch.WIDTH_32))
}

func TestRom(t *testing.T) {
	assert := assert.New(t)

	rom := &Rom{Data: []byte{1, 2, 3}}
	rom.Poke(0, 0xee)
	assert.Equal(uint8(1), rom.Peek(0))
	assert.Equal(uint8(0), rom.Peek(10))
}

func TestBus_Add(t *testing.T) {
	table := [](struct {
		base uint64
		size uint64
		err  error
	}){
		{0x1000, 0x1000, nil},
		{0x0000, 0x1000, nil},
		{0x1800, 0x1000, ErrOverlap},
		{0x0800, 0x0100, ErrOverlap},
		{0x4000, 0, ErrEmpty},
		{0xffff_ffff_ffff_f000, 0x2000, ErrOverflow},
		{0xffff_ffff_ffff_f000, 0x1000, nil},
	}

	assert := assert.New(t)

	bus := &Bus{}
	for n, entry := range table {
		err := bus.Add(entry.base, entry.size, NewRam())
		if entry.err == nil {
			assert.NoError(err, n)
		} else {
			assert.ErrorIs(err, entry.err, n)
		}
	}

	regions := bus.Regions()
	assert.Equal(3, len(regions))
	assert.Equal(uint64(0), regions[0].Base)
	assert.Equal(uint64(0x1000), regions[1].Base)
}

func TestBus_ReadWrite(t *testing.T) {
	assert := assert.New(t)

	bus := &Bus{}
	ram := NewRam()
	rom := &Rom{Data: []byte{0xaa, 0xbb}}
	assert.NoError(bus.Add(0x0000, 0x1000, ram))
	assert.NoError(bus.Add(0x2000, 0x1000, rom))

	bus.Write(0x10, arch.WIDTH_16, 0xbeef)
	assert.Equal(uint64(0xbeef), bus.Read(0x10, arch.WIDTH_16))
	assert.Equal(uint8(0xef), ram.Peek(0x10))

	// Offsets are chip relative.
	assert.Equal(uint64(0xbbaa), bus.Read(0x2000, arch.WIDTH_16))
	bus.Write(0x2000, arch.WIDTH_8, 0)
	assert.Equal(uint64(0xaa), bus.Read(0x2000, arch.WIDTH_8))

	// Unmapped reads as all ones, writes vanish.
	assert.Equal(uint64(0xffff_ffff), bus.Read(0x1000, arch.WIDTH_32))
	bus.Write(0x1000, arch.WIDTH_32, 0)
	assert.Equal(uint64(0xff), bus.Read(0x1000, arch.WIDTH_8))

	// Partially mapped access.
	assert.Equal(uint64(0xffff_0000), bus.Read(0x0ffe, arch.WIDTH_32))
}

func TestRam_Snapshot(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()

	ram := NewRam()
	ram.Write(0x0000, arch.WIDTH_64, 0x1122334455667788)
	ram.Write(0x5_0010, arch.WIDTH_8, 0x42)
	assert.NoError(ram.Marshal(DirFS(dir)))

	_, err := os.Stat(filepath.Join(dir, "0000000000050.page"))
	assert.NoError(err)

	// Stray files are ignored.
	assert.NoError(os.WriteFile(filepath.Join(dir, "README"), []byte("hi"), 0644))

	loaded := NewRam()
	assert.NoError(loaded.Unmarshal(os.DirFS(dir)))
	assert.Equal(uint64(0x1122334455667788), loaded.Read(0, arch.WIDTH_64))
	assert.Equal(uint64(0x42), loaded.Read(0x5_0010, arch.WIDTH_8))
}

func TestDirFS(t *testing.T) {
	assert := assert.New(t)

	dir := DirFS(t.TempDir())
	_, err := dir.Sub("missing")
	assert.Error(err)

	assert.NoError(dir.Mkdir("snap", 0755))
	sub, err := dir.Sub("snap")
	assert.NoError(err)

	file, err := sub.Create("a")
	assert.NoError(err)
	assert.NoError(file.Close())

	_, err = dir.Create("../escape")
	assert.Error(err)
}
