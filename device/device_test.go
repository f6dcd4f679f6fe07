package device

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

type mockDevice struct {
	in     map[uint16]uint8
	out    []uint16
	values []uint8
	closed bool
}

func (dev *mockDevice) In(port uint16) uint8 {
	return dev.in[port]
}

func (dev *mockDevice) Out(port uint16, value uint8) {
	dev.out = append(dev.out, port)
	dev.values = append(dev.values, value)
}

func (dev *mockDevice) Close() error {
	dev.closed = true
	return nil
}

func TestPorts_Add(t *testing.T) {
	assert := assert.New(t)

	p := &Ports{}
	assert.NoError(p.Add(0x10, 2, &mockDevice{}))
	assert.NoError(p.Add(0x12, 1, &mockDevice{}))
	assert.NoError(p.Add(0xffff, 1, &mockDevice{}))

	table := [](struct {
		base  uint16
		count int
		err   error
	}){
		{0x11, 1, ErrPortOverlap},
		{0x0f, 2, ErrPortOverlap},
		{0xfffe, 3, ErrPortRange},
		{0x20, 0, ErrPortEmpty},
	}

	for _, entry := range table {
		err := p.Add(entry.base, entry.count, &mockDevice{})
		assert.ErrorIs(err, entry.err, "%#x+%d", entry.base, entry.count)
		var perr *ErrPort
		if assert.True(errors.As(err, &perr)) {
			assert.Equal(entry.base, perr.Port)
		}
	}

	assert.Len(p.Devices(), 3)
}

func TestPorts_InOut(t *testing.T) {
	assert := assert.New(t)

	dev := &mockDevice{in: map[uint16]uint8{0: 0x11, 1: 0x22, 2: 0x33, 3: 0x44}}
	p := &Ports{}
	assert.NoError(p.Add(0x40, 4, dev))

	assert.Equal(uint64(0x11), p.In(0x40, arch.WIDTH_8))
	assert.Equal(uint64(0x3322), p.In(0x41, arch.WIDTH_16))
	assert.Equal(uint64(0x44332211), p.In(0x40, arch.WIDTH_32))
	// Ports past the device read as unmapped.
	assert.Equal(uint64(0xffff4433), p.In(0x42, arch.WIDTH_32))
	assert.Equal(uint64(0xff), p.In(0x1000, arch.WIDTH_8))

	p.Out(0x42, arch.WIDTH_32, 0xddccbbaa)
	assert.Equal([]uint16{2, 3}, dev.out)
	assert.Equal([]uint8{0xaa, 0xbb}, dev.values)

	// Unmapped writes are dropped.
	p.Out(0x1000, arch.WIDTH_64, ^uint64(0))
	assert.Len(dev.out, 2)
}

func TestPorts_Close(t *testing.T) {
	assert := assert.New(t)

	dev := &mockDevice{}
	p := &Ports{}
	assert.NoError(p.Add(0, 1, dev))
	assert.NoError(p.Add(1, 1, &Console{}))

	assert.NoError(p.Close())
	assert.True(dev.closed)
}

func TestConsole(t *testing.T) {
	assert := assert.New(t)

	output := &bytes.Buffer{}
	con := &Console{
		Input:  strings.NewReader("Hi"),
		Output: output,
	}

	p := &Ports{}
	assert.NoError(p.Add(0x10, CONSOLE_PORTS, con))

	assert.Equal(uint64('H'), p.In(0x10, arch.WIDTH_8))
	assert.Equal(uint64('i'), p.In(0x10, arch.WIDTH_8))
	assert.Equal(uint64(UNMAPPED), p.In(0x10, arch.WIDTH_8))

	p.Out(0x10, arch.WIDTH_8, 'o')
	p.Out(0x10, arch.WIDTH_8, 'k')
	assert.Equal("ok", output.String())
}

func TestConsole_Nil(t *testing.T) {
	assert := assert.New(t)

	con := &Console{}
	assert.Equal(uint8(UNMAPPED), con.In(0))
	con.Out(0, 'x')
}

func TestTimer_Counter(t *testing.T) {
	assert := assert.New(t)

	timer := NewTimer(0x20, nil)
	p := &Ports{}
	assert.NoError(p.Add(0x40, TIMER_PORTS, timer))

	p.Out(0x40, arch.WIDTH_32, 0x12345678)
	assert.Equal(uint64(0x12345678), p.In(0x40, arch.WIDTH_32))

	p.Out(0x41, arch.WIDTH_8, 0xab)
	assert.Equal(uint64(0x1234ab78), p.In(0x40, arch.WIDTH_32))
	assert.Equal(uint64(0), p.In(0x44, arch.WIDTH_8))
	assert.False(timer.Running())
}

func TestTimer_OneShot(t *testing.T) {
	assert := assert.New(t)

	request := make(chan arch.Vector, 4)
	timer := NewTimer(0x21, request)
	defer timer.Close()

	timer.Out(TIMER_COUNTER, 100)
	timer.Out(TIMER_MODE, TIMER_ONESHOT)

	select {
	case v := <-request:
		assert.Equal(arch.Vector(0x21), v)
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}

	assert.Eventually(func() bool { return !timer.Running() }, time.Second, time.Millisecond)

	// Expiry clears the mode, so a polling guest sees it disarmed.
	assert.Equal(uint8(0), timer.In(TIMER_MODE))
}

func TestTimer_Periodic(t *testing.T) {
	assert := assert.New(t)

	request := make(chan arch.Vector)
	timer := NewTimer(0x22, request)

	timer.Out(TIMER_COUNTER+0, 0xe8)
	timer.Out(TIMER_COUNTER+1, 0x03)
	timer.Out(TIMER_MODE, TIMER_PERIODIC)
	assert.True(timer.Running())

	for range 3 {
		select {
		case v := <-request:
			assert.Equal(arch.Vector(0x22), v)
		case <-time.After(5 * time.Second):
			t.Fatal("timer did not fire")
		}
	}

	// Mode zero disarms.
	timer.Out(TIMER_MODE, 0)
	assert.False(timer.Running())

	assert.NoError(timer.Close())
	assert.False(timer.Running())
}

func TestDefines(t *testing.T) {
	assert := assert.New(t)

	defines := map[string]string{}
	for key, value := range Defines() {
		defines[key] = value
	}

	assert.Equal("4", defines["TIMER_MODE"])
	assert.Equal("0x1", defines["TIMER_PERIODIC"])
}
