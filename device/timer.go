package device

import (
	"log"
	"sync"
	"time"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

// Timer raises Irq on Request after a programmed period. Ports
// TIMER_COUNTER..TIMER_COUNTER+3 hold the period in microseconds; writing
// TIMER_MODE cancels any running countdown and starts a new one if the mode
// has TIMER_PERIODIC or TIMER_ONESHOT set. A oneshot clears its mode bit once
// it fires.
type Timer struct {
	Verbose bool
	Irq     arch.Vector
	Request chan<- arch.Vector

	mutex   sync.Mutex
	counter uint32
	mode    uint8
	stop    chan struct{}
	running sync.WaitGroup
}

var _ Device = (*Timer)(nil)

// NewTimer creates a stopped timer.
func NewTimer(irq arch.Vector, request chan<- arch.Vector) (timer *Timer) {
	timer = &Timer{
		Irq:     irq,
		Request: request,
	}
	return
}

func (timer *Timer) In(port uint16) uint8 {
	timer.mutex.Lock()
	defer timer.mutex.Unlock()

	switch {
	case port < TIMER_MODE:
		return uint8(timer.counter >> (8 * (port - TIMER_COUNTER)))
	case port == TIMER_MODE:
		return timer.mode
	}
	return UNMAPPED
}

func (timer *Timer) Out(port uint16, value uint8) {
	timer.mutex.Lock()
	defer timer.mutex.Unlock()

	switch {
	case port < TIMER_MODE:
		shift := 8 * (port - TIMER_COUNTER)
		timer.counter = timer.counter&^(0xff<<shift) | uint32(value)<<shift
	case port == TIMER_MODE:
		timer.mode = value
		timer.cancel()
		if value&(TIMER_PERIODIC|TIMER_ONESHOT) != 0 {
			timer.start()
		}
	}
}

// Running returns true while a countdown is armed.
func (timer *Timer) Running() bool {
	timer.mutex.Lock()
	defer timer.mutex.Unlock()

	return timer.stop != nil
}

// cancel stops the countdown. Called with the mutex held.
func (timer *Timer) cancel() {
	if timer.stop == nil {
		return
	}
	close(timer.stop)
	timer.stop = nil
}

// start arms a countdown. Called with the mutex held.
func (timer *Timer) start() {
	period := time.Duration(timer.counter) * time.Microsecond
	if period == 0 {
		period = time.Microsecond
	}
	periodic := timer.mode&TIMER_PERIODIC != 0

	if timer.Verbose {
		log.Printf("timer: irq %v every %v (periodic %v)", timer.Irq, period, periodic)
	}

	stop := make(chan struct{})
	timer.stop = stop
	timer.running.Add(1)
	go timer.run(period, periodic, stop)
}

func (timer *Timer) run(period time.Duration, periodic bool, stop chan struct{}) {
	defer timer.running.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		select {
		case <-stop:
			return
		case timer.Request <- timer.Irq:
		}

		if !periodic {
			timer.mutex.Lock()
			if timer.stop == stop {
				timer.stop = nil
				timer.mode &^= TIMER_ONESHOT
			}
			timer.mutex.Unlock()
			return
		}
	}
}

// Close stops the timer and waits for its countdown to exit.
func (timer *Timer) Close() (err error) {
	timer.mutex.Lock()
	timer.cancel()
	timer.mutex.Unlock()

	timer.running.Wait()
	return
}
