// Package spi implements a bit-banged SPI master, hardcoded to mode 0
// (clock idle low, sample on the rising edge), MSB first.
//
// Bus frequency is approximated by inserting software delays per half
// clock cycle, not by a calibrated clock: at or above 4 MHz no delay is
// inserted at all and the line simply runs as fast as the GPIO layer
// allows. Treat the configured frequency as an upper bound, never as a
// guarantee.
package spi

import (
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/hal"
)

// Delay tiers, in microseconds per half cycle.
const (
	tierSlowHz = 400_000
	tierMidHz  = 1_000_000
)

// Master drives a hal.Bus as an SPI mode-0 master.
type Master struct {
	bus    hal.Bus
	freqHz uint32
}

// New creates a Master over the given wiring. The bus is not touched until
// Configure is called.
func New(bus hal.Bus, freqHz uint32) *Master {
	return &Master{bus: bus, freqHz: freqHz}
}

// Configure drives every line to its idle level: MOSI high, clock low,
// chip deselected. It does not talk to the card.
func (m *Master) Configure() {
	m.bus.SetMOSI(true)
	m.bus.SetSCK(false)
	m.bus.SetCS(true)
}

// Frequency returns the currently configured bus frequency in Hz.
func (m *Master) Frequency() uint32 {
	return m.freqHz
}

// SetFrequency changes the delay tier used by subsequent transfers.
func (m *Master) SetFrequency(freqHz uint32) {
	m.freqHz = freqHz
}

// halfCycle waits out half a clock period for the current tier. Above
// 1 MHz nothing is inserted.
func (m *Master) halfCycle() {
	switch {
	case m.freqHz <= tierSlowHz:
		m.bus.DelayMicros(2)
	case m.freqHz <= tierMidHz:
		m.bus.DelayMicros(1)
	}
}

// Transfer clocks one byte out on MOSI while sampling one byte from MISO.
func (m *Master) Transfer(data byte) byte {
	var received byte

	for i := 0; i < 8; i++ {
		m.bus.SetMOSI(data&0x80 != 0)
		data <<= 1

		m.halfCycle()

		m.bus.SetSCK(true)
		received <<= 1
		if m.bus.MISO() {
			received |= 1
		}

		m.halfCycle()

		m.bus.SetSCK(false)
	}

	return received
}

// Select asserts chip select.
func (m *Master) Select() {
	m.bus.SetCS(false)
}

// Deselect releases chip select and clocks one dummy byte so the card can
// finish whatever it was doing internally.
func (m *Master) Deselect() {
	m.bus.SetCS(true)
	m.Transfer(0xFF)
}
