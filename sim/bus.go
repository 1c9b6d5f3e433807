package sim

// Bus wires a Card to the GPIO-level bus contract the SPI master
// drives. It latches MOSI on each rising clock edge, shifts the card's
// output byte onto MISO MSB first, and hands the card one completed byte
// per eight clocks.
//
// While chip select is high the card is bypassed entirely: MISO floats
// high and clocked bytes go nowhere, which is what the warmup clocks and
// the deselect dummy byte rely on.
type Bus struct {
	Card *Card

	// DelayCount tallies DelayMicros calls so tests can assert on the
	// frequency tier in effect.
	DelayCount int

	sck  bool
	mosi bool
	cs   bool

	bitIndex int
	inShift  byte
	outShift byte
	miso     bool
}

// NewBus returns a bus with the card deselected and MISO pulled high.
func NewBus(card *Card) *Bus {
	return &Bus{Card: card, cs: true, miso: true}
}

func (bus *Bus) SetSCK(high bool) {
	if high && !bus.sck {
		bus.risingEdge()
	}
	bus.sck = high
}

func (bus *Bus) SetMOSI(high bool) { bus.mosi = high }

func (bus *Bus) SetCS(high bool) {
	if high == bus.cs {
		return
	}
	if high && bus.Card != nil {
		bus.Card.Deselected()
	}
	bus.cs = high
	bus.bitIndex = 0
	bus.inShift = 0
	bus.miso = true
}

func (bus *Bus) MISO() bool { return bus.miso }

func (bus *Bus) DelayMicros(us uint32) { bus.DelayCount++ }

func (bus *Bus) risingEdge() {
	selected := !bus.cs && bus.Card != nil

	if bus.bitIndex == 0 {
		bus.outShift = 0xFF
		if selected {
			bus.outShift = bus.Card.BeginByte()
		}
	}

	bus.miso = bus.outShift&0x80 != 0
	bus.outShift <<= 1

	bus.inShift <<= 1
	if bus.mosi {
		bus.inShift |= 1
	}

	bus.bitIndex++
	if bus.bitIndex == 8 {
		if selected {
			bus.Card.EndByte(bus.inShift)
		}
		bus.bitIndex = 0
		bus.inShift = 0
	}
}
