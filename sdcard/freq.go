package sdcard

// DefaultFrequencyHz is the bus frequency a Card starts at and returns to
// on ResetFrequency.
const DefaultFrequencyHz = 4_000_000

// initFrequencyHz is the mandatory identification speed. The mount
// sequence always drops to it regardless of the operating frequency.
const initFrequencyHz = 400_000

// freqTable is the fallback ladder, fastest first. ReduceFrequency walks
// down it one rung at a time.
var freqTable = [...]uint32{4_000_000, 1_000_000, 400_000}

// Frequency returns the current SPI bus frequency in Hz.
func (c *Card) Frequency() uint32 {
	return c.spi.Frequency()
}

// ReduceFrequency drops the bus to the next slower rung of the ladder.
// It reports false when the bus is already at the bottom, which is the
// caller's cue to stop retrying with fallback.
func (c *Card) ReduceFrequency() bool {
	current := c.spi.Frequency()
	for _, hz := range freqTable {
		if hz < current {
			c.spi.SetFrequency(hz)
			return true
		}
	}
	return false
}

// ResetFrequency restores the frequency the Card was constructed with.
func (c *Card) ResetFrequency() {
	c.spi.SetFrequency(c.configuredFreqHz)
}
