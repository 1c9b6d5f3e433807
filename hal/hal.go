// Package hal defines the minimal GPIO capability the SD link needs. The
// protocol and volume layers never touch pins directly; they get a Bus
// injected at construction, which is what makes the whole stack runnable
// against a simulated card.
package hal

// Bus is a four-signal SPI wiring: clock, master-out, chip-select (active
// low) and master-in. DelayMicros is the timing primitive the link layer
// uses to approximate bus frequency; implementations that don't care about
// pacing (simulations) may make it a no-op.
type Bus interface {
	SetSCK(high bool)
	SetMOSI(high bool)
	SetCS(high bool)
	MISO() bool
	DelayMicros(us uint32)
}
