package testing

import (
	"testing"

	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/blockdev"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sim"
)

// Rig bundles a simulated card, the bus it hangs off, and the image
// cache backing its sectors.
type Rig struct {
	Bus   *sim.Bus
	Card  *sim.Card
	Image *blockdev.SectorCache
}

// NewRig builds a ready-to-mount rig: a formatted image behind a sector
// cache, a version 2 card over it, and the bus. Tweak the card's version
// and fault fields before driving the bus.
func NewRig(t *testing.T, config fat32.FormatConfig) *Rig {
	cache, _, _ := NewImageDevice(t, config)
	card := sim.NewCard(cache)
	return &Rig{
		Bus:   sim.NewBus(card),
		Card:  card,
		Image: cache,
	}
}
