package sdcard_test

import (
	"testing"

	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sdcard"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sim"
	"github.com/stretchr/testify/assert"
)

func TestCard__ReduceFrequency__WalksLadderDown(t *testing.T) {
	card := sdcard.New(sim.NewBus(nil))
	assert.EqualValues(t, 4_000_000, card.Frequency())

	assert.True(t, card.ReduceFrequency())
	assert.EqualValues(t, 1_000_000, card.Frequency())

	assert.True(t, card.ReduceFrequency())
	assert.EqualValues(t, 400_000, card.Frequency())

	assert.False(t, card.ReduceFrequency(), "the bottom rung has nowhere to go")
	assert.EqualValues(t, 400_000, card.Frequency())
}

func TestCard__ResetFrequency__RestoresConfigured(t *testing.T) {
	card := sdcard.New(sim.NewBus(nil), sdcard.WithFrequency(1_000_000))

	card.ReduceFrequency()
	assert.EqualValues(t, 400_000, card.Frequency())

	card.ResetFrequency()
	assert.EqualValues(t, 1_000_000, card.Frequency())
}
