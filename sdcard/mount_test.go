package sdcard_test

import (
	"testing"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/blockdev"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sdcard"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func TestCard__Mount__StandardCapacityV2(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, nil)

	require.NoError(t, card.Mount(0))
	assert.True(t, card.IsMounted())

	info, err := card.CardInfo()
	require.NoError(t, err)
	assert.Equal(t, sdstress.CardSD2, info.Type)
	assert.EqualValues(t, 1, info.SizeMB, "2048 sectors is 1 MB")

	cmd16 := framesOf(rig, 16)
	require.Len(t, cmd16, 1, "standard capacity cards get a block length fix")
	assert.EqualValues(t, 512, cmd16[0].Arg)

	acmd41 := framesOf(rig, 41)
	require.NotEmpty(t, acmd41)
	assert.EqualValues(t, 0x40000000, acmd41[0].Arg, "v2 negotiation offers high capacity")
}

func TestCard__Mount__HighCapacity(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, func(simCard *sim.Card) {
		simCard.HighCapacity = true
	})

	require.NoError(t, card.Mount(0))

	info, err := card.CardInfo()
	require.NoError(t, err)
	assert.Equal(t, sdstress.CardSDHC, info.Type)
	assert.Empty(t, framesOf(rig, 16), "SDHC blocks are fixed at 512 already")
	assert.NotEmpty(t, framesOf(rig, 58), "capacity comes from the OCR")
}

func TestCard__Mount__LegacyV1(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, func(simCard *sim.Card) {
		simCard.Version = 1
	})

	require.NoError(t, card.Mount(0))

	info, err := card.CardInfo()
	require.NoError(t, err)
	assert.Equal(t, sdstress.CardSD1, info.Type)

	acmd41 := framesOf(rig, 41)
	require.NotEmpty(t, acmd41)
	assert.EqualValues(t, 0, acmd41[0].Arg, "v1 negotiation has no capacity bit")
	assert.Empty(t, framesOf(rig, 58), "the v1 path never reads the OCR")
}

func TestCard__Mount__CorruptCMD8Echo(t *testing.T) {
	card, _ := newTestCard(t, fat32.FormatConfig{}, func(simCard *sim.Card) {
		simCard.CMD8EchoCorrupt = true
	})

	err := card.Mount(0)
	require.Error(t, err)
	assert.Equal(t, sdstress.CodeCardTypeUnknown, sdstress.CodeOf(err))
	assert.False(t, card.IsMounted())
}

func TestCard__Mount__SlowInitEventuallyReady(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, func(simCard *sim.Card) {
		simCard.InitPolls = 5
	})

	require.NoError(t, card.Mount(0))
	assert.Len(t, framesOf(rig, 41), 6, "five busy rounds plus the ready one")
}

func TestCard__Mount__InitTimeoutAtCeiling(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, func(simCard *sim.Card) {
		simCard.InitPolls = 5000
	})

	err := card.Mount(0)
	require.Error(t, err)
	assert.Equal(t, sdstress.CodeInitFailed, sdstress.CodeOf(err))
	assert.Len(t, framesOf(rig, 41), 1000, "ACMD41 is bounded to 1000 attempts")
}

func TestCard__Mount__BlankMediaFailsVolumePhase(t *testing.T) {
	image := make([]byte, 64*sdstress.SectorSize)
	cache := blockdev.WrapStream(bytesextra.NewReadWriteSeeker(image), 64)
	card := sdcard.New(sim.NewBus(sim.NewCard(cache)))
	card.Init()

	err := card.Mount(0)
	require.Error(t, err)
	assert.Equal(t, sdstress.CodeVolumeFailed, sdstress.CodeOf(err))

	// Identification still completed, so the card info is available.
	info, err := card.CardInfo()
	require.NoError(t, err)
	assert.Equal(t, sdstress.CardSD2, info.Type)
	assert.EqualValues(t, 0, info.SizeMB, "no volume means no size")
}

func TestCard__Mount__RestoresOperatingFrequency(t *testing.T) {
	card, _ := newTestCard(t, fat32.FormatConfig{}, nil,
		sdcard.WithFrequency(1_000_000))

	require.NoError(t, card.Mount(0))
	assert.EqualValues(t, 1_000_000, card.Frequency(),
		"the 400 kHz identification speed must not leak out of Mount")
}

func TestCard__Mount__OverrideFrequencyForSession(t *testing.T) {
	card, _ := newTestCard(t, fat32.FormatConfig{}, nil)

	require.NoError(t, card.Mount(1_000_000))
	assert.EqualValues(t, 1_000_000, card.Frequency())
}

func TestCard__CardInfo__BeforeIdentificationFails(t *testing.T) {
	card, _ := newTestCard(t, fat32.FormatConfig{}, nil)

	_, err := card.CardInfo()
	require.Error(t, err)
	assert.Equal(t, sdstress.CodeInitFailed, sdstress.CodeOf(err))
}
