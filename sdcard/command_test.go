package sdcard_test

import (
	"testing"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sdcard"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sim"
	sdtest "github.com/Di-Ny/heltec-ab0-sdcard-stress-test/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCard wires a real driver over a simulated rig. tweak runs before
// any traffic so tests can set card version and fault fields.
func newTestCard(
	t *testing.T, config fat32.FormatConfig, tweak func(*sim.Card), options ...sdcard.Option,
) (*sdcard.Card, *sdtest.Rig) {
	rig := sdtest.NewRig(t, config)
	if tweak != nil {
		tweak(rig.Card)
	}
	card := sdcard.New(rig.Bus, options...)
	card.Init()
	return card, rig
}

func framesOf(rig *sdtest.Rig, cmd byte) []sim.CommandFrame {
	var matches []sim.CommandFrame
	for _, frame := range rig.Card.Frames {
		if frame.Cmd == cmd {
			matches = append(matches, frame)
		}
	}
	return matches
}

func TestCard__SendCommand__CRCLiterals(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, nil)
	require.NoError(t, card.Mount(0))

	cmd0 := framesOf(rig, 0)
	require.NotEmpty(t, cmd0)
	assert.EqualValues(t, 0, cmd0[0].Arg)
	assert.EqualValues(t, 0x95, cmd0[0].CRC, "CMD0 carries its precomputed CRC")

	cmd8 := framesOf(rig, 8)
	require.NotEmpty(t, cmd8)
	assert.EqualValues(t, 0x1AA, cmd8[0].Arg)
	assert.EqualValues(t, 0x87, cmd8[0].CRC, "CMD8 carries its precomputed CRC")

	for _, frame := range framesOf(rig, 55) {
		assert.EqualValues(t, 0xFF, frame.CRC, "everything else gets a dummy CRC")
	}
}

func TestCard__SendCommand__ACMDWrapsCMD55(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, nil)
	require.NoError(t, card.Mount(0))

	found := false
	for i, frame := range rig.Card.Frames {
		if frame.Cmd != 41 {
			continue
		}
		found = true
		require.Greater(t, i, 0)
		assert.EqualValues(t, 55, rig.Card.Frames[i-1].Cmd,
			"ACMD41 must ride directly behind CMD55")
	}
	assert.True(t, found, "the mount sequence must issue ACMD41")
}

func TestCard__SendCommand__SilentCardExhaustsRetries(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, func(simCard *sim.Card) {
		simCard.IgnoreCMD0 = true
	})

	err := card.Mount(0)
	require.Error(t, err)
	assert.Equal(t, sdstress.CodeInitFailed, sdstress.CodeOf(err))
	assert.Len(t, framesOf(rig, 0), 100, "CMD0 is bounded to 100 attempts")
	assert.False(t, card.IsMounted())
}
