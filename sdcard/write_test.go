package sdcard_test

import (
	"strings"
	"testing"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sdcard"
	sdtest "github.com/Di-Ny/heltec-ab0-sdcard-stress-test/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallProbes keeps formatted rows short; the 128-byte line limit is
// tight when the header rides along.
var smallProbes = sdcard.WithProbes(sdstress.Probes{
	BatteryMillivolts: func() uint32 { return 33 },
	FreeHeapBytes:     func() uint32 { return 10 },
})

func totalWrites(rig *sdtest.Rig) int {
	total := 0
	for _, count := range rig.Card.WriteCounts {
		total += count
	}
	return total
}

// dataSector is where the log file's bytes land with the default image
// geometry: 32 reserved + 2 FATs of 8 sectors puts data at 48, and the
// file's cluster 3 is one cluster past the root directory.
const dataSector = 49

func TestCard__WriteCSVLine__HeaderThenRow(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, nil, smallProbes)
	require.NoError(t, card.Mount(0))

	result := sdstress.CycleResult{
		Success:         true,
		InitTimeMicros:  5,
		WriteTimeMicros: 2,
		SPIFreqHz:       4000000,
	}
	require.NoError(t, card.WriteCSVLine(1, result, 12))

	expected := sdstress.CSVHeader + "12,1,OK,0,5,2,4000000,33,10\n"
	var sector [sdstress.SectorSize]byte
	require.NoError(t, rig.Image.ReadSector(dataSector, sector[:]))
	assert.Equal(t, expected, string(sector[:len(expected)]))
	assert.Equal(t, make([]byte, sdstress.SectorSize-len(expected)),
		sector[len(expected):], "the rest of the sector stays zero")
}

func TestCard__WriteCSVLine__HeaderOnlyOnce(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, nil, smallProbes)
	require.NoError(t, card.Mount(0))

	result := sdstress.CycleResult{Success: true, SPIFreqHz: 4000000}
	require.NoError(t, card.WriteCSVLine(1, result, 10))
	require.NoError(t, card.WriteCSVLine(2, result, 20))

	var sector [sdstress.SectorSize]byte
	require.NoError(t, rig.Image.ReadSector(dataSector, sector[:]))
	text := string(sector[:])
	assert.Equal(t, 1, strings.Count(text, "timestamp_ms"))
	assert.Contains(t, text, "\n10,1,OK,0,0,0,4000000,33,10\n20,2,OK,0,0,0,4000000,33,10\n")
}

func TestCard__WriteCSVLine__FailedCycleRow(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, nil, smallProbes)
	require.NoError(t, card.Mount(0))

	result := sdstress.CycleResult{
		Success:   false,
		ErrorCode: sdstress.CodeInitFailed,
		SPIFreqHz: 400000,
	}
	require.NoError(t, card.WriteCSVLine(7, result, 99))

	var sector [sdstress.SectorSize]byte
	require.NoError(t, rig.Image.ReadSector(dataSector, sector[:]))
	assert.Contains(t, string(sector[:]), "99,7,FAIL,1,0,0,400000,33,10\n")
}

func TestCard__WriteCSVLine__OversizedLineRejectedBeforeIO(t *testing.T) {
	// Worst-case probe values push header plus row well past the limit.
	card, rig := newTestCard(t, fat32.FormatConfig{}, nil,
		sdcard.WithProbes(sdstress.Probes{
			BatteryMillivolts: func() uint32 { return ^uint32(0) },
			FreeHeapBytes:     func() uint32 { return ^uint32(0) },
		}),
	)
	require.NoError(t, card.Mount(0))
	writesAfterMount := totalWrites(rig)

	result := sdstress.CycleResult{
		Success:         true,
		InitTimeMicros:  ^uint32(0),
		WriteTimeMicros: ^uint32(0),
		SPIFreqHz:       ^uint32(0),
	}
	err := card.WriteCSVLine(^uint32(0), result, ^uint32(0))
	require.Error(t, err)
	assert.Equal(t, sdstress.CodeBufferOverflow, sdstress.CodeOf(err))
	assert.Equal(t, writesAfterMount, totalWrites(rig),
		"an oversized line must be rejected before any card traffic")
}

func TestCard__WriteCSVLine__UnmountedFails(t *testing.T) {
	card, _ := newTestCard(t, fat32.FormatConfig{}, nil)

	err := card.WriteCSVLine(1, sdstress.CycleResult{}, 0)
	require.Error(t, err)
	assert.Equal(t, sdstress.CodeMountFailed, sdstress.CodeOf(err))
}

func TestCard__WriteCSVLine__CursorSurvivesRemount(t *testing.T) {
	card, rig := newTestCard(t, fat32.FormatConfig{}, nil, smallProbes)
	result := sdstress.CycleResult{Success: true, SPIFreqHz: 4000000}

	require.NoError(t, card.Mount(0))
	require.NoError(t, card.WriteCSVLine(1, result, 10))
	require.NoError(t, card.WriteCSVLine(2, result, 20))
	require.NoError(t, card.Unmount())

	require.NoError(t, card.Mount(0))
	require.NoError(t, card.WriteCSVLine(3, result, 30))

	var buf [sdstress.SectorSize]byte
	volume, err := fat32.Mount(rig.Image, &buf)
	require.NoError(t, err)
	logFile, err := fat32.Lookup(rig.Image, volume, &buf)
	require.NoError(t, err)
	contents, err := logFile.Contents(rig.Image, &buf)
	require.NoError(t, err)

	text := string(contents)
	assert.Equal(t, 4, strings.Count(text, "\n"), "header plus three rows")
	assert.Equal(t, 1, strings.Count(text, "timestamp_ms"),
		"a remount must append, not restart the file")
	assert.True(t, strings.HasSuffix(text, "30,3,OK,0,0,0,4000000,33,10\n"))
}

func TestCard__WriteCSVLine__RecordsTiming(t *testing.T) {
	ticks := uint32(0)
	clock := func() uint32 {
		ticks += 100
		return ticks
	}
	card, _ := newTestCard(t, fat32.FormatConfig{}, nil, smallProbes,
		sdcard.WithClock(clock))

	require.NoError(t, card.Mount(0))
	assert.EqualValues(t, 100, card.LastInitMicros())

	require.NoError(t, card.WriteCSVLine(1, sdstress.CycleResult{Success: true}, 1))
	assert.EqualValues(t, 100, card.LastWriteMicros())
}

func TestCard__HealthCheck__MountedAndNot(t *testing.T) {
	card, _ := newTestCard(t, fat32.FormatConfig{}, nil)

	err := card.HealthCheck()
	require.Error(t, err)
	assert.Equal(t, sdstress.CodeMountFailed, sdstress.CodeOf(err))

	require.NoError(t, card.Mount(0))
	assert.NoError(t, card.HealthCheck())

	require.NoError(t, card.Unmount())
	assert.Error(t, card.HealthCheck())
}
