package fat32_test

import (
	"encoding/binary"
	"testing"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/blockdev"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
	sdtest "github.com/Di-Ny/heltec-ab0-sdcard-stress-test/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func TestVolume__Mount__DirectBootSector(t *testing.T) {
	device, _, _ := sdtest.NewImageDevice(t, fat32.FormatConfig{})
	var buf [sdstress.SectorSize]byte

	volume, err := fat32.Mount(device, &buf)
	require.NoError(t, err)

	assert.EqualValues(t, 512, volume.BytesPerSector)
	assert.EqualValues(t, 1, volume.SectorsPerCluster)
	assert.EqualValues(t, 32, volume.ReservedSectors)
	assert.EqualValues(t, 2, volume.NumFATs)
	assert.EqualValues(t, 8, volume.SectorsPerFAT)
	assert.EqualValues(t, 2, volume.RootCluster)
	assert.EqualValues(t, 2048, volume.TotalSectors)
	assert.EqualValues(t, 0, volume.PartitionOffset)
	assert.EqualValues(t, 32, volume.FATStartSector)
	assert.EqualValues(t, 48, volume.DataStartSector)
}

func TestVolume__Mount__BehindPartitionTable(t *testing.T) {
	device, _, _ := sdtest.NewImageDevice(
		t, fat32.FormatConfig{PartitionStart: 64},
	)
	var buf [sdstress.SectorSize]byte

	volume, err := fat32.Mount(device, &buf)
	require.NoError(t, err)

	assert.EqualValues(t, 64, volume.PartitionOffset)
	assert.EqualValues(t, 96, volume.FATStartSector)
	assert.EqualValues(t, 112, volume.DataStartSector)
	assert.EqualValues(t, 112, volume.ClusterToSector(2))
}

func rawDevice(totalSectors uint32) (*blockdev.SectorCache, []byte) {
	image := make([]byte, int(totalSectors)*sdstress.SectorSize)
	return blockdev.WrapStream(bytesextra.NewReadWriteSeeker(image), totalSectors), image
}

func TestVolume__Mount__BlankMediaFails(t *testing.T) {
	device, _ := rawDevice(16)
	var buf [sdstress.SectorSize]byte

	_, err := fat32.Mount(device, &buf)
	require.Error(t, err)
	assert.Equal(t, sdstress.CodeVolumeFailed, sdstress.CodeOf(err))
}

func TestVolume__Mount__PartitionWithoutSignatureFails(t *testing.T) {
	device, image := rawDevice(16)
	// A partition entry pointing at a sector that never carries the boot
	// signature.
	binary.LittleEndian.PutUint32(image[0x1C6:], 5)
	var buf [sdstress.SectorSize]byte

	_, err := fat32.Mount(device, &buf)
	require.Error(t, err)
	assert.Equal(t, sdstress.CodeVolumeFailed, sdstress.CodeOf(err))
}

func TestVolume__ClusterToSector__Geometry(t *testing.T) {
	device, _, _ := sdtest.NewImageDevice(
		t, fat32.FormatConfig{SectorsPerCluster: 4},
	)
	var buf [sdstress.SectorSize]byte

	volume, err := fat32.Mount(device, &buf)
	require.NoError(t, err)

	assert.Equal(t, volume.DataStartSector, volume.ClusterToSector(2))
	assert.Equal(t, volume.DataStartSector+4, volume.ClusterToSector(3))
	assert.Equal(t, volume.DataStartSector+8, volume.ClusterToSector(4))
}
