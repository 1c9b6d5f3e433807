// Package testing holds shared fixtures for exercising the card driver
// and the FAT layer without hardware: freshly formatted disk images and
// a simulated card rig.
//
// Import it aliased (the convention in this codebase is `sdtest`) to
// avoid colliding with the standard library's testing package.
package testing

import (
	"io"
	"testing"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/blockdev"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// NewFormattedImage builds an in-memory disk image holding one freshly
// formatted FAT32 volume, failing the test on a bad geometry.
func NewFormattedImage(t *testing.T, config fat32.FormatConfig) []byte {
	image, err := fat32.BuildImage(config)
	require.NoError(t, err, "building the test image failed")
	return image
}

// NewImageDevice wraps a formatted image in a write-back sector cache,
// giving tests a sector device plus the underlying stream and bytes for
// direct assertions after a Flush.
func NewImageDevice(
	t *testing.T, config fat32.FormatConfig,
) (*blockdev.SectorCache, io.ReadWriteSeeker, []byte) {
	image := NewFormattedImage(t, config)
	stream := bytesextra.NewReadWriteSeeker(image)
	cache := blockdev.WrapStream(stream, uint32(len(image)/sdstress.SectorSize))
	return cache, stream, image
}
