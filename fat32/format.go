package fat32

import (
	"encoding/binary"
	"fmt"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
)

// FormatConfig describes the geometry of a generated image. Zero fields
// take the defaults listed on each one.
type FormatConfig struct {
	// TotalSectors is the full image size. Default 2048 (1 MiB).
	TotalSectors uint32
	// SectorsPerCluster defaults to 1.
	SectorsPerCluster uint8
	// ReservedSectors defaults to 32.
	ReservedSectors uint16
	// NumFATs defaults to 2.
	NumFATs uint8
	// SectorsPerFAT defaults to 8.
	SectorsPerFAT uint32
	// PartitionStart, when nonzero, shifts the volume to that LBA and
	// puts a partition table in sector 0. The table carries no boot
	// signature, so mounting resolves it through the partition branch.
	PartitionStart uint32
}

// ApplyDefaults fills zero fields in place.
func (config *FormatConfig) ApplyDefaults() {
	if config.TotalSectors == 0 {
		config.TotalSectors = 2048
	}
	if config.SectorsPerCluster == 0 {
		config.SectorsPerCluster = 1
	}
	if config.ReservedSectors == 0 {
		config.ReservedSectors = 32
	}
	if config.NumFATs == 0 {
		config.NumFATs = 2
	}
	if config.SectorsPerFAT == 0 {
		config.SectorsPerFAT = 8
	}
}

// BuildImage renders a freshly formatted volume as an in-memory image:
// BPB, boot signature, and every FAT copy with the two reserved entries
// plus the root directory cluster primed. The root directory is empty.
//
// Only the fields this package's Mount consumes are populated; the image
// is for this layer and for tests, not for a general FAT implementation.
func BuildImage(config FormatConfig) ([]byte, error) {
	config.ApplyDefaults()

	if config.PartitionStart >= config.TotalSectors {
		return nil, fmt.Errorf(
			"partition start %d is past the end of a %d sector image",
			config.PartitionStart,
			config.TotalSectors,
		)
	}

	image := make([]byte, int(config.TotalSectors)*sdstress.SectorSize)

	boot := image[int(config.PartitionStart)*sdstress.SectorSize:]
	binary.LittleEndian.PutUint16(boot[bpbBytesPerSector:], sdstress.SectorSize)
	boot[bpbSectorsPerCluster] = config.SectorsPerCluster
	binary.LittleEndian.PutUint16(boot[bpbReservedSectors:], config.ReservedSectors)
	boot[bpbNumFATs] = config.NumFATs
	binary.LittleEndian.PutUint32(boot[bpbTotalSectors32:], config.TotalSectors-config.PartitionStart)
	binary.LittleEndian.PutUint32(boot[bpbSectorsPerFAT32:], config.SectorsPerFAT)
	binary.LittleEndian.PutUint32(boot[bpbRootCluster:], 2)
	boot[signatureOffset] = 0x55
	boot[signatureOffset+1] = 0xAA

	fatStart := config.PartitionStart + uint32(config.ReservedSectors)
	for copyIndex := uint32(0); copyIndex < uint32(config.NumFATs); copyIndex++ {
		fat := image[int(fatStart+copyIndex*config.SectorsPerFAT)*sdstress.SectorSize:]
		binary.LittleEndian.PutUint32(fat[0:], 0x0FFFFFF8) // media descriptor entry
		binary.LittleEndian.PutUint32(fat[4:], 0xFFFFFFFF) // reserved
		binary.LittleEndian.PutUint32(fat[8:], endOfChain) // root directory chain
	}

	if config.PartitionStart > 0 {
		binary.LittleEndian.PutUint32(image[mbrFirstPartitionLBA:], config.PartitionStart)
	}

	return image, nil
}
