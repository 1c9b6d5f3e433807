// Package fat32 implements the minimal write-oriented slice of FAT32 this
// project needs: locating the volume, finding or creating one fixed file
// in the first root-directory sector, and appending bytes to it.
//
// It is deliberately not a general-purpose FAT driver. There is no free
// cluster search, no long file names, no directory chains and no second
// FAT copy maintenance; see the package's type docs for the exact
// restrictions each one carries.
package fat32

import (
	"encoding/binary"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
)

// Fixed BPB / MBR byte offsets. Only the fields the mount path needs are
// listed; everything else in the boot sector is ignored.
const (
	bpbBytesPerSector    = 0x0B // uint16
	bpbSectorsPerCluster = 0x0D // uint8
	bpbReservedSectors   = 0x0E // uint16
	bpbNumFATs           = 0x10 // uint8
	bpbTotalSectors32    = 0x20 // uint32
	bpbSectorsPerFAT32   = 0x24 // uint32
	bpbRootCluster       = 0x2C // uint32

	mbrFirstPartitionLBA = 0x1C6 // uint32, first partition entry only

	signatureOffset = 510 // 0x55 0xAA boot-sector trailer
)

// endOfChain is the FAT32 end-of-chain marker written for the log file's
// single cluster.
const endOfChain = 0x0FFFFFFF

// Volume is the parsed geometry of a mounted FAT32 volume. It is computed
// once per successful mount and immutable afterwards.
type Volume struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	SectorsPerFAT     uint32
	RootCluster       uint32
	TotalSectors      uint32

	// PartitionOffset is nonzero when sector 0 turned out to be an MBR
	// and the volume actually starts at the first partition's LBA.
	PartitionOffset uint32

	FATStartSector  uint32
	DataStartSector uint32
}

func hasBootSignature(sector []byte) bool {
	return sector[signatureOffset] == 0x55 && sector[signatureOffset+1] == 0xAA
}

// Mount reads the boot sector and derives the volume geometry.
//
// If sector 0 lacks the boot signature it is treated as a partition table:
// the 32-bit LBA of the first partition entry is followed, once. No other
// partition entries are examined. The sector at the target LBA must carry
// the signature or the mount fails.
//
// buf is the caller's shared sector buffer; its contents are garbage after
// this returns.
func Mount(dev sdstress.SectorDevice, buf *[sdstress.SectorSize]byte) (*Volume, error) {
	b := buf[:]
	if err := dev.ReadSector(0, b); err != nil {
		return nil, sdstress.ErrVolumeFailed.Wrap(err)
	}

	var partStart uint32
	if !hasBootSignature(b) {
		partStart = binary.LittleEndian.Uint32(b[mbrFirstPartitionLBA : mbrFirstPartitionLBA+4])
		if partStart == 0 {
			return nil, sdstress.ErrVolumeFailed.WithMessage(
				"sector 0 has neither a boot signature nor a first partition")
		}
		if err := dev.ReadSector(partStart, b); err != nil {
			return nil, sdstress.ErrVolumeFailed.Wrap(err)
		}
		if !hasBootSignature(b) {
			return nil, sdstress.ErrVolumeFailed.WithMessage(
				"first partition does not carry a boot signature")
		}
	}

	v := &Volume{
		BytesPerSector:    binary.LittleEndian.Uint16(b[bpbBytesPerSector:]),
		SectorsPerCluster: b[bpbSectorsPerCluster],
		ReservedSectors:   binary.LittleEndian.Uint16(b[bpbReservedSectors:]),
		NumFATs:           b[bpbNumFATs],
		SectorsPerFAT:     binary.LittleEndian.Uint32(b[bpbSectorsPerFAT32:]),
		RootCluster:       binary.LittleEndian.Uint32(b[bpbRootCluster:]),
		TotalSectors:      binary.LittleEndian.Uint32(b[bpbTotalSectors32:]),
		PartitionOffset:   partStart,
	}

	v.FATStartSector = partStart + uint32(v.ReservedSectors)
	v.DataStartSector = v.FATStartSector + uint32(v.NumFATs)*v.SectorsPerFAT
	return v, nil
}

// ClusterToSector converts a cluster number to its first absolute sector.
// Cluster numbering starts at 2, per FAT convention.
func (v *Volume) ClusterToSector(cluster uint32) uint32 {
	return v.DataStartSector + (cluster-2)*uint32(v.SectorsPerCluster)
}
