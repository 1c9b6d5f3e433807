package fat32

import (
	"encoding/binary"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
)

// Name11 is the fixed 8.3 directory name of the log file, space padded the
// way it is stored on disk ("SD_TEST.CSV").
const Name11 = "SD_TEST CSV"

// Directory entry layout, 32 bytes per entry.
const (
	direntSize        = 32
	direntsPerSector  = sdstress.SectorSize / direntSize
	direntAttributes  = 0x0B
	direntClusterHigh = 0x14 // uint16, high half of the start cluster
	direntClusterLow  = 0x1A // uint16, low half
	direntFileSize    = 0x1C // uint32

	attrArchive = 0x20

	entryEndOfDirectory = 0x00
	entryDeleted        = 0xE5
)

// fixedStartCluster is where a freshly created log file lives. The cluster
// is not allocated from a free-cluster search; it is a hard constraint of
// this layer and only safe on small or freshly formatted volumes.
const fixedStartCluster = 3

// Cursor tracks where the next appended byte lands.
type Cursor struct {
	NextSector uint32
	ByteOffset uint16 // 0..511
}

// File is the one append-only log file. It is obtained from OpenOrCreate
// or Lookup and stays valid until the card is unmounted.
type File struct {
	vol *Volume

	StartCluster  uint32
	Size          uint32
	Cursor        Cursor
	HeaderWritten bool

	dirSector uint32
	dirIndex  int
}

// scanRootSector reads the single root-directory sector and scans its 16
// entries for Name11. It returns the matching entry index, or -1 plus the
// first free slot (-1 when the sector is packed). Walking further
// directory sectors or clusters is out of scope by design; the scan is
// only valid on volumes whose root directory still fits one sector.
func scanRootSector(b []byte) (matchIndex, freeIndex int) {
	matchIndex, freeIndex = -1, -1

	for i := 0; i < direntsPerSector; i++ {
		entry := b[i*direntSize : (i+1)*direntSize]

		if entry[0] == entryEndOfDirectory {
			if freeIndex < 0 {
				freeIndex = i
			}
			return
		}
		if entry[0] == entryDeleted {
			if freeIndex < 0 {
				freeIndex = i
			}
			continue
		}
		if string(entry[:11]) == Name11 {
			matchIndex = i
			return
		}
	}
	return
}

func fileFromEntry(vol *Volume, b []byte, index int, rootSector uint32) *File {
	entry := b[index*direntSize:]
	startCluster := uint32(binary.LittleEndian.Uint16(entry[direntClusterLow:])) |
		uint32(binary.LittleEndian.Uint16(entry[direntClusterHigh:]))<<16
	size := binary.LittleEndian.Uint32(entry[direntFileSize:])

	return &File{
		vol:          vol,
		StartCluster: startCluster,
		Size:         size,
		Cursor: Cursor{
			NextSector: vol.ClusterToSector(startCluster) + size/sdstress.SectorSize,
			ByteOffset: uint16(size % sdstress.SectorSize),
		},
		HeaderWritten: true,
		dirSector:     rootSector,
		dirIndex:      index,
	}
}

// Lookup finds the log file without creating it. It fails with the
// file-open error when the single scanned sector has no matching entry.
func Lookup(dev sdstress.SectorDevice, vol *Volume, buf *[sdstress.SectorSize]byte) (*File, error) {
	rootSector := vol.ClusterToSector(vol.RootCluster)
	b := buf[:]
	if err := dev.ReadSector(rootSector, b); err != nil {
		return nil, sdstress.ErrFileOpenFailed.Wrap(err)
	}

	match, _ := scanRootSector(b)
	if match < 0 {
		return nil, sdstress.ErrFileOpenFailed.WithMessage(Name11 + " not found in root directory")
	}
	return fileFromEntry(vol, b, match, rootSector), nil
}

// OpenOrCreate finds the log file, or creates it in the first free slot of
// the scanned sector when absent.
//
// Creation writes a fresh entry with start cluster 3 and size 0, marks
// cluster 3 end-of-chain in the first FAT copy only (a second copy, if
// present, is knowingly left stale) and persists both sectors. It fails
// when the scanned sector has neither a match nor a free slot.
func OpenOrCreate(dev sdstress.SectorDevice, vol *Volume, buf *[sdstress.SectorSize]byte) (*File, error) {
	rootSector := vol.ClusterToSector(vol.RootCluster)
	b := buf[:]
	if err := dev.ReadSector(rootSector, b); err != nil {
		return nil, sdstress.ErrFileOpenFailed.Wrap(err)
	}

	match, free := scanRootSector(b)
	if match >= 0 {
		return fileFromEntry(vol, b, match, rootSector), nil
	}
	if free < 0 {
		return nil, sdstress.ErrFileOpenFailed.WithMessage(
			"no free entry in the root directory sector")
	}

	entry := b[free*direntSize : (free+1)*direntSize]
	for i := range entry {
		entry[i] = 0
	}
	copy(entry, Name11)
	entry[direntAttributes] = attrArchive
	binary.LittleEndian.PutUint16(entry[direntClusterHigh:], uint16(fixedStartCluster>>16))
	binary.LittleEndian.PutUint16(entry[direntClusterLow:], uint16(fixedStartCluster&0xFFFF))
	// Size bytes are already zero.

	if err := dev.WriteSector(rootSector, b); err != nil {
		return nil, sdstress.ErrFileOpenFailed.Wrap(err)
	}

	// Mark the cluster end-of-chain in the first FAT copy. Entry 3 sits in
	// the FAT's first sector for any sane geometry (offset 12).
	if err := dev.ReadSector(vol.FATStartSector, b); err != nil {
		return nil, sdstress.ErrFileOpenFailed.Wrap(err)
	}
	fatOffset := (fixedStartCluster * 4) % sdstress.SectorSize
	binary.LittleEndian.PutUint32(b[fatOffset:], endOfChain)
	if err := dev.WriteSector(vol.FATStartSector, b); err != nil {
		return nil, sdstress.ErrFileOpenFailed.Wrap(err)
	}

	return &File{
		vol:          vol,
		StartCluster: fixedStartCluster,
		Cursor:       Cursor{NextSector: vol.ClusterToSector(fixedStartCluster)},
		dirSector:    rootSector,
		dirIndex:     free,
	}, nil
}
