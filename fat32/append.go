package fat32

import (
	"encoding/binary"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
)

// lastChainSector is the final sector owned by the file's single-cluster
// chain. The chain is never extended after creation, so appends must not
// step past it.
func (f *File) lastChainSector() uint32 {
	return f.vol.ClusterToSector(f.StartCluster) + uint32(f.vol.SectorsPerCluster) - 1
}

// Append copies data into the file at the cursor and flushes full sectors
// as it goes.
//
// When the cursor sits mid-sector the current sector is read back first so
// the bytes before the cursor survive; only an offset-0 write starts from
// a zero-filled buffer. Each time the buffer reaches 512 bytes, or the
// input runs out, the sector is written; a full-sector flush advances the
// cursor to the next sector at offset 0 with a freshly zeroed buffer.
//
// An append whose flush would land past the end of the one cluster
// allocated at creation fails with the file-write error rather than
// spilling into clusters the FAT never assigned to this file.
//
// After a successful append the directory entry's size field is persisted
// so a later remount recovers the same cursor. buf is the shared sector
// buffer and is garbage afterwards.
func (f *File) Append(dev sdstress.SectorDevice, buf *[sdstress.SectorSize]byte, data []byte) error {
	b := buf[:]

	if f.Cursor.ByteOffset > 0 {
		if err := dev.ReadSector(f.Cursor.NextSector, b); err != nil {
			return sdstress.ErrFileWriteFailed.Wrap(err)
		}
	} else {
		zeroSector(b)
	}

	written := 0
	for written < len(data) {
		if f.Cursor.NextSector > f.lastChainSector() {
			return sdstress.ErrFileWriteFailed.WithMessage(
				"append would run past the file's single-cluster chain")
		}

		space := sdstress.SectorSize - int(f.Cursor.ByteOffset)
		n := len(data) - written
		if n > space {
			n = space
		}

		copy(b[f.Cursor.ByteOffset:], data[written:written+n])
		f.Cursor.ByteOffset += uint16(n)
		written += n

		if f.Cursor.ByteOffset >= sdstress.SectorSize || written >= len(data) {
			if err := dev.WriteSector(f.Cursor.NextSector, b); err != nil {
				return sdstress.ErrFileWriteFailed.Wrap(err)
			}
			if f.Cursor.ByteOffset >= sdstress.SectorSize {
				f.Cursor.NextSector++
				f.Cursor.ByteOffset = 0
				zeroSector(b)
			}
		}
	}

	f.Size += uint32(len(data))
	return f.persistSize(dev, buf)
}

// persistSize rewrites the directory entry's 32-bit size field in place.
// The original firmware skipped this, which silently reset the cursor on
// every remount.
func (f *File) persistSize(dev sdstress.SectorDevice, buf *[sdstress.SectorSize]byte) error {
	b := buf[:]
	if err := dev.ReadSector(f.dirSector, b); err != nil {
		return sdstress.ErrFileWriteFailed.Wrap(err)
	}
	binary.LittleEndian.PutUint32(b[f.dirIndex*direntSize+direntFileSize:], f.Size)
	if err := dev.WriteSector(f.dirSector, b); err != nil {
		return sdstress.ErrFileWriteFailed.Wrap(err)
	}
	return nil
}

func zeroSector(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
