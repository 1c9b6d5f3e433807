package fat32

import (
	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
)

// Contents reads the whole file back. Because the file never grows past
// its one cluster chain, its bytes occupy consecutive sectors starting
// at the chain head; no FAT walk is needed. buf is the shared sector
// buffer and is garbage afterwards.
func (f *File) Contents(dev sdstress.SectorDevice, buf *[sdstress.SectorSize]byte) ([]byte, error) {
	contents := make([]byte, 0, f.Size)
	sector := f.vol.ClusterToSector(f.StartCluster)

	for remaining := f.Size; remaining > 0; sector++ {
		if err := dev.ReadSector(sector, buf[:]); err != nil {
			return nil, sdstress.ErrFileOpenFailed.Wrap(err)
		}
		n := uint32(sdstress.SectorSize)
		if remaining < n {
			n = remaining
		}
		contents = append(contents, buf[:n]...)
		remaining -= n
	}
	return contents, nil
}
