// Package blockdev provides a sector-addressed view of a disk image
// stream with write-back caching.
//
// SectorCache satisfies the same sector device contract the card driver
// does, so the FAT layer can run against an image file instead of real
// hardware. All sector indices begin at 0 and sectors are a fixed 512
// bytes; images with other geometries are out of scope.
package blockdev

import (
	"fmt"
	"io"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/boljen/go-bitmap"
)

// SectorCache caches sectors of a seekable image stream in memory and
// writes dirty ones back on Flush.
type SectorCache struct {
	stream        io.ReadWriteSeeker
	loadedSectors bitmap.Bitmap
	dirtySectors  bitmap.Bitmap
	totalSectors  uint32
	data          []byte
}

// WrapStream creates a SectorCache over a stream holding `totalSectors`
// 512-byte sectors. The stream size is fixed; accesses past the end fail
// rather than grow it.
func WrapStream(stream io.ReadWriteSeeker, totalSectors uint32) *SectorCache {
	return &SectorCache{
		stream:        stream,
		loadedSectors: bitmap.NewSlice(int(totalSectors)),
		dirtySectors:  bitmap.NewSlice(int(totalSectors)),
		totalSectors:  totalSectors,
		data:          make([]byte, int(totalSectors)*sdstress.SectorSize),
	}
}

// TotalSectors returns the fixed size of the image, in sectors.
func (cache *SectorCache) TotalSectors() uint32 {
	return cache.totalSectors
}

func (cache *SectorCache) checkBounds(sector uint32) error {
	if sector >= cache.totalSectors {
		return fmt.Errorf(
			"invalid sector number: %d not in range [0, %d)",
			sector,
			cache.totalSectors,
		)
	}
	return nil
}

func (cache *SectorCache) slice(sector uint32) []byte {
	offset := int(sector) * sdstress.SectorSize
	return cache.data[offset : offset+sdstress.SectorSize]
}

func (cache *SectorCache) seekToSector(sector uint32) error {
	_, err := cache.stream.Seek(int64(sector)*sdstress.SectorSize, io.SeekStart)
	return err
}

// loadSector ensures one sector is present in the cache, fetching it
// from the stream if needed. Dirty sectors are present by definition, so
// only the loaded bitmap is consulted.
func (cache *SectorCache) loadSector(sector uint32) error {
	if cache.loadedSectors.Get(int(sector)) {
		return nil
	}

	if err := cache.seekToSector(sector); err != nil {
		return err
	}
	if _, err := io.ReadFull(cache.stream, cache.slice(sector)); err != nil {
		return fmt.Errorf("failed to load sector %d from image: %s", sector, err.Error())
	}

	cache.loadedSectors.Set(int(sector), true)
	cache.dirtySectors.Set(int(sector), false)
	return nil
}

// ReadSector copies one sector into buf, loading it from the stream on
// first access.
func (cache *SectorCache) ReadSector(sector uint32, buf []byte) error {
	if err := cache.checkBounds(sector); err != nil {
		return err
	}
	if err := cache.loadSector(sector); err != nil {
		return err
	}
	copy(buf, cache.slice(sector))
	return nil
}

// WriteSector copies one sector from buf into the cache and marks it
// dirty. Nothing reaches the stream until Flush.
func (cache *SectorCache) WriteSector(sector uint32, buf []byte) error {
	if err := cache.checkBounds(sector); err != nil {
		return err
	}
	copy(cache.slice(sector), buf)
	cache.loadedSectors.Set(int(sector), true)
	cache.dirtySectors.Set(int(sector), true)
	return nil
}

// Flush writes every dirty sector back to the stream and marks it clean.
func (cache *SectorCache) Flush() error {
	for sector := uint32(0); sector < cache.totalSectors; sector++ {
		if !cache.dirtySectors.Get(int(sector)) {
			continue
		}

		if err := cache.seekToSector(sector); err != nil {
			return err
		}
		if _, err := cache.stream.Write(cache.slice(sector)); err != nil {
			return fmt.Errorf(
				"failed to flush sector %d to image: %s", sector, err.Error(),
			)
		}
		cache.dirtySectors.Set(int(sector), false)
	}
	return nil
}
