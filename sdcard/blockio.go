package sdcard

import (
	"fmt"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
)

// blockAddress converts a sector number to a command argument. SDHC cards
// are block addressed; everything older wants a byte address.
func (c *Card) blockAddress(sector uint32) uint32 {
	if c.cardType == sdstress.CardSDHC {
		return sector
	}
	return sector << 9
}

// ReadSector fetches one 512-byte sector via CMD17. The trailing CRC is
// clocked out and discarded. Errors are plain; the FAT layer and the
// public operations attach the coded classification.
func (c *Card) ReadSector(sector uint32, buf []byte) error {
	response := c.sendCommand(cmdReadSingleBlock, c.blockAddress(sector))
	if response != 0 {
		c.spi.Deselect()
		return fmt.Errorf("read of sector %d rejected, R1=%#02x", sector, response)
	}

	retry := 0
	for response = c.spi.Transfer(0xFF); response == 0xFF; response = c.spi.Transfer(0xFF) {
		if retry++; retry > readTokenPollLimit {
			c.spi.Deselect()
			return fmt.Errorf("timed out waiting for the data token of sector %d", sector)
		}
	}
	if response != tokenStartBlock {
		c.spi.Deselect()
		return fmt.Errorf("unexpected data token %#02x for sector %d", response, sector)
	}

	for i := 0; i < sdstress.SectorSize; i++ {
		buf[i] = c.spi.Transfer(0xFF)
	}
	c.spi.Transfer(0xFF)
	c.spi.Transfer(0xFF)

	c.spi.Deselect()
	return nil
}

// WriteSector stores one 512-byte sector via CMD24 and waits out the
// card's internal programming. The data CRC sent is a dummy; SPI mode
// cards ignore it unless CRC checking was explicitly enabled, which this
// driver never does.
func (c *Card) WriteSector(sector uint32, buf []byte) error {
	response := c.sendCommand(cmdWriteBlock, c.blockAddress(sector))
	if response != 0 {
		c.spi.Deselect()
		return fmt.Errorf("write of sector %d rejected, R1=%#02x", sector, response)
	}

	c.spi.Transfer(0xFF)
	c.spi.Transfer(tokenStartBlock)
	for i := 0; i < sdstress.SectorSize; i++ {
		c.spi.Transfer(buf[i])
	}
	c.spi.Transfer(0xFF)
	c.spi.Transfer(0xFF)

	response = c.spi.Transfer(0xFF)
	if response&0x1F != tokenDataAccepted {
		c.spi.Deselect()
		return fmt.Errorf("sector %d not accepted, data response %#02x", sector, response)
	}

	for retry := 0; c.spi.Transfer(0xFF) == 0; {
		if retry++; retry > writeBusyPollLimit {
			c.spi.Deselect()
			return fmt.Errorf("sector %d stuck busy after write", sector)
		}
	}

	c.spi.Deselect()
	return nil
}
