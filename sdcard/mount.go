package sdcard

import (
	"fmt"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
)

// Mount runs the full bring-up: card identification at 400 kHz, block
// length fixup, FAT32 volume parse and the log file open, then commits
// the session. A nonzero freqHz overrides the operating frequency for
// this session before anything happens.
//
// Identification follows the standard SPI-mode ladder. CMD0 is retried
// until the card reports idle. CMD8 splits the world: an idle response
// means a v2 card whose echoed check pattern must match before ACMD41
// with the high-capacity bit, then CMD58 reads the OCR to separate SDHC
// from standard-capacity v2. An illegal-command response means a v1 card
// and ACMD41 with a zero argument. Anything else is a failed init.
// SD1/SD2 cards additionally get CMD16 forcing 512-byte blocks; SDHC is
// fixed there already.
//
// The operating frequency is restored on every exit path, and the
// attempt duration is recorded in LastInitMicros whether or not the
// mount succeeded.
func (c *Card) Mount(freqHz uint32) error {
	start := c.now()
	defer func() { c.lastInitMicros = c.now() - start }()

	if freqHz > 0 {
		c.spi.SetFrequency(freqHz)
	}
	if c.mounted {
		c.Unmount()
	}

	savedFreq := c.spi.Frequency()
	c.spi.SetFrequency(initFrequencyHz)
	restored := false
	restoreFreq := func() {
		if !restored {
			c.spi.SetFrequency(savedFreq)
			restored = true
		}
	}
	defer restoreFreq()

	// At least 74 warmup clocks with chip select released.
	c.spi.Deselect()
	for i := 0; i < 10; i++ {
		c.spi.Transfer(0xFF)
	}

	response := c.sendCommand(cmdGoIdleState, 0)
	for retry := 1; response != r1IdleState && retry < cmd0RetryLimit; retry++ {
		response = c.sendCommand(cmdGoIdleState, 0)
	}
	if response != r1IdleState {
		c.spi.Deselect()
		return sdstress.ErrInitFailed.WithMessage(
			fmt.Sprintf("card never went idle, R1=%#02x", response))
	}

	response = c.sendCommand(cmdSendIfCond, 0x1AA)
	switch {
	case response == r1IdleState:
		// Version 2. The R7 trailer echoes the voltage range and check
		// pattern from the argument.
		var echo [4]byte
		for i := range echo {
			echo[i] = c.spi.Transfer(0xFF)
		}
		c.spi.Deselect()

		if echo[2] != 0x01 || echo[3] != 0xAA {
			return sdstress.ErrCardTypeUnknown.WithMessage(
				fmt.Sprintf("CMD8 echo mismatch: %#02x %#02x", echo[2], echo[3]))
		}

		response = c.sendCommand(acmdSDSendOpCond, 0x40000000)
		for retry := 1; response != 0 && retry < acmd41RetryLimit; retry++ {
			response = c.sendCommand(acmdSDSendOpCond, 0x40000000)
		}
		if response != 0 {
			c.spi.Deselect()
			return sdstress.ErrInitFailed.WithMessage("ACMD41 never left idle")
		}

		if c.sendCommand(cmdReadOCR, 0) == 0 {
			var ocr [4]byte
			for i := range ocr {
				ocr[i] = c.spi.Transfer(0xFF)
			}
			c.cardType = sdstress.CardSD2
			if ocr[0]&0x40 != 0 {
				c.cardType = sdstress.CardSDHC
			}
		}
		c.spi.Deselect()

	case response&r1IllegalCommand != 0:
		// Version 1 cards reject CMD8 outright.
		c.spi.Deselect()

		response = c.sendCommand(acmdSDSendOpCond, 0)
		for retry := 1; response != 0 && retry < acmd41RetryLimit; retry++ {
			response = c.sendCommand(acmdSDSendOpCond, 0)
		}
		if response != 0 {
			return sdstress.ErrInitFailed.WithMessage("ACMD41 never left idle")
		}
		c.cardType = sdstress.CardSD1

	default:
		c.spi.Deselect()
		return sdstress.ErrInitFailed.WithMessage(
			fmt.Sprintf("CMD8 failed, R1=%#02x", response))
	}

	if c.cardType != sdstress.CardSDHC {
		response = c.sendCommand(cmdSetBlocklen, sdstress.SectorSize)
		c.spi.Deselect()
		if response != 0 {
			return sdstress.ErrInitFailed.WithMessage("CMD16 rejected")
		}
	}

	// Identification is done; the volume phase runs at operating speed.
	restoreFreq()
	c.initialized = true

	vol, err := fat32.Mount(c, &c.buf)
	if err != nil {
		return err
	}
	c.vol = vol

	file, err := fat32.OpenOrCreate(c, vol, &c.buf)
	if err != nil {
		return err
	}
	c.file = file

	c.mounted = true
	return nil
}
