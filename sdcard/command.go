package sdcard

// SPI-mode command set. Only the commands the mount and block paths use
// are defined. acmdFlag marks an application command that must be
// preceded by CMD55.
const (
	cmdGoIdleState     = 0  // CMD0
	cmdSendIfCond      = 8  // CMD8
	cmdSetBlocklen     = 16 // CMD16
	cmdReadSingleBlock = 17 // CMD17
	cmdWriteBlock      = 24 // CMD24
	cmdAppCmd          = 55 // CMD55
	cmdReadOCR         = 58 // CMD58

	acmdSDSendOpCond = acmdFlag | 41 // ACMD41

	acmdFlag = 0x80
)

// R1 response bits.
const (
	r1IdleState      = 0x01
	r1IllegalCommand = 0x04
)

// Data tokens.
const (
	tokenStartBlock   = 0xFE
	tokenDataAccepted = 0x05
)

// Poll ceilings. Each counts iterations of its loop, not wall time; at
// the slowest bus tier they still bound every wait to well under a
// second.
const (
	busReadyPollLimit  = 200
	responsePollLimit  = 10
	cmd0RetryLimit     = 100
	acmd41RetryLimit   = 1000
	readTokenPollLimit = 10000
	writeBusyPollLimit = 50000
)

// sendCommand issues one command frame and returns the R1 response.
//
// An acmdFlag-tagged command is expanded into CMD55 followed by the bare
// command; a CMD55 response above 1 aborts the pair. The card is
// deselected and reselected per command, then polled until the bus reads
// 0xFF before the frame goes out. 0xFF back means the card never became
// ready or never answered.
//
// CRC is only honored for the two frames the card checks while still in
// native mode: CMD0 with a zero argument and CMD8 with 0x1AA. Every
// other frame carries a dummy 0xFF.
//
// The card is left selected so callers can read response trailers or
// move data; every caller must deselect when its exchange is done.
func (c *Card) sendCommand(cmd byte, arg uint32) byte {
	if cmd&acmdFlag != 0 {
		cmd &^= acmdFlag
		if response := c.sendCommand(cmdAppCmd, 0); response > 1 {
			return response
		}
	}

	c.spi.Deselect()
	c.spi.Select()

	for retry := 0; c.spi.Transfer(0xFF) != 0xFF; retry++ {
		if retry >= busReadyPollLimit {
			return 0xFF
		}
	}

	c.spi.Transfer(0x40 | cmd)
	c.spi.Transfer(byte(arg >> 24))
	c.spi.Transfer(byte(arg >> 16))
	c.spi.Transfer(byte(arg >> 8))
	c.spi.Transfer(byte(arg))

	crc := byte(0xFF)
	switch cmd {
	case cmdGoIdleState:
		crc = 0x95
	case cmdSendIfCond:
		crc = 0x87
	}
	c.spi.Transfer(crc)

	response := c.spi.Transfer(0xFF)
	for retry := 1; response&0x80 != 0 && retry < responsePollLimit; retry++ {
		response = c.spi.Transfer(0xFF)
	}
	return response
}
