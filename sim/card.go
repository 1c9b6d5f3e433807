// Package sim is a software model of an SD card and the SPI bus it hangs
// off, faithful at byte granularity to the command subset the driver
// speaks. Tests use it to exercise the full stack without hardware, and
// the stress runner uses it for host-side soak runs against an image
// file.
package sim

import (
	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
)

// CommandFrame is one well-formed 6-byte command as the simulated card
// decoded it off the wire.
type CommandFrame struct {
	Cmd byte // bare index, start/transmission bits stripped
	Arg uint32
	CRC byte
}

// Card models the card side of the SPI protocol at byte granularity.
// The bus calls BeginByte when the master starts clocking a byte, to
// learn what to present on MISO, and EndByte with the completed MOSI
// byte afterwards.
//
// The model covers exactly the command subset the driver uses. Fault
// fields inject the failure modes the driver's retry ceilings and error
// branches exist for; all default to the happy path.
type Card struct {
	// Storage backs the card's sectors.
	Storage sdstress.SectorDevice

	// Version selects the identification path: 1 rejects CMD8 as
	// illegal, 2 answers it. NewCard defaults it to 2.
	Version int
	// HighCapacity sets the OCR capacity bit and switches the card to
	// block addressing.
	HighCapacity bool

	// IgnoreCMD0 makes the card never answer CMD0, as a card that is
	// absent or still powering up would.
	IgnoreCMD0 bool
	// CMD8EchoCorrupt makes the CMD8 trailer echo garbage instead of the
	// voltage range and check pattern.
	CMD8EchoCorrupt bool
	// InitPolls is how many ACMD41 rounds report still-initializing
	// before the card comes ready.
	InitPolls int
	// FailWrites makes every data block come back rejected.
	FailWrites bool

	// Frames records every well-formed command frame received.
	Frames []CommandFrame
	// WriteCounts tallies accepted block writes per sector.
	WriteCounts map[uint32]int

	idle      bool
	appCmd    bool
	out       []byte
	frame     []byte
	receiving bool

	inDataState bool
	dataSector  uint32
	block       []byte
	inBlock     bool
}

// NewCard returns a version 2 standard-capacity card over the given
// sector storage.
func NewCard(storage sdstress.SectorDevice) *Card {
	return &Card{
		Storage:     storage,
		Version:     2,
		WriteCounts: make(map[uint32]int),
	}
}

// PowerCycle forgets all protocol state, as if the card lost power. The
// fault knobs and the recorded history survive.
func (card *Card) PowerCycle() {
	card.idle = false
	card.appCmd = false
	card.out = nil
	card.frame = nil
	card.receiving = false
	card.inDataState = false
	card.block = nil
	card.inBlock = false
}

// Deselected is called by the bus when chip select rises. A real card
// tri-states its output and abandons any half-received frame.
func (card *Card) Deselected() {
	card.out = nil
	card.frame = nil
	card.receiving = false
	card.inDataState = false
	card.block = nil
	card.inBlock = false
}

// BeginByte returns the byte the card presents on MISO for the next
// eight clocks. An idle output line reads all ones.
func (card *Card) BeginByte() byte {
	if len(card.out) > 0 {
		value := card.out[0]
		card.out = card.out[1:]
		return value
	}
	return 0xFF
}

// EndByte hands the card the byte the master just clocked out.
func (card *Card) EndByte(value byte) {
	if card.inDataState {
		card.consumeDataByte(value)
		return
	}

	if card.receiving {
		card.frame = append(card.frame, value)
		if len(card.frame) == 6 {
			card.receiving = false
			card.processFrame()
		}
		return
	}

	// A frame starts with the transmission bit set and the start bit
	// clear; everything else between frames is fill.
	if value&0xC0 == 0x40 {
		card.frame = append(card.frame[:0], value)
		card.receiving = true
	}
}

func (card *Card) queue(values ...byte) {
	card.out = append(card.out, values...)
}

func (card *Card) sectorOf(arg uint32) uint32 {
	if card.HighCapacity {
		return arg
	}
	return arg >> 9
}

func (card *Card) processFrame() {
	frame := CommandFrame{
		Cmd: card.frame[0] & 0x3F,
		Arg: uint32(card.frame[1])<<24 |
			uint32(card.frame[2])<<16 |
			uint32(card.frame[3])<<8 |
			uint32(card.frame[4]),
		CRC: card.frame[5],
	}
	card.frame = card.frame[:0]
	card.Frames = append(card.Frames, frame)

	wasAppCmd := card.appCmd
	card.appCmd = false

	r1Idle := byte(0x00)
	if card.idle {
		r1Idle = 0x01
	}

	switch frame.Cmd {
	case 0: // GO_IDLE_STATE
		if card.IgnoreCMD0 {
			return
		}
		card.idle = true
		card.queue(0xFF, 0x01)

	case 8: // SEND_IF_COND
		if card.Version < 2 {
			card.queue(0xFF, r1Idle|0x04)
			return
		}
		echo := [4]byte{0x00, 0x00, 0x01, 0xAA}
		if card.CMD8EchoCorrupt {
			echo = [4]byte{0x00, 0x00, 0x00, 0x00}
		}
		card.queue(0xFF, 0x01, echo[0], echo[1], echo[2], echo[3])

	case 55: // APP_CMD
		card.appCmd = true
		card.queue(0xFF, r1Idle)

	case 41: // SD_SEND_OP_COND, only meaningful as an ACMD
		if !wasAppCmd {
			card.queue(0xFF, r1Idle|0x04)
			return
		}
		if card.InitPolls > 0 {
			card.InitPolls--
			card.queue(0xFF, 0x01)
			return
		}
		card.idle = false
		card.queue(0xFF, 0x00)

	case 58: // READ_OCR
		ocr0 := byte(0x80) // power-up complete
		if card.HighCapacity {
			ocr0 |= 0x40
		}
		card.queue(0xFF, 0x00, ocr0, 0xFF, 0x80, 0x00)

	case 16: // SET_BLOCKLEN
		if frame.Arg != sdstress.SectorSize {
			card.queue(0xFF, 0x40) // parameter error
			return
		}
		card.queue(0xFF, 0x00)

	case 17: // READ_SINGLE_BLOCK
		var sector [sdstress.SectorSize]byte
		if err := card.Storage.ReadSector(card.sectorOf(frame.Arg), sector[:]); err != nil {
			card.queue(0xFF, 0x00, 0xFF, 0x08) // error token instead of data
			return
		}
		card.queue(0xFF, 0x00)
		card.queue(0xFF, 0xFF, 0xFE) // access delay, then the start token
		card.queue(sector[:]...)
		card.queue(0xAA, 0x55) // CRC, discarded by the master
	case 24: // WRITE_BLOCK
		card.dataSector = card.sectorOf(frame.Arg)
		card.inDataState = true
		card.inBlock = false
		card.queue(0xFF, 0x00)

	default:
		card.queue(0xFF, r1Idle|0x04)
	}
}

// consumeDataByte runs the write-block data phase: skip fill until the
// start token, collect 512 data bytes plus 2 CRC bytes, then answer with
// the data response and one busy byte.
func (card *Card) consumeDataByte(value byte) {
	if !card.inBlock {
		if value == 0xFE {
			card.inBlock = true
			card.block = card.block[:0]
		}
		return
	}

	card.block = append(card.block, value)
	if len(card.block) < sdstress.SectorSize+2 {
		return
	}

	card.inDataState = false
	card.inBlock = false

	if card.FailWrites {
		card.queue(0x0D, 0x00) // write error, then busy
		return
	}

	if err := card.Storage.WriteSector(card.dataSector, card.block[:sdstress.SectorSize]); err != nil {
		card.queue(0x0D, 0x00)
		return
	}
	card.WriteCounts[card.dataSector]++
	card.queue(0x05, 0x00) // accepted, then one busy byte
}
