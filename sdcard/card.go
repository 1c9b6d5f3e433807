// Package sdcard drives an SD card over a bit-banged SPI link: the
// command protocol, the identification state machine, single-sector
// block transfers and the one-file CSV append path on top of the fat32
// layer.
//
// A Card is single-threaded by contract. One logical owner calls its
// methods; the 512-byte sector buffer and the CSV line buffer are shared
// scratch space across every operation.
package sdcard

import (
	"fmt"
	"time"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/hal"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/spi"
	"github.com/noxer/bytewriter"
)

// Card is an SD card session over one SPI bus.
type Card struct {
	spi *spi.Master
	now func() uint32

	configuredFreqHz uint32
	probes           sdstress.Probes

	initialized bool
	mounted     bool
	cardType    sdstress.CardType

	vol  *fat32.Volume
	file *fat32.File

	lastInitMicros  uint32
	lastWriteMicros uint32

	buf  [sdstress.SectorSize]byte
	line [sdstress.CSVLineMaxSize]byte
}

// Option adjusts a Card at construction time.
type Option func(*Card)

// WithFrequency sets the operating bus frequency. Identification still
// happens at 400 kHz; this is the speed restored afterwards and by
// ResetFrequency.
func WithFrequency(freqHz uint32) Option {
	return func(c *Card) {
		c.configuredFreqHz = freqHz
	}
}

// WithProbes supplies the battery and heap probes sampled into each CSV
// row. Missing probes report zero.
func WithProbes(probes sdstress.Probes) Option {
	return func(c *Card) {
		c.probes = probes
	}
}

// WithClock replaces the microsecond clock used for the init/write
// timing measurements.
func WithClock(now func() uint32) Option {
	return func(c *Card) {
		c.now = now
	}
}

// New creates a Card over the given wiring. The bus lines are not
// touched until Init.
func New(bus hal.Bus, options ...Option) *Card {
	epoch := time.Now()
	c := &Card{
		now:              func() uint32 { return uint32(time.Since(epoch).Microseconds()) },
		configuredFreqHz: DefaultFrequencyHz,
	}
	for _, option := range options {
		option(c)
	}
	c.spi = spi.New(bus, c.configuredFreqHz)
	return c
}

// Init drives the bus lines to their idle levels and resets all session
// state. It does not talk to the card; Mount does that.
func (c *Card) Init() {
	c.spi.Configure()
	c.spi.SetFrequency(c.configuredFreqHz)
	c.initialized = false
	c.mounted = false
	c.cardType = sdstress.CardNone
	c.vol = nil
	c.file = nil
}

// Unmount drops the session. No card traffic beyond releasing chip
// select; the append path flushes on every write so there is nothing to
// sync.
func (c *Card) Unmount() error {
	c.mounted = false
	c.spi.Deselect()
	return nil
}

// IsMounted reports whether a Mount has succeeded and not been undone.
func (c *Card) IsMounted() bool {
	return c.mounted
}

// LastInitMicros returns the duration of the most recent Mount attempt,
// successful or not.
func (c *Card) LastInitMicros() uint32 {
	return c.lastInitMicros
}

// LastWriteMicros returns the duration of the most recent WriteCSVLine
// attempt, successful or not.
func (c *Card) LastWriteMicros() uint32 {
	return c.lastWriteMicros
}

// Info describes an identified card.
type Info struct {
	Type   sdstress.CardType
	SizeMB uint32
}

// CardInfo reports the negotiated card type and the volume size. It only
// requires identification to have completed, not a full mount; before
// the volume is parsed the size reads zero.
func (c *Card) CardInfo() (Info, error) {
	if !c.initialized {
		return Info{}, sdstress.ErrInitFailed.WithMessage("card has not been identified yet")
	}
	info := Info{Type: c.cardType}
	if c.vol != nil {
		info.SizeMB = c.vol.TotalSectors / 2048
	}
	return info, nil
}

// HealthCheck verifies the card still answers by reading sector 0 into
// the scratch buffer.
func (c *Card) HealthCheck() error {
	if !c.mounted {
		return sdstress.ErrMountFailed
	}
	if err := c.ReadSector(0, c.buf[:]); err != nil {
		return sdstress.ErrInitFailed.Wrap(err)
	}
	return nil
}

// WriteCSVLine formats one result row and appends it to the log file,
// prefixed by the column header on the first write into a freshly
// created file.
//
// The formatted line, header included, must stay under CSVLineMaxSize
// bytes; a line at or over the limit is rejected before any card traffic
// happens. The header flag flips when the header is formatted, not when
// it lands on the card, so an oversized or failed first write consumes
// the header.
func (c *Card) WriteCSVLine(cycle uint32, result sdstress.CycleResult, timestampMS uint32) error {
	if !c.mounted {
		return sdstress.ErrMountFailed
	}

	start := c.now()
	defer func() { c.lastWriteMicros = c.now() - start }()

	// The line is rendered into a fixed buffer; running out of room there
	// is the overflow condition, detected before any card traffic.
	writer := bytewriter.New(c.line[:])
	length := 0

	if !c.file.HeaderWritten {
		n, err := fmt.Fprint(writer, sdstress.CSVHeader)
		length += n
		c.file.HeaderWritten = true
		if err != nil {
			return sdstress.ErrBufferOverflow.Wrap(err)
		}
	}

	status := "FAIL"
	if result.Success {
		status = "OK"
	}
	n, err := fmt.Fprintf(writer, "%d,%d,%s,%d,%d,%d,%d,%d,%d\n",
		timestampMS,
		cycle,
		status,
		uint8(result.ErrorCode),
		result.InitTimeMicros,
		result.WriteTimeMicros,
		result.SPIFreqHz,
		c.probeBatteryMV(),
		c.probeFreeHeap(),
	)
	length += n
	if err != nil || length >= sdstress.CSVLineMaxSize {
		return sdstress.ErrBufferOverflow.WithMessage(
			fmt.Sprintf("%d byte line", length))
	}

	return c.file.Append(c, &c.buf, c.line[:length])
}

func (c *Card) probeBatteryMV() uint32 {
	if c.probes.BatteryMillivolts == nil {
		return 0
	}
	return c.probes.BatteryMillivolts()
}

func (c *Card) probeFreeHeap() uint32 {
	if c.probes.FreeHeapBytes == nil {
		return 0
	}
	return c.probes.FreeHeapBytes()
}
