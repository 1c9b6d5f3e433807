// Package sdstress defines the shared types for the SD append-logger core:
// the card/session value types, the sector device interface the FAT layer
// talks to, and the stable error surface consumed by caller retry policy.
//
// The packages underneath implement the actual machinery: a bit-banged SPI
// link (spi), the SD command protocol and mount state machine (sdcard), and
// a minimal write-oriented FAT32 layer that appends to one fixed file
// (fat32). Everything is single-threaded by contract; one logical thread
// owns the bus and the shared sector buffer.
package sdstress

// SectorSize is the only block size this core speaks. Cards are forced to
// 512-byte blocks during initialization (CMD16) when they aren't already.
const SectorSize = 512

// CSVLineMaxSize bounds one formatted CSV line, header included. A line
// whose formatted length reaches this limit is rejected before any card
// traffic happens.
const CSVLineMaxSize = 128

// CSVHeader is written once at the start of a freshly created log file.
const CSVHeader = "timestamp_ms,cycle,status,error_code,init_time_us,write_time_us,spi_freq_hz,vbat_mv,free_heap\n"

// CardType identifies the negotiated card generation. It is only valid
// after the full identification sequence has completed.
type CardType uint8

const (
	CardNone CardType = iota
	CardSD1
	CardSD2
	CardSDHC
)

func (t CardType) String() string {
	switch t {
	case CardSD1:
		return "SD1"
	case CardSD2:
		return "SD2"
	case CardSDHC:
		return "SDHC"
	}
	return "Unknown"
}

// SectorDevice reads and writes single 512-byte sectors. The buffer passed
// in must be at least SectorSize bytes; implementations must not retain it.
//
// sdcard.Card implements this over the SD data-token protocol, and
// blockdev.SectorCache implements it over a disk image stream.
type SectorDevice interface {
	ReadSector(sector uint32, buf []byte) error
	WriteSector(sector uint32, buf []byte) error
}

// CycleResult carries the telemetry of one test cycle. The core fills the
// timing and frequency fields during mount/write; the caller owns the
// value's lifecycle and decides what to do with it.
type CycleResult struct {
	Success         bool
	ErrorCode       ErrorCode
	InitTimeMicros  uint32
	WriteTimeMicros uint32
	SPIFreqHz       uint32
}

// Probes supplies the externally sourced values that end up in the CSV row.
// Nil functions report zero. On the original hardware these were an ADC
// read behind a voltage divider and an sbrk-based heap estimate.
type Probes struct {
	BatteryMillivolts func() uint32
	FreeHeapBytes     func() uint32
}

// CSVRecord is one decoded row of the on-card log file. Field tags follow
// the wire header so the file round-trips through a CSV unmarshaler.
type CSVRecord struct {
	TimestampMS uint32 `csv:"timestamp_ms" json:"timestamp_ms"`
	Cycle       uint32 `csv:"cycle" json:"cycle"`
	Status      string `csv:"status" json:"status"`
	ErrorCode   uint8  `csv:"error_code" json:"error_code"`
	InitTimeUS  uint32 `csv:"init_time_us" json:"init_time_us"`
	WriteTimeUS uint32 `csv:"write_time_us" json:"write_time_us"`
	SPIFreqHz   uint32 `csv:"spi_freq_hz" json:"spi_freq_hz"`
	VbatMV      uint32 `csv:"vbat_mv" json:"vbat_mv"`
	FreeHeap    uint32 `csv:"free_heap" json:"free_heap"`
}

// Stats aggregates cycle results across a stress run.
type Stats struct {
	TotalCycles         uint32
	SuccessfulCycles    uint32
	FailedCycles        uint32
	ConsecutiveFailures uint32

	TotalInitMicros  uint64
	TotalWriteMicros uint64
	MinInitMicros    uint32
	MaxInitMicros    uint32
	MinWriteMicros   uint32
	MaxWriteMicros   uint32

	FallbackCount uint32
	LastError     ErrorCode
	CurrentFreqHz uint32
}

// NewStats returns a Stats with the minimum trackers primed so the first
// successful cycle establishes them.
func NewStats() Stats {
	return Stats{
		MinInitMicros:  ^uint32(0),
		MinWriteMicros: ^uint32(0),
	}
}

// Update folds one cycle result into the aggregate.
func (s *Stats) Update(r CycleResult) {
	s.TotalCycles++
	s.CurrentFreqHz = r.SPIFreqHz

	if !r.Success {
		s.FailedCycles++
		s.ConsecutiveFailures++
		s.LastError = r.ErrorCode
		return
	}

	s.SuccessfulCycles++
	s.ConsecutiveFailures = 0

	s.TotalInitMicros += uint64(r.InitTimeMicros)
	if r.InitTimeMicros < s.MinInitMicros {
		s.MinInitMicros = r.InitTimeMicros
	}
	if r.InitTimeMicros > s.MaxInitMicros {
		s.MaxInitMicros = r.InitTimeMicros
	}

	s.TotalWriteMicros += uint64(r.WriteTimeMicros)
	if r.WriteTimeMicros < s.MinWriteMicros {
		s.MinWriteMicros = r.WriteTimeMicros
	}
	if r.WriteTimeMicros > s.MaxWriteMicros {
		s.MaxWriteMicros = r.WriteTimeMicros
	}
}
