// Package stress runs mount/write/unmount cycles against a card and
// aggregates the outcome, with retry and frequency-fallback policy
// around every operation.
package stress

import (
	"fmt"
	"time"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sdcard"
	"github.com/golang/glog"
)

// Defaults for the retry policy.
const (
	DefaultRetries                = 3
	DefaultRetryDelay             = 100 * time.Millisecond
	DefaultMaxConsecutiveFailures = 10
)

// Config tunes a Runner. Zero fields take the defaults above; the
// function hooks default to real sleeping and wall-clock time so tests
// can run cycles without waiting out retry delays.
type Config struct {
	// Retries bounds mount and write attempts per cycle.
	Retries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// FrequencyFallback drops the bus one rung after each failed mount
	// attempt.
	FrequencyFallback bool
	// MaxConsecutiveFailures aborts a Run when reached.
	MaxConsecutiveFailures uint32

	// PowerCycle, when set, is invoked before every aggressive cycle to
	// cut and restore the card's supply rail.
	PowerCycle func()
	// OnCycle observes every finished cycle, e.g. for telemetry.
	OnCycle func(cycle uint32, result sdstress.CycleResult)

	Sleep  func(time.Duration)
	Millis func() uint32
}

// Runner drives stress cycles over one card.
type Runner struct {
	card   *sdcard.Card
	config Config

	// Stats aggregates every cycle run so far.
	Stats sdstress.Stats
}

// NewRunner creates a Runner over an initialized card.
func NewRunner(card *sdcard.Card, config Config) *Runner {
	if config.Retries == 0 {
		config.Retries = DefaultRetries
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.MaxConsecutiveFailures == 0 {
		config.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if config.Sleep == nil {
		config.Sleep = time.Sleep
	}
	if config.Millis == nil {
		epoch := time.Now()
		config.Millis = func() uint32 {
			return uint32(time.Since(epoch).Milliseconds())
		}
	}
	return &Runner{card: card, config: config}
}

// mountWithRetry attempts a mount up to the retry bound, optionally
// walking the frequency ladder down between attempts.
func (r *Runner) mountWithRetry() error {
	var err error
	for retry := 0; retry < r.config.Retries; retry++ {
		err = r.card.Mount(0)
		if err == nil {
			return nil
		}

		glog.Warningf("mount retry %d/%d: %v", retry+1, r.config.Retries, err)
		r.config.Sleep(r.config.RetryDelay)

		if r.config.FrequencyFallback && r.card.ReduceFrequency() {
			r.Stats.FallbackCount++
			glog.Warningf("SPI fallback to %d kHz", r.card.Frequency()/1000)
		}
	}
	return err
}

// AggressiveCycle is one full teardown cycle: power-cycle, mount, write
// one row, unmount. The row logs the previous state of this same cycle,
// so the write carries the mount timing measured moments earlier.
func (r *Runner) AggressiveCycle(cycle uint32) sdstress.CycleResult {
	var result sdstress.CycleResult
	timestamp := r.config.Millis()

	if r.config.PowerCycle != nil {
		r.config.PowerCycle()
	}

	err := r.mountWithRetry()
	result.InitTimeMicros = r.card.LastInitMicros()
	result.SPIFreqHz = r.card.Frequency()
	if err != nil {
		result.ErrorCode = sdstress.CodeOf(err)
		return result
	}

	for retry := 0; retry < r.config.Retries; retry++ {
		row := result
		row.Success = true
		row.ErrorCode = sdstress.CodeNone

		err = r.card.WriteCSVLine(cycle, row, timestamp)
		if err == nil {
			break
		}
		glog.Warningf("write retry %d/%d: %v", retry+1, r.config.Retries, err)
		r.config.Sleep(r.config.RetryDelay)
	}
	result.WriteTimeMicros = r.card.LastWriteMicros()
	if err != nil {
		result.ErrorCode = sdstress.CodeOf(err)
		r.card.Unmount()
		return result
	}

	if err := r.card.Unmount(); err != nil {
		result.ErrorCode = sdstress.CodeOf(err)
		return result
	}

	result.Success = true
	return result
}

// ContinuousCycle keeps the card mounted between cycles; only the first
// cycle (or the first after a failure) pays the mount cost.
func (r *Runner) ContinuousCycle(cycle uint32) sdstress.CycleResult {
	var result sdstress.CycleResult
	timestamp := r.config.Millis()

	if !r.card.IsMounted() {
		err := r.card.Mount(0)
		result.InitTimeMicros = r.card.LastInitMicros()
		result.SPIFreqHz = r.card.Frequency()
		if err != nil {
			result.ErrorCode = sdstress.CodeOf(err)
			return result
		}
	} else {
		result.SPIFreqHz = r.card.Frequency()
	}

	row := result
	row.Success = true
	row.ErrorCode = sdstress.CodeNone

	err := r.card.WriteCSVLine(cycle, row, timestamp)
	result.WriteTimeMicros = r.card.LastWriteMicros()
	if err != nil {
		result.ErrorCode = sdstress.CodeOf(err)
		return result
	}

	result.Success = true
	return result
}

// RunCycle executes one cycle in the chosen mode, folds it into the
// stats and notifies the observer.
func (r *Runner) RunCycle(aggressive bool) sdstress.CycleResult {
	cycle := r.Stats.TotalCycles + 1

	var result sdstress.CycleResult
	if aggressive {
		result = r.AggressiveCycle(cycle)
	} else {
		result = r.ContinuousCycle(cycle)
	}

	r.Stats.Update(result)
	if r.config.OnCycle != nil {
		r.config.OnCycle(cycle, result)
	}
	return result
}

// Run executes cycles until the count is reached (0 means forever) or
// the consecutive-failure ceiling trips, pausing `interval` between
// cycles. The card stays mounted on return only in continuous mode.
func (r *Runner) Run(cycles uint32, interval time.Duration, aggressive bool) error {
	for cycles == 0 || r.Stats.TotalCycles < cycles {
		result := r.RunCycle(aggressive)

		if result.Success {
			glog.V(1).Infof("cycle %d ok: init %d us, write %d us, %d Hz",
				r.Stats.TotalCycles, result.InitTimeMicros,
				result.WriteTimeMicros, result.SPIFreqHz)
		} else {
			glog.Warningf("cycle %d failed with code %d",
				r.Stats.TotalCycles, result.ErrorCode)
		}

		if r.Stats.ConsecutiveFailures >= r.config.MaxConsecutiveFailures {
			r.logStats()
			return fmt.Errorf(
				"aborting after %d consecutive failures, last code %d",
				r.Stats.ConsecutiveFailures,
				r.Stats.LastError,
			)
		}

		if r.Stats.TotalCycles%100 == 0 {
			r.logStats()
		}
		if interval > 0 {
			r.config.Sleep(interval)
		}
	}

	r.logStats()
	return nil
}

func (r *Runner) logStats() {
	s := &r.Stats
	glog.Infof("cycles: %d total, %d ok, %d failed, %d fallbacks",
		s.TotalCycles, s.SuccessfulCycles, s.FailedCycles, s.FallbackCount)
	if s.SuccessfulCycles > 0 {
		glog.Infof("init us: min %d avg %d max %d; write us: min %d avg %d max %d",
			s.MinInitMicros,
			s.TotalInitMicros/uint64(s.SuccessfulCycles),
			s.MaxInitMicros,
			s.MinWriteMicros,
			s.TotalWriteMicros/uint64(s.SuccessfulCycles),
			s.MaxWriteMicros)
	}
}
