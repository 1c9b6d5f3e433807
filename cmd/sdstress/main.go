// sdstress soak-tests the card stack against a disk image: a simulated
// card is wired under the real driver, then the runner hammers it with
// mount/write/unmount cycles exactly as the firmware loop would.
package main

import (
	"flag"
	"os"
	"runtime"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/blockdev"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sdcard"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sim"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/stress"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/telemetry"
	"github.com/golang/glog"
)

var (
	imagePath  = flag.String("image", "sdstress.img", "disk image backing the simulated card; created if missing")
	sectors    = flag.Uint("sectors", 2048, "image size in sectors when creating a new image")
	cycles     = flag.Uint("cycles", 0, "number of cycles to run, 0 for unlimited")
	interval   = flag.Duration("interval", 0, "pause between cycles")
	aggressive = flag.Bool("aggressive", true, "unmount and power-cycle the card every cycle")
	powerCycle = flag.Bool("power-cycle", true, "drop the simulated card's power before each aggressive cycle")
	frequency  = flag.Uint("freq", sdcard.DefaultFrequencyHz, "SPI frequency in Hz")
	retries    = flag.Int("retries", stress.DefaultRetries, "attempts per mount/write")
	fallback   = flag.Bool("fallback", true, "reduce SPI frequency after failed mounts")
	cardType   = flag.Int("card-version", 2, "simulated card version (1 or 2)")
	sdhc       = flag.Bool("sdhc", false, "simulate a high-capacity card")
	brokerURL  = flag.String("broker", "", "MQTT broker URL for live telemetry, empty to disable")
	topic      = flag.String("topic", "", "MQTT topic override")
	batteryMV  = flag.Uint("vbat-mv", 4200, "battery voltage reported in the CSV rows")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	image, err := openImage(*imagePath, uint32(*sectors))
	if err != nil {
		glog.Exitf("image setup failed: %v", err)
	}
	defer image.Close()

	cache := blockdev.WrapStream(image.file, image.totalSectors)
	simCard := sim.NewCard(cache)
	simCard.Version = *cardType
	simCard.HighCapacity = *sdhc

	card := sdcard.New(sim.NewBus(simCard),
		sdcard.WithFrequency(uint32(*frequency)),
		sdcard.WithProbes(sdstress.Probes{
			BatteryMillivolts: func() uint32 { return uint32(*batteryMV) },
			FreeHeapBytes:     freeHeap,
		}),
	)
	card.Init()

	config := stress.Config{
		Retries:           *retries,
		FrequencyFallback: *fallback,
	}
	if *powerCycle {
		config.PowerCycle = simCard.PowerCycle
	}

	var publisher *telemetry.Publisher
	if *brokerURL != "" {
		publisher, err = telemetry.NewPublisher(telemetry.Options{
			BrokerURL: *brokerURL,
			Topic:     *topic,
		})
		if err != nil {
			glog.Exitf("telemetry setup failed: %v", err)
		}
		defer publisher.Close()

		config.OnCycle = func(cycle uint32, result sdstress.CycleResult) {
			record := sdstress.CSVRecord{
				Cycle:       cycle,
				Status:      status(result.Success),
				ErrorCode:   uint8(result.ErrorCode),
				InitTimeUS:  result.InitTimeMicros,
				WriteTimeUS: result.WriteTimeMicros,
				SPIFreqHz:   result.SPIFreqHz,
			}
			if err := publisher.Publish(record); err != nil {
				glog.Warningf("telemetry publish failed: %v", err)
			}
		}
	}

	runner := stress.NewRunner(card, config)
	runErr := runner.Run(uint32(*cycles), *interval, *aggressive)

	if err := cache.Flush(); err != nil {
		glog.Errorf("flushing the image failed: %v", err)
	}
	if runErr != nil {
		glog.Exitf("stress run aborted: %v", runErr)
	}
}

func status(success bool) string {
	if success {
		return "OK"
	}
	return "FAIL"
}

func freeHeap() uint32 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return uint32(stats.HeapIdle)
}

type imageHandle struct {
	file         *os.File
	totalSectors uint32
}

func (h *imageHandle) Close() error {
	return h.file.Close()
}

// openImage opens an existing image or formats a new one of the
// requested size.
func openImage(path string, totalSectors uint32) (*imageHandle, error) {
	if info, err := os.Stat(path); err == nil {
		file, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		return &imageHandle{
			file:         file,
			totalSectors: uint32(info.Size() / sdstress.SectorSize),
		}, nil
	}

	glog.Infof("creating a fresh %d sector image at %s", totalSectors, path)
	image, err := fat32.BuildImage(fat32.FormatConfig{TotalSectors: totalSectors})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &imageHandle{file: file, totalSectors: totalSectors}, nil
}
