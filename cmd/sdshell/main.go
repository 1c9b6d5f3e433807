// sdshell is an interactive console over the card stack, for poking at
// an image by hand: mount it, append rows, check health, inspect the
// log.
package main

import (
	"flag"
	"strconv"

	"github.com/abiosoft/ishell"
	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/blockdev"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sdcard"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/sim"
	"github.com/golang/glog"
	"github.com/xaionaro-go/bytesextra"
)

var sectors = flag.Uint("sectors", 2048, "size of the in-memory image in sectors")

func main() {
	flag.Parse()
	defer glog.Flush()

	image, err := fat32.BuildImage(fat32.FormatConfig{TotalSectors: uint32(*sectors)})
	if err != nil {
		glog.Exitf("image setup failed: %v", err)
	}

	cache := blockdev.WrapStream(
		bytesextra.NewReadWriteSeeker(image),
		uint32(*sectors),
	)
	simCard := sim.NewCard(cache)
	card := sdcard.New(sim.NewBus(simCard))
	card.Init()

	stats := sdstress.NewStats()
	cycle := uint32(0)

	shell := ishell.New()
	shell.Println("sdshell: simulated card console, type 'help' for commands")

	shell.AddCmd(&ishell.Cmd{
		Name: "mount",
		Help: "mount the card and open the log file",
		Func: func(c *ishell.Context) {
			if err := card.Mount(0); err != nil {
				c.Printf("mount failed: %v (code %d)\n", err, sdstress.CodeOf(err))
				return
			}
			c.Printf("mounted in %d us\n", card.LastInitMicros())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "unmount",
		Help: "drop the session",
		Func: func(c *ishell.Context) {
			if err := card.Unmount(); err != nil {
				c.Printf("unmount failed: %v\n", err)
				return
			}
			c.Println("unmounted")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "write",
		Help: "write [count]: append CSV rows, default 1",
		Func: func(c *ishell.Context) {
			count := 1
			if len(c.Args) > 0 {
				parsed, err := strconv.Atoi(c.Args[0])
				if err != nil || parsed < 1 {
					c.Printf("bad count %q\n", c.Args[0])
					return
				}
				count = parsed
			}

			for i := 0; i < count; i++ {
				cycle++
				result := sdstress.CycleResult{
					Success:        true,
					InitTimeMicros: card.LastInitMicros(),
					SPIFreqHz:      card.Frequency(),
				}
				err := card.WriteCSVLine(cycle, result, cycle*1000)
				result.Success = err == nil
				result.ErrorCode = sdstress.CodeOf(err)
				result.WriteTimeMicros = card.LastWriteMicros()
				stats.Update(result)

				if err != nil {
					c.Printf("write %d failed: %v\n", cycle, err)
					return
				}
			}
			c.Printf("wrote %d row(s), last in %d us\n", count, card.LastWriteMicros())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "info",
		Help: "show card type and size",
		Func: func(c *ishell.Context) {
			info, err := card.CardInfo()
			if err != nil {
				c.Printf("no card info: %v\n", err)
				return
			}
			c.Printf("type %s, %d MB, %d Hz, mounted: %v\n",
				info.Type, info.SizeMB, card.Frequency(), card.IsMounted())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "health",
		Help: "verify the card still answers",
		Func: func(c *ishell.Context) {
			if err := card.HealthCheck(); err != nil {
				c.Printf("unhealthy: %v\n", err)
				return
			}
			c.Println("ok")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "freq",
		Help: "freq [reduce|reset]: show or change the SPI frequency",
		Func: func(c *ishell.Context) {
			if len(c.Args) > 0 {
				switch c.Args[0] {
				case "reduce":
					if !card.ReduceFrequency() {
						c.Println("already at the bottom of the ladder")
					}
				case "reset":
					card.ResetFrequency()
				default:
					c.Printf("unknown subcommand %q\n", c.Args[0])
					return
				}
			}
			c.Printf("%d Hz\n", card.Frequency())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "dump",
		Help: "print the log file's contents",
		Func: func(c *ishell.Context) {
			var buf [sdstress.SectorSize]byte
			volume, err := fat32.Mount(cache, &buf)
			if err != nil {
				c.Printf("volume mount failed: %v\n", err)
				return
			}
			logFile, err := fat32.Lookup(cache, volume, &buf)
			if err != nil {
				c.Printf("no log file: %v\n", err)
				return
			}
			contents, err := logFile.Contents(cache, &buf)
			if err != nil {
				c.Printf("read failed: %v\n", err)
				return
			}
			c.Print(string(contents))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stats",
		Help: "show session statistics",
		Func: func(c *ishell.Context) {
			c.Printf("cycles: %d total, %d ok, %d failed\n",
				stats.TotalCycles, stats.SuccessfulCycles, stats.FailedCycles)
			if stats.SuccessfulCycles > 0 {
				c.Printf("write us: min %d max %d\n",
					stats.MinWriteMicros, stats.MaxWriteMicros)
			}
		},
	})

	shell.Run()
}
