// sdtool inspects and prepares the disk images the stress harness runs
// against.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/blockdev"
	"github.com/Di-Ny/heltec-ab0-sdcard-stress-test/fat32"
	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"
)

func main() {
	cli := cli.App{
		Usage: "Inspect and prepare stress-test disk images",
		Commands: []*cli.Command{
			{
				Name:      "mkimage",
				Usage:     "Create a freshly formatted image",
				Action:    makeImage,
				ArgsUsage: "IMAGE_FILE",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:  "sectors",
						Usage: "image size in 512-byte sectors",
						Value: 2048,
					},
					&cli.UintFlag{
						Name:  "cluster-sectors",
						Usage: "sectors per cluster",
						Value: 1,
					},
					&cli.UintFlag{
						Name:  "partition-start",
						Usage: "put the volume behind a partition table at this LBA",
					},
				},
			},
			{
				Name:      "info",
				Usage:     "Show volume geometry and log file state",
				Action:    showInfo,
				ArgsUsage: "IMAGE_FILE",
			},
			{
				Name:      "dump",
				Usage:     "Decode the log file's CSV rows",
				Action:    dumpLog,
				ArgsUsage: "IMAGE_FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "emit one JSON document per row",
					},
				},
			},
		},
	}

	err := cli.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func makeImage(context *cli.Context) error {
	if context.NArg() != 1 {
		return fmt.Errorf("expected exactly one image path, got %d arguments", context.NArg())
	}

	image, err := fat32.BuildImage(fat32.FormatConfig{
		TotalSectors:      uint32(context.Uint("sectors")),
		SectorsPerCluster: uint8(context.Uint("cluster-sectors")),
		PartitionStart:    uint32(context.Uint("partition-start")),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(context.Args().First(), image, 0o644)
}

// openVolume mounts the image's volume and finds the log file, shared by
// the read-only subcommands.
func openVolume(path string) (*fat32.Volume, *fat32.File, sdstress.SectorDevice, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		return nil, nil, nil, err
	}

	var buf [sdstress.SectorSize]byte
	cache := blockdev.WrapStream(file, uint32(info.Size()/sdstress.SectorSize))

	volume, err := fat32.Mount(cache, &buf)
	if err != nil {
		return nil, nil, nil, err
	}

	logFile, err := fat32.Lookup(cache, volume, &buf)
	if err != nil {
		// The volume is still reportable without a log file.
		return volume, nil, cache, nil
	}
	return volume, logFile, cache, nil
}

func showInfo(context *cli.Context) error {
	if context.NArg() != 1 {
		return fmt.Errorf("expected exactly one image path, got %d arguments", context.NArg())
	}

	volume, logFile, _, err := openVolume(context.Args().First())
	if err != nil {
		return err
	}

	fmt.Printf("total sectors:       %d (%d MiB)\n",
		volume.TotalSectors, volume.TotalSectors/2048)
	fmt.Printf("sectors per cluster: %d\n", volume.SectorsPerCluster)
	fmt.Printf("reserved sectors:    %d\n", volume.ReservedSectors)
	fmt.Printf("FAT copies:          %d x %d sectors\n", volume.NumFATs, volume.SectorsPerFAT)
	fmt.Printf("partition offset:    %d\n", volume.PartitionOffset)
	fmt.Printf("data start sector:   %d\n", volume.DataStartSector)

	if logFile == nil {
		fmt.Printf("log file:            absent\n")
		return nil
	}
	fmt.Printf("log file:            %s, %d bytes, cluster %d\n",
		fat32.Name11, logFile.Size, logFile.StartCluster)
	return nil
}

func dumpLog(context *cli.Context) error {
	if context.NArg() != 1 {
		return fmt.Errorf("expected exactly one image path, got %d arguments", context.NArg())
	}

	_, logFile, device, err := openVolume(context.Args().First())
	if err != nil {
		return err
	}
	if logFile == nil {
		return fmt.Errorf("the image has no %q log file", fat32.Name11)
	}

	var buf [sdstress.SectorSize]byte
	contents, err := logFile.Contents(device, &buf)
	if err != nil {
		return err
	}

	var records []*sdstress.CSVRecord
	if err := gocsv.UnmarshalBytes(contents, &records); err != nil {
		return fmt.Errorf("the log file does not parse as CSV: %s", err.Error())
	}

	for _, record := range records {
		if context.Bool("json") {
			payload, err := json.Marshal(record)
			if err != nil {
				return err
			}
			fmt.Println(string(payload))
			continue
		}
		fmt.Printf("cycle %6d  %-4s code %3d  init %8d us  write %8d us  %7d Hz\n",
			record.Cycle, record.Status, record.ErrorCode,
			record.InitTimeUS, record.WriteTimeUS, record.SPIFreqHz)
	}
	return nil
}
