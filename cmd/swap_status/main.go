package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/embedswap/swapengine"
	"github.com/embedswap/swapengine/fileflash"
)

type rootParameters struct {
	PrimaryPath   string `short:"p" long:"primary" description:"File-path of primary-slot image" required:"true"`
	ScratchPath   string `short:"s" long:"scratch" description:"File-path of scratch-area image" required:"true"`
	SectorSize    uint32 `long:"sector-size" description:"Sector size, in bytes" default:"4096"`
	SectorCount   int    `long:"sector-count" description:"Sectors per primary/secondary slot" default:"32"`
	ScratchSectors int   `long:"scratch-sectors" description:"Sectors in the scratch area" default:"4"`
	W             uint32 `long:"align" description:"Flash write granularity, in bytes" default:"8"`
	N             int    `long:"progress-entries" description:"Sectors tracked per progress table (N)" default:"32"`
	Encryption    bool   `long:"encryption" description:"Trailer carries wrapped encryption keys"`
	KeyWrapSize   uint32 `long:"key-wrap-size" description:"Wrapped key size, in bytes" default:"32"`
	ValidatePrimary bool `long:"validate-primary" description:"Tolerate progress-table corruption pending cryptographic validation"`
}

var (
	rootArguments = new(rootParameters)
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	primary, err := fileflash.Open(rootArguments.PrimaryPath, rootArguments.SectorCount, rootArguments.SectorSize, rootArguments.W)
	log.PanicIf(err)

	defer primary.Close()

	scratch, err := fileflash.Open(rootArguments.ScratchPath, rootArguments.ScratchSectors, rootArguments.SectorSize, rootArguments.W)
	log.PanicIf(err)

	defer scratch.Close()

	layout := swapengine.TrailerLayout{
		N:           rootArguments.N,
		W:           rootArguments.W,
		Encryption:  rootArguments.Encryption,
		KeyWrapSize: rootArguments.KeyWrapSize,
	}

	codec := swapengine.NewTrailerCodec(layout)
	resolver := swapengine.NewStatusResolver(codec)

	primaryBase := codec.StatusOffset(primary, true)
	scratchBase := codec.StatusOffset(scratch, false)

	primaryStatus, err := codec.ReadSwapState(primary, primaryBase, true)
	log.PanicIf(err)

	scratchStatus, err := codec.ReadSwapState(scratch, scratchBase, false)
	log.PanicIf(err)

	cfg := swapengine.Config{ValidatePrimary: rootArguments.ValidatePrimary}

	source := resolver.Resolve(cfg, primaryStatus.Magic, scratchStatus.Magic, primaryStatus.CopyDone, scratchStatus.ImageNum, primaryStatus.ImageNum)

	swapSize, err := codec.ReadSwapSize(primary, primaryBase, true)
	log.PanicIf(err)

	fmt.Printf("swap status: %s\n", source)
	fmt.Printf("swap size:   %s\n", humanize.Bytes(uint64(swapSize)))
	fmt.Printf("swap type:   %d\n", primaryStatus.SwapType)
}
