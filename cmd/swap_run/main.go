package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/embedswap/swapengine"
	"github.com/embedswap/swapengine/fileflash"
)

type rootParameters struct {
	PrimaryPath     string `short:"p" long:"primary" description:"File-path of primary-slot image" required:"true"`
	SecondaryPath   string `short:"2" long:"secondary" description:"File-path of secondary-slot image" required:"true"`
	ScratchPath     string `short:"s" long:"scratch" description:"File-path of scratch-area image" required:"true"`
	SectorSize      uint32 `long:"sector-size" description:"Sector size, in bytes" default:"4096"`
	SectorCount     int    `long:"sector-count" description:"Sectors per primary/secondary slot" default:"32"`
	ScratchSectors  int    `long:"scratch-sectors" description:"Sectors in the scratch area" default:"4"`
	W               uint32 `long:"align" description:"Flash write granularity, in bytes" default:"8"`
	N               int    `long:"progress-entries" description:"Sectors tracked per progress table (N)" default:"32"`
	Encryption      bool   `long:"encryption" description:"Trailer carries wrapped encryption keys"`
	KeyWrapSize     uint32 `long:"key-wrap-size" description:"Wrapped key size, in bytes" default:"32"`
	OverwriteOnly   bool   `long:"overwrite-only" description:"Copy forward only; never use scratch"`
	ValidatePrimary bool   `long:"validate-primary" description:"Tolerate progress-table corruption pending cryptographic validation"`
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

	secondary, err := fileflash.Open(rootArguments.SecondaryPath, rootArguments.SectorCount, rootArguments.SectorSize, rootArguments.W)
	log.PanicIf(err)

	defer secondary.Close()

	scratch, err := fileflash.Open(rootArguments.ScratchPath, rootArguments.ScratchSectors, rootArguments.SectorSize, rootArguments.W)
	log.PanicIf(err)

	defer scratch.Close()

	cfg := swapengine.Config{
		OverwriteOnly:   rootArguments.OverwriteOnly,
		ValidatePrimary: rootArguments.ValidatePrimary,
		Encryption:      rootArguments.Encryption,
	}

	sectorSizes := make([]uint32, rootArguments.SectorCount)
	for i := range sectorSizes {
		sectorSizes[i] = rootArguments.SectorSize
	}

	scratchSizes := make([]uint32, rootArguments.ScratchSectors)
	for i := range scratchSizes {
		scratchSizes[i] = rootArguments.SectorSize
	}

	geometry := swapengine.NewGeometry(
		swapengine.NewSlotGeometry(sectorSizes),
		swapengine.NewSlotGeometry(sectorSizes),
		swapengine.NewSlotGeometry(scratchSizes),
	)

	ok, err := geometry.CheckCompatibility(cfg)
	log.PanicIf(err)

	if !ok {
		fmt.Fprintf(os.Stderr, "primary and secondary slots are not swap-compatible\n")
		os.Exit(1)
	}

	layout := swapengine.TrailerLayout{
		N:           rootArguments.N,
		W:           rootArguments.W,
		Encryption:  rootArguments.Encryption,
		KeyWrapSize: rootArguments.KeyWrapSize,
	}

	engine := swapengine.NewEngine(cfg, geometry, layout, primary, secondary, scratch)

	primaryBase := engine.Codec.StatusOffset(primary, true)
	scratchBase := engine.Codec.StatusOffset(scratch, false)

	primaryStatus, err := engine.Codec.ReadSwapState(primary, primaryBase, true)
	log.PanicIf(err)

	scratchStatus, err := engine.Codec.ReadSwapState(scratch, scratchBase, false)
	log.PanicIf(err)

	source := engine.Resolver.Resolve(cfg, primaryStatus.Magic, scratchStatus.Magic, primaryStatus.CopyDone, scratchStatus.ImageNum, primaryStatus.ImageNum)

	if source == swapengine.SourceNone {
		fmt.Printf("no swap in progress\n")
		return
	}

	swapSize, err := engine.Codec.ReadSwapSize(primary, primaryBase, true)
	log.PanicIf(err)

	n, err := geometry.FindSwapCount(swapSize)
	log.PanicIf(err)

	idx, state, err := engine.Resolver.ReadStatusBytes(primary, primaryBase, n, cfg)
	log.PanicIf(err)

	bs := swapengine.BootStatus{
		Idx:      idx,
		State:    state,
		SwapSize: swapSize,
	}

	err = engine.Run(bs)
	log.PanicIf(err)

	fmt.Printf("swap complete\n")
}
