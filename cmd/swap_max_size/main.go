package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/embedswap/swapengine"
)

type rootParameters struct {
	SectorSize    uint32 `long:"sector-size" description:"Sector size, in bytes" default:"4096"`
	SectorCount   int    `long:"sector-count" description:"Sectors per primary/secondary slot" default:"32"`
	W             uint32 `long:"align" description:"Flash write granularity, in bytes" default:"8"`
	N             int    `long:"progress-entries" description:"Sectors tracked per progress table (N)" default:"32"`
	Encryption    bool   `long:"encryption" description:"Trailer carries wrapped encryption keys"`
	KeyWrapSize   uint32 `long:"key-wrap-size" description:"Wrapped key size, in bytes" default:"32"`
	OverwriteOnly bool   `long:"overwrite-only" description:"Report the overwrite-only trailer budget instead"`
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

	sectorSizes := make([]uint32, rootArguments.SectorCount)
	for i := range sectorSizes {
		sectorSizes[i] = rootArguments.SectorSize
	}

	geometry := swapengine.NewGeometry(
		swapengine.NewSlotGeometry(sectorSizes),
		swapengine.NewSlotGeometry(sectorSizes),
		swapengine.NewSlotGeometry(nil),
	)

	layout := swapengine.TrailerLayout{
		N:           rootArguments.N,
		W:           rootArguments.W,
		Encryption:  rootArguments.Encryption,
		KeyWrapSize: rootArguments.KeyWrapSize,
	}

	advisor := swapengine.NewSizeAdvisor(geometry, layout)

	maxSize := advisor.AppMaxSize(rootArguments.OverwriteOnly)

	fmt.Printf("max application size: %s (%d bytes)\n", humanize.Bytes(uint64(maxSize)), maxSize)
}
