package swapengine

import (
	"reflect"

	"github.com/dsoprea/go-logging"
)

// EncKeys carries the wrapped encryption keys for both slots, when
// Config.Encryption is set.
type EncKeys struct {
	Primary   []byte
	Secondary []byte
}

// BootStatus is the in-RAM record of swap progress. Idx ranges over
// [1, N+1]: values 1..N identify the granule currently in progress (or
// about to start, if State is PhaseS0 and no progress entry for it has
// been written yet); N+1 means every granule has completed. State is only
// meaningful while Idx <= N.
type BootStatus struct {
	Idx        int
	State      Phase
	UseScratch bool
	SwapSize   uint32
	SwapType   SwapType
	ImageNum   uint8
	EncKeys    *EncKeys
}

// FreshBootStatus returns the boot status for a swap of swapSize bytes
// that has not started, requested as swapType.
func FreshBootStatus(swapSize uint32, swapType SwapType) BootStatus {
	return BootStatus{Idx: 1, State: PhaseS0, SwapSize: swapSize, SwapType: swapType}
}

// Engine drives the sector-by-sector three-phase exchange (C5). It is not
// safe for concurrent use: the swap protocol assumes a single-threaded
// caller, the boot sequence, with no other code touching flash state while
// a swap is in progress.
type Engine struct {
	Config   Config
	Geometry Geometry
	Layout   TrailerLayout
	Codec    TrailerCodec
	Resolver StatusResolver

	Primary   FlashArea
	Secondary FlashArea
	Scratch   FlashArea

	// ImageNum identifies which image slot pair this engine instance
	// swaps, for Config.MultiImage configurations.
	ImageNum uint8
}

// NewEngine returns an Engine ready to run over the given slots and
// scratch area.
func NewEngine(cfg Config, geom Geometry, layout TrailerLayout, primary, secondary, scratch FlashArea) *Engine {
	codec := NewTrailerCodec(layout)

	return &Engine{
		Config:    cfg,
		Geometry:  geom,
		Layout:    layout,
		Codec:     codec,
		Resolver:  NewStatusResolver(codec),
		Primary:   primary,
		Secondary: secondary,
		Scratch:   scratch,
	}
}

// primaryBase is the offset, within Primary, where the progress table
// begins. Engine.publish writes the committed trailer fields relative to
// this same anchor, with the progress table's layout.
func (e *Engine) primaryBase() uint32 {
	return e.Codec.StatusOffset(e.Primary, true)
}

func (e *Engine) scratchBase() uint32 {
	return e.Codec.StatusOffset(e.Scratch, false)
}

// granule describes one iteration of the outer loop: a contiguous range of
// primary (and mirrored secondary) sectors copied together.
type granule struct {
	ordinal   int
	sectorIdx int
	size      uint32
}

// planGranules returns every granule the outer loop will walk, in the
// order it walks them (backward through the primary slot, so ordinal 1
// covers the highest offsets and the last ordinal covers index 0).
func (e *Engine) planGranules(swapSize uint32) (granules []granule, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	lastSectorIdx, err := e.Geometry.FindLastSectorIdx(swapSize)
	log.PanicIf(err)

	scratchSize := e.Scratch.Size()

	idx := lastSectorIdx
	ordinal := 1

	for idx >= 0 {
		firstIdx, sz := e.Geometry.FindCopyGranule(idx, scratchSize)

		granules = append(granules, granule{
			ordinal:   ordinal,
			sectorIdx: firstIdx,
			size:      sz,
		})

		ordinal++
		idx = firstIdx - 1
	}

	return granules, nil
}

// Run drives the swap to completion (or to the next reset, whichever
// comes first) starting from bs, which the caller has already resolved
// from the Status Resolver and Resolver.ReadStatusBytes on boot.
func (e *Engine) Run(bs BootStatus) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if e.Config.OverwriteOnly {
		return e.runOverwrite(bs.SwapSize)
	}

	granules, err := e.planGranules(bs.SwapSize)
	log.PanicIf(err)

	for _, g := range granules {
		switch {
		case g.ordinal < bs.Idx:
			// Already fully committed in a prior boot; nothing to do.
			continue

		case g.ordinal == bs.Idx:
			err = e.swapSectors(g, bs.State, bs.State != PhaseS0)
			log.PanicIf(err)

		default:
			err = e.swapSectors(g, PhaseS0, false)
			log.PanicIf(err)
		}
	}

	err = e.publish(bs)
	log.PanicIf(err)

	return nil
}

// publish commits the trailer fields that only make sense once every
// granule has landed: the request's swap size, swap type and image number
// (handed down from bs, since they describe why the swap was started, not
// anything the per-granule copy discovers), wrapped encryption keys if
// any, copy-done, and finally magic. WriteMagic must run last so a crash
// during publish leaves the trailer reading as still-in-progress rather
// than falsely done. The trailer-crossing granule (useScratch in
// swapSectors) leaves the trailer-bearing sectors erased, so publish needs
// no separate code path for it.
func (e *Engine) publish(bs BootStatus) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	base := e.primaryBase()

	err = e.Codec.WriteSwapSize(e.Primary, base, true, bs.SwapSize)
	log.PanicIf(err)

	if bs.SwapType != SwapTypeNone {
		err = e.Codec.WriteSwapInfo(e.Primary, base, true, bs.SwapType, bs.ImageNum)
		log.PanicIf(err)
	}

	if e.Config.Encryption && bs.EncKeys != nil {
		err = e.Codec.WriteEncKey(e.Primary, base, true, 0, bs.EncKeys.Primary)
		log.PanicIf(err)

		err = e.Codec.WriteEncKey(e.Primary, base, true, 1, bs.EncKeys.Secondary)
		log.PanicIf(err)
	}

	err = e.Codec.WriteCopyDone(e.Primary, base, true)
	log.PanicIf(err)

	err = e.Codec.WriteMagic(e.Primary, base, true)
	log.PanicIf(err)

	return nil
}

// runOverwrite implements Config.OverwriteOnly: a single forward copy of
// secondary onto primary, with no scratch usage and no progress table.
// CheckCompatibility's per-granule scratch-fit requirement does not apply
// in this mode, since scratch is never touched.
func (e *Engine) runOverwrite(swapSize uint32) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	err = e.Primary.Erase(0, e.Primary.Size(), false)
	log.PanicIf(err)

	buf := make([]byte, swapSize)

	err = e.Secondary.Read(0, buf)
	log.PanicIf(err)

	err = e.Primary.Write(0, buf)
	log.PanicIf(err)

	base := e.primaryBase()

	err = e.Codec.WriteSwapSize(e.Primary, base, false, swapSize)
	log.PanicIf(err)

	err = e.Codec.WriteCopyDone(e.Primary, base, false)
	log.PanicIf(err)

	err = e.Codec.WriteMagic(e.Primary, base, false)
	log.PanicIf(err)

	return nil
}

// writeInitialTrailer marks an area as provisionally authoritative for an
// in-progress swap: enough for the Status Resolver to pick it as the
// source if a reset lands here, before the swap's real outcome is known.
func (e *Engine) writeInitialTrailer(area FlashArea, base uint32, withProgressTable bool, swapSize uint32) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	err = e.Codec.WriteSwapSize(area, base, withProgressTable, swapSize)
	log.PanicIf(err)

	err = e.Codec.WriteMagic(area, base, withProgressTable)
	log.PanicIf(err)

	return nil
}

// swapSectors implements the three-phase exchange for one granule,
// resuming at resumeState when resume is true instead of starting at S0.
func (e *Engine) swapSectors(g granule, resumeState Phase, resume bool) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	imgOff := e.Geometry.Primary.OffsetOf(g.sectorIdx)
	trailerSz := e.Layout.BootTrailerSize()

	firstTrailerSectorIdx := FirstTrailerSector(e.Geometry.Primary, trailerSz)
	primaryTrailerStart := e.Geometry.Primary.OffsetOf(firstTrailerSectorIdx)

	copySz := g.size
	useScratch := false

	if imgOff+g.size > primaryTrailerStart {
		copySz = e.Primary.Size() - imgOff - trailerSz

		scratchStatusOff := e.scratchBase()
		if copySz > scratchStatusOff {
			copySz = scratchStatusOff
		}

		useScratch = g.ordinal == 1 && copySz != g.size
	}

	primaryBase := e.primaryBase()
	scratchBase := e.scratchBase()

	phase := PhaseS0
	if resume {
		phase = resumeState
	}

	if phase <= PhaseS0 {
		err = e.Scratch.Erase(0, e.Scratch.Size(), false)
		log.PanicIf(err)

		if g.ordinal == 1 {
			err = e.writeInitialTrailer(e.Scratch, scratchBase, false, g.size)
			log.PanicIf(err)

			if !useScratch {
				err = e.Codec.ScrambleTrailerSectors(e.Primary, e.Geometry.Primary, trailerSz)
				log.PanicIf(err)

				err = e.writeInitialTrailer(e.Primary, primaryBase, true, g.size)
				log.PanicIf(err)

				err = e.Scratch.Erase(0, e.Scratch.Size(), false)
				log.PanicIf(err)
			}
		}

		buf := make([]byte, copySz)

		err = e.Secondary.Read(imgOff, buf)
		log.PanicIf(err)

		err = e.Scratch.Write(0, buf)
		log.PanicIf(err)

		err = e.Codec.WriteProgressEntry(e.Primary, primaryBase, g.ordinal, PhaseS0)
		log.PanicIf(err)
	}

	if phase <= PhaseS1 {
		if g.ordinal == 1 {
			err = e.Codec.ScrambleTrailerSectors(e.Secondary, e.Geometry.Secondary, trailerSz)
			log.PanicIf(err)
		}

		err = e.Secondary.Erase(imgOff, g.size, false)
		log.PanicIf(err)

		buf := make([]byte, copySz)

		err = e.Primary.Read(imgOff, buf)
		log.PanicIf(err)

		err = e.Secondary.Write(imgOff, buf)
		log.PanicIf(err)

		err = e.Codec.WriteProgressEntry(e.Primary, primaryBase, g.ordinal, PhaseS1)
		log.PanicIf(err)
	}

	{
		if useScratch {
			err = e.Codec.ScrambleTrailerSectors(e.Primary, e.Geometry.Primary, trailerSz)
			log.PanicIf(err)
		}

		err = e.Primary.Erase(imgOff, g.size, false)
		log.PanicIf(err)

		buf := make([]byte, copySz)

		err = e.Scratch.Read(0, buf)
		log.PanicIf(err)

		err = e.Primary.Write(imgOff, buf)
		log.PanicIf(err)

		if useScratch {
			// copySz was truncated so that imgOff+copySz reaches at most
			// primaryBase; it stops short of it when clamped to scratch's
			// status offset, and the bytes in between stay erased. The
			// trailer-bearing sectors are erased here and left so, ready
			// for Engine.publish to write the committed trailer once every
			// granule has landed.
			trailerStartIdx := FirstTrailerSector(e.Geometry.Primary, trailerSz)
			trailerStart := e.Geometry.Primary.OffsetOf(trailerStartIdx)

			err = e.Primary.Erase(trailerStart, e.Primary.Size()-trailerStart, false)
			log.PanicIf(err)
		}

		err = e.Codec.WriteProgressEntry(e.Primary, primaryBase, g.ordinal, PhaseS2)
		log.PanicIf(err)

		if useScratch {
			err = e.Scratch.Erase(0, e.Scratch.Size(), true)
			log.PanicIf(err)
		}
	}

	return nil
}
