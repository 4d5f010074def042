package swapengine

// SizeAdvisor implements C7: it reports the largest application image that
// can be written to the primary slot without colliding with the trailer,
// so a caller preparing an upgrade image never has to special-case the
// tail of the slot by hand.
type SizeAdvisor struct {
	Geometry Geometry
	Layout   TrailerLayout
}

// NewSizeAdvisor returns an advisor over the given geometry and trailer
// layout.
func NewSizeAdvisor(geometry Geometry, layout TrailerLayout) SizeAdvisor {
	return SizeAdvisor{Geometry: geometry, Layout: layout}
}

// AppMaxSize returns the number of bytes available to an application image
// in the primary slot. When overwriteOnly is set, only the tail-shaped
// trailer (no progress table) needs reserving, since a scratch-based swap
// never runs; otherwise the full trailer, including the progress table
// sized for this slot pair's granule count, must be reserved.
//
// The trailer itself never spans more than slotTrailerOff..slot_size, but
// flash erases (and so reserves) whole sectors: if the first trailer-
// bearing sector is shared with application payload on one slot but not
// the other, the image must stop early enough that scratch, which only
// ever needs to carry the smaller scratch trailer, still fits in whatever
// of that sector isn't already claimed by the boot trailer's layout.
func (a SizeAdvisor) AppMaxSize(overwriteOnly bool) uint32 {
	trailerSz := a.Layout.ScratchTrailerSize()
	if !overwriteOnly {
		trailerSz = a.Layout.BootTrailerSize()
	}

	slotSize := a.Geometry.Primary.Size()
	slotTrailerOff := slotSize - trailerSz

	primaryEnd := FirstTrailerSectorEndOffset(a.Geometry.Primary, trailerSz)
	secondaryEnd := FirstTrailerSectorEndOffset(a.Geometry.Secondary, trailerSz)

	trailerSectorEndOff := primaryEnd
	if secondaryEnd > trailerSectorEndOff {
		trailerSectorEndOff = secondaryEnd
	}

	trailerSzInFirstSector := trailerSectorEndOff - slotTrailerOff

	scratchTrailerSz := a.Layout.ScratchTrailerSize()

	padding := uint32(0)
	if scratchTrailerSz > trailerSzInFirstSector {
		padding = scratchTrailerSz - trailerSzInFirstSector
	}

	return slotTrailerOff - padding
}
