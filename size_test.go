package swapengine

import "testing"

func TestSizeAdvisor_AppMaxSize_fullSwap(t *testing.T) {
	primary := NewSlotGeometry(uniformSectors(8, 1024))
	secondary := NewSlotGeometry(uniformSectors(8, 1024))
	scratch := NewSlotGeometry(uniformSectors(1, 3072))

	geometry := NewGeometry(primary, secondary, scratch)
	layout := TrailerLayout{N: 8, W: 8}

	advisor := NewSizeAdvisor(geometry, layout)

	maxSize := advisor.AppMaxSize(false)

	trailerSz := layout.BootTrailerSize()
	slotTrailerOff := primary.Size() - trailerSz

	if maxSize != slotTrailerOff {
		t.Fatalf("Wrong app max size: (%d), expected (%d)", maxSize, slotTrailerOff)
	}

	if maxSize >= primary.Size() {
		t.Fatalf("App max size should leave room for the trailer.")
	}
}

// TestSizeAdvisor_AppMaxSize_padding exercises the scratch-padding leg of
// AppMaxSize: when the boot trailer occupies less of the first trailer-
// bearing sector than the scratch mini-trailer needs, the slot's own
// trailer offset alone is not enough room, and AppMaxSize must give back
// extra padding beyond slot_trailer_off.
func TestSizeAdvisor_AppMaxSize_padding(t *testing.T) {
	// N=4, W=8 gives a 144-byte boot trailer against 64-byte sectors, so
	// the trailer starts at 368, inside sector 5 (320..384), and only 16
	// of its bytes lie in that sector: less than the 48-byte scratch
	// trailer, forcing 32 bytes of padding.
	primary := NewSlotGeometry(uniformSectors(8, 64))
	secondary := NewSlotGeometry(uniformSectors(8, 64))
	scratch := NewSlotGeometry(uniformSectors(1, 256))

	geometry := NewGeometry(primary, secondary, scratch)
	// N=4, W=8 gives BootTrailerSize=144, ScratchTrailerSize=48 (see
	// TestTrailerLayout_BootTrailerSize_includesProgressTable).
	layout := TrailerLayout{N: 4, W: 8}

	advisor := NewSizeAdvisor(geometry, layout)

	trailerSz := layout.BootTrailerSize()
	scratchTrailerSz := layout.ScratchTrailerSize()

	primaryEnd := FirstTrailerSectorEndOffset(primary, trailerSz)
	secondaryEnd := FirstTrailerSectorEndOffset(secondary, trailerSz)

	trailerSectorEndOff := primaryEnd
	if secondaryEnd > trailerSectorEndOff {
		trailerSectorEndOff = secondaryEnd
	}

	slotTrailerOff := primary.Size() - trailerSz
	trailerSzInFirstSector := trailerSectorEndOff - slotTrailerOff

	padding := uint32(0)
	if scratchTrailerSz > trailerSzInFirstSector {
		padding = scratchTrailerSz - trailerSzInFirstSector
	}

	if padding == 0 {
		t.Fatalf("Expected this geometry to require non-zero padding (test setup error).")
	}

	maxSize := advisor.AppMaxSize(false)

	if maxSize != slotTrailerOff-padding {
		t.Fatalf("Wrong app max size: (%d), expected (%d)", maxSize, slotTrailerOff-padding)
	}
}

func TestSizeAdvisor_AppMaxSize_overwriteOnlyIsLarger(t *testing.T) {
	primary := NewSlotGeometry(uniformSectors(8, 1024))
	secondary := NewSlotGeometry(uniformSectors(8, 1024))
	scratch := NewSlotGeometry(uniformSectors(1, 3072))

	geometry := NewGeometry(primary, secondary, scratch)
	layout := TrailerLayout{N: 8, W: 8}

	advisor := NewSizeAdvisor(geometry, layout)

	fullSwap := advisor.AppMaxSize(false)
	overwriteOnly := advisor.AppMaxSize(true)

	if overwriteOnly < fullSwap {
		t.Fatalf("Overwrite-only should never reserve more than a full-swap trailer: full (%d) overwrite (%d)", fullSwap, overwriteOnly)
	}
}
