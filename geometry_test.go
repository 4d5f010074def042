package swapengine

import (
	"testing"

	"github.com/dsoprea/go-logging"
)

func uniformSectors(n int, size uint32) []uint32 {
	sizes := make([]uint32, n)
	for i := range sizes {
		sizes[i] = size
	}

	return sizes
}

func TestSlotGeometry_Size(t *testing.T) {
	g := NewSlotGeometry(uniformSectors(4, 1024))

	if g.Size() != 4096 {
		t.Fatalf("Wrong slot size: (%d)", g.Size())
	}

	if g.SectorCount() != 4 {
		t.Fatalf("Wrong sector count: (%d)", g.SectorCount())
	}

	if g.OffsetOf(2) != 2048 {
		t.Fatalf("Wrong sector offset: (%d)", g.OffsetOf(2))
	}
}

func TestGeometry_CheckCompatibility_uniform(t *testing.T) {
	primary := NewSlotGeometry(uniformSectors(8, 1024))
	secondary := NewSlotGeometry(uniformSectors(8, 1024))
	scratch := NewSlotGeometry(uniformSectors(1, 1024))

	g := NewGeometry(primary, secondary, scratch)

	ok, err := g.CheckCompatibility(Config{})
	log.PanicIf(err)

	if ok != true {
		t.Fatalf("Expected uniform slots to be compatible.")
	}
}

func TestGeometry_CheckCompatibility_heterogeneousBoundaries(t *testing.T) {
	// Secondary's single 2048-byte sector shares a boundary with two of
	// primary's 1024-byte sectors; this is the shape CheckCompatibility
	// exists to validate.
	primary := NewSlotGeometry(uniformSectors(4, 1024))
	secondary := NewSlotGeometry([]uint32{2048, 2048})
	scratch := NewSlotGeometry(uniformSectors(1, 2048))

	g := NewGeometry(primary, secondary, scratch)

	ok, err := g.CheckCompatibility(Config{})
	log.PanicIf(err)

	if ok != true {
		t.Fatalf("Expected heterogeneous-but-aligned slots to be compatible.")
	}
}

func TestGeometry_CheckCompatibility_bothSidesContribute(t *testing.T) {
	// Between the common boundaries at 1024 and 4096, both slots
	// contribute two sectors ([1024, 2048] and [2048, 1024]): incompatible.
	primary := NewSlotGeometry([]uint32{1024, 1024, 2048})
	secondary := NewSlotGeometry([]uint32{1024, 2048, 1024})
	scratch := NewSlotGeometry(uniformSectors(1, 2048))

	g := NewGeometry(primary, secondary, scratch)

	ok, err := g.CheckCompatibility(Config{})
	log.PanicIf(err)

	if ok != false {
		t.Fatalf("Expected incompatible layout to be rejected.")
	}
}

func TestGeometry_CheckCompatibility_spanExceedsScratch(t *testing.T) {
	primary := NewSlotGeometry(uniformSectors(4, 1024))
	secondary := NewSlotGeometry([]uint32{2048, 2048})
	scratch := NewSlotGeometry(uniformSectors(1, 1024))

	g := NewGeometry(primary, secondary, scratch)

	ok, err := g.CheckCompatibility(Config{})
	log.PanicIf(err)

	if ok != false {
		t.Fatalf("Expected a span larger than scratch to be rejected.")
	}
}

func TestGeometry_CheckCompatibility_sizeMismatch(t *testing.T) {
	primary := NewSlotGeometry(uniformSectors(4, 1024))
	secondary := NewSlotGeometry(uniformSectors(3, 1024))
	scratch := NewSlotGeometry(uniformSectors(1, 1024))

	g := NewGeometry(primary, secondary, scratch)

	ok, err := g.CheckCompatibility(Config{})
	log.PanicIf(err)

	if ok != false {
		t.Fatalf("Expected mismatched slot sizes to be rejected by default.")
	}

	ok, err = g.CheckCompatibility(Config{DecompressImages: true})
	log.PanicIf(err)

	if ok != true {
		t.Fatalf("Expected mismatched slot sizes to be accepted with DecompressImages.")
	}
}

func TestGeometry_FindCopyGranule(t *testing.T) {
	primary := NewSlotGeometry(uniformSectors(8, 1024))
	secondary := NewSlotGeometry(uniformSectors(8, 1024))
	scratch := NewSlotGeometry(uniformSectors(1, 3072))

	g := NewGeometry(primary, secondary, scratch)

	firstIdx, byteCount := g.FindCopyGranule(7, 3072)

	if byteCount != 3072 {
		t.Fatalf("Wrong granule size: (%d)", byteCount)
	}

	if firstIdx != 5 {
		t.Fatalf("Wrong first sector index: (%d)", firstIdx)
	}
}

func TestGeometry_FindLastSectorIdx(t *testing.T) {
	primary := NewSlotGeometry(uniformSectors(8, 1024))
	secondary := NewSlotGeometry(uniformSectors(8, 1024))
	scratch := NewSlotGeometry(uniformSectors(1, 3072))

	g := NewGeometry(primary, secondary, scratch)

	idx, err := g.FindLastSectorIdx(8192)
	log.PanicIf(err)

	if idx != 7 {
		t.Fatalf("Wrong last sector index: (%d)", idx)
	}
}

func TestGeometry_FindSwapCount(t *testing.T) {
	primary := NewSlotGeometry(uniformSectors(8, 1024))
	secondary := NewSlotGeometry(uniformSectors(8, 1024))
	scratch := NewSlotGeometry(uniformSectors(1, 3072))

	g := NewGeometry(primary, secondary, scratch)

	n, err := g.FindSwapCount(8192)
	log.PanicIf(err)

	if n != 3 {
		t.Fatalf("Wrong swap count: (%d)", n)
	}
}

func TestFirstTrailerSector(t *testing.T) {
	slot := NewSlotGeometry(uniformSectors(8, 1024))

	idx := FirstTrailerSector(slot, 1500)

	if idx != 6 {
		t.Fatalf("Wrong trailer sector index: (%d)", idx)
	}
}

func TestFirstTrailerSectorEndOffset(t *testing.T) {
	slot := NewSlotGeometry(uniformSectors(8, 1024))

	endOffset := FirstTrailerSectorEndOffset(slot, 1500)

	if endOffset != 7168 {
		t.Fatalf("Wrong trailer sector end offset: (%d)", endOffset)
	}
}

func TestFirstTrailerSectorEndOffset_singleSectorCovers(t *testing.T) {
	// When the trailer fits entirely within the last sector, its end
	// offset is exactly the slot's total size.
	slot := NewSlotGeometry(uniformSectors(8, 1024))

	endOffset := FirstTrailerSectorEndOffset(slot, 512)

	if endOffset != slot.Size() {
		t.Fatalf("Wrong trailer sector end offset: (%d)", endOffset)
	}
}
