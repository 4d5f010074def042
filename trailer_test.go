package swapengine

import (
	"testing"

	"github.com/dsoprea/go-logging"

	"github.com/embedswap/swapengine/memflash"
)

func testLayout() TrailerLayout {
	return TrailerLayout{N: 4, W: 8}
}

func TestTrailerLayout_offsets_monotonic(t *testing.T) {
	l := testLayout()

	o := l.offsets(true)

	if o.swapSize >= o.swapInfo ||
		o.swapInfo >= o.copyDone ||
		o.copyDone >= o.imageOk ||
		o.imageOk >= o.magic {
		t.Fatalf("Field offsets are not monotonically increasing: %+v", o)
	}

	if o.magic%l.W != 0 {
		t.Fatalf("Magic offset is not W-aligned: (%d)", o.magic)
	}
}

func TestTrailerLayout_BootTrailerSize_includesProgressTable(t *testing.T) {
	l := testLayout()

	if l.BootTrailerSize() <= l.ScratchTrailerSize() {
		t.Fatalf("Full trailer should be larger than the scratch mini trailer.")
	}

	if l.BootTrailerSize()-l.ScratchTrailerSize() != l.progressTableSize() {
		t.Fatalf("Difference between the two trailer sizes should equal the progress table size.")
	}
}

func TestBootStatusInternalOffset(t *testing.T) {
	off := BootStatusInternalOffset(1, PhaseS0, 8)
	if off != 0 {
		t.Fatalf("First entry should sit at offset 0: (%d)", off)
	}

	off = BootStatusInternalOffset(1, PhaseS1, 8)
	if off != 8 {
		t.Fatalf("Wrong offset for (1, S1): (%d)", off)
	}

	off = BootStatusInternalOffset(2, PhaseS0, 8)
	if off != 24 {
		t.Fatalf("Wrong offset for (2, S0): (%d)", off)
	}
}

func TestTrailerCodec_magicRoundTrip(t *testing.T) {
	l := testLayout()
	codec := NewTrailerCodec(l)

	area := memflash.Uniform(int(l.N)+4, 64, l.W)

	base := codec.StatusOffset(area, true)

	status, err := codec.ReadSwapState(area, base, true)
	log.PanicIf(err)

	if status.Magic != MagicUnset {
		t.Fatalf("Fresh area should read as unset magic: %v", status.Magic)
	}

	err = codec.WriteMagic(area, base, true)
	log.PanicIf(err)

	status, err = codec.ReadSwapState(area, base, true)
	log.PanicIf(err)

	if status.Magic != MagicGood {
		t.Fatalf("Magic should read back as good: %v", status.Magic)
	}
}

func TestTrailerCodec_flagRoundTrip(t *testing.T) {
	l := testLayout()
	codec := NewTrailerCodec(l)

	area := memflash.Uniform(int(l.N)+4, 64, l.W)

	base := codec.StatusOffset(area, true)

	err := codec.WriteCopyDone(area, base, true)
	log.PanicIf(err)

	status, err := codec.ReadSwapState(area, base, true)
	log.PanicIf(err)

	if status.CopyDone != FlagSet {
		t.Fatalf("Copy-done should read back as set.")
	}

	if status.ImageOk != FlagUnset {
		t.Fatalf("Image-ok should still read as unset.")
	}
}

func TestTrailerCodec_swapInfoRoundTrip(t *testing.T) {
	l := testLayout()
	codec := NewTrailerCodec(l)

	area := memflash.Uniform(int(l.N)+4, 64, l.W)

	base := codec.StatusOffset(area, true)

	err := codec.WriteSwapInfo(area, base, true, SwapTypeTest, 3)
	log.PanicIf(err)

	status, err := codec.ReadSwapState(area, base, true)
	log.PanicIf(err)

	if status.SwapType != SwapTypeTest {
		t.Fatalf("Wrong swap type read back: %v", status.SwapType)
	}

	if status.ImageNum != 3 {
		t.Fatalf("Wrong image number read back: (%d)", status.ImageNum)
	}
}

func TestTrailerCodec_swapSizeRoundTrip(t *testing.T) {
	l := testLayout()
	codec := NewTrailerCodec(l)

	area := memflash.Uniform(int(l.N)+4, 64, l.W)

	base := codec.StatusOffset(area, true)

	err := codec.WriteSwapSize(area, base, true, 12345)
	log.PanicIf(err)

	size, err := codec.ReadSwapSize(area, base, true)
	log.PanicIf(err)

	if size != 12345 {
		t.Fatalf("Wrong swap size read back: (%d)", size)
	}
}

func TestTrailerCodec_progressEntryRoundTrip(t *testing.T) {
	l := testLayout()
	codec := NewTrailerCodec(l)

	area := memflash.Uniform(int(l.N)+4, 64, l.W)

	base := codec.StatusOffset(area, true)

	err := codec.WriteProgressEntry(area, base, 2, PhaseS1)
	log.PanicIf(err)

	fs, err := codec.ReadProgressEntry(area, base, 4)
	log.PanicIf(err)

	if fs != FlagSet {
		t.Fatalf("Expected progress entry (2, S1) at position 4 to read as set.")
	}

	fs, err = codec.ReadProgressEntry(area, base, 3)
	log.PanicIf(err)

	if fs != FlagUnset {
		t.Fatalf("Expected the neighboring entry to still read as unset.")
	}
}

func TestTrailerCodec_ScrambleTrailerSectors(t *testing.T) {
	l := testLayout()
	codec := NewTrailerCodec(l)

	area := memflash.Uniform(int(l.N)+4, 64, l.W)

	base := codec.StatusOffset(area, true)

	err := codec.WriteMagic(area, base, true)
	log.PanicIf(err)

	slot := NewSlotGeometry(uniformSectors(int(l.N)+4, 64))

	err = codec.ScrambleTrailerSectors(area, slot, l.BootTrailerSize())
	log.PanicIf(err)

	status, err := codec.ReadSwapState(area, base, true)
	log.PanicIf(err)

	if status.Magic == MagicGood {
		t.Fatalf("Magic should no longer read as good after scrambling.")
	}
}
