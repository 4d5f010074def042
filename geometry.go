package swapengine

import (
	"reflect"

	"github.com/dsoprea/go-logging"
)

// Sector describes one sector of a slot: its byte offset within the slot
// and its size.
type Sector struct {
	Offset uint32
	Size   uint32
}

// SlotGeometry is the ordered sector layout of a slot (primary, secondary,
// or scratch). Sector sizes may vary within a slot and between slots; the
// only requirement the engine depends on is mutual divisibility at every
// common boundary, which Geometry.CheckCompatibility verifies.
type SlotGeometry struct {
	Sectors []Sector
}

// NewSlotGeometry builds a SlotGeometry from a list of sector sizes in
// offset order.
func NewSlotGeometry(sectorSizes []uint32) SlotGeometry {
	sectors := make([]Sector, len(sectorSizes))

	offset := uint32(0)
	for i, sz := range sectorSizes {
		sectors[i] = Sector{Offset: offset, Size: sz}
		offset += sz
	}

	return SlotGeometry{Sectors: sectors}
}

// Size returns the slot's total size, the sum of its sector sizes.
func (g SlotGeometry) Size() uint32 {
	total := uint32(0)
	for _, s := range g.Sectors {
		total += s.Size
	}

	return total
}

// SectorCount returns the number of sectors in the slot.
func (g SlotGeometry) SectorCount() int {
	return len(g.Sectors)
}

// OffsetOf returns the byte offset of the sector at idx.
func (g SlotGeometry) OffsetOf(idx int) uint32 {
	return g.Sectors[idx].Offset
}

// Geometry wraps the primary, secondary, and scratch layouts and implements
// the sector-boundary arithmetic (C2) the rest of the engine depends on.
type Geometry struct {
	Primary   SlotGeometry
	Secondary SlotGeometry
	Scratch   SlotGeometry
}

// NewGeometry returns a Geometry over the three given layouts.
func NewGeometry(primary, secondary, scratch SlotGeometry) Geometry {
	return Geometry{
		Primary:   primary,
		Secondary: secondary,
		Scratch:   scratch,
	}
}

// CheckCompatibility walks both slots' sector lists in lock-step. At each
// step, whichever running sum is smaller consumes its next sector. When
// the sums become equal, that offset is a common boundary; between
// successive common boundaries, only one of the two slots may have
// contributed more than one sector. Every span between common boundaries
// must individually fit in the scratch area. It also rejects slots whose
// sector count exceeds MaxSectorsPerSlot and, unless Config.DecompressImages
// is set, slots whose total sizes disagree.
func (g Geometry) CheckCompatibility(cfg Config) (ok bool, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var errOk bool
			if err, errOk = errRaw.(error); errOk == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if g.Primary.SectorCount() > MaxSectorsPerSlot || g.Secondary.SectorCount() > MaxSectorsPerSlot {
		return false, nil
	}

	if !cfg.DecompressImages && g.Primary.Size() != g.Secondary.Size() {
		return false, nil
	}

	scratchSize := g.Scratch.Size()

	pi, si := 0, 0
	s0, s1 := uint32(0), uint32(0)
	spanStart := uint32(0)

	for pi < len(g.Primary.Sectors) && si < len(g.Secondary.Sectors) {
		pContributed, sContributed := 0, 0

		for s0 != s1 || (pContributed == 0 && sContributed == 0) {
			if s0 <= s1 {
				if pi >= len(g.Primary.Sectors) {
					return false, nil
				}

				s0 += g.Primary.Sectors[pi].Size
				pi++
				pContributed++
			} else {
				if si >= len(g.Secondary.Sectors) {
					return false, nil
				}

				s1 += g.Secondary.Sectors[si].Size
				si++
				sContributed++
			}

			if pContributed > 0 && sContributed > 0 {
				// Both sides contributed a sector between boundaries:
				// incompatible layout.
				return false, nil
			}
		}

		span := s0 - spanStart
		if span > scratchSize {
			return false, nil
		}

		spanStart = s0
	}

	if !cfg.DecompressImages && (pi != len(g.Primary.Sectors) || si != len(g.Secondary.Sectors)) {
		return false, nil
	}

	return true, nil
}

// FindCopyGranule starts from lastSectorIdx and walks backward toward
// index 0 in the primary slot, accumulating sector sizes while the running
// total stays within scratchSize. It returns the lowest sector index still
// included and the accumulated byte count. Copies proceed from high offset
// to low offset so that, on resume, already-swapped regions remain
// distinguishable from pending ones by their position relative to idx.
func (g Geometry) FindCopyGranule(lastSectorIdx int, scratchSize uint32) (firstSectorIdx int, byteCount uint32) {
	total := uint32(0)
	idx := lastSectorIdx

	for idx >= 0 {
		next := total + g.Primary.Sectors[idx].Size
		if next > scratchSize {
			break
		}

		total = next
		idx--
	}

	return idx + 1, total
}

// FindLastSectorIdx advances both slots' cumulative size counters until
// both reach copySize and agree, returning the last primary sector index
// that participates in a swap of that size. The two walks must converge at
// a common boundary; this relies on CheckCompatibility having passed.
func (g Geometry) FindLastSectorIdx(copySize uint32) (idx int, err error) {
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

	pTotal, sTotal := uint32(0), uint32(0)
	pi, si := 0, 0

	for pTotal < copySize || sTotal < copySize {
		if pTotal < copySize {
			if pi >= len(g.Primary.Sectors) {
				log.Panicf("primary slot exhausted before reaching copy-size (%d)", copySize)
			}

			pTotal += g.Primary.Sectors[pi].Size
			pi++
		}

		if sTotal < copySize {
			if si >= len(g.Secondary.Sectors) {
				log.Panicf("secondary slot exhausted before reaching copy-size (%d)", copySize)
			}

			sTotal += g.Secondary.Sectors[si].Size
			si++
		}
	}

	if pTotal != sTotal {
		log.Panicf("slots did not converge at a common boundary for copy-size (%d): primary (%d) secondary (%d)", copySize, pTotal, sTotal)
	}

	return pi - 1, nil
}

// FindSwapCount repeatedly applies FindCopyGranule walking backward from
// the slot's last sector, counting iterations until the whole copySize
// range is covered.
func (g Geometry) FindSwapCount(copySize uint32) (n int, err error) {
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

	lastSectorIdx, err := g.FindLastSectorIdx(copySize)
	log.PanicIf(err)

	scratchSize := g.Scratch.Size()

	idx := lastSectorIdx
	count := 0

	for idx >= 0 {
		firstIdx, _ := g.FindCopyGranule(idx, scratchSize)
		count++
		idx = firstIdx - 1
	}

	return count, nil
}

// FirstTrailerSector walks slot's sectors from the last toward the first,
// accumulating their sizes, until the accumulation covers trailerSz. It
// returns the index of the first (lowest-offset) sector that holds
// trailer bytes.
func FirstTrailerSector(slot SlotGeometry, trailerSz uint32) (idx int) {
	total := uint32(0)
	last := len(slot.Sectors) - 1

	for i := last; i >= 0; i-- {
		total += slot.Sectors[i].Size
		if total >= trailerSz {
			return i
		}
	}

	return 0
}

// FirstTrailerSectorEndOffset returns the byte offset (within slot) at
// which the first trailer-bearing sector ends. The distance from the
// trailer's start to this offset is how many trailer bytes lie in that
// sector; SizeAdvisor.AppMaxSize compares it with the scratch trailer size
// to derive its padding.
func FirstTrailerSectorEndOffset(slot SlotGeometry, trailerSz uint32) uint32 {
	idx := FirstTrailerSector(slot, trailerSz)

	return slot.Sectors[idx].Offset + slot.Sectors[idx].Size
}
