// This package provides a byte-slice-backed FlashArea implementation. It
// stands in for the physical flash controller the engine is designed
// against, and doubles as the test harness for every package in this
// module: rather than shipping a binary fixture asset (as the teacher's
// exFAT parser does for its test images), tests build small synthetic
// geometries directly against memflash.Area.
package memflash

import (
	"reflect"

	"github.com/dsoprea/go-logging"
)

// EraseValue is the byte memflash areas read back as after an erase. Real
// NOR flash erases to all-ones; we use the same value so that byte-level
// fixtures in tests read the way they would against real hardware.
const EraseValue = 0xff

// Area is an in-memory FlashArea. Its sector layout can be heterogeneous,
// matching the swap engine's requirement that slot sector sizes need not be
// uniform.
type Area struct {
	buf     []byte
	sectors []uint32
	align   uint32
}

// New returns an Area whose sectors have the given sizes, in order, and
// whose write granularity is align. The area starts fully erased.
func New(sectorSizes []uint32, align uint32) *Area {
	total := uint32(0)
	for _, s := range sectorSizes {
		total += s
	}

	buf := make([]byte, total)
	for i := range buf {
		buf[i] = EraseValue
	}

	sectors := make([]uint32, len(sectorSizes))
	copy(sectors, sectorSizes)

	return &Area{
		buf:     buf,
		sectors: sectors,
		align:   align,
	}
}

// Uniform returns an Area of sectorCount sectors each sectorSize bytes.
func Uniform(sectorCount int, sectorSize, align uint32) *Area {
	sectors := make([]uint32, sectorCount)
	for i := range sectors {
		sectors[i] = sectorSize
	}

	return New(sectors, align)
}

// SectorSizes returns the sizes of this area's sectors, in offset order.
func (a *Area) SectorSizes() []uint32 {
	sizes := make([]uint32, len(a.sectors))
	copy(sizes, a.sectors)

	return sizes
}

func (a *Area) boundsCheck(off, n uint32) (err error) {
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

	if uint64(off)+uint64(n) > uint64(len(a.buf)) {
		log.Panicf("flash access out of bounds: off (%d) n (%d) size (%d)", off, n, len(a.buf))
	}

	return nil
}

// Read implements swapengine.FlashArea.
func (a *Area) Read(off uint32, buf []byte) (err error) {
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

	err = a.boundsCheck(off, uint32(len(buf)))
	log.PanicIf(err)

	copy(buf, a.buf[off:off+uint32(len(buf))])

	return nil
}

// Write implements swapengine.FlashArea.
func (a *Area) Write(off uint32, buf []byte) (err error) {
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

	err = a.boundsCheck(off, uint32(len(buf)))
	log.PanicIf(err)

	copy(a.buf[off:off+uint32(len(buf))], buf)

	return nil
}

// sectorRange returns the indices of the first and last sectors that the
// n-byte range starting at byte offset off touches. off must be a sector
// boundary; an end that is not one is widened to the end of its sector.
func (a *Area) sectorRange(off, n uint32) (first, last int, err error) {
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

	cursor := uint32(0)
	first = -1
	last = -1

	for i, sz := range a.sectors {
		if cursor == off {
			first = i
		}

		if first != -1 && cursor < off+n {
			last = i
		}

		cursor += sz
	}

	if first == -1 || last == -1 {
		log.Panicf("erase range not sector-aligned: off (%d) n (%d)", off, n)
	}

	return first, last, nil
}

// Erase implements swapengine.FlashArea. When reverse is true, the sectors
// in [off, off+n) are erased from the highest offset down to the lowest;
// the final byte contents are identical either way, but the engine relies
// on the order of intermediate writes for crash-safety (see the scratch
// erase step of phase S2 in Engine.swapSectors).
func (a *Area) Erase(off, n uint32, reverse bool) (err error) {
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

	err = a.boundsCheck(off, n)
	log.PanicIf(err)

	first, last, err := a.sectorRange(off, n)
	log.PanicIf(err)

	idxs := make([]int, 0, last-first+1)
	for i := first; i <= last; i++ {
		idxs = append(idxs, i)
	}

	if reverse {
		for l, r := 0, len(idxs)-1; l < r; l, r = l+1, r-1 {
			idxs[l], idxs[r] = idxs[r], idxs[l]
		}
	}

	starts := make([]uint32, len(a.sectors))
	o := uint32(0)
	for i, sz := range a.sectors {
		starts[i] = o
		o += sz
	}

	for _, i := range idxs {
		start := starts[i]
		sz := a.sectors[i]

		for b := start; b < start+sz; b++ {
			a.buf[b] = EraseValue
		}
	}

	return nil
}

// Size implements swapengine.FlashArea.
func (a *Area) Size() uint32 {
	return uint32(len(a.buf))
}

// Align implements swapengine.FlashArea.
func (a *Area) Align() uint32 {
	return a.align
}

// IsErased implements swapengine.FlashArea.
func (a *Area) IsErased(buf []byte) bool {
	for _, b := range buf {
		if b != EraseValue {
			return false
		}
	}

	return true
}
