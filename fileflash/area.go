// This package provides a FlashArea backed by a flat binary file, the
// representation a desktop build of the bootloader uses to stand in for a
// raw flash device: each slot is a file exactly as large as the area it
// represents, pre-filled with the erase value.
package fileflash

import (
	"os"
	"reflect"

	"github.com/dsoprea/go-logging"
)

// EraseValue is the byte fileflash areas read back as after an erase.
const EraseValue = 0xff

// Area is a FlashArea backed by an *os.File of uniform sector size.
type Area struct {
	f           *os.File
	sectorSize  uint32
	sectorCount int
	align       uint32
}

// Open opens (or creates) path as an area of sectorCount sectors of
// sectorSize bytes each, with write granularity align. A newly-created
// file is filled with the erase value.
func Open(path string, sectorCount int, sectorSize, align uint32) (area *Area, err error) {
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

	total := int64(sectorCount) * int64(sectorSize)

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	log.PanicIf(err)

	if isNew {
		buf := make([]byte, total)
		for i := range buf {
			buf[i] = EraseValue
		}

		_, err = f.WriteAt(buf, 0)
		log.PanicIf(err)
	}

	return &Area{
		f:           f,
		sectorSize:  sectorSize,
		sectorCount: sectorCount,
		align:       align,
	}, nil
}

// Close releases the underlying file handle.
func (a *Area) Close() error {
	return a.f.Close()
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

	_, err = a.f.ReadAt(buf, int64(off))
	log.PanicIf(err)

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

	_, err = a.f.WriteAt(buf, int64(off))
	log.PanicIf(err)

	return nil
}

// Erase implements swapengine.FlashArea. reverse only affects the order
// individual sectors are cleared in, never the final result.
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

	if off%a.sectorSize != 0 || n%a.sectorSize != 0 {
		log.Panicf("erase range not sector-aligned: off (%d) n (%d) sectorSize (%d)", off, n, a.sectorSize)
	}

	sectorCount := n / a.sectorSize
	firstSector := off / a.sectorSize

	idxs := make([]uint32, sectorCount)
	for i := uint32(0); i < sectorCount; i++ {
		idxs[i] = firstSector + i
	}

	if reverse {
		for l, r := 0, len(idxs)-1; l < r; l, r = l+1, r-1 {
			idxs[l], idxs[r] = idxs[r], idxs[l]
		}
	}

	buf := make([]byte, a.sectorSize)
	for i := range buf {
		buf[i] = EraseValue
	}

	for _, idx := range idxs {
		_, err = a.f.WriteAt(buf, int64(idx)*int64(a.sectorSize))
		log.PanicIf(err)
	}

	return nil
}

// Size implements swapengine.FlashArea.
func (a *Area) Size() uint32 {
	return uint32(a.sectorCount) * a.sectorSize
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
