package swapengine

import (
	"bytes"
	"encoding/binary"
	"reflect"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

// Phase is one of the three durable steps performed per swap granule.
type Phase uint8

const (
	// PhaseS0 stages secondary into scratch.
	PhaseS0 Phase = 1
	// PhaseS1 moves primary into secondary.
	PhaseS1 Phase = 2
	// PhaseS2 writes scratch into primary.
	PhaseS2 Phase = 3
)

// phasesPerSector is M in the spec: the number of phases tracked per
// sector in the progress table.
const phasesPerSector = 3

func (p Phase) String() string {
	switch p {
	case PhaseS0:
		return "S0"
	case PhaseS1:
		return "S1"
	case PhaseS2:
		return "S2"
	default:
		return "unknown"
	}
}

// SwapType enumerates the outcome a trailer's swap-info field records.
type SwapType uint8

const (
	SwapTypeNone SwapType = iota
	SwapTypeTest
	SwapTypePermanent
	SwapTypeRevert
	SwapTypeFail
)

// FlagState distinguishes an erased trailer flag cell from a written one.
// Only the erased/written boundary carries information, never a specific
// bit pattern.
type FlagState uint8

const (
	FlagUnset FlagState = iota
	FlagSet
)

// flagSetMarker is the byte pattern WriteCopyDone/WriteImageOk writes. Its
// only requirement is that it not read back as erased; restruct-packed
// structs never see this byte directly; readFlag only ever checks IsErased
// against it.
const flagSetMarker = 0x01

// MagicState classifies the 16-byte magic field.
type MagicState uint8

const (
	MagicUnset MagicState = iota
	MagicGood
	MagicBad
)

// magicSize is the fixed width of the magic signature field.
const magicSize = 16

// Magic is the fixed signature that marks a trailer as committed.
var Magic = [magicSize]byte{
	0x77, 0xc2, 0x95, 0xf3,
	0x60, 0xd2, 0xef, 0x7f,
	0x35, 0x52, 0x50, 0x0f,
	0x2c, 0xb6, 0x79, 0x80,
}

// TrailerLayout computes the byte offsets of every field in an image
// trailer, given the number of sectors swapped per pass (N), the flash
// write granularity (W), and whether wrapped encryption keys are carried.
// Field offsets grow monotonically from the progress table (lowest) to
// magic (highest) so that trailer writes commit in that order; W divides
// every offset this type returns.
type TrailerLayout struct {
	N           int
	W           uint32
	Encryption  bool
	KeyWrapSize uint32
}

func (l TrailerLayout) alignUp(x uint32) uint32 {
	if l.W == 0 {
		return x
	}

	return (x + l.W - 1) / l.W * l.W
}

// progressTableSize is N*M*W: one W-byte cell per (sector, phase) pair.
func (l TrailerLayout) progressTableSize() uint32 {
	return uint32(l.N*phasesPerSector) * l.W
}

// trailerOffsets holds the fully-resolved byte offsets of one trailer
// instance, relative to the owning FlashArea.
type trailerOffsets struct {
	progressTableBase uint32
	swapSize          uint32
	encKey            [2]uint32
	swapInfo          uint32
	copyDone          uint32
	imageOk           uint32
	magic             uint32
	size              uint32
}

// offsets computes field offsets for a trailer. withProgressTable is false
// for the scratch area's mini trailer, which records everything but
// per-sector progress (scratch has no sectors left to resume from; it is
// either wholly valid or wholly discarded).
func (l TrailerLayout) offsets(withProgressTable bool) trailerOffsets {
	base := uint32(0)
	if withProgressTable {
		base = l.progressTableSize()
	}

	o := trailerOffsets{progressTableBase: base}

	cursor := base
	o.swapSize = cursor
	cursor += l.alignUp(4)

	keySz := uint32(0)
	if l.Encryption {
		keySz = l.alignUp(l.KeyWrapSize)
	}

	o.encKey[0] = cursor
	cursor += keySz
	o.encKey[1] = cursor
	cursor += keySz

	o.swapInfo = cursor
	cursor += l.alignUp(1)

	o.copyDone = cursor
	cursor += l.alignUp(1)

	o.imageOk = cursor
	cursor += l.alignUp(1)

	o.magic = cursor
	cursor += l.alignUp(magicSize)

	o.size = cursor

	return o
}

// BootTrailerSize returns the total size, in bytes, of a primary or
// secondary slot's trailer, progress table included.
func (l TrailerLayout) BootTrailerSize() uint32 {
	return l.offsets(true).size
}

// ScratchTrailerSize returns the total size, in bytes, of the scratch
// area's mini trailer (no progress table).
func (l TrailerLayout) ScratchTrailerSize() uint32 {
	return l.offsets(false).size
}

// BootStatusInternalOffset returns the byte offset, within the progress
// table, of the entry for (idx, state). idx is 1-based; state is one of
// PhaseS0/S1/S2.
func BootStatusInternalOffset(idx int, state Phase, w uint32) uint32 {
	pos := (idx-1)*phasesPerSector + (int(state) - 1)
	return uint32(pos) * w
}

// SwapStatus is the durable content of one trailer, as read from flash.
type SwapStatus struct {
	Magic    MagicState
	CopyDone FlagState
	ImageOk  FlagState
	SwapType SwapType
	ImageNum uint8
}

// swapInfoWire is the on-flash encoding of the swap-info byte: swap type
// in the low nibble, image number in the high nibble, packed the way
// restruct expects a fixed-shape field to look.
type swapInfoWire struct {
	Packed uint8
}

// TrailerCodec is the sole reader/writer of trailer bytes. It knows field
// positions and erase semantics but nothing about slot geometry beyond the
// layout it was built with.
type TrailerCodec struct {
	Layout TrailerLayout
}

// NewTrailerCodec returns a codec for the given layout.
func NewTrailerCodec(layout TrailerLayout) TrailerCodec {
	return TrailerCodec{Layout: layout}
}

// StatusOffset returns the byte offset, within area, at which this
// codec's trailer begins. withProgressTable selects between a slot's full
// trailer (true) and scratch's mini trailer (false).
func (c TrailerCodec) StatusOffset(area FlashArea, withProgressTable bool) uint32 {
	size := c.Layout.ScratchTrailerSize()
	if withProgressTable {
		size = c.Layout.BootTrailerSize()
	}

	return area.Size() - size
}

func (c TrailerCodec) readFlag(area FlashArea, off uint32) (fs FlagState, err error) {
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

	buf := make([]byte, c.Layout.W)

	err = area.Read(off, buf)
	log.PanicIf(err)

	if area.IsErased(buf) {
		return FlagUnset, nil
	}

	return FlagSet, nil
}

func (c TrailerCodec) writeFlag(area FlashArea, off uint32) (err error) {
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

	buf := make([]byte, c.Layout.W)
	buf[0] = flagSetMarker

	err = area.Write(off, buf)
	log.PanicIf(err)

	return nil
}

// WriteCopyDone sets the copy-done flag.
func (c TrailerCodec) WriteCopyDone(area FlashArea, base uint32, withProgressTable bool) (err error) {
	o := c.Layout.offsets(withProgressTable)
	return c.writeFlag(area, base+o.copyDone)
}

// WriteImageOk sets the image-ok flag.
func (c TrailerCodec) WriteImageOk(area FlashArea, base uint32, withProgressTable bool) (err error) {
	o := c.Layout.offsets(withProgressTable)
	return c.writeFlag(area, base+o.imageOk)
}

// WriteSwapInfo writes the swap-type and image-number fields, packed into
// a single aligned cell.
func (c TrailerCodec) WriteSwapInfo(area FlashArea, base uint32, withProgressTable bool, swapType SwapType, imageNum uint8) (err error) {
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

	o := c.Layout.offsets(withProgressTable)

	wire := swapInfoWire{Packed: uint8(swapType)&0x0f | imageNum<<4}

	raw, err := restruct.Pack(binary.BigEndian, &wire)
	log.PanicIf(err)

	buf := make([]byte, c.Layout.W)
	copy(buf, raw)

	err = area.Write(base+o.swapInfo, buf)
	log.PanicIf(err)

	return nil
}

// WriteSwapSize writes the swap-size field, aligned up to W.
func (c TrailerCodec) WriteSwapSize(area FlashArea, base uint32, withProgressTable bool, size uint32) (err error) {
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

	o := c.Layout.offsets(withProgressTable)

	buf := make([]byte, c.Layout.alignUp(4))
	binary.BigEndian.PutUint32(buf, size)

	err = area.Write(base+o.swapSize, buf)
	log.PanicIf(err)

	return nil
}

// WriteEncKey writes the wrapped key for the given slot (0 or 1).
func (c TrailerCodec) WriteEncKey(area FlashArea, base uint32, withProgressTable bool, slot int, wrapped []byte) (err error) {
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

	if !c.Layout.Encryption {
		log.Panicf("WriteEncKey called but encryption is not enabled on this layout")
	}

	if slot != 0 && slot != 1 {
		log.Panicf("invalid encryption key slot: (%d)", slot)
	}

	o := c.Layout.offsets(withProgressTable)

	buf := make([]byte, c.Layout.alignUp(c.Layout.KeyWrapSize))
	copy(buf, wrapped)

	err = area.Write(base+o.encKey[slot], buf)
	log.PanicIf(err)

	return nil
}

// WriteMagic writes the 16-byte magic signature. This must be the last
// field written when publishing a trailer: any other order leaves a
// window where the Status Resolver would classify the trailer as good
// while other fields are still stale.
func (c TrailerCodec) WriteMagic(area FlashArea, base uint32, withProgressTable bool) (err error) {
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

	o := c.Layout.offsets(withProgressTable)

	err = area.Write(base+o.magic, Magic[:])
	log.PanicIf(err)

	return nil
}

// WriteProgressEntry durably records that sector idx has completed phase
// state. Only a slot trailer (withProgressTable true) has a progress
// table; callers must not call this against scratch's layout.
func (c TrailerCodec) WriteProgressEntry(area FlashArea, base uint32, idx int, state Phase) (err error) {
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

	off := base + BootStatusInternalOffset(idx, state, c.Layout.W)

	buf := make([]byte, c.Layout.W)
	buf[0] = flagSetMarker

	err = area.Write(off, buf)
	log.PanicIf(err)

	return nil
}

// ReadProgressEntry reports whether the progress-table cell at zero-based
// position i has been written or is still erased.
func (c TrailerCodec) ReadProgressEntry(area FlashArea, base uint32, i int) (fs FlagState, err error) {
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

	off := base + uint32(i)*c.Layout.W

	buf := make([]byte, c.Layout.W)

	err = area.Read(off, buf)
	log.PanicIf(err)

	if area.IsErased(buf) {
		return FlagUnset, nil
	}

	return FlagSet, nil
}

// ReadSwapState reads a trailer's magic, copy-done, image-ok and swap-info
// fields at once. The swap size is read separately, by ReadSwapSize.
func (c TrailerCodec) ReadSwapState(area FlashArea, base uint32, withProgressTable bool) (status SwapStatus, err error) {
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

	o := c.Layout.offsets(withProgressTable)

	magicBuf := make([]byte, magicSize)

	err = area.Read(base+o.magic, magicBuf)
	log.PanicIf(err)

	switch {
	case bytes.Equal(magicBuf, Magic[:]):
		status.Magic = MagicGood
	case area.IsErased(magicBuf):
		status.Magic = MagicUnset
	default:
		status.Magic = MagicBad
	}

	status.CopyDone, err = c.readFlag(area, base+o.copyDone)
	log.PanicIf(err)

	status.ImageOk, err = c.readFlag(area, base+o.imageOk)
	log.PanicIf(err)

	infoBuf := make([]byte, c.Layout.W)

	err = area.Read(base+o.swapInfo, infoBuf)
	log.PanicIf(err)

	if area.IsErased(infoBuf) {
		status.SwapType = SwapTypeNone
		status.ImageNum = 0
	} else {
		var wire swapInfoWire

		err = restruct.Unpack(infoBuf[:1], binary.BigEndian, &wire)
		log.PanicIf(err)

		status.SwapType = SwapType(wire.Packed & 0x0f)
		status.ImageNum = wire.Packed >> 4
	}

	return status, nil
}

// ReadSwapSize reads back the swap-size field.
func (c TrailerCodec) ReadSwapSize(area FlashArea, base uint32, withProgressTable bool) (size uint32, err error) {
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

	o := c.Layout.offsets(withProgressTable)

	buf := make([]byte, c.Layout.alignUp(4))

	err = area.Read(base+o.swapSize, buf)
	log.PanicIf(err)

	return binary.BigEndian.Uint32(buf[:4]), nil
}

// ScrambleTrailerSectors destroys the validity of the trailer-bearing
// sectors by erasing them from the highest offset down: the sector holding
// magic goes first, so a crash mid-scramble still leaves the magic field
// unreadable as good, and the erased progress cells read as unwritten.
func (c TrailerCodec) ScrambleTrailerSectors(area FlashArea, slot SlotGeometry, trailerSz uint32) (err error) {
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

	idx := FirstTrailerSector(slot, trailerSz)
	start := slot.Sectors[idx].Offset
	span := slot.Size() - start

	err = area.Erase(start, span, true)
	log.PanicIf(err)

	return nil
}
