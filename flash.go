package swapengine

// FlashArea is the uniform read/write/erase interface the engine uses to
// reach a physical flash region (a slot or the scratch area). It is the
// only way this package touches storage; address mapping, erase timing, and
// controller configuration are the adapter's problem, not this package's.
//
// Implementations must guarantee: writes of the area's Align() size are
// atomic; Erase operates at sector granularity; a Read always observes the
// effect of a prior Write or Erase to the same bytes.
type FlashArea interface {
	// Read copies len(buf) bytes starting at off into buf.
	Read(off uint32, buf []byte) error

	// Write writes buf at off. Per the trailer's write-once-per-erase
	// discipline, callers never write the same aligned cell twice between
	// erases; implementations are not required to detect a violation.
	Write(off uint32, buf []byte) error

	// Erase erases n bytes starting at off, sector by sector. When
	// reverse is true, sectors are erased from the highest offset in the
	// range down to the lowest.
	Erase(off, n uint32, reverse bool) error

	// Size returns the total size of the area in bytes.
	Size() uint32

	// Align returns the flash write granularity, W.
	Align() uint32

	// IsErased reports whether buf, just read from this area, reads back
	// as the erased value. Implementations must not assume a specific bit
	// pattern for "erased" (NOR flash's is all-ones, but this interface
	// does not hardcode that).
	IsErased(buf []byte) bool
}
