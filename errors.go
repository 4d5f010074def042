package swapengine

import (
	"errors"
)

var (
	// ErrFlash names a failed FlashArea primitive (read, write, erase). No
	// function in this package returns it: an error from a FlashArea is
	// returned as the adapter's own error, wrapped by log.Wrap.
	ErrFlash = errors.New("flash area operation failed")

	// ErrBadArgs names geometry or configuration that is inconsistent in a
	// way that could only be a programmer/caller error (spec's EBADARGS).
	// No function in this package returns it; such inconsistencies surface
	// as log.Panicf errors wrapped by log.Wrap.
	ErrBadArgs = errors.New("swap engine arguments inconsistent")

	// ErrIncompatibleSlots names slots that cannot be swapped. No function
	// in this package returns it: Geometry.CheckCompatibility reports
	// incompatible slots by returning false with a nil error.
	ErrIncompatibleSlots = errors.New("primary and secondary slots are not swap-compatible")
)
