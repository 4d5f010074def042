package swapengine

// SlotID names one of the two image slots a caller might ask the Header
// Locator about.
type SlotID uint8

const (
	SlotPrimary SlotID = iota
	SlotSecondary
)

// HeaderSource names the area a header read should actually be satisfied
// from: a slot's nominal area, or scratch, when the swap in progress has
// temporarily relocated the header there.
type HeaderSource uint8

const (
	HeaderPrimary HeaderSource = iota
	HeaderSecondary
	HeaderScratch
)

// HeaderLocator implements C6: during an in-progress swap, a slot's
// nominal contents and its logical contents can diverge for a window
// around the final granule, the one holding sector 0 and so the header,
// since that granule's payload may still be sitting in scratch rather than
// its destination slot. Locate
// resolves, for a given slot and boot status, which area actually holds
// that slot's header right now.
type HeaderLocator struct {
	SwapCount int
}

// NewHeaderLocator returns a locator for a swap of the given granule count
// (N, as returned by Geometry.FindSwapCount).
func NewHeaderLocator(swapCount int) HeaderLocator {
	return HeaderLocator{SwapCount: swapCount}
}

// Locate resolves which area holds slot's header, given bs (the current
// boot status). The final granule carries the header, and its whereabouts
// during that granule track bs.State rather than whether scratch was
// needed to clear a trailer-crossing overlap. bs.State is the phase to
// resume at, so State >= PhaseS1 means S0 has committed and State >=
// PhaseS2 means S1 has: reading secondary, the header is in scratch once
// S0 has committed; reading primary, it is in secondary once S1 has.
func (h HeaderLocator) Locate(bs BootStatus, slot SlotID) HeaderSource {
	k := bs.Idx - 1

	switch {
	case k >= h.SwapCount:
		// Every granule has committed: primary and secondary have
		// fully traded places relative to their pre-swap contents.
		if slot == SlotPrimary {
			return HeaderSecondary
		}

		return HeaderPrimary

	case k == h.SwapCount-1:
		if slot == SlotSecondary {
			if bs.State >= PhaseS1 {
				return HeaderScratch
			}

			return HeaderSecondary
		}

		if bs.State >= PhaseS2 {
			return HeaderSecondary
		}

		return HeaderPrimary

	default:
		// This granule has not yet reached the slot holding the
		// header; the slot's own nominal contents are still correct.
		if slot == SlotPrimary {
			return HeaderPrimary
		}

		return HeaderSecondary
	}
}
