package swapengine

import (
	"reflect"

	"github.com/dsoprea/go-logging"
)

// SwapSource classifies, from the trailer states alone, which region holds
// the authoritative swap status on boot.
type SwapSource uint8

const (
	// SourceNone means no swap is in progress; boot the image as-is.
	SourceNone SwapSource = iota
	// SourceScratch means scratch holds the authoritative trailer.
	SourceScratch
	// SourcePrimary means the primary slot's trailer is authoritative.
	SourcePrimary
)

func (s SwapSource) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceScratch:
		return "scratch"
	case SourcePrimary:
		return "primary"
	default:
		return "unknown"
	}
}

// magicPattern matches a MagicState the way the status table's exact,
// "not good" and "any" patterns do.
type magicPattern func(MagicState) bool

func exactMagic(want MagicState) magicPattern {
	return func(m MagicState) bool { return m == want }
}

func notGoodMagic() magicPattern {
	return func(m MagicState) bool { return m != MagicGood }
}

func anyMagic() magicPattern {
	return func(MagicState) bool { return true }
}

// flagPattern matches a FlagState, or any.
type flagPattern func(FlagState) bool

func exactFlag(want FlagState) flagPattern {
	return func(f FlagState) bool { return f == want }
}

func anyFlag() flagPattern {
	return func(FlagState) bool { return true }
}

// statusRule is one row of the table-driven classification. Rules are
// tried in order; the first match wins. Reordering this table changes
// semantics, since the rules are precedence-sensitive — see
// statusResolutionTable below.
type statusRule struct {
	primaryMagic magicPattern
	scratchMagic magicPattern
	copyDone     flagPattern
	source       SwapSource
}

// statusResolutionTable encodes the exact four cases of the status
// protocol. Keep it literal and ordered.
var statusResolutionTable = []statusRule{
	{exactMagic(MagicGood), notGoodMagic(), exactFlag(FlagSet), SourceNone},
	{exactMagic(MagicGood), notGoodMagic(), exactFlag(FlagUnset), SourcePrimary},
	{anyMagic(), exactMagic(MagicGood), anyFlag(), SourceScratch},
	{exactMagic(MagicUnset), anyMagic(), exactFlag(FlagUnset), SourcePrimary},
}

// StatusResolver implements C4: it classifies the combination of trailer
// states across {primary, scratch} and returns the authoritative status
// source. It only reads trailers; it never writes them.
type StatusResolver struct {
	Codec TrailerCodec
}

// NewStatusResolver returns a resolver using the given trailer codec.
func NewStatusResolver(codec TrailerCodec) StatusResolver {
	return StatusResolver{Codec: codec}
}

// Resolve classifies (primaryMagic, scratchMagic, primaryCopyDone) against
// the table and returns the matching source. If source is Scratch and
// Config.MultiImage is set, scratchImageNum must match imageNum or the
// result is demoted to SourceNone.
func (r StatusResolver) Resolve(cfg Config, primaryMagic, scratchMagic MagicState, primaryCopyDone FlagState, scratchImageNum, imageNum uint8) SwapSource {
	for _, rule := range statusResolutionTable {
		if rule.primaryMagic(primaryMagic) && rule.scratchMagic(scratchMagic) && rule.copyDone(primaryCopyDone) {
			source := rule.source

			if source == SourceScratch && cfg.MultiImage && scratchImageNum != imageNum {
				return SourceNone
			}

			return source
		}
	}

	return SourceNone
}

// ReadStatusBytes scans a slot's progress table entry by entry looking for
// the transition from "written" to "erased". When found, it returns the
// corresponding (idx, state) boot status position. A written entry found
// after an erased one signals corruption: if cfg.ValidatePrimary is set,
// the caller should continue (a later cryptographic check will reject a
// bad outcome); otherwise this is fatal.
func (r StatusResolver) ReadStatusBytes(area FlashArea, base uint32, n int, cfg Config) (idx int, state Phase, err error) {
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

	total := n * phasesPerSector

	seenErased := false
	boundary := -1

	for i := 0; i < total; i++ {
		fs, err := r.Codec.ReadProgressEntry(area, base, i)
		log.PanicIf(err)

		if fs == FlagUnset {
			if !seenErased {
				seenErased = true
				boundary = i
			}

			continue
		}

		// fs == FlagSet: a written entry.
		if seenErased {
			// Written after erased: corruption.
			if !cfg.ValidatePrimary {
				log.Panicf("progress table corrupted: written entry (%d) follows erased entry (%d)", i, boundary)
			}
			// Validation enabled: keep scanning, but the boundary we
			// already found is stale; a later cryptographic check will
			// reject whatever this resolves to.
		}
	}

	if boundary == -1 {
		// Every entry written: a fresh boot status past the last tracked
		// granule.
		boundary = total
	}

	idx = boundary/phasesPerSector + 1
	state = Phase(boundary%phasesPerSector + 1)

	return idx, state, nil
}
