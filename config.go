package swapengine

// Config carries the compile-time behavioral toggles described in the swap
// protocol. A real bootloader build picks these once, at image-build time;
// here they're plain fields on a struct handed to NewEngine, since this
// package runs on a host rather than being compiled per-target.
//
// direct-xip, ram-load, and overwrite-only together with none of the others
// bypass most of this engine; OverwriteOnly is the only one of the three
// this package still models (see Engine.Run), since direct-xip and ram-load
// never invoke the swap engine at all.
type Config struct {
	// OverwriteOnly makes Engine.Run perform a single forward copy of
	// secondary onto primary, never touching scratch or the progress
	// table. CheckCompatibility's per-granule scratch-fit requirement does
	// not apply in this mode.
	OverwriteOnly bool

	// ValidatePrimary changes the Status Resolver's response to a
	// corrupted progress table from fatal to "continue; a later
	// cryptographic check will catch a bad image".
	ValidatePrimary bool

	// DecompressImages relaxes CheckCompatibility's requirement that the
	// two slots' total sizes agree exactly.
	DecompressImages bool

	// Encryption enables the wrapped-key fields in the image trailer.
	Encryption bool

	// MultiImage enables the image_num trailer field and the Status
	// Resolver's demotion rule that compares it against the image under
	// examination.
	MultiImage bool
}

// MaxSectorsPerSlot bounds the sector count CheckCompatibility accepts for
// either slot. A real bootloader fixes this at build time to the maximum
// its progress-table allocation can address; here it is a constant that
// CheckCompatibility compares against directly, independent of
// TrailerLayout.N.
const MaxSectorsPerSlot = 128
