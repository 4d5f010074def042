// This package implements the scratch-based image swap engine of a
// secondary-stage bootloader. It exchanges the contents of a primary flash
// slot and a secondary flash slot using a small scratch region as a rotating
// buffer, in a way that survives a reset at any point during the swap.
//
// The package does not touch a flash device directly. It is driven entirely
// through the FlashArea interface, so any medium (a real flash controller, a
// file, or an in-memory buffer) can be swapped under it.
package swapengine
