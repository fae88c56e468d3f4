// Package flash exposes a reserved region of internal flash as a
// storage.Backend.
//
// The flash memory controller erases in pages (4 KiB by default) while the
// host addresses 512-byte sectors, so most writes are page
// read-modify-write cycles through a scratch buffer whose capacity is
// checked when the backend is built. [MemoryFMC] simulates the controller
// on any storage.Cells.
package flash
