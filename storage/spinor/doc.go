// Package spinor drives an external serial NOR flash as a storage.Backend.
//
// The part is identified by its JEDEC ID at open time and must be one of
// [Parts]. Parts larger than 16 MiB are addressed with the 4-byte opcode
// set. Writes erase whole 4 KiB sectors, merging partial sectors through a
// scratch buffer, and program them back 256 bytes at a time.
//
// [Chip] is a bus-level simulator of such a part for tests and the
// simulated device.
package spinor
