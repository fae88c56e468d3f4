// Package storage defines the sector-level boundary between the mass-storage
// function and its media.
//
// Every medium is exposed as a [Backend] addressed in 512-byte logical
// sectors, whatever its physical erase or program granularity. A [Driver]
// opens numbered instances of one medium kind; the mass-storage LUN registry
// holds an ordered list of drivers and opens them when the host first asks
// how many logical units exist.
//
// Concrete media live in subpackages:
//
//   - storage/flash: internal flash behind a flash memory controller, with
//     page read-modify-write
//   - storage/spinor: serial NOR flash identified by JEDEC identifier
//   - storage/sdcard: SD/MMC cards behind a host controller with DMA
//     alignment constraints
//
// [RAM] is a plain backend used for RAM disks and as a test double.
//
// Simulated media store their bytes in [Cells]: [MemoryCells] for tests and
// [ImageCells] for image files shared with other tools.
package storage
