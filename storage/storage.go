package storage

import (
	"fmt"

	"github.com/ardnew/mscvcp/pkg"
)

// SectorSize is the logical sector size of every backend.
const SectorSize = 512

// SubType identifies the medium behind a backend.
type SubType uint8

// Medium kinds.
const (
	SubTypeRAM SubType = iota
	SubTypeFlash
	SubTypeSPINOR
	SubTypeSD
)

// String returns the configuration name of the medium kind.
func (s SubType) String() string {
	switch s {
	case SubTypeRAM:
		return "ram"
	case SubTypeFlash:
		return "flash"
	case SubTypeSPINOR:
		return "spinor"
	case SubTypeSD:
		return "sdcard"
	default:
		return fmt.Sprintf("subtype(%d)", uint8(s))
	}
}

// Info describes an opened medium.
type Info struct {
	TotalSectors uint32  // Number of logical sectors
	DiskSizeKiB  uint32  // Capacity in KiB
	SectorSize   uint32  // Always SectorSize
	SubType      SubType // Medium kind
}

// NewInfo returns the Info for a medium of the given number of sectors.
func NewInfo(sectors uint32, sub SubType) Info {
	return Info{
		TotalSectors: sectors,
		DiskSizeKiB:  sectors / (1024 / SectorSize),
		SectorSize:   SectorSize,
		SubType:      sub,
	}
}

// Backend is an opened medium addressed in logical sectors.
//
// ReadSectors and WriteSectors return the number of sectors actually
// completed along with any error. Errors wrap the storage sentinels of
// package pkg: pkg.ErrIO when the medium rejects an operation,
// pkg.ErrNotReady when removable media is absent, pkg.ErrOutOfRange when the
// range exceeds the medium, pkg.ErrBufferTooSmall for short buffers and
// pkg.ErrWriteProtected for read-only media.
//
// Implementations are safe for concurrent use; each holds a lock scoped to
// its physical device for the duration of one call.
type Backend interface {
	ReadSectors(sector, count uint32, buf []byte) (uint32, error)
	WriteSectors(sector, count uint32, buf []byte) (uint32, error)
	Detect() bool
	Info() Info
}

// Syncer is implemented by backends that buffer writes.
type Syncer interface {
	Sync() error
}

// Driver opens instances of one kind of medium.
type Driver interface {
	Name() string
	Open(instance int) (Backend, error)
}

type driverFunc struct {
	name string
	open func(instance int) (Backend, error)
}

func (d driverFunc) Name() string                       { return d.name }
func (d driverFunc) Open(instance int) (Backend, error) { return d.open(instance) }

// NewDriver adapts an open function into a Driver.
func NewDriver(name string, open func(instance int) (Backend, error)) Driver {
	return driverFunc{name: name, open: open}
}

// Static returns a Driver that hands out one already opened backend for
// instance 0.
func Static(name string, b Backend) Driver {
	return NewDriver(name, func(instance int) (Backend, error) {
		if instance != 0 {
			return nil, fmt.Errorf("%s instance %d: %w", name, instance, pkg.ErrIO)
		}
		return b, nil
	})
}

// CheckRange validates a sector range against a medium of total sectors and
// a caller buffer.
func CheckRange(total, sector, count uint32, buf []byte) error {
	if uint64(sector)+uint64(count) > uint64(total) {
		return fmt.Errorf("sectors %d+%d of %d: %w", sector, count, total, pkg.ErrOutOfRange)
	}
	if len(buf) < int(count)*SectorSize {
		return fmt.Errorf("%d byte buffer for %d sectors: %w", len(buf), count, pkg.ErrBufferTooSmall)
	}
	return nil
}
