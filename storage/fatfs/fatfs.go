package fatfs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/go-fs"
	"github.com/mitchellh/go-fs/fat"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

// Defaults for freshly formatted volumes.
const (
	DefaultLabel   = "MSCVCP"
	DefaultOEMName = "MSCVCP"
)

// BlockDevice presents a storage.Backend as a byte addressed go-fs block
// device. Accesses that do not cover whole sectors are merged.
type BlockDevice struct {
	backend storage.Backend
	sector  []byte
}

// NewBlockDevice wraps b.
func NewBlockDevice(b storage.Backend) *BlockDevice {
	return &BlockDevice{backend: b, sector: make([]byte, storage.SectorSize)}
}

var _ fs.BlockDevice = (*BlockDevice)(nil)

// Len returns the medium size in bytes.
func (d *BlockDevice) Len() int64 {
	return int64(d.backend.Info().TotalSectors) * storage.SectorSize
}

// SectorSize returns the logical sector size.
func (d *BlockDevice) SectorSize() int {
	return storage.SectorSize
}

// ReadAt implements io.ReaderAt.
func (d *BlockDevice) ReadAt(p []byte, off int64) (int, error) {
	if err := d.bounds(p, off); err != nil {
		return 0, err
	}
	done := 0
	for done < len(p) {
		lba := uint32((off + int64(done)) / storage.SectorSize)
		skip := int((off + int64(done)) % storage.SectorSize)
		if skip == 0 && len(p)-done >= storage.SectorSize {
			count := uint32((len(p) - done) / storage.SectorSize)
			n, err := d.backend.ReadSectors(lba, count, p[done:])
			done += int(n) * storage.SectorSize
			if err != nil {
				return done, err
			}
			continue
		}
		if _, err := d.backend.ReadSectors(lba, 1, d.sector); err != nil {
			return done, err
		}
		done += copy(p[done:], d.sector[skip:])
	}
	return done, nil
}

// WriteAt implements io.WriterAt.
func (d *BlockDevice) WriteAt(p []byte, off int64) (int, error) {
	if err := d.bounds(p, off); err != nil {
		return 0, err
	}
	done := 0
	for done < len(p) {
		lba := uint32((off + int64(done)) / storage.SectorSize)
		skip := int((off + int64(done)) % storage.SectorSize)
		if skip == 0 && len(p)-done >= storage.SectorSize {
			count := uint32((len(p) - done) / storage.SectorSize)
			n, err := d.backend.WriteSectors(lba, count, p[done:])
			done += int(n) * storage.SectorSize
			if err != nil {
				return done, err
			}
			continue
		}
		if _, err := d.backend.ReadSectors(lba, 1, d.sector); err != nil {
			return done, err
		}
		n := copy(d.sector[skip:], p[done:])
		if _, err := d.backend.WriteSectors(lba, 1, d.sector); err != nil {
			return done, err
		}
		done += n
	}
	return done, nil
}

func (d *BlockDevice) bounds(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > d.Len() {
		return fmt.Errorf("access %d bytes at %d: %w", len(p), off, pkg.ErrOutOfRange)
	}
	return nil
}

// Options controls Format.
type Options struct {
	Type    string // "fat12" or "fat16"; empty selects fat16
	Label   string
	OEMName string
}

// ParseType maps a type name onto a go-fs FAT type.
func ParseType(name string) (fat.FATType, error) {
	switch strings.ToLower(name) {
	case "", "fat16":
		return fat.FAT16, nil
	case "fat12":
		return fat.FAT12, nil
	default:
		return 0, fmt.Errorf("FAT type %q: %w", name, pkg.ErrNotSupported)
	}
}

// Format writes an empty partitionless FAT volume to b.
func Format(b storage.Backend, opts Options) error {
	fatType, err := ParseType(opts.Type)
	if err != nil {
		return err
	}
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.OEMName == "" {
		opts.OEMName = DefaultOEMName
	}
	conf := &fat.SuperFloppyConfig{
		FATType: fatType,
		Label:   opts.Label,
		OEMName: opts.OEMName,
	}
	if err := fat.FormatSuperFloppy(NewBlockDevice(b), conf); err != nil {
		return fmt.Errorf("format %s: %w", b.Info().SubType, err)
	}
	pkg.LogInfo(pkg.ComponentStorage, "volume formatted",
		"medium", b.Info().SubType.String(), "sectors", b.Info().TotalSectors, "label", opts.Label)
	return nil
}

// AddFiles creates files in the root directory of the volume on b.
func AddFiles(b storage.Backend, files map[string][]byte) error {
	root, err := rootDir(b)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entry, err := root.AddFile(name)
		if err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
		file, err := entry.File()
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		if _, err := file.Write(files[name]); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// List returns the names in the root directory of the volume on b.
func List(b storage.Backend) ([]string, error) {
	root, err := rootDir(b)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range root.Entries() {
		names = append(names, entry.Name())
	}
	return names, nil
}

func rootDir(b storage.Backend) (fs.Directory, error) {
	f, err := fat.New(NewBlockDevice(b))
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	root, err := f.RootDir()
	if err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	}
	return root, nil
}
