package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ardnew/mscvcp/storage"
	"github.com/ardnew/mscvcp/storage/fatfs"
)

// Format creates or overwrites a medium image with an empty FAT volume.
type Format struct {
	Image string   `arg:"" help:"Image file to create or format" type:"path"`
	Size  int64    `help:"Image size in bytes; keeps the current size of an existing image when zero" default:"16777216"`
	Type  string   `help:"FAT type" enum:"fat12,fat16" default:"fat16"`
	Label string   `help:"Volume label" default:"${label}"`
	Files []string `help:"Files to copy into the root directory" type:"existingfile"`
}

// Run is called by Kong when the format command is executed.
func (f *Format) Run(logger *slog.Logger) (err error) {
	if f.Size%storage.SectorSize != 0 {
		return fmt.Errorf("size %d is not a multiple of %d", f.Size, storage.SectorSize)
	}
	cells, err := storage.OpenImage(f.Image, f.Size, false)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, cells.Sync(), cells.Close())
	}()

	disk := storage.NewRAM(cells)
	if err := fatfs.Format(disk, fatfs.Options{Type: f.Type, Label: f.Label}); err != nil {
		return err
	}

	if len(f.Files) > 0 {
		files := make(map[string][]byte, len(f.Files))
		for _, path := range f.Files {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			files[filepath.Base(path)] = data
		}
		if err := fatfs.AddFiles(disk, files); err != nil {
			return err
		}
	}

	logger.Info("image formatted", "image", f.Image,
		"sectors", disk.Info().TotalSectors, "type", f.Type, "files", len(f.Files))
	return nil
}
