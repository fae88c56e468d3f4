package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/ardnew/mscvcp/internal/board"
)

// Inspect opens every logical unit of a profile and prints what it finds.
type Inspect struct {
	Profile string `arg:"" optional:"" help:"Device profile; a single RAM disk when empty" type:"path"`

	Out io.Writer `kong:"-"`
}

// Run is called by Kong when the inspect command is executed.
func (p *Inspect) Run(logger *slog.Logger) error {
	prof, err := loadProfile(p.Profile)
	if err != nil {
		return err
	}
	b, err := board.New(prof)
	if err != nil {
		return err
	}
	defer b.Close()

	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LUN\tKIND\tINSTANCE\tSTATUS\tSECTORS\tKIB\tMEDIUM")
	for i, src := range b.Sources() {
		be, err := src.Driver.Open(src.Instance)
		if err != nil {
			logger.Debug("open failed", "lun", i, "error", err)
			fmt.Fprintf(w, "%d\t%s\t%d\terror: %v\t-\t-\t-\n", i, b.Kind(i), src.Instance, err)
			continue
		}
		status := "ready"
		if !be.Detect() {
			status = "no medium"
		}
		info := be.Info()
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\t%d\t%s\n",
			i, b.Kind(i), src.Instance, status, info.TotalSectors, info.DiskSizeKiB, info.SubType)
	}
	return w.Flush()
}
