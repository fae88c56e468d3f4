package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ardnew/mscvcp/internal/config"
)

// ProfileCommand groups profile subcommands.
type ProfileCommand struct {
	Init  ProfileInit  `cmd:"" help:"Write a default device profile"`
	Check ProfileCheck `cmd:"" help:"Validate a profile and print it with defaults filled in"`
}

// ProfileInit writes config.Default to a file.
type ProfileInit struct {
	Output string `arg:"" help:"Destination; the extension selects json, yaml or toml" type:"path"`
	Force  bool   `help:"Overwrite if the file already exists"`
}

// Run is called by Kong when profile init is executed.
func (c *ProfileInit) Run() error {
	if !c.Force {
		if _, err := os.Stat(c.Output); err == nil {
			return errors.New("destination exists; use --force to overwrite")
		}
	}
	return config.Default().Save(c.Output)
}

// ProfileCheck loads a profile and prints its normalized form.
type ProfileCheck struct {
	Profile string `arg:"" help:"Profile to check" type:"existingfile"`
	Format  string `help:"Output format" enum:"json,yaml,toml" default:"yaml"`

	Out io.Writer `kong:"-"`
}

// Run is called by Kong when profile check is executed.
func (c *ProfileCheck) Run() error {
	p, err := config.Load(c.Profile)
	if err != nil {
		return err
	}
	data, err := p.Encode(config.Format(c.Format))
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	_, err = out.Write(data)
	return err
}
