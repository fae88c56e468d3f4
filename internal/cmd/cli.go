// Package cmd holds the command-line commands.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ardnew/mscvcp/pkg"
)

// CLI is the root command.
type CLI struct {
	LogLevel  string `help:"Log level" enum:"debug,info,warn,error" default:"warn" env:"MSCVCP_LOG_LEVEL"`
	LogFormat string `help:"Log format" enum:"text,json" default:"text" env:"MSCVCP_LOG_FORMAT"`
	Config    string `help:"Configuration file for these flags (json, yaml or toml)" type:"path"`

	Run     Run            `cmd:"" help:"Run the device and serve it on a FIFO link"`
	Format  Format         `cmd:"" help:"Create a FAT-formatted medium image"`
	Inspect Inspect        `cmd:"" help:"Open the logical units of a profile and report them"`
	Profile ProfileCommand `cmd:"" help:"Device profile utilities"`
}

// SetupLogger applies the logging flags to the shared logger and returns
// it tagged for the command line.
func (c *CLI) SetupLogger() (*slog.Logger, error) {
	level, err := pkg.ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := pkg.ParseLogFormat(c.LogFormat)
	if err != nil {
		return nil, err
	}
	pkg.SetLogLevel(level)
	pkg.SetLogFormat(format)
	return pkg.Logger(pkg.ComponentCLI), nil
}

// ConfigCandidatePaths lists configuration files per loader. An explicit
// userPath comes first and is routed by extension; the per-user defaults
// follow. Kong skips files that do not exist.
func ConfigCandidatePaths(userPath string) (jsonPaths, yamlPaths, tomlPaths []string) {
	add := func(path string) {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			yamlPaths = append(yamlPaths, path)
		case ".toml":
			tomlPaths = append(tomlPaths, path)
		default:
			jsonPaths = append(jsonPaths, path)
		}
	}
	if userPath != "" {
		add(userPath)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		for _, ext := range []string{".json", ".yaml", ".toml"} {
			add(filepath.Join(dir, "mscvcp", "config"+ext))
		}
	}
	return jsonPaths, yamlPaths, tomlPaths
}
