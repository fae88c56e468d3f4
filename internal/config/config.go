// Package config loads and validates device profiles.
//
// A profile describes the simulated board: INQUIRY strings, transport
// tuning, the serial buffers and an ordered list of logical units. Profiles
// are read from YAML, TOML or JSON files, chosen by extension.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v3"

	"github.com/ardnew/mscvcp/pkg"
)

// LUN kinds.
const (
	KindFlash  = "flash"
	KindSPINOR = "spinor"
	KindSDCard = "sdcard"
	KindRAM    = "ram"
)

// Defaults applied by Normalize.
const (
	DefaultMaxPacket   = 64
	DefaultStagingSize = 4096
	DefaultRAMSize     = 1 << 20
	DefaultFlashSize   = 512 * 1024
	DefaultSDSize      = 8 << 20
	DefaultJEDEC       = 0xEF4016 // W25Q32
	MaxLUNs            = 4
)

// LUN describes one logical unit.
type LUN struct {
	Kind     string `json:"kind" yaml:"kind" toml:"kind"`
	Image    string `json:"image,omitempty" yaml:"image,omitempty" toml:"image,omitempty"`
	Size     int64  `json:"size,omitempty" yaml:"size,omitempty" toml:"size,omitempty"`
	Instance int    `json:"instance,omitempty" yaml:"instance,omitempty" toml:"instance,omitempty"`
	JEDEC    uint32 `json:"jedec,omitempty" yaml:"jedec,omitempty" toml:"jedec,omitempty"`
	Absent   bool   `json:"absent,omitempty" yaml:"absent,omitempty" toml:"absent,omitempty"`
	ReadOnly bool   `json:"readOnly,omitempty" yaml:"readOnly,omitempty" toml:"readOnly,omitempty"`
}

// Serial tunes the virtual COM port buffers.
type Serial struct {
	SendSize       int `json:"sendSize,omitempty" yaml:"sendSize,omitempty" toml:"sendSize,omitempty"`
	ReceivePackets int `json:"receivePackets,omitempty" yaml:"receivePackets,omitempty" toml:"receivePackets,omitempty"`
}

// Profile is a complete device description.
type Profile struct {
	Vendor       string `json:"vendor,omitempty" yaml:"vendor,omitempty" toml:"vendor,omitempty"`
	Product      string `json:"product,omitempty" yaml:"product,omitempty" toml:"product,omitempty"`
	Revision     string `json:"revision,omitempty" yaml:"revision,omitempty" toml:"revision,omitempty"`
	WriteProtect bool   `json:"writeProtect,omitempty" yaml:"writeProtect,omitempty" toml:"writeProtect,omitempty"`
	StagingSize  int    `json:"stagingSize,omitempty" yaml:"stagingSize,omitempty" toml:"stagingSize,omitempty"`
	MaxPacket    int    `json:"maxPacket,omitempty" yaml:"maxPacket,omitempty" toml:"maxPacket,omitempty"`
	Serial       Serial `json:"serial" yaml:"serial" toml:"serial"`
	LUNs         []LUN  `json:"luns" yaml:"luns" toml:"luns"`
}

// Default returns a profile with one RAM disk.
func Default() *Profile {
	p := &Profile{LUNs: []LUN{{Kind: KindRAM}}}
	p.Normalize()
	return p
}

// Format identifies a profile encoding.
type Format string

// Profile encodings.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf returns the encoding implied by a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("profile %s: unknown extension: %w", path, pkg.ErrInvalidParameter)
	}
}

// Load reads, normalizes and validates a profile file.
func Load(path string) (*Profile, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	pkg.LogDebug(pkg.ComponentConfig, "profile loaded",
		"path", path, "format", string(format), "luns", len(p.LUNs))
	return p, nil
}

// Decode parses a profile, then normalizes and validates it.
func Decode(data []byte, format Format) (*Profile, error) {
	var p Profile
	var err error
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&p)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&p)
	case FormatTOML:
		err = toml.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("format %q: %w", format, pkg.ErrInvalidParameter)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Encode renders the profile in the given format.
func (p *Profile) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(p)
	case FormatTOML:
		return toml.Marshal(*p)
	default:
		return nil, fmt.Errorf("format %q: %w", format, pkg.ErrInvalidParameter)
	}
}

// Save writes the profile to path in the format its extension implies.
func (p *Profile) Save(path string) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := p.Encode(format)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Normalize fills in defaults.
func (p *Profile) Normalize() {
	if p.StagingSize == 0 {
		p.StagingSize = DefaultStagingSize
	}
	if p.MaxPacket == 0 {
		p.MaxPacket = DefaultMaxPacket
	}
	for i := range p.LUNs {
		l := &p.LUNs[i]
		l.Kind = strings.ToLower(l.Kind)
		switch {
		case l.Kind == KindSPINOR && l.JEDEC == 0:
			l.JEDEC = DefaultJEDEC
		case l.Size != 0:
		case l.Kind == KindRAM:
			l.Size = DefaultRAMSize
		case l.Kind == KindFlash:
			l.Size = DefaultFlashSize
		case l.Kind == KindSDCard:
			l.Size = DefaultSDSize
		}
	}
}

// Validate reports every problem with the profile.
func (p *Profile) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, pkg.ErrInvalidParameter)...))
	}

	if p.StagingSize <= 0 || p.StagingSize%512 != 0 {
		add("stagingSize %d is not a positive multiple of 512", p.StagingSize)
	}
	switch p.MaxPacket {
	case 8, 16, 32, 64:
	default:
		add("maxPacket %d is not 8, 16, 32 or 64", p.MaxPacket)
	}
	if p.MaxPacket == 8 {
		add("maxPacket 8 cannot carry a command wrapper")
	}
	if p.Serial.SendSize < 0 || p.Serial.ReceivePackets < 0 {
		add("negative serial buffer size")
	}
	if len(p.LUNs) == 0 {
		add("no logical units")
	}
	if len(p.LUNs) > MaxLUNs {
		add("%d logical units, at most %d", len(p.LUNs), MaxLUNs)
	}

	for i, l := range p.LUNs {
		switch l.Kind {
		case KindRAM, KindSDCard:
			if l.Size <= 0 || l.Size%512 != 0 {
				add("lun %d: size %d is not a positive multiple of 512", i, l.Size)
			}
		case KindFlash:
			if l.Size <= 0 || l.Size%4096 != 0 {
				add("lun %d: flash size %d is not a positive multiple of 4096", i, l.Size)
			}
		case KindSPINOR:
			if l.JEDEC > 0xFFFFFF {
				add("lun %d: JEDEC id 0x%X exceeds 24 bits", i, l.JEDEC)
			}
		default:
			add("lun %d: unknown kind %q", i, l.Kind)
		}
		if l.Kind == KindSDCard && (l.Instance < 0 || l.Instance > 1) {
			add("lun %d: sdcard instance %d is not 0 or 1", i, l.Instance)
		} else if l.Kind != KindSDCard && l.Instance != 0 {
			add("lun %d: %s has no instance %d", i, l.Kind, l.Instance)
		}
	}
	return errors.Join(errs...)
}
