package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/mscvcp/pkg"
)

const yamlProfile = `
vendor: Acme
product: Disk
writeProtect: true
stagingSize: 2048
serial:
  sendSize: 512
luns:
  - kind: flash
  - kind: spinor
    jedec: 0xEF4018
  - kind: sdcard
    instance: 1
    absent: true
  - kind: RAM
    image: disk.img
    size: 65536
`

const tomlProfile = `
vendor = "Acme"
maxPacket = 32

[serial]
receivePackets = 4

[[luns]]
kind = "ram"
size = 4096

[[luns]]
kind = "spinor"
`

const jsonProfile = `{
  "product": "Flash",
  "luns": [{"kind": "flash", "size": 8192, "readOnly": true}]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	p, err := Load(writeFile(t, "board.yaml", yamlProfile))
	require.NoError(t, err)

	assert.Equal(t, "Acme", p.Vendor)
	assert.Equal(t, "Disk", p.Product)
	assert.True(t, p.WriteProtect)
	assert.Equal(t, 2048, p.StagingSize)
	assert.Equal(t, DefaultMaxPacket, p.MaxPacket)
	assert.Equal(t, 512, p.Serial.SendSize)

	require.Len(t, p.LUNs, 4)
	assert.Equal(t, LUN{Kind: KindFlash, Size: DefaultFlashSize}, p.LUNs[0])
	assert.Equal(t, LUN{Kind: KindSPINOR, JEDEC: 0xEF4018}, p.LUNs[1])
	assert.Equal(t, LUN{Kind: KindSDCard, Size: DefaultSDSize, Instance: 1, Absent: true}, p.LUNs[2])
	assert.Equal(t, LUN{Kind: KindRAM, Image: "disk.img", Size: 65536}, p.LUNs[3])
}

func TestLoadTOML(t *testing.T) {
	p, err := Load(writeFile(t, "board.toml", tomlProfile))
	require.NoError(t, err)

	assert.Equal(t, "Acme", p.Vendor)
	assert.Equal(t, 32, p.MaxPacket)
	assert.Equal(t, DefaultStagingSize, p.StagingSize)
	assert.Equal(t, 4, p.Serial.ReceivePackets)
	require.Len(t, p.LUNs, 2)
	assert.Equal(t, LUN{Kind: KindRAM, Size: 4096}, p.LUNs[0])
	assert.Equal(t, LUN{Kind: KindSPINOR, JEDEC: DefaultJEDEC}, p.LUNs[1])
}

func TestLoadJSON(t *testing.T) {
	p, err := Load(writeFile(t, "board.json", jsonProfile))
	require.NoError(t, err)
	assert.Equal(t, "Flash", p.Product)
	require.Len(t, p.LUNs, 1)
	assert.True(t, p.LUNs[0].ReadOnly)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		err     error
	}{
		{"unknown extension", "board.ini", "", pkg.ErrInvalidParameter},
		{"no luns", "board.yaml", "vendor: x\n", pkg.ErrInvalidParameter},
		{"unknown kind", "board.yaml", "luns: [{kind: tape}]\n", pkg.ErrInvalidParameter},
		{"bad staging", "board.json", `{"stagingSize": 100, "luns": [{"kind": "ram"}]}`, pkg.ErrInvalidParameter},
		{"bad packet size", "board.toml", "maxPacket = 48\n[[luns]]\nkind = \"ram\"\n", pkg.ErrInvalidParameter},
		{"sd instance", "board.yaml", "luns: [{kind: sdcard, instance: 2}]\n", pkg.ErrInvalidParameter},
		{"ram instance", "board.yaml", "luns: [{kind: ram, instance: 1}]\n", pkg.ErrInvalidParameter},
		{"odd ram size", "board.yaml", "luns: [{kind: ram, size: 1000}]\n", pkg.ErrInvalidParameter},
		{"odd flash size", "board.yaml", "luns: [{kind: flash, size: 1024}]\n", pkg.ErrInvalidParameter},
		{"too many", "board.yaml", "luns: [{kind: ram}, {kind: ram}, {kind: ram}, {kind: ram}, {kind: ram}]\n", pkg.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("unknown field", func(t *testing.T) {
		_, err := Load(writeFile(t, "board.yaml", "colour: red\nluns: [{kind: ram}]\n"))
		assert.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	p := &Profile{
		StagingSize: 100,
		MaxPacket:   48,
		LUNs:        []LUN{{Kind: "tape"}, {Kind: KindSDCard, Size: 512, Instance: 5}},
	}
	err := p.Validate()
	require.Error(t, err)
	for _, want := range []string{"stagingSize", "maxPacket", "tape", "instance 5"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSaveAndReload(t *testing.T) {
	want := Default()
	want.Vendor = "Acme"
	want.LUNs = append(want.LUNs, LUN{Kind: KindSPINOR, JEDEC: 0xEF4017})

	for _, name := range []string{"out.json", "out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, want.Save(path))
			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestDefault(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	assert.Equal(t, []LUN{{Kind: KindRAM, Size: DefaultRAMSize}}, p.LUNs)
}
