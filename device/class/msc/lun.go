package msc

import (
	"sync"

	"github.com/ardnew/mscvcp/pkg"
	"github.com/ardnew/mscvcp/storage"
)

// LUNSource names a driver instance to open as a logical unit.
type LUNSource struct {
	Driver   storage.Driver
	Instance int
}

// Registry maps logical unit numbers to opened backends. It is realized
// once, on the first Get Max LUN of a session, by opening every source in
// order. Sources that fail to open are left out and later sources move up.
// After realization the table is read-only.
type Registry struct {
	once     sync.Once
	sources  []LUNSource
	backends []storage.Backend
	realized bool
}

// NewRegistry creates an unrealized registry. At most MaxLUNs sources are
// kept.
func NewRegistry(sources ...LUNSource) *Registry {
	if len(sources) > MaxLUNs {
		pkg.LogWarn(pkg.ComponentBOT, "too many logical units",
			"requested", len(sources), "max", MaxLUNs)
		sources = sources[:MaxLUNs]
	}
	return &Registry{sources: sources}
}

// Realize opens every source the first time it is called and returns the
// number of logical units.
func (r *Registry) Realize() int {
	r.once.Do(func() {
		for _, src := range r.sources {
			b, err := src.Driver.Open(src.Instance)
			if err != nil {
				pkg.LogWarn(pkg.ComponentBOT, "logical unit unavailable",
					"driver", src.Driver.Name(), "instance", src.Instance, "error", err)
				continue
			}
			info := b.Info()
			pkg.LogInfo(pkg.ComponentBOT, "logical unit ready",
				"lun", len(r.backends), "driver", src.Driver.Name(),
				"sectors", info.TotalSectors, "kind", info.SubType.String())
			r.backends = append(r.backends, b)
		}
		r.realized = true
	})
	return len(r.backends)
}

// Realized reports whether Realize has run.
func (r *Registry) Realized() bool {
	return r.realized
}

// Count returns the number of realized logical units.
func (r *Registry) Count() int {
	return len(r.backends)
}

// Backend returns the backend of a logical unit, or nil.
func (r *Registry) Backend(lun uint8) storage.Backend {
	if int(lun) >= len(r.backends) {
		return nil
	}
	return r.backends[lun]
}
