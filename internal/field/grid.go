package field

import (
	"fmt"
	"math"

	"github.com/banshee-data/trackfit/internal/geom"
)

// GridProvider samples a field map on a regular cartesian grid with
// nearest-cell lookup. The Cache remembers the bounds of the last cell so
// consecutive queries inside the same cell skip the index computation,
// which is the dominant access pattern during stepping.
type GridProvider struct {
	origin   geom.Vec3
	spacing  geom.Vec3
	nx, ny   int
	nz       int
	values   []geom.Vec3 // len nx*ny*nz, x-fastest
	fallback geom.Vec3   // returned outside the grid
}

// NewGrid builds a grid provider. values must have length nx*ny*nz ordered
// x-fastest, then y, then z.
func NewGrid(origin, spacing geom.Vec3, nx, ny, nz int, values []geom.Vec3, fallback geom.Vec3) (*GridProvider, error) {
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("field grid: non-positive dimensions %dx%dx%d", nx, ny, nz)
	}
	if len(values) != nx*ny*nz {
		return nil, fmt.Errorf("field grid: have %d values, want %d", len(values), nx*ny*nz)
	}
	if spacing[0] <= 0 || spacing[1] <= 0 || spacing[2] <= 0 {
		return nil, fmt.Errorf("field grid: non-positive spacing %v", spacing)
	}
	return &GridProvider{
		origin: origin, spacing: spacing,
		nx: nx, ny: ny, nz: nz,
		values: values, fallback: fallback,
	}, nil
}

// GetField returns the cell value containing pos, serving repeated lookups
// in the same cell from the cache.
func (p *GridProvider) GetField(pos geom.Vec3, cache *Cache) geom.Vec3 {
	if cache != nil && cache.valid && inBounds(pos, cache.min, cache.max) {
		return cache.value
	}
	ix, ok := cellIndex(pos[0], p.origin[0], p.spacing[0], p.nx)
	iy, okY := cellIndex(pos[1], p.origin[1], p.spacing[1], p.ny)
	iz, okZ := cellIndex(pos[2], p.origin[2], p.spacing[2], p.nz)
	if !ok || !okY || !okZ {
		return p.fallback
	}
	v := p.values[(iz*p.ny+iy)*p.nx+ix]
	if cache != nil {
		cache.valid = true
		cache.min = geom.Vec3{
			p.origin[0] + float64(ix)*p.spacing[0],
			p.origin[1] + float64(iy)*p.spacing[1],
			p.origin[2] + float64(iz)*p.spacing[2],
		}
		cache.max = cache.min.Add(p.spacing)
		cache.value = v
	}
	return v
}

func cellIndex(x, origin, spacing float64, n int) (int, bool) {
	i := int(math.Floor((x - origin) / spacing))
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

func inBounds(p, min, max geom.Vec3) bool {
	return p[0] >= min[0] && p[0] < max[0] &&
		p[1] >= min[1] && p[1] < max[1] &&
		p[2] >= min[2] && p[2] < max[2]
}
