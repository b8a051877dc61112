// Package field supplies the magnetic-field abstraction the steppers
// integrate against. Providers are immutable and safe to share; the
// per-propagation locality cache lives in a Cache value owned by a single
// stepper state, never shared across concurrent fits.
package field

import "github.com/banshee-data/trackfit/internal/geom"

// Cache carries per-propagation locality state between field lookups.
// A zero Cache is valid and means "nothing cached yet".
type Cache struct {
	valid bool
	// cell bounds of the last lookup, natural units (mm)
	min, max geom.Vec3
	value    geom.Vec3
}

// Provider supplies the magnetic field vector (natural units: GeV/(e·mm))
// at a global position. Implementations must be safe for concurrent use as
// long as each call chain threads its own Cache.
type Provider interface {
	GetField(pos geom.Vec3, cache *Cache) geom.Vec3
}
