package field

import "github.com/banshee-data/trackfit/internal/geom"

// ConstantProvider is a homogeneous field, the common case for test setups
// and solenoid cores.
type ConstantProvider struct {
	B geom.Vec3
}

// NewConstant builds a constant-field provider.
func NewConstant(b geom.Vec3) *ConstantProvider {
	return &ConstantProvider{B: b}
}

// GetField returns the constant field; the cache is untouched.
func (p *ConstantProvider) GetField(_ geom.Vec3, _ *Cache) geom.Vec3 {
	return p.B
}
