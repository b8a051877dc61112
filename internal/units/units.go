// Package units defines the natural unit system shared by the propagation
// and fitting code. Lengths are expressed in millimeters, times in
// nanoseconds, energies and momenta in GeV and electric charge in units of
// the elementary charge. All numeric constants in the toolkit assume these
// scales; helpers convert at the boundaries.
package units

// Base unit constants. Multiply a value by the constant to express it in
// natural units; divide to convert back.
const (
	Mm = 1.0
	Cm = 10.0
	M  = 1e3

	Ns = 1.0
	Us = 1e3
	S  = 1e9

	GeV = 1.0
	MeV = 1e-3
	TeV = 1e3

	// E is the elementary charge.
	E = 1.0

	// T expresses one Tesla in GeV/(e·mm·c). With this scale the Lorentz
	// term q/p · d × B directly yields curvature per millimeter of path.
	T = 0.000299792458

	// C is the speed of light in mm/ns; velocities divide by it.
	C = 299.792458
)

// ToTesla converts a field component from natural units back to Tesla.
func ToTesla(b float64) float64 { return b / T }

// ToMeter converts a length from natural units (mm) to meters.
func ToMeter(l float64) float64 { return l / M }
