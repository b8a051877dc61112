package fitter

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/track"
)

// GainMatrixUpdater applies the Kalman gain-matrix filter step: it
// combines predicted parameters with a measurement into filtered
// parameters and the chi-square of the filtered residual.
type GainMatrixUpdater struct{}

// Update filters the predicted parameters with the measurement. The
// predicted parameters must carry a covariance. A singular innovation
// covariance is reported as ErrSingularCovariance, never as NaN output.
func (GainMatrixUpdater) Update(predicted track.BoundParameters, m *Measurement) (track.BoundParameters, float64, error) {
	if predicted.Covariance == nil {
		return track.BoundParameters{}, 0, fmt.Errorf("update: predicted parameters carry no covariance")
	}
	if err := m.Validate(); err != nil {
		return track.BoundParameters{}, 0, fmt.Errorf("update: %w", err)
	}

	dim := m.Dim()
	h := m.Projector()
	p := predicted.Covariance

	// Innovation covariance S = H P Ht + R.
	var pht mat.Dense
	pht.Mul(p, h.T())
	var s mat.Dense
	s.Mul(h, &pht)
	s.Add(&s, m.Covariance)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return track.BoundParameters{}, 0, fmt.Errorf("update: %w: %v", ErrSingularCovariance, err)
	}

	// Gain K = P Ht S^-1.
	var gain mat.Dense
	gain.Mul(&pht, &sInv)

	// Filtered state vector.
	residual := m.Residual(predicted.Vector)
	filtered := predicted.Vector
	for row := 0; row < track.BoundSize; row++ {
		var corr float64
		for col := 0; col < dim; col++ {
			corr += gain.At(row, col) * residual[col]
		}
		filtered[row] += corr
	}
	filtered[track.Phi] = track.WrapPhi(filtered[track.Phi])
	filtered[track.QOverP] = track.ClampQOverP(filtered[track.QOverP])

	// Filtered covariance (I - K H) P.
	var kh mat.Dense
	kh.Mul(&gain, h)
	ikh := identity(track.BoundSize)
	ikh.Sub(ikh, &kh)
	var pf mat.Dense
	pf.Mul(ikh, p)
	filteredCov := track.SymmetrizeDense(track.BoundSize, &pf)

	// Chi-square from the filtered residual with its reduced covariance
	// (I - H K) R.
	var hk mat.Dense
	hk.Mul(h, &gain)
	ihk := identity(dim)
	ihk.Sub(ihk, &hk)
	var rf mat.Dense
	rf.Mul(ihk, m.Covariance)

	var rfInv mat.Dense
	if err := rfInv.Inverse(&rf); err != nil {
		return track.BoundParameters{}, 0, fmt.Errorf("update: filtered residual covariance: %w: %v", ErrSingularCovariance, err)
	}
	resF := m.Residual(filtered)
	var chi2 float64
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			chi2 += resF[i] * rfInv.At(i, j) * resF[j]
		}
	}

	return track.BoundParameters{Vector: filtered, Covariance: filteredCov}, chi2, nil
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
