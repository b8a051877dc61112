package track

import "gonum.org/v1/gonum/mat"

// Similarity computes the covariance transform J·C·Jᵗ and returns it as a
// symmetric matrix. All covariance updates in the toolkit go through this
// (or the equivalent gain-matrix form) so symmetry survives floating point:
// the product is explicitly symmetrized before storage.
func Similarity(j mat.Matrix, c *mat.SymDense) *mat.SymDense {
	rows, _ := j.Dims()
	var jc, jcjt mat.Dense
	jc.Mul(j, c)
	jcjt.Mul(&jc, j.T())
	return SymmetrizeDense(rows, &jcjt)
}

// SymmetrizeDense averages a nearly-symmetric dense matrix into a SymDense.
func SymmetrizeDense(n int, m *mat.Dense) *mat.SymDense {
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for k := i; k < n; k++ {
			out.SetSym(i, k, 0.5*(m.At(i, k)+m.At(k, i)))
		}
	}
	return out
}

// CloneSym returns a deep copy of a symmetric matrix, or nil for nil input.
func CloneSym(c *mat.SymDense) *mat.SymDense {
	if c == nil {
		return nil
	}
	n := c.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	out.CopySym(c)
	return out
}

// DiagonalSym builds a symmetric matrix with the given diagonal.
func DiagonalSym(diag []float64) *mat.SymDense {
	out := mat.NewSymDense(len(diag), nil)
	for i, v := range diag {
		out.SetSym(i, i, v)
	}
	return out
}
