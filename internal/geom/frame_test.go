package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertOrthonormal(t *testing.T, f Frame) {
	t.Helper()
	require.InDelta(t, 1.0, f.U.Norm(), 1e-14)
	require.InDelta(t, 1.0, f.V.Norm(), 1e-14)
	require.InDelta(t, 1.0, f.W.Norm(), 1e-14)
	assert.InDelta(t, 0.0, f.U.Dot(f.V), 1e-14)
	assert.InDelta(t, 0.0, f.V.Dot(f.W), 1e-14)
	assert.InDelta(t, 0.0, f.W.Dot(f.U), 1e-14)
	// Right-handed: U x V = W.
	handed := f.U.Cross(f.V).Sub(f.W)
	assert.InDelta(t, 0.0, handed.Norm(), 1e-14)
}

func TestFrameLocalGlobalRoundTrip(t *testing.T) {
	t.Parallel()

	f := CurvilinearFrame(V(0.3, -0.4, 0.87).Normalized())
	l := V(1.5, -2.5, 0.25)
	back := f.ToLocal(f.ToGlobal(l))
	for i := 0; i < 3; i++ {
		assert.InDelta(t, l[i], back[i], 1e-14)
	}
}

func TestFrameCol(t *testing.T) {
	t.Parallel()

	f := Frame{U: V(1, 0, 0), V: V(0, 1, 0), W: V(0, 0, 1)}
	assert.Equal(t, f.U, f.Col(0))
	assert.Equal(t, f.V, f.Col(1))
	assert.Equal(t, f.W, f.Col(2))
}

func TestCurvilinearFrame(t *testing.T) {
	t.Parallel()

	t.Run("generic direction", func(t *testing.T) {
		t.Parallel()
		dir := V(1, 2, -3).Normalized()
		f := CurvilinearFrame(dir)
		assertOrthonormal(t, f)
		// W tracks the direction, U stays transverse.
		assert.InDelta(t, 0.0, f.W.Sub(dir).Norm(), 1e-14)
		assert.InDelta(t, 0.0, f.U.Z(), 1e-14)
	})

	t.Run("direction along z degenerates to global axes", func(t *testing.T) {
		t.Parallel()
		f := CurvilinearFrame(V(0, 0, 1))
		assertOrthonormal(t, f)
		assert.Equal(t, V(1, 0, 0), f.U)
		assert.Equal(t, V(0, 1, 0), f.V)
	})

	t.Run("transverse direction", func(t *testing.T) {
		t.Parallel()
		f := CurvilinearFrame(V(math.Cos(0.3), math.Sin(0.3), 0))
		assertOrthonormal(t, f)
		assert.InDelta(t, 0.0, f.U.Z(), 1e-14)
	})
}
