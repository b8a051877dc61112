package geom

// Frame is a right-handed orthonormal reference frame stored as three
// column vectors: U and V span the local measurement plane, W is the
// normal (for line-like frames, V runs along the wire and W completes the
// triad).
type Frame struct {
	U, V, W Vec3
}

// Col returns column i of the frame (0 = U, 1 = V, 2 = W).
func (f Frame) Col(i int) Vec3 {
	switch i {
	case 0:
		return f.U
	case 1:
		return f.V
	default:
		return f.W
	}
}

// ToGlobal maps frame-local components onto the global axes.
func (f Frame) ToGlobal(l Vec3) Vec3 {
	return f.U.Scale(l[0]).Add(f.V.Scale(l[1])).Add(f.W.Scale(l[2]))
}

// ToLocal projects a global vector onto the frame axes.
func (f Frame) ToLocal(g Vec3) Vec3 {
	return Vec3{f.U.Dot(g), f.V.Dot(g), f.W.Dot(g)}
}

// CurvilinearFrame builds the frame defined purely by a track direction:
// W along the direction, U transverse in the xy-plane, V completing the
// right-handed triad. For a direction along z the frame degenerates to the
// global axes.
func CurvilinearFrame(dir Vec3) Frame {
	w := dir.Normalized()
	perp := w.Perp()
	var u Vec3
	if perp > 0 {
		u = Vec3{-w[1] / perp, w[0] / perp, 0}
	} else {
		u = Vec3{1, 0, 0}
	}
	v := w.Cross(u)
	return Frame{U: u, V: v, W: w}
}
