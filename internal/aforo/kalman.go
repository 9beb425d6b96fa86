package aforo

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// boxKalman is a constant-velocity Kalman filter over a bounding box.
// State is (cx, cy, area, aspect, vx, vy, vArea); the measurement is the
// first four components. Aspect ratio carries no velocity term.
//
// Noise shaping: measurement noise is inflated on the shape components,
// initial covariance is large on the unobserved velocities, and process
// noise is small on velocity so boxes coast smoothly through misses.

// One frame per step.
var kalmanF = mat.NewDense(7, 7, []float64{
	1, 0, 0, 0, 1, 0, 0,
	0, 1, 0, 0, 0, 1, 0,
	0, 0, 1, 0, 0, 0, 1,
	0, 0, 0, 1, 0, 0, 0,
	0, 0, 0, 0, 1, 0, 0,
	0, 0, 0, 0, 0, 1, 0,
	0, 0, 0, 0, 0, 0, 1,
})

var kalmanH = mat.NewDense(4, 7, []float64{
	1, 0, 0, 0, 0, 0, 0,
	0, 1, 0, 0, 0, 0, 0,
	0, 0, 1, 0, 0, 0, 0,
	0, 0, 0, 1, 0, 0, 0,
})

var kalmanQ = diagDense(1, 1, 1, 1, 0.01, 0.01, 0.0001)

var kalmanR = diagDense(1, 1, 10, 10)

func diagDense(vals ...float64) *mat.Dense {
	n := len(vals)
	d := mat.NewDense(n, n, nil)
	for i, v := range vals {
		d.Set(i, i, v)
	}
	return d
}

type boxKalman struct {
	x *mat.VecDense // State vector
	p *mat.Dense    // Covariance matrix

	degenerate bool
}

// newBoxKalman initializes a filter at the measured box with zero
// velocity and high velocity uncertainty.
func newBoxKalman(b BBox) *boxKalman {
	cx, cy, s, r := boxToMeasurement(b)
	x := mat.NewVecDense(7, []float64{cx, cy, s, r, 0, 0, 0})
	p := diagDense(10, 10, 10, 10, 10000, 10000, 10000)
	return &boxKalman{x: x, p: p}
}

// predict steps the filter one frame and returns the predicted box.
// A non-positive or non-finite predicted area marks the filter degenerate.
func (k *boxKalman) predict() BBox {
	// Area must stay positive under its velocity; zero the velocity when
	// it would not.
	if k.x.AtVec(6)+k.x.AtVec(2) <= 0 {
		k.x.SetVec(6, 0)
	}

	var nx mat.VecDense
	nx.MulVec(kalmanF, k.x)
	k.x.CopyVec(&nx)

	var fp mat.Dense
	fp.Mul(kalmanF, k.p)
	var np mat.Dense
	np.Mul(&fp, kalmanF.T())
	np.Add(&np, kalmanQ)
	k.p = &np

	s := k.x.AtVec(2)
	if !(s > 0) || math.IsNaN(s) || math.IsInf(s, 0) {
		k.degenerate = true
	}
	return k.stateBox()
}

// update folds a measured box into the state.
func (k *boxKalman) update(b BBox) {
	cx, cy, s, r := boxToMeasurement(b)
	z := mat.NewVecDense(4, []float64{cx, cy, s, r})

	var hx mat.VecDense
	hx.MulVec(kalmanH, k.x)
	var y mat.VecDense
	y.SubVec(z, &hx)

	var ph mat.Dense
	ph.Mul(k.p, kalmanH.T())
	var innov mat.Dense
	innov.Mul(kalmanH, &ph)
	innov.Add(&innov, kalmanR)

	var innovInv mat.Dense
	if err := innovInv.Inverse(&innov); err != nil {
		k.degenerate = true
		return
	}

	var gain mat.Dense
	gain.Mul(&ph, &innovInv)

	var ky mat.VecDense
	ky.MulVec(&gain, &y)
	k.x.AddVec(k.x, &ky)

	var gh mat.Dense
	gh.Mul(&gain, kalmanH)
	ikh := diagDense(1, 1, 1, 1, 1, 1, 1)
	ikh.Sub(ikh, &gh)
	var np mat.Dense
	np.Mul(ikh, k.p)
	k.p = &np
}

// stateBox converts the current state back to box corners.
func (k *boxKalman) stateBox() BBox {
	return measurementToBox(k.x.AtVec(0), k.x.AtVec(1), k.x.AtVec(2), k.x.AtVec(3))
}

// boxToMeasurement converts corners to (cx, cy, area, aspect).
func boxToMeasurement(b BBox) (cx, cy, s, r float64) {
	w := b.Width()
	h := b.Height()
	cx = b.X1 + w/2
	cy = b.Y1 + h/2
	s = w * h
	if h > 0 {
		r = w / h
	} else {
		r = 1
	}
	return cx, cy, s, r
}

// measurementToBox converts (cx, cy, area, aspect) to corners.
func measurementToBox(cx, cy, s, r float64) BBox {
	if s <= 0 || r <= 0 {
		return BBox{X1: cx, Y1: cy, X2: cx, Y2: cy}
	}
	w := math.Sqrt(s * r)
	h := s / w
	return BBox{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}
