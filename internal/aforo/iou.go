package aforo

// BBox is an axis-aligned box in pixel coordinates, corners inclusive.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the box width, never negative.
func (b BBox) Width() float64 {
	if b.X2 < b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height returns the box height, never negative.
func (b BBox) Height() float64 {
	if b.Y2 < b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Area returns the box area.
func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the box centroid.
func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// nominalBoxPx is the box side substituted when a detection carries only
// a centroid and no extent.
const nominalBoxPx = 40.0

// DetectionBox returns the detection's bounding box, substituting a
// nominal square when the input shape carried no extent.
func DetectionBox(d Detection) BBox {
	w, h := d.W, d.H
	if w <= 0 || h <= 0 {
		w, h = nominalBoxPx, nominalBoxPx
	}
	return BBox{
		X1: d.X - w/2,
		Y1: d.Y - h/2,
		X2: d.X + w/2,
		Y2: d.Y + h/2,
	}
}

// IoU returns the intersection-over-union of two boxes in [0,1].
func IoU(a, b BBox) float64 {
	ix1 := a.X1
	if b.X1 > ix1 {
		ix1 = b.X1
	}
	iy1 := a.Y1
	if b.Y1 > iy1 {
		iy1 = b.Y1
	}
	ix2 := a.X2
	if b.X2 < ix2 {
		ix2 = b.X2
	}
	iy2 := a.Y2
	if b.Y2 < iy2 {
		iy2 = b.Y2
	}
	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
