package aforo

import "math"

// Point is a position in image pixel coordinates (origin top-left,
// y grows downward).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance to q.
func (p Point) Distance(q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Segment is a line segment between two points.
type Segment struct {
	A Point `json:"a"`
	B Point `json:"b"`
}

// DistanceTo returns the distance from p to the segment, projecting onto
// the segment and clamping the projection parameter to [0,1].
func (s Segment) DistanceTo(p Point) float64 {
	dx := s.B.X - s.A.X
	dy := s.B.Y - s.A.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return p.Distance(s.A)
	}
	t := ((p.X-s.A.X)*dx + (p.Y-s.A.Y)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return p.Distance(Point{X: s.A.X + t*dx, Y: s.A.Y + t*dy})
}

// PolygonContains reports whether p lies inside the polygon using a
// horizontal ray cast. Vertices are implicitly closed; crossings toggle
// on strict-greater at the lower vertex and less-or-equal at the upper
// one so a ray through a vertex is counted once.
func PolygonContains(poly []Point, p Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := poly[i].X, poly[i].Y
		xj, yj := poly[j].X, poly[j].Y
		if ((yi > p.Y) != (yj > p.Y)) &&
			(p.X < (xj-xi)*(p.Y-yi)/(yj-yi)+xi) {
			inside = !inside
		}
		j = i
	}
	return inside
}

// PolygonCentroid returns the vertex mean. Good enough for access zones,
// which are small and convex in practice.
func PolygonCentroid(poly []Point) Point {
	if len(poly) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, v := range poly {
		sx += v.X
		sy += v.Y
	}
	n := float64(len(poly))
	return Point{X: sx / n, Y: sy / n}
}

// PolygonNearRadius returns the membership radius for proximity tests:
// the largest vertex distance from the centroid, scaled by 1.8.
func PolygonNearRadius(poly []Point) float64 {
	c := PolygonCentroid(poly)
	var max float64
	for _, v := range poly {
		if d := c.Distance(v); d > max {
			max = d
		}
	}
	return max * 1.8
}

// NearPolygon reports whether p is inside the polygon or within the near
// radius of its centroid.
func NearPolygon(poly []Point, p Point) bool {
	if PolygonContains(poly, p) {
		return true
	}
	return PolygonCentroid(poly).Distance(p) <= PolygonNearRadius(poly)
}

// gateNearDistancePx is the perpendicular distance under which a point
// counts as touching a gate segment.
const gateNearDistancePx = 50.0

// NearGate reports whether p is within the gate proximity distance of s.
func NearGate(s Segment, p Point) bool {
	return s.DistanceTo(p) < gateNearDistancePx
}

// PathLength returns the cumulative inter-frame segment length of a
// trajectory, in pixels.
func PathLength(points []TrackPoint) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		dx := points[i].X - points[i-1].X
		dy := points[i].Y - points[i-1].Y
		total += math.Sqrt(dx*dx + dy*dy)
	}
	return total
}

// NetDisplacement returns the chord length from the first to the last
// position, in pixels.
func NetDisplacement(points []TrackPoint) float64 {
	if len(points) < 2 {
		return 0
	}
	first := points[0]
	last := points[len(points)-1]
	dx := last.X - first.X
	dy := last.Y - first.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// DirectionChanges counts the indices where the angle between consecutive
// non-degenerate displacement vectors exceeds thresholdRad. Zero-length
// displacements are skipped rather than counted.
func DirectionChanges(points []TrackPoint, thresholdRad float64) int {
	var prevDX, prevDY float64
	havePrev := false
	changes := 0
	for i := 1; i < len(points); i++ {
		dx := points[i].X - points[i-1].X
		dy := points[i].Y - points[i-1].Y
		if dx == 0 && dy == 0 {
			continue
		}
		if havePrev {
			if angleBetween(prevDX, prevDY, dx, dy) > thresholdRad {
				changes++
			}
		}
		prevDX, prevDY = dx, dy
		havePrev = true
	}
	return changes
}

// angleBetween returns the absolute angle between two vectors in radians.
func angleBetween(ax, ay, bx, by float64) float64 {
	dot := ax*bx + ay*by
	cross := ax*by - ay*bx
	return math.Abs(math.Atan2(cross, dot))
}
