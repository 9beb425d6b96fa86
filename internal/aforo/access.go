package aforo

import (
	"fmt"
	"sort"
)

// AccessSet is the ordered access configuration of one dataset. Accesses
// are held sorted by id so every proximity tie resolves to the
// lexicographically lowest id.
type AccessSet struct {
	accesses []AccessPoint
}

// NewAccessSet copies and sorts the accesses by id.
func NewAccessSet(accesses []AccessPoint) *AccessSet {
	s := &AccessSet{accesses: make([]AccessPoint, len(accesses))}
	copy(s.accesses, accesses)
	sort.Slice(s.accesses, func(i, j int) bool {
		return s.accesses[i].ID < s.accesses[j].ID
	})
	return s
}

// Len returns the number of accesses.
func (s *AccessSet) Len() int { return len(s.accesses) }

// All returns the accesses in id order.
func (s *AccessSet) All() []AccessPoint { return s.accesses }

// Validate checks the constraints the pipeline depends on: at least one
// access, every cardinal valid, no cardinal used twice.
func (s *AccessSet) Validate() error {
	if len(s.accesses) == 0 {
		return fmt.Errorf("no accesses configured: %w", ErrConfigIncomplete)
	}
	seen := make(map[Cardinal]string, 4)
	for _, a := range s.accesses {
		if CardinalIndex(a.Cardinal) == 0 {
			return fmt.Errorf("access %q has invalid cardinal %q: %w", a.ID, a.Cardinal, ErrConfigIncomplete)
		}
		if prev, ok := seen[a.Cardinal]; ok {
			return fmt.Errorf("accesses %q and %q share cardinal %s: %w", prev, a.ID, a.Cardinal, ErrConfigIncomplete)
		}
		seen[a.Cardinal] = a.ID
	}
	return nil
}

// Classify maps a point to an access using the membership ladder:
// polygon containment, then polygon proximity, then gate proximity, then
// nearest centroid. Returns false only when the set is empty.
func (s *AccessSet) Classify(p Point) (*AccessPoint, bool) {
	// Containment.
	for i := range s.accesses {
		a := &s.accesses[i]
		if len(a.Polygon) >= 3 && PolygonContains(a.Polygon, p) {
			return a, true
		}
	}

	// Near-polygon: closest polygon centroid among those in radius.
	var best *AccessPoint
	bestDist := 0.0
	for i := range s.accesses {
		a := &s.accesses[i]
		if len(a.Polygon) < 3 {
			continue
		}
		c := PolygonCentroid(a.Polygon)
		d := c.Distance(p)
		if d <= PolygonNearRadius(a.Polygon) {
			if best == nil || d < bestDist {
				best = a
				bestDist = d
			}
		}
	}
	if best != nil {
		return best, true
	}

	// Near-gate.
	for i := range s.accesses {
		a := &s.accesses[i]
		if a.Gate == nil {
			continue
		}
		d := a.Gate.DistanceTo(p)
		if d < gateNearDistancePx {
			if best == nil || d < bestDist {
				best = a
				bestDist = d
			}
		}
	}
	if best != nil {
		return best, true
	}

	return s.Nearest(p)
}

// Nearest returns the access whose configured centroid is closest to p.
// Ties resolve to the lowest id by iteration order.
func (s *AccessSet) Nearest(p Point) (*AccessPoint, bool) {
	var best *AccessPoint
	bestDist := 0.0
	for i := range s.accesses {
		a := &s.accesses[i]
		d := Point{X: a.X, Y: a.Y}.Distance(p)
		if best == nil || d < bestDist {
			best = a
			bestDist = d
		}
	}
	return best, best != nil
}
