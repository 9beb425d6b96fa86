package aforo

import "fmt"

// SegmentTrack resolves the single movement of a finalized track against
// the access set: the first position that classifies to an access is the
// entry, the last position classifying to a different access is the
// exit, and a track that never leaves its entry access is a U-turn
// candidate. When the two track endpoints have differing nearest
// accesses, the endpoints win and the movement spans the whole track;
// this anchors events whose middle portion lost detections inside the
// intersection.
//
// Returns ErrDegenerateTrack when no movement can be formed.
func SegmentTrack(tr Track, accesses *AccessSet) (origin, dest *AccessPoint, entryFrame, exitFrame int, err error) {
	pts := tr.Points
	if len(pts) < 2 || accesses.Len() == 0 {
		return nil, nil, 0, 0, fmt.Errorf("track %s has no segmentable span: %w", tr.ID, ErrDegenerateTrack)
	}

	var entry *AccessPoint
	entryIdx := -1
	for i := range pts {
		if a, ok := accesses.Classify(Point{X: pts[i].X, Y: pts[i].Y}); ok {
			entry = a
			entryIdx = i
			break
		}
	}
	if entry == nil {
		return nil, nil, 0, 0, fmt.Errorf("track %s never reaches an access: %w", tr.ID, ErrDegenerateTrack)
	}

	var exit *AccessPoint
	exitIdx := -1
	for i := len(pts) - 1; i > entryIdx; i-- {
		a, ok := accesses.Classify(Point{X: pts[i].X, Y: pts[i].Y})
		if ok && a.ID != entry.ID {
			exit = a
			exitIdx = i
			break
		}
	}
	if exit == nil {
		// U-turn candidate.
		exit = entry
		exitIdx = len(pts) - 1
	}

	firstNear, okFirst := accesses.Nearest(Point{X: pts[0].X, Y: pts[0].Y})
	lastNear, okLast := accesses.Nearest(Point{X: pts[len(pts)-1].X, Y: pts[len(pts)-1].Y})
	if okFirst && okLast && firstNear.ID != lastNear.ID {
		entry, exit = firstNear, lastNear
		entryIdx, exitIdx = 0, len(pts)-1
	}

	if pts[entryIdx].Frame >= pts[exitIdx].Frame {
		return nil, nil, 0, 0, fmt.Errorf("track %s entry frame %d not before exit frame %d: %w",
			tr.ID, pts[entryIdx].Frame, pts[exitIdx].Frame, ErrDegenerateTrack)
	}
	return entry, exit, pts[entryIdx].Frame, pts[exitIdx].Frame, nil
}

// WindowPositions slices a track's contiguous points to the inclusive
// frame window [entryFrame, exitFrame].
func WindowPositions(tr Track, entryFrame, exitFrame int) []TrackPoint {
	first := tr.FirstFrame()
	if first < 0 {
		return nil
	}
	lo := entryFrame - first
	hi := exitFrame - first
	if lo < 0 || hi >= len(tr.Points) || lo > hi {
		return nil
	}
	out := make([]TrackPoint, hi-lo+1)
	copy(out, tr.Points[lo:hi+1])
	return out
}

// MeanConfidence averages the confidence of real (non-interpolated)
// points; a window with no real points yields 0.
func MeanConfidence(points []TrackPoint) float64 {
	var sum float64
	var n int
	for _, p := range points {
		if p.Interpolated {
			continue
		}
		sum += p.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
