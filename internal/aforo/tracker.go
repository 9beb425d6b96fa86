package aforo

import (
	"sort"
	"strconv"
)

// Tracker parameters. A hypothesis coasts unmatched for up to
// DefaultMaxAgeFrames before it is finalized. Pedestrian detections are
// smaller and fire less reliably, so their finalization hit floor is
// lower than the vehicle one.
const (
	DefaultMaxAgeFrames      = 30
	DefaultIoUThreshold      = 0.3
	DefaultMinHitsPedestrian = 3
	DefaultMinHitsVehicle    = 8
)

// hypothesis is one live tracked object between spawn and finalization.
type hypothesis struct {
	id           int
	createdFrame int
	filter       *boxKalman
	predicted    BBox

	lastUpdateFrame int
	hits            int

	points []TrackPoint

	classVotes map[string]int
	classSeen  map[string]int
}

func (h *hypothesis) observe(frame int, d Detection) {
	h.filter.update(DetectionBox(d))
	h.hits++
	h.lastUpdateFrame = frame
	h.points = append(h.points, TrackPoint{
		Frame:      frame,
		X:          d.X,
		Y:          d.Y,
		Confidence: d.Confidence,
	})
	c := CanonicalClass(d.Class)
	h.classVotes[c]++
	h.classSeen[c] = frame
}

// class returns the majority canonical class over real detections; ties
// go to the class seen most recently.
func (h *hypothesis) class() string {
	best := ""
	for c, n := range h.classVotes {
		if best == "" || n > h.classVotes[best] ||
			(n == h.classVotes[best] && h.classSeen[c] > h.classSeen[best]) {
			best = c
		}
	}
	return best
}

// Tracker associates per-frame detections into trajectories using IoU
// matching over Kalman-predicted boxes. It is single-use and
// single-threaded; one Tracker per dataset pipeline.
type Tracker struct {
	MaxAgeFrames      int
	IoUThreshold      float64
	MinHitsPedestrian int
	MinHitsVehicle    int

	nextID int
	live   []*hypothesis
	frame  int
}

// NewTracker returns a tracker with the default parameters.
func NewTracker() *Tracker {
	return &Tracker{
		MaxAgeFrames:      DefaultMaxAgeFrames,
		IoUThreshold:      DefaultIoUThreshold,
		MinHitsPedestrian: DefaultMinHitsPedestrian,
		MinHitsVehicle:    DefaultMinHitsVehicle,
		nextID:            1,
		frame:             -1,
	}
}

// Step processes the detections of one frame and returns any tracks
// finalized during it. Call once per frame index in ascending order;
// frames with no detections still advance prediction and aging.
func (t *Tracker) Step(frame int, dets []Detection) []Track {
	if frame <= t.frame {
		return nil
	}
	t.frame = frame

	sort.Slice(t.live, func(i, j int) bool {
		if t.live[i].createdFrame != t.live[j].createdFrame {
			return t.live[i].createdFrame < t.live[j].createdFrame
		}
		return t.live[i].id < t.live[j].id
	})

	// Predict. Degenerate filters are dropped outright.
	alive := t.live[:0]
	for _, h := range t.live {
		h.predicted = h.filter.predict()
		if h.filter.degenerate {
			Diagf("tracker: dropping degenerate hypothesis %d (frame %d)", h.id, frame)
			continue
		}
		alive = append(alive, h)
	}
	t.live = alive

	matchedDet := t.associate(dets)

	// Update matched hypotheses, then spawn from leftover detections in
	// ascending index order.
	claimed := make([]bool, len(dets))
	for hi, di := range matchedDet {
		if di < 0 {
			continue
		}
		t.live[hi].observe(frame, dets[di])
		claimed[di] = true
	}
	for di, d := range dets {
		if !claimed[di] {
			t.spawn(frame, d)
		}
	}

	// Retire hypotheses that aged out.
	var done []Track
	keep := t.live[:0]
	for _, h := range t.live {
		if frame-h.lastUpdateFrame > t.MaxAgeFrames {
			if tr, ok := t.finalize(h); ok {
				done = append(done, tr)
			}
			continue
		}
		keep = append(keep, h)
	}
	t.live = keep

	if len(dets) > 0 || len(done) > 0 {
		Tracef("tracker: frame %d: %d detections, %d live, %d finalized", frame, len(dets), len(t.live), len(done))
	}
	return done
}

// Flush finalizes every live hypothesis at end of stream and returns the
// surviving tracks.
func (t *Tracker) Flush() []Track {
	var done []Track
	for _, h := range t.live {
		if tr, ok := t.finalize(h); ok {
			done = append(done, tr)
		}
	}
	t.live = nil
	Diagf("tracker: flush at frame %d produced %d tracks", t.frame, len(done))
	return done
}

// associate matches live hypotheses to detections. Returns, per
// hypothesis index, the matched detection index or -1.
//
// When the thresholded IoU matrix is already a one-to-one matching it is
// used directly; otherwise the assignment is solved on negated IoU.
// Matched pairs below the IoU threshold are rejected either way.
func (t *Tracker) associate(dets []Detection) []int {
	n := len(t.live)
	matched := make([]int, n)
	for i := range matched {
		matched[i] = -1
	}
	if n == 0 || len(dets) == 0 {
		return matched
	}

	m := len(dets)
	iou := make([][]float64, n)
	for i, h := range t.live {
		iou[i] = make([]float64, m)
		for j, d := range dets {
			iou[i][j] = IoU(h.predicted, DetectionBox(d))
		}
	}

	if direct, ok := directMatch(iou, t.IoUThreshold); ok {
		return direct
	}

	cost := make([][]float64, n)
	for i := range iou {
		cost[i] = make([]float64, m)
		for j := range iou[i] {
			cost[i][j] = -iou[i][j]
		}
	}
	assigned := HungarianAssign(cost)
	for i, j := range assigned {
		if j >= 0 && iou[i][j] >= t.IoUThreshold {
			matched[i] = j
		}
	}
	return matched
}

// directMatch checks whether thresholding the IoU matrix yields at most
// one candidate per row and per column. If so the candidates are the
// matching and no assignment solve is needed.
func directMatch(iou [][]float64, threshold float64) ([]int, bool) {
	n := len(iou)
	if n == 0 {
		return nil, false
	}
	m := len(iou[0])
	rowHits := make([]int, n)
	colHits := make([]int, m)
	matched := make([]int, n)
	for i := range matched {
		matched[i] = -1
	}
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if iou[i][j] > threshold {
				rowHits[i]++
				colHits[j]++
				if rowHits[i] > 1 || colHits[j] > 1 {
					return nil, false
				}
				matched[i] = j
			}
		}
	}
	return matched, true
}

func (t *Tracker) spawn(frame int, d Detection) {
	h := &hypothesis{
		id:              t.nextID,
		createdFrame:    frame,
		filter:          newBoxKalman(DetectionBox(d)),
		lastUpdateFrame: frame,
		classVotes:      make(map[string]int),
		classSeen:       make(map[string]int),
	}
	t.nextID++
	h.hits = 1
	h.points = append(h.points, TrackPoint{
		Frame:      frame,
		X:          d.X,
		Y:          d.Y,
		Confidence: d.Confidence,
	})
	c := CanonicalClass(d.Class)
	h.classVotes[c] = 1
	h.classSeen[c] = frame
	t.live = append(t.live, h)
}

// minHitsFor returns the confirmed-detection floor a hypothesis of the
// given class must reach to survive finalization.
func (t *Tracker) minHitsFor(class string) int {
	if IsPedestrian(class) {
		return t.MinHitsPedestrian
	}
	return t.MinHitsVehicle
}

// finalize converts a retiring hypothesis to a Track, or discards it
// when its confirmed hits are under the class floor.
func (t *Tracker) finalize(h *hypothesis) (Track, bool) {
	class := h.class()
	if h.hits < t.minHitsFor(class) {
		Tracef("tracker: discarding hypothesis %d (%s, %d hits)", h.id, class, h.hits)
		return Track{}, false
	}
	return Track{
		ID:              strconv.Itoa(h.id),
		Class:           class,
		Points:          interpolateGaps(h.points),
		Hits:            h.hits,
		LastUpdateFrame: h.lastUpdateFrame,
	}, true
}

// interpolateGaps fills missing frames between consecutive observations
// by linear interpolation. Filled points carry confidence 0 and the
// Interpolated marker.
func interpolateGaps(points []TrackPoint) []TrackPoint {
	if len(points) < 2 {
		return points
	}
	out := make([]TrackPoint, 0, len(points))
	out = append(out, points[0])
	for i := 1; i < len(points); i++ {
		prev := points[i-1]
		next := points[i]
		span := next.Frame - prev.Frame
		for f := prev.Frame + 1; f < next.Frame; f++ {
			frac := float64(f-prev.Frame) / float64(span)
			out = append(out, TrackPoint{
				Frame:        f,
				X:            prev.X + (next.X-prev.X)*frac,
				Y:            prev.Y + (next.Y-prev.Y)*frac,
				Confidence:   0,
				Interpolated: true,
			})
		}
		out = append(out, next)
	}
	return out
}
