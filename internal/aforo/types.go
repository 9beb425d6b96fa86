// Package aforo implements the movement-counting core for a four-way
// intersection: detection streams are tracked frame by frame, completed
// trajectories are classified into RILSA movements, filtered for quality,
// overlaid with manual corrections, and aggregated into 15-minute counts.
package aforo

import "time"

// Cardinal identifies one of the four access directions of the
// intersection. O is west (oeste).
type Cardinal string

const (
	CardinalN Cardinal = "N"
	CardinalS Cardinal = "S"
	CardinalE Cardinal = "E"
	CardinalO Cardinal = "O"
)

// CardinalOrder is the fixed ordering used to index pedestrian and U-turn
// codes: N=1, S=2, O=3, E=4.
var CardinalOrder = []Cardinal{CardinalN, CardinalS, CardinalO, CardinalE}

// CardinalIndex returns the 1-based position of c in CardinalOrder, or 0
// if c is not a cardinal.
func CardinalIndex(c Cardinal) int {
	for i, k := range CardinalOrder {
		if k == c {
			return i + 1
		}
	}
	return 0
}

// IsCardinal reports whether s names one of the four cardinals.
func IsCardinal(s string) bool {
	return CardinalIndex(Cardinal(s)) > 0
}

// Detection is one normalized detector output record. X,Y is the box
// centroid in image pixels (origin top-left, y grows downward). W and H
// are the box extent when the input shape carried one; zero means unknown
// and the tracker substitutes a nominal box.
type Detection struct {
	Frame      int     `json:"frame"`
	TrackHint  int     `json:"track_hint,omitempty"` // -1 when absent
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w,omitempty"`
	H          float64 `json:"h,omitempty"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// DatasetMeta describes the capture a detection dump came from.
type DatasetMeta struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// TrackPoint is one per-frame sample of a finalized track. Interpolated
// marks gap-filled samples, which always carry Confidence 0; a real
// detection with confidence 0 has Interpolated false.
type TrackPoint struct {
	Frame        int     `json:"frame"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Confidence   float64 `json:"confidence"`
	Interpolated bool    `json:"interpolated,omitempty"`
}

// Track is a finalized trajectory. Points cover every frame from
// Points[0].Frame to Points[len-1].Frame with no gaps.
type Track struct {
	ID              string       `json:"track_id"`
	Class           string       `json:"class"`
	Points          []TrackPoint `json:"points"`
	Hits            int          `json:"hits"`
	LastUpdateFrame int          `json:"last_update_frame"`
}

// FirstFrame returns the frame of the first point, or -1 for an empty track.
func (t *Track) FirstFrame() int {
	if len(t.Points) == 0 {
		return -1
	}
	return t.Points[0].Frame
}

// LastFrame returns the frame of the last point, or -1 for an empty track.
func (t *Track) LastFrame() int {
	if len(t.Points) == 0 {
		return -1
	}
	return t.Points[len(t.Points)-1].Frame
}

// AccessPoint is one configured entry/exit zone of the intersection.
// Polygon vertices are optional (implicitly closed when present); Gate is
// the legacy line-segment membership test.
type AccessPoint struct {
	ID       string   `json:"id"`
	Cardinal Cardinal `json:"cardinal"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Polygon  []Point  `json:"polygon,omitempty"`
	Gate     *Segment `json:"gate,omitempty"`
}

// TrajectoryEvent is one completed movement: a track that entered at one
// access and left at another (or the same, for U-turns).
type TrajectoryEvent struct {
	TrackID      string       `json:"track_id"`
	Class        string       `json:"class"`
	Origin       Cardinal     `json:"origin"`
	Destination  Cardinal     `json:"destination"`
	RilsaCode    string       `json:"rilsa_code"`
	FrameEntry   int          `json:"frame_entry"`
	FrameExit    int          `json:"frame_exit"`
	TsEntryMs    int64        `json:"ts_entry_ms"`
	TsExitMs     int64        `json:"ts_exit_ms"`
	Positions    []TrackPoint `json:"positions"`
	Confidence   float64      `json:"confidence"`
	HideInReport bool         `json:"hide_in_report,omitempty"`
	Discarded    bool         `json:"discarded,omitempty"`
}

// DurationSeconds returns the event's wall-clock span.
func (e *TrajectoryEvent) DurationSeconds() float64 {
	return float64(e.TsExitMs-e.TsEntryMs) / 1000.0
}

// TrajectoryCorrection is a manual per-track override. Nil pointer fields
// leave the corresponding event attribute untouched.
type TrajectoryCorrection struct {
	TrackID      string    `json:"track_id"`
	NewOrigin    *Cardinal `json:"new_origin,omitempty"`
	NewDest      *Cardinal `json:"new_dest,omitempty"`
	NewClass     *string   `json:"new_class,omitempty"`
	Discard      bool      `json:"discard,omitempty"`
	HideInReport bool      `json:"hide_in_report,omitempty"`
}

// Revision is one entry in an event's append-only audit log.
type Revision struct {
	Version   int       `json:"version"`
	Changes   string    `json:"changes"`
	ChangedBy string    `json:"changed_by"`
	Timestamp time.Time `json:"timestamp"`
}

// MovementCount is the per-interval aggregate for one RILSA code.
type MovementCount struct {
	DatasetID       string         `json:"dataset_id"`
	RilsaCode       string         `json:"rilsa_code"`
	IntervalStartMs int64          `json:"interval_start_ms"`
	IntervalEndMs   int64          `json:"interval_end_ms"`
	CountsByClass   map[string]int `json:"counts_by_class"`
	Total           int            `json:"total"`
}

// ForbiddenMovement tags a RILSA code the site configuration disallows;
// events carrying one are surfaced by the violations query but are mapped
// and counted normally.
type ForbiddenMovement struct {
	RilsaCode   string `json:"rilsa_code"`
	Description string `json:"description"`
}

// DatasetConfig is everything the pipeline needs to analyse one dataset.
type DatasetConfig struct {
	Accesses  []AccessPoint          `json:"accesses"`
	Rules     RuleMap                `json:"rilsa_map"`
	Settings  AnalysisSettings       `json:"analysis_settings"`
	Forbidden []ForbiddenMovement    `json:"forbidden_movements,omitempty"`
	BaseMs    int64                  `json:"base_time_ms"`
	Meta      DatasetMeta            `json:"metadata"`
}

// AnalysisSettings are the per-dataset thresholds. Zero values mean
// "inherit the compiled default"; use the Get accessors.
type AnalysisSettings struct {
	IntervalMinutes     int     `json:"interval_minutes,omitempty"`
	MinLengthM          float64 `json:"min_length_m,omitempty"`
	MaxDirectionChanges int     `json:"max_direction_changes,omitempty"`
	MinNetOverPathRatio float64 `json:"min_net_over_path_ratio,omitempty"`
	TTCThresholdS       float64 `json:"ttc_threshold_s,omitempty"`
	PixelToMeter        float64 `json:"pixel_to_meter,omitempty"`
}

// Default analysis thresholds. These mirror internal/config and are the
// fallbacks when a dataset has no settings row.
const (
	DefaultIntervalMinutes     = 15
	DefaultMinLengthM          = 5.0
	DefaultMaxDirectionChanges = 20
	DefaultMinNetOverPathRatio = 0.2
	DefaultTTCThresholdS       = 1.5
	DefaultPixelToMeter        = 0.05
)

// GetIntervalMinutes returns the aggregation interval, defaulting to 15.
func (s AnalysisSettings) GetIntervalMinutes() int {
	if s.IntervalMinutes > 0 {
		return s.IntervalMinutes
	}
	return DefaultIntervalMinutes
}

// GetMinLengthM returns the minimum path length in meters.
func (s AnalysisSettings) GetMinLengthM() float64 {
	if s.MinLengthM > 0 {
		return s.MinLengthM
	}
	return DefaultMinLengthM
}

// GetMaxDirectionChanges returns the direction-change bound.
func (s AnalysisSettings) GetMaxDirectionChanges() int {
	if s.MaxDirectionChanges > 0 {
		return s.MaxDirectionChanges
	}
	return DefaultMaxDirectionChanges
}

// GetMinNetOverPathRatio returns the chord-over-path floor.
func (s AnalysisSettings) GetMinNetOverPathRatio() float64 {
	if s.MinNetOverPathRatio > 0 {
		return s.MinNetOverPathRatio
	}
	return DefaultMinNetOverPathRatio
}

// GetTTCThresholdS returns the time-to-collision threshold consumed by
// external conflict reporting.
func (s AnalysisSettings) GetTTCThresholdS() float64 {
	if s.TTCThresholdS > 0 {
		return s.TTCThresholdS
	}
	return DefaultTTCThresholdS
}

// GetPixelToMeter returns the pixel-to-meter scale.
func (s AnalysisSettings) GetPixelToMeter() float64 {
	if s.PixelToMeter > 0 {
		return s.PixelToMeter
	}
	return DefaultPixelToMeter
}

// FrameToMs converts a frame index to unix milliseconds against a base
// time, rounding to the nearest millisecond.
func FrameToMs(baseMs int64, frame int, fps float64) int64 {
	if fps <= 0 {
		fps = 30.0
	}
	offset := float64(frame) * 1000.0 / fps
	return baseMs + int64(offset+0.5)
}
