package aforo

// Quality filter chain. Filters run in a fixed order and the first
// failing check rejects the event; the returned reason is a stable code
// for QC tallies.

// directionChangeRad is the turn angle between consecutive displacement
// vectors that counts as one direction change.
const directionChangeRad = 1.0

// Time-window bounds in seconds.
const (
	pedestrianMinS = 0.3
	pedestrianMaxS = 15.0

	vehicleParkedS     = 30.0
	vehicleIncompleteS = 1.5

	straightMinS = 2.5
	straightMaxS = 25.0

	turnMinS = 1.5
	turnMaxS = 25.0

	uturnMinS = 4.0
	uturnMaxS = 30.0
)

// FilterEvent runs the full quality chain over a candidate event. The
// geometric checks apply to vehicles only; pedestrians go straight to
// their time window.
func FilterEvent(ev *TrajectoryEvent, settings AnalysisSettings) (reason string, ok bool) {
	if !IsPedestrian(ev.Class) {
		if r, pass := filterGeometry(ev.Positions, settings); !pass {
			return r, false
		}
	}
	return filterTimeWindow(ev)
}

// filterGeometry applies the track-shape checks in order: minimum path
// length, direction-change bound, net-over-path ratio.
func filterGeometry(positions []TrackPoint, settings AnalysisSettings) (string, bool) {
	pathPx := PathLength(positions)
	pathM := pathPx * settings.GetPixelToMeter()
	if pathM < settings.GetMinLengthM() {
		return "min_path_length", false
	}
	if DirectionChanges(positions, directionChangeRad) > settings.GetMaxDirectionChanges() {
		return "max_direction_changes", false
	}
	if pathPx > 0 && NetDisplacement(positions)/pathPx < settings.GetMinNetOverPathRatio() {
		return "net_over_path_ratio", false
	}
	return "", true
}

// filterTimeWindow applies the per-class and per-movement duration
// bounds.
func filterTimeWindow(ev *TrajectoryEvent) (string, bool) {
	dur := ev.DurationSeconds()
	if IsPedestrian(ev.Class) {
		if dur < pedestrianMinS || dur > pedestrianMaxS {
			return "pedestrian_window", false
		}
		return "", true
	}

	if dur > vehicleParkedS {
		return "vehicle_parked", false
	}
	if dur < vehicleIncompleteS {
		return "vehicle_incomplete", false
	}

	switch KindOfCode(ev.RilsaCode) {
	case KindStraight:
		if dur < straightMinS || dur > straightMaxS {
			return "straight_window", false
		}
	case KindLeft, KindRight:
		if dur < turnMinS || dur > turnMaxS {
			return "turn_window", false
		}
	case KindUTurn:
		if dur < uturnMinS || dur > uturnMaxS {
			return "uturn_window", false
		}
	}
	return "", true
}
