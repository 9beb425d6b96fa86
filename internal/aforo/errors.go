package aforo

import "errors"

// Sentinel errors for analysis failures. Callers branch with errors.Is;
// wrapped messages carry the dataset and track context.
var (
	// ErrNoDetections means analysis was requested for a dataset whose
	// detections were never imported.
	ErrNoDetections = errors.New("no detections imported for dataset")

	// ErrConfigIncomplete means the dataset configuration is missing
	// accesses, the movement map, or the capture base time.
	ErrConfigIncomplete = errors.New("dataset configuration incomplete")

	// ErrUnknownTrack means a correction referenced a track id with no
	// stored trajectory event.
	ErrUnknownTrack = errors.New("no trajectory event for track")

	// ErrNoRule means an (origin, destination, class-group) triple has no
	// entry in the movement map.
	ErrNoRule = errors.New("no movement rule for origin/destination pair")

	// ErrDegenerateTrack marks a finalized track too short to segment.
	ErrDegenerateTrack = errors.New("degenerate track")

	// ErrDatasetBusy means another analysis run holds the dataset lock.
	ErrDatasetBusy = errors.New("dataset analysis already in progress")
)
