package aforo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cruce-data/aforo.report/internal/config"
)

// Pipeline turns a dataset's raw detections into trajectory events and
// 15-minute aggregates. All state lives in the database; a Pipeline is
// safe to share.
type Pipeline struct {
	db          *sql.DB
	datasets    *DatasetStore
	detections  *DetectionStore
	configs     *ConfigStore
	events      *EventStore
	corrections *CorrectionStore
	counts      *CountStore
	runs        *RunStore

	// Tuning supplies process-level defaults for thresholds a dataset
	// configuration leaves unset. Nil means compiled defaults.
	Tuning *config.TuningConfig
}

// NewPipeline creates a Pipeline over the given database.
func NewPipeline(db *sql.DB) *Pipeline {
	return &Pipeline{
		db:          db,
		datasets:    NewDatasetStore(db),
		detections:  NewDetectionStore(db),
		configs:     NewConfigStore(db),
		events:      NewEventStore(db),
		corrections: NewCorrectionStore(db),
		counts:      NewCountStore(db),
		runs:        NewRunStore(db),
	}
}

// Analyze runs the full pipeline over one dataset: track, segment, map
// to RILSA codes, filter, reapply stored corrections, persist events
// and rebuild aggregates. Stored events are replaced wholesale. Returns
// ErrNoDetections, ErrConfigIncomplete or ErrDatasetBusy as
// appropriate.
func (p *Pipeline) Analyze(ctx context.Context, datasetID string) (*AnalysisRun, error) {
	cfg, manager, runID, err := p.prepareRun(datasetID)
	if err != nil {
		return nil, err
	}
	return p.runAnalysis(ctx, manager, runID, datasetID, cfg)
}

// AnalyzeAsync validates the dataset and registers a run, then performs
// the analysis in a background goroutine. The run id is returned
// immediately; callers poll the run for completion. Validation errors
// and ErrDatasetBusy surface synchronously.
func (p *Pipeline) AnalyzeAsync(datasetID string) (string, error) {
	cfg, manager, runID, err := p.prepareRun(datasetID)
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := p.runAnalysis(context.Background(), manager, runID, datasetID, cfg); err != nil {
			Opsf("background analysis of dataset %s failed: %v", datasetID, err)
		}
	}()
	return runID, nil
}

// prepareRun validates the dataset, resolves the effective analysis
// configuration and registers a new run with the dataset's run manager.
func (p *Pipeline) prepareRun(datasetID string) (*DatasetConfig, *RunManager, string, error) {
	ds, err := p.datasets.Get(datasetID)
	if err != nil {
		return nil, nil, "", err
	}
	if ds.DetectionsImportedAt == nil {
		return nil, nil, "", fmt.Errorf("dataset %s has no imported detections: %w", datasetID, ErrNoDetections)
	}
	total, err := p.detections.CountDetections(datasetID)
	if err != nil {
		return nil, nil, "", err
	}
	if total == 0 {
		return nil, nil, "", fmt.Errorf("dataset %s has no detections: %w", datasetID, ErrNoDetections)
	}

	// An incomplete configuration degrades rather than aborts: tracks
	// that cannot be resolved under it are dropped with a reason.
	cfg, err := p.configs.Load(datasetID)
	if err != nil {
		if !errors.Is(err, ErrConfigIncomplete) {
			return nil, nil, "", err
		}
		cfg = &DatasetConfig{}
		Diagf("dataset %s has no configuration; analysing with empty config", datasetID)
	}
	cfg.BaseMs = ds.BaseMs
	cfg.Meta = DatasetMeta{Width: ds.Width, Height: ds.Height, FPS: ds.FPS}
	p.applyTuning(cfg)

	paramsJSON, err := json.Marshal(cfg.Settings)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to marshal run params: %w", err)
	}

	manager := RunManagerFor(p.db, datasetID)
	runID, err := manager.StartRun(string(paramsJSON))
	if err != nil {
		return nil, nil, "", err
	}
	return cfg, manager, runID, nil
}

// runAnalysis executes a registered run to completion, marking it
// failed on any error.
func (p *Pipeline) runAnalysis(ctx context.Context, manager *RunManager, runID, datasetID string, cfg *DatasetConfig) (*AnalysisRun, error) {
	fail := func(err error) (*AnalysisRun, error) {
		if ferr := manager.FailRun(err.Error()); ferr != nil {
			Diagf("pipeline: failed to record run failure: %v", ferr)
		}
		return nil, err
	}

	accessSet := NewAccessSet(cfg.Accesses)
	corrections, err := p.corrections.LoadAll(datasetID)
	if err != nil {
		return fail(err)
	}

	tracker := NewTracker()
	if p.Tuning != nil {
		tracker.MaxAgeFrames = p.Tuning.GetMaxAgeFrames()
		tracker.IoUThreshold = p.Tuning.GetIoUThreshold()
		tracker.MinHitsPedestrian = p.Tuning.GetMinHitsPedestrian()
		tracker.MinHitsVehicle = p.Tuning.GetMinHitsVehicle()
	}
	var events []TrajectoryEvent
	handle := func(tr Track) {
		if !manager.RecordTrack(tr.ID) {
			return
		}
		ev, reason := p.buildEvent(tr, cfg, accessSet)
		if ev == nil {
			manager.RecordDrop(reason)
			Tracef("track %s dropped: %s", tr.ID, reason)
			return
		}
		if c, ok := corrections[tr.ID]; ok {
			ApplyCorrection(ev, c, cfg.Rules)
		}
		events = append(events, *ev)
		if !ev.Discarded {
			manager.RecordEvent()
		}
	}

	next := 0
	err = p.detections.ForEachFrame(datasetID, func(frame int, dets []Detection) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		for ; next < frame; next++ {
			for _, tr := range tracker.Step(next, nil) {
				handle(tr)
			}
			manager.RecordFrame()
		}
		for _, tr := range tracker.Step(frame, dets) {
			handle(tr)
		}
		manager.RecordFrame()
		manager.RecordDetections(len(dets))
		next = frame + 1
		return nil
	})
	if err != nil {
		return fail(err)
	}
	for _, tr := range tracker.Flush() {
		handle(tr)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].FrameEntry != events[j].FrameEntry {
			return events[i].FrameEntry < events[j].FrameEntry
		}
		return events[i].TrackID < events[j].TrackID
	})

	if err := p.events.ReplaceEvents(datasetID, events); err != nil {
		return fail(err)
	}
	if err := p.datasets.TouchEventsChanged(datasetID); err != nil {
		return fail(err)
	}
	if err := p.RebuildCounts(datasetID); err != nil {
		return fail(err)
	}
	if err := p.datasets.RecordHistory(datasetID, "analysis",
		fmt.Sprintf("run %s: %d events", runID, len(events))); err != nil {
		Diagf("pipeline: failed to record history: %v", err)
	}

	if err := manager.CompleteRun(); err != nil {
		return nil, err
	}
	return p.runs.GetRun(runID)
}

// buildEvent turns one finalized track into a counted event, or returns
// the drop reason.
func (p *Pipeline) buildEvent(tr Track, cfg *DatasetConfig, accessSet *AccessSet) (*TrajectoryEvent, string) {
	if accessSet.Len() == 0 {
		return nil, "config_incomplete"
	}
	origin, dest, entryFrame, exitFrame, err := SegmentTrack(tr, accessSet)
	if err != nil {
		return nil, "degenerate_track"
	}
	code, err := MapMovement(cfg.Rules, origin.Cardinal, dest.Cardinal, tr.Class)
	if err != nil {
		if len(cfg.Rules) == 0 {
			return nil, "config_incomplete"
		}
		return nil, "rilsa_unmappable"
	}

	positions := WindowPositions(tr, entryFrame, exitFrame)
	ev := &TrajectoryEvent{
		TrackID:     tr.ID,
		Class:       tr.Class,
		Origin:      origin.Cardinal,
		Destination: dest.Cardinal,
		RilsaCode:   code,
		FrameEntry:  entryFrame,
		FrameExit:   exitFrame,
		TsEntryMs:   FrameToMs(cfg.BaseMs, entryFrame, cfg.Meta.FPS),
		TsExitMs:    FrameToMs(cfg.BaseMs, exitFrame, cfg.Meta.FPS),
		Positions:   positions,
		Confidence:  MeanConfidence(positions),
	}
	if reason, ok := FilterEvent(ev, cfg.Settings); !ok {
		return nil, reason
	}
	return ev, ""
}

// RebuildCounts regenerates a dataset's aggregates from its stored
// events.
func (p *Pipeline) RebuildCounts(datasetID string) error {
	ds, err := p.datasets.Get(datasetID)
	if err != nil {
		return err
	}
	asOf := ds.EventsChangedAt

	interval := DefaultIntervalMinutes
	if p.Tuning != nil {
		interval = p.Tuning.GetIntervalMinutes()
	}
	if cfg, err := p.configs.Load(datasetID); err == nil && cfg.Settings.IntervalMinutes > 0 {
		interval = cfg.Settings.IntervalMinutes
	}

	events, err := p.events.LoadEventsForRebuild(datasetID)
	if err != nil {
		return err
	}
	agg := NewAggregator(interval)
	added := agg.RebuildFromEvents(datasetID, events)
	if err := p.counts.ReplaceMovementCounts(datasetID, agg.Counts(datasetID)); err != nil {
		return err
	}
	Diagf("rebuilt counts for dataset %s: %d of %d events", datasetID, added, len(events))
	return p.datasets.SetCountsRebuilt(datasetID, asOf)
}

// ImportDetections stores a normalized detection dump and stamps the
// dataset's capture parameters. Importing while an analysis is running
// conflicts; the analysis streams the detections it started with.
func (p *Pipeline) ImportDetections(datasetID string, baseMs int64, meta DatasetMeta, dets []Detection) error {
	if len(dets) == 0 {
		return fmt.Errorf("empty detection dump: %w", ErrNoDetections)
	}
	if _, err := p.datasets.Get(datasetID); err != nil {
		return err
	}
	if RunManagerFor(p.db, datasetID).IsRunActive() {
		return fmt.Errorf("dataset %s has an analysis in progress: %w", datasetID, ErrDatasetBusy)
	}
	if err := p.detections.ReplaceDetections(datasetID, dets); err != nil {
		return err
	}
	if err := p.datasets.UpdateCapture(datasetID, baseMs, meta); err != nil {
		return err
	}
	if err := p.datasets.MarkDetectionsImported(datasetID); err != nil {
		return err
	}
	Opsf("imported %d detections into dataset %s", len(dets), datasetID)
	return p.datasets.RecordHistory(datasetID, "import", fmt.Sprintf("%d detections", len(dets)))
}

// ApplyManualCorrection applies one correction to a stored event,
// records the revision, persists the merged correction for future
// re-analysis and refreshes the aggregates. Returns the corrected
// event, or ErrUnknownTrack.
func (p *Pipeline) ApplyManualCorrection(datasetID string, c TrajectoryCorrection, changedBy string) (*TrajectoryEvent, error) {
	ev, err := p.events.GetEventByTrack(datasetID, c.TrackID)
	if err != nil {
		return nil, err
	}

	rules := DefaultRuleMap()
	if cfg, err := p.configs.Load(datasetID); err == nil && len(cfg.Rules) > 0 {
		rules = cfg.Rules
	}

	changes := ApplyCorrection(ev, c, rules)
	if len(changes) == 0 {
		return ev, nil
	}

	existing, err := p.corrections.Get(datasetID, c.TrackID)
	if err != nil {
		return nil, err
	}
	merged := mergeCorrections(existing, c)
	if err := p.corrections.Upsert(datasetID, merged); err != nil {
		return nil, err
	}
	if err := p.events.UpsertEvent(datasetID, ev); err != nil {
		return nil, err
	}

	maxVersion, err := p.events.MaxRevisionVersion(datasetID, c.TrackID)
	if err != nil {
		return nil, err
	}
	rev := NewRevision(maxVersion, changes, changedBy, time.Now())
	if err := p.events.AppendRevision(datasetID, c.TrackID, rev); err != nil {
		return nil, err
	}

	if err := p.datasets.TouchEventsChanged(datasetID); err != nil {
		return nil, err
	}
	// Rebuild failures are repaired by the background worker.
	if err := p.RebuildCounts(datasetID); err != nil {
		Opsf("failed to rebuild counts after correction: %v", err)
	}
	if err := p.datasets.RecordHistory(datasetID, "correction",
		fmt.Sprintf("track %s: %s", c.TrackID, rev.Changes)); err != nil {
		Diagf("pipeline: failed to record history: %v", err)
	}
	return ev, nil
}

// mergeCorrections folds a new correction into the stored one so the
// row always holds the cumulative correction state. Discard and hide
// are sticky.
func mergeCorrections(existing *TrajectoryCorrection, c TrajectoryCorrection) TrajectoryCorrection {
	if existing == nil {
		return c
	}
	merged := *existing
	if c.NewOrigin != nil {
		merged.NewOrigin = c.NewOrigin
	}
	if c.NewDest != nil {
		merged.NewDest = c.NewDest
	}
	if c.NewClass != nil {
		merged.NewClass = c.NewClass
	}
	merged.Discard = merged.Discard || c.Discard
	merged.HideInReport = merged.HideInReport || c.HideInReport
	return merged
}

// applyTuning fills any analysis threshold the dataset config leaves at
// zero with the process-level tuning value. Dataset settings win.
func (p *Pipeline) applyTuning(cfg *DatasetConfig) {
	if p.Tuning == nil {
		return
	}
	s := &cfg.Settings
	if s.IntervalMinutes == 0 {
		s.IntervalMinutes = p.Tuning.GetIntervalMinutes()
	}
	if s.MinLengthM == 0 {
		s.MinLengthM = p.Tuning.GetMinLengthM()
	}
	if s.MaxDirectionChanges == 0 {
		s.MaxDirectionChanges = p.Tuning.GetMaxDirectionChanges()
	}
	if s.MinNetOverPathRatio == 0 {
		s.MinNetOverPathRatio = p.Tuning.GetMinNetOverPathRatio()
	}
	if s.TTCThresholdS == 0 {
		s.TTCThresholdS = p.Tuning.GetTTCThresholdS()
	}
	if s.PixelToMeter == 0 {
		s.PixelToMeter = p.Tuning.GetPixelToMeter()
	}
}
