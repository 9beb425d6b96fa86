package aforo

import (
	"sort"
	"sync"
)

// Aggregator folds movement events into fixed wall-clock interval counts
// per RILSA code and class. It serves all datasets behind one mutex;
// writes for a dataset come from that dataset's single pipeline worker,
// reads may come from any request.
//
// Idempotence: each (interval, track) pair counts once, so replaying an
// event set in any order or multiplicity produces the same counts.
type Aggregator struct {
	intervalMs int64

	mu   sync.RWMutex
	data map[string]*datasetAgg
}

type aggKey struct {
	interval int64
	code     string
}

type datasetAgg struct {
	counts map[aggKey]map[string]int
	seen   map[int64]map[string]bool
}

// NewAggregator returns an aggregator with the given interval width.
func NewAggregator(intervalMinutes int) *Aggregator {
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultIntervalMinutes
	}
	return &Aggregator{
		intervalMs: int64(intervalMinutes) * 60_000,
		data:       make(map[string]*datasetAgg),
	}
}

// IntervalStart floors a unix-millisecond timestamp to its interval
// boundary. A timestamp exactly on a boundary starts that interval.
func (a *Aggregator) IntervalStart(tsMs int64) int64 {
	mod := tsMs % a.intervalMs
	if mod < 0 {
		mod += a.intervalMs
	}
	return tsMs - mod
}

// IntervalMs returns the interval width in milliseconds.
func (a *Aggregator) IntervalMs() int64 { return a.intervalMs }

// AddEvent counts one event, keyed by its exit timestamp. Discarded
// events and (interval, track) pairs already counted are skipped; the
// return value reports whether a count was added.
func (a *Aggregator) AddEvent(datasetID string, ev TrajectoryEvent) bool {
	if ev.Discarded || ev.RilsaCode == "" {
		return false
	}
	interval := a.IntervalStart(ev.TsExitMs)

	a.mu.Lock()
	defer a.mu.Unlock()

	d := a.data[datasetID]
	if d == nil {
		d = &datasetAgg{
			counts: make(map[aggKey]map[string]int),
			seen:   make(map[int64]map[string]bool),
		}
		a.data[datasetID] = d
	}

	tracks := d.seen[interval]
	if tracks == nil {
		tracks = make(map[string]bool)
		d.seen[interval] = tracks
	}
	if tracks[ev.TrackID] {
		return false
	}
	tracks[ev.TrackID] = true

	k := aggKey{interval: interval, code: ev.RilsaCode}
	byClass := d.counts[k]
	if byClass == nil {
		byClass = make(map[string]int)
		d.counts[k] = byClass
	}
	byClass[CanonicalClass(ev.Class)]++
	return true
}

// RebuildFromEvents clears a dataset's counts and replays the given
// events. Returns the number of events counted.
func (a *Aggregator) RebuildFromEvents(datasetID string, events []TrajectoryEvent) int {
	a.mu.Lock()
	delete(a.data, datasetID)
	a.mu.Unlock()

	n := 0
	for _, ev := range events {
		if a.AddEvent(datasetID, ev) {
			n++
		}
	}
	Diagf("aggregator: rebuilt dataset %s from %d events, %d counted", datasetID, len(events), n)
	return n
}

// Intervals returns the sorted interval starts a dataset has counts for.
func (a *Aggregator) Intervals(datasetID string) []int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	d := a.data[datasetID]
	if d == nil {
		return nil
	}
	set := make(map[int64]bool)
	for k := range d.counts {
		set[k.interval] = true
	}
	out := make([]int64, 0, len(set))
	for iv := range set {
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IntervalData is one interval's counts broken down by code and class.
type IntervalData struct {
	IntervalStartMs int64                     `json:"interval_start_ms"`
	IntervalEndMs   int64                     `json:"interval_end_ms"`
	CountsByCode    map[string]map[string]int `json:"counts_by_code"`
	TotalsByClass   map[string]int            `json:"totals_by_class"`
}

// IntervalData returns the breakdown for one interval start.
func (a *Aggregator) IntervalData(datasetID string, intervalStart int64) IntervalData {
	out := IntervalData{
		IntervalStartMs: intervalStart,
		IntervalEndMs:   intervalStart + a.intervalMs,
		CountsByCode:    make(map[string]map[string]int),
		TotalsByClass:   make(map[string]int),
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	d := a.data[datasetID]
	if d == nil {
		return out
	}
	for k, byClass := range d.counts {
		if k.interval != intervalStart {
			continue
		}
		dst := make(map[string]int, len(byClass))
		for class, n := range byClass {
			dst[class] = n
			out.TotalsByClass[class] += n
		}
		out.CountsByCode[k.code] = dst
	}
	return out
}

// Counts flattens a dataset's aggregates to MovementCount rows in
// canonical order: code ordinal ascending, then interval ascending.
func (a *Aggregator) Counts(datasetID string) []MovementCount {
	a.mu.RLock()
	defer a.mu.RUnlock()

	d := a.data[datasetID]
	if d == nil {
		return nil
	}
	out := make([]MovementCount, 0, len(d.counts))
	for k, byClass := range d.counts {
		mc := MovementCount{
			DatasetID:       datasetID,
			RilsaCode:       k.code,
			IntervalStartMs: k.interval,
			IntervalEndMs:   k.interval + a.intervalMs,
			CountsByClass:   make(map[string]int, len(byClass)),
		}
		for class, n := range byClass {
			mc.CountsByClass[class] = n
			mc.Total += n
		}
		out = append(out, mc)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := CodeOrdinal(out[i].RilsaCode), CodeOrdinal(out[j].RilsaCode)
		if oi != oj {
			return oi < oj
		}
		if out[i].RilsaCode != out[j].RilsaCode {
			return out[i].RilsaCode < out[j].RilsaCode
		}
		return out[i].IntervalStartMs < out[j].IntervalStartMs
	})
	return out
}
