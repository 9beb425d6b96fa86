// Package parse normalizes heterogeneous detection dumps into the
// canonical detection schema. It recognizes three shapes: a structured
// export ({metadata, detecciones, ...}), a flat JSON array of records,
// and CSV with a header row. Column names are matched case-insensitively
// against alias sets.
package parse

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/cruce-data/aforo.report/internal/aforo"
)

// ErrColumnsNotMappable reports a dump whose columns cannot be
// projected onto the canonical detection schema.
var ErrColumnsNotMappable = errors.New("columns not mappable")

// ShapeError lists the columns an unmappable dump presented.
type ShapeError struct {
	Columns []string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("columns not mappable: saw [%s]", strings.Join(e.Columns, ", "))
}

func (e *ShapeError) Unwrap() error { return ErrColumnsNotMappable }

// Dump is a normalized detection dump.
type Dump struct {
	BaseMs     int64
	Meta       aforo.DatasetMeta
	Detections []aforo.Detection
	Config     *aforo.DatasetConfig // site config embedded in structured dumps, if any
}

// Column alias sets, all lowercase.
var (
	frameAliases = []string{"frame_id", "frame", "frame_idx", "frame_index", "frame_number"}
	trackAliases = []string{"track_id", "id", "track", "object_id"}
	xAliases     = []string{"x", "xc", "x_center", "cx", "bbox_center_x"}
	yAliases     = []string{"y", "yc", "y_center", "cy", "bbox_center_y"}
	wAliases     = []string{"w", "width", "bbox_w"}
	hAliases     = []string{"h", "height", "bbox_h"}
	classAliases = []string{"object_class", "cls", "class", "label", "object_type", "category"}
	confAliases  = []string{"confidence", "conf", "score"}
)

// Bounding-box column quads, tried in order when no centroid columns
// are present.
var bboxSets = []struct {
	names  [4]string
	minMax bool // true: xmin/ymin/xmax/ymax, false: left/top/width/height
}{
	{[4]string{"bbox_left", "bbox_top", "bbox_width", "bbox_height"}, false},
	{[4]string{"xmin", "ymin", "xmax", "ymax"}, true},
	{[4]string{"left", "top", "width", "height"}, false},
}

// Normalize projects a raw dump onto the canonical detection schema.
// The returned detections are sorted by frame, duplicates of the same
// (frame, track hint) collapsed to the first occurrence.
func Normalize(data []byte) (*Dump, error) {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF}), " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty dump: %w", aforo.ErrNoDetections)
	}

	var dump *Dump
	var err error
	switch trimmed[0] {
	case '{':
		dump, err = parseStructured(trimmed)
	case '[':
		dump, err = parseJSONArray(trimmed)
	default:
		dump, err = parseCSV(trimmed)
	}
	if err != nil {
		return nil, err
	}

	dump.Detections = canonicalize(dump.Detections)
	if len(dump.Detections) == 0 {
		return nil, fmt.Errorf("dump contains no detections: %w", aforo.ErrNoDetections)
	}
	return dump, nil
}

// canonicalize sorts by frame (stable, preserving in-frame order),
// trims class labels and drops duplicate hinted rows.
func canonicalize(dets []aforo.Detection) []aforo.Detection {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Frame < dets[j].Frame })

	type key struct {
		frame int
		hint  int
	}
	seen := make(map[key]bool)
	out := dets[:0]
	for _, d := range dets {
		if d.TrackHint >= 0 {
			k := key{frame: d.Frame, hint: d.TrackHint}
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		d.Class = strings.TrimSpace(d.Class)
		out = append(out, d)
	}
	return out
}

// canonicalHeader is the column set WriteCanonical emits. Every name is
// the first alias of its set, so a written dump normalizes back onto
// itself.
var canonicalHeader = []string{"frame_id", "track_id", "x", "y", "w", "h", "object_class", "confidence"}

// WriteCanonical writes the dump's detections as canonical CSV.
// Normalizing the output yields the same detection list back.
func WriteCanonical(w io.Writer, dump *Dump) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(canonicalHeader); err != nil {
		return err
	}
	for _, d := range dump.Detections {
		track := ""
		if d.TrackHint >= 0 {
			track = strconv.Itoa(d.TrackHint)
		}
		rec := []string{
			strconv.Itoa(d.Frame),
			track,
			formatFloat(d.X),
			formatFloat(d.Y),
			formatFloat(d.W),
			formatFloat(d.H),
			d.Class,
			formatFloat(d.Confidence),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatFloat prints the shortest decimal that parses back to the same
// float64.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// structured export shape

type structuredDump struct {
	Metadata     map[string]json.RawMessage `json:"metadata"`
	Detecciones  []structuredDetection      `json:"detecciones"`
	Trayectorias json.RawMessage            `json:"trayectorias"`
	Config       *aforo.DatasetConfig       `json:"config"`
}

type structuredDetection struct {
	Fotograma *int      `json:"fotograma"`
	Clase     string    `json:"clase"`
	Confianza *float64  `json:"confianza"`
	BBox      []float64 `json:"bbox"`
}

func parseStructured(data []byte) (*Dump, error) {
	var sd structuredDump
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("failed to decode dump: %w", err)
	}
	if sd.Detecciones == nil {
		// Not the structured export; report its top-level keys.
		var top map[string]json.RawMessage
		if err := json.Unmarshal(data, &top); err != nil {
			return nil, fmt.Errorf("failed to decode dump: %w", err)
		}
		keys := make([]string, 0, len(top))
		for k := range top {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, &ShapeError{Columns: keys}
	}

	dump := &Dump{
		Meta:   metadataFrom(sd.Metadata),
		Config: sd.Config,
	}
	dump.BaseMs = baseMsFrom(sd.Metadata)

	for i, sdet := range sd.Detecciones {
		if sdet.Fotograma == nil {
			return nil, fmt.Errorf("detection %d: missing fotograma", i)
		}
		if *sdet.Fotograma < 0 {
			return nil, fmt.Errorf("detection %d: negative frame %d", i, *sdet.Fotograma)
		}
		if strings.TrimSpace(sdet.Clase) == "" {
			return nil, fmt.Errorf("detection %d: empty class", i)
		}
		if len(sdet.BBox) != 4 {
			return nil, fmt.Errorf("detection %d: bbox must have 4 values, got %d", i, len(sdet.BBox))
		}
		conf := 1.0
		if sdet.Confianza != nil {
			conf = *sdet.Confianza
		}
		xmin, ymin, xmax, ymax := sdet.BBox[0], sdet.BBox[1], sdet.BBox[2], sdet.BBox[3]
		dump.Detections = append(dump.Detections, aforo.Detection{
			Frame:      *sdet.Fotograma,
			TrackHint:  -1,
			X:          (xmin + xmax) / 2,
			Y:          (ymin + ymax) / 2,
			W:          xmax - xmin,
			H:          ymax - ymin,
			Class:      sdet.Clase,
			Confidence: conf,
		})
	}
	return dump, nil
}

func metadataFrom(meta map[string]json.RawMessage) aforo.DatasetMeta {
	m := aforo.DatasetMeta{Width: 1280, Height: 720, FPS: 30.0}
	if v, ok := rawNumber(meta, "width"); ok && v > 0 {
		m.Width = int(v)
	}
	if v, ok := rawNumber(meta, "height"); ok && v > 0 {
		m.Height = int(v)
	}
	if v, ok := rawNumber(meta, "fps"); ok && v > 0 {
		m.FPS = v
	}
	return m
}

func baseMsFrom(meta map[string]json.RawMessage) int64 {
	for _, key := range []string{"base_time_ms", "start_time_ms", "timestamp_ms"} {
		if v, ok := rawNumber(meta, key); ok {
			return int64(v)
		}
	}
	return 0
}

func rawNumber(meta map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := meta[key]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// flat JSON array shape

func parseJSONArray(data []byte) (*Dump, error) {
	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode dump: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dump contains no detections: %w", aforo.ErrNoDetections)
	}

	header := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		header = append(header, k)
	}
	sort.Strings(header)
	cm, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	dump := &Dump{Meta: aforo.DatasetMeta{Width: 1280, Height: 720, FPS: 30.0}}
	for i, row := range rows {
		fields := make([]string, len(header))
		lower := make(map[string]interface{}, len(row))
		for k, v := range row {
			lower[strings.ToLower(strings.TrimSpace(k))] = v
		}
		for j, name := range header {
			fields[j] = jsonField(lower[strings.ToLower(name)])
		}
		d, err := cm.project(fields)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		dump.Detections = append(dump.Detections, d)
	}
	return dump, nil
}

func jsonField(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// CSV shape

func parseCSV(data []byte) (*Dump, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cm, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	dump := &Dump{Meta: aforo.DatasetMeta{Width: 1280, Height: 720, FPS: 30.0}}
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		d, perr := cm.project(record)
		if perr != nil {
			return nil, fmt.Errorf("line %d: %w", line, perr)
		}
		dump.Detections = append(dump.Detections, d)
	}
	return dump, nil
}

// column mapping shared by the CSV and flat JSON shapes

type columnMap struct {
	header []string
	frame  int
	track  int
	x      int
	y      int
	w      int
	h      int
	class  int
	conf   int
	bbox   [4]int
	hasBox bool
	minMax bool
}

func resolveColumns(header []string) (*columnMap, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	pick := func(aliases []string) int {
		for _, a := range aliases {
			if i, ok := idx[a]; ok {
				return i
			}
		}
		return -1
	}

	cm := &columnMap{
		header: header,
		frame:  pick(frameAliases),
		track:  pick(trackAliases),
		x:      pick(xAliases),
		y:      pick(yAliases),
		w:      pick(wAliases),
		h:      pick(hAliases),
		class:  pick(classAliases),
		conf:   pick(confAliases),
	}

	if cm.x < 0 || cm.y < 0 {
		for _, set := range bboxSets {
			found := true
			var cols [4]int
			for i, name := range set.names {
				j, ok := idx[name]
				if !ok {
					found = false
					break
				}
				cols[i] = j
			}
			if found {
				cm.bbox = cols
				cm.hasBox = true
				cm.minMax = set.minMax
				break
			}
		}
	}

	if cm.frame < 0 || cm.class < 0 || (cm.x < 0 || cm.y < 0) && !cm.hasBox {
		return nil, &ShapeError{Columns: header}
	}
	return cm, nil
}

// project maps one row of fields onto a Detection.
func (cm *columnMap) project(fields []string) (aforo.Detection, error) {
	d := aforo.Detection{TrackHint: -1, Confidence: 1.0}

	frame, err := fieldInt(fields, cm.frame, "frame")
	if err != nil {
		return d, err
	}
	if frame < 0 {
		return d, fmt.Errorf("negative frame %d", frame)
	}
	d.Frame = frame

	if cm.track >= 0 && fieldSet(fields, cm.track) {
		hint, err := fieldInt(fields, cm.track, "track id")
		if err != nil {
			return d, err
		}
		d.TrackHint = hint
	}

	d.Class = strings.TrimSpace(fieldAt(fields, cm.class))
	if d.Class == "" {
		return d, fmt.Errorf("empty class")
	}

	if cm.conf >= 0 && fieldSet(fields, cm.conf) {
		conf, err := fieldFloat(fields, cm.conf, "confidence")
		if err != nil {
			return d, err
		}
		d.Confidence = conf
	}

	if cm.hasBox {
		var v [4]float64
		names := []string{"bbox[0]", "bbox[1]", "bbox[2]", "bbox[3]"}
		for i := range v {
			f, err := fieldFloat(fields, cm.bbox[i], names[i])
			if err != nil {
				return d, err
			}
			v[i] = f
		}
		if cm.minMax {
			d.X = (v[0] + v[2]) / 2
			d.Y = (v[1] + v[3]) / 2
			d.W = v[2] - v[0]
			d.H = v[3] - v[1]
		} else {
			d.X = v[0] + v[2]/2
			d.Y = v[1] + v[3]/2
			d.W = v[2]
			d.H = v[3]
		}
		return d, nil
	}

	if d.X, err = fieldFloat(fields, cm.x, "x"); err != nil {
		return d, err
	}
	if d.Y, err = fieldFloat(fields, cm.y, "y"); err != nil {
		return d, err
	}
	if cm.w >= 0 && fieldSet(fields, cm.w) {
		if d.W, err = fieldFloat(fields, cm.w, "w"); err != nil {
			return d, err
		}
	}
	if cm.h >= 0 && fieldSet(fields, cm.h) {
		if d.H, err = fieldFloat(fields, cm.h, "h"); err != nil {
			return d, err
		}
	}
	return d, nil
}

func fieldAt(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

func fieldSet(fields []string, i int) bool {
	return strings.TrimSpace(fieldAt(fields, i)) != ""
}

func fieldFloat(fields []string, i int, name string) (float64, error) {
	s := strings.TrimSpace(fieldAt(fields, i))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s value %q", name, s)
	}
	return v, nil
}

func fieldInt(fields []string, i int, name string) (int, error) {
	s := strings.TrimSpace(fieldAt(fields, i))
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	// Tolerate numeric formats like "3.0" coming from JSON records.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s value %q", name, s)
	}
	return int(f), nil
}
