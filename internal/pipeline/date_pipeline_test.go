package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"barkwatch/internal/analyzer"
	"barkwatch/internal/discovery"
	"barkwatch/internal/metrics"
	"barkwatch/internal/normalizer"
	"barkwatch/internal/rules"
	"barkwatch/internal/scorer"
	"barkwatch/internal/store"
	"barkwatch/pkg/models"
)

const testDate = "2026-03-14"

var normCfg = normalizer.Config{Threshold: 0.5, TargetLabels: []string{"Bark"}}

type fakeScorer struct {
	mu       sync.Mutex
	matrices map[string]normalizer.ScoreMatrix
	fail     map[string]bool
	calls    []string
}

func (f *fakeScorer) Score(_ context.Context, path string) (normalizer.ScoreMatrix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	if f.fail[path] {
		return normalizer.ScoreMatrix{}, errors.New("decoder crashed")
	}
	m, ok := f.matrices[path]
	if !ok {
		return normalizer.ScoreMatrix{}, errors.New("no scores")
	}
	return m, nil
}

type captureSink struct {
	dates      []string
	violations [][]models.Violation
	closed     bool
}

func (c *captureSink) WriteViolations(_ context.Context, date string, vs []models.Violation) error {
	c.dates = append(c.dates, date)
	c.violations = append(c.violations, vs)
	return nil
}

func (c *captureSink) Close() error {
	c.closed = true
	return nil
}

// barkMatrix builds a one-second-per-frame matrix with a bark in every frame
// for which active returns true.
func barkMatrix(frames int, active func(i int) bool) normalizer.ScoreMatrix {
	m := normalizer.ScoreMatrix{Labels: []string{"Bark", "Speech"}, FrameDuration: 1}
	for i := 0; i < frames; i++ {
		if active(i) {
			m.Scores = append(m.Scores, []float64{0.9, 0.1})
		} else {
			m.Scores = append(m.Scores, []float64{0.1, 0.2})
		}
	}
	return m
}

func recording(path string, start time.Time) discovery.File {
	return discovery.File{Path: path, Start: &start, ModTime: start}
}

// splitBurst is a six minute bark burst recorded across two files. Barks
// fall every 8s: the first file covers 21:00:00-21:02:56, the second
// 21:03:04-21:06:00.
func splitBurst() (*fakeScorer, discovery.File, discovery.File) {
	a := recording("yard_20260314_210000.wav", time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC))
	b := recording("yard_20260314_210300.wav", time.Date(2026, 3, 14, 21, 3, 0, 0, time.UTC))
	sc := &fakeScorer{matrices: map[string]normalizer.ScoreMatrix{
		a.Path: barkMatrix(181, func(i int) bool { return i%8 == 0 }),
		b.Path: barkMatrix(181, func(i int) bool { return i >= 4 && (i-4)%8 == 0 }),
	}}
	return sc, a, b
}

func newDatePipeline(t *testing.T, cfg DateConfig, sc scorer.Scorer, st *store.Store, engine rules.Engine, m *metrics.Metrics, sinks ...ViolationSink) *DatePipeline {
	t.Helper()
	p, err := NewDatePipeline(cfg, sc, st, engine, m, sinks...)
	if err != nil {
		t.Fatalf("NewDatePipeline: %v", err)
	}
	return p
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return st
}

func TestRunFilesSplitBurstAcrossFilesOutOfOrder(t *testing.T) {
	sc, a, b := splitBurst()
	st := newStore(t)
	sink := &captureSink{}
	p := newDatePipeline(t, DateConfig{Normalizer: normCfg}, sc, st, nil, nil, sink)

	res, err := p.RunFiles(context.Background(), testDate, []discovery.File{b, a})
	if err != nil {
		t.Fatalf("RunFiles: %v", err)
	}
	if len(sc.calls) != 2 || sc.calls[0] != a.Path || sc.calls[1] != b.Path {
		t.Fatalf("expected chronological scoring, got %v", sc.calls)
	}
	if res.Files != 2 || res.SkippedFiles != 0 || res.Events != 46 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected one violation, got %d", len(res.Violations))
	}
	v := res.Violations[0]
	if v.Type != models.Continuous {
		t.Fatalf("expected Continuous, got %s", v.Type)
	}
	if v.DurationMinutes != 6 {
		t.Fatalf("expected 6 minutes, got %v", v.DurationMinutes)
	}
	wantTrigger := time.Date(2026, 3, 14, 21, 5, 4, 0, time.UTC)
	if !v.ViolationTriggerTimestamp.Equal(wantTrigger) {
		t.Fatalf("expected trigger %s, got %s", wantTrigger, v.ViolationTriggerTimestamp)
	}
	if len(v.BarkEventIDs) != 46 {
		t.Fatalf("expected 46 correlated events, got %d", len(v.BarkEventIDs))
	}

	events, err := st.LoadEvents(testDate)
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("event log not time ordered at %d", i)
		}
	}
	stored, err := st.LoadViolations(testDate)
	if err != nil {
		t.Fatalf("LoadViolations: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != v.ID {
		t.Fatalf("stored violations mismatch: %+v", stored)
	}
	if len(sink.dates) != 1 || sink.dates[0] != testDate || len(sink.violations[0]) != 1 {
		t.Fatalf("sink not published: %+v", sink.dates)
	}
}

func TestRunFilesIsIdempotent(t *testing.T) {
	sc, a, b := splitBurst()
	st := newStore(t)
	p := newDatePipeline(t, DateConfig{Normalizer: normCfg}, sc, st, nil, nil)

	if _, err := p.RunFiles(context.Background(), testDate, []discovery.File{a, b}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstEvents, _ := os.ReadFile(st.EventsPath(testDate))
	firstViolations, _ := os.ReadFile(st.ViolationsPath(testDate))

	if _, err := p.RunFiles(context.Background(), testDate, []discovery.File{b, a}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	secondEvents, _ := os.ReadFile(st.EventsPath(testDate))
	secondViolations, _ := os.ReadFile(st.ViolationsPath(testDate))

	if !bytes.Equal(firstEvents, secondEvents) {
		t.Fatalf("event log changed between runs")
	}
	if !bytes.Equal(firstViolations, secondViolations) {
		t.Fatalf("violation log changed between runs")
	}
}

func TestRunFilesSkipsFailingRecording(t *testing.T) {
	sc, a, b := splitBurst()
	sc.fail = map[string]bool{b.Path: true}
	p := newDatePipeline(t, DateConfig{Normalizer: normCfg}, sc, newStore(t), nil, nil)

	res, err := p.RunFiles(context.Background(), testDate, []discovery.File{a, b})
	if err != nil {
		t.Fatalf("RunFiles: %v", err)
	}
	if res.Files != 2 || res.SkippedFiles != 1 {
		t.Fatalf("expected one skipped file, got %+v", res)
	}
	if res.Events != 23 {
		t.Fatalf("expected events of the good file only, got %d", res.Events)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("a three minute burst must not violate, got %d", len(res.Violations))
	}
}

func TestRunFilesOrdersUnparseableLastOnMtime(t *testing.T) {
	sc, a, _ := splitBurst()
	mtime := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	odd := discovery.File{Path: "clip.wav", ModTime: mtime}
	sc.matrices[odd.Path] = barkMatrix(3, func(i int) bool { return i == 1 })
	st := newStore(t)
	p := newDatePipeline(t, DateConfig{Normalizer: normCfg}, sc, st, nil, nil)

	if _, err := p.RunFiles(context.Background(), testDate, []discovery.File{odd, a}); err != nil {
		t.Fatalf("RunFiles: %v", err)
	}
	if sc.calls[len(sc.calls)-1] != odd.Path {
		t.Fatalf("expected unparseable file last, got %v", sc.calls)
	}
	events, _ := st.LoadEvents(testDate)
	last := events[len(events)-1]
	if last.SourceFile != "clip.wav" || !last.Timestamp.Equal(mtime.Add(time.Second)) {
		t.Fatalf("expected mtime-anchored event, got %+v", last)
	}
}

func TestRunFilesCancelledWritesNothing(t *testing.T) {
	sc, a, b := splitBurst()
	st := newStore(t)
	p := newDatePipeline(t, DateConfig{Normalizer: normCfg}, sc, st, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.RunFiles(ctx, testDate, []discovery.File{a, b}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(st.EventsPath(testDate)); !os.IsNotExist(err) {
		t.Fatalf("expected no event log, stat err=%v", err)
	}
}

func TestRunFilesAppendMergesWithStoredEvents(t *testing.T) {
	sc, a, b := splitBurst()
	st := newStore(t)

	first := newDatePipeline(t, DateConfig{Normalizer: normCfg}, sc, st, nil, nil)
	if _, err := first.RunFiles(context.Background(), testDate, []discovery.File{a}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := newDatePipeline(t, DateConfig{Normalizer: normCfg, Mode: store.Append}, sc, st, nil, nil)
	res, err := second.RunFiles(context.Background(), testDate, []discovery.File{b})
	if err != nil {
		t.Fatalf("append run: %v", err)
	}
	if res.Events != 46 {
		t.Fatalf("expected merged log of 46 events, got %d", res.Events)
	}
	if len(res.Violations) != 1 || res.Violations[0].DurationMinutes != 6 {
		t.Fatalf("expected the merged burst to violate: %+v", res.Violations)
	}
}

func TestRunFilesEmptyDate(t *testing.T) {
	p := newDatePipeline(t, DateConfig{Normalizer: normCfg}, &fakeScorer{}, newStore(t), nil, nil)
	res, err := p.RunFiles(context.Background(), testDate, nil)
	if err != nil {
		t.Fatalf("RunFiles: %v", err)
	}
	if res.Events != 0 || len(res.Violations) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestRunDateWithSidecarScores(t *testing.T) {
	dir := t.TempDir()
	writeRecording := func(name string, m normalizer.ScoreMatrix) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
			t.Fatalf("write recording: %v", err)
		}
		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal scores: %v", err)
		}
		if err := os.WriteFile(path+".scores.json", data, 0644); err != nil {
			t.Fatalf("write scores: %v", err)
		}
	}
	writeRecording("yard_20260314_210000.wav", barkMatrix(181, func(i int) bool { return i%8 == 0 }))
	writeRecording("yard_20260314_210300.wav", barkMatrix(181, func(i int) bool { return i >= 4 && (i-4)%8 == 0 }))
	writeRecording("yard_20260315_080000.wav", barkMatrix(10, func(i int) bool { return true }))

	cfg := DateConfig{
		Discovery:  discovery.Config{Dir: dir, Extensions: []string{".wav"}, Location: time.UTC},
		Normalizer: normCfg,
	}
	p := newDatePipeline(t, cfg, scorer.NewSidecar(""), newStore(t), nil, nil)

	res, err := p.RunDate(context.Background(), testDate)
	if err != nil {
		t.Fatalf("RunDate: %v", err)
	}
	if res.Files != 2 || res.Events != 46 || len(res.Violations) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunRangeRejectsReversedDates(t *testing.T) {
	p := newDatePipeline(t, DateConfig{}, &fakeScorer{}, newStore(t), nil, nil)
	if _, err := p.RunRange(context.Background(), "2026-03-15", "2026-03-14"); err == nil {
		t.Fatalf("expected error for reversed range")
	}
}

func TestReclassifyUsesStoredEvents(t *testing.T) {
	st := newStore(t)
	base := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	var events []models.PersistedEvent
	for off := time.Duration(0); off <= 16*time.Minute; off += 4 * time.Minute {
		events = append(events, models.NewPersistedEvent(testDate, "live", base.Add(off), models.RawEvent{Labels: []string{"Bark"}}))
	}
	if err := st.SaveDate(testDate, events, nil, store.Overwrite); err != nil {
		t.Fatalf("SaveDate: %v", err)
	}

	sink := &captureSink{}
	p := newDatePipeline(t, DateConfig{Params: []analyzer.Params{analyzer.IntermittentDefaults()}}, &fakeScorer{}, st, nil, nil, sink)
	res, err := p.Reclassify(context.Background(), testDate)
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Type != models.Intermittent {
		t.Fatalf("expected one Intermittent violation, got %+v", res.Violations)
	}
	if len(res.Violations[0].BarkEventIDs) != 5 {
		t.Fatalf("expected 5 correlated events, got %d", len(res.Violations[0].BarkEventIDs))
	}
	stored, _ := st.LoadViolations(testDate)
	if len(stored) != 1 {
		t.Fatalf("expected stored violation, got %d", len(stored))
	}
	if len(sink.dates) != 1 {
		t.Fatalf("expected publish after reclassify")
	}

	if err := p.Close(); err != nil || !sink.closed {
		t.Fatalf("Close: err=%v closed=%v", err, sink.closed)
	}
}

func TestRunFilesBurstAcrossMidnight(t *testing.T) {
	rec := recording("yard_20260314_235700.wav", time.Date(2026, 3, 14, 23, 57, 0, 0, time.UTC))
	sc := &fakeScorer{matrices: map[string]normalizer.ScoreMatrix{
		rec.Path: barkMatrix(361, func(i int) bool { return i%5 == 0 }),
	}}
	st := newStore(t)
	p := newDatePipeline(t, DateConfig{Normalizer: normCfg}, sc, st, nil, nil)

	res, err := p.RunFiles(context.Background(), testDate, []discovery.File{rec})
	if err != nil {
		t.Fatalf("RunFiles: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected one violation, got %d", len(res.Violations))
	}
	v := res.Violations[0]
	if v.Date != testDate || v.DurationMinutes != 6 {
		t.Fatalf("unexpected violation date %s duration %v", v.Date, v.DurationMinutes)
	}
	events, _ := st.LoadEvents(testDate)
	if len(events) != 73 || len(v.BarkEventIDs) != 73 {
		t.Fatalf("expected 73 events all correlated, got %d events and %d ids", len(events), len(v.BarkEventIDs))
	}
	if last := events[len(events)-1]; last.WallTime != "00:03:00" || last.Date != testDate {
		t.Fatalf("post-midnight event should stay in the analysed date's log: %+v", last)
	}
}

func TestNewDatePipelineRejectsDegenerateParams(t *testing.T) {
	cases := []struct {
		name string
		p    analyzer.Params
	}{
		{"gap not below duration", analyzer.Params{Type: models.Continuous, GapThreshold: 5 * time.Minute, MinDuration: 5 * time.Minute}},
		{"zero duration", analyzer.Params{Type: models.Intermittent, GapThreshold: time.Minute}},
		{"no type", analyzer.Params{GapThreshold: time.Second, MinDuration: time.Minute}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DateConfig{Params: []analyzer.Params{analyzer.ContinuousDefaults(), tc.p}}
			if _, err := NewDatePipeline(cfg, &fakeScorer{}, newStore(t), nil, nil); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := NewDatePipeline(DateConfig{}, nil, newStore(t), nil, nil); err == nil {
		t.Fatalf("expected error without a scorer")
	}
}
