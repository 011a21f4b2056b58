package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"barkwatch/internal/analyzer"
	"barkwatch/internal/discovery"
	"barkwatch/internal/logger"
	"barkwatch/internal/metrics"
	"barkwatch/internal/normalizer"
	"barkwatch/internal/rules"
	"barkwatch/internal/scorer"
	"barkwatch/internal/store"
	"barkwatch/pkg/models"
)

// DateConfig controls the offline pipeline.
type DateConfig struct {
	Discovery  discovery.Config
	Normalizer normalizer.Config
	Params     []analyzer.Params
	Mode       store.Mode
}

// DateResult summarizes one analysed date.
type DateResult struct {
	Date         string             `json:"date"`
	Files        int                `json:"files"`
	SkippedFiles int                `json:"skipped_files"`
	Events       int                `json:"events"`
	Violations   []models.Violation `json:"violations"`
}

// DatePipeline turns one date's recordings into an event log and a violation log.
type DatePipeline struct {
	cfg     DateConfig
	scorer  scorer.Scorer
	store   *store.Store
	engine  rules.Engine
	sinks   []ViolationSink
	metrics *metrics.Metrics
}

// NewDatePipeline creates an offline pipeline. engine and m may be nil.
// Empty Params select the Continuous and Intermittent defaults.
func NewDatePipeline(cfg DateConfig, sc scorer.Scorer, st *store.Store, engine rules.Engine, m *metrics.Metrics, sinks ...ViolationSink) (*DatePipeline, error) {
	if len(cfg.Params) == 0 {
		cfg.Params = []analyzer.Params{analyzer.ContinuousDefaults(), analyzer.IntermittentDefaults()}
	}
	for _, p := range cfg.Params {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("analysis params: %w", err)
		}
	}
	if sc == nil || st == nil {
		return nil, fmt.Errorf("date pipeline needs a scorer and a store")
	}
	if engine == nil {
		engine = &rules.NoopEngine{}
	}
	if m == nil {
		m = metrics.New()
	}
	return &DatePipeline{cfg: cfg, scorer: sc, store: st, engine: engine, sinks: sinks, metrics: m}, nil
}

// RunDate discovers and analyses the recordings of date.
func (p *DatePipeline) RunDate(ctx context.Context, date string) (DateResult, error) {
	files, err := discovery.Discover(p.cfg.Discovery, date)
	if err != nil {
		return DateResult{Date: date}, fmt.Errorf("discover %s: %w", date, err)
	}
	logger.Infof("Analysing %s: %d recordings", date, len(files))
	return p.RunFiles(ctx, date, files)
}

// RunRange analyses every date from..to inclusive, stopping at the first error.
func (p *DatePipeline) RunRange(ctx context.Context, from, to string) ([]DateResult, error) {
	start, err := time.Parse(models.DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("parse from date: %w", err)
	}
	end, err := time.Parse(models.DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("parse to date: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("to date %s is before from date %s", to, from)
	}

	var results []DateResult
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		res, err := p.RunDate(ctx, day.Format(models.DateLayout))
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// RunFiles analyses the given recordings of date. Files are processed in
// chronological order regardless of the order given; the pipeline stops
// between files when ctx is cancelled, before anything is written.
func (p *DatePipeline) RunFiles(ctx context.Context, date string, files []discovery.File) (DateResult, error) {
	began := time.Now()
	res := DateResult{Date: date}

	var events []models.PersistedEvent
	for _, f := range discovery.Order(files) {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("analysis of %s cancelled: %w", date, err)
		}
		res.Files++

		fileEvents, err := p.processFile(ctx, date, f)
		if err != nil {
			logger.WithField("file", f.Path).Errorf("Skipping recording: %v", err)
			res.SkippedFiles++
			p.metrics.FilesSkipped.Inc()
			continue
		}
		p.metrics.FilesProcessed.Inc()
		events = append(events, fileEvents...)
	}

	if p.cfg.Mode == store.Append {
		existing, err := p.store.LoadEvents(date)
		if err != nil {
			return res, fmt.Errorf("load existing events for %s: %w", date, err)
		}
		events = store.MergeEvents(existing, events)
	} else {
		events = store.MergeEvents(nil, events)
	}

	violations := p.classify(date, events)
	if err := p.store.SaveDate(date, events, violations, store.Overwrite); err != nil {
		return res, fmt.Errorf("save %s: %w", date, err)
	}

	res.Events = len(events)
	res.Violations = violations
	p.metrics.EventsPersisted.Add(float64(len(events)))
	p.metrics.ObserveViolations(violations)
	p.metrics.DatesAnalyzed.Inc()
	p.metrics.DateDurationSecs.Observe(time.Since(began).Seconds())

	p.publish(ctx, date, violations)
	logger.Infof("Analysed %s: files=%d skipped=%d events=%d violations=%d",
		date, res.Files, res.SkippedFiles, res.Events, len(violations))
	return res, nil
}

// Reclassify recomputes the violation log of date from its stored event log.
func (p *DatePipeline) Reclassify(ctx context.Context, date string) (DateResult, error) {
	events, err := p.store.LoadEvents(date)
	if err != nil {
		return DateResult{Date: date}, fmt.Errorf("load events for %s: %w", date, err)
	}
	violations := p.classify(date, events)
	if err := p.store.SaveViolations(date, violations); err != nil {
		return DateResult{Date: date}, fmt.Errorf("save violations for %s: %w", date, err)
	}
	p.metrics.ObserveViolations(violations)
	p.publish(ctx, date, violations)
	logger.Debugf("Reclassified %s: events=%d violations=%d", date, len(events), len(violations))
	return DateResult{Date: date, Events: len(events), Violations: violations}, nil
}

func (p *DatePipeline) processFile(ctx context.Context, date string, f discovery.File) ([]models.PersistedEvent, error) {
	m, err := p.scorer.Score(ctx, f.Path)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	raw, err := normalizer.Normalize(m, p.cfg.Normalizer)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	anchor := f.Anchor()
	source := filepath.Base(f.Path)
	out := make([]models.PersistedEvent, 0, len(raw))
	for _, r := range raw {
		ev := models.NewPersistedEvent(date, source, anchor, r)
		ev.Tags = p.engine.Apply(&ev)
		out = append(out, ev)
	}
	logger.Debugf("Scored %s: %d events", source, len(out))
	return out, nil
}

func (p *DatePipeline) classify(date string, events []models.PersistedEvent) []models.Violation {
	found := analyzer.ClassifyAll(date, analyzer.Project(events), p.cfg.Params...)
	return analyzer.Correlate(found, events)
}

func (p *DatePipeline) publish(ctx context.Context, date string, violations []models.Violation) {
	for _, sink := range p.sinks {
		if err := sink.WriteViolations(ctx, date, violations); err != nil {
			logger.Errorf("Failed to publish violations for %s: %v", date, err)
		}
	}
}

// Close releases sink resources.
func (p *DatePipeline) Close() error {
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil {
			logger.Errorf("Failed to close violation sink: %v", err)
		}
	}
	return nil
}
