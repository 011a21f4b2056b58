package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"barkwatch/internal/dedup"
	"barkwatch/internal/logger"
	"barkwatch/internal/metrics"
	"barkwatch/internal/rules"
	"barkwatch/internal/store"
	"barkwatch/pkg/models"
)

// LiveConfig controls the live pipeline.
type LiveConfig struct {
	Cooldown          float64
	RecentCapacity    int
	FlushInterval     time.Duration
	BatchSize         int
	ReclassifyOnFlush bool
	Location          *time.Location
}

// LivePipeline consumes live detections, reports the ones that survive the
// cooldown, and persists every detection to the per-date event logs.
type LivePipeline struct {
	cfg     LiveConfig
	source  Source
	state   *dedup.State
	store   *store.Store
	reports ReportWriter
	engine  rules.Engine
	dates   *DatePipeline
	metrics *metrics.Metrics

	suppressed int
	pending    map[string][]models.PersistedEvent
	npending   int
	seq        map[string]uint64
}

// NewLivePipeline creates a live pipeline. reports, engine, dates and m may be nil.
func NewLivePipeline(cfg LiveConfig, source Source, st *store.Store, reports ReportWriter, engine rules.Engine, dates *DatePipeline, m *metrics.Metrics) *LivePipeline {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if engine == nil {
		engine = &rules.NoopEngine{}
	}
	if m == nil {
		m = metrics.New()
	}
	return &LivePipeline{
		cfg:     cfg,
		source:  source,
		state:   dedup.NewState(cfg.Cooldown, cfg.RecentCapacity),
		store:   st,
		reports: reports,
		engine:  engine,
		dates:   dates,
		metrics: m,
		pending: make(map[string][]models.PersistedEvent),
		seq:     make(map[string]uint64),
	}
}

// Run consumes until ctx is cancelled, then drains and flushes.
func (p *LivePipeline) Run(ctx context.Context) error {
	logger.Infof("Live pipeline started")

	msgCh := make(chan []byte, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.flush(ctx)
		case payload, ok := <-msgCh:
			if !ok {
				wg.Wait()
				p.flush(context.WithoutCancel(ctx))
				return ctx.Err()
			}
			var det models.Detection
			if err := json.Unmarshal(payload, &det); err != nil {
				logger.Warnf("Failed to parse detection: %v", err)
				continue
			}
			if err := p.Handle(det); err != nil {
				logger.Errorf("Failed to handle detection: %v", err)
			}
			if p.npending >= p.cfg.BatchSize {
				p.flush(ctx)
			}
		}
	}
}

// Handle applies the cooldown to one detection and queues it for persistence.
// Suppressed detections are persisted too.
func (p *LivePipeline) Handle(det models.Detection) error {
	if det.Timestamp.IsZero() {
		return fmt.Errorf("detection without timestamp")
	}
	ts := det.Timestamp.In(p.cfg.Location)
	date := ts.Format(models.DateLayout)
	source := det.SourceFile
	if source == "" {
		source = "live"
	}

	offset := time.Duration(det.Offset * float64(time.Second))
	raw := models.RawEvent{
		StartTime:  det.Offset,
		EndTime:    det.Offset,
		Confidence: det.Confidence,
		Intensity:  det.Intensity,
		Labels:     []string{det.Label},
	}
	// The per-source sequence keeps ids distinct for detections sharing a millisecond.
	p.seq[source]++
	idSource := fmt.Sprintf("%s#%d", source, p.seq[source])
	ev := models.NewPersistedEvent(date, idSource, ts.Add(-offset), raw)
	ev.SourceFile = source
	ev.Tags = p.engine.Apply(&ev)
	p.pending[date] = append(p.pending[date], ev)
	p.npending++

	now := float64(ts.UnixNano()) / float64(time.Second)
	decision := dedup.Observe(p.state, now)
	p.metrics.LiveDetections.WithLabelValues(decision.String()).Inc()
	if decision == dedup.Suppress {
		p.suppressed++
		return nil
	}

	report := &models.Report{
		ReportedAt: ts,
		EventID:    ev.ID,
		Label:      det.Label,
		Confidence: det.Confidence,
		Suppressed: p.suppressed,
	}
	p.suppressed = 0
	logger.Infof("Bark detected at %s (label=%s confidence=%.2f)", ev.WallTime, det.Label, det.Confidence)
	if p.reports != nil {
		if err := p.reports.WriteReports([]*models.Report{report}); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}

// Pending returns the number of detections not yet flushed.
func (p *LivePipeline) Pending() int {
	return p.npending
}

func (p *LivePipeline) flush(ctx context.Context) {
	for date, events := range p.pending {
		if err := p.store.SaveDate(date, events, nil, store.Append); err != nil {
			logger.Errorf("Failed to persist %d live events for %s: %v", len(events), date, err)
			continue
		}
		p.metrics.EventsPersisted.Add(float64(len(events)))
		p.npending -= len(events)
		delete(p.pending, date)

		if p.cfg.ReclassifyOnFlush && p.dates != nil {
			if _, err := p.dates.Reclassify(ctx, date); err != nil {
				logger.Errorf("Failed to reclassify %s: %v", date, err)
			}
		}
	}
}

func (p *LivePipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		payload, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop detection: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		out <- payload
	}
}

// Close releases pipeline resources.
func (p *LivePipeline) Close() error {
	if p.reports != nil {
		if err := p.reports.Close(); err != nil {
			logger.Errorf("Failed to close report writer: %v", err)
		}
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}
