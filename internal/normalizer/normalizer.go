package normalizer

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"barkwatch/pkg/models"
)

// ScoreMatrix is the scorer output for one audio file: Scores[frame][label].
type ScoreMatrix struct {
	Labels        []string    `json:"labels"`
	Scores        [][]float64 `json:"scores"`
	FrameDuration float64     `json:"frame_duration"`
	Intensity     []float64   `json:"intensity,omitempty"`
}

// Config controls frame thresholding.
type Config struct {
	Threshold    float64
	TargetLabels []string
}

// Normalize turns per-frame scores into discrete events. Contiguous frames
// whose best target score exceeds the threshold merge into one event.
func Normalize(m ScoreMatrix, cfg Config) ([]models.RawEvent, error) {
	if m.FrameDuration <= 0 {
		return nil, fmt.Errorf("frame duration must be positive, got %v", m.FrameDuration)
	}
	cols, err := targetColumns(m.Labels, cfg.TargetLabels)
	if err != nil {
		return nil, err
	}
	if len(m.Intensity) > 0 && len(m.Intensity) != len(m.Scores) {
		return nil, fmt.Errorf("intensity has %d frames, scores have %d", len(m.Intensity), len(m.Scores))
	}

	var (
		out      []models.RawEvent
		first    = -1
		active   []float64
		labelSet = map[string]struct{}{}
	)

	flush := func(last int) {
		if first < 0 {
			return
		}
		ev := models.RawEvent{
			StartTime:  float64(first) * m.FrameDuration,
			EndTime:    float64(last+1) * m.FrameDuration,
			Confidence: stat.Mean(active, nil),
			Labels:     sortedKeys(labelSet),
		}
		if len(m.Intensity) > 0 {
			v := floats.Max(m.Intensity[first : last+1])
			ev.Intensity = &v
		}
		out = append(out, ev)
		first = -1
		active = active[:0]
		labelSet = map[string]struct{}{}
	}

	for i, row := range m.Scores {
		if len(row) != len(m.Labels) {
			return nil, fmt.Errorf("frame %d has %d scores, expected %d", i, len(row), len(m.Labels))
		}
		best, bestLabels := frameMax(row, cols, m.Labels)
		if best <= cfg.Threshold {
			flush(i - 1)
			continue
		}
		if first < 0 {
			first = i
		}
		active = append(active, best)
		for _, l := range bestLabels {
			labelSet[l] = struct{}{}
		}
	}
	flush(len(m.Scores) - 1)

	if out == nil {
		return []models.RawEvent{}, nil
	}
	return out, nil
}

func targetColumns(labels, targets []string) ([]int, error) {
	if len(targets) == 0 {
		cols := make([]int, len(labels))
		for i := range labels {
			cols[i] = i
		}
		return cols, nil
	}
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	cols := make([]int, 0, len(targets))
	for _, t := range targets {
		i, ok := index[t]
		if !ok {
			return nil, fmt.Errorf("target label %q not in score matrix", t)
		}
		cols = append(cols, i)
	}
	return cols, nil
}

// frameMax returns the best score among cols and every label that attains it.
func frameMax(row []float64, cols []int, labels []string) (float64, []string) {
	best := -1.0
	var winners []string
	for _, c := range cols {
		switch {
		case row[c] > best:
			best = row[c]
			winners = append(winners[:0], labels[c])
		case row[c] == best:
			winners = append(winners, labels[c])
		}
	}
	return best, winners
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
