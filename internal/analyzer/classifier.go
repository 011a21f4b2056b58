package analyzer

import (
	"fmt"
	"sort"
	"time"

	"barkwatch/pkg/models"
)

// Params configures one violation type.
type Params struct {
	Type         models.ViolationType
	GapThreshold time.Duration
	MinDuration  time.Duration
}

// ContinuousDefaults: gaps of at most 10s sustained for 5 minutes.
func ContinuousDefaults() Params {
	return Params{Type: models.Continuous, GapThreshold: 10 * time.Second, MinDuration: 5 * time.Minute}
}

// IntermittentDefaults: gaps of at most 5 minutes sustained for 15 minutes.
func IntermittentDefaults() Params {
	return Params{Type: models.Intermittent, GapThreshold: 5 * time.Minute, MinDuration: 15 * time.Minute}
}

// Validate rejects parameter sets that make classification degenerate.
func (p Params) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("violation type is empty")
	}
	if p.GapThreshold <= 0 {
		return fmt.Errorf("%s: gap threshold must be positive, got %s", p.Type, p.GapThreshold)
	}
	if p.MinDuration <= 0 {
		return fmt.Errorf("%s: min duration must be positive, got %s", p.Type, p.MinDuration)
	}
	if p.GapThreshold >= p.MinDuration {
		return fmt.Errorf("%s: gap threshold %s must be below min duration %s", p.Type, p.GapThreshold, p.MinDuration)
	}
	return nil
}

// Classify returns one violation per burst whose span reaches p.MinDuration.
// Unsorted input is sorted first. BarkEventIDs hold the burst's own events;
// Correlate replaces them with the full event log attribution.
func Classify(date string, events []models.AlgorithmEvent, p Params) []models.Violation {
	if len(events) == 0 {
		return nil
	}
	if !IsSorted(events) {
		events = SortEvents(events)
	}

	var out []models.Violation
	for _, b := range GroupBursts(events, p.GapThreshold) {
		if b.Span() < p.MinDuration {
			continue
		}
		out = append(out, newViolation(date, b, p))
	}
	return out
}

// ClassifyAll runs every parameter set over the same events independently.
// Results are ordered by start time, then type.
func ClassifyAll(date string, events []models.AlgorithmEvent, params ...Params) []models.Violation {
	if len(events) > 0 && !IsSorted(events) {
		events = SortEvents(events)
	}
	var out []models.Violation
	for _, p := range params {
		out = append(out, Classify(date, events, p)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartTimestamp.Equal(out[j].StartTimestamp) {
			return out[i].Type < out[j].Type
		}
		return out[i].StartTimestamp.Before(out[j].StartTimestamp)
	})
	return out
}

func newViolation(date string, b models.Burst, p Params) models.Violation {
	start, end := b.Start(), b.End()
	trigger := triggerTimestamp(b, p.MinDuration)

	ids := make([]string, 0, len(b.Events))
	for _, e := range b.Events {
		ids = append(ids, e.ID)
	}
	return models.Violation{
		ID:                        models.ViolationID(date, p.Type, start, end),
		Date:                      date,
		Type:                      p.Type,
		StartTimestamp:            start,
		ViolationTriggerTimestamp: trigger,
		EndTimestamp:              end,
		DurationMinutes:           end.Sub(start).Minutes(),
		ViolationDurationMinutes:  end.Sub(trigger).Minutes(),
		BarkEventIDs:              ids,
	}
}

// triggerTimestamp is the first event at which the span from the burst start
// reaches minDuration, or the last event if none does earlier.
func triggerTimestamp(b models.Burst, minDuration time.Duration) time.Time {
	start := b.Start()
	for _, e := range b.Events[:len(b.Events)-1] {
		if e.Timestamp.Sub(start) >= minDuration {
			return e.Timestamp
		}
	}
	return b.End()
}
