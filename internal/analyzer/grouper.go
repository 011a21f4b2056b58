package analyzer

import (
	"sort"
	"time"

	"barkwatch/pkg/models"
)

// GroupBursts splits time-ordered events into bursts. A new burst starts
// whenever the gap to the previous event exceeds maxGap.
func GroupBursts(events []models.AlgorithmEvent, maxGap time.Duration) []models.Burst {
	if len(events) == 0 {
		return nil
	}

	bursts := make([]models.Burst, 0, 16)
	cur := models.Burst{Events: []models.AlgorithmEvent{events[0]}}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Sub(events[i-1].Timestamp) <= maxGap {
			cur.Events = append(cur.Events, events[i])
			continue
		}
		bursts = append(bursts, cur)
		cur = models.Burst{Events: []models.AlgorithmEvent{events[i]}}
	}
	return append(bursts, cur)
}

// SortEvents orders events by timestamp, ties by id. The input is not modified.
func SortEvents(events []models.AlgorithmEvent) []models.AlgorithmEvent {
	out := append([]models.AlgorithmEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// IsSorted reports whether timestamps are non-decreasing.
func IsSorted(events []models.AlgorithmEvent) bool {
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// Project builds the classification view of a persisted event log, sorted.
func Project(events []models.PersistedEvent) []models.AlgorithmEvent {
	out := make([]models.AlgorithmEvent, 0, len(events))
	for _, e := range events {
		out = append(out, models.AlgorithmEvent{ID: e.ID, Timestamp: e.Timestamp})
	}
	return SortEvents(out)
}
