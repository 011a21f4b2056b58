package analyzer

import (
	"sort"

	"barkwatch/pkg/models"
)

// Correlate attributes to each violation every persisted event whose timestamp
// lies within [start, end], looked up against the full event log.
func Correlate(violations []models.Violation, events []models.PersistedEvent) []models.Violation {
	if len(violations) == 0 {
		return violations
	}

	sorted := append([]models.PersistedEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := make([]models.Violation, len(violations))
	for i, v := range violations {
		lo := sort.Search(len(sorted), func(k int) bool {
			return !sorted[k].Timestamp.Before(v.StartTimestamp)
		})
		ids := make([]string, 0, 64)
		for k := lo; k < len(sorted) && !sorted[k].Timestamp.After(v.EndTimestamp); k++ {
			ids = append(ids, sorted[k].ID)
		}
		v.BarkEventIDs = ids
		out[i] = v
	}
	return out
}

// EventsFor resolves a violation's ids against the event log, in id order.
// Missing ids are returned separately.
func EventsFor(v models.Violation, events []models.PersistedEvent) ([]models.PersistedEvent, []string) {
	byID := make(map[string]models.PersistedEvent, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	found := make([]models.PersistedEvent, 0, len(v.BarkEventIDs))
	var missing []string
	for _, id := range v.BarkEventIDs {
		e, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		found = append(found, e)
	}
	return found, missing
}
