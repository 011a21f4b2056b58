package models

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType names the legal finding.
type ViolationType string

const (
	Continuous   ViolationType = "Continuous"
	Intermittent ViolationType = "Intermittent"
)

// Violation is one qualifying burst and the events attributed to it.
type Violation struct {
	ID                        string        `json:"id"`
	Date                      string        `json:"date"`
	Type                      ViolationType `json:"type"`
	StartTimestamp            time.Time     `json:"startTimestamp"`
	ViolationTriggerTimestamp time.Time     `json:"violationTriggerTimestamp"`
	EndTimestamp              time.Time     `json:"endTimestamp"`
	DurationMinutes           float64       `json:"durationMinutes"`
	ViolationDurationMinutes  float64       `json:"violationDurationMinutes"`
	BarkEventIDs              []string      `json:"barkEventIds"`
}

// ViolationID derives a stable violation id from its date, type and bounds.
func ViolationID(date string, typ ViolationType, start, end time.Time) string {
	key := date + "|" + string(typ) + "|" + start.UTC().Format(time.RFC3339) + "|" + end.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}
