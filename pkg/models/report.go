package models

import "time"

// Detection is one live detection popped from the ingestion queue.
type Detection struct {
	Timestamp  time.Time `json:"timestamp"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Intensity  *float64  `json:"intensity,omitempty"`
	SourceFile string    `json:"source_file,omitempty"`
	Offset     float64   `json:"offset,omitempty"`
}

// Report is a user-visible live detection that survived deduplication.
type Report struct {
	ReportedAt time.Time `json:"reported_at"`
	EventID    string    `json:"event_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Suppressed int       `json:"suppressed_since_last"`
}
