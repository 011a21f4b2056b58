package pipeline

import (
	"context"

	"barkwatch/pkg/models"
)

// ReportWriter writes user-visible live reports.
type ReportWriter interface {
	WriteReports(reports []*models.Report) error
	Close() error
}

// ViolationSink receives a date's full violation list after it is saved.
type ViolationSink interface {
	WriteViolations(ctx context.Context, date string, violations []models.Violation) error
	Close() error
}

// Source yields raw live detection messages. A nil payload with a nil error
// means nothing arrived before the source's poll timeout.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}
