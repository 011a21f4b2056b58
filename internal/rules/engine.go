package rules

import "barkwatch/pkg/models"

// Engine tags persisted events.
type Engine interface {
	Apply(event *models.PersistedEvent) []models.RuleTag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(event *models.PersistedEvent) []models.RuleTag {
	return nil
}
