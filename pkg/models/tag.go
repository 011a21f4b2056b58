package models

// RuleTag represents a rule match annotation on a persisted event.
type RuleTag struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Severity string `json:"severity,omitempty"`
}
