package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"barkwatch/internal/logger"
	"barkwatch/pkg/models"
)

// SigmaLoadStats counts rule files by outcome.
type SigmaLoadStats struct {
	Files       int
	Loaded      int
	Foreign     int
	Unsupported int
	Invalid     int
}

type barkRule struct {
	eval *sigmaevaluator.RuleEvaluator
	tag  models.RuleTag
}

// SigmaEngine tags single bark events with the Sigma rules that match them.
type SigmaEngine struct {
	rules []barkRule
}

// NewSigmaEngine loads the barkwatch/acoustic rules under path, a YAML file or
// a directory walked recursively. Rules for other log sources and rules that
// need more than one event are skipped and counted.
func NewSigmaEngine(path string) (*SigmaEngine, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	files, err := ruleFiles(path)
	if err != nil {
		return nil, stats, err
	}
	stats.Files = len(files)

	loaded := make([]barkRule, 0, len(files))
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			logger.Warnf("Skipping Sigma rule %s: %v", file, err)
			stats.Invalid++
			continue
		}
		rule, err := sigma.ParseRule(raw)
		if err != nil {
			logger.Warnf("Skipping Sigma rule %s: %v", file, err)
			stats.Invalid++
			continue
		}
		if !acousticSource(rule.Logsource) {
			stats.Foreign++
			continue
		}
		if !singleEvent(rule.Detection) {
			logger.Debugf("Skipping Sigma rule %s: needs more than one event", file)
			stats.Unsupported++
			continue
		}
		loaded = append(loaded, barkRule{eval: sigmaevaluator.ForRule(rule), tag: tagFromRule(rule)})
		stats.Loaded++
	}

	return &SigmaEngine{rules: loaded}, stats, nil
}

// Apply returns the tags of every rule matching event, or nil.
func (e *SigmaEngine) Apply(event *models.PersistedEvent) []models.RuleTag {
	if e == nil || event == nil || len(e.rules) == 0 {
		return nil
	}

	fields := eventFields(event)
	var out []models.RuleTag
	for _, r := range e.rules {
		res, err := r.eval.Matches(context.Background(), fields)
		if err != nil || !res.Match {
			continue
		}
		out = append(out, r.tag)
	}
	return out
}

func ruleFiles(path string) ([]string, error) {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rule path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat rule path: %w", err)
	}
	if !info.IsDir() {
		if !isYAML(resolved) {
			return nil, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		return []string{resolved}, nil
	}

	var files []string
	err = filepath.WalkDir(resolved, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && isYAML(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk rule directory: %w", err)
	}
	return files, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

// An empty product or category matches.
func acousticSource(ls sigma.Logsource) bool {
	product := strings.ToLower(strings.TrimSpace(ls.Product))
	category := strings.ToLower(strings.TrimSpace(ls.Category))
	return (product == "" || product == "barkwatch") && (category == "" || category == "acoustic")
}

// singleEvent reports whether d can be decided from one event's fields.
func singleEvent(d sigma.Detection) bool {
	if d.Timeframe > 0 {
		return false
	}
	for _, cond := range d.Conditions {
		if cond.Aggregation != nil {
			return false
		}
	}
	for _, search := range d.Searches {
		if len(search.Keywords) > 0 || len(search.EventMatchers) == 0 {
			return false
		}
	}
	return true
}

func eventFields(event *models.PersistedEvent) map[string]interface{} {
	fields := map[string]interface{}{
		"id":             event.ID,
		"date":           event.Date,
		"wall_time":      event.WallTime,
		"hour":           event.Timestamp.Hour(),
		"label":          event.Label,
		"source_file":    event.SourceFile,
		"offset_in_file": event.OffsetInFile,
		"confidence":     event.Confidence,
		"intensity":      event.Intensity,
	}
	if len(event.Labels) > 0 {
		fields["labels"] = strings.Join(event.Labels, ",")
	}
	return fields
}

func tagFromRule(rule sigma.Rule) models.RuleTag {
	name := strings.TrimSpace(rule.Title)
	id := strings.TrimSpace(rule.ID)
	if id == "" {
		id = name
	}
	severity := strings.ToLower(strings.TrimSpace(rule.Level))
	if severity == "" {
		severity = "medium"
	}
	return models.RuleTag{ID: id, Name: name, Severity: severity}
}
