package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"barkwatch/pkg/models"
)

// ErrDanglingReference is returned when a violation names an event id that is
// not in the same date's event log.
var ErrDanglingReference = errors.New("violation references unknown event")

// Mode selects how SaveDate treats existing logs.
type Mode int

const (
	// Overwrite replaces the date's logs.
	Overwrite Mode = iota
	// Append merges into the date's logs by id.
	Append
)

// EventLog is the on-disk shape of a date's event log.
type EventLog struct {
	Date   string                  `json:"date"`
	Events []models.PersistedEvent `json:"events"`
}

// ViolationLog is the on-disk shape of a date's violation log.
type ViolationLog struct {
	Date       string             `json:"date"`
	Violations []models.Violation `json:"violations"`
}

// Store keeps one event log and one violation log per date under a directory.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New creates the store directories.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "data"
	}
	for _, sub := range []string{"events", "violations"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &Store{dir: dir}, nil
}

// SaveDate writes both logs for date. Each file is written to a temp file and
// renamed over the previous one.
func (s *Store) SaveDate(date string, events []models.PersistedEvent, violations []models.Violation, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == Append {
		oldEvents, err := s.loadEvents(date)
		if err != nil {
			return err
		}
		oldViolations, err := s.loadViolations(date)
		if err != nil {
			return err
		}
		events = MergeEvents(oldEvents, events)
		violations = MergeViolations(oldViolations, violations)
	} else {
		events = MergeEvents(nil, events)
		violations = MergeViolations(nil, violations)
	}

	if err := CheckReferences(events, violations); err != nil {
		return err
	}

	evTmp, err := writeTemp(s.eventsPath(date), EventLog{Date: date, Events: events})
	if err != nil {
		return err
	}
	vTmp, err := writeTemp(s.violationsPath(date), ViolationLog{Date: date, Violations: violations})
	if err != nil {
		os.Remove(evTmp)
		return err
	}
	if err := os.Rename(evTmp, s.eventsPath(date)); err != nil {
		os.Remove(evTmp)
		os.Remove(vTmp)
		return fmt.Errorf("replace event log: %w", err)
	}
	if err := os.Rename(vTmp, s.violationsPath(date)); err != nil {
		os.Remove(vTmp)
		return fmt.Errorf("replace violation log: %w", err)
	}
	return nil
}

// SaveViolations replaces only the violation log, checked against the stored events.
func (s *Store) SaveViolations(date string, violations []models.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.loadEvents(date)
	if err != nil {
		return err
	}
	violations = MergeViolations(nil, violations)
	if err := CheckReferences(events, violations); err != nil {
		return err
	}
	tmp, err := writeTemp(s.violationsPath(date), ViolationLog{Date: date, Violations: violations})
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.violationsPath(date)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace violation log: %w", err)
	}
	return nil
}

// LoadEvents returns the date's event log, empty if none was written.
func (s *Store) LoadEvents(date string) ([]models.PersistedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadEvents(date)
}

// LoadViolations returns the date's violation log, empty if none was written.
func (s *Store) LoadViolations(date string) ([]models.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadViolations(date)
}

// Dates lists every date with an event log, ascending.
func (s *Store) Dates() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "events"))
	if err != nil {
		return nil, fmt.Errorf("read event logs: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(out)
	return out, nil
}

// EventsPath returns the event log location for date.
func (s *Store) EventsPath(date string) string { return s.eventsPath(date) }

// ViolationsPath returns the violation log location for date.
func (s *Store) ViolationsPath(date string) string { return s.violationsPath(date) }

func (s *Store) eventsPath(date string) string {
	return filepath.Join(s.dir, "events", date+".json")
}

func (s *Store) violationsPath(date string) string {
	return filepath.Join(s.dir, "violations", date+".json")
}

func (s *Store) loadEvents(date string) ([]models.PersistedEvent, error) {
	var log EventLog
	if err := readJSON(s.eventsPath(date), &log); err != nil {
		return nil, err
	}
	return log.Events, nil
}

func (s *Store) loadViolations(date string) ([]models.Violation, error) {
	var log ViolationLog
	if err := readJSON(s.violationsPath(date), &log); err != nil {
		return nil, err
	}
	return log.Violations, nil
}

// MergeEvents unions two logs by id, b winning, sorted by timestamp then id.
func MergeEvents(a, b []models.PersistedEvent) []models.PersistedEvent {
	byID := make(map[string]models.PersistedEvent, len(a)+len(b))
	for _, e := range a {
		byID[e.ID] = e
	}
	for _, e := range b {
		byID[e.ID] = e
	}
	out := make([]models.PersistedEvent, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// MergeViolations unions two logs by id, b winning, sorted by start, type, id.
func MergeViolations(a, b []models.Violation) []models.Violation {
	byID := make(map[string]models.Violation, len(a)+len(b))
	for _, v := range a {
		byID[v.ID] = v
	}
	for _, v := range b {
		byID[v.ID] = v
	}
	out := make([]models.Violation, 0, len(byID))
	for _, v := range byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTimestamp.Equal(out[j].StartTimestamp) {
			return out[i].StartTimestamp.Before(out[j].StartTimestamp)
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CheckReferences verifies every violation id resolves in events.
func CheckReferences(events []models.PersistedEvent, violations []models.Violation) error {
	known := make(map[string]struct{}, len(events))
	for _, e := range events {
		known[e.ID] = struct{}{}
	}
	for _, v := range violations {
		for _, id := range v.BarkEventIDs {
			if _, ok := known[id]; !ok {
				return fmt.Errorf("%w: violation %s event %s", ErrDanglingReference, v.ID, id)
			}
		}
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeTemp(path string, v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}
