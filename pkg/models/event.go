package models

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// DateLayout is the calendar date key of a per-date log.
	DateLayout = "2006-01-02"
	// WallTimeLayout is the clock format of PersistedEvent.WallTime.
	WallTimeLayout = "15:04:05"
)

// DefaultIntensity is used when the scorer reports no intensity for an event.
const DefaultIntensity = 0.0

var idNamespace = uuid.MustParse("6f1c7c2e-5d3a-4b8e-9a61-0b7c2f4d9e10")

// RawEvent is one detected bark, relative to the start of its audio file.
type RawEvent struct {
	StartTime  float64  `json:"start_time"`
	EndTime    float64  `json:"end_time"`
	Confidence float64  `json:"confidence"`
	Intensity  *float64 `json:"intensity,omitempty"`
	Labels     []string `json:"labels"`
}

// IntensityOrDefault returns the event intensity, or DefaultIntensity when unset.
func (e RawEvent) IntensityOrDefault() float64 {
	if e.Intensity == nil {
		return DefaultIntensity
	}
	return *e.Intensity
}

// PersistedEvent is the durable, wall-clock anchored form of a RawEvent.
type PersistedEvent struct {
	Date         string    `json:"date"`
	WallTime     string    `json:"wall_time"`
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Labels       []string  `json:"labels,omitempty"`
	SourceFile   string    `json:"source_file"`
	OffsetInFile string    `json:"offset_in_file"`
	Confidence   float64   `json:"confidence"`
	Intensity    float64   `json:"intensity"`
	Timestamp    time.Time `json:"timestamp"`
	Tags         []RuleTag `json:"tags,omitempty"`
}

// NewPersistedEvent anchors raw at fileStart. The timestamp is rounded to
// whole seconds.
func NewPersistedEvent(date, sourceFile string, fileStart time.Time, raw RawEvent) PersistedEvent {
	offset := time.Duration(math.Round(raw.StartTime * float64(time.Second)))
	at := fileStart.Add(offset)
	ts := at.Round(time.Second)
	label := ""
	if len(raw.Labels) > 0 {
		label = raw.Labels[0]
	}
	return PersistedEvent{
		Date:         date,
		WallTime:     ts.Format(WallTimeLayout),
		ID:           EventID(date, sourceFile, at, label),
		Label:        label,
		Labels:       append([]string(nil), raw.Labels...),
		SourceFile:   sourceFile,
		OffsetInFile: FormatOffset(raw.StartTime),
		Confidence:   raw.Confidence,
		Intensity:    raw.IntensityOrDefault(),
		Timestamp:    ts,
	}
}

// EventID derives a stable id from the event's unrounded start so that
// re-analysing a date reproduces the same log.
func EventID(date, sourceFile string, at time.Time, label string) string {
	key := date + "|" + sourceFile + "|" + strconv.FormatInt(at.UnixMilli(), 10) + "|" + label
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// FormatOffset renders seconds as HH:MM:SS.mmm.
func FormatOffset(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// AlgorithmEvent is the minimal projection used for classification.
type AlgorithmEvent struct {
	ID        string
	Timestamp time.Time
}

// Burst is a maximal run of events whose consecutive gaps stay within a threshold.
type Burst struct {
	Events []AlgorithmEvent
}

// Start returns the first event timestamp.
func (b Burst) Start() time.Time {
	if len(b.Events) == 0 {
		return time.Time{}
	}
	return b.Events[0].Timestamp
}

// End returns the last event timestamp.
func (b Burst) End() time.Time {
	if len(b.Events) == 0 {
		return time.Time{}
	}
	return b.Events[len(b.Events)-1].Timestamp
}

// Span is the elapsed time between the first and last event.
func (b Burst) Span() time.Duration {
	return b.End().Sub(b.Start())
}
