package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"barkwatch/internal/logger"
	"barkwatch/pkg/models"
)

// File is one recording and its parsed start time, if any.
type File struct {
	Path    string
	Start   *time.Time
	ModTime time.Time
}

// Anchor is the wall-clock time of offset zero in the file. Files without a
// parseable start fall back to their modification time.
func (f File) Anchor() time.Time {
	if f.Start != nil {
		return *f.Start
	}
	return f.ModTime
}

type layout struct {
	re     *regexp.Regexp
	format string
}

var layouts = []layout{
	{regexp.MustCompile(`(\d{4}-\d{2}-\d{2})[T_ ](\d{2}-\d{2}-\d{2})`), "2006-01-02 15-04-05"},
	{regexp.MustCompile(`(\d{4}-\d{2}-\d{2})[T_ ](\d{2}:\d{2}:\d{2})`), "2006-01-02 15:04:05"},
	{regexp.MustCompile(`(\d{8})[_-](\d{6})`), "20060102 150405"},
}

// ParseStart extracts the recording start embedded in a file name.
func ParseStart(name string, loc *time.Location) (time.Time, bool) {
	base := filepath.Base(name)
	for _, l := range layouts {
		m := l.re.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		ts, err := time.ParseInLocation(l.format, m[1]+" "+m[2], loc)
		if err != nil {
			continue
		}
		return ts, true
	}
	return time.Time{}, false
}

// Order sorts files chronologically. Files without a parsed start follow all
// parseable files, ordered by path.
func Order(files []File) []File {
	out := append([]File(nil), files...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Start != nil && b.Start != nil:
			if a.Start.Equal(*b.Start) {
				return a.Path < b.Path
			}
			return a.Start.Before(*b.Start)
		case a.Start != nil:
			return true
		case b.Start != nil:
			return false
		default:
			return a.Path < b.Path
		}
	})
	return out
}

// Config controls discovery.
type Config struct {
	Dir        string
	Extensions []string
	Location   *time.Location
}

// Discover lists the recordings of a date in chronological order. It scans
// Dir for files whose name carries that date, or whose modification time
// falls on it when the name has no timestamp, plus everything under Dir/<date>/.
func Discover(cfg Config, date string) ([]File, error) {
	day, err := time.ParseInLocation(models.DateLayout, date, locationOf(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}

	var files []File
	top, err := scan(cfg, cfg.Dir)
	if err != nil {
		return nil, err
	}
	for _, f := range top {
		if sameDay(f.Anchor(), day) {
			files = append(files, f)
		}
	}

	dateDir := filepath.Join(cfg.Dir, date)
	if info, err := os.Stat(dateDir); err == nil && info.IsDir() {
		sub, err := scan(cfg, dateDir)
		if err != nil {
			return nil, err
		}
		files = append(files, sub...)
	}

	for _, f := range files {
		if f.Start == nil {
			logger.Warnf("No recording timestamp in %s; ordering it last and anchoring on mtime %s",
				f.Path, f.ModTime.Format(time.RFC3339))
		}
	}
	return Order(files), nil
}

func scan(cfg Config, dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read recordings dir: %w", err)
	}
	loc := locationOf(cfg)
	out := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !hasExtension(entry.Name(), cfg.Extensions) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			logger.Warnf("Failed to stat %s: %v", entry.Name(), err)
			continue
		}
		f := File{Path: filepath.Join(dir, entry.Name()), ModTime: info.ModTime().In(loc)}
		if ts, ok := ParseStart(entry.Name(), loc); ok {
			f.Start = &ts
		}
		out = append(out, f)
	}
	return out, nil
}

func hasExtension(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func sameDay(ts, day time.Time) bool {
	y1, m1, d1 := ts.Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func locationOf(cfg Config) *time.Location {
	if cfg.Location == nil {
		return time.Local
	}
	return cfg.Location
}
