package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	BarkWatch BarkWatchConfig `yaml:"barkwatch"`
}

// BarkWatchConfig is the project configuration.
type BarkWatchConfig struct {
	Input      InputConfig      `yaml:"input"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Scorer     ScorerConfig     `yaml:"scorer"`
	Storage    StorageConfig    `yaml:"storage"`
	Rules      RulesConfig      `yaml:"rules"`
	Index      IndexConfig      `yaml:"index"`
	Output     OutputConfig     `yaml:"output"`
	Live       LiveConfig       `yaml:"live"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InputConfig controls recording discovery.
type InputConfig struct {
	RecordingsDir string   `yaml:"recordings_dir"`
	Extensions    []string `yaml:"extensions"`
	Location      string   `yaml:"location"`
}

// NormalizerConfig controls frame thresholding.
// A nil Threshold selects the default so an explicit 0 survives.
type NormalizerConfig struct {
	Threshold    *float64 `yaml:"threshold"`
	TargetLabels []string `yaml:"target_labels"`
}

// AnalysisConfig holds one threshold pair per violation type.
type AnalysisConfig struct {
	Continuous   ThresholdConfig `yaml:"continuous"`
	Intermittent ThresholdConfig `yaml:"intermittent"`
}

// ThresholdConfig is a gap/duration pair.
type ThresholdConfig struct {
	GapThreshold time.Duration `yaml:"gap_threshold"`
	MinDuration  time.Duration `yaml:"min_duration"`
}

// ScorerConfig selects how score matrices are obtained.
type ScorerConfig struct {
	Mode    string            `yaml:"mode"` // sidecar|http
	Suffix  string            `yaml:"suffix"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// StorageConfig controls per-date log persistence.
type StorageConfig struct {
	Dir    string `yaml:"dir"`
	Append bool   `yaml:"append"`
}

// RulesConfig controls Sigma event tagging.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IndexConfig controls the Redis violation index.
type IndexConfig struct {
	Enabled bool        `yaml:"enabled"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis access.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// OutputConfig controls downstream violation delivery.
type OutputConfig struct {
	HTTP HTTPOutputConfig `yaml:"http"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// LiveConfig controls the real-time ingestion loop.
type LiveConfig struct {
	Cooldown          float64          `yaml:"cooldown"`
	RecentCapacity    int              `yaml:"recent_capacity"`
	FlushInterval     time.Duration    `yaml:"flush_interval"`
	BatchSize         int              `yaml:"batch_size"`
	ReclassifyOnFlush bool             `yaml:"reclassify_on_flush"`
	Redis             RedisConfig      `yaml:"redis"`
	Reports           FileOutputConfig `yaml:"reports"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	bw := &cfg.BarkWatch

	if bw.Input.RecordingsDir == "" {
		bw.Input.RecordingsDir = "recordings"
	}
	if len(bw.Input.Extensions) == 0 {
		bw.Input.Extensions = []string{".wav", ".flac", ".mp3"}
	}
	if bw.Input.Location == "" {
		bw.Input.Location = "Local"
	}

	if bw.Normalizer.Threshold == nil {
		threshold := 0.3
		bw.Normalizer.Threshold = &threshold
	}

	if bw.Analysis.Continuous.GapThreshold == 0 {
		bw.Analysis.Continuous.GapThreshold = 10 * time.Second
	}
	if bw.Analysis.Continuous.MinDuration == 0 {
		bw.Analysis.Continuous.MinDuration = 5 * time.Minute
	}
	if bw.Analysis.Intermittent.GapThreshold == 0 {
		bw.Analysis.Intermittent.GapThreshold = 5 * time.Minute
	}
	if bw.Analysis.Intermittent.MinDuration == 0 {
		bw.Analysis.Intermittent.MinDuration = 15 * time.Minute
	}

	if bw.Scorer.Mode == "" {
		bw.Scorer.Mode = "sidecar"
	}
	if bw.Scorer.Suffix == "" {
		bw.Scorer.Suffix = ".scores.json"
	}
	if bw.Scorer.Timeout <= 0 {
		bw.Scorer.Timeout = 60 * time.Second
	}

	if bw.Storage.Dir == "" {
		bw.Storage.Dir = "data"
	}

	if bw.Index.Redis.Addr == "" {
		bw.Index.Redis.Addr = "127.0.0.1:6379"
	}
	if bw.Index.Redis.Key == "" {
		bw.Index.Redis.Key = "barkwatch:violations"
	}

	if bw.Live.Cooldown == 0 {
		bw.Live.Cooldown = 2.5
	}
	if bw.Live.RecentCapacity <= 0 {
		bw.Live.RecentCapacity = 10
	}
	if bw.Live.FlushInterval <= 0 {
		bw.Live.FlushInterval = 30 * time.Second
	}
	if bw.Live.BatchSize <= 0 {
		bw.Live.BatchSize = 200
	}
	if bw.Live.Redis.Addr == "" {
		bw.Live.Redis.Addr = "127.0.0.1:6379"
	}
	if bw.Live.Redis.Key == "" {
		bw.Live.Redis.Key = "barkwatch:detections"
	}
	if bw.Live.Redis.BlockTimeout == 0 {
		bw.Live.Redis.BlockTimeout = 5 * time.Second
	}
	if bw.Live.Reports.Path == "" {
		bw.Live.Reports.Path = "output/reports.jsonl"
	}

	if bw.Logging.Level == "" {
		bw.Logging.Level = "info"
	}
}

// Validate fails fast on settings that would make analysis meaningless.
func Validate(cfg *Config) error {
	bw := cfg.BarkWatch

	if th := bw.Normalizer.Threshold; th != nil && (*th < 0 || *th > 1) {
		return fmt.Errorf("%w: normalizer.threshold must be in [0,1], got %v", ErrInvalid, *th)
	}
	if err := validateThreshold("analysis.continuous", bw.Analysis.Continuous); err != nil {
		return err
	}
	if err := validateThreshold("analysis.intermittent", bw.Analysis.Intermittent); err != nil {
		return err
	}
	if bw.Analysis.Intermittent.MinDuration < bw.Analysis.Continuous.MinDuration {
		return fmt.Errorf("%w: intermittent min_duration %s is below continuous min_duration %s",
			ErrInvalid, bw.Analysis.Intermittent.MinDuration, bw.Analysis.Continuous.MinDuration)
	}
	if bw.Live.Cooldown <= 0 {
		return fmt.Errorf("%w: live.cooldown must be positive, got %v", ErrInvalid, bw.Live.Cooldown)
	}
	if _, err := time.LoadLocation(bw.Input.Location); err != nil {
		return fmt.Errorf("%w: input.location: %v", ErrInvalid, err)
	}
	switch bw.Scorer.Mode {
	case "sidecar":
	case "http":
		if bw.Scorer.URL == "" {
			return fmt.Errorf("%w: scorer.url is required in http mode", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown scorer mode %q", ErrInvalid, bw.Scorer.Mode)
	}
	return nil
}

func validateThreshold(name string, t ThresholdConfig) error {
	if t.GapThreshold <= 0 {
		return fmt.Errorf("%w: %s.gap_threshold must be positive, got %s", ErrInvalid, name, t.GapThreshold)
	}
	if t.MinDuration <= 0 {
		return fmt.Errorf("%w: %s.min_duration must be positive, got %s", ErrInvalid, name, t.MinDuration)
	}
	if t.GapThreshold >= t.MinDuration {
		return fmt.Errorf("%w: %s.gap_threshold %s must be below min_duration %s", ErrInvalid, name, t.GapThreshold, t.MinDuration)
	}
	return nil
}
