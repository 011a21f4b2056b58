package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"barkwatch/config"
	"barkwatch/internal/analyzer"
	"barkwatch/internal/discovery"
	"barkwatch/internal/logger"
	"barkwatch/internal/metrics"
	"barkwatch/internal/normalizer"
	"barkwatch/internal/output/violationhttp"
	"barkwatch/internal/pipeline"
	"barkwatch/internal/rules"
	"barkwatch/internal/scorer"
	"barkwatch/internal/store"
	"barkwatch/internal/violationindex"
	"barkwatch/pkg/models"
)

var configArg string

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("barkwatch.yml"); err == nil {
		return "barkwatch.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "barkwatch.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "barkwatch.yml"
}

// loadConfig loads, defaults and validates the config, then starts logging.
// Any failure is fatal.
func loadConfig() *config.Config {
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Config rejected: %v", err)
	}

	lc := cfg.BarkWatch.Logging
	if err := logger.Init(lc.Enabled, lc.Level, lc.File, lc.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Infof("Config loaded from: %s", configPath)
	return cfg
}

func location(cfg *config.Config) *time.Location {
	loc, err := time.LoadLocation(cfg.BarkWatch.Input.Location)
	if err != nil {
		// Validate already checked it.
		return time.Local
	}
	return loc
}

func analysisParams(cfg *config.Config) []analyzer.Params {
	a := cfg.BarkWatch.Analysis
	return []analyzer.Params{
		{Type: models.Continuous, GapThreshold: a.Continuous.GapThreshold, MinDuration: a.Continuous.MinDuration},
		{Type: models.Intermittent, GapThreshold: a.Intermittent.GapThreshold, MinDuration: a.Intermittent.MinDuration},
	}
}

func newScorer(cfg *config.Config) scorer.Scorer {
	sc := cfg.BarkWatch.Scorer
	switch sc.Mode {
	case "http":
		h, err := scorer.NewHTTP(scorer.HTTPConfig{URL: sc.URL, Timeout: sc.Timeout, Headers: sc.Headers})
		if err != nil {
			logger.Errorf("Failed to create HTTP scorer: %v", err)
			log.Fatalf("Failed to create HTTP scorer: %v", err)
		}
		logger.Infof("Scorer mode: http (%s)", sc.URL)
		return h
	default:
		logger.Infof("Scorer mode: sidecar (*%s)", sc.Suffix)
		return scorer.NewSidecar(sc.Suffix)
	}
}

func newEngine(cfg *config.Config) rules.Engine {
	rc := cfg.BarkWatch.Rules
	if !rc.Enabled {
		return nil
	}
	if strings.TrimSpace(rc.Path) == "" {
		logger.Warnf("Rules enabled but rules.path is empty; event tagging disabled")
		return nil
	}
	engine, stats, err := rules.NewSigmaEngine(rc.Path)
	if err != nil {
		logger.Errorf("Failed to load Sigma rules from %s: %v", rc.Path, err)
		log.Fatalf("Failed to load Sigma rules: %v", err)
	}
	logger.Infof("Sigma rules loaded: loaded=%d unsupported=%d foreign=%d invalid=%d files=%d",
		stats.Loaded,
		stats.Unsupported,
		stats.Foreign,
		stats.Invalid,
		stats.Files,
	)
	if stats.Loaded == 0 {
		logger.Warnf("No compatible Sigma rules loaded; event tagging is effectively disabled")
	}
	return engine
}

func newSinks(cfg *config.Config) []pipeline.ViolationSink {
	var sinks []pipeline.ViolationSink
	if cfg.BarkWatch.Index.Enabled {
		rc := cfg.BarkWatch.Index.Redis
		idx, err := violationindex.NewRedisIndex(violationindex.RedisConfig{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.Key,
		})
		if err != nil {
			logger.Errorf("Failed to create violation index: %v", err)
			log.Fatalf("Failed to create violation index: %v", err)
		}
		sinks = append(sinks, idx)
		logger.Infof("Violation index: redis (%s, prefix %s)", rc.Addr, rc.Key)
	}
	if hc := cfg.BarkWatch.Output.HTTP; hc.URL != "" {
		w, err := violationhttp.NewWriter(violationhttp.Config{URL: hc.URL, Timeout: hc.Timeout, Headers: hc.Headers})
		if err != nil {
			logger.Errorf("Failed to create violation HTTP writer: %v", err)
			log.Fatalf("Failed to create violation HTTP writer: %v", err)
		}
		sinks = append(sinks, w)
		logger.Infof("Violation output: http (%s)", hc.URL)
	}
	return sinks
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	m := metrics.New()
	if addr := cfg.BarkWatch.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
		logger.Infof("Metrics listening on %s/metrics", addr)
	}
	return m
}

func openStore(cfg *config.Config) *store.Store {
	st, err := store.New(cfg.BarkWatch.Storage.Dir)
	if err != nil {
		logger.Errorf("Failed to open store: %v", err)
		log.Fatalf("Failed to open store: %v", err)
	}
	return st
}

// newDatePipeline wires the offline pipeline. appendMode overrides storage.append when set.
func newDatePipeline(cfg *config.Config, st *store.Store, engine rules.Engine, m *metrics.Metrics, appendMode bool) *pipeline.DatePipeline {
	bw := cfg.BarkWatch
	mode := store.Overwrite
	if bw.Storage.Append || appendMode {
		mode = store.Append
	}
	dc := pipeline.DateConfig{
		Discovery: discovery.Config{
			Dir:        bw.Input.RecordingsDir,
			Extensions: bw.Input.Extensions,
			Location:   location(cfg),
		},
		Normalizer: normalizer.Config{
			Threshold:    *bw.Normalizer.Threshold,
			TargetLabels: bw.Normalizer.TargetLabels,
		},
		Params: analysisParams(cfg),
		Mode:   mode,
	}
	p, err := pipeline.NewDatePipeline(dc, newScorer(cfg), st, engine, m, newSinks(cfg)...)
	if err != nil {
		logger.Errorf("Failed to create date pipeline: %v", err)
		log.Fatalf("Failed to create date pipeline: %v", err)
	}
	return p
}

func main() {
	root := &cobra.Command{
		Use:           "barkwatch",
		Short:         "Bark detection aggregation and noise violation classification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configArg, "config", "c", "", "path to barkwatch.yml")
	root.AddCommand(analyzeCmd(), reclassifyCmd(), liveCmd(), violationsCmd(), indexCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
