package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"barkwatch/internal/analyzer"
	inputredis "barkwatch/internal/input/redis"
	"barkwatch/internal/logger"
	"barkwatch/internal/output/reportjson"
	"barkwatch/internal/pipeline"
	"barkwatch/internal/violationindex"
	"barkwatch/pkg/models"
)

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Infof("Shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func analyzeCmd() *cobra.Command {
	var date, from, to string
	var appendMode bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyse the recordings of one date or a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" && (from == "" || to == "") {
				return fmt.Errorf("either --date or both --from and --to are required")
			}
			if date != "" {
				from, to = date, date
			}

			cfg := loadConfig()
			ctx, cancel := signalContext()
			defer cancel()

			p := newDatePipeline(cfg, openStore(cfg), newEngine(cfg), newMetrics(cfg), appendMode)
			defer p.Close()

			results, err := p.RunRange(ctx, from, to)
			for _, res := range results {
				fmt.Printf("date=%s files=%d skipped=%d events=%d violations=%d\n",
					res.Date, res.Files, res.SkippedFiles, res.Events, len(res.Violations))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to analyse (YYYY-MM-DD)")
	cmd.Flags().StringVar(&from, "from", "", "first date of a range")
	cmd.Flags().StringVar(&to, "to", "", "last date of a range, inclusive")
	cmd.Flags().BoolVar(&appendMode, "append", false, "merge into existing logs instead of replacing them")
	return cmd
}

func reclassifyCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "reclassify",
		Short: "Recompute a date's violations from its stored event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				return fmt.Errorf("--date is required")
			}
			cfg := loadConfig()
			p := newDatePipeline(cfg, openStore(cfg), nil, newMetrics(cfg), false)
			defer p.Close()

			res, err := p.Reclassify(context.Background(), date)
			if err != nil {
				return err
			}
			fmt.Printf("date=%s events=%d violations=%d\n", res.Date, res.Events, len(res.Violations))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to reclassify (YYYY-MM-DD)")
	return cmd
}

func liveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Consume live detections from Redis with cooldown deduplication",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			lc := cfg.BarkWatch.Live

			consumer, err := inputredis.NewConsumer(inputredis.Config{
				Addr:         lc.Redis.Addr,
				Password:     lc.Redis.Password,
				DB:           lc.Redis.DB,
				Key:          lc.Redis.Key,
				BlockTimeout: lc.Redis.BlockTimeout,
			})
			if err != nil {
				logger.Errorf("Failed to create Redis consumer: %v", err)
				log.Fatalf("Failed to create Redis consumer: %v", err)
			}

			reports, err := reportjson.NewWriter(lc.Reports.Path)
			if err != nil {
				logger.Errorf("Failed to create report writer: %v", err)
				log.Fatalf("Failed to create report writer: %v", err)
			}
			logger.Infof("Live reports: file (%s)", lc.Reports.Path)

			st := openStore(cfg)
			m := newMetrics(cfg)
			engine := newEngine(cfg)
			dates := newDatePipeline(cfg, st, engine, m, false)
			defer dates.Close()

			pipe := pipeline.NewLivePipeline(pipeline.LiveConfig{
				Cooldown:          lc.Cooldown,
				RecentCapacity:    lc.RecentCapacity,
				FlushInterval:     lc.FlushInterval,
				BatchSize:         lc.BatchSize,
				ReclassifyOnFlush: lc.ReclassifyOnFlush,
				Location:          location(cfg),
			}, consumer, st, reports, engine, dates, m)

			ctx, cancel := signalContext()
			defer cancel()

			if n, err := consumer.Backlog(ctx); err != nil {
				logger.Warnf("Failed to read detection backlog: %v", err)
			} else {
				logger.Infof("Consuming %s (backlog=%d)", consumer.Key(), n)
			}

			err = pipe.Run(ctx)
			if cerr := pipe.Close(); cerr != nil {
				logger.Errorf("Error closing pipeline: %v", cerr)
			}
			logger.Infof("barkwatch live stopped")
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

type violationView struct {
	models.Violation
	Events  []models.PersistedEvent `json:"events"`
	Missing []string                `json:"missing_event_ids,omitempty"`
}

func violationsCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "violations",
		Short: "Print a date's violations with their correlated events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				return fmt.Errorf("--date is required")
			}
			if _, err := time.Parse(models.DateLayout, date); err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}
			cfg := loadConfig()
			st := openStore(cfg)

			events, err := st.LoadEvents(date)
			if err != nil {
				return err
			}
			violations, err := st.LoadViolations(date)
			if err != nil {
				return err
			}

			views := make([]violationView, 0, len(violations))
			for _, v := range violations {
				found, missing := analyzer.EventsFor(v, events)
				if len(missing) > 0 {
					logger.Warnf("Violation %s references %d unknown events", v.ID, len(missing))
				}
				views = append(views, violationView{Violation: v, Events: found, Missing: missing})
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(views)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to print (YYYY-MM-DD)")
	return cmd
}

func indexCmd() *cobra.Command {
	var date, from, to string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "List indexed violation summaries from Redis for a date or range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" && (from == "" || to == "") {
				return fmt.Errorf("either --date or both --from and --to are required")
			}
			if date != "" {
				from, to = date, date
			}
			cfg := loadConfig()
			if !cfg.BarkWatch.Index.Enabled {
				return fmt.Errorf("index.enabled is false in the config")
			}
			rc := cfg.BarkWatch.Index.Redis
			idx, err := violationindex.NewRedisIndex(violationindex.RedisConfig{
				Addr:      rc.Addr,
				Password:  rc.Password,
				DB:        rc.DB,
				KeyPrefix: rc.Key,
			})
			if err != nil {
				return err
			}
			defer idx.Close()

			summaries, err := idx.Range(context.Background(), from, to)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summaries)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to list (YYYY-MM-DD)")
	cmd.Flags().StringVar(&from, "from", "", "first date of a range")
	cmd.Flags().StringVar(&to, "to", "", "last date of a range, inclusive")
	return cmd
}
