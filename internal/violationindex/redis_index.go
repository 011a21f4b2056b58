package violationindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"barkwatch/pkg/models"
)

// RedisConfig configures Redis access for the violation index.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Summary is the indexed view of one violation.
type Summary struct {
	ID                       string               `json:"id"`
	Date                     string               `json:"date"`
	Type                     models.ViolationType `json:"type"`
	Start                    time.Time            `json:"start"`
	Trigger                  time.Time            `json:"trigger"`
	End                      time.Time            `json:"end"`
	DurationMinutes          float64              `json:"duration_minutes"`
	ViolationDurationMinutes float64              `json:"violation_duration_minutes"`
	EventCount               int64                `json:"event_count"`
}

// RedisIndex keeps per-date sorted sets of violation summaries so reporting
// tools can query violations without reading the logs.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisIndex constructs a Redis-backed violation index.
func NewRedisIndex(cfg RedisConfig) (*RedisIndex, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "barkwatch:violations"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis violation index: %w", err)
	}

	return &RedisIndex{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// WriteViolations replaces the index entries of date with violations.
func (s *RedisIndex) WriteViolations(ctx context.Context, date string, violations []models.Violation) error {
	old, err := s.client.ZRange(ctx, s.dateKey(date), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read indexed violations: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range old {
		pipe.Del(ctx, s.violationKey(id))
	}
	pipe.Del(ctx, s.dateKey(date))

	for _, v := range violations {
		pipe.HSet(ctx, s.violationKey(v.ID), hashFromViolation(v))
		pipe.ZAdd(ctx, s.dateKey(date), redis.Z{Score: float64(v.StartTimestamp.Unix()), Member: v.ID})
	}
	if day, err := time.Parse(models.DateLayout, date); err == nil {
		pipe.ZAdd(ctx, s.datesKey(), redis.Z{Score: float64(day.Unix()), Member: date})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update violation index: %w", err)
	}
	return nil
}

// FetchDate returns the indexed violations of date ordered by start.
func (s *RedisIndex) FetchDate(ctx context.Context, date string) ([]Summary, error) {
	ids, err := s.client.ZRange(ctx, s.dateKey(date), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read indexed violations: %w", err)
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		hash, err := s.client.HGetAll(ctx, s.violationKey(id)).Result()
		if err != nil || len(hash) == 0 {
			continue
		}
		out = append(out, summaryFromHash(id, hash))
	}
	return out, nil
}

// Dates lists indexed dates between from and to inclusive.
func (s *RedisIndex) Dates(ctx context.Context, from, to time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, s.datesKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: strconv.FormatInt(to.Unix(), 10),
	}).Result()
}

// Range returns the indexed violations of every date from..to inclusive,
// ordered by date then start.
func (s *RedisIndex) Range(ctx context.Context, from, to string) ([]Summary, error) {
	start, err := time.Parse(models.DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("parse from date: %w", err)
	}
	end, err := time.Parse(models.DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("parse to date: %w", err)
	}
	dates, err := s.Dates(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("read indexed dates: %w", err)
	}
	var out []Summary
	for _, date := range dates {
		summaries, err := s.FetchDate(ctx, date)
		if err != nil {
			return out, err
		}
		out = append(out, summaries...)
	}
	return out, nil
}

// Close closes Redis resources.
func (s *RedisIndex) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisIndex) violationKey(id string) string {
	return s.prefix + ":violation:" + id
}

func (s *RedisIndex) dateKey(date string) string {
	return s.prefix + ":date:" + date
}

func (s *RedisIndex) datesKey() string {
	return s.prefix + ":dates"
}

func hashFromViolation(v models.Violation) map[string]interface{} {
	return map[string]interface{}{
		"date":                       v.Date,
		"type":                       string(v.Type),
		"start":                      strconv.FormatInt(v.StartTimestamp.Unix(), 10),
		"trigger":                    strconv.FormatInt(v.ViolationTriggerTimestamp.Unix(), 10),
		"end":                        strconv.FormatInt(v.EndTimestamp.Unix(), 10),
		"duration_minutes":           strconv.FormatFloat(v.DurationMinutes, 'f', -1, 64),
		"violation_duration_minutes": strconv.FormatFloat(v.ViolationDurationMinutes, 'f', -1, 64),
		"event_count":                strconv.Itoa(len(v.BarkEventIDs)),
	}
}

func summaryFromHash(id string, hash map[string]string) Summary {
	unix := func(key string) time.Time {
		n, _ := strconv.ParseInt(hash[key], 10, 64)
		if n == 0 {
			return time.Time{}
		}
		return time.Unix(n, 0).UTC()
	}
	dur, _ := strconv.ParseFloat(hash["duration_minutes"], 64)
	vdur, _ := strconv.ParseFloat(hash["violation_duration_minutes"], 64)
	count, _ := strconv.ParseInt(hash["event_count"], 10, 64)
	return Summary{
		ID:                       id,
		Date:                     hash["date"],
		Type:                     models.ViolationType(hash["type"]),
		Start:                    unix("start"),
		Trigger:                  unix("trigger"),
		End:                      unix("end"),
		DurationMinutes:          dur,
		ViolationDurationMinutes: vdur,
		EventCount:               count,
	}
}
