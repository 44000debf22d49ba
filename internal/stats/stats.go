// Package stats keeps per-offering admission outcome counters in Redis.
//
// Counters are a reporting aid only. Admission decisions always re-read the
// record store and never consult these values.
package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/logger"
)

const (
	fieldCanceled = "CANCELED"
	fieldBatches  = "batches"
	fieldItems    = "batch_items"
)

// RedisStats implements service.Recorder. Write errors are logged and dropped.
type RedisStats struct {
	rdb    *redis.Client
	log    *logger.Logger
	prefix string
	// ttl applies to the daily bucket keys; totals never expire.
	ttl time.Duration
	now func() time.Time
}

type Option func(*RedisStats)

func WithPrefix(prefix string) Option {
	return func(s *RedisStats) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(s *RedisStats) { s.ttl = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *RedisStats) { s.now = now }
}

func New(rdb *redis.Client, log *logger.Logger, opts ...Option) *RedisStats {
	s := &RedisStats{
		rdb:    rdb,
		log:    log.With("component", "stats"),
		prefix: "enroll:stats",
		ttl:    24 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks connectivity.
func (s *RedisStats) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStats) offeringKey(offeringID int64) string {
	return s.prefix + ":offering:" + strconv.FormatInt(offeringID, 10)
}

func (s *RedisStats) dayKey(at time.Time) string {
	return fmt.Sprintf("%s:day:%s", s.prefix, at.UTC().Format("20060102"))
}

func (s *RedisStats) totalKey() string {
	return s.prefix + ":total"
}

func (s *RedisStats) incr(ctx context.Context, offeringID int64, field string) {
	if s == nil || s.rdb == nil {
		return
	}
	pipe := s.rdb.Pipeline()
	if offeringID > 0 {
		pipe.HIncrBy(ctx, s.offeringKey(offeringID), field, 1)
	}
	pipe.HIncrBy(ctx, s.totalKey(), field, 1)
	day := s.dayKey(s.now())
	pipe.HIncrBy(ctx, day, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, day, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("stats write failed", "offering_id", offeringID, "field", field, "error", err)
	}
}

func (s *RedisStats) RecordAdmission(ctx context.Context, offeringID int64, outcome string) {
	s.incr(ctx, offeringID, outcome)
}

func (s *RedisStats) RecordCancel(ctx context.Context, offeringID int64) {
	s.incr(ctx, offeringID, fieldCanceled)
}

func (s *RedisStats) RecordBatch(ctx context.Context, size int) {
	if s == nil || s.rdb == nil {
		return
	}
	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.totalKey(), fieldBatches, 1)
	pipe.HIncrBy(ctx, s.totalKey(), fieldItems, int64(size))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("stats write failed", "field", fieldBatches, "error", err)
	}
}

// Offering returns the outcome counters recorded for one offering.
func (s *RedisStats) Offering(ctx context.Context, offeringID int64) (map[string]int64, error) {
	return s.read(ctx, s.offeringKey(offeringID))
}

// Totals returns the counters across all offerings.
func (s *RedisStats) Totals(ctx context.Context) (map[string]int64, error) {
	return s.read(ctx, s.totalKey())
}

func (s *RedisStats) read(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read stats %s: %w", key, err)
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse stats %s.%s: %w", key, field, err)
		}
		out[field] = n
	}
	return out, nil
}
