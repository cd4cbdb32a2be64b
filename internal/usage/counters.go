// Package usage enforces plan quotas with Redis-backed counters. Counters
// are incremented atomically and compared after the increment, so two
// concurrent turns cannot both slip under a limit.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionTTL bounds how long an idle widget session keeps its counter.
const sessionTTL = 12 * time.Hour

// dayTTL keeps day counters slightly past their day to survive tz skew.
const dayTTL = 36 * time.Hour

// Limits are the plan-derived ceilings for one clinic.
type Limits struct {
	PerSession int
	PerDay     int
}

// Verdict reports the counter state after recording one message.
type Verdict struct {
	SessionCount    int64
	DayCount        int64
	SessionExceeded bool
	DayExceeded     bool
}

// Exceeded reports whether either ceiling was crossed.
func (v Verdict) Exceeded() bool {
	return v.SessionExceeded || v.DayExceeded
}

// Counters tracks per-session and per-clinic-day message counts.
type Counters struct {
	redis *redis.Client
	now   func() time.Time
}

// NewCounters creates a counter service.
func NewCounters(redisClient *redis.Client) *Counters {
	return &Counters{redis: redisClient, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (c *Counters) WithClock(now func() time.Time) *Counters {
	c.now = now
	return c
}

func sessionKey(clinicSlug, sessionID string) string {
	return fmt.Sprintf("usage:session:%s:%s", clinicSlug, sessionID)
}

func dayKey(clinicSlug, day string) string {
	return fmt.Sprintf("usage:day:%s:%s", clinicSlug, day)
}

// Bump records one inbound message for the clinic/session pair and checks
// the result against the limits. The increment happens before the compare;
// a rejected message still counts, which keeps retry storms bounded.
// The day boundary is clinic-local, so loc must be the clinic's location.
func (c *Counters) Bump(ctx context.Context, clinicSlug, sessionID string, loc *time.Location, lim Limits) (Verdict, error) {
	day := c.now().In(loc).Format("2006-01-02")

	pipe := c.redis.TxPipeline()
	sessIncr := pipe.Incr(ctx, sessionKey(clinicSlug, sessionID))
	pipe.Expire(ctx, sessionKey(clinicSlug, sessionID), sessionTTL)
	dayIncr := pipe.Incr(ctx, dayKey(clinicSlug, day))
	pipe.Expire(ctx, dayKey(clinicSlug, day), dayTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return Verdict{}, fmt.Errorf("usage: bump counters: %w", err)
	}

	v := Verdict{
		SessionCount: sessIncr.Val(),
		DayCount:     dayIncr.Val(),
	}
	if lim.PerSession > 0 && v.SessionCount > int64(lim.PerSession) {
		v.SessionExceeded = true
	}
	if lim.PerDay > 0 && v.DayCount > int64(lim.PerDay) {
		v.DayExceeded = true
	}
	return v, nil
}
