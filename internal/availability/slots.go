// Package availability computes bookable slots from clinic working hours,
// timezone, and already-booked start times. All functions are pure given a
// clock; both the guided dialogue and the free-text path consume them.
package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clinvoy/clinic-ai-platform/internal/clinic"
)

// SlotDuration is the fixed appointment length. Slot boundaries sit on
// 30-minute grid lines relative to the day's opening minute, not wall-clock
// minute zero.
const SlotDuration = 30 * time.Minute

// DateLayout is the wire format for clinic-local dates.
const DateLayout = "2006-01-02"

// fallbackDayMinutes is used when a day's close time is not after its open
// time: the window is treated as an 8-hour day from the open time.
const fallbackDayMinutes = 8 * 60

// Slot is a bookable 30-minute interval. Generated, never persisted.
type Slot struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DayOption is a selectable day with at least one free slot.
type DayOption struct {
	Date  string `json:"date"` // clinic-local, DateLayout
	Label string `json:"label"`
}

// Calculator generates slots for a clinic. The zero value is not usable;
// construct with New.
type Calculator struct {
	now         func() time.Time
	horizonDays int
	maxPerDay   int
}

// Option customizes a Calculator.
type Option func(*Calculator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// WithHorizon bounds the multi-day search to n days.
func WithHorizon(n int) Option {
	return func(c *Calculator) { c.horizonDays = n }
}

// WithMaxPerDay caps how many slots a single day contributes to multi-day
// results, so suggestions spread across several days.
func WithMaxPerDay(n int) Option {
	return func(c *Calculator) { c.maxPerDay = n }
}

// New creates a Calculator with a 14-day horizon and 3 slots per day.
func New(opts ...Option) *Calculator {
	c := &Calculator{
		now:         time.Now,
		horizonDays: 14,
		maxPerDay:   3,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.horizonDays < 1 {
		c.horizonDays = 14
	}
	if c.maxPerDay < 1 {
		c.maxPerDay = 3
	}
	return c
}

// SlotsForDay returns the free slots for one clinic-local date, ordered and
// non-overlapping. Slots that started in the past or collide with an
// existing booking's start (minute precision) are excluded. limit <= 0
// means unbounded. timeOnly labels slots with just the time, for when the
// caller has already fixed the date.
func (c *Calculator) SlotsForDay(cfg *clinic.ScheduleConfig, dateStr string, existingStarts []time.Time, limit int, timeOnly bool) ([]Slot, error) {
	loc := cfg.Location()
	day, err := time.ParseInLocation(DateLayout, dateStr, loc)
	if err != nil {
		return nil, fmt.Errorf("availability: parse date %q: %w", dateStr, err)
	}
	if cfg.IsHoliday(dateStr) {
		return nil, nil
	}

	// The weekday must come from the clinic-local date, never the server's
	// local rendering of the same instant.
	hours := cfg.EffectiveHours().ForDay(day.Weekday())
	if hours == nil {
		return nil, nil
	}

	openMin, okOpen := parseClockMinutes(hours.Open)
	closeMin, okClose := parseClockMinutes(hours.Close)
	if !okOpen {
		return nil, nil
	}
	if !okClose || closeMin <= openMin {
		closeMin = openMin + fallbackDayMinutes
	}

	booked := bookedSet(existingStarts)
	now := c.now()

	var slots []Slot
	for m := openMin; m+int(SlotDuration.Minutes()) <= closeMin; m += int(SlotDuration.Minutes()) {
		start := day.Add(time.Duration(m) * time.Minute)
		if !start.After(now) {
			continue
		}
		if _, taken := booked[start.Truncate(time.Minute).Unix()]; taken {
			continue
		}
		slots = append(slots, Slot{
			Label: c.slotLabel(start, now, loc, timeOnly),
			Start: start,
			End:   start.Add(SlotDuration),
		})
		if limit > 0 && len(slots) >= limit {
			break
		}
	}
	return slots, nil
}

// NextDaysWithSlots returns up to count upcoming days that have at least one
// free slot, within the booking horizon.
func (c *Calculator) NextDaysWithSlots(cfg *clinic.ScheduleConfig, existingStarts []time.Time, count int) ([]DayOption, error) {
	if count <= 0 {
		count = 5
	}
	loc := cfg.Location()
	today := c.now().In(loc)

	var days []DayOption
	for i := 0; i < c.horizonDays && len(days) < count; i++ {
		date := today.AddDate(0, 0, i).Format(DateLayout)
		slots, err := c.SlotsForDay(cfg, date, existingStarts, 1, false)
		if err != nil {
			return nil, err
		}
		if len(slots) == 0 {
			continue
		}
		days = append(days, DayOption{Date: date, Label: c.dayLabel(date, loc)})
	}
	return days, nil
}

// NextSlots returns up to count free slots spread across the booking
// horizon, taking at most maxPerDay from any single day so one busy morning
// does not exhaust the whole list.
func (c *Calculator) NextSlots(cfg *clinic.ScheduleConfig, existingStarts []time.Time, count int) ([]Slot, error) {
	if count <= 0 {
		count = 6
	}
	loc := cfg.Location()
	today := c.now().In(loc)

	var out []Slot
	for i := 0; i < c.horizonDays && len(out) < count; i++ {
		date := today.AddDate(0, 0, i).Format(DateLayout)
		slots, err := c.SlotsForDay(cfg, date, existingStarts, c.maxPerDay, false)
		if err != nil {
			return nil, err
		}
		for _, s := range slots {
			out = append(out, s)
			if len(out) >= count {
				break
			}
		}
	}
	return out, nil
}

// slotLabel renders a slot for chips: time-only when the caller fixed the
// date, otherwise "Today"/"Tomorrow"/weekday plus the local time.
func (c *Calculator) slotLabel(start, now time.Time, loc *time.Location, timeOnly bool) string {
	local := start.In(loc)
	clock := local.Format("15:04")
	if timeOnly {
		return clock
	}
	return c.dayLabel(local.Format(DateLayout), loc) + " " + clock
}

// dayLabel renders a clinic-local date as "Today", "Tomorrow", or a weekday
// with the day of month.
func (c *Calculator) dayLabel(date string, loc *time.Location) string {
	today := c.now().In(loc).Format(DateLayout)
	tomorrow := c.now().In(loc).AddDate(0, 0, 1).Format(DateLayout)
	switch date {
	case today:
		return "Today"
	case tomorrow:
		return "Tomorrow"
	}
	d, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return date
	}
	return d.Format("Monday 2 Jan")
}

// bookedSet indexes existing booking starts at minute precision.
func bookedSet(starts []time.Time) map[int64]struct{} {
	set := make(map[int64]struct{}, len(starts))
	for _, s := range starts {
		set[s.Truncate(time.Minute).Unix()] = struct{}{}
	}
	return set
}

// parseClockMinutes converts "09:30" to minutes from midnight.
func parseClockMinutes(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
