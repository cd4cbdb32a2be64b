package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinvoy/clinic-ai-platform/internal/clinic"
)

func monFri9to5(tz string) *clinic.ScheduleConfig {
	day := func() *clinic.DayHours { return &clinic.DayHours{Open: "09:00", Close: "17:00"} }
	return &clinic.ScheduleConfig{
		Slug:     "smile-dental",
		Timezone: tz,
		WorkingHours: clinic.WorkingHours{
			Monday:    day(),
			Tuesday:   day(),
			Wednesday: day(),
			Thursday:  day(),
			Friday:    day(),
		},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestSlotsForDayBasicWindow(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	// Wednesday 2026-09-02, 08:00 clinic-local.
	now := time.Date(2026, 9, 2, 8, 0, 0, 0, loc)
	calc := New(WithClock(fixedClock(now)))
	cfg := monFri9to5("Europe/Madrid")

	slots, err := calc.SlotsForDay(cfg, "2026-09-02", nil, 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	// 09:00 .. 16:30 starts, 30-minute grid.
	require.Len(t, slots, 16)
	first := slots[0]
	require.Equal(t, time.Date(2026, 9, 2, 9, 0, 0, 0, loc), first.Start)

	for _, s := range slots {
		require.Equal(t, SlotDuration, s.End.Sub(s.Start), "end must be start+30m")
		require.True(t, s.Start.After(now), "slots must start strictly in the future")
	}
	last := slots[len(slots)-1]
	require.Equal(t, time.Date(2026, 9, 2, 16, 30, 0, 0, loc), last.Start)
}

func TestSlotsForDayClosedDay(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	now := time.Date(2026, 9, 2, 8, 0, 0, 0, loc)
	calc := New(WithClock(fixedClock(now)))
	cfg := monFri9to5("Europe/Madrid")

	// 2026-09-06 is a Sunday, which has no working-hours entry.
	slots, err := calc.SlotsForDay(cfg, "2026-09-06", nil, 0, false)
	require.NoError(t, err)
	require.Empty(t, slots)
}

func TestSlotsForDayHoliday(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	now := time.Date(2026, 9, 2, 8, 0, 0, 0, loc)
	calc := New(WithClock(fixedClock(now)))
	cfg := monFri9to5("Europe/Madrid")
	cfg.Holidays = []clinic.HolidayRange{{From: "2026-09-03", To: "2026-09-04"}}

	slots, err := calc.SlotsForDay(cfg, "2026-09-03", nil, 0, false)
	require.NoError(t, err)
	require.Empty(t, slots)
}

func TestSlotsForDayExcludesBookedStarts(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	// Thursday 2026-09-03.
	now := time.Date(2026, 9, 3, 8, 0, 0, 0, loc)
	calc := New(WithClock(fixedClock(now)))
	cfg := monFri9to5("Europe/Madrid")

	booked := []time.Time{time.Date(2026, 9, 3, 10, 0, 23, 0, loc)} // seconds ignored

	slots, err := calc.SlotsForDay(cfg, "2026-09-03", booked, 0, false)
	require.NoError(t, err)

	starts := make(map[string]bool)
	for _, s := range slots {
		starts[s.Start.In(loc).Format("15:04")] = true
	}
	require.False(t, starts["10:00"], "booked start must be excluded")
	require.True(t, starts["10:30"], "adjacent slot must remain")
}

func TestSlotsForDayMalformedCloseRecoversAsEightHourDay(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	now := time.Date(2026, 9, 2, 6, 0, 0, 0, loc)
	calc := New(WithClock(fixedClock(now)))
	cfg := monFri9to5("Europe/Madrid")
	cfg.WorkingHours.Wednesday = &clinic.DayHours{Open: "09:00", Close: "08:00"}

	slots, err := calc.SlotsForDay(cfg, "2026-09-02", nil, 0, false)
	require.NoError(t, err)
	require.Len(t, slots, 16, "8h window at 30m steps")
	require.Equal(t, time.Date(2026, 9, 2, 16, 30, 0, 0, loc), slots[len(slots)-1].Start)
}

func TestSlotsForDayNoConfiguredHoursUsesDefaultSchedule(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	// Saturday: default Mon–Sat schedule covers it.
	now := time.Date(2026, 9, 4, 8, 0, 0, 0, loc)
	calc := New(WithClock(fixedClock(now)))
	cfg := &clinic.ScheduleConfig{Slug: "bare", Timezone: "Europe/Madrid"}

	slots, err := calc.SlotsForDay(cfg, "2026-09-05", nil, 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	sunday, err := calc.SlotsForDay(cfg, "2026-09-06", nil, 0, false)
	require.NoError(t, err)
	require.Empty(t, sunday, "default schedule is closed on Sundays")
}

func TestDayBoundaryUsesClinicTimezone(t *testing.T) {
	// 23:45 on day D in Auckland is mid-day D in UTC. Querying D+1 must not
	// leak day-D slots even though the server's UTC day differs.
	akl := mustLoc(t, "Pacific/Auckland")
	now := time.Date(2026, 9, 2, 23, 45, 0, 0, akl)
	calc := New(WithClock(fixedClock(now)))

	cfg := monFri9to5("Pacific/Auckland")
	booked := []time.Time{time.Date(2026, 9, 2, 23, 45, 0, 0, akl)}

	// Thursday 2026-09-03 clinic-local.
	slots, err := calc.SlotsForDay(cfg, "2026-09-03", booked, 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	for _, s := range slots {
		require.Equal(t, "2026-09-03", s.Start.In(akl).Format(DateLayout),
			"every slot must fall on the requested clinic-local date")
	}
	require.Equal(t, time.Date(2026, 9, 3, 9, 0, 0, 0, akl), slots[0].Start)
}

func TestSlotsForDayPastSlotsExcluded(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	now := time.Date(2026, 9, 2, 12, 10, 0, 0, loc)
	calc := New(WithClock(fixedClock(now)))
	cfg := monFri9to5("Europe/Madrid")

	slots, err := calc.SlotsForDay(cfg, "2026-09-02", nil, 0, true)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	require.Equal(t, time.Date(2026, 9, 2, 12, 30, 0, 0, loc), slots[0].Start)
	require.Equal(t, "12:30", slots[0].Label, "timeOnly labels carry just the clock")
}

func TestNextDaysWithSlotsLabels(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	// Wednesday morning.
	now := time.Date(2026, 9, 2, 8, 0, 0, 0, loc)
	calc := New(WithClock(fixedClock(now)))
	cfg := monFri9to5("Europe/Madrid")

	days, err := calc.NextDaysWithSlots(cfg, nil, 4)
	require.NoError(t, err)
	require.Len(t, days, 4)
	require.Equal(t, "Today", days[0].Label)
	require.Equal(t, "2026-09-02", days[0].Date)
	require.Equal(t, "Tomorrow", days[1].Label)
	require.Equal(t, "Friday 4 Sep", days[2].Label)
	// Weekend skipped: next option is Monday.
	require.Equal(t, "2026-09-07", days[3].Date)
}

func TestNextSlotsSpreadAcrossDays(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	now := time.Date(2026, 9, 2, 8, 0, 0, 0, loc)
	calc := New(WithClock(fixedClock(now)), WithMaxPerDay(2))
	cfg := monFri9to5("Europe/Madrid")

	slots, err := calc.NextSlots(cfg, nil, 6)
	require.NoError(t, err)
	require.Len(t, slots, 6)

	perDay := map[string]int{}
	for _, s := range slots {
		perDay[s.Start.In(loc).Format(DateLayout)]++
	}
	for date, n := range perDay {
		require.LessOrEqual(t, n, 2, "day %s contributed too many slots", date)
	}
	require.Len(t, perDay, 3, "six slots at two per day should span three days")
}

func TestNextSlotsHorizonCap(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	now := time.Date(2026, 9, 2, 8, 0, 0, 0, loc)
	calc := New(WithClock(fixedClock(now)), WithHorizon(3))

	// Only Friday is open, beyond the 3-day horizon starting Wednesday.
	cfg := &clinic.ScheduleConfig{
		Timezone:     "Europe/Madrid",
		WorkingHours: clinic.WorkingHours{Friday: &clinic.DayHours{Open: "09:00", Close: "17:00"}},
	}

	slots, err := calc.NextSlots(cfg, nil, 6)
	require.NoError(t, err)
	require.Len(t, slots, 3, "only Friday within horizon, capped per day")
}

func TestSlotsForDayBadDate(t *testing.T) {
	calc := New()
	_, err := calc.SlotsForDay(monFri9to5("Europe/Madrid"), "02/09/2026", nil, 0, false)
	require.Error(t, err)
}
