// Package clinic holds per-clinic configuration consumed by the scheduling
// engine: working hours, timezone, insurance policy, holidays, persona, and
// plan limits.
package clinic

import (
	"net/url"
	"strings"
	"time"
)

// DayHours is the opening window for a single day. Nil means closed.
type DayHours struct {
	Open  string `json:"open"`  // "09:00" in 24-hour format
	Close string `json:"close"` // "17:00" in 24-hour format
}

// WorkingHours maps day names to their hours.
type WorkingHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// ForDay returns the hours for a given weekday, nil when closed.
func (w WorkingHours) ForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return w.Sunday
	case time.Monday:
		return w.Monday
	case time.Tuesday:
		return w.Tuesday
	case time.Wednesday:
		return w.Wednesday
	case time.Thursday:
		return w.Thursday
	case time.Friday:
		return w.Friday
	case time.Saturday:
		return w.Saturday
	default:
		return nil
	}
}

// HasAnyHours reports whether at least one day is configured.
func (w WorkingHours) HasAnyHours() bool {
	return w.Sunday != nil || w.Monday != nil || w.Tuesday != nil ||
		w.Wednesday != nil || w.Thursday != nil || w.Friday != nil || w.Saturday != nil
}

// HolidayRange is a closed date interval during which the clinic is closed.
// Dates are "2006-01-02" strings interpreted in the clinic's timezone.
type HolidayRange struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Contains reports whether the given clinic-local date falls in the range.
func (h HolidayRange) Contains(date string) bool {
	return h.From != "" && h.To != "" && date >= h.From && date <= h.To
}

// Persona configures the receptionist's voice for a clinic.
type Persona struct {
	AgentName      string `json:"agent_name,omitempty"`
	Tone           string `json:"tone,omitempty"` // "clinical", "warm", "professional"
	CustomGreeting string `json:"custom_greeting,omitempty"`
}

// Notifications holds owner alert preferences.
type Notifications struct {
	EmailEnabled     bool     `json:"email_enabled"`
	EmailRecipients  []string `json:"email_recipients,omitempty"`
	NotifyOnTakeover bool     `json:"notify_on_takeover"`
}

// ScheduleConfig holds clinic configuration. Immutable per request; read
// from the store at the start of a turn.
type ScheduleConfig struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"` // IANA, e.g. "Europe/Madrid"
	Locale   string `json:"locale,omitempty"`

	WorkingHours     WorkingHours   `json:"working_hours"`
	Holidays         []HolidayRange `json:"holidays,omitempty"`
	AcceptsInsurance bool           `json:"accepts_insurance"`
	InsuranceNotes   string         `json:"insurance_notes,omitempty"`

	Services []string `json:"services,omitempty"`

	PlanTier      PlanTier      `json:"plan_tier,omitempty"`
	Persona       Persona       `json:"persona,omitempty"`
	Notifications Notifications `json:"notifications"`

	// CalendarLinksEnabled gates the Google Calendar deep link after a
	// successful booking. Combined with plan tier in CalendarLinkAllowed.
	CalendarLinksEnabled bool `json:"calendar_links_enabled"`
}

// Location resolves the clinic's *time.Location, falling back to UTC when
// the timezone is missing or invalid.
func (c *ScheduleConfig) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsHoliday reports whether the clinic-local date string falls inside any
// configured holiday range.
func (c *ScheduleConfig) IsHoliday(date string) bool {
	for _, h := range c.Holidays {
		if h.Contains(date) {
			return true
		}
	}
	return false
}

// UpcomingHolidays returns holiday ranges ending on or after the given
// clinic-local date, for prompt context.
func (c *ScheduleConfig) UpcomingHolidays(date string) []HolidayRange {
	var out []HolidayRange
	for _, h := range c.Holidays {
		if h.To >= date {
			out = append(out, h)
		}
	}
	return out
}

// EffectiveHours returns the configured working hours, or the default
// Monday–Saturday 09:00–17:00 schedule when none are configured at all.
func (c *ScheduleConfig) EffectiveHours() WorkingHours {
	if c != nil && c.WorkingHours.HasAnyHours() {
		return c.WorkingHours
	}
	return DefaultWorkingHours()
}

// CalendarLinkAllowed reports whether the post-booking calendar deep link is
// offered: the plan tier must include it and the clinic must not have turned
// it off.
func (c *ScheduleConfig) CalendarLinkAllowed() bool {
	if c == nil || !c.CalendarLinksEnabled {
		return false
	}
	return c.PlanTier.Limits().CalendarLinks
}

// CalendarLink renders the Google Calendar template URL for a booked slot.
// Opening it is a plain URL visit on the patient's side, nothing more.
func (c *ScheduleConfig) CalendarLink(start, end time.Time) string {
	const layout = "20060102T150405Z"
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", "Appointment at "+c.Name)
	q.Set("dates", start.UTC().Format(layout)+"/"+end.UTC().Format(layout))
	return "https://calendar.google.com/calendar/render?" + q.Encode()
}

// AgentName returns the configured persona name or a generic default.
func (c *ScheduleConfig) AgentName() string {
	if c != nil && strings.TrimSpace(c.Persona.AgentName) != "" {
		return c.Persona.AgentName
	}
	return "the clinic assistant"
}

// DefaultWorkingHours is the substitute schedule when a clinic has no
// working-hours configuration: Monday through Saturday, 09:00 to 17:00.
func DefaultWorkingHours() WorkingHours {
	day := func() *DayHours { return &DayHours{Open: "09:00", Close: "17:00"} }
	return WorkingHours{
		Monday:    day(),
		Tuesday:   day(),
		Wednesday: day(),
		Thursday:  day(),
		Friday:    day(),
		Saturday:  day(),
	}
}

// DefaultConfig returns a usable configuration for a clinic that has not
// completed onboarding.
func DefaultConfig(slug string) *ScheduleConfig {
	return &ScheduleConfig{
		Slug:     slug,
		Name:     "Clinic",
		Timezone: "Europe/Madrid",
		PlanTier: PlanStarter,
		Notifications: Notifications{
			NotifyOnTakeover: true,
		},
	}
}
