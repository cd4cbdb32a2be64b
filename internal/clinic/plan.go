package clinic

// PlanTier identifies the subscription plan a clinic is on. Plan-derived
// limits bound how much of the completion service a clinic's widget can
// consume.
type PlanTier string

const (
	PlanStarter PlanTier = "starter"
	PlanPro     PlanTier = "pro"
	PlanPremium PlanTier = "premium"
)

// PlanLimits are the quota and feature gates derived from a plan tier.
type PlanLimits struct {
	// PerSession caps messages in a single widget session.
	PerSession int
	// PerDay caps messages across a clinic for one clinic-local day.
	PerDay int
	// CollectWhatsApp adds the WhatsApp number step to patient details.
	CollectWhatsApp bool
	// CalendarLinks enables the post-booking Google Calendar deep link.
	CalendarLinks bool
}

var planLimits = map[PlanTier]PlanLimits{
	PlanStarter: {PerSession: 20, PerDay: 200, CollectWhatsApp: false, CalendarLinks: false},
	PlanPro:     {PerSession: 40, PerDay: 600, CollectWhatsApp: true, CalendarLinks: true},
	PlanPremium: {PerSession: 80, PerDay: 2000, CollectWhatsApp: true, CalendarLinks: true},
}

// Limits returns the limits for the tier, defaulting to starter for unknown
// or empty tiers.
func (p PlanTier) Limits() PlanLimits {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[PlanStarter]
}
