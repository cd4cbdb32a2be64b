package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/clinvoy/clinic-ai-platform/internal/clinic"
)

// Short messages that are plainly about opening hours or insurance are
// answered straight from the clinic config without a model round trip.
// Longer messages usually carry more than one intent and go to the model.
const shortCircuitMaxChars = 120

var (
	hoursPattern = regexp.MustCompile(`(?i)\b(opening hours|open(ing)? (time|at)|what time.{0,20}(open|close)|when (are you|do you|is the clinic) open|hours of operation|horario)\b`)

	insurancePattern = regexp.MustCompile(`(?i)\b(insurance|insured|seguro|mutua|adeslas|sanitas|mapfre|asisa)\b`)

	// Messages matching these carry booking intent and must not be
	// short-circuited even when they also mention hours.
	bookingIntentPattern = regexp.MustCompile(`(?i)\b(book|appointment|reschedule|cancel|move|cita|reservar)\b`)
)

// shortCircuitReply answers hours and insurance questions directly from
// config. Returns "" when the message needs the model.
func shortCircuitReply(cfg *clinic.ScheduleConfig, message string) string {
	msg := strings.TrimSpace(message)
	if len(msg) > shortCircuitMaxChars || bookingIntentPattern.MatchString(msg) {
		return ""
	}
	switch {
	case hoursPattern.MatchString(msg):
		return hoursReply(cfg)
	case insurancePattern.MatchString(msg):
		return insuranceReply(cfg)
	}
	return ""
}

func hoursReply(cfg *clinic.ScheduleConfig) string {
	hours := cfg.EffectiveHours()
	type entry struct {
		name string
		dh   *clinic.DayHours
	}
	entries := []entry{
		{"Monday", hours.Monday},
		{"Tuesday", hours.Tuesday},
		{"Wednesday", hours.Wednesday},
		{"Thursday", hours.Thursday},
		{"Friday", hours.Friday},
		{"Saturday", hours.Saturday},
		{"Sunday", hours.Sunday},
	}

	var lines []string
	for i := 0; i < len(entries); {
		if entries[i].dh == nil {
			i++
			continue
		}
		j := i
		for j+1 < len(entries) && sameHours(entries[j+1].dh, entries[i].dh) {
			j++
		}
		span := entries[i].name
		if j > i {
			span = entries[i].name + " to " + entries[j].name
		}
		lines = append(lines, fmt.Sprintf("%s from %s to %s", span, entries[i].dh.Open, entries[i].dh.Close))
		i = j + 1
	}
	if len(lines) == 0 {
		return "We are currently not taking visits. Please check back soon!"
	}
	return fmt.Sprintf("We're open %s. Would you like to book an appointment?", strings.Join(lines, ", and "))
}

func sameHours(a, b *clinic.DayHours) bool {
	return a != nil && b != nil && a.Open == b.Open && a.Close == b.Close
}

func insuranceReply(cfg *clinic.ScheduleConfig) string {
	var b strings.Builder
	if cfg.AcceptsInsurance {
		b.WriteString("Yes, we accept health insurance.")
	} else {
		b.WriteString("We don't work with insurance companies; visits are paid directly.")
	}
	if notes := strings.TrimSpace(cfg.InsuranceNotes); notes != "" {
		b.WriteString(" ")
		b.WriteString(notes)
	}
	b.WriteString(" Would you like to book an appointment?")
	return b.String()
}
