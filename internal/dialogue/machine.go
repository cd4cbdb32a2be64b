package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinvoy/clinic-ai-platform/internal/availability"
	"github.com/clinvoy/clinic-ai-platform/internal/bookings"
	"github.com/clinvoy/clinic-ai-platform/internal/clinic"
	"github.com/clinvoy/clinic-ai-platform/internal/executor"
	"github.com/clinvoy/clinic-ai-platform/pkg/logging"
)

// BookingsReader is the appointment read-side the machine needs.
type BookingsReader interface {
	ActiveStartTimes(ctx context.Context, clinicSlug string, from, to time.Time) ([]time.Time, error)
	UpcomingForEmail(ctx context.Context, clinicSlug, email string, now time.Time) ([]bookings.Appointment, error)
}

// Executor commits bookings and changes through the external service.
type Executor interface {
	Book(ctx context.Context, req executor.BookRequest) (*executor.Result, error)
	Manage(ctx context.Context, req executor.ManageRequest) (*executor.Result, error)
}

// Machine drives the guided flow. Stateless between calls; the State
// travels with the client.
type Machine struct {
	calc     *availability.Calculator
	bookings BookingsReader
	exec     Executor
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
	// horizonDays bounds the existing-booking lookup window.
	horizonDays int
}

// NewMachine wires the guided-flow controller.
func NewMachine(calc *availability.Calculator, reader BookingsReader, exec Executor, logger *logging.Logger) *Machine {
	if calc == nil {
		calc = availability.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Machine{
		calc:        calc,
		bookings:    reader,
		exec:        exec,
		logger:      logger,
		tracer:      otel.Tracer("dialogue"),
		now:         time.Now,
		horizonDays: 14,
	}
}

// WithClock overrides the time source, for tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Step advances the machine by one patient action.
func (m *Machine) Step(ctx context.Context, cfg *clinic.ScheduleConfig, sig string, st State, in Input) (*Reply, error) {
	ctx, span := m.tracer.Start(ctx, "dialogue.Step",
		trace.WithAttributes(
			attribute.String("clinic.slug", cfg.Slug),
			attribute.String("phase", string(st.Phase)),
		))
	defer span.End()

	if st.Phase == "" {
		st = NewState()
	}

	switch st.Phase {
	case PhaseGreeting:
		return m.stepGreeting(ctx, cfg, st, in)
	case PhaseBookingReason:
		return m.stepBookingReason(ctx, cfg, st, in)
	case PhaseBookingDate:
		return m.stepBookingDate(ctx, cfg, st, in)
	case PhaseBookingTime:
		return m.stepBookingTime(ctx, cfg, sig, st, in)
	case PhasePatientDetails:
		return m.stepPatientDetails(ctx, cfg, sig, st, in)
	case PhaseVerifyAccount:
		return m.stepVerifyAccount(ctx, cfg, st, in)
	case PhaseManageBooking:
		return m.stepManageBooking(ctx, cfg, sig, st, in)
	case PhaseClinicInfo, PhaseEmergency:
		if in.Chip == chipBack {
			st.resetFlow()
			return m.greetingReply(cfg, st), nil
		}
		return m.renderPhase(cfg, st), nil
	case PhaseBookingSuccess, PhaseCancelSuccess:
		if in.Chip == chipBookAnother || in.Chip == chipBack {
			st.resetFlow()
			return m.greetingReply(cfg, st), nil
		}
		return m.renderPhase(cfg, st), nil
	default:
		return nil, fmt.Errorf("dialogue: unknown phase %q", st.Phase)
	}
}

func (m *Machine) stepGreeting(ctx context.Context, cfg *clinic.ScheduleConfig, st State, in Input) (*Reply, error) {
	switch in.Chip {
	case chipBook:
		st.Phase = PhaseBookingReason
		return m.serviceReply(cfg, st), nil
	case chipManage:
		st.Phase = PhaseVerifyAccount
		st.VerifyAttempts = 0
		return &Reply{
			Message:  "Sure. What's the email address you used when booking?",
			FreeText: true,
			State:    st,
		}, nil
	case chipInfo:
		st.Phase = PhaseClinicInfo
		return m.renderPhase(cfg, st), nil
	case chipEmergency:
		st.Phase = PhaseEmergency
		return m.renderPhase(cfg, st), nil
	default:
		return m.greetingReply(cfg, st), nil
	}
}

func (m *Machine) stepBookingReason(ctx context.Context, cfg *clinic.ScheduleConfig, st State, in Input) (*Reply, error) {
	if in.Chip == chipBack || in.Chip == "" {
		if in.Chip == chipBack {
			st.resetFlow()
			return m.greetingReply(cfg, st), nil
		}
		return m.serviceReply(cfg, st), nil
	}

	st.Service = in.Chip
	days, err := m.dayOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st.Phase = PhaseBookingDate
	if len(days) == 0 {
		return &Reply{
			Message: "We don't have any openings in the next two weeks. Please call the clinic directly.",
			Chips:   []Chip{{Label: "Back", Value: chipBack}},
			State:   st,
		}, nil
	}
	return &Reply{
		Message: "Which day works best for you?",
		Chips:   append(dayChips(days), Chip{Label: "Back", Value: chipBack}),
		State:   st,
	}, nil
}

func (m *Machine) stepBookingDate(ctx context.Context, cfg *clinic.ScheduleConfig, st State, in Input) (*Reply, error) {
	if in.Chip == chipBack {
		if st.Rescheduling {
			st.Phase = PhaseManageBooking
			return m.renderPhase(cfg, st), nil
		}
		st.Phase = PhaseBookingReason
		return m.serviceReply(cfg, st), nil
	}
	if in.Chip == "" {
		return m.redoDateReply(ctx, cfg, st)
	}

	if _, err := time.ParseInLocation(availability.DateLayout, in.Chip, cfg.Location()); err != nil {
		return m.redoDateReply(ctx, cfg, st)
	}

	starts, err := m.activeStarts(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slots, err := m.calc.SlotsForDay(cfg, in.Chip, starts, 0, true)
	if err != nil {
		return nil, fmt.Errorf("dialogue: slots for %s: %w", in.Chip, err)
	}
	if len(slots) == 0 {
		return &Reply{
			Message: "That day just filled up. Could you pick another one?",
			Chips:   []Chip{{Label: "Back", Value: chipBack}},
			State:   st,
		}, nil
	}

	st.SelectedDate = in.Chip
	st.Phase = PhaseBookingTime
	chips := make([]Chip, 0, len(slots))
	for _, s := range slots {
		chips = append(chips, Chip{Label: s.Label, Value: s.Start.Format(time.RFC3339)})
	}
	return &Reply{
		Message: "Great. Which time suits you?",
		Chips:   chips,
		State:   st,
	}, nil
}

func (m *Machine) stepBookingTime(ctx context.Context, cfg *clinic.ScheduleConfig, sig string, st State, in Input) (*Reply, error) {
	if in.Chip == chipBack {
		st.Phase = PhaseBookingDate
		st.SelectedDate = ""
		return m.redoDateReply(ctx, cfg, st)
	}
	if in.Chip == chipRetry && st.Rescheduling && st.SlotStart != "" {
		return m.commit(ctx, cfg, sig, st)
	}

	start, err := time.Parse(time.RFC3339, in.Chip)
	if err != nil {
		return m.redoDateReply(ctx, cfg, st)
	}
	st.SlotStart = start.Format(time.RFC3339)
	st.SlotEnd = start.Add(availability.SlotDuration).Format(time.RFC3339)

	if st.Rescheduling {
		// Reschedules reuse the verified email; no details to collect.
		return m.commit(ctx, cfg, sig, st)
	}

	st.Phase = PhasePatientDetails
	st.DetailsStep = StepName
	return &Reply{
		Message:  "Almost there! What's your full name?",
		FreeText: true,
		State:    st,
	}, nil
}

func (m *Machine) stepPatientDetails(ctx context.Context, cfg *clinic.ScheduleConfig, sig string, st State, in Input) (*Reply, error) {
	if in.Chip == chipBack {
		st.Phase = PhaseBookingTime
		st.DetailsStep = ""
		return m.redoDateReply(ctx, cfg, st)
	}
	if in.Chip == chipRetry {
		return m.commit(ctx, cfg, sig, st)
	}

	text := strings.TrimSpace(in.Text)
	switch st.DetailsStep {
	case StepName:
		name, ok := validName(text)
		if !ok {
			return &Reply{
				Message:  "That doesn't look like a name I can use. Could you type your full name?",
				FreeText: true,
				State:    st,
			}, nil
		}
		st.PatientName = name
		st.DetailsStep = StepEmail
		return &Reply{
			Message:  fmt.Sprintf("Thanks %s! And your email address?", firstName(name)),
			FreeText: true,
			State:    st,
		}, nil

	case StepEmail:
		email, ok := validEmail(text)
		if !ok {
			return &Reply{
				Message:  "Hmm, that email doesn't look right. Could you check it and try again?",
				FreeText: true,
				State:    st,
			}, nil
		}
		st.PatientEmail = email
		if cfg.PlanTier.Limits().CollectWhatsApp {
			st.DetailsStep = StepWhatsApp
			return &Reply{
				Message:  "And a WhatsApp number, in case we need to reach you? Include the country code.",
				FreeText: true,
				State:    st,
			}, nil
		}
		return m.commit(ctx, cfg, sig, st)

	case StepWhatsApp:
		phone, ok := validPhone(text)
		if !ok {
			return &Reply{
				Message:  "That number doesn't look right. Could you type it with the country code, like +34 600 111 222?",
				FreeText: true,
				State:    st,
			}, nil
		}
		st.PatientWhatsApp = phone
		return m.commit(ctx, cfg, sig, st)

	default:
		return m.commit(ctx, cfg, sig, st)
	}
}

func (m *Machine) stepVerifyAccount(ctx context.Context, cfg *clinic.ScheduleConfig, st State, in Input) (*Reply, error) {
	switch in.Chip {
	case chipBook:
		st.resetFlow()
		st.Phase = PhaseBookingReason
		return m.serviceReply(cfg, st), nil
	case chipBack:
		st.resetFlow()
		return m.greetingReply(cfg, st), nil
	}

	email, ok := validEmail(in.Text)
	if !ok {
		return &Reply{
			Message:  "That doesn't look like an email address. Could you try again?",
			FreeText: true,
			State:    st,
		}, nil
	}

	appts, err := m.bookings.UpcomingForEmail(ctx, cfg.Slug, email, m.now())
	if err != nil {
		return nil, fmt.Errorf("dialogue: verify email: %w", err)
	}
	if len(appts) == 0 {
		st.VerifyAttempts++
		if st.VerifyAttempts >= maxVerifyAttempts {
			return &Reply{
				Message: "I couldn't find an appointment under that email. Would you like to book a new one instead?",
				Chips: []Chip{
					{Label: "Book an appointment", Value: chipBook},
					{Label: "Back", Value: chipBack},
				},
				State: st,
			}, nil
		}
		return &Reply{
			Message:  "I couldn't find an upcoming appointment for that email. Could you double-check it?",
			FreeText: true,
			State:    st,
		}, nil
	}

	appt := appts[0]
	st.VerifiedEmail = email
	st.ManagedSummary = appt.StartTime.In(cfg.Location()).Format("Monday 2 January at 15:04")
	st.Phase = PhaseManageBooking
	return m.renderPhase(cfg, st), nil
}

func (m *Machine) stepManageBooking(ctx context.Context, cfg *clinic.ScheduleConfig, sig string, st State, in Input) (*Reply, error) {
	switch in.Chip {
	case chipReschedule:
		st.Rescheduling = true
		st.Executed = false
		days, err := m.dayOptions(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st.Phase = PhaseBookingDate
		if len(days) == 0 {
			return &Reply{
				Message: "We don't have any openings in the next two weeks. Please call the clinic directly.",
				Chips:   []Chip{{Label: "Back", Value: chipBack}},
				State:   st,
			}, nil
		}
		return &Reply{
			Message: "Which day would you like to move it to?",
			Chips:   append(dayChips(days), Chip{Label: "Back", Value: chipBack}),
			State:   st,
		}, nil

	case chipCancel:
		if st.Executed {
			st.Phase = PhaseCancelSuccess
			return m.renderPhase(cfg, st), nil
		}
		res, err := m.exec.Manage(ctx, executor.ManageRequest{
			ClinicSlug:   cfg.Slug,
			Sig:          sig,
			Action:       "cancel",
			PatientEmail: st.VerifiedEmail,
		})
		if err != nil {
			m.logger.Error("cancel failed", "clinic", cfg.Slug, "error", err)
			return &Reply{
				Message: "Sorry, I couldn't reach the booking system. Want to try again?",
				Chips:   manageChips(),
				State:   st,
			}, nil
		}
		if !res.OK {
			return &Reply{
				Message: "I couldn't cancel that appointment: " + res.Error,
				Chips:   manageChips(),
				State:   st,
			}, nil
		}
		st.Executed = true
		st.Phase = PhaseCancelSuccess
		return m.renderPhase(cfg, st), nil

	case chipBack:
		st.resetFlow()
		return m.greetingReply(cfg, st), nil

	default:
		return m.renderPhase(cfg, st), nil
	}
}

// commit calls the executor exactly once for the confirmed slot. Replays of
// an already-executed state short-circuit to the success reply.
func (m *Machine) commit(ctx context.Context, cfg *clinic.ScheduleConfig, sig string, st State) (*Reply, error) {
	if st.Executed {
		st.Phase = PhaseBookingSuccess
		return m.successReply(cfg, st), nil
	}

	if st.Rescheduling {
		if st.SlotStart == "" || st.SlotEnd == "" || st.VerifiedEmail == "" {
			st.Phase = PhaseVerifyAccount
			return &Reply{
				Message:  "Let's verify your booking first. What's the email you used?",
				FreeText: true,
				State:    st,
			}, nil
		}
		ok, err := m.slotStillAvailable(ctx, cfg, st.SlotStart)
		if err != nil {
			return nil, err
		}
		if !ok {
			return m.staleSlotReply(ctx, cfg, st)
		}
		res, err := m.exec.Manage(ctx, executor.ManageRequest{
			ClinicSlug:   cfg.Slug,
			Sig:          sig,
			Action:       "modify",
			PatientEmail: st.VerifiedEmail,
			NewStartTime: st.SlotStart,
			NewEndTime:   st.SlotEnd,
		})
		return m.commitResult(cfg, st, res, err)
	}

	if !st.hasCommitData() {
		// Missing details mean the sub-flow was skipped; restart it.
		st.Phase = PhasePatientDetails
		st.DetailsStep = StepName
		return &Reply{
			Message:  "I still need a few details. What's your full name?",
			FreeText: true,
			State:    st,
		}, nil
	}

	ok, err := m.slotStillAvailable(ctx, cfg, st.SlotStart)
	if err != nil {
		return nil, err
	}
	if !ok {
		return m.staleSlotReply(ctx, cfg, st)
	}

	res, err := m.exec.Book(ctx, executor.BookRequest{
		ClinicSlug:   cfg.Slug,
		Sig:          sig,
		PatientName:  st.PatientName,
		PatientEmail: st.PatientEmail,
		PatientPhone: st.PatientWhatsApp,
		Service:      st.Service,
		StartTime:    st.SlotStart,
		EndTime:      st.SlotEnd,
	})
	return m.commitResult(cfg, st, res, err)
}

// slotStillAvailable re-checks the chosen start against the calculator. The
// slot values in the state are client-replayed, so a hand-edited or stale
// state could otherwise commit an instant the clinic never offered.
func (m *Machine) slotStillAvailable(ctx context.Context, cfg *clinic.ScheduleConfig, startStr string) (bool, error) {
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return false, nil
	}
	starts, err := m.activeStarts(ctx, cfg)
	if err != nil {
		return false, err
	}
	date := start.In(cfg.Location()).Format(availability.DateLayout)
	slots, err := m.calc.SlotsForDay(cfg, date, starts, 0, true)
	if err != nil {
		return false, nil
	}
	key := start.Truncate(time.Minute).Unix()
	for _, s := range slots {
		if s.Start.Truncate(time.Minute).Unix() == key {
			return true, nil
		}
	}
	return false, nil
}

// staleSlotReply drops the unusable slot and sends the patient back to the
// day selection.
func (m *Machine) staleSlotReply(ctx context.Context, cfg *clinic.ScheduleConfig, st State) (*Reply, error) {
	st.SlotStart = ""
	st.SlotEnd = ""
	st.SelectedDate = ""
	st.DetailsStep = ""
	reply, err := m.redoDateReply(ctx, cfg, st)
	if err != nil {
		return nil, err
	}
	reply.Message = "That time is no longer available. " + reply.Message
	return reply, nil
}

func (m *Machine) commitResult(cfg *clinic.ScheduleConfig, st State, res *executor.Result, err error) (*Reply, error) {
	if err != nil {
		m.logger.Error("commit failed", "clinic", cfg.Slug, "error", err)
		return m.commitErrorReply(st, "Sorry, I couldn't reach the booking system just now."), nil
	}
	if !res.OK {
		return m.commitErrorReply(st, "The booking system said: "+res.Error), nil
	}

	st.Executed = true
	st.Phase = PhaseBookingSuccess
	return m.successReply(cfg, st), nil
}

// commitErrorReply keeps the collected data and offers a retry. Collected
// details are never dropped on failure.
func (m *Machine) commitErrorReply(st State, msg string) *Reply {
	if !st.Rescheduling {
		st.Phase = PhasePatientDetails
		st.DetailsStep = ""
	}
	return &Reply{
		Message: msg + " Would you like to try again?",
		Chips: []Chip{
			{Label: "Try again", Value: chipRetry},
			{Label: "Back", Value: chipBack},
		},
		State: st,
	}
}

func (m *Machine) successReply(cfg *clinic.ScheduleConfig, st State) *Reply {
	when := st.SlotStart
	if start, err := time.Parse(time.RFC3339, st.SlotStart); err == nil {
		when = start.In(cfg.Location()).Format("Monday 2 January at 15:04")
	}
	verb := "booked"
	if st.Rescheduling {
		verb = "moved"
	}
	reply := &Reply{
		Message: fmt.Sprintf("All set! Your appointment is %s for %s. See you then!", verb, when),
		Chips: []Chip{
			{Label: "Book another", Value: chipBookAnother},
			{Label: "Back", Value: chipBack},
		},
		State: st,
	}
	if !st.Rescheduling && cfg.CalendarLinkAllowed() {
		start, err1 := time.Parse(time.RFC3339, st.SlotStart)
		end, err2 := time.Parse(time.RFC3339, st.SlotEnd)
		if err1 == nil && err2 == nil {
			reply.CalendarLink = cfg.CalendarLink(start, end)
		}
	}
	return reply
}

// renderPhase re-renders the current phase's prompt, used for unknown
// inputs and for phases entered without extra data.
func (m *Machine) renderPhase(cfg *clinic.ScheduleConfig, st State) *Reply {
	switch st.Phase {
	case PhaseClinicInfo:
		return &Reply{
			Message: clinicInfoText(cfg),
			Chips:   []Chip{{Label: "Back", Value: chipBack}},
			State:   st,
		}
	case PhaseEmergency:
		return &Reply{
			Message: "If this is a medical emergency, please call your local emergency number (112 in Europe) or go to the nearest emergency room right away.",
			Chips:   []Chip{{Label: "Back", Value: chipBack}},
			State:   st,
		}
	case PhaseManageBooking:
		return &Reply{
			Message: fmt.Sprintf("Found it! Your next appointment is %s. What would you like to do?", st.ManagedSummary),
			Chips:   manageChips(),
			State:   st,
		}
	case PhaseBookingSuccess:
		return m.successReply(cfg, st)
	case PhaseCancelSuccess:
		return &Reply{
			Message: "Your appointment has been cancelled. We hope to see you another time!",
			Chips: []Chip{
				{Label: "Book another", Value: chipBookAnother},
				{Label: "Back", Value: chipBack},
			},
			State: st,
		}
	default:
		return m.greetingReply(cfg, st)
	}
}

func (m *Machine) greetingReply(cfg *clinic.ScheduleConfig, st State) *Reply {
	greeting := strings.TrimSpace(cfg.Persona.CustomGreeting)
	if greeting == "" {
		greeting = fmt.Sprintf("Hi! I'm %s from %s. How can I help you today?", cfg.AgentName(), cfg.Name)
	}
	return &Reply{
		Message: greeting,
		Chips: []Chip{
			{Label: "Book an appointment", Value: chipBook},
			{Label: "Manage my booking", Value: chipManage},
			{Label: "Clinic info", Value: chipInfo},
			{Label: "Emergency", Value: chipEmergency},
		},
		State: st,
	}
}

func (m *Machine) serviceReply(cfg *clinic.ScheduleConfig, st State) *Reply {
	services := cfg.Services
	if len(services) == 0 {
		services = []string{"General visit"}
	}
	chips := make([]Chip, 0, len(services)+1)
	for _, s := range services {
		chips = append(chips, Chip{Label: s, Value: s})
	}
	chips = append(chips, Chip{Label: "Back", Value: chipBack})
	return &Reply{
		Message: "What would you like to come in for?",
		Chips:   chips,
		State:   st,
	}
}

// redoDateReply re-offers the day chips, used when a slot or date input
// could not be used.
func (m *Machine) redoDateReply(ctx context.Context, cfg *clinic.ScheduleConfig, st State) (*Reply, error) {
	days, err := m.dayOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st.Phase = PhaseBookingDate
	if len(days) == 0 {
		return &Reply{
			Message: "We don't have any openings in the next two weeks. Please call the clinic directly.",
			Chips:   []Chip{{Label: "Back", Value: chipBack}},
			State:   st,
		}, nil
	}
	return &Reply{
		Message: "Which day works for you?",
		Chips:   append(dayChips(days), Chip{Label: "Back", Value: chipBack}),
		State:   st,
	}, nil
}

func (m *Machine) dayOptions(ctx context.Context, cfg *clinic.ScheduleConfig) ([]availability.DayOption, error) {
	starts, err := m.activeStarts(ctx, cfg)
	if err != nil {
		return nil, err
	}
	days, err := m.calc.NextDaysWithSlots(cfg, starts, 5)
	if err != nil {
		return nil, fmt.Errorf("dialogue: day options: %w", err)
	}
	return days, nil
}

func (m *Machine) activeStarts(ctx context.Context, cfg *clinic.ScheduleConfig) ([]time.Time, error) {
	if m.bookings == nil {
		return nil, nil
	}
	from := m.now()
	starts, err := m.bookings.ActiveStartTimes(ctx, cfg.Slug, from, from.AddDate(0, 0, m.horizonDays+1))
	if err != nil {
		return nil, fmt.Errorf("dialogue: active starts: %w", err)
	}
	return starts, nil
}

func dayChips(days []availability.DayOption) []Chip {
	chips := make([]Chip, 0, len(days))
	for _, d := range days {
		chips = append(chips, Chip{Label: d.Label, Value: d.Date})
	}
	return chips
}

func manageChips() []Chip {
	return []Chip{
		{Label: "Reschedule", Value: chipReschedule},
		{Label: "Cancel", Value: chipCancel},
		{Label: "Back", Value: chipBack},
	}
}

func clinicInfoText(cfg *clinic.ScheduleConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is in the %s timezone.", cfg.Name, cfg.Timezone)
	if cfg.AcceptsInsurance {
		b.WriteString(" We accept health insurance.")
	} else {
		b.WriteString(" Visits are paid directly; we don't work with insurance companies.")
	}
	if notes := strings.TrimSpace(cfg.InsuranceNotes); notes != "" {
		b.WriteString(" " + notes)
	}
	if len(cfg.Services) > 0 {
		fmt.Fprintf(&b, " Services: %s.", strings.Join(cfg.Services, ", "))
	}
	return b.String()
}

func firstName(full string) string {
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	return full
}
