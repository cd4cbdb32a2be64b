package dialogue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinvoy/clinic-ai-platform/internal/availability"
	"github.com/clinvoy/clinic-ai-platform/internal/bookings"
	"github.com/clinvoy/clinic-ai-platform/internal/clinic"
	"github.com/clinvoy/clinic-ai-platform/internal/executor"
)

type fakeReader struct {
	starts []time.Time
	appts  map[string][]bookings.Appointment
}

func (f *fakeReader) ActiveStartTimes(context.Context, string, time.Time, time.Time) ([]time.Time, error) {
	return f.starts, nil
}

func (f *fakeReader) UpcomingForEmail(_ context.Context, _, email string, _ time.Time) ([]bookings.Appointment, error) {
	return f.appts[email], nil
}

type fakeExec struct {
	bookCalls   []executor.BookRequest
	manageCalls []executor.ManageRequest
	result      *executor.Result
	err         error
}

func (f *fakeExec) Book(_ context.Context, req executor.BookRequest) (*executor.Result, error) {
	f.bookCalls = append(f.bookCalls, req)
	return f.result, f.err
}

func (f *fakeExec) Manage(_ context.Context, req executor.ManageRequest) (*executor.Result, error) {
	f.manageCalls = append(f.manageCalls, req)
	return f.result, f.err
}

func testNow(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	// A Wednesday morning.
	return time.Date(2026, 9, 2, 8, 0, 0, 0, loc)
}

func testCfg() *clinic.ScheduleConfig {
	cfg := clinic.DefaultConfig("demo-clinic")
	cfg.Name = "Demo Clinic"
	cfg.Services = []string{"Physiotherapy", "Osteopathy"}
	return cfg
}

type fixture struct {
	m      *Machine
	exec   *fakeExec
	reader *fakeReader
	cfg    *clinic.ScheduleConfig
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := testNow(t)
	reader := &fakeReader{appts: map[string][]bookings.Appointment{}}
	exec := &fakeExec{result: &executor.Result{OK: true}}
	calc := availability.New(availability.WithClock(func() time.Time { return now }))
	m := NewMachine(calc, reader, exec, nil).WithClock(func() time.Time { return now })
	return &fixture{m: m, exec: exec, reader: reader, cfg: testCfg(), ctx: context.Background()}
}

func (f *fixture) step(t *testing.T, st State, in Input) *Reply {
	t.Helper()
	reply, err := f.m.Step(f.ctx, f.cfg, "sig-1", st, in)
	require.NoError(t, err)
	return reply
}

func chipValues(chips []Chip) []string {
	vals := make([]string, 0, len(chips))
	for _, c := range chips {
		vals = append(vals, c.Value)
	}
	return vals
}

// walkToDetails drives a fresh state to PATIENT_DETAILS and returns it with
// the selected slot values.
func (f *fixture) walkToDetails(t *testing.T) *Reply {
	t.Helper()
	r := f.step(t, NewState(), Input{Chip: chipBook})
	require.Equal(t, PhaseBookingReason, r.State.Phase)

	r = f.step(t, r.State, Input{Chip: "Physiotherapy"})
	require.Equal(t, PhaseBookingDate, r.State.Phase)
	require.NotEmpty(t, r.Chips)

	// First day chip is today (the clinic opens at 09:00, it is 08:00).
	r = f.step(t, r.State, Input{Chip: r.Chips[0].Value})
	require.Equal(t, PhaseBookingTime, r.State.Phase)
	require.NotEmpty(t, r.Chips)

	r = f.step(t, r.State, Input{Chip: r.Chips[0].Value})
	require.Equal(t, PhasePatientDetails, r.State.Phase)
	require.Equal(t, StepName, r.State.DetailsStep)
	require.NotEmpty(t, r.State.SlotStart)
	require.NotEmpty(t, r.State.SlotEnd)
	return r
}

func TestGreetingOffersFourPaths(t *testing.T) {
	f := newFixture(t)
	r := f.step(t, NewState(), Input{})
	require.Equal(t, PhaseGreeting, r.State.Phase)
	require.ElementsMatch(t,
		[]string{chipBook, chipManage, chipInfo, chipEmergency},
		chipValues(r.Chips))
}

func TestHappyPathBooking(t *testing.T) {
	f := newFixture(t)
	r := f.walkToDetails(t)

	r = f.step(t, r.State, Input{Text: "Ana Ruiz"})
	require.Equal(t, StepEmail, r.State.DetailsStep)
	require.Equal(t, "Ana Ruiz", r.State.PatientName)

	r = f.step(t, r.State, Input{Text: "ana@example.com"})
	require.Equal(t, PhaseBookingSuccess, r.State.Phase)
	require.True(t, r.State.Executed)
	require.Contains(t, r.Message, "All set")

	require.Len(t, f.exec.bookCalls, 1)
	call := f.exec.bookCalls[0]
	require.Equal(t, "demo-clinic", call.ClinicSlug)
	require.Equal(t, "sig-1", call.Sig)
	require.Equal(t, "Ana Ruiz", call.PatientName)
	require.Equal(t, "ana@example.com", call.PatientEmail)
	require.Equal(t, "Physiotherapy", call.Service)
	require.Equal(t, r.State.SlotStart, call.StartTime)
}

func TestSlotFixesThirtyMinuteWindow(t *testing.T) {
	f := newFixture(t)
	r := f.walkToDetails(t)

	start, err := time.Parse(time.RFC3339, r.State.SlotStart)
	require.NoError(t, err)
	end, err := time.Parse(time.RFC3339, r.State.SlotEnd)
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, end.Sub(start))
}

func TestWhatsAppStepOnProPlan(t *testing.T) {
	f := newFixture(t)
	f.cfg.PlanTier = clinic.PlanPro

	r := f.walkToDetails(t)
	r = f.step(t, r.State, Input{Text: "Ana Ruiz"})
	r = f.step(t, r.State, Input{Text: "ana@example.com"})
	require.Equal(t, StepWhatsApp, r.State.DetailsStep)
	require.Empty(t, f.exec.bookCalls)

	r = f.step(t, r.State, Input{Text: "+34 600 111 222"})
	require.Equal(t, PhaseBookingSuccess, r.State.Phase)
	require.Len(t, f.exec.bookCalls, 1)
	require.Equal(t, "+34600111222", f.exec.bookCalls[0].PatientPhone)
}

func TestInvalidDetailsReprompt(t *testing.T) {
	f := newFixture(t)
	r := f.walkToDetails(t)

	bad := f.step(t, r.State, Input{Text: "x"})
	require.Equal(t, PhasePatientDetails, bad.State.Phase)
	require.Equal(t, StepName, bad.State.DetailsStep)
	require.Empty(t, bad.State.PatientName)
	require.True(t, bad.FreeText)

	r = f.step(t, bad.State, Input{Text: "Ana Ruiz"})
	bad = f.step(t, r.State, Input{Text: "not-an-email"})
	require.Equal(t, StepEmail, bad.State.DetailsStep)
	require.Empty(t, bad.State.PatientEmail)
	require.Empty(t, f.exec.bookCalls)
}

func TestNeverBooksWithoutContact(t *testing.T) {
	f := newFixture(t)
	r := f.walkToDetails(t)
	r = f.step(t, r.State, Input{Text: "Ana Ruiz"})

	// Forge a state that skips the email step.
	st := r.State
	st.DetailsStep = ""
	st.PatientEmail = ""
	st.PatientWhatsApp = ""

	out := f.step(t, st, Input{})
	require.NotEqual(t, PhaseBookingSuccess, out.State.Phase)
	require.Empty(t, f.exec.bookCalls)
	require.Equal(t, PhasePatientDetails, out.State.Phase)
}

func TestCommitRejectsUnofferedSlot(t *testing.T) {
	f := newFixture(t)
	loc := f.cfg.Location()

	// A hand-edited state carrying a 03:00 start. The clinic never offered
	// it, so the executor must not see it.
	offHours := time.Date(2026, 9, 3, 3, 0, 0, 0, loc)
	st := State{
		Phase:        PhasePatientDetails,
		Service:      "Physiotherapy",
		SlotStart:    offHours.Format(time.RFC3339),
		SlotEnd:      offHours.Add(30 * time.Minute).Format(time.RFC3339),
		PatientName:  "Ana Ruiz",
		PatientEmail: "ana@example.com",
	}
	r := f.step(t, st, Input{})
	require.Empty(t, f.exec.bookCalls)
	require.Equal(t, PhaseBookingDate, r.State.Phase)
	require.Contains(t, r.Message, "no longer available")
	require.Empty(t, r.State.SlotStart)

	// A start colliding with an existing booking is rejected the same way.
	f2 := newFixture(t)
	booked := time.Date(2026, 9, 2, 9, 0, 0, 0, loc)
	f2.reader.starts = []time.Time{booked}
	st.SlotStart = booked.Format(time.RFC3339)
	st.SlotEnd = booked.Add(30 * time.Minute).Format(time.RFC3339)
	r = f2.step(t, st, Input{})
	require.Empty(t, f2.exec.bookCalls)
	require.Equal(t, PhaseBookingDate, r.State.Phase)
}

func TestExecutorFailureKeepsDetails(t *testing.T) {
	f := newFixture(t)
	f.exec.result = &executor.Result{OK: false, Error: "slot already taken"}

	r := f.walkToDetails(t)
	r = f.step(t, r.State, Input{Text: "Ana Ruiz"})
	r = f.step(t, r.State, Input{Text: "ana@example.com"})

	require.Equal(t, PhasePatientDetails, r.State.Phase)
	require.False(t, r.State.Executed)
	require.Equal(t, "Ana Ruiz", r.State.PatientName)
	require.Equal(t, "ana@example.com", r.State.PatientEmail)
	require.Contains(t, r.Message, "slot already taken")
	require.Contains(t, chipValues(r.Chips), chipRetry)

	// Retry succeeds and does not lose the slot.
	f.exec.result = &executor.Result{OK: true}
	out := f.step(t, r.State, Input{Chip: chipRetry})
	require.Equal(t, PhaseBookingSuccess, out.State.Phase)
	require.Len(t, f.exec.bookCalls, 2)
	require.Equal(t, f.exec.bookCalls[0].StartTime, f.exec.bookCalls[1].StartTime)
}

func TestNoDoubleExecuteOnReplay(t *testing.T) {
	f := newFixture(t)
	r := f.walkToDetails(t)
	r = f.step(t, r.State, Input{Text: "Ana Ruiz"})
	r = f.step(t, r.State, Input{Text: "ana@example.com"})
	require.Equal(t, PhaseBookingSuccess, r.State.Phase)
	require.Len(t, f.exec.bookCalls, 1)

	// Replaying the executed state through a commit must not book again.
	st := r.State
	st.Phase = PhasePatientDetails
	out := f.step(t, st, Input{Chip: chipRetry})
	require.Equal(t, PhaseBookingSuccess, out.State.Phase)
	require.Len(t, f.exec.bookCalls, 1)
}

func TestVerifyAccountSuccess(t *testing.T) {
	f := newFixture(t)
	loc, _ := time.LoadLocation("Europe/Madrid")
	f.reader.appts["ana@example.com"] = []bookings.Appointment{{
		ID:          "appt-1",
		PatientName: "Ana Ruiz",
		StartTime:   time.Date(2026, 9, 4, 10, 0, 0, 0, loc),
	}}

	r := f.step(t, NewState(), Input{Chip: chipManage})
	require.Equal(t, PhaseVerifyAccount, r.State.Phase)
	require.True(t, r.FreeText)

	r = f.step(t, r.State, Input{Text: "Ana@Example.com"})
	require.Equal(t, PhaseManageBooking, r.State.Phase)
	require.Equal(t, "ana@example.com", r.State.VerifiedEmail)
	require.Contains(t, r.Message, "Friday 4 September")
	require.ElementsMatch(t,
		[]string{chipReschedule, chipCancel, chipBack},
		chipValues(r.Chips))
}

func TestVerifyAccountThreeFailuresOfferWayOut(t *testing.T) {
	f := newFixture(t)
	st := f.step(t, NewState(), Input{Chip: chipManage}).State

	for i := 1; i <= 2; i++ {
		r := f.step(t, st, Input{Text: fmt.Sprintf("unknown%d@example.com", i)})
		require.Equal(t, PhaseVerifyAccount, r.State.Phase)
		require.Equal(t, i, r.State.VerifyAttempts)
		require.True(t, r.FreeText)
		st = r.State
	}

	r := f.step(t, st, Input{Text: "unknown3@example.com"})
	require.Equal(t, 3, r.State.VerifyAttempts)
	require.False(t, r.FreeText)
	require.ElementsMatch(t, []string{chipBook, chipBack}, chipValues(r.Chips))

	// Taking the booking exit starts the booking flow.
	out := f.step(t, r.State, Input{Chip: chipBook})
	require.Equal(t, PhaseBookingReason, out.State.Phase)
}

func TestVerifyInvalidEmailDoesNotCountAttempt(t *testing.T) {
	f := newFixture(t)
	st := f.step(t, NewState(), Input{Chip: chipManage}).State

	r := f.step(t, st, Input{Text: "not an email"})
	require.Zero(t, r.State.VerifyAttempts)
	require.True(t, r.FreeText)
}

func TestCancelFlow(t *testing.T) {
	f := newFixture(t)
	loc, _ := time.LoadLocation("Europe/Madrid")
	f.reader.appts["ana@example.com"] = []bookings.Appointment{{
		ID: "appt-1", StartTime: time.Date(2026, 9, 4, 10, 0, 0, 0, loc),
	}}

	st := f.step(t, NewState(), Input{Chip: chipManage}).State
	st = f.step(t, st, Input{Text: "ana@example.com"}).State

	r := f.step(t, st, Input{Chip: chipCancel})
	require.Equal(t, PhaseCancelSuccess, r.State.Phase)
	require.Len(t, f.exec.manageCalls, 1)
	require.Equal(t, "cancel", f.exec.manageCalls[0].Action)
	require.Equal(t, "ana@example.com", f.exec.manageCalls[0].PatientEmail)

	// Replaying the executed state must not hit the executor again.
	done := f.step(t, r.State, Input{Chip: chipCancel})
	require.Equal(t, PhaseCancelSuccess, done.State.Phase)
	require.Len(t, f.exec.manageCalls, 1)
}

func TestRescheduleFlow(t *testing.T) {
	f := newFixture(t)
	loc, _ := time.LoadLocation("Europe/Madrid")
	f.reader.appts["ana@example.com"] = []bookings.Appointment{{
		ID: "appt-1", StartTime: time.Date(2026, 9, 4, 10, 0, 0, 0, loc),
	}}

	st := f.step(t, NewState(), Input{Chip: chipManage}).State
	st = f.step(t, st, Input{Text: "ana@example.com"}).State

	r := f.step(t, st, Input{Chip: chipReschedule})
	require.Equal(t, PhaseBookingDate, r.State.Phase)
	require.True(t, r.State.Rescheduling)

	r = f.step(t, r.State, Input{Chip: r.Chips[0].Value})
	require.Equal(t, PhaseBookingTime, r.State.Phase)

	r = f.step(t, r.State, Input{Chip: r.Chips[0].Value})
	require.Equal(t, PhaseBookingSuccess, r.State.Phase)
	require.Contains(t, r.Message, "moved")

	// The modify action was used, never a fresh booking.
	require.Empty(t, f.exec.bookCalls)
	require.Len(t, f.exec.manageCalls, 1)
	require.Equal(t, "modify", f.exec.manageCalls[0].Action)
	require.Equal(t, "ana@example.com", f.exec.manageCalls[0].PatientEmail)
	require.NotEmpty(t, f.exec.manageCalls[0].NewStartTime)
}

func TestBookedSlotExcludedFromChips(t *testing.T) {
	f := newFixture(t)
	loc, _ := time.LoadLocation("Europe/Madrid")
	f.reader.starts = []time.Time{time.Date(2026, 9, 2, 9, 0, 0, 0, loc)}

	st := f.step(t, NewState(), Input{Chip: chipBook}).State
	r := f.step(t, st, Input{Chip: "Physiotherapy"})
	r = f.step(t, r.State, Input{Chip: "2026-09-02"})
	require.Equal(t, PhaseBookingTime, r.State.Phase)

	for _, c := range r.Chips {
		require.NotEqual(t, "09:00", c.Label)
	}
	require.Equal(t, "09:30", r.Chips[0].Label)
}

func TestCalendarLinkGatedByPlan(t *testing.T) {
	f := newFixture(t)
	f.cfg.CalendarLinksEnabled = true

	// Starter plan: no link even when the clinic enabled it.
	r := f.walkToDetails(t)
	r = f.step(t, r.State, Input{Text: "Ana Ruiz"})
	r = f.step(t, r.State, Input{Text: "ana@example.com"})
	require.Equal(t, PhaseBookingSuccess, r.State.Phase)
	require.Empty(t, r.CalendarLink)

	// Pro plan: link present. Pro also collects WhatsApp, so the details
	// sub-flow has one more step before the commit.
	f2 := newFixture(t)
	f2.cfg.CalendarLinksEnabled = true
	f2.cfg.PlanTier = clinic.PlanPro
	r = f2.walkToDetails(t)
	r = f2.step(t, r.State, Input{Text: "Ana Ruiz"})
	r = f2.step(t, r.State, Input{Text: "ana@example.com"})
	require.Equal(t, PhasePatientDetails, r.State.Phase)
	r = f2.step(t, r.State, Input{Text: "+34 600 111 222"})
	require.Equal(t, PhaseBookingSuccess, r.State.Phase)
	require.Contains(t, r.CalendarLink, "calendar.google.com")
}

func TestInfoAndEmergencyReturnViaBack(t *testing.T) {
	f := newFixture(t)

	r := f.step(t, NewState(), Input{Chip: chipInfo})
	require.Equal(t, PhaseClinicInfo, r.State.Phase)
	require.Equal(t, []string{chipBack}, chipValues(r.Chips))

	r = f.step(t, r.State, Input{Chip: chipBack})
	require.Equal(t, PhaseGreeting, r.State.Phase)

	r = f.step(t, NewState(), Input{Chip: chipEmergency})
	require.Equal(t, PhaseEmergency, r.State.Phase)
	require.Contains(t, r.Message, "emergency")

	// Anything but "back" re-renders the emergency message.
	again := f.step(t, r.State, Input{Text: "it hurts"})
	require.Equal(t, PhaseEmergency, again.State.Phase)
}

func TestSuccessStateBackToGreeting(t *testing.T) {
	f := newFixture(t)
	r := f.walkToDetails(t)
	r = f.step(t, r.State, Input{Text: "Ana Ruiz"})
	r = f.step(t, r.State, Input{Text: "ana@example.com"})
	require.Equal(t, PhaseBookingSuccess, r.State.Phase)

	out := f.step(t, r.State, Input{Chip: chipBookAnother})
	require.Equal(t, PhaseGreeting, out.State.Phase)
	require.False(t, out.State.Executed)
	require.Empty(t, out.State.PatientName)
}

func TestEmptyDaySlotsShowsBackOnly(t *testing.T) {
	f := newFixture(t)
	// Sunday is closed on the default schedule.
	st := f.step(t, NewState(), Input{Chip: chipBook}).State
	r := f.step(t, st, Input{Chip: "Physiotherapy"})
	r = f.step(t, r.State, Input{Chip: "2026-09-06"})

	require.Equal(t, PhaseBookingDate, r.State.Phase)
	require.Equal(t, []string{chipBack}, chipValues(r.Chips))
	require.Contains(t, r.Message, "pick another")
}
