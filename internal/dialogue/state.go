// Package dialogue is the deterministic controller for guided chat flows:
// booking, verify-and-manage, clinic info, and emergencies. Patients drive
// it with chip selections plus a little free text (name, email, phone).
// State travels with the client between turns; the server keeps nothing.
package dialogue

// Phase is the machine's current position in the guided flow.
type Phase string

const (
	PhaseGreeting       Phase = "GREETING"
	PhaseBookingReason  Phase = "BOOKING_REASON"
	PhaseBookingDate    Phase = "BOOKING_DATE"
	PhaseBookingTime    Phase = "BOOKING_TIME"
	PhasePatientDetails Phase = "PATIENT_DETAILS"
	PhaseVerifyAccount  Phase = "VERIFY_ACCOUNT"
	PhaseManageBooking  Phase = "MANAGE_BOOKING"
	PhaseClinicInfo     Phase = "CLINIC_INFO"
	PhaseEmergency      Phase = "EMERGENCY"
	PhaseBookingSuccess Phase = "BOOKING_SUCCESS"
	PhaseCancelSuccess  Phase = "CANCEL_SUCCESS"
)

// DetailsStep is the sub-step inside PATIENT_DETAILS. Steps are linear:
// name, then email, then WhatsApp on plans that collect it.
type DetailsStep string

const (
	StepName     DetailsStep = "name"
	StepEmail    DetailsStep = "email"
	StepWhatsApp DetailsStep = "whatsapp"
)

// maxVerifyAttempts caps VERIFY_ACCOUNT retries before the machine offers
// a way out instead of asking again.
const maxVerifyAttempts = 3

// State is the machine's full memory, serialized to the client after each
// turn and replayed on the next. Contact and slot values inside it are
// re-validated server-side before any commit.
type State struct {
	Phase Phase `json:"phase"`

	Service      string `json:"service,omitempty"`
	SelectedDate string `json:"selected_date,omitempty"` // "2006-01-02"
	SlotStart    string `json:"slot_start,omitempty"`    // RFC 3339
	SlotEnd      string `json:"slot_end,omitempty"`

	PatientName     string      `json:"patient_name,omitempty"`
	PatientEmail    string      `json:"patient_email,omitempty"`
	PatientWhatsApp string      `json:"patient_whatsapp,omitempty"`
	DetailsStep     DetailsStep `json:"details_step,omitempty"`

	// VerifyAttempts counts failed VERIFY_ACCOUNT lookups.
	VerifyAttempts int `json:"verify_attempts,omitempty"`
	// VerifiedEmail is the address that matched an upcoming appointment.
	VerifiedEmail string `json:"verified_email,omitempty"`
	// ManagedSummary describes the appointment under management, for display.
	ManagedSummary string `json:"managed_summary,omitempty"`

	// Rescheduling routes the date/time sub-flow to the modify action
	// instead of a fresh booking.
	Rescheduling bool `json:"rescheduling,omitempty"`

	// Executed blocks a second commit for the same confirmed slot.
	Executed bool `json:"executed,omitempty"`
}

// NewState starts a conversation at the greeting.
func NewState() State {
	return State{Phase: PhaseGreeting}
}

// resetFlow clears everything a finished or abandoned flow accumulated.
func (s *State) resetFlow() {
	*s = State{Phase: PhaseGreeting}
}

// hasCommitData reports whether the collected details are sufficient to
// call the executor: a fixed slot, a name, and at least one contact method.
func (s *State) hasCommitData() bool {
	if s.SlotStart == "" || s.SlotEnd == "" || s.PatientName == "" {
		return false
	}
	return s.PatientEmail != "" || s.PatientWhatsApp != ""
}

// Chip is one selectable option presented to the patient.
type Chip struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Chip values the machine understands.
const (
	chipBook        = "book"
	chipManage      = "manage"
	chipInfo        = "info"
	chipEmergency   = "emergency"
	chipBack        = "back"
	chipReschedule  = "reschedule"
	chipCancel      = "cancel"
	chipBookAnother = "book_another"
	chipRetry       = "retry"
)

// Input is one patient action: a chip value or free text, never both.
type Input struct {
	Chip string `json:"chip,omitempty"`
	Text string `json:"text,omitempty"`
}

// Reply is the machine's answer for one step.
type Reply struct {
	Message string `json:"message"`
	Chips   []Chip `json:"chips,omitempty"`
	// FreeText signals the client to show a text input for this step.
	FreeText bool `json:"free_text,omitempty"`
	// CalendarLink is set once, on a successful booking, when the plan
	// allows it. Opening it is a plain URL visit, never a state change.
	CalendarLink string `json:"calendar_link,omitempty"`
	State        State  `json:"state"`
}
