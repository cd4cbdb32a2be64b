package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinvoy/clinic-ai-platform/internal/executor"
)

const (
	toolBookAppointment   = "book_appointment"
	toolModifyAppointment = "modify_appointment"
	toolCancelAppointment = "cancel_appointment"
)

// BookingExecutor is the slice of the executor client the tool loop needs.
type BookingExecutor interface {
	Book(ctx context.Context, req executor.BookRequest) (*executor.Result, error)
	Manage(ctx context.Context, req executor.ManageRequest) (*executor.Result, error)
}

// schemaObject builds the JSON-schema parameter object the completion
// service expects for a tool.
func schemaObject(props map[string]string, required []string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, desc := range props {
		properties[name] = map[string]any{"type": "string", "description": desc}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// bookingTools declares the three callable actions. All arguments are
// strings; instants are ISO 8601 with explicit offset.
func bookingTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        toolBookAppointment,
			Description: "Book a new appointment once the patient has confirmed a slot and shared their name plus an email or WhatsApp number.",
			Parameters: schemaObject(map[string]string{
				"patient_name":     "Full name of the patient",
				"patient_email":    "Patient email address",
				"patient_whatsapp": "Patient WhatsApp number with country code",
				"start_time":       "Appointment start, ISO 8601 with offset",
				"end_time":         "Appointment end, ISO 8601 with offset",
			}, []string{"patient_name", "start_time", "end_time"}),
		},
		{
			Name:        toolModifyAppointment,
			Description: "Move the patient's existing appointment to a new time. Requires an email or WhatsApp number to find the appointment.",
			Parameters: schemaObject(map[string]string{
				"patient_email":    "Patient email address",
				"patient_whatsapp": "Patient WhatsApp number with country code",
				"new_start_time":   "New start, ISO 8601 with offset",
				"new_end_time":     "New end, ISO 8601 with offset",
			}, []string{"new_start_time", "new_end_time"}),
		},
		{
			Name:        toolCancelAppointment,
			Description: "Cancel the patient's existing appointment. Requires an email or WhatsApp number to find the appointment.",
			Parameters: schemaObject(map[string]string{
				"patient_email":    "Patient email address",
				"patient_whatsapp": "Patient WhatsApp number with country code",
			}, nil),
		},
	}
}

type bookArgs struct {
	PatientName     string `json:"patient_name"`
	PatientEmail    string `json:"patient_email"`
	PatientWhatsApp string `json:"patient_whatsapp"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
}

type modifyArgs struct {
	PatientEmail    string `json:"patient_email"`
	PatientWhatsApp string `json:"patient_whatsapp"`
	NewStartTime    string `json:"new_start_time"`
	NewEndTime      string `json:"new_end_time"`
}

type cancelArgs struct {
	PatientEmail    string `json:"patient_email"`
	PatientWhatsApp string `json:"patient_whatsapp"`
}

// toolOutcome is the synthetic result fed back to the model after running
// (or refusing to run) a tool call.
type toolOutcome struct {
	// executed is false when local validation stopped the call before the
	// executor was reached.
	executed bool
	// succeeded is true when the executor accepted the action.
	succeeded bool
	// booked marks a successful book_appointment, with its slot times, so
	// the caller can offer a calendar link.
	booked    bool
	startTime string
	endTime   string
	// result is the text given back to the model as the tool message.
	result string
}

// runToolCall validates the call's arguments locally and executes it via
// the booking executor. Validation failures never reach the executor; the
// model gets a corrective message to relay instead.
func (s *Service) runToolCall(ctx context.Context, clinicSlug, sig string, call ToolCall) toolOutcome {
	switch call.Name {
	case toolBookAppointment:
		var args bookArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return toolOutcome{result: "Invalid arguments. Ask the patient to confirm the details and try again."}
		}
		if strings.TrimSpace(args.PatientName) == "" || args.StartTime == "" || args.EndTime == "" {
			return toolOutcome{result: "Missing required fields: patient name and the exact start and end time are needed before booking."}
		}
		if strings.TrimSpace(args.PatientEmail) == "" && strings.TrimSpace(args.PatientWhatsApp) == "" {
			return toolOutcome{result: "Cannot book yet: ask the patient for an email address or WhatsApp number first."}
		}
		res, err := s.executor.Book(ctx, executor.BookRequest{
			ClinicSlug:   clinicSlug,
			Sig:          sig,
			PatientName:  args.PatientName,
			PatientEmail: args.PatientEmail,
			PatientPhone: args.PatientWhatsApp,
			StartTime:    args.StartTime,
			EndTime:      args.EndTime,
		})
		out := s.outcomeFromResult(res, err, "The appointment was booked successfully. Confirm the date and time to the patient.")
		if out.succeeded {
			out.booked = true
			out.startTime = args.StartTime
			out.endTime = args.EndTime
		}
		return out

	case toolModifyAppointment:
		var args modifyArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return toolOutcome{result: "Invalid arguments. Ask the patient to confirm the new time and try again."}
		}
		if args.NewStartTime == "" || args.NewEndTime == "" {
			return toolOutcome{result: "Missing the new start and end time for the reschedule."}
		}
		if strings.TrimSpace(args.PatientEmail) == "" && strings.TrimSpace(args.PatientWhatsApp) == "" {
			return toolOutcome{result: "Cannot reschedule yet: ask the patient for the email or WhatsApp number used when booking."}
		}
		res, err := s.executor.Manage(ctx, executor.ManageRequest{
			ClinicSlug:      clinicSlug,
			Sig:             sig,
			Action:          "modify",
			PatientEmail:    args.PatientEmail,
			PatientWhatsApp: args.PatientWhatsApp,
			NewStartTime:    args.NewStartTime,
			NewEndTime:      args.NewEndTime,
		})
		return s.outcomeFromResult(res, err, "The appointment was rescheduled. Confirm the new date and time to the patient.")

	case toolCancelAppointment:
		var args cancelArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return toolOutcome{result: "Invalid arguments for the cancellation."}
		}
		if strings.TrimSpace(args.PatientEmail) == "" && strings.TrimSpace(args.PatientWhatsApp) == "" {
			return toolOutcome{result: "Cannot cancel yet: ask the patient for the email or WhatsApp number used when booking."}
		}
		res, err := s.executor.Manage(ctx, executor.ManageRequest{
			ClinicSlug:      clinicSlug,
			Sig:             sig,
			Action:          "cancel",
			PatientEmail:    args.PatientEmail,
			PatientWhatsApp: args.PatientWhatsApp,
		})
		return s.outcomeFromResult(res, err, "The appointment was cancelled. Let the patient know and offer to book a new one.")

	default:
		return toolOutcome{result: fmt.Sprintf("Unknown tool %q.", call.Name)}
	}
}

func (s *Service) outcomeFromResult(res *executor.Result, err error, successText string) toolOutcome {
	if err != nil {
		s.logger.Error("executor call failed", "error", err)
		return toolOutcome{executed: true, result: "The booking system could not complete the request. Apologize and suggest trying again in a moment."}
	}
	if !res.OK {
		return toolOutcome{executed: true, result: fmt.Sprintf("The booking system rejected the request: %s. Explain this to the patient.", res.Error)}
	}
	return toolOutcome{executed: true, succeeded: true, result: successText}
}
