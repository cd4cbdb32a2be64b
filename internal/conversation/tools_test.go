package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinvoy/clinic-ai-platform/internal/executor"
	"github.com/clinvoy/clinic-ai-platform/pkg/logging"
)

func newToolService(exec *fakeExecutor) *Service {
	return &Service{executor: exec, logger: logging.Default()}
}

func TestRunToolCallBookSuccess(t *testing.T) {
	exec := &fakeExecutor{result: &executor.Result{OK: true}}
	s := newToolService(exec)

	out := s.runToolCall(context.Background(), "demo-clinic", "sig-1", ToolCall{
		Name: toolBookAppointment,
		Arguments: `{"patient_name":"Ana Ruiz","patient_whatsapp":"+34600111222",
			"start_time":"2026-09-02T10:00:00+02:00","end_time":"2026-09-02T10:30:00+02:00"}`,
	})
	require.True(t, out.executed)
	require.True(t, out.succeeded)
	require.True(t, out.booked)
	require.Equal(t, "2026-09-02T10:00:00+02:00", out.startTime)

	require.Len(t, exec.bookCalls, 1)
	require.Equal(t, "demo-clinic", exec.bookCalls[0].ClinicSlug)
	require.Equal(t, "+34600111222", exec.bookCalls[0].PatientPhone)
}

func TestRunToolCallBookMissingContact(t *testing.T) {
	exec := &fakeExecutor{result: &executor.Result{OK: true}}
	s := newToolService(exec)

	out := s.runToolCall(context.Background(), "demo-clinic", "", ToolCall{
		Name:      toolBookAppointment,
		Arguments: `{"patient_name":"Ana Ruiz","start_time":"2026-09-02T10:00:00+02:00","end_time":"2026-09-02T10:30:00+02:00"}`,
	})
	require.False(t, out.executed)
	require.Contains(t, out.result, "email address or WhatsApp number")
	require.Empty(t, exec.bookCalls)
}

func TestRunToolCallBookMissingName(t *testing.T) {
	exec := &fakeExecutor{}
	s := newToolService(exec)

	out := s.runToolCall(context.Background(), "demo-clinic", "", ToolCall{
		Name:      toolBookAppointment,
		Arguments: `{"patient_email":"ana@example.com","start_time":"2026-09-02T10:00:00+02:00","end_time":"2026-09-02T10:30:00+02:00"}`,
	})
	require.False(t, out.executed)
	require.Empty(t, exec.bookCalls)
}

func TestRunToolCallBusinessRejection(t *testing.T) {
	exec := &fakeExecutor{result: &executor.Result{OK: false, Error: "slot already taken"}}
	s := newToolService(exec)

	out := s.runToolCall(context.Background(), "demo-clinic", "", ToolCall{
		Name:      toolBookAppointment,
		Arguments: `{"patient_name":"Ana","patient_email":"a@b.com","start_time":"2026-09-02T10:00:00+02:00","end_time":"2026-09-02T10:30:00+02:00"}`,
	})
	require.True(t, out.executed)
	require.False(t, out.succeeded)
	require.False(t, out.booked)
	require.Contains(t, out.result, "slot already taken")
}

func TestRunToolCallModify(t *testing.T) {
	exec := &fakeExecutor{result: &executor.Result{OK: true}}
	s := newToolService(exec)

	out := s.runToolCall(context.Background(), "demo-clinic", "", ToolCall{
		Name:      toolModifyAppointment,
		Arguments: `{"patient_email":"ana@example.com","new_start_time":"2026-09-03T11:00:00+02:00","new_end_time":"2026-09-03T11:30:00+02:00"}`,
	})
	require.True(t, out.succeeded)
	require.False(t, out.booked)
	require.Len(t, exec.manageCalls, 1)
	require.Equal(t, "modify", exec.manageCalls[0].Action)
}

func TestRunToolCallModifyMissingTimes(t *testing.T) {
	exec := &fakeExecutor{}
	s := newToolService(exec)

	out := s.runToolCall(context.Background(), "demo-clinic", "", ToolCall{
		Name:      toolModifyAppointment,
		Arguments: `{"patient_email":"ana@example.com"}`,
	})
	require.False(t, out.executed)
	require.Empty(t, exec.manageCalls)
}

func TestRunToolCallCancel(t *testing.T) {
	exec := &fakeExecutor{result: &executor.Result{OK: true}}
	s := newToolService(exec)

	out := s.runToolCall(context.Background(), "demo-clinic", "", ToolCall{
		Name:      toolCancelAppointment,
		Arguments: `{"patient_whatsapp":"+34600111222"}`,
	})
	require.True(t, out.succeeded)
	require.Len(t, exec.manageCalls, 1)
	require.Equal(t, "cancel", exec.manageCalls[0].Action)
}

func TestRunToolCallCancelMissingContact(t *testing.T) {
	exec := &fakeExecutor{}
	s := newToolService(exec)

	out := s.runToolCall(context.Background(), "demo-clinic", "", ToolCall{
		Name:      toolCancelAppointment,
		Arguments: `{}`,
	})
	require.False(t, out.executed)
	require.Empty(t, exec.manageCalls)
}

func TestRunToolCallUnknownTool(t *testing.T) {
	s := newToolService(&fakeExecutor{})
	out := s.runToolCall(context.Background(), "demo-clinic", "", ToolCall{Name: "delete_clinic"})
	require.False(t, out.executed)
	require.Contains(t, out.result, "delete_clinic")
}

func TestRunToolCallMalformedArguments(t *testing.T) {
	exec := &fakeExecutor{}
	s := newToolService(exec)

	out := s.runToolCall(context.Background(), "demo-clinic", "", ToolCall{
		Name:      toolBookAppointment,
		Arguments: `not json`,
	})
	require.False(t, out.executed)
	require.Empty(t, exec.bookCalls)
}
