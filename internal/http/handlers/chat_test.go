package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/clinvoy/clinic-ai-platform/internal/availability"
	"github.com/clinvoy/clinic-ai-platform/internal/bookings"
	"github.com/clinvoy/clinic-ai-platform/internal/clinic"
	"github.com/clinvoy/clinic-ai-platform/internal/conversation"
	"github.com/clinvoy/clinic-ai-platform/internal/dialogue"
	"github.com/clinvoy/clinic-ai-platform/internal/executor"
	"github.com/clinvoy/clinic-ai-platform/internal/http/middleware"
	"github.com/clinvoy/clinic-ai-platform/internal/observability/metrics"
	"github.com/clinvoy/clinic-ai-platform/internal/usage"
)

const testSecret = "widget-secret"

type stubClient struct{ text string }

func (s stubClient) Complete(context.Context, conversation.CompletionRequest) (conversation.CompletionResponse, error) {
	return conversation.CompletionResponse{Text: s.text}, nil
}

type stubExecutor struct{}

func (stubExecutor) Book(context.Context, executor.BookRequest) (*executor.Result, error) {
	return &executor.Result{OK: true}, nil
}

func (stubExecutor) Manage(context.Context, executor.ManageRequest) (*executor.Result, error) {
	return &executor.Result{OK: true}, nil
}

type stubStore struct{ cfg *clinic.ScheduleConfig }

func (s stubStore) Get(context.Context, string) (*clinic.ScheduleConfig, error) {
	return s.cfg, nil
}

type stubBookings struct{ starts []time.Time }

func (s stubBookings) ActiveStartTimes(context.Context, string, time.Time, time.Time) ([]time.Time, error) {
	return s.starts, nil
}

func (s stubBookings) UpcomingForEmail(context.Context, string, string, time.Time) ([]bookings.Appointment, error) {
	return nil, nil
}

func (s stubBookings) PatientNameForEmail(context.Context, string, string) (string, error) {
	return "", nil
}

func handlerNow(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	return time.Date(2026, 9, 2, 8, 0, 0, 0, loc)
}

func newHandlers(t *testing.T, reply string) *Handlers {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := handlerNow(t)
	clock := func() time.Time { return now }

	cfg := clinic.DefaultConfig("demo-clinic")
	cfg.Name = "Demo Clinic"
	cfg.PlanTier = ""
	store := stubStore{cfg: cfg}
	reader := stubBookings{}
	calc := availability.New(availability.WithClock(clock))

	svc := conversation.NewService(conversation.Deps{
		Client:     stubClient{text: reply},
		Executor:   stubExecutor{},
		Clinics:    store,
		Counters:   usage.NewCounters(rdb).WithClock(clock),
		Bookings:   reader,
		Calculator: calc,
		Metrics:    metrics.NewEngineMetrics(prometheus.NewRegistry()),
	}, conversation.DefaultSettings()).WithClock(clock)

	machine := dialogue.NewMachine(calc, reader, stubExecutor{}, nil).WithClock(clock)

	h := New(svc, machine, store, reader, calc, testSecret, nil)
	h.now = clock
	return h
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestChatHappyPath(t *testing.T) {
	h := newHandlers(t, "Hello from the clinic!")

	rec := postJSON(t, h.Chat, chatRequest{
		Messages:   []wireMessage{{Role: "user", Content: "Hi"}},
		ClinicSlug: "demo-clinic",
		Sig:        middleware.Sign(testSecret, "demo-clinic"),
		SessionID:  "sess-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Hello from the clinic!", resp.Message)
	require.Len(t, resp.History, 2)
}

func TestChatRejectsBadSignature(t *testing.T) {
	h := newHandlers(t, "unused")

	rec := postJSON(t, h.Chat, chatRequest{
		Messages:   []wireMessage{{Role: "user", Content: "Hi"}},
		ClinicSlug: "demo-clinic",
		Sig:        "forged",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "error")
}

func TestChatRequiresUserLastMessage(t *testing.T) {
	h := newHandlers(t, "unused")
	sig := middleware.Sign(testSecret, "demo-clinic")

	rec := postJSON(t, h.Chat, chatRequest{
		Messages:   []wireMessage{{Role: "assistant", Content: "Hi"}},
		ClinicSlug: "demo-clinic",
		Sig:        sig,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h.Chat, chatRequest{ClinicSlug: "demo-clinic", Sig: sig})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuidedChatGreeting(t *testing.T) {
	h := newHandlers(t, "unused")

	rec := postJSON(t, h.GuidedChat, guidedRequest{
		ClinicSlug: "demo-clinic",
		Sig:        middleware.Sign(testSecret, "demo-clinic"),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp guidedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, dialogue.PhaseGreeting, resp.State.Phase)
	require.Len(t, resp.SuggestedSlots, 4)
}

func TestGuidedChatBookStep(t *testing.T) {
	h := newHandlers(t, "unused")

	rec := postJSON(t, h.GuidedChat, guidedRequest{
		ClinicSlug: "demo-clinic",
		Sig:        middleware.Sign(testSecret, "demo-clinic"),
		State:      dialogue.NewState(),
		Chip:       "book",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp guidedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, dialogue.PhaseBookingReason, resp.State.Phase)
	require.NotEmpty(t, resp.SuggestedSlots)
}

func TestSlotsForDate(t *testing.T) {
	h := newHandlers(t, "unused")

	rec := postJSON(t, h.Slots, slotsRequest{
		ClinicSlug: "demo-clinic",
		Sig:        middleware.Sign(testSecret, "demo-clinic"),
		Date:       "2026-09-02",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Slots []slotEntry `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// Wednesday 09:00-17:00 on the default schedule: 16 half-hour slots.
	require.Len(t, resp.Slots, 16)
	require.Equal(t, "09:00", resp.Slots[0].Label)
}

func TestSlotsWorkingDays(t *testing.T) {
	h := newHandlers(t, "unused")

	rec := postJSON(t, h.Slots, slotsRequest{
		ClinicSlug: "demo-clinic",
		Sig:        middleware.Sign(testSecret, "demo-clinic"),
		Days:       3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		WorkingDays []dayEntry `json:"workingDays"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.WorkingDays, 3)
	require.Equal(t, "2026-09-02", resp.WorkingDays[0].DateStr)
	require.Equal(t, "Today", resp.WorkingDays[0].Label)
}

func TestSlotsInvalidDate(t *testing.T) {
	h := newHandlers(t, "unused")

	rec := postJSON(t, h.Slots, slotsRequest{
		ClinicSlug: "demo-clinic",
		Sig:        middleware.Sign(testSecret, "demo-clinic"),
		Date:       "not-a-date",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
